// Package ranking orders job candidates by similarity to a query vector.
// Pure and stateless: freely callable without locking.
package ranking

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDimensionMismatch is a programming-contract violation: query and
// candidate vectors must share one fixed dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Candidate pairs a job id with its stored unit-norm vector.
type Candidate struct {
	JobID  string
	Vector []float32
}

// Scored is one ranked result. Score is cosine similarity in [-1, 1].
type Scored struct {
	JobID string
	Score float64
}

// Rank scores every candidate against the query vector and returns the top
// k, highest score first, ties broken by job id ascending for determinism.
// Vectors are assumed unit-normalised, so the dot product is the cosine
// similarity. An empty candidate list yields an empty result; k larger than
// the candidate count returns everything, no padding.
func Rank(query []float32, candidates []Candidate, k int) ([]Scored, error) {
	if len(candidates) == 0 || k <= 0 {
		return []Scored{}, nil
	}

	// Validate every dimension before computing anything.
	for _, c := range candidates {
		if len(c.Vector) != len(query) {
			return nil, fmt.Errorf("%w: query has %d dims, candidate %s has %d",
				ErrDimensionMismatch, len(query), c.JobID, len(c.Vector))
		}
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{JobID: c.JobID, Score: dot(query, c.Vector)}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].JobID < scored[j].JobID
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
