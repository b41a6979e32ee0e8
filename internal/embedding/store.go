package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"jobscout/match-service/internal/model"
	"jobscout/match-service/internal/store"
)

// Descriptions are truncated before embedding; beyond this the tail is
// boilerplate that only dilutes the vector.
const maxDescriptionLen = 2000

// Store computes and serves per-job vectors on top of the persistence layer.
// Vectors are stored pre-normalised (unit L2), so ranking is a dot product.
type Store struct {
	db       store.Store
	embedder Embedder
	dim      int
	logger   *zap.Logger
}

// NewStore wires the embedding port to the persistence backend. dim is the
// fixed system-wide vector dimension; vectors of any other length are
// rejected at write time.
func NewStore(db store.Store, embedder Embedder, dim int, logger *zap.Logger) *Store {
	return &Store{db: db, embedder: embedder, dim: dim, logger: logger.Named("embeddings")}
}

// ComputeBatch embeds one vector per job. A provider failure for the whole
// batch degrades to per-job calls; jobs that still fail (or come back with
// the wrong dimension) are logged and omitted — they will be stored without
// an embedding and excluded from ranking.
func (s *Store) ComputeBatch(ctx context.Context, jobs []model.Job) []model.JobEmbedding {
	if len(jobs) == 0 {
		return nil
	}

	texts := make([]string, len(jobs))
	for i, j := range jobs {
		texts[i] = EmbeddingText(j)
	}

	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts))
	}
	if err != nil {
		s.logger.Warn("batch embed failed, retrying per job", zap.Error(err))
		vecs = make([][]float32, len(texts))
		for i, text := range texts {
			vec, err := s.embedder.Embed(ctx, text)
			if err != nil {
				s.logger.Warn("job embed failed, excluded from ranking",
					zap.String("job_id", jobs[i].ID), zap.Error(err))
				continue
			}
			vecs[i] = vec
		}
	}

	embs := make([]model.JobEmbedding, 0, len(jobs))
	for i, vec := range vecs {
		if vec == nil {
			continue
		}
		if s.dim > 0 && len(vec) != s.dim {
			s.logger.Warn("job embed has wrong dimension, excluded from ranking",
				zap.String("job_id", jobs[i].ID),
				zap.Int("got", len(vec)), zap.Int("want", s.dim))
			continue
		}
		embs = append(embs, model.JobEmbedding{
			JobID:        jobs[i].ID,
			Vector:       Serialize(NormalizeL2(vec)),
			SourceDigest: digest(texts[i]),
		})
	}
	return embs
}

// QueryVector embeds the candidate's representative text. Unlike per-job
// failures this one is fatal to the match call: an unembeddable candidate
// cannot be ranked at all.
func (s *Store) QueryVector(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return NormalizeL2(vec), nil
}

// Vectors loads the stored vectors for the given job ids. Jobs without a
// vector are absent from the map.
func (s *Store) Vectors(ctx context.Context, jobIDs []string) (map[string][]float32, error) {
	embs, err := s.db.GetEmbeddings(ctx, jobIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]float32, len(embs))
	for _, e := range embs {
		if vec := Deserialize(e.Vector); vec != nil {
			out[e.JobID] = vec
		}
	}
	return out, nil
}

// EmbeddingText builds the representative text for one job posting.
func EmbeddingText(j model.Job) string {
	desc := j.Description
	if len(desc) > maxDescriptionLen {
		desc = desc[:maxDescriptionLen]
	}

	parts := make([]string, 0, 5)
	for _, p := range []string{j.Title, j.Company, j.Location, j.Requirements, desc} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ". ")
}

func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
