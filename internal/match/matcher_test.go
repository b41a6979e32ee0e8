package match_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"jobscout/match-service/internal/coordinator"
	"jobscout/match-service/internal/embedding"
	"jobscout/match-service/internal/match"
	"jobscout/match-service/internal/model"
	"jobscout/match-service/internal/store"
)

// scriptedEmbedder maps text substrings to fixed vectors. Texts containing
// failOn return an error; batch calls fail wholesale when any text matches,
// forcing the per-job fallback path.
type scriptedEmbedder struct {
	vecs   map[string][]float32
	failOn string
}

func (e *scriptedEmbedder) vectorFor(text string) ([]float32, error) {
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("embedder rejected text")
	}
	for key, vec := range e.vecs {
		if strings.Contains(text, key) {
			v := make([]float32, len(vec))
			copy(v, vec)
			return v, nil
		}
	}
	return []float32{1, 0}, nil
}

func (e *scriptedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vectorFor(text)
}

func (e *scriptedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.vectorFor(text)
		if err != nil {
			return nil, fmt.Errorf("batch failed on text %d", i)
		}
		out[i] = vec
	}
	return out, nil
}

type fakeSource struct {
	calls int32
	jobs  []model.Job
	err   error
}

func (f *fakeSource) Fetch(_ context.Context, _ model.SearchCriteria) ([]model.Job, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.jobs, f.err
}

func newTestMatcher(t *testing.T, source coordinator.Source, embedder embedding.Embedder) (*match.Matcher, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "match.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	embStore := embedding.NewStore(st, embedder, 2, zap.NewNop())
	coord := coordinator.New(st, embStore, source, time.Hour, 5*time.Second, zap.NewNop())
	return match.New(coord, embStore, 10, zap.NewNop()), st
}

func fiveJobs() []model.Job {
	return []model.Job{
		{ID: "go-dev", Title: "Go Developer", Company: "Acme"},
		{ID: "data", Title: "Data Analyst", Company: "Acme"},
		{ID: "full", Title: "Fullstack Engineer", Company: "Acme"},
		{ID: "go-senior", Title: "Go Developer Senior", Company: "Initech"},
		{ID: "ops", Title: "Platform Operator", Company: "Initech"},
	}
}

var profile = model.CandidateProfile{
	Skills:          []string{"Python", "SQL"},
	ExperienceLevel: "mid",
}

// ── Match — happy path and cache reuse ─────────────────────────────────────

func TestMatch_RanksAndCachesAcrossRequests(t *testing.T) {
	embedder := &scriptedEmbedder{vecs: map[string][]float32{
		"Data Analyst": {0, 1},
		"Fullstack":    {0.7071, 0.7071},
	}}
	source := &fakeSource{jobs: fiveJobs()}
	matcher, st := newTestMatcher(t, source, embedder)

	recs, err := matcher.Match(context.Background(), profile, 0)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(recs) == 0 || len(recs) > 5 {
		t.Fatalf("Match returned %d recommendations, want 1..5", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Score > recs[i-1].Score {
			t.Errorf("results not sorted: score[%d]=%f > score[%d]=%f",
				i, recs[i].Score, i-1, recs[i-1].Score)
		}
	}
	if recs[len(recs)-1].Job.ID != "data" {
		t.Errorf("orthogonal job %q should rank last, got %q", "data", recs[len(recs)-1].Job.ID)
	}

	// Second identical request inside the TTL: no second external fetch,
	// hit counter incremented.
	again, err := matcher.Match(context.Background(), profile, 0)
	if err != nil {
		t.Fatalf("second Match: %v", err)
	}
	if len(again) != len(recs) {
		t.Errorf("second Match returned %d results, want %d", len(again), len(recs))
	}
	if got := atomic.LoadInt32(&source.calls); got != 1 {
		t.Errorf("source fetched %d times across two identical requests, want 1", got)
	}

	queries, err := st.ListQueries(context.Background())
	if err != nil {
		t.Fatalf("ListQueries: %v", err)
	}
	if len(queries) != 1 {
		t.Fatalf("want one query record, got %d", len(queries))
	}
	if queries[0].HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", queries[0].HitCount)
	}
}

func TestMatch_KCapsResults(t *testing.T) {
	matcher, _ := newTestMatcher(t, &fakeSource{jobs: fiveJobs()}, &scriptedEmbedder{})

	recs, err := matcher.Match(context.Background(), profile, 2)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("Match(k=2) returned %d results, want 2", len(recs))
	}
}

// ── Match — failure semantics ──────────────────────────────────────────────

func TestMatch_SourceUnavailableIsRetryableAndUncached(t *testing.T) {
	source := &fakeSource{err: errors.New("rate limited")}
	matcher, st := newTestMatcher(t, source, &scriptedEmbedder{})

	_, err := matcher.Match(context.Background(), profile, 0)
	if !errors.Is(err, coordinator.ErrSourceUnavailable) {
		t.Fatalf("Match error = %v, want ErrSourceUnavailable", err)
	}

	queries, err := st.ListQueries(context.Background())
	if err != nil {
		t.Fatalf("ListQueries: %v", err)
	}
	if len(queries) != 0 {
		t.Errorf("failed fetch created %d query records, want 0", len(queries))
	}
}

func TestMatch_QueryEmbeddingFailureFailsWholeMatch(t *testing.T) {
	// The synthesized candidate text starts with the skill list, so failing
	// on "Skills:" hits only the query embedding.
	embedder := &scriptedEmbedder{failOn: "Skills:"}
	source := &fakeSource{jobs: fiveJobs()}
	matcher, _ := newTestMatcher(t, source, embedder)

	_, err := matcher.Match(context.Background(), profile, 0)
	if !errors.Is(err, match.ErrEmbeddingUnavailable) {
		t.Fatalf("Match error = %v, want ErrEmbeddingUnavailable", err)
	}
	if got := atomic.LoadInt32(&source.calls); got != 0 {
		t.Errorf("source fetched %d times for an unembeddable candidate, want 0", got)
	}
}

func TestMatch_PerJobEmbeddingFailureIsIsolated(t *testing.T) {
	embedder := &scriptedEmbedder{failOn: "Data Analyst"}
	matcher, _ := newTestMatcher(t, &fakeSource{jobs: fiveJobs()}, embedder)

	recs, err := matcher.Match(context.Background(), profile, 0)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("Match returned %d results, want 4 (one job unembeddable)", len(recs))
	}
	for _, r := range recs {
		if r.Job.ID == "data" {
			t.Error("job with failed embedding must be excluded from ranking")
		}
	}
}

// ── Match — red-flag exclusions ────────────────────────────────────────────

func TestMatch_RedFlagsDropPostings(t *testing.T) {
	flagged := profile
	// Mixed case and stray whitespace; matches must still be found in any of
	// title, company or description.
	flagged.RedFlags = []string{"  INITECH ", "data analyst", "   "}
	matcher, _ := newTestMatcher(t, &fakeSource{jobs: fiveJobs()}, &scriptedEmbedder{})

	recs, err := matcher.Match(context.Background(), flagged, 0)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	for _, r := range recs {
		if r.Job.Company == "Initech" {
			t.Errorf("red-flagged company %q leaked into results", r.Job.Company)
		}
		if r.Job.ID == "data" {
			t.Error("red-flagged title leaked into results")
		}
	}
	if len(recs) != 2 {
		t.Errorf("Match returned %d results, want 2 after red-flag filter", len(recs))
	}
}
