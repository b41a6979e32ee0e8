package embedding_test

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"jobscout/match-service/internal/embedding"
	"jobscout/match-service/internal/model"
	"jobscout/match-service/internal/store"
)

// miscountingEmbedder violates the one-vector-per-text contract on batch
// calls but behaves on single calls.
type miscountingEmbedder struct {
	extra int // vectors returned beyond len(texts); negative for fewer
}

func (m *miscountingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (m *miscountingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts)+m.extra)
	for i := 0; i < len(texts)+m.extra; i++ {
		out = append(out, []float32{1, 0})
	}
	return out, nil
}

func newEmbeddingStore(t *testing.T, embedder embedding.Embedder) *embedding.Store {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "emb.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return embedding.NewStore(st, embedder, 2, zap.NewNop())
}

func TestComputeBatch_VectorCountMismatchFallsBackPerJob(t *testing.T) {
	jobs := []model.Job{
		{ID: "a", Title: "Go Developer", Company: "Acme"},
		{ID: "b", Title: "Data Analyst", Company: "Acme"},
	}

	for _, extra := range []int{2, -1} {
		s := newEmbeddingStore(t, &miscountingEmbedder{extra: extra})

		embs := s.ComputeBatch(context.Background(), jobs)
		if len(embs) != len(jobs) {
			t.Errorf("extra=%d: got %d embeddings, want %d", extra, len(embs), len(jobs))
		}
		for i, e := range embs {
			if e.JobID != jobs[i].ID {
				t.Errorf("extra=%d: embedding %d for job %q, want %q", extra, i, e.JobID, jobs[i].ID)
			}
		}
	}
}
