package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"jobscout/match-service/internal/coordinator"
	"jobscout/match-service/internal/embedding"
	"jobscout/match-service/internal/model"
	"jobscout/match-service/internal/store"
)

// fakeSource counts fetches and serves a fixed result (or error).
type fakeSource struct {
	calls int32
	jobs  []model.Job
	err   error
	delay time.Duration
}

func (f *fakeSource) Fetch(ctx context.Context, _ model.SearchCriteria) ([]model.Job, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.jobs, f.err
}

// fakeEmbedder returns a fixed unit vector for every text.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func newTestCoordinator(t *testing.T, source coordinator.Source, ttl time.Duration) (*coordinator.Coordinator, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "coord.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	embs := embedding.NewStore(st, fakeEmbedder{}, 2, zap.NewNop())
	return coordinator.New(st, embs, source, ttl, 5*time.Second, zap.NewNop()), st
}

func someJobs(n int) []model.Job {
	jobs := make([]model.Job, n)
	for i := range jobs {
		jobs[i] = model.Job{ID: fmt.Sprintf("job-%d", i), Title: "Engineer", Company: "Acme"}
	}
	return jobs
}

// ── Resolve — single-flight ────────────────────────────────────────────────

func TestResolve_SingleFlightUnderConcurrency(t *testing.T) {
	source := &fakeSource{jobs: someJobs(5), delay: 50 * time.Millisecond}
	coord, _ := newTestCoordinator(t, source, time.Hour)

	criteria := model.SearchCriteria{Skills: []string{"go"}}
	const n = 16

	var wg sync.WaitGroup
	errs := make([]error, n)
	counts := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobs, err := coord.Resolve(context.Background(), "cold-fp", criteria)
			errs[i] = err
			counts[i] = len(jobs)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d: unexpected error %v", i, errs[i])
		}
		if counts[i] != 5 {
			t.Errorf("caller %d: got %d jobs, want 5", i, counts[i])
		}
	}
	if got := atomic.LoadInt32(&source.calls); got != 1 {
		t.Errorf("source fetched %d times under concurrency, want exactly 1", got)
	}
}

// ── Resolve — cache hits ───────────────────────────────────────────────────

func TestResolve_SecondCallServedFromCache(t *testing.T) {
	source := &fakeSource{jobs: someJobs(3)}
	coord, st := newTestCoordinator(t, source, time.Hour)
	criteria := model.SearchCriteria{Skills: []string{"python"}}

	if _, err := coord.Resolve(context.Background(), "fp", criteria); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	jobs, err := coord.Resolve(context.Background(), "fp", criteria)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("second Resolve returned %d jobs, want 3", len(jobs))
	}
	if got := atomic.LoadInt32(&source.calls); got != 1 {
		t.Errorf("source fetched %d times, want 1 (second call is a hit)", got)
	}

	rec, _, err := st.Lookup(context.Background(), "fp", time.Now())
	if err != nil || rec == nil {
		t.Fatalf("Lookup after hit: rec=%v err=%v", rec, err)
	}
	if rec.HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", rec.HitCount)
	}
}

func TestResolve_ExpiredTriggersRefetch(t *testing.T) {
	source := &fakeSource{jobs: someJobs(2)}
	coord, _ := newTestCoordinator(t, source, time.Millisecond)
	criteria := model.SearchCriteria{Skills: []string{"sql"}}

	if _, err := coord.Resolve(context.Background(), "fp", criteria); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := coord.Resolve(context.Background(), "fp", criteria); err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if got := atomic.LoadInt32(&source.calls); got != 2 {
		t.Errorf("source fetched %d times, want 2 (expired entry is a miss)", got)
	}
}

// ── Resolve — failure paths ────────────────────────────────────────────────

func TestResolve_SourceFailureIsNotCached(t *testing.T) {
	source := &fakeSource{err: errors.New("upstream 500")}
	coord, st := newTestCoordinator(t, source, time.Hour)

	_, err := coord.Resolve(context.Background(), "fp", model.SearchCriteria{Skills: []string{"go"}})
	if !errors.Is(err, coordinator.ErrSourceUnavailable) {
		t.Fatalf("Resolve error = %v, want ErrSourceUnavailable", err)
	}

	// The outage must not poison the cache: no record was created.
	recs, err := st.ListQueries(context.Background())
	if err != nil {
		t.Fatalf("ListQueries: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("failed fetch left %d query records, want 0", len(recs))
	}

	// A later call retries the source.
	source.err = nil
	source.jobs = someJobs(1)
	if _, err := coord.Resolve(context.Background(), "fp", model.SearchCriteria{Skills: []string{"go"}}); err != nil {
		t.Fatalf("Resolve after recovery: %v", err)
	}
	if got := atomic.LoadInt32(&source.calls); got != 2 {
		t.Errorf("source fetched %d times, want 2", got)
	}
}

func TestResolve_CancelledCallerStillPopulatesCache(t *testing.T) {
	source := &fakeSource{jobs: someJobs(2), delay: 30 * time.Millisecond}
	coord, st := newTestCoordinator(t, source, time.Hour)
	criteria := model.SearchCriteria{Skills: []string{"go"}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	// The originating caller gives up mid-fetch, but the detached fetch
	// completes and the cache is populated for everyone else.
	_, _ = coord.Resolve(ctx, "fp", criteria)
	time.Sleep(60 * time.Millisecond)

	rec, jobs, err := st.Lookup(context.Background(), "fp", time.Now())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec == nil || len(jobs) != 2 {
		t.Errorf("cancelled caller abandoned the fetch: rec=%v jobs=%d", rec, len(jobs))
	}
	if got := atomic.LoadInt32(&source.calls); got != 1 {
		t.Errorf("source fetched %d times, want 1", got)
	}
}
