package sweeper_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"jobscout/match-service/internal/model"
	"jobscout/match-service/internal/store"
	"jobscout/match-service/internal/sweeper"
)

func seedQuery(t *testing.T, st store.Store, fp string, fetchedAt time.Time, ttl time.Duration) {
	t.Helper()
	_, err := st.ReplaceQueryJobs(context.Background(), store.ReplaceParams{
		Fingerprint: fp,
		Jobs:        []model.Job{{ID: fp + "-job", Title: "Engineer", Company: "Acme"}},
		FetchedAt:   fetchedAt,
		TTL:         ttl,
	})
	if err != nil {
		t.Fatalf("ReplaceQueryJobs(%s): %v", fp, err)
	}
}

func TestSweep_PurgesOnlyExpired(t *testing.T) {
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := time.Now()
	ttl := time.Hour
	seedQuery(t, st, "stale", now.Add(-2*ttl), ttl)
	seedQuery(t, st, "fresh", now, ttl)

	noneLocked := func(string) bool { return false }
	sw := sweeper.New(st, noneLocked, "0 2 * * *", zap.NewNop())

	purged, err := sw.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if rec, _, _ := st.Lookup(context.Background(), "fresh", now); rec == nil {
		t.Error("sweep removed an unexpired entry")
	}
}

func TestSweep_DefersLockedFingerprints(t *testing.T) {
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := time.Now()
	ttl := time.Hour
	seedQuery(t, st, "inflight", now.Add(-2*ttl), ttl)

	held := true
	sw := sweeper.New(st, func(fp string) bool { return held && fp == "inflight" }, "0 2 * * *", zap.NewNop())

	purged, err := sw.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if purged != 0 {
		t.Errorf("purged = %d, want 0 while the fingerprint is held", purged)
	}

	held = false
	purged, err = sw.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if purged != 1 {
		t.Errorf("second Sweep purged = %d, want 1 after release", purged)
	}
}

func TestStart_RejectsBadCronSpec(t *testing.T) {
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sw := sweeper.New(st, func(string) bool { return false }, "not a cron spec", zap.NewNop())
	if err := sw.Start(context.Background()); err == nil {
		sw.Stop()
		t.Fatal("Start accepted an invalid cron spec")
	}
}
