// Package sweeper wires up the cron job that periodically purges expired
// cache entries and orphaned embeddings.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobscout/match-service/internal/store"
)

// Sweeper wraps robfig/cron and drives the eviction cycle. Failures are
// logged and retried on the next tick; the serving path never sees them.
type Sweeper struct {
	cron   *cron.Cron
	store  store.Store
	locked func(fingerprint string) bool
	spec   string
	logger *zap.Logger
}

// New creates a Sweeper firing on the given cron spec. locked reports
// whether a fetch currently owns a fingerprint; such fingerprints are
// skipped for the cycle and picked up next time.
func New(st store.Store, locked func(string) bool, spec string, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cron:   cron.New(),
		store:  st,
		locked: locked,
		spec:   spec,
		logger: logger.Named("sweeper"),
	}
}

// Start registers the job and starts the scheduler. Also runs one sweep
// immediately so a restart does not wait a full interval to reclaim space.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("sweeper started", zap.String("spec", s.spec))

	go s.runSweep(ctx)

	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) runSweep(ctx context.Context) {
	purged, err := s.Sweep(ctx, time.Now())
	if err != nil {
		s.logger.Warn("sweep failed, retrying next tick", zap.Error(err))
		return
	}
	if purged > 0 {
		s.logger.Info("sweep complete", zap.Int("purged", purged))
	}
}

// Sweep runs one eviction cycle at the given instant. Idempotent and safe
// to run concurrently with request handling.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	return s.store.PurgeExpired(ctx, now, s.locked)
}
