// Package coordinator stitches the cache and the external job source
// together. Its core guarantee is single-flight: N concurrent requests for
// the same cold fingerprint trigger exactly one external fetch.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jobscout/match-service/internal/embedding"
	"jobscout/match-service/internal/model"
	"jobscout/match-service/internal/store"
)

// ErrSourceUnavailable marks a failed or timed-out external fetch on a cache
// miss. Recoverable: the caller may retry later. A transient outage is never
// cached, so it cannot poison the TTL window.
var ErrSourceUnavailable = errors.New("job source unavailable")

// Source is the port to the external job-listing provider.
type Source interface {
	Fetch(ctx context.Context, criteria model.SearchCriteria) ([]model.Job, error)
}

// Coordinator deduplicates concurrent fetches per fingerprint and implements
// the fetch-or-reuse cycle: ABSENT → FETCHING → CACHED → EXPIRED → FETCHING.
type Coordinator struct {
	store      store.Store
	embeddings *embedding.Store
	source     Source

	locks        *lockTable
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// New constructs a Coordinator.
func New(st store.Store, embs *embedding.Store, source Source, ttl, fetchTimeout time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:        st,
		embeddings:   embs,
		source:       source,
		locks:        newLockTable(),
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		logger:       logger.Named("coordinator"),
		now:          time.Now,
	}
}

// Resolve returns the cached jobs for the fingerprint, fetching from the
// external source first when the cache misses or has expired.
//
// The original (non-canonical) criteria go to the source: providers rank
// free text better than our canonical form. The fingerprint-scoped lock is
// held across the fetch, but only colliding fingerprints serialize.
func (c *Coordinator) Resolve(ctx context.Context, fingerprint string, criteria model.SearchCriteria) ([]model.Job, error) {
	rec, jobs, err := c.store.Lookup(ctx, fingerprint, c.now())
	if err != nil {
		return nil, err
	}
	if rec != nil {
		c.recordHit(ctx, fingerprint)
		return jobs, nil
	}

	release := c.locks.acquire(fingerprint)
	defer release()

	// Another caller may have populated the cache while we waited.
	rec, jobs, err = c.store.Lookup(ctx, fingerprint, c.now())
	if err != nil {
		return nil, err
	}
	if rec != nil {
		c.recordHit(ctx, fingerprint)
		return jobs, nil
	}

	return c.fetchAndCache(ctx, fingerprint, criteria)
}

func (c *Coordinator) fetchAndCache(ctx context.Context, fingerprint string, criteria model.SearchCriteria) ([]model.Job, error) {
	// Detach from the caller: if the originating request is cancelled, the
	// in-flight fetch still completes and populates the cache for waiters.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	start := c.now()
	jobs, err := c.source.Fetch(fetchCtx, criteria)
	if err != nil {
		// Do not cache the failure; the next caller retries the source.
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	c.logger.Info("fetched from source",
		zap.String("fingerprint", fingerprint),
		zap.Int("jobs", len(jobs)),
		zap.Duration("took", c.now().Sub(start)))

	embs := c.embeddings.ComputeBatch(fetchCtx, jobs)

	if _, err := c.store.ReplaceQueryJobs(fetchCtx, store.ReplaceParams{
		Fingerprint: fingerprint,
		Criteria:    criteria,
		Jobs:        jobs,
		Embeddings:  embs,
		FetchedAt:   start,
		TTL:         c.ttl,
	}); err != nil {
		// Best-effort caching: a cache write failure never fails the
		// user-facing request.
		c.logger.Warn("cache write failed, serving uncached",
			zap.String("fingerprint", fingerprint), zap.Error(err))
	}

	return jobs, nil
}

func (c *Coordinator) recordHit(ctx context.Context, fingerprint string) {
	if err := c.store.TouchHit(ctx, fingerprint, c.now()); err != nil {
		c.logger.Warn("hit counter update failed",
			zap.String("fingerprint", fingerprint), zap.Error(err))
	}
}

// Locked reports whether a fetch for the fingerprint is in flight. The
// eviction sweeper consults this before purging.
func (c *Coordinator) Locked(fingerprint string) bool {
	return c.locks.locked(fingerprint)
}
