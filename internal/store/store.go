// Package store persists cached job postings, their owning query records and
// their embeddings. Two backends implement the same contract: an embedded
// SQLite database and PostgreSQL.
//
// Contract highlights:
//   - Lookup treats an expired record as absent even before it is swept.
//   - ReplaceQueryJobs atomically supersedes the whole fingerprint bucket
//     (jobs and embeddings) in one transaction; readers never observe a
//     half-replaced set.
//   - Deleting a query record cascades to its jobs and their embeddings.
package store

import (
	"context"
	"fmt"
	"time"

	"jobscout/match-service/internal/model"
)

// ReplaceParams carries everything needed to (re)populate one fingerprint
// bucket. Embeddings may cover only a subset of Jobs — jobs whose embedding
// failed are stored without one and excluded from ranking later.
type ReplaceParams struct {
	Fingerprint string
	Criteria    model.SearchCriteria
	Jobs        []model.Job
	Embeddings  []model.JobEmbedding
	FetchedAt   time.Time
	TTL         time.Duration
}

// Store is the persistence contract shared by both backends.
type Store interface {
	// Lookup returns the query record and its jobs, or (nil, nil, nil) when
	// the fingerprint is unknown or already expired at `now`.
	Lookup(ctx context.Context, fingerprint string, now time.Time) (*model.QueryRecord, []model.Job, error)

	// ReplaceQueryJobs creates or refreshes the query record and replaces its
	// job set and embeddings in a single transaction. Existing hit counts and
	// first-fetch timestamps survive a refresh.
	ReplaceQueryJobs(ctx context.Context, p ReplaceParams) (*model.QueryRecord, error)

	// TouchHit increments the record's hit counter and stamps the read time.
	// It never extends the record's lifetime.
	TouchHit(ctx context.Context, fingerprint string, now time.Time) error

	// PurgeExpired deletes every query record past expiry (cascading to jobs
	// and embeddings) and reports how many records were removed. Fingerprints
	// for which skip returns true are left for the next sweep cycle.
	PurgeExpired(ctx context.Context, now time.Time, skip func(fingerprint string) bool) (int, error)

	// GetEmbeddings returns the stored vectors for the given job ids. Jobs
	// without a stored vector are simply absent from the result.
	GetEmbeddings(ctx context.Context, jobIDs []string) ([]model.JobEmbedding, error)

	// ListQueries returns all query records, most recently read first.
	ListQueries(ctx context.Context) ([]model.QueryRecord, error)

	Close() error
}

// StorageError wraps backend I/O failures so callers can recognise cache
// trouble as a class without inspecting driver-specific errors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
