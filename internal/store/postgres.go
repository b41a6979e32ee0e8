package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobscout/match-service/internal/model"
)

// Postgres is the server-backed store. The schema mirrors the SQLite backend
// with JSONB payloads and native cascading deletes.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the given DSN, verifies connectivity and ensures
// the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, storageErr("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("ping", err)
	}

	p := &Postgres{pool: pool}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, storageErr("init schema", err)
	}
	return p, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS search_queries (
		fingerprint      TEXT PRIMARY KEY,
		criteria         JSONB NOT NULL,
		hit_count        INTEGER NOT NULL DEFAULT 0,
		first_fetched_at TIMESTAMPTZ NOT NULL,
		last_fetched_at  TIMESTAMPTZ NOT NULL,
		expires_at       TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queries_expires ON search_queries(expires_at);

	CREATE TABLE IF NOT EXISTS cached_jobs (
		job_id             TEXT PRIMARY KEY,
		title              TEXT NOT NULL,
		company            TEXT NOT NULL,
		location           TEXT,
		description        TEXT,
		requirements       TEXT,
		employment_type    TEXT,
		experience_level   TEXT,
		url                TEXT,
		salary_min         DOUBLE PRECISION,
		salary_max         DOUBLE PRECISION,
		owning_fingerprint TEXT NOT NULL REFERENCES search_queries(fingerprint) ON DELETE CASCADE,
		raw_payload        JSONB,
		fetched_at         TIMESTAMPTZ NOT NULL,
		expires_at         TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner ON cached_jobs(owning_fingerprint);

	CREATE TABLE IF NOT EXISTS job_embeddings (
		job_id        TEXT PRIMARY KEY REFERENCES cached_jobs(job_id) ON DELETE CASCADE,
		vector        BYTEA NOT NULL,
		source_digest TEXT NOT NULL
	);
	`
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) Lookup(ctx context.Context, fingerprint string, now time.Time) (*model.QueryRecord, []model.Job, error) {
	rec := &model.QueryRecord{Fingerprint: fingerprint}
	var criteriaJSON []byte

	err := p.pool.QueryRow(ctx,
		`SELECT criteria, hit_count, first_fetched_at, last_fetched_at, expires_at
		 FROM search_queries
		 WHERE fingerprint = $1 AND expires_at > $2`,
		fingerprint, now,
	).Scan(&criteriaJSON, &rec.HitCount, &rec.FirstFetchedAt, &rec.LastFetchedAt, &rec.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, storageErr("lookup query record", err)
	}
	if err := json.Unmarshal(criteriaJSON, &rec.Criteria); err != nil {
		return nil, nil, storageErr("decode criteria", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT job_id, title, company, location, description, requirements,
		        employment_type, experience_level, url, salary_min, salary_max, raw_payload
		 FROM cached_jobs WHERE owning_fingerprint = $1`, fingerprint)
	if err != nil {
		return nil, nil, storageErr("lookup jobs", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var (
			j                    model.Job
			loc, desc, req       *string
			empType, expLvl, url *string
			raw                  []byte
		)
		if err := rows.Scan(&j.ID, &j.Title, &j.Company, &loc, &desc, &req,
			&empType, &expLvl, &url, &j.SalaryMin, &j.SalaryMax, &raw); err != nil {
			return nil, nil, storageErr("scan job", err)
		}
		j.Location = deref(loc)
		j.Description = deref(desc)
		j.Requirements = deref(req)
		j.EmploymentType = deref(empType)
		j.ExperienceLevel = deref(expLvl)
		j.URL = deref(url)
		if len(raw) > 0 {
			j.RawPayload = json.RawMessage(raw)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storageErr("scan jobs", err)
	}
	return rec, jobs, nil
}

func (p *Postgres) ReplaceQueryJobs(ctx context.Context, params ReplaceParams) (*model.QueryRecord, error) {
	criteriaJSON, err := json.Marshal(params.Criteria)
	if err != nil {
		return nil, storageErr("encode criteria", err)
	}
	expiresAt := params.FetchedAt.Add(params.TTL)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin replace", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO search_queries (fingerprint, criteria, hit_count, first_fetched_at, last_fetched_at, expires_at)
		 VALUES ($1, $2, 0, $3, $3, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET
			criteria        = excluded.criteria,
			last_fetched_at = excluded.last_fetched_at,
			expires_at      = excluded.expires_at`,
		params.Fingerprint, criteriaJSON, params.FetchedAt, expiresAt,
	); err != nil {
		return nil, storageErr("upsert query record", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM cached_jobs WHERE owning_fingerprint = $1`, params.Fingerprint,
	); err != nil {
		return nil, storageErr("delete superseded jobs", err)
	}

	for _, j := range params.Jobs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO cached_jobs (job_id, title, company, location, description, requirements,
			                          employment_type, experience_level, url, salary_min, salary_max,
			                          owning_fingerprint, raw_payload, fetched_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 ON CONFLICT (job_id) DO UPDATE SET
				title              = excluded.title,
				company            = excluded.company,
				location           = excluded.location,
				description        = excluded.description,
				requirements       = excluded.requirements,
				employment_type    = excluded.employment_type,
				experience_level   = excluded.experience_level,
				url                = excluded.url,
				salary_min         = excluded.salary_min,
				salary_max         = excluded.salary_max,
				owning_fingerprint = excluded.owning_fingerprint,
				raw_payload        = excluded.raw_payload,
				fetched_at         = excluded.fetched_at,
				expires_at         = excluded.expires_at`,
			j.ID, j.Title, j.Company, j.Location, j.Description, j.Requirements,
			j.EmploymentType, j.ExperienceLevel, j.URL, j.SalaryMin, j.SalaryMax,
			params.Fingerprint, rawOrNil(j.RawPayload), params.FetchedAt, expiresAt,
		); err != nil {
			return nil, storageErr(fmt.Sprintf("insert job %s", j.ID), err)
		}
	}

	for _, e := range params.Embeddings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO job_embeddings (job_id, vector, source_digest)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (job_id) DO UPDATE SET
				vector        = excluded.vector,
				source_digest = excluded.source_digest`,
			e.JobID, e.Vector, e.SourceDigest,
		); err != nil {
			return nil, storageErr(fmt.Sprintf("insert embedding %s", e.JobID), err)
		}
	}

	rec := &model.QueryRecord{Fingerprint: params.Fingerprint, Criteria: params.Criteria}
	err = tx.QueryRow(ctx,
		`SELECT hit_count, first_fetched_at, last_fetched_at, expires_at
		 FROM search_queries WHERE fingerprint = $1`, params.Fingerprint,
	).Scan(&rec.HitCount, &rec.FirstFetchedAt, &rec.LastFetchedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, storageErr("reload query record", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit replace", err)
	}
	return rec, nil
}

func (p *Postgres) TouchHit(ctx context.Context, fingerprint string, now time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE search_queries SET hit_count = hit_count + 1, last_fetched_at = $1
		 WHERE fingerprint = $2`,
		now, fingerprint,
	)
	if err != nil {
		return storageErr("touch hit", err)
	}
	return nil
}

func (p *Postgres) PurgeExpired(ctx context.Context, now time.Time, skip func(string) bool) (int, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT fingerprint FROM search_queries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, storageErr("scan expired", err)
	}
	var expired []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			rows.Close()
			return 0, storageErr("scan expired", err)
		}
		expired = append(expired, fp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storageErr("scan expired", err)
	}

	purged := 0
	for _, fp := range expired {
		if skip != nil && skip(fp) {
			continue
		}
		tag, err := p.pool.Exec(ctx,
			`DELETE FROM search_queries WHERE fingerprint = $1`, fp)
		if err != nil {
			return purged, storageErr("purge record", err)
		}
		if tag.RowsAffected() > 0 {
			purged++
		}
	}

	if _, err := p.pool.Exec(ctx,
		`DELETE FROM job_embeddings
		 WHERE job_id NOT IN (SELECT job_id FROM cached_jobs)`); err != nil {
		return purged, storageErr("purge orphaned embeddings", err)
	}

	return purged, nil
}

func (p *Postgres) GetEmbeddings(ctx context.Context, jobIDs []string) ([]model.JobEmbedding, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT job_id, vector, source_digest FROM job_embeddings
		 WHERE job_id = ANY($1)`, jobIDs)
	if err != nil {
		return nil, storageErr("get embeddings", err)
	}
	defer rows.Close()

	var embs []model.JobEmbedding
	for rows.Next() {
		var e model.JobEmbedding
		if err := rows.Scan(&e.JobID, &e.Vector, &e.SourceDigest); err != nil {
			return nil, storageErr("scan embedding", err)
		}
		embs = append(embs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan embeddings", err)
	}
	return embs, nil
}

func (p *Postgres) ListQueries(ctx context.Context) ([]model.QueryRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT fingerprint, criteria, hit_count, first_fetched_at, last_fetched_at, expires_at
		 FROM search_queries ORDER BY last_fetched_at DESC`)
	if err != nil {
		return nil, storageErr("list queries", err)
	}
	defer rows.Close()

	var recs []model.QueryRecord
	for rows.Next() {
		var rec model.QueryRecord
		var criteriaJSON []byte
		if err := rows.Scan(&rec.Fingerprint, &criteriaJSON, &rec.HitCount,
			&rec.FirstFetchedAt, &rec.LastFetchedAt, &rec.ExpiresAt); err != nil {
			return nil, storageErr("scan query record", err)
		}
		if err := json.Unmarshal(criteriaJSON, &rec.Criteria); err != nil {
			return nil, storageErr("decode criteria", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan query records", err)
	}
	return recs, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
