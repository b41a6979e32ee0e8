package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"jobscout/match-service/internal/model"
)

// SQLite is the embedded backend. WAL mode keeps concurrent readers cheap;
// foreign keys drive the query→job→embedding cascade.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path and initialises the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storageErr("open", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, storageErr("enable foreign keys", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, storageErr("enable WAL", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		return nil, storageErr("init schema", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS search_queries (
		fingerprint      TEXT PRIMARY KEY,
		criteria         TEXT NOT NULL,
		hit_count        INTEGER NOT NULL DEFAULT 0,
		first_fetched_at TIMESTAMP NOT NULL,
		last_fetched_at  TIMESTAMP NOT NULL,
		expires_at       TIMESTAMP NOT NULL
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
		salary_min         REAL,
		salary_max         REAL,
		owning_fingerprint TEXT NOT NULL REFERENCES search_queries(fingerprint) ON DELETE CASCADE,
		raw_payload        TEXT,
		fetched_at         TIMESTAMP NOT NULL,
		expires_at         TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner ON cached_jobs(owning_fingerprint);

	CREATE TABLE IF NOT EXISTS job_embeddings (
		job_id        TEXT PRIMARY KEY REFERENCES cached_jobs(job_id) ON DELETE CASCADE,
		vector        BLOB NOT NULL,
		source_digest TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Lookup(ctx context.Context, fingerprint string, now time.Time) (*model.QueryRecord, []model.Job, error) {
	rec := &model.QueryRecord{Fingerprint: fingerprint}
	var criteriaJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT criteria, hit_count, first_fetched_at, last_fetched_at, expires_at
		 FROM search_queries
		 WHERE fingerprint = ? AND expires_at > ?`,
		fingerprint, now,
	).Scan(&criteriaJSON, &rec.HitCount, &rec.FirstFetchedAt, &rec.LastFetchedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, storageErr("lookup query record", err)
	}
	if err := json.Unmarshal([]byte(criteriaJSON), &rec.Criteria); err != nil {
		return nil, nil, storageErr("decode criteria", err)
	}

	rows, err := s.db.QueryContext(ctx, jobSelectSQLite+` WHERE owning_fingerprint = ?`, fingerprint)
	if err != nil {
		return nil, nil, storageErr("lookup jobs", err)
	}
	defer rows.Close()

	jobs, err := scanJobsSQLite(rows)
	if err != nil {
		return nil, nil, storageErr("scan jobs", err)
	}
	return rec, jobs, nil
}

const jobSelectSQLite = `
	SELECT job_id, title, company, location, description, requirements,
	       employment_type, experience_level, url, salary_min, salary_max, raw_payload
	FROM cached_jobs`

func scanJobsSQLite(rows *sql.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		var (
			j                    model.Job
			loc, desc, req       sql.NullString
			empType, expLvl, url sql.NullString
			salMin, salMax       sql.NullFloat64
			raw                  sql.NullString
		)
		if err := rows.Scan(&j.ID, &j.Title, &j.Company, &loc, &desc, &req,
			&empType, &expLvl, &url, &salMin, &salMax, &raw); err != nil {
			return nil, err
		}
		j.Location = loc.String
		j.Description = desc.String
		j.Requirements = req.String
		j.EmploymentType = empType.String
		j.ExperienceLevel = expLvl.String
		j.URL = url.String
		if salMin.Valid {
			v := salMin.Float64
			j.SalaryMin = &v
		}
		if salMax.Valid {
			v := salMax.Float64
			j.SalaryMax = &v
		}
		if raw.Valid && raw.String != "" {
			j.RawPayload = json.RawMessage(raw.String)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *SQLite) ReplaceQueryJobs(ctx context.Context, p ReplaceParams) (*model.QueryRecord, error) {
	criteriaJSON, err := json.Marshal(p.Criteria)
	if err != nil {
		return nil, storageErr("encode criteria", err)
	}
	expiresAt := p.FetchedAt.Add(p.TTL)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin replace", err)
	}
	defer tx.Rollback()

	// Create or refresh the record. Hit count and first-fetch time survive.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO search_queries (fingerprint, criteria, hit_count, first_fetched_at, last_fetched_at, expires_at)
		 VALUES (?, ?, 0, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			criteria        = excluded.criteria,
			last_fetched_at = excluded.last_fetched_at,
			expires_at      = excluded.expires_at`,
		p.Fingerprint, string(criteriaJSON), p.FetchedAt, p.FetchedAt, expiresAt,
	); err != nil {
		return nil, storageErr("upsert query record", err)
	}

	// Replace, never append: the previous job set for this fingerprint is
	// superseded wholesale. Embeddings cascade with the deleted jobs.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cached_jobs WHERE owning_fingerprint = ?`, p.Fingerprint,
	); err != nil {
		return nil, storageErr("delete superseded jobs", err)
	}

	for _, j := range p.Jobs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cached_jobs (job_id, title, company, location, description, requirements,
			                          employment_type, experience_level, url, salary_min, salary_max,
			                          owning_fingerprint, raw_payload, fetched_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(job_id) DO UPDATE SET
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
			j.EmploymentType, j.ExperienceLevel, j.URL, nullFloat(j.SalaryMin), nullFloat(j.SalaryMax),
			p.Fingerprint, nullRaw(j.RawPayload), p.FetchedAt, expiresAt,
		); err != nil {
			return nil, storageErr(fmt.Sprintf("insert job %s", j.ID), err)
		}
	}

	for _, e := range p.Embeddings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_embeddings (job_id, vector, source_digest)
			 VALUES (?, ?, ?)
			 ON CONFLICT(job_id) DO UPDATE SET
				vector        = excluded.vector,
				source_digest = excluded.source_digest`,
			e.JobID, e.Vector, e.SourceDigest,
		); err != nil {
			return nil, storageErr(fmt.Sprintf("insert embedding %s", e.JobID), err)
		}
	}

	rec := &model.QueryRecord{Fingerprint: p.Fingerprint, Criteria: p.Criteria}
	err = tx.QueryRowContext(ctx,
		`SELECT hit_count, first_fetched_at, last_fetched_at, expires_at
		 FROM search_queries WHERE fingerprint = ?`, p.Fingerprint,
	).Scan(&rec.HitCount, &rec.FirstFetchedAt, &rec.LastFetchedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, storageErr("reload query record", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit replace", err)
	}
	return rec, nil
}

func (s *SQLite) TouchHit(ctx context.Context, fingerprint string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE search_queries SET hit_count = hit_count + 1, last_fetched_at = ?
		 WHERE fingerprint = ?`,
		now, fingerprint,
	)
	if err != nil {
		return storageErr("touch hit", err)
	}
	return nil
}

func (s *SQLite) PurgeExpired(ctx context.Context, now time.Time, skip func(string) bool) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint FROM search_queries WHERE expires_at <= ?`, now)
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
			continue // in-flight fetch owns this fingerprint; next cycle
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM search_queries WHERE fingerprint = ?`, fp)
		if err != nil {
			return purged, storageErr("purge record", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			purged++
		}
	}

	// Vectors whose job vanished outside a cascade.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM job_embeddings
		 WHERE job_id NOT IN (SELECT job_id FROM cached_jobs)`); err != nil {
		return purged, storageErr("purge orphaned embeddings", err)
	}

	return purged, nil
}

func (s *SQLite) GetEmbeddings(ctx context.Context, jobIDs []string) ([]model.JobEmbedding, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(jobIDs)), ",")
	args := make([]any, len(jobIDs))
	for i, id := range jobIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, vector, source_digest FROM job_embeddings
		 WHERE job_id IN (`+placeholders+`)`, args...)
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

func (s *SQLite) ListQueries(ctx context.Context) ([]model.QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, criteria, hit_count, first_fetched_at, last_fetched_at, expires_at
		 FROM search_queries ORDER BY last_fetched_at DESC`)
	if err != nil {
		return nil, storageErr("list queries", err)
	}
	defer rows.Close()

	var recs []model.QueryRecord
	for rows.Next() {
		var rec model.QueryRecord
		var criteriaJSON string
		if err := rows.Scan(&rec.Fingerprint, &criteriaJSON, &rec.HitCount,
			&rec.FirstFetchedAt, &rec.LastFetchedAt, &rec.ExpiresAt); err != nil {
			return nil, storageErr("scan query record", err)
		}
		if err := json.Unmarshal([]byte(criteriaJSON), &rec.Criteria); err != nil {
			return nil, storageErr("decode criteria", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan query records", err)
	}
	return recs, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
