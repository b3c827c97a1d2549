// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the slice of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements leads.JobStore and leads.CreditLedger on Postgres.
type Store struct {
	pool  dbPool
	clock leads.Clock
}

// NewStore connects a pool and returns a Store.
func NewStore(ctx context.Context, cfg Config, clock leads.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, clock: clock}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily
// for testing).
func NewStoreWithPool(pool dbPool, clock leads.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, owner_id, kind, status, submitted_at, started_at, finished_at, error_text, params, progress_done, progress_total, result_uri`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job leads.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	params, err := marshalParams(job)
	if err != nil {
		return err
	}
	query := `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.OwnerID,
		string(job.Kind),
		string(job.Status),
		job.Submitted,
		job.Started,
		job.Finished,
		job.ErrorText,
		params,
		job.Progress.Processed,
		job.Progress.Total,
		job.ResultURI,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (leads.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(s.pool.QueryRow(ctx, query, jobID))
}

// UpdateJobStatus transitions a job's status. Moving into processing
// stamps started_at once; any terminal status stamps finished_at. Rows
// already in a terminal state are left untouched; only ResetJob moves
// them back to pending.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status leads.JobStatus, errText string) error {
	query := `
UPDATE jobs SET
	status = $2,
	error_text = $3,
	started_at = CASE WHEN $2 = 'processing' AND started_at IS NULL THEN $4 ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('completed','failed','cancelled') THEN $4 ELSE finished_at END
WHERE id = $1 AND status NOT IN ('completed','failed','cancelled')`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return leads.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check job status: %w", err)
		}
		return leads.ErrJobTerminal
	}
	return nil
}

// UpdateJobProgress stores processed/total counters.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, progress leads.Progress) error {
	query := `UPDATE jobs SET progress_done = $2, progress_total = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, progress.Processed, progress.Total)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrNotFound
	}
	return nil
}

// SetJobResult records the artifact URI for a completed job.
func (s *Store) SetJobResult(ctx context.Context, jobID string, resultURI string) error {
	query := `UPDATE jobs SET result_uri = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, resultURI)
	if err != nil {
		return fmt.Errorf("set job result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrNotFound
	}
	return nil
}

// ResetJob returns a non-terminal job to pending so it can be claimed
// again. Terminal jobs are immutable.
func (s *Store) ResetJob(ctx context.Context, jobID string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return leads.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load job status: %w", err)
	}
	if leads.JobStatus(status).IsTerminal() {
		return leads.ErrJobTerminal
	}

	query := `
UPDATE jobs SET
	status = 'pending',
	error_text = '',
	started_at = NULL,
	finished_at = NULL,
	progress_done = 0
WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("reset job: %w", err)
	}
	return nil
}

// ListJobsByStatus lists jobs of one kind in one status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, kind leads.JobKind, status leads.JobStatus) ([]leads.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE kind = $1 AND status = $2 ORDER BY submitted_at ASC`
	rows, err := s.pool.Query(ctx, query, string(kind), string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []leads.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// RecordLeads appends scraped rows for a job in one transaction.
func (s *Store) RecordLeads(ctx context.Context, jobID string, rows []leads.Lead) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin leads tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
INSERT INTO leads (job_id, name, title, company, company_url, company_info, email, linkedin, scraped_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	for _, row := range rows {
		if _, err := tx.Exec(ctx, query,
			jobID, row.Name, row.Title, row.Company, row.CompanyURL,
			row.CompanyInfo, row.Email, row.LinkedIn, row.ScrapedAt,
		); err != nil {
			return fmt.Errorf("insert lead: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit leads tx: %w", err)
	}
	return nil
}

// ListLeads returns all scraped rows for a job, oldest first.
func (s *Store) ListLeads(ctx context.Context, jobID string) ([]leads.Lead, error) {
	query := `
SELECT job_id, name, title, company, company_url, company_info, email, linkedin, scraped_at
FROM leads WHERE job_id = $1 ORDER BY scraped_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []leads.Lead
	for rows.Next() {
		var row leads.Lead
		if err := rows.Scan(
			&row.JobID, &row.Name, &row.Title, &row.Company, &row.CompanyURL,
			&row.CompanyInfo, &row.Email, &row.LinkedIn, &row.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return out, nil
}

// RecordVerifications appends verification results in one transaction.
func (s *Store) RecordVerifications(ctx context.Context, jobID string, rows []leads.VerificationResult) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin verifications tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
INSERT INTO verification_results (job_id, email, classification, provider_code, checked_at)
VALUES ($1,$2,$3,$4,$5)`
	for _, row := range rows {
		if _, err := tx.Exec(ctx, query,
			jobID, row.Email, string(row.Classification), row.ProviderCode, row.CheckedAt,
		); err != nil {
			return fmt.Errorf("insert verification: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit verifications tx: %w", err)
	}
	return nil
}

// ListVerifications returns all verification results for a job.
func (s *Store) ListVerifications(ctx context.Context, jobID string) ([]leads.VerificationResult, error) {
	query := `
SELECT job_id, email, classification, provider_code, checked_at
FROM verification_results WHERE job_id = $1 ORDER BY checked_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []leads.VerificationResult
	for rows.Next() {
		var row leads.VerificationResult
		var classification string
		if err := rows.Scan(&row.JobID, &row.Email, &classification, &row.ProviderCode, &row.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan verification row: %w", err)
		}
		row.Classification = leads.Classification(classification)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	return out, nil
}

// Balance sums the owner's ledger entries.
func (s *Store) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM credit_ledger WHERE owner_id = $1`
	if err := s.pool.QueryRow(ctx, query, ownerID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("sum credit ledger: %w", err)
	}
	return balance, nil
}

// Add appends a positive ledger entry.
func (s *Store) Add(ctx context.Context, ownerID string, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	query := `INSERT INTO credit_ledger (owner_id, amount, reason, created_at) VALUES ($1,$2,$3,$4)`
	if _, err := s.pool.Exec(ctx, query, ownerID, amount, reason, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("insert credit: %w", err)
	}
	return nil
}

// Spend appends a negative ledger entry if the balance covers it. The
// guard runs inside the insert so concurrent spends cannot both pass.
func (s *Store) Spend(ctx context.Context, ownerID string, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("spend amount must be positive, got %d", amount)
	}
	query := `
INSERT INTO credit_ledger (owner_id, amount, reason, created_at)
SELECT $1, -$2::bigint, $3, $4
WHERE (SELECT COALESCE(SUM(amount), 0) FROM credit_ledger WHERE owner_id = $1) >= $2`
	tag, err := s.pool.Exec(ctx, query, ownerID, amount, reason, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrInsufficientCredits
	}
	return nil
}

func marshalParams(job leads.Job) ([]byte, error) {
	switch job.Kind {
	case leads.KindScrape:
		if job.Scrape == nil {
			return nil, fmt.Errorf("scrape job %s has no parameters", job.ID)
		}
		data, err := json.Marshal(job.Scrape)
		if err != nil {
			return nil, fmt.Errorf("marshal scrape params: %w", err)
		}
		return data, nil
	case leads.KindVerify:
		if job.Verify == nil {
			return nil, fmt.Errorf("verification job %s has no parameters", job.ID)
		}
		data, err := json.Marshal(job.Verify)
		if err != nil {
			return nil, fmt.Errorf("marshal verify params: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func scanJob(row pgx.Row) (leads.Job, error) {
	var (
		job    leads.Job
		kind   string
		status string
		params []byte
	)
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&kind,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&params,
		&job.Progress.Processed,
		&job.Progress.Total,
		&job.ResultURI,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return leads.Job{}, leads.ErrNotFound
	}
	if err != nil {
		return leads.Job{}, fmt.Errorf("scan job row: %w", err)
	}
	job.Kind = leads.JobKind(kind)
	job.Status = leads.JobStatus(status)

	switch job.Kind {
	case leads.KindScrape:
		var p leads.ScrapeParameters
		if err := json.Unmarshal(params, &p); err != nil {
			return leads.Job{}, fmt.Errorf("unmarshal scrape params: %w", err)
		}
		job.Scrape = &p
	case leads.KindVerify:
		var p leads.VerifyParameters
		if err := json.Unmarshal(params, &p); err != nil {
			return leads.Job{}, fmt.Errorf("unmarshal verify params: %w", err)
		}
		job.Verify = &p
	}
	return job, nil
}
