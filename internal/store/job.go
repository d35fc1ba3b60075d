package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ domain.JobStore = (*JobStore)(nil)

type JobStore struct {
	db *pgxpool.Pool
}

func NewJobStore(db *pgxpool.Pool) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `seq, id, tenant_id, source_id, job_type, status, priority, attempts, max_attempts, metadata,
	error_message, run_after, created_at, updated_at, started_at, completed_at`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.Seq, &j.ID, &j.TenantID, &j.SourceID, &j.Type, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.Metadata, &j.ErrorMessage, &j.RunAfter, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *JobStore) Create(ctx context.Context, j *domain.Job, log *domain.JobLogEntry) error {
	now := truncate(time.Now())
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = domain.JobQueued
	j.CreatedAt, j.UpdatedAt = now, now
	if j.RunAfter.IsZero() {
		j.RunAfter = now
	}
	j.RunAfter = truncate(j.RunAfter)
	if err := j.Validate(); err != nil {
		return err
	}

	return withTx(ctx, s.db, "create job", func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO jobs (id, tenant_id, source_id, job_type, status, priority, attempts, max_attempts, metadata,
			   run_after, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			 RETURNING seq`,
			j.ID, j.TenantID, j.SourceID, j.Type, j.Status, j.Priority, j.Attempts, j.MaxAttempts, j.Metadata,
			j.RunAfter, now,
		).Scan(&j.Seq)
		if err != nil {
			return err
		}
		if log != nil {
			return appendLogTx(ctx, tx, j.ID, log, now)
		}
		return nil
	})
}

func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return j, nil
}

func (s *JobStore) Transition(ctx context.Context, t domain.JobTransition) (*domain.Job, error) {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	t.At = truncate(t.At)

	var out *domain.Job
	err := withTx(ctx, s.db, "transition job", func(tx pgx.Tx) error {
		prev, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, t.JobID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: job %s", domain.ErrNotFound, t.JobID)
		}
		if err != nil {
			return err
		}
		next, err := applyJobTransition(ctx, tx, *prev, t)
		if err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyJobTransition(ctx context.Context, tx pgx.Tx, prev domain.Job, t domain.JobTransition) (domain.Job, error) {
	next, err := prev.Apply(t)
	if err != nil {
		return prev, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $1, attempts = $2, metadata = $3, error_message = $4, run_after = $5,
		   updated_at = $6, started_at = $7, completed_at = $8
		 WHERE id = $9 AND status = $10`,
		next.Status, next.Attempts, next.Metadata, next.ErrorMessage, next.RunAfter,
		next.UpdatedAt, next.StartedAt, next.CompletedAt,
		next.ID, prev.Status,
	)
	if err != nil {
		return prev, err
	}
	if tag.RowsAffected() == 0 {
		return prev, fmt.Errorf("%w: job %s changed concurrently", domain.ErrInvalidTransition, prev.ID)
	}
	for i := range t.Logs {
		if err := appendLogTx(ctx, tx, next.ID, &t.Logs[i], t.At); err != nil {
			return prev, err
		}
	}
	return next, nil
}

// ClaimNext locks the best queued row with SKIP LOCKED so concurrent
// workers each take a different job instead of queueing on one row.
func (s *JobStore) ClaimNext(ctx context.Context, opts domain.ClaimOpts, now time.Time) (*domain.Job, error) {
	now = truncate(now)
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'queued' AND run_after <= $1`
	args := []any{now}
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		query += fmt.Sprintf(` AND job_type = ANY($%d)`, len(args))
	}
	if opts.TenantID != nil {
		args = append(args, *opts.TenantID)
		query += fmt.Sprintf(` AND tenant_id = $%d`, len(args))
	}
	query += ` ORDER BY priority DESC, created_at ASC, seq ASC LIMIT 1 FOR UPDATE SKIP LOCKED`

	var out *domain.Job
	err := withTx(ctx, s.db, "claim next job", func(tx pgx.Tx) error {
		j, err := scanJob(tx.QueryRow(ctx, query, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		next, err := applyJobTransition(ctx, tx, *j, domain.ClaimTransition(j.ID, opts.WorkerID, now))
		if err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *JobStore) AppendLog(ctx context.Context, e *domain.JobLogEntry) error {
	return withTx(ctx, s.db, "append job log", func(tx pgx.Tx) error {
		return appendLogTx(ctx, tx, e.JobID, e, truncate(time.Now()))
	})
}

func appendLogTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, e *domain.JobLogEntry, at time.Time) error {
	if !domain.ValidLogLevel(string(e.Level)) {
		return fmt.Errorf("%w: invalid log level %q", domain.ErrValidation, e.Level)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.JobID = jobID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = at
	}
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO job_logs (id, job_id, level, message, details, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.JobID, e.Level, e.Message, details, e.CreatedAt,
	)
	return err
}

func (s *JobStore) Logs(ctx context.Context, jobID uuid.UUID) ([]domain.JobLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, job_id, level, message, details, created_at FROM job_logs WHERE job_id = $1 ORDER BY seq ASC`, jobID,
	)
	if err != nil {
		return nil, wrapErr("list job logs", err)
	}
	defer rows.Close()

	var out []domain.JobLogEntry
	for rows.Next() {
		var e domain.JobLogEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &e.Details, &e.CreatedAt); err != nil {
			return nil, wrapErr("scan job log", err)
		}
		out = append(out, e)
	}
	return out, wrapErr("list job logs", rows.Err())
}

func (s *JobStore) List(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE TRUE`
	var args []any
	if f.TenantID != nil {
		args = append(args, *f.TenantID)
		query += fmt.Sprintf(` AND tenant_id = $%d`, len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		query += fmt.Sprintf(` AND job_type = ANY($%d)`, len(args))
	}
	query += ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list jobs", err)
	}
	return collectJobs(rows)
}

func (s *JobStore) CountByStatus(ctx context.Context, tenantID *uuid.UUID) (map[domain.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM jobs`
	var args []any
	if tenantID != nil {
		query += ` WHERE tenant_id = $1`
		args = append(args, *tenantID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("count jobs", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var (
			status domain.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapErr("count jobs", err)
		}
		counts[status] = n
	}
	return counts, wrapErr("count jobs", rows.Err())
}

func (s *JobStore) ListStale(ctx context.Context, status domain.JobStatus, before time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC, seq ASC LIMIT $3`,
		status, before, limit,
	)
	if err != nil {
		return nil, wrapErr("list stale jobs", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrapErr("scan job", err)
		}
		out = append(out, *j)
	}
	return out, wrapErr("iterate jobs", rows.Err())
}
