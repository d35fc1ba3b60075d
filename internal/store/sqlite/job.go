package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
)

var _ domain.JobStore = (*JobStore)(nil)

type JobStore struct {
	db *DB
}

func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `seq, id, tenant_id, source_id, job_type, status, priority, attempts, max_attempts, metadata,
	error_message, run_after, created_at, updated_at, started_at, completed_at`

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j                  domain.Job
		sourceID, errMsg   sql.NullString
		meta               string
		runAfter           int64
		created, updated   int64
		started, completed sql.NullInt64
	)
	if err := row.Scan(&j.Seq, &j.ID, &j.TenantID, &sourceID, &j.Type, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts, &meta,
		&errMsg, &runAfter, &created, &updated, &started, &completed); err != nil {
		return nil, err
	}
	if sourceID.Valid {
		j.SourceID = &sourceID.String
	}
	if errMsg.Valid {
		j.ErrorMessage = &errMsg.String
	}
	if err := decodeJSON(meta, &j.Metadata); err != nil {
		return nil, err
	}
	j.RunAfter = fromMicros(runAfter)
	j.CreatedAt = fromMicros(created)
	j.UpdatedAt = fromMicros(updated)
	j.StartedAt = fromNullMicros(started)
	j.CompletedAt = fromNullMicros(completed)
	return &j, nil
}

func (s *JobStore) Create(ctx context.Context, j *domain.Job, log *domain.JobLogEntry) error {
	now := s.db.clock()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = domain.JobQueued
	j.CreatedAt, j.UpdatedAt = now, now
	if j.RunAfter.IsZero() {
		j.RunAfter = now
	}
	if err := j.Validate(); err != nil {
		return err
	}
	meta, err := encodeJSON(j.Metadata)
	if err != nil {
		return err
	}

	return s.db.withTx(ctx, "create job", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, tenant_id, source_id, job_type, status, priority, attempts, max_attempts, metadata,
			   error_message, run_after, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
			j.ID, j.TenantID, j.SourceID, j.Type, j.Status, j.Priority, j.Attempts, j.MaxAttempts, meta,
			micros(j.RunAfter), micros(now), micros(now),
		)
		if err != nil {
			return err
		}
		if j.Seq, err = res.LastInsertId(); err != nil {
			return err
		}
		if log != nil {
			return appendLogTx(ctx, tx, j.ID, log, now)
		}
		return nil
	})
}

func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	j, err := scanJob(s.db.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return j, nil
}

func (s *JobStore) Transition(ctx context.Context, t domain.JobTransition) (*domain.Job, error) {
	if t.At.IsZero() {
		t.At = s.db.clock()
	}
	var out *domain.Job
	err := s.db.withTx(ctx, "transition job", func(tx *sql.Tx) error {
		prev, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, t.JobID))
		if errors.Is(err, sql.ErrNoRows) {
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

// applyJobTransition writes next with a compare-and-set on the previous
// status and appends the transition's log line.
func applyJobTransition(ctx context.Context, tx *sql.Tx, prev domain.Job, t domain.JobTransition) (domain.Job, error) {
	next, err := prev.Apply(t)
	if err != nil {
		return prev, err
	}
	meta, err := encodeJSON(next.Metadata)
	if err != nil {
		return prev, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, metadata = ?, error_message = ?, run_after = ?,
		   updated_at = ?, started_at = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		next.Status, next.Attempts, meta, next.ErrorMessage, micros(next.RunAfter),
		micros(next.UpdatedAt), nullMicros(next.StartedAt), nullMicros(next.CompletedAt),
		next.ID, prev.Status,
	)
	if err != nil {
		return prev, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return prev, err
	}
	if n == 0 {
		return prev, fmt.Errorf("%w: job %s changed concurrently", domain.ErrInvalidTransition, prev.ID)
	}
	for i := range t.Logs {
		if err := appendLogTx(ctx, tx, next.ID, &t.Logs[i], t.At); err != nil {
			return prev, err
		}
	}
	return next, nil
}

func (s *JobStore) ClaimNext(ctx context.Context, opts domain.ClaimOpts, now time.Time) (*domain.Job, error) {
	now = now.UTC().Truncate(time.Microsecond)
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'queued' AND run_after <= ?`
	args := []any{micros(now)}
	if len(opts.Types) > 0 {
		query += ` AND job_type IN (` + placeholders(len(opts.Types)) + `)`
		for _, t := range opts.Types {
			args = append(args, t)
		}
	}
	if opts.TenantID != nil {
		query += ` AND tenant_id = ?`
		args = append(args, *opts.TenantID)
	}
	query += ` ORDER BY priority DESC, created_at ASC, seq ASC LIMIT 1`

	var out *domain.Job
	err := s.db.withTx(ctx, "claim next job", func(tx *sql.Tx) error {
		j, err := scanJob(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		next, err := applyJobTransition(ctx, tx, *j, domain.ClaimTransition(j.ID, opts.WorkerID, now))
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
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
	return s.db.withTx(ctx, "append job log", func(tx *sql.Tx) error {
		return appendLogTx(ctx, tx, e.JobID, e, s.db.clock())
	})
}

func appendLogTx(ctx context.Context, tx *sql.Tx, jobID uuid.UUID, e *domain.JobLogEntry, at time.Time) error {
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
	details, err := encodeJSON(e.Details)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_logs (id, job_id, level, message, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.Level, e.Message, details, micros(e.CreatedAt),
	)
	return err
}

func (s *JobStore) Logs(ctx context.Context, jobID uuid.UUID) ([]domain.JobLogEntry, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, job_id, level, message, details, created_at FROM job_logs WHERE job_id = ? ORDER BY seq ASC`, jobID,
	)
	if err != nil {
		return nil, wrapErr("list job logs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.JobLogEntry
	for rows.Next() {
		var (
			e       domain.JobLogEntry
			details string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &details, &created); err != nil {
			return nil, wrapErr("scan job log", err)
		}
		if err := decodeJSON(details, &e.Details); err != nil {
			return nil, wrapErr("scan job log", err)
		}
		e.CreatedAt = fromMicros(created)
		out = append(out, e)
	}
	return out, wrapErr("list job logs", rows.Err())
}

func (s *JobStore) List(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	var args []any
	if f.TenantID != nil {
		query += ` AND tenant_id = ?`
		args = append(args, *f.TenantID)
	}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if len(f.Types) > 0 {
		query += ` AND job_type IN (` + placeholders(len(f.Types)) + `)`
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list jobs", err)
	}
	return collectJobs(rows)
}

func (s *JobStore) CountByStatus(ctx context.Context, tenantID *uuid.UUID) (map[domain.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM jobs`
	var args []any
	if tenantID != nil {
		query += ` WHERE tenant_id = ?`
		args = append(args, *tenantID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("count jobs", err)
	}
	defer func() { _ = rows.Close() }()

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
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC, seq ASC LIMIT ?`,
		status, micros(before), limit,
	)
	if err != nil {
		return nil, wrapErr("list stale jobs", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	defer func() { _ = rows.Close() }()
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
