package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/events"
	"github.com/Harshitk-cp/twinledger/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobService owns the job state machine. Every status change goes through
// the store's guarded Transition, so concurrent callers race on the row and
// exactly one of them wins.
type JobService struct {
	store    domain.JobStore
	policies *RetryPolicies
	events   domain.EventPublisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewJobService(store domain.JobStore, logger *zap.Logger) *JobService {
	return &JobService{
		store:    store,
		policies: DefaultRetryPolicies(),
		events:   events.Noop{},
		logger:   logger,
		now:      time.Now,
	}
}

func (s *JobService) SetRetryPolicies(p *RetryPolicies) {
	s.policies = p
}

func (s *JobService) SetEventPublisher(p domain.EventPublisher) {
	s.events = p
}

func (s *JobService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *JobService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *JobService) Policy(t domain.JobType) RetryPolicy {
	return s.policies.For(t)
}

type SubmitInput struct {
	TenantID uuid.UUID
	Type     domain.JobType
	SourceID *string
	// Priority defaults to domain.PriorityNormal.
	Priority    *int
	MaxAttempts int
	Metadata    domain.JobMetadata
	RunAfter    *time.Time
}

// Submit enqueues a job. New jobs always start queued.
func (s *JobService) Submit(ctx context.Context, in SubmitInput) (*domain.Job, error) {
	if !domain.ValidJobType(string(in.Type)) {
		return nil, fmt.Errorf("%w: invalid job_type %q", domain.ErrValidation, in.Type)
	}
	j := &domain.Job{
		TenantID:    in.TenantID,
		SourceID:    in.SourceID,
		Type:        in.Type,
		Priority:    domain.PriorityNormal,
		MaxAttempts: in.MaxAttempts,
		Metadata:    in.Metadata,
	}
	if in.Priority != nil {
		j.Priority = *in.Priority
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = s.policies.For(in.Type).MaxAttempts
	}
	if in.RunAfter != nil {
		j.RunAfter = *in.RunAfter
	}

	log := &domain.JobLogEntry{
		Level:   domain.LogInfo,
		Message: "job submitted",
		Details: map[string]any{"job_type": string(j.Type), "priority": j.Priority},
	}
	if err := s.store.Create(ctx, j, log); err != nil {
		return nil, err
	}

	s.logger.Info("job submitted",
		zap.String("job_id", j.ID.String()),
		zap.String("tenant_id", j.TenantID.String()),
		zap.String("job_type", string(j.Type)),
		zap.Int("priority", j.Priority))
	s.transitioned(ctx, j)
	return j, nil
}

// Claim moves one specific queued job to processing.
func (s *JobService) Claim(ctx context.Context, id uuid.UUID, workerID string) (*domain.Job, error) {
	j, err := s.store.Transition(ctx, domain.ClaimTransition(id, workerID, s.now()))
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil, fmt.Errorf("%w: job %s is not queued", domain.ErrAlreadyClaimed, id)
	}
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, j)
	return j, nil
}

// ClaimNext dequeues the best eligible job, or returns nil when there is none.
func (s *JobService) ClaimNext(ctx context.Context, opts domain.ClaimOpts) (*domain.Job, error) {
	j, err := s.store.ClaimNext(ctx, opts, s.now())
	if err != nil || j == nil {
		return nil, err
	}
	s.transitioned(ctx, j)
	return j, nil
}

// Complete finishes a processing job, merging result into its metadata.
func (s *JobService) Complete(ctx context.Context, id uuid.UUID, result *domain.JobMetadata) (*domain.Job, error) {
	return s.apply(ctx, domain.JobTransition{
		JobID:         id,
		From:          []domain.JobStatus{domain.JobProcessing},
		To:            domain.JobComplete,
		ClearError:    true,
		MetadataPatch: result,
		Logs:          []domain.JobLogEntry{{Level: domain.LogInfo, Message: "job completed"}},
	})
}

// Fail records a processing failure. Retryable failures land in failed while
// budget remains; everything else lands in needs_attention.
func (s *JobService) Fail(ctx context.Context, id uuid.UUID, message string, retryable bool) (*domain.Job, error) {
	if message == "" {
		message = "job failed"
	}
	j, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != domain.JobProcessing {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrInvalidTransition, id, j.Status, domain.JobProcessing)
	}

	now := s.now()
	policy := s.policies.For(j.Type)
	to := domain.JobFailed
	logs := []domain.JobLogEntry{{
		Level:   domain.LogError,
		Message: message,
		Details: map[string]any{"attempt": j.Attempts + 1, "retryable": retryable},
	}}
	switch {
	case !retryable:
		to = domain.JobNeedsAttention
	case policy.IsNonRetryable(message):
		to = domain.JobNeedsAttention
		logs = append(logs, domain.JobLogEntry{Level: domain.LogWarning, Message: "non-retryable error"})
	case j.Attempts >= j.MaxAttempts:
		to = domain.JobNeedsAttention
		logs = append(logs, domain.JobLogEntry{
			Level:   domain.LogWarning,
			Message: "retry budget exhausted",
			Details: map[string]any{"attempts": j.Attempts, "max_attempts": j.MaxAttempts},
		})
	}

	out, err := s.apply(ctx, domain.JobTransition{
		JobID:    id,
		From:     []domain.JobStatus{domain.JobProcessing},
		To:       to,
		At:       now,
		SetError: &message,
		MetadataPatch: &domain.JobMetadata{
			RetryHistory: []domain.RetryRecord{{Attempt: j.Attempts + 1, Error: message, FailedAt: now}},
		},
		Logs: logs,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("job failed",
		zap.String("job_id", id.String()),
		zap.String("status", string(out.Status)),
		zap.Int("attempts", out.Attempts),
		zap.String("error", message))
	return out, nil
}

// Retry re-queues a failed job. It becomes claimable once delay has passed.
func (s *JobService) Retry(ctx context.Context, id uuid.UUID, delay time.Duration) (*domain.Job, error) {
	if delay < 0 {
		return nil, fmt.Errorf("%w: retry delay must not be negative", domain.ErrValidation)
	}
	now := s.now()
	runAfter := now.Add(delay)
	return s.apply(ctx, domain.JobTransition{
		JobID:             id,
		From:              []domain.JobStatus{domain.JobFailed},
		To:                domain.JobQueued,
		At:                now,
		IncrementAttempts: true,
		ClearError:        true,
		RunAfter:          &runAfter,
		Logs: []domain.JobLogEntry{{
			Level:   domain.LogInfo,
			Message: "job re-queued for retry",
			Details: map[string]any{"delay_seconds": delay.Seconds()},
		}},
	})
}

// RetryAfterBackoff re-queues a failed job using its type's backoff curve.
func (s *JobService) RetryAfterBackoff(ctx context.Context, j *domain.Job) (*domain.Job, error) {
	return s.Retry(ctx, j.ID, s.policies.For(j.Type).Backoff(j.Attempts))
}

// FailAndRetry fails a job and, when it lands in failed, re-queues it with
// backoff straight away.
func (s *JobService) FailAndRetry(ctx context.Context, id uuid.UUID, message string, retryable bool) (*domain.Job, error) {
	j, err := s.Fail(ctx, id, message, retryable)
	if err != nil || j.Status != domain.JobFailed {
		return j, err
	}
	return s.RetryAfterBackoff(ctx, j)
}

// Release hands a claimed job back to the queue after a failure that was not
// the job's own, such as a rejected request. It passes through failed so the
// reason is on record, and leaves the retry budget untouched.
func (s *JobService) Release(ctx context.Context, id uuid.UUID, reason string) (*domain.Job, error) {
	if reason == "" {
		reason = "job released"
	}
	now := s.now()
	if _, err := s.apply(ctx, domain.JobTransition{
		JobID:    id,
		From:     []domain.JobStatus{domain.JobProcessing},
		To:       domain.JobFailed,
		At:       now,
		SetError: &reason,
		Logs: []domain.JobLogEntry{{
			Level:   domain.LogWarning,
			Message: reason,
			Details: map[string]any{"released": true},
		}},
	}); err != nil {
		return nil, err
	}
	return s.apply(ctx, domain.JobTransition{
		JobID:      id,
		From:       []domain.JobStatus{domain.JobFailed},
		To:         domain.JobQueued,
		At:         now,
		ClearError: true,
		RunAfter:   &now,
		Logs:       []domain.JobLogEntry{{Level: domain.LogInfo, Message: "job released back to the queue"}},
	})
}

// ForceRequeue takes a job out of needs_attention with a fresh retry budget.
func (s *JobService) ForceRequeue(ctx context.Context, id uuid.UUID, actor string) (*domain.Job, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrValidation)
	}
	now := s.now()
	return s.apply(ctx, domain.JobTransition{
		JobID:         id,
		From:          []domain.JobStatus{domain.JobNeedsAttention},
		To:            domain.JobQueued,
		At:            now,
		ResetAttempts: true,
		ClearError:    true,
		ClearCancel:   true,
		RunAfter:      &now,
		Logs: []domain.JobLogEntry{{
			Level:   domain.LogWarning,
			Message: "job force re-queued",
			Details: map[string]any{"actor": actor},
		}},
	})
}

// Cancel stops a job. Queued and failed jobs move to needs_attention marked
// cancelled. A processing job only gets cancel_requested; its worker is
// expected to notice and fail it.
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Job, error) {
	j, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	details := map[string]any{"reason": reason}

	switch j.Status {
	case domain.JobQueued, domain.JobFailed:
		return s.apply(ctx, domain.JobTransition{
			JobID:         id,
			From:          []domain.JobStatus{j.Status},
			To:            domain.JobNeedsAttention,
			MetadataPatch: &domain.JobMetadata{Cancelled: true, CancelReason: reason},
			Logs:          []domain.JobLogEntry{{Level: domain.LogWarning, Message: "job cancelled", Details: details}},
		})
	case domain.JobProcessing:
		out, err := s.store.Transition(ctx, domain.JobTransition{
			JobID:         id,
			From:          []domain.JobStatus{domain.JobProcessing},
			To:            domain.JobProcessing,
			At:            s.now(),
			MetadataPatch: &domain.JobMetadata{CancelRequested: true, CancelReason: reason},
			Logs:          []domain.JobLogEntry{{Level: domain.LogWarning, Message: "cancellation requested", Details: details}},
		})
		if err != nil {
			return nil, err
		}
		s.events.Publish(ctx, out.TenantID, "job.cancel_requested", out)
		return out, nil
	case domain.JobComplete, domain.JobNeedsAttention:
		return nil, fmt.Errorf("%w: cannot cancel a %s job", domain.ErrInvalidTransition, j.Status)
	}
	return nil, fmt.Errorf("%w: unknown job status %q", domain.ErrInvalidTransition, j.Status)
}

// ReportProgress merges progress and patch into a processing job's metadata.
// It also refreshes the job's heartbeat.
func (s *JobService) ReportProgress(ctx context.Context, id uuid.UUID, progress *float64, patch domain.JobMetadata) (*domain.Job, error) {
	if progress != nil {
		patch.Progress = progress
	}
	return s.store.Transition(ctx, domain.JobTransition{
		JobID:         id,
		From:          []domain.JobStatus{domain.JobProcessing},
		To:            domain.JobProcessing,
		At:            s.now(),
		MetadataPatch: &patch,
	})
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.store.GetByID(ctx, id)
}

// GetForTenant hides jobs owned by other tenants behind ErrNotFound.
func (s *JobService) GetForTenant(ctx context.Context, tenantID, id uuid.UUID) (*domain.Job, error) {
	j, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.TenantID != tenantID {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return j, nil
}

func (s *JobService) List(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	for _, st := range f.Statuses {
		if !domain.ValidJobStatus(string(st)) {
			return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, st)
		}
	}
	for _, t := range f.Types {
		if !domain.ValidJobType(string(t)) {
			return nil, fmt.Errorf("%w: invalid job_type %q", domain.ErrValidation, t)
		}
	}
	if f.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", domain.ErrValidation)
	}
	return s.store.List(ctx, f)
}

// ListStale returns jobs in status that have not moved since before.
func (s *JobService) ListStale(ctx context.Context, status domain.JobStatus, before time.Time, limit int) ([]domain.Job, error) {
	return s.store.ListStale(ctx, status, before, limit)
}

func (s *JobService) Now() time.Time {
	return s.now()
}

func (s *JobService) Logs(ctx context.Context, id uuid.UUID) ([]domain.JobLogEntry, error) {
	return s.store.Logs(ctx, id)
}

// DeadLetters lists the tenant's jobs parked in needs_attention.
func (s *JobService) DeadLetters(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Job, error) {
	return s.List(ctx, domain.JobFilter{
		TenantID: &tenantID,
		Statuses: []domain.JobStatus{domain.JobNeedsAttention},
		Limit:    limit,
	})
}

// ReplayDeadLetters force-requeues up to limit dead letters and returns how
// many went back on the queue. Jobs that moved concurrently are skipped.
func (s *JobService) ReplayDeadLetters(ctx context.Context, tenantID uuid.UUID, limit int, actor string) (int, error) {
	jobs, err := s.DeadLetters(ctx, tenantID, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if _, err := s.ForceRequeue(ctx, j.ID, actor); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Info("dead letters replayed",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("count", n))
	}
	return n, nil
}

// Stats counts jobs by status. Every status is present in the result.
func (s *JobService) Stats(ctx context.Context, tenantID *uuid.UUID) (map[domain.JobStatus]int, error) {
	counts, err := s.store.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := map[domain.JobStatus]int{
		domain.JobQueued:         0,
		domain.JobProcessing:     0,
		domain.JobComplete:       0,
		domain.JobFailed:         0,
		domain.JobNeedsAttention: 0,
	}
	for st, n := range counts {
		out[st] = n
	}
	return out, nil
}

func (s *JobService) apply(ctx context.Context, t domain.JobTransition) (*domain.Job, error) {
	if t.At.IsZero() {
		t.At = s.now()
	}
	j, err := s.store.Transition(ctx, t)
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, j)
	return j, nil
}

func (s *JobService) transitioned(ctx context.Context, j *domain.Job) {
	s.metrics.JobTransition(string(j.Type), string(j.Status))
	s.events.Publish(ctx, j.TenantID, "job."+string(j.Status), j)
	s.logger.Debug("job transitioned",
		zap.String("job_id", j.ID.String()),
		zap.String("status", string(j.Status)))
}
