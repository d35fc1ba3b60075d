package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/store/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestJobService(t *testing.T) (*JobService, *recordingPublisher) {
	t.Helper()
	svc := NewJobService(sqlite.NewJobStore(openTestDB(t)), zap.NewNop())
	pub := &recordingPublisher{}
	svc.SetEventPublisher(pub)
	return svc, pub
}

func submitAndClaim(t *testing.T, svc *JobService, tenantID uuid.UUID, jobType domain.JobType) *domain.Job {
	t.Helper()
	ctx := context.Background()
	j, err := svc.Submit(ctx, SubmitInput{TenantID: tenantID, Type: jobType})
	require.NoError(t, err)
	claimed, err := svc.Claim(ctx, j.ID, "worker-1")
	require.NoError(t, err)
	return claimed
}

func countLogs(logs []domain.JobLogEntry, level domain.LogLevel) int {
	n := 0
	for _, l := range logs {
		if l.Level == level {
			n++
		}
	}
	return n
}

func TestJobFailRetryRequeues(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestJobService(t)
	j := submitAndClaim(t, svc, uuid.New(), domain.JobTypeIngestion)

	failed, err := svc.Fail(ctx, j.ID, "upstream timeout", true)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "upstream timeout", *failed.ErrorMessage)
	require.Len(t, failed.Metadata.RetryHistory, 1)
	assert.Equal(t, 1, failed.Metadata.RetryHistory[0].Attempt)

	queued, err := svc.Retry(ctx, j.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, queued.Status)
	assert.Equal(t, 1, queued.Attempts)
	assert.Nil(t, queued.ErrorMessage)
	assert.Nil(t, queued.CompletedAt)

	logs, err := svc.Logs(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countLogs(logs, domain.LogError))
	assert.Equal(t, "job submitted", logs[0].Message)

	assert.Equal(t, []string{"job.queued", "job.processing", "job.failed", "job.queued"}, pub.topics())
}

func TestJobReleaseKeepsRetryBudget(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)
	j := submitAndClaim(t, svc, uuid.New(), domain.JobTypeEscalationReview)

	out, err := svc.Release(ctx, j.ID, "resolve rejected: validation error: stale proposal")
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, out.Status)
	assert.Equal(t, 0, out.Attempts)
	assert.Nil(t, out.ErrorMessage)

	logs, err := svc.Logs(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countLogs(logs, domain.LogWarning))

	_, err = svc.Release(ctx, j.ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestJobCompleteTwiceRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)
	j := submitAndClaim(t, svc, uuid.New(), domain.JobTypeReindex)

	progress := 1.0
	done, err := svc.Complete(ctx, j.ID, &domain.JobMetadata{Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, done.Status)
	assert.NotNil(t, done.CompletedAt)

	_, err = svc.Complete(ctx, j.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestJobConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)
	j, err := svc.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeIngestion})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Claim(ctx, j.ID, "worker")
		}(i)
	}
	wg.Wait()

	wins, claimed := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrAlreadyClaimed):
			claimed++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 || claimed != 1 {
		t.Fatalf("expected one winner and one ErrAlreadyClaimed, got %d and %d", wins, claimed)
	}
}

func TestJobCancel(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)
	tenantID := uuid.New()

	queued, err := svc.Submit(ctx, SubmitInput{TenantID: tenantID, Type: domain.JobTypeHealthCheck})
	require.NoError(t, err)
	cancelled, err := svc.Cancel(ctx, queued.ID, "not needed")
	require.NoError(t, err)
	assert.Equal(t, domain.JobNeedsAttention, cancelled.Status)
	assert.True(t, cancelled.Metadata.Cancelled)
	assert.Equal(t, "not needed", cancelled.Metadata.CancelReason)

	running := submitAndClaim(t, svc, tenantID, domain.JobTypeIngestion)
	requested, err := svc.Cancel(ctx, running.ID, "owner asked")
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, requested.Status)
	assert.True(t, requested.Metadata.CancelRequested)

	done := submitAndClaim(t, svc, tenantID, domain.JobTypeIngestion)
	_, err = svc.Complete(ctx, done.ID, nil)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, done.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	requeued, err := svc.ForceRequeue(ctx, cancelled.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, requeued.Status)
	assert.False(t, requeued.Metadata.Cancelled)
	assert.Empty(t, requeued.Metadata.CancelReason)
}

func TestJobRetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)
	j, err := svc.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeIngestion, MaxAttempts: 1})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, j.ID, "w")
	require.NoError(t, err)
	failed, err := svc.Fail(ctx, j.ID, "timeout", true)
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, failed.Status)
	_, err = svc.Retry(ctx, j.ID, 0)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, j.ID, "w")
	require.NoError(t, err)
	exhausted, err := svc.Fail(ctx, j.ID, "timeout", true)
	require.NoError(t, err)
	assert.Equal(t, domain.JobNeedsAttention, exhausted.Status)
	assert.Len(t, exhausted.Metadata.RetryHistory, 2)

	logs, err := svc.Logs(ctx, j.ID)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	assert.Equal(t, domain.LogWarning, last.Level)
	assert.Equal(t, "retry budget exhausted", last.Message)

	requeued, err := svc.ForceRequeue(ctx, j.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, 0, requeued.Attempts)
}

func TestJobNonRetryablePattern(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)
	j := submitAndClaim(t, svc, uuid.New(), domain.JobTypeIngestion)

	out, err := svc.FailAndRetry(ctx, j.ID, "Invalid URL: missing scheme", true)
	require.NoError(t, err)
	assert.Equal(t, domain.JobNeedsAttention, out.Status)

	logs, err := svc.Logs(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "non-retryable error", logs[len(logs)-1].Message)
}

func TestJobBackoffGatesClaimNext(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)
	tenantID := uuid.New()
	j := submitAndClaim(t, svc, tenantID, domain.JobTypeIngestion)

	_, err := svc.FailAndRetry(ctx, j.ID, "connection reset", true)
	require.NoError(t, err)

	next, err := svc.ClaimNext(ctx, domain.ClaimOpts{WorkerID: "w"})
	require.NoError(t, err)
	assert.Nil(t, next, "job should wait out its backoff")

	later := time.Now().Add(defaultBackoffBase + time.Minute)
	svc.SetClock(func() time.Time { return later })
	next, err = svc.ClaimNext(ctx, domain.ClaimOpts{WorkerID: "w"})
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, j.ID, next.ID)
	assert.Equal(t, 1, next.Attempts)
}

func TestJobDeadLetterReplay(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)
	tenantID := uuid.New()

	for i := 0; i < 3; i++ {
		j := submitAndClaim(t, svc, tenantID, domain.JobTypeIngestion)
		_, err := svc.Fail(ctx, j.ID, "parser crashed", false)
		require.NoError(t, err)
	}
	_, err := svc.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeIngestion})
	require.NoError(t, err)

	dead, err := svc.DeadLetters(ctx, tenantID, 0)
	require.NoError(t, err)
	assert.Len(t, dead, 3)

	n, err := svc.ReplayDeadLetters(ctx, tenantID, 2, "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := svc.Stats(ctx, &tenantID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[domain.JobQueued])
	assert.Equal(t, 1, stats[domain.JobNeedsAttention])
	assert.Equal(t, 0, stats[domain.JobComplete])
}

func TestJobSubmitValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)

	_, err := svc.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: "transcode"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad := 1.5
	_, err = svc.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeOther, Metadata: domain.JobMetadata{Progress: &bad}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	j, err := svc.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeOther})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, j.Priority)
	assert.Equal(t, domain.DefaultMaxAttempts, j.MaxAttempts)

	_, err = svc.GetForTenant(ctx, uuid.New(), j.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobReportProgress(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestJobService(t)
	j := submitAndClaim(t, svc, uuid.New(), domain.JobTypeIngestion)

	p := 0.5
	out, err := svc.ReportProgress(ctx, j.ID, &p, domain.JobMetadata{Extra: map[string]any{"stage": "embedding"}})
	require.NoError(t, err)
	require.NotNil(t, out.Metadata.Progress)
	assert.Equal(t, 0.5, *out.Metadata.Progress)
	assert.Equal(t, "embedding", out.Metadata.Extra["stage"])
	assert.Equal(t, "worker-1", out.Metadata.ClaimedBy)

	_, err = svc.Complete(ctx, j.ID, nil)
	require.NoError(t, err)
	_, err = svc.ReportProgress(ctx, j.ID, &p, domain.JobMetadata{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRetryPolicyBackoffAndPatterns(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 30*time.Second, p.Backoff(0))
	assert.Equal(t, 60*time.Second, p.Backoff(1))
	assert.Equal(t, 240*time.Second, p.Backoff(3))
	assert.Equal(t, 300*time.Second, p.Backoff(4))
	assert.Equal(t, 300*time.Second, p.Backoff(40))

	assert.True(t, p.IsNonRetryable("Video requires authentication"))
	assert.False(t, p.IsNonRetryable("connection reset by peer"))

	policies, err := ParseRetryPolicies([]byte(`
default:
  max_attempts: 5
job_types:
  health_check:
    max_attempts: 1
    base_delay: 5s
`))
	require.NoError(t, err)
	assert.Equal(t, 5, policies.For(domain.JobTypeIngestion).MaxAttempts)
	hc := policies.For(domain.JobTypeHealthCheck)
	assert.Equal(t, 1, hc.MaxAttempts)
	assert.Equal(t, 5*time.Second, hc.Backoff(0))
	assert.Equal(t, 300*time.Second, hc.MaxDelay)

	_, err = ParseRetryPolicies([]byte("job_types:\n  transcode:\n    max_attempts: 2\n"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
