package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/embedding"
	"github.com/Harshitk-cp/twinledger/internal/store/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type runnerFixture struct {
	runner *Runner
	jobs   *JobService
	docs   *sqlite.DocumentStore
}

func newRunnerFixture(t *testing.T) runnerFixture {
	t.Helper()
	db := openTestDB(t)
	jobs := NewJobService(sqlite.NewJobStore(db), zap.NewNop())
	docs := sqlite.NewDocumentStore(db)
	runner := NewRunner(jobs, zap.NewNop())

	ingest := NewIngestHandler(docs, embedding.NewMockClient(), zap.NewNop())
	ingest.SetProgressReporter(jobs)
	runner.Register(domain.JobTypeIngestion, ingest)
	runner.Register(domain.JobTypeReindex, ingest)
	runner.Register(domain.JobTypeHealthCheck, NewHealthCheckHandler(docs, zap.NewNop()))
	return runnerFixture{runner: runner, jobs: jobs, docs: docs}
}

func (f runnerFixture) createDocument(t *testing.T, tenantID uuid.UUID, content string) *domain.Document {
	t.Helper()
	doc := &domain.Document{TenantID: tenantID, Title: "FAQ", SourceType: domain.SourceDoc, Content: content}
	require.NoError(t, f.docs.Create(context.Background(), doc))
	return doc
}

func (f runnerFixture) submit(t *testing.T, tenantID uuid.UUID, jobType domain.JobType, sourceID string) *domain.Job {
	t.Helper()
	j, err := f.jobs.Submit(context.Background(), SubmitInput{TenantID: tenantID, Type: jobType, SourceID: &sourceID})
	require.NoError(t, err)
	return j
}

func longText(paragraphs int) string {
	parts := make([]string, paragraphs)
	for i := range parts {
		parts[i] = fmt.Sprintf("Paragraph %d explains how the pro plan handles billing, refunds and seat limits for growing teams. ", i) +
			strings.Repeat("More detail about invoices. ", 10)
	}
	return strings.Join(parts, "\n\n")
}

func TestRunnerIngestsDocument(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	tenantID := uuid.New()
	doc := f.createDocument(t, tenantID, longText(6))
	j := f.submit(t, tenantID, domain.JobTypeIngestion, doc.ID.String())

	processed, err := f.runner.RunOnce(ctx, "w-0")
	require.NoError(t, err)
	require.True(t, processed)

	done, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, done.Status)
	require.NotNil(t, done.Metadata.ChunksCreated)
	assert.Greater(t, *done.Metadata.ChunksCreated, 1)
	require.NotNil(t, done.Metadata.Progress)
	assert.Equal(t, 1.0, *done.Metadata.Progress)
	assert.Equal(t, "w-0", done.Metadata.ClaimedBy)

	stored, err := f.docs.GetByID(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, *done.Metadata.ChunksCreated, stored.ChunkCount)

	processed, err = f.runner.RunOnce(ctx, "w-0")
	require.NoError(t, err)
	assert.False(t, processed, "queue should be empty")
}

func TestRunnerEmptyDocumentNeedsAttention(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	tenantID := uuid.New()
	doc := f.createDocument(t, tenantID, "   ")
	j := f.submit(t, tenantID, domain.JobTypeIngestion, doc.ID.String())

	_, err := f.runner.RunOnce(ctx, "w-0")
	require.NoError(t, err)

	out, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobNeedsAttention, out.Status)
	require.NotNil(t, out.ErrorMessage)
	assert.Contains(t, *out.ErrorMessage, "no text extracted")
}

func TestRunnerRetryableFailureRequeuesWithBackoff(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	calls := 0
	f.runner.Register(domain.JobTypeOther, JobHandlerFunc(func(ctx context.Context, job *domain.Job) (*domain.JobMetadata, error) {
		calls++
		return nil, fmt.Errorf("%w: upstream unavailable", domain.ErrInfrastructure)
	}))
	j, err := f.jobs.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeOther})
	require.NoError(t, err)

	_, err = f.runner.RunOnce(ctx, "w-0")
	require.NoError(t, err)

	out, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.RunAfter.After(out.UpdatedAt.Add(-1)))

	// Backoff keeps it from being picked up again straight away.
	processed, err := f.runner.RunOnce(ctx, "w-0")
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, 1, calls)

	logs, err := f.jobs.Logs(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countLogs(logs, domain.LogError))
}

func TestRunnerRecoversPanics(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	f.runner.Register(domain.JobTypeOther, JobHandlerFunc(func(ctx context.Context, job *domain.Job) (*domain.JobMetadata, error) {
		panic("boom")
	}))
	j, err := f.jobs.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeOther})
	require.NoError(t, err)

	processed, err := f.runner.RunOnce(ctx, "w-0")
	require.NoError(t, err)
	assert.True(t, processed)

	out, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobNeedsAttention, out.Status)
	assert.Contains(t, *out.ErrorMessage, "boom")
}

func TestRunnerHonoursCancelRequest(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	f.runner.Register(domain.JobTypeOther, JobHandlerFunc(func(ctx context.Context, job *domain.Job) (*domain.JobMetadata, error) {
		if _, err := f.jobs.Cancel(ctx, job.ID, "owner changed their mind"); err != nil {
			return nil, err
		}
		return &domain.JobMetadata{}, nil
	}))
	j, err := f.jobs.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeOther})
	require.NoError(t, err)

	_, err = f.runner.RunOnce(ctx, "w-0")
	require.NoError(t, err)

	out, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobNeedsAttention, out.Status)
	assert.Equal(t, cancelledMessage, *out.ErrorMessage)
}

func TestRunnerSkipsEscalationReviews(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	j, err := f.jobs.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeEscalationReview})
	require.NoError(t, err)

	processed, err := f.runner.RunOnce(ctx, "w-0")
	require.NoError(t, err)
	assert.False(t, processed)

	out, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, out.Status)
}

func TestRunnerDrain(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	tenantID := uuid.New()

	good := f.createDocument(t, tenantID, longText(2))
	empty := f.createDocument(t, tenantID, "")
	f.submit(t, tenantID, domain.JobTypeIngestion, good.ID.String())
	bad := f.submit(t, tenantID, domain.JobTypeIngestion, empty.ID.String())
	f.submit(t, tenantID, domain.JobTypeHealthCheck, good.ID.String())
	f.submit(t, uuid.New(), domain.JobTypeIngestion, uuid.New().String())

	res, err := f.runner.Drain(ctx, &tenantID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Remaining)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], bad.ID.String()))
}

func TestRunnerStartStop(t *testing.T) {
	f := newRunnerFixture(t)
	f.runner.SetConcurrency(3)
	f.runner.Start()
	f.runner.Start()
	f.runner.Stop()
	f.runner.Stop()
}

func TestRunnerStopRequeuesInterruptedJob(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	started := make(chan struct{})
	f.runner.Register(domain.JobTypeOther, JobHandlerFunc(func(ctx context.Context, job *domain.Job) (*domain.JobMetadata, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	j, err := f.jobs.Submit(ctx, SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeOther})
	require.NoError(t, err)

	f.runner.SetConcurrency(1)
	f.runner.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	f.runner.Stop()

	out, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, out.Status)
	assert.Equal(t, 1, out.Attempts)

	logs, err := f.jobs.Logs(ctx, j.ID)
	require.NoError(t, err)
	var explained bool
	for _, l := range logs {
		if l.Level == domain.LogError && strings.Contains(l.Message, shutdownMessage) {
			explained = true
		}
	}
	assert.True(t, explained, "expected an error log explaining the interruption")
}

func TestChunkText(t *testing.T) {
	short := "First paragraph.\n\nSecond paragraph."
	assert.Equal(t, []string{"First paragraph.\n\nSecond paragraph."}, ChunkText(short, 800, 100))

	chunks := ChunkText(longText(6), 800, 100)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 800)
	}

	long := strings.Repeat("abcdefghij", 25)
	windows := ChunkText(long, 100, 20)
	require.Len(t, windows, 3)
	assert.Equal(t, long[80:100], windows[1][:20], "windows should overlap")

	assert.Empty(t, ChunkText("  \n\n  ", 800, 100))
}

func TestCheckDocumentHealth(t *testing.T) {
	doc := &domain.Document{Content: longText(2), ChunkCount: 2}
	chunks := []domain.Chunk{{Text: "a"}, {Text: "b"}}
	assert.Equal(t, domain.HealthHealthy, CheckDocumentHealth(doc, chunks).Status)

	report := CheckDocumentHealth(&domain.Document{Content: "tiny", ChunkCount: 3}, []domain.Chunk{{Text: "x"}, {Text: "x"}, {Text: "x"}})
	assert.Equal(t, domain.HealthWarning, report.Status)
	assert.Len(t, report.Issues, 2)

	assert.Equal(t, domain.HealthFailed, CheckDocumentHealth(&domain.Document{Content: longText(1)}, nil).Status)
	assert.Equal(t, domain.HealthFailed, CheckDocumentHealth(&domain.Document{}, nil).Status)
}

func TestHealthCheckHandlerUpdatesDocument(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	tenantID := uuid.New()
	doc := f.createDocument(t, tenantID, longText(1))
	j := f.submit(t, tenantID, domain.JobTypeHealthCheck, doc.ID.String())

	_, err := f.runner.RunOnce(ctx, "w-0")
	require.NoError(t, err)

	out, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, out.Status)
	assert.Equal(t, string(domain.HealthFailed), out.Metadata.HealthStatus)

	stored, err := f.docs.GetByID(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthFailed, stored.HealthStatus)

	_, err = loadJobDocument(ctx, f.docs, &domain.Job{ID: uuid.New(), TenantID: tenantID})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
