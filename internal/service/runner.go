package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRunnerConcurrency = 2
	defaultRunnerPoll        = time.Second
	defaultJobTimeout        = 5 * time.Minute
	defaultDrainMax          = 100
	recordTimeout            = 10 * time.Second

	cancelledMessage = "cancelled"
	shutdownMessage  = "interrupted by runner shutdown"
)

// JobHandler runs one claimed job. The returned metadata is merged into the
// job on completion.
type JobHandler interface {
	Handle(ctx context.Context, job *domain.Job) (*domain.JobMetadata, error)
}

type JobHandlerFunc func(ctx context.Context, job *domain.Job) (*domain.JobMetadata, error)

func (f JobHandlerFunc) Handle(ctx context.Context, job *domain.Job) (*domain.JobMetadata, error) {
	return f(ctx, job)
}

// errHandlerPanic marks a recovered handler panic. Panics are never retried.
var errHandlerPanic = errors.New("job handler panicked")

// Runner is the worker pool that drains the job queue through registered
// handlers. Job types without a handler are left for someone else to claim.
type Runner struct {
	jobs     *JobService
	handlers map[domain.JobType]JobHandler
	logger   *zap.Logger

	workers  int
	poll     time.Duration
	timeout  time.Duration
	workerID string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(jobs *JobService, logger *zap.Logger) *Runner {
	return &Runner{
		jobs:     jobs,
		handlers: make(map[domain.JobType]JobHandler),
		logger:   logger,
		workers:  defaultRunnerConcurrency,
		poll:     defaultRunnerPoll,
		timeout:  defaultJobTimeout,
		workerID: "worker",
	}
}

func (r *Runner) Register(t domain.JobType, h JobHandler) {
	r.handlers[t] = h
}

func (r *Runner) SetConcurrency(n int) {
	if n > 0 {
		r.workers = n
	}
}

func (r *Runner) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.poll = d
	}
}

func (r *Runner) SetJobTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// SetWorkerID sets the prefix stamped into claimed_by.
func (r *Runner) SetWorkerID(id string) {
	if id != "" {
		r.workerID = id
	}
}

// Types lists the job types this runner will claim.
func (r *Runner) Types() []domain.JobType {
	types := make([]domain.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Start launches the worker pool in the background.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		g, gCtx := errgroup.WithContext(ctx)
		for i := 0; i < r.workers; i++ {
			id := fmt.Sprintf("%s-%d", r.workerID, i)
			g.Go(func() error {
				r.loop(gCtx, id)
				return nil
			})
		}
		r.logger.Info("job runner started",
			zap.Int("workers", r.workers),
			zap.Duration("poll_interval", r.poll),
			zap.Any("job_types", r.Types()))
		_ = g.Wait()
		r.logger.Info("job runner stopped")
	}()
}

// Stop cancels the workers and waits for them to exit. Jobs interrupted by
// the cancellation are failed as retryable and re-queued with backoff.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := r.RunOnce(ctx, workerID)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("worker iteration failed", zap.String("worker", workerID), zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.poll):
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// processed, whatever its outcome.
func (r *Runner) RunOnce(ctx context.Context, workerID string) (bool, error) {
	o, err := r.runNext(ctx, domain.ClaimOpts{Types: r.Types(), WorkerID: workerID})
	return o != nil, err
}

// outcome is what became of one claimed job.
type outcome struct {
	job   *domain.Job
	cause error
}

func (r *Runner) runNext(ctx context.Context, opts domain.ClaimOpts) (*outcome, error) {
	if len(opts.Types) == 0 {
		return nil, nil
	}
	job, err := r.jobs.ClaimNext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	return r.process(ctx, job)
}

// process runs the handler for a claimed job and records the outcome. A
// handler error is an outcome, not an error of process. Outcomes are recorded
// on a context detached from ctx so a stopping runner still leaves the job in
// an explained state.
func (r *Runner) process(ctx context.Context, job *domain.Job) (*outcome, error) {
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer rcancel()

	h, ok := r.handlers[job.Type]
	if !ok {
		cause := fmt.Errorf("no handler for job_type %q", job.Type)
		out, err := r.jobs.Fail(rctx, job.ID, cause.Error(), false)
		return &outcome{job: out, cause: cause}, err
	}

	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, r.timeout)
	result, herr := r.invoke(hctx, h, job)
	cancel()

	if herr != nil {
		retryable := domain.IsRetryable(herr) && !errors.Is(herr, errHandlerPanic)
		message := herr.Error()
		if ctx.Err() != nil && errors.Is(herr, context.Canceled) {
			retryable = true
			message = shutdownMessage + ": " + message
		}
		r.logger.Warn("job handler failed",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
			zap.Bool("retryable", retryable),
			zap.Error(herr))
		out, err := r.jobs.FailAndRetry(rctx, job.ID, message, retryable)
		if err != nil {
			r.logger.Error("recording job failure",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
		}
		return &outcome{job: out, cause: herr}, err
	}

	// Cancellation is cooperative: a request that arrived while the handler
	// ran wins over its result.
	cur, err := r.jobs.Get(rctx, job.ID)
	if err != nil {
		return nil, err
	}
	if cur.Metadata.CancelRequested {
		out, err := r.jobs.Fail(rctx, job.ID, cancelledMessage, false)
		return &outcome{job: out, cause: errors.New(cancelledMessage)}, err
	}

	done, err := r.jobs.Complete(rctx, job.ID, result)
	if err != nil {
		return nil, err
	}
	r.logger.Info("job completed",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Duration("duration", time.Since(start)))
	return &outcome{job: done}, nil
}

func (r *Runner) invoke(ctx context.Context, h JobHandler, job *domain.Job) (result *domain.JobMetadata, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job handler panicked",
				zap.String("job_id", job.ID.String()),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			result, err = nil, fmt.Errorf("%w: %v", errHandlerPanic, p)
		}
	}()
	return h.Handle(ctx, job)
}

// Drain processes claimable jobs synchronously until the queue is empty or
// limit jobs have run.
func (r *Runner) Drain(ctx context.Context, tenantID *uuid.UUID, limit int) (*domain.DrainResult, error) {
	if limit <= 0 {
		limit = defaultDrainMax
	}
	res := &domain.DrainResult{Errors: []string{}}
	opts := domain.ClaimOpts{Types: r.Types(), TenantID: tenantID, WorkerID: r.workerID + "-drain"}

	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o, err := r.runNext(ctx, opts)
		if err != nil {
			return nil, err
		}
		if o == nil {
			break
		}
		if o.cause == nil {
			res.Processed++
			continue
		}
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", o.job.ID, o.cause))
	}

	stats, err := r.jobs.Stats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	res.Remaining = stats[domain.JobQueued]
	return res, nil
}
