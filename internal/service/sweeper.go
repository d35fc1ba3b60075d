package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultSweeperInterval = 1 * time.Minute
	defaultStaleAfter      = 15 * time.Minute
	// failedGrace is how long a failed job may sit before the sweeper
	// assumes its automatic retry was lost.
	failedGrace    = 1 * time.Minute
	sweepBatchSize = 100

	leaseExpiredMessage = "claim lease expired"
)

// SweeperService recovers jobs whose worker went away: processing jobs with
// no heartbeat for staleAfter, and failed jobs nobody re-queued.
type SweeperService struct {
	jobs   *JobService
	logger *zap.Logger

	interval   time.Duration
	staleAfter time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewSweeperService(jobs *JobService, logger *zap.Logger) *SweeperService {
	return &SweeperService{
		jobs:       jobs,
		logger:     logger,
		interval:   defaultSweeperInterval,
		staleAfter: defaultStaleAfter,
		stopCh:     make(chan struct{}),
	}
}

func (s *SweeperService) SetInterval(d time.Duration) {
	s.interval = d
}

func (s *SweeperService) SetStaleAfter(d time.Duration) {
	s.staleAfter = d
}

// Start runs the sweeper on a periodic schedule in a background goroutine.
func (s *SweeperService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("job sweeper started",
			zap.Duration("interval", s.interval),
			zap.Duration("stale_after", s.staleAfter))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.RunOnce(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("job sweeper stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the sweeper.
func (s *SweeperService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

type SweepResult struct {
	Expired  int `json:"expired"`
	Requeued int `json:"requeued"`
}

func (s *SweeperService) RunOnce(ctx context.Context) SweepResult {
	var res SweepResult
	now := s.jobs.Now()

	// 1. Fail processing jobs whose worker stopped heartbeating
	stale, err := s.jobs.ListStale(ctx, domain.JobProcessing, now.Add(-s.staleAfter), sweepBatchSize)
	if err != nil {
		s.logger.Error("failed to list stale jobs", zap.Error(err))
	}
	for _, j := range stale {
		out, err := s.jobs.FailAndRetry(ctx, j.ID, leaseExpiredMessage, true)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				s.logger.Warn("failed to expire stale job", zap.String("job_id", j.ID.String()), zap.Error(err))
			}
			continue
		}
		res.Expired++
		s.logger.Info("expired stale job",
			zap.String("job_id", j.ID.String()),
			zap.String("claimed_by", j.Metadata.ClaimedBy),
			zap.String("status", string(out.Status)))
	}

	// 2. Re-queue failed jobs whose retry never happened
	failed, err := s.jobs.ListStale(ctx, domain.JobFailed, now.Add(-failedGrace), sweepBatchSize)
	if err != nil {
		s.logger.Error("failed to list failed jobs", zap.Error(err))
		return res
	}
	for i := range failed {
		if _, err := s.jobs.RetryAfterBackoff(ctx, &failed[i]); err != nil {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				s.logger.Warn("failed to re-queue failed job", zap.String("job_id", failed[i].ID.String()), zap.Error(err))
			}
			continue
		}
		res.Requeued++
	}
	if res.Requeued > 0 {
		s.logger.Info("re-queued failed jobs", zap.Int("count", res.Requeued))
	}
	return res
}
