package service

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestSweeperRecoversAbandonedJobs(t *testing.T) {
	ctx := context.Background()
	jobs, _ := newTestJobService(t)
	tenantID := uuid.New()

	abandoned := submitAndClaim(t, jobs, tenantID, domain.JobTypeIngestion)
	lost := submitAndClaim(t, jobs, tenantID, domain.JobTypeReindex)
	if _, err := jobs.Fail(ctx, lost.ID, "connection reset", true); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	fresh := submitAndClaim(t, jobs, tenantID, domain.JobTypeIngestion)

	sweeper := NewSweeperService(jobs, zap.NewNop())
	if res := sweeper.RunOnce(ctx); res.Expired != 0 || res.Requeued != 0 {
		t.Fatalf("expected nothing to sweep yet, got %+v", res)
	}

	later := time.Now().Add(20 * time.Minute)
	jobs.SetClock(func() time.Time { return later })
	if _, err := jobs.ReportProgress(ctx, fresh.ID, nil, domain.JobMetadata{}); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}

	res := sweeper.RunOnce(ctx)
	if res.Expired != 1 || res.Requeued != 1 {
		t.Fatalf("expected 1 expired and 1 requeued, got %+v", res)
	}

	got, err := jobs.Get(ctx, abandoned.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobQueued || got.Attempts != 1 {
		t.Fatalf("expected abandoned job re-queued with attempts 1, got %s/%d", got.Status, got.Attempts)
	}
	if len(got.Metadata.RetryHistory) != 1 || got.Metadata.RetryHistory[0].Error != leaseExpiredMessage {
		t.Fatalf("expected lease expiry in retry history, got %+v", got.Metadata.RetryHistory)
	}

	got, err = jobs.Get(ctx, lost.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobQueued {
		t.Fatalf("expected lost retry re-queued, got %s", got.Status)
	}

	got, err = jobs.Get(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobProcessing {
		t.Fatalf("expected heartbeating job untouched, got %s", got.Status)
	}
}

func TestSweeperStartStop(t *testing.T) {
	jobs, _ := newTestJobService(t)
	s := NewSweeperService(jobs, zap.NewNop())
	s.SetInterval(10 * time.Millisecond)
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
