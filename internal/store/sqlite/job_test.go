package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
)

func createJob(t *testing.T, s *JobStore, tenantID uuid.UUID, priority int) *domain.Job {
	t.Helper()
	j := &domain.Job{
		TenantID:    tenantID,
		Type:        domain.JobTypeIngestion,
		Priority:    priority,
		MaxAttempts: domain.DefaultMaxAttempts,
	}
	if err := s.Create(context.Background(), j, &domain.JobLogEntry{Level: domain.LogInfo, Message: "job submitted"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return j
}

func TestClaimNextPriorityOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	clock := newStepClock()
	db.SetClock(clock.Now)
	s := NewJobStore(db)
	tenantID := uuid.New()

	var fives []uuid.UUID
	for _, p := range []int{1, 5, 3} {
		j := createJob(t, s, tenantID, p)
		if p == 5 {
			fives = append(fives, j.ID)
		}
	}
	fives = append(fives, createJob(t, s, tenantID, 5).ID)

	var got []int
	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		j, err := s.ClaimNext(ctx, domain.ClaimOpts{WorkerID: "w1"}, clock.Now())
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if j == nil {
			t.Fatalf("expected a job on claim %d", i)
		}
		got = append(got, j.Priority)
		ids = append(ids, j.ID)
	}

	want := []int{5, 5, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected priorities %v, got %v", want, got)
		}
	}
	if ids[0] != fives[0] || ids[1] != fives[1] {
		t.Fatalf("expected equal priorities in submission order")
	}

	j, err := s.ClaimNext(ctx, domain.ClaimOpts{}, clock.Now())
	if err != nil || j != nil {
		t.Fatalf("expected empty queue, got %v, %v", j, err)
	}
}

func TestClaimStampsMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore(openTestDB(t))
	j := createJob(t, s, uuid.New(), domain.PriorityNormal)

	claimed, err := s.ClaimNext(ctx, domain.ClaimOpts{WorkerID: "worker-7"}, time.Now())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed.ID != j.ID {
		t.Fatalf("expected job %s, got %s", j.ID, claimed.ID)
	}
	if claimed.Status != domain.JobProcessing || claimed.StartedAt == nil {
		t.Fatalf("expected processing with started_at, got %s %v", claimed.Status, claimed.StartedAt)
	}
	if claimed.Metadata.ClaimedBy != "worker-7" || claimed.Metadata.ClaimedAt == nil {
		t.Fatalf("expected claim metadata, got %+v", claimed.Metadata)
	}

	logs, err := s.Logs(ctx, j.ID)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Message != "job submitted" || logs[1].Message != "job claimed" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore(openTestDB(t))
	j := createJob(t, s, uuid.New(), domain.PriorityNormal)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Transition(ctx, domain.ClaimTransition(j.ID, "w", time.Now()))
		}(i)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrInvalidTransition):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected one winner and one loser, got %d/%d", wins, losses)
	}
}

func TestCompleteTwiceRejected(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore(openTestDB(t))
	j := createJob(t, s, uuid.New(), domain.PriorityNormal)

	if _, err := s.Transition(ctx, domain.ClaimTransition(j.ID, "w", time.Now())); err != nil {
		t.Fatalf("claim: %v", err)
	}
	complete := domain.JobTransition{JobID: j.ID, From: []domain.JobStatus{domain.JobProcessing}, To: domain.JobComplete}
	done, err := s.Transition(ctx, complete)
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	if _, err := s.Transition(ctx, complete); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRunAfterGatesClaim(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore(openTestDB(t))
	now := time.Now().UTC()
	j := &domain.Job{TenantID: uuid.New(), Type: domain.JobTypeReindex, RunAfter: now.Add(time.Minute)}
	if err := s.Create(ctx, j, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.ClaimNext(ctx, domain.ClaimOpts{}, now)
	if err != nil || got != nil {
		t.Fatalf("expected no eligible job before run_after, got %v, %v", got, err)
	}
	got, err = s.ClaimNext(ctx, domain.ClaimOpts{}, now.Add(2*time.Minute))
	if err != nil || got == nil {
		t.Fatalf("expected job after run_after, got %v, %v", got, err)
	}
}

func TestClaimNextFiltersTypeAndTenant(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore(openTestDB(t))
	a, b := uuid.New(), uuid.New()
	createJob(t, s, a, domain.PriorityHigh)
	want := createJob(t, s, b, domain.PriorityLow)

	got, err := s.ClaimNext(ctx, domain.ClaimOpts{TenantID: &b, Types: []domain.JobType{domain.JobTypeIngestion}}, time.Now())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got == nil || got.ID != want.ID {
		t.Fatalf("expected tenant b's job, got %v", got)
	}

	none, err := s.ClaimNext(ctx, domain.ClaimOpts{Types: []domain.JobType{domain.JobTypeHealthCheck}}, time.Now())
	if err != nil || none != nil {
		t.Fatalf("expected no health_check job, got %v, %v", none, err)
	}
}

func TestCountByStatusAndStale(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	clock := newStepClock()
	db.SetClock(clock.Now)
	s := NewJobStore(db)
	tenantID := uuid.New()

	createJob(t, s, tenantID, domain.PriorityNormal)
	claimed := createJob(t, s, tenantID, domain.PriorityHigh)
	if _, err := s.ClaimNext(ctx, domain.ClaimOpts{}, clock.Now()); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	counts, err := s.CountByStatus(ctx, &tenantID)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[domain.JobQueued] != 1 || counts[domain.JobProcessing] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	stale, err := s.ListStale(ctx, domain.JobProcessing, clock.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != claimed.ID {
		t.Fatalf("expected the claimed job to be stale, got %v", stale)
	}
}
