package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBelief(tenantID uuid.UUID, topic, value string, status domain.RecordStatus, from time.Time) *domain.Belief {
	return &domain.Belief{
		TenantID:   tenantID,
		Topic:      topic,
		MemoryType: domain.MemoryTypeFact,
		Value:      value,
		Envelope: domain.Envelope{
			Status:        status,
			EffectiveFrom: from,
			Provenance:    domain.Provenance{SourceType: domain.SourceDoc, SourceID: "doc-1"},
		},
	}
}

func TestBeliefSupersessionHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	db.SetClock(newStepClock().Now)
	s := NewBeliefStore(db)
	tenantID := uuid.New()

	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	first := testBelief(tenantID, "Pricing", "$100", domain.StatusActive, t1)
	require.NoError(t, s.Insert(ctx, first, nil))
	assert.Equal(t, 1, first.Revision)
	assert.Equal(t, "pricing", first.Topic)

	second := testBelief(tenantID, "pricing", "$120", domain.StatusVerified, t2)
	second.Provenance = domain.Provenance{SourceType: domain.SourceRevision, SourceID: "owner"}
	require.NoError(t, s.Insert(ctx, second, &domain.Supersession{PriorID: first.ID, PriorRevision: first.Revision}))
	assert.Equal(t, 2, second.Revision)

	key := domain.BeliefKey{TenantID: tenantID, Topic: "pricing"}
	history, err := s.History(ctx, key)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, domain.StatusSuperseded, history[0].Status)
	require.NotNil(t, history[0].EffectiveTo)
	assert.True(t, history[0].EffectiveTo.Equal(history[1].EffectiveFrom))
	assert.Equal(t, domain.StatusVerified, history[1].Status)
	assert.Nil(t, history[1].EffectiveTo)

	cur, err := s.GetCurrent(ctx, key, t2.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, second.ID, cur.ID)

	past, err := s.GetCurrent(ctx, key, t1.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, past.ID)

	_, err = s.GetCurrent(ctx, key, t1.Add(-time.Hour))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	trs, err := s.Transitions(ctx, tenantID, first.ID)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	assert.Equal(t, domain.StatusActive, trs[0].ToStatus)
	assert.Equal(t, domain.StatusSuperseded, trs[1].ToStatus)
}

func TestBeliefStaleSupersessionConflicts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewBeliefStore(db)
	tenantID := uuid.New()
	now := time.Now().UTC()

	first := testBelief(tenantID, "pricing", "$100", domain.StatusActive, now)
	require.NoError(t, s.Insert(ctx, first, nil))

	second := testBelief(tenantID, "pricing", "$120", domain.StatusVerified, now.Add(time.Second))
	require.NoError(t, s.Insert(ctx, second, &domain.Supersession{PriorID: first.ID, PriorRevision: 1}))

	third := testBelief(tenantID, "pricing", "$130", domain.StatusVerified, now.Add(2*time.Second))
	err := s.Insert(ctx, third, &domain.Supersession{PriorID: first.ID, PriorRevision: 1})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestBeliefSecondCurrentRejectedByIndex(t *testing.T) {
	ctx := context.Background()
	s := NewBeliefStore(openTestDB(t))
	tenantID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, s.Insert(ctx, testBelief(tenantID, "pricing", "$100", domain.StatusActive, now), nil))
	err := s.Insert(ctx, testBelief(tenantID, "pricing", "$120", domain.StatusActive, now.Add(time.Second)), nil)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestBeliefBackdatedRevisionRejected(t *testing.T) {
	ctx := context.Background()
	s := NewBeliefStore(openTestDB(t))
	tenantID := uuid.New()
	now := time.Now().UTC()

	first := testBelief(tenantID, "pricing", "$100", domain.StatusActive, now)
	require.NoError(t, s.Insert(ctx, first, nil))

	early := testBelief(tenantID, "pricing", "$90", domain.StatusVerified, now.Add(-time.Hour))
	err := s.Insert(ctx, early, &domain.Supersession{PriorID: first.ID, PriorRevision: 1})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBeliefIllegalTransition(t *testing.T) {
	ctx := context.Background()
	s := NewBeliefStore(openTestDB(t))
	tenantID := uuid.New()
	actor := domain.Provenance{SourceType: domain.SourceRevision, SourceID: "owner"}

	b := testBelief(tenantID, "pricing", "$100", domain.StatusProposed, time.Now().UTC())
	require.NoError(t, s.Insert(ctx, b, nil))

	retracted, err := s.TransitionStatus(ctx, tenantID, b.ID, domain.StatusRetracted, actor, "wrong", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetracted, retracted.Status)
	assert.NotNil(t, retracted.EffectiveTo)

	_, err = s.TransitionStatus(ctx, tenantID, b.ID, domain.StatusActive, actor, "", nil)
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	_, err = s.TransitionStatus(ctx, tenantID, b.ID, domain.StatusProposed, actor, "", nil)
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected re-proposal via transition to be rejected, got %v", err)
	}
}

func TestBeliefVerifyClosesPrior(t *testing.T) {
	ctx := context.Background()
	s := NewBeliefStore(openTestDB(t))
	tenantID := uuid.New()
	now := time.Now().UTC()
	actor := domain.Provenance{SourceType: domain.SourceRevision, SourceID: "owner"}

	current := testBelief(tenantID, "pricing", "$100", domain.StatusActive, now)
	require.NoError(t, s.Insert(ctx, current, nil))
	proposal := testBelief(tenantID, "pricing", "$120", domain.StatusProposed, now.Add(time.Minute))
	require.NoError(t, s.Insert(ctx, proposal, nil))

	verified, err := s.TransitionStatus(ctx, tenantID, proposal.ID, domain.StatusVerified, actor, "owner verified",
		&domain.Supersession{PriorID: current.ID, PriorRevision: current.Revision})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, verified.Status)

	prior, err := s.GetByID(ctx, tenantID, current.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuperseded, prior.Status)
	require.NotNil(t, prior.EffectiveTo)
	assert.True(t, prior.EffectiveTo.Equal(proposal.EffectiveFrom))
}

func TestBeliefListCurrentActiveIncludesVerified(t *testing.T) {
	ctx := context.Background()
	s := NewBeliefStore(openTestDB(t))
	tenantID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, s.Insert(ctx, testBelief(tenantID, "pricing", "$100", domain.StatusVerified, now), nil))
	require.NoError(t, s.Insert(ctx, testBelief(tenantID, "location", "Berlin", domain.StatusActive, now), nil))
	require.NoError(t, s.Insert(ctx, testBelief(tenantID, "hobby", "chess", domain.StatusProposed, now), nil))

	active := domain.StatusActive
	list, err := s.ListCurrent(ctx, tenantID, domain.BeliefListOpts{Status: &active})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	all, err := s.ListCurrent(ctx, tenantID, domain.BeliefListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
