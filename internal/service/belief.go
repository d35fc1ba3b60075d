package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/events"
	"github.com/Harshitk-cp/twinledger/internal/keylock"
	"github.com/Harshitk-cp/twinledger/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BeliefService is the single write path for owner beliefs. Writes to one
// (tenant, subject, topic) key are serialized in process; the store's
// conditional close-out guards against writers in other processes.
type BeliefService struct {
	store   domain.BeliefStore
	locks   *keylock.Map
	events  domain.EventPublisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewBeliefService(store domain.BeliefStore, logger *zap.Logger) *BeliefService {
	return &BeliefService{
		store:  store,
		locks:  keylock.New(),
		events: events.Noop{},
		logger: logger,
		now:    time.Now,
	}
}

func (s *BeliefService) SetEventPublisher(p domain.EventPublisher) {
	s.events = p
}

func (s *BeliefService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *BeliefService) SetClock(now func() time.Time) {
	s.now = now
}

// BeliefInput carries the caller-supplied fields of a new belief revision.
type BeliefInput struct {
	TenantID      uuid.UUID
	SubjectKey    string
	Topic         string
	Value         string
	MemoryType    domain.MemoryType
	Stance        *domain.Stance
	Intensity     *int
	Confidence    *float64
	Metadata      map[string]any
	Provenance    domain.Provenance
	EffectiveFrom *time.Time
	// ExpectedRevision pins the revision a correction replaces.
	ExpectedRevision *int
}

func (in BeliefInput) key() domain.BeliefKey {
	return domain.BeliefKey{TenantID: in.TenantID, SubjectKey: in.SubjectKey, Topic: in.Topic}.Normalized()
}

func (in BeliefInput) belief(status domain.RecordStatus) *domain.Belief {
	b := &domain.Belief{
		TenantID:   in.TenantID,
		SubjectKey: in.SubjectKey,
		Topic:      in.Topic,
		MemoryType: in.MemoryType,
		Value:      in.Value,
		Stance:     in.Stance,
		Intensity:  in.Intensity,
		Confidence: in.Confidence,
		Metadata:   in.Metadata,
		Envelope: domain.Envelope{
			Status:     status,
			Provenance: in.Provenance,
		},
	}
	if in.EffectiveFrom != nil {
		b.EffectiveFrom = *in.EffectiveFrom
	}
	return b
}

// Propose writes a proposed revision. Nothing is closed out.
func (s *BeliefService) Propose(ctx context.Context, in BeliefInput) (*domain.Belief, error) {
	b := in.belief(domain.StatusProposed)
	if err := b.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(in.key().String())
	defer unlock()

	if err := s.store.Insert(ctx, b, nil); err != nil {
		return nil, err
	}
	s.written(ctx, "proposed", b)
	return b, nil
}

// Verify moves a proposed (or active) record to verified, closing the key's
// current record in the same transaction. A record whose effective_from falls
// inside another revision's tenure fails with ErrValidation and has to be
// proposed again.
func (s *BeliefService) Verify(ctx context.Context, tenantID, id uuid.UUID, owner domain.Provenance) (*domain.Belief, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	b, err := s.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(b.Key().String())
	defer unlock()

	sup, err := s.verifyPlan(ctx, b)
	if err != nil {
		return nil, err
	}
	verified, err := s.store.TransitionStatus(ctx, tenantID, id, domain.StatusVerified, owner, "verified by owner", sup)
	if err != nil {
		return nil, err
	}
	s.written(ctx, "verified", verified)
	return verified, nil
}

// CheckVerify reports whether Verify would accept the record right now,
// without writing anything.
func (s *BeliefService) CheckVerify(ctx context.Context, tenantID, id uuid.UUID) (*domain.Belief, error) {
	b, err := s.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifyPlan(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// verifyPlan validates verifying b and returns the supersession of the key's
// current record, if any.
func (s *BeliefService) verifyPlan(ctx context.Context, b *domain.Belief) (*domain.Supersession, error) {
	if !domain.CanTransitionRecord(b.Status, domain.StatusVerified) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, b.Status, domain.StatusVerified)
	}
	cur, err := s.currentOpen(ctx, b.Key())
	if err != nil {
		return nil, err
	}
	var sup *domain.Supersession
	if cur != nil && cur.ID != b.ID {
		if b.EffectiveFrom.Before(cur.EffectiveFrom) {
			return nil, fmt.Errorf("%w: belief %s predates the current revision %d; propose it again",
				domain.ErrValidation, b.ID, cur.Revision)
		}
		sup = &domain.Supersession{PriorID: cur.ID, PriorRevision: cur.Revision}
	}
	if err := s.checkTenure(ctx, b, cur); err != nil {
		return nil, err
	}
	return sup, nil
}

// checkTenure rejects verifying b when [b.effective_from, open) would overlap
// a closed interval during which another revision was in force. cur is the
// open record the verify supersedes.
func (s *BeliefService) checkTenure(ctx context.Context, b, cur *domain.Belief) error {
	history, err := s.store.History(ctx, b.Key().Normalized())
	if err != nil {
		return err
	}
	for i := range history {
		r := &history[i]
		if r.ID == b.ID || (cur != nil && r.ID == cur.ID) {
			continue
		}
		if r.EffectiveTo != nil && !r.EffectiveTo.After(b.EffectiveFrom) {
			continue
		}
		held, err := s.wasInForce(ctx, r)
		if err != nil {
			return err
		}
		if held {
			return fmt.Errorf("%w: belief %s predates revision %d, which was in force after it; propose it again",
				domain.ErrValidation, b.ID, r.Revision)
		}
	}
	return nil
}

// wasInForce reports whether r was ever the key's active or verified record.
func (s *BeliefService) wasInForce(ctx context.Context, r *domain.Belief) (bool, error) {
	switch r.Status {
	case domain.StatusActive, domain.StatusVerified, domain.StatusSuperseded:
		return true, nil
	case domain.StatusDeprecated:
		trs, err := s.store.Transitions(ctx, r.TenantID, r.ID)
		if err != nil {
			return false, err
		}
		for _, tr := range trs {
			if tr.ToStatus == domain.StatusDeprecated && (tr.FromStatus == domain.StatusActive || tr.FromStatus == domain.StatusVerified) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Correct supersedes the key's current record with a new verified revision.
func (s *BeliefService) Correct(ctx context.Context, in BeliefInput) (*domain.Belief, error) {
	key := in.key()
	if key.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", domain.ErrValidation)
	}

	// Read before locking: a writer that lands in between makes the
	// conditional close-out fail with ErrConflict.
	cur, err := s.currentOpen(ctx, key)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: no current belief for %q", domain.ErrNotFound, key.Topic)
	}
	sup := &domain.Supersession{PriorID: cur.ID, PriorRevision: cur.Revision}
	if in.ExpectedRevision != nil {
		sup.PriorRevision = *in.ExpectedRevision
	}

	if in.MemoryType == "" {
		in.MemoryType = cur.MemoryType
	}
	b := in.belief(domain.StatusVerified)
	if err := b.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	if err := s.store.Insert(ctx, b, sup); err != nil {
		return nil, err
	}
	s.written(ctx, "corrected", b)
	return b, nil
}

func (s *BeliefService) Retract(ctx context.Context, tenantID, id uuid.UUID, actor domain.Provenance, reason string) (*domain.Belief, error) {
	return s.transition(ctx, tenantID, id, domain.StatusRetracted, actor, reason, "retracted")
}

func (s *BeliefService) Deprecate(ctx context.Context, tenantID, id uuid.UUID, actor domain.Provenance, reason string) (*domain.Belief, error) {
	return s.transition(ctx, tenantID, id, domain.StatusDeprecated, actor, reason, "deprecated")
}

func (s *BeliefService) transition(ctx context.Context, tenantID, id uuid.UUID, to domain.RecordStatus, actor domain.Provenance, reason, op string) (*domain.Belief, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	b, err := s.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(b.Key().String())
	defer unlock()

	out, err := s.store.TransitionStatus(ctx, tenantID, id, to, actor, reason, nil)
	if err != nil {
		return nil, err
	}
	s.written(ctx, op, out)
	return out, nil
}

// Repropose writes a new proposed revision carrying a retracted or
// deprecated record's payload. The old record stays closed.
func (s *BeliefService) Repropose(ctx context.Context, tenantID, id uuid.UUID, prov domain.Provenance) (*domain.Belief, error) {
	if err := prov.Validate(); err != nil {
		return nil, err
	}
	old, err := s.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionRecord(old.Status, domain.StatusProposed) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, old.Status, domain.StatusProposed)
	}

	meta := make(map[string]any, len(old.Metadata)+1)
	for k, v := range old.Metadata {
		meta[k] = v
	}
	meta["reproposed_from"] = old.ID.String()

	b := &domain.Belief{
		TenantID:   old.TenantID,
		SubjectKey: old.SubjectKey,
		Topic:      old.Topic,
		MemoryType: old.MemoryType,
		Value:      old.Value,
		Stance:     old.Stance,
		Intensity:  old.Intensity,
		Confidence: old.Confidence,
		Metadata:   meta,
		Envelope:   domain.Envelope{Status: domain.StatusProposed, Provenance: prov},
	}

	unlock := s.locks.Lock(old.Key().String())
	defer unlock()

	if err := s.store.Insert(ctx, b, nil); err != nil {
		return nil, err
	}
	s.written(ctx, "reproposed", b)
	return b, nil
}

func (s *BeliefService) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Belief, error) {
	return s.store.GetByID(ctx, tenantID, id)
}

// GetCurrent answers "what was believed about key as of asOf"; a nil asOf means now.
func (s *BeliefService) GetCurrent(ctx context.Context, key domain.BeliefKey, asOf *time.Time) (*domain.Belief, error) {
	at := s.now()
	if asOf != nil {
		at = *asOf
	}
	return s.store.GetCurrent(ctx, key.Normalized(), at)
}

// CurrentVerified returns the key's open verified record, or nil.
func (s *BeliefService) CurrentVerified(ctx context.Context, key domain.BeliefKey) (*domain.Belief, error) {
	cur, err := s.currentOpen(ctx, key.Normalized())
	if err != nil || cur == nil || cur.Status != domain.StatusVerified {
		return nil, err
	}
	return cur, nil
}

func (s *BeliefService) History(ctx context.Context, key domain.BeliefKey) ([]domain.Belief, error) {
	return s.store.History(ctx, key.Normalized())
}

func (s *BeliefService) Transitions(ctx context.Context, tenantID, id uuid.UUID) ([]domain.StatusTransition, error) {
	return s.store.Transitions(ctx, tenantID, id)
}

func (s *BeliefService) ListCurrent(ctx context.Context, tenantID uuid.UUID, opts domain.BeliefListOpts) ([]domain.Belief, error) {
	if opts.MemoryType != nil && !domain.ValidMemoryType(string(*opts.MemoryType)) {
		return nil, fmt.Errorf("%w: invalid memory_type %q", domain.ErrValidation, *opts.MemoryType)
	}
	if opts.Status != nil && !domain.ValidRecordStatus(string(*opts.Status)) {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, *opts.Status)
	}
	return s.store.ListCurrent(ctx, tenantID, opts)
}

// currentOpen returns the key's open active/verified record, or nil.
func (s *BeliefService) currentOpen(ctx context.Context, key domain.BeliefKey) (*domain.Belief, error) {
	cur, err := s.store.GetCurrent(ctx, key, s.now())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !cur.IsCurrent() {
		return nil, nil
	}
	return cur, nil
}

func (s *BeliefService) written(ctx context.Context, op string, b *domain.Belief) {
	s.metrics.BeliefWrite(op)
	s.events.Publish(ctx, b.TenantID, "belief."+op, b)
	s.logger.Debug("belief written",
		zap.String("op", op),
		zap.String("belief_id", b.ID.String()),
		zap.String("topic", b.Topic),
		zap.Int("revision", b.Revision))
}
