package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/events"
	"github.com/Harshitk-cp/twinledger/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultEscalationThreshold = 0.7
	DefaultEscalationPriority  = domain.PriorityHigh

	escalationWorker   = "owner"
	escalationSourceID = "escalation-router"
)

type EscalationConfig struct {
	Threshold float64
	Priority  int
	// ProposeAnswers writes escalated answers as proposed beliefs.
	ProposeAnswers bool
}

func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		Threshold:      DefaultEscalationThreshold,
		Priority:       DefaultEscalationPriority,
		ProposeAnswers: true,
	}
}

// TopicForQuery maps a question onto the belief topic that would answer it.
func TopicForQuery(query string) string {
	return strings.TrimRight(domain.NormalizeKey(query), "?!. ")
}

// EscalationRouter decides whether an answer needs the owner and, if so,
// queues an escalation_review job for it.
type EscalationRouter struct {
	evaluator *ConfidenceEvaluator
	beliefs   *BeliefService
	jobs      *JobService
	cfg       EscalationConfig
	events    domain.EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewEscalationRouter(evaluator *ConfidenceEvaluator, beliefs *BeliefService, jobs *JobService, cfg EscalationConfig, logger *zap.Logger) *EscalationRouter {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultEscalationThreshold
	}
	return &EscalationRouter{
		evaluator: evaluator,
		beliefs:   beliefs,
		jobs:      jobs,
		cfg:       cfg,
		events:    events.Noop{},
		logger:    logger,
	}
}

func (r *EscalationRouter) SetEventPublisher(p domain.EventPublisher) {
	r.events = p
}

func (r *EscalationRouter) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

func (r *EscalationRouter) Config() EscalationConfig {
	return r.cfg
}

type RouteInput struct {
	TenantID   uuid.UUID
	SubjectKey string
	Query      string
	Answer     string
	Evidence   []domain.Evidence
	// Topic overrides the topic derived from Query.
	Topic string
}

type RouteDecision struct {
	Escalated        bool                 `json:"escalated"`
	Covered          bool                 `json:"covered"`
	Confidence       float64              `json:"confidence"`
	Threshold        float64              `json:"threshold"`
	Topic            string               `json:"topic"`
	Breakdown        *ConfidenceBreakdown `json:"breakdown,omitempty"`
	Job              *domain.Job          `json:"job,omitempty"`
	ProposedBeliefID *uuid.UUID           `json:"proposed_belief_id,omitempty"`
	VerifiedBeliefID *uuid.UUID           `json:"verified_belief_id,omitempty"`
}

// Route scores an answer and escalates it when confidence is below the
// threshold. Owner-verified coverage always wins over the score.
func (r *EscalationRouter) Route(ctx context.Context, in RouteInput) (*RouteDecision, error) {
	topic := in.Topic
	if topic == "" {
		topic = in.Query
	}
	topic = TopicForQuery(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrValidation)
	}
	d := &RouteDecision{Threshold: r.cfg.Threshold, Topic: topic}

	key := domain.BeliefKey{TenantID: in.TenantID, SubjectKey: in.SubjectKey, Topic: topic}
	verified, err := r.beliefs.CurrentVerified(ctx, key)
	if err != nil {
		return nil, err
	}
	if verified != nil {
		d.Covered, d.Confidence = true, 1.0
		d.VerifiedBeliefID = &verified.ID
		r.metrics.Escalation(false, d.Confidence)
		return d, nil
	}
	for _, ev := range in.Evidence {
		if ev.OwnerVerified {
			d.Covered, d.Confidence = true, 1.0
			r.metrics.Escalation(false, d.Confidence)
			return d, nil
		}
	}

	breakdown := r.evaluator.Explain(in.Evidence, in.Answer)
	d.Breakdown = &breakdown
	d.Confidence = breakdown.Score
	if d.Confidence >= r.cfg.Threshold {
		r.metrics.Escalation(false, d.Confidence)
		return d, nil
	}

	meta := domain.JobMetadata{
		Query:      in.Query,
		Answer:     in.Answer,
		Confidence: &d.Confidence,
		Topic:      topic,
		SubjectKey: key.Normalized().SubjectKey,
	}
	for _, ev := range in.Evidence {
		if ev.Ref != "" {
			meta.EvidenceRefs = append(meta.EvidenceRefs, ev.Ref)
		}
	}

	if r.cfg.ProposeAnswers && strings.TrimSpace(in.Answer) != "" {
		conf := d.Confidence
		proposed, err := r.beliefs.Propose(ctx, BeliefInput{
			TenantID:   in.TenantID,
			SubjectKey: in.SubjectKey,
			Topic:      topic,
			Value:      in.Answer,
			MemoryType: domain.MemoryTypeFact,
			Confidence: &conf,
			Metadata:   map[string]any{"query": in.Query},
			Provenance: domain.Provenance{SourceType: domain.SourceAutoExtract, SourceID: escalationSourceID},
		})
		if err != nil {
			return nil, fmt.Errorf("propose escalated answer: %w", err)
		}
		d.ProposedBeliefID = &proposed.ID
		meta.ProposedBeliefID = &proposed.ID
	}

	priority := r.cfg.Priority
	job, err := r.jobs.Submit(ctx, SubmitInput{
		TenantID: in.TenantID,
		Type:     domain.JobTypeEscalationReview,
		Priority: &priority,
		Metadata: meta,
	})
	if err != nil {
		return nil, fmt.Errorf("submit escalation review: %w", err)
	}
	d.Escalated = true
	d.Job = job

	r.metrics.Escalation(true, d.Confidence)
	r.events.Publish(ctx, in.TenantID, "escalation", d)
	r.logger.Info("answer escalated",
		zap.String("tenant_id", in.TenantID.String()),
		zap.String("job_id", job.ID.String()),
		zap.String("topic", topic),
		zap.Float64("confidence", d.Confidence))
	return d, nil
}

type ResolveInput struct {
	// OwnerAnswer is written as the verified belief. Ignored when
	// ApproveProposal is set.
	OwnerAnswer     string
	ApproveProposal bool
	Owner           domain.Provenance
}

type ResolveResult struct {
	Job    *domain.Job    `json:"job"`
	Belief *domain.Belief `json:"belief"`
}

// Resolve claims a queued review job, records the owner's answer as a
// verified belief and completes the job. The answer is checked against the
// key's belief state before the job is claimed, so a rejected request leaves
// the escalation queued. A resolution already written by an earlier attempt
// is reused rather than written twice.
func (r *EscalationRouter) Resolve(ctx context.Context, tenantID, jobID uuid.UUID, in ResolveInput) (*ResolveResult, error) {
	if err := in.Owner.Validate(); err != nil {
		return nil, err
	}
	job, err := r.reviewJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	meta := job.Metadata
	switch {
	case in.ApproveProposal && meta.ProposedBeliefID == nil:
		return nil, fmt.Errorf("%w: escalation has no proposed answer to approve", domain.ErrValidation)
	case !in.ApproveProposal && strings.TrimSpace(in.OwnerAnswer) == "":
		return nil, fmt.Errorf("%w: owner_answer or approve_proposal is required", domain.ErrValidation)
	}

	written, err := r.checkResolution(ctx, tenantID, job, in)
	if err != nil {
		return nil, err
	}

	if _, err := r.jobs.Claim(ctx, jobID, escalationWorker); err != nil {
		return nil, err
	}

	// The claim is held from here on; record what happens to it even if the
	// caller goes away.
	rctx := context.WithoutCancel(ctx)

	b, resolution := written, resolutionFor(in)
	if b == nil {
		b, err = r.writeResolution(ctx, tenantID, meta, in)
		if err != nil {
			r.release(rctx, jobID, err)
			return nil, err
		}
	}

	done, err := r.jobs.Complete(rctx, jobID, &domain.JobMetadata{
		Resolution: resolution,
		Extra:      map[string]any{"resolved_belief_id": b.ID.String()},
	})
	if err != nil {
		r.logger.Error("resolution written but escalation not completed",
			zap.String("job_id", jobID.String()),
			zap.String("belief_id", b.ID.String()),
			zap.Error(err))
		return nil, err
	}
	r.logger.Info("escalation resolved",
		zap.String("job_id", jobID.String()),
		zap.String("resolution", resolution),
		zap.String("belief_id", b.ID.String()))
	return &ResolveResult{Job: done, Belief: b}, nil
}

func resolutionFor(in ResolveInput) string {
	if in.ApproveProposal {
		return "approved"
	}
	return "answered"
}

// checkResolution validates the owner's input against current belief state.
// It returns the belief when an earlier attempt already wrote this
// resolution.
func (r *EscalationRouter) checkResolution(ctx context.Context, tenantID uuid.UUID, job *domain.Job, in ResolveInput) (*domain.Belief, error) {
	meta := job.Metadata
	if in.ApproveProposal {
		proposal, err := r.beliefs.Get(ctx, tenantID, *meta.ProposedBeliefID)
		if err != nil {
			return nil, err
		}
		if proposal.Status == domain.StatusVerified {
			return proposal, nil
		}
		if _, err := r.beliefs.CheckVerify(ctx, tenantID, proposal.ID); err != nil {
			return nil, fmt.Errorf("proposed answer can no longer be approved, answer the escalation instead: %w", err)
		}
		return nil, nil
	}

	answer := r.answerInput(tenantID, meta, in)
	cur, err := r.beliefs.CurrentVerified(ctx, answer.key())
	if err != nil {
		return nil, err
	}
	if cur != nil && cur.Value == answer.Value && !cur.EffectiveFrom.Before(job.CreatedAt) {
		return cur, nil
	}
	if err := answer.belief(domain.StatusVerified).Validate(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *EscalationRouter) answerInput(tenantID uuid.UUID, meta domain.JobMetadata, in ResolveInput) BeliefInput {
	return BeliefInput{
		TenantID:   tenantID,
		SubjectKey: meta.SubjectKey,
		Topic:      meta.Topic,
		Value:      strings.TrimSpace(in.OwnerAnswer),
		MemoryType: domain.MemoryTypeFact,
		Metadata:   map[string]any{"query": meta.Query},
		Provenance: in.Owner,
	}
}

func (r *EscalationRouter) writeResolution(ctx context.Context, tenantID uuid.UUID, meta domain.JobMetadata, in ResolveInput) (*domain.Belief, error) {
	if in.ApproveProposal {
		return r.beliefs.Verify(ctx, tenantID, *meta.ProposedBeliefID, in.Owner)
	}

	answer := r.answerInput(tenantID, meta, in)
	b, err := r.beliefs.Correct(ctx, answer)
	if errors.Is(err, domain.ErrNotFound) {
		var proposed *domain.Belief
		proposed, err = r.beliefs.Propose(ctx, answer)
		if err != nil {
			return nil, err
		}
		b, err = r.beliefs.Verify(ctx, tenantID, proposed.ID, in.Owner)
	}
	if err != nil {
		return nil, err
	}

	if meta.ProposedBeliefID != nil {
		_, err := r.beliefs.Deprecate(ctx, tenantID, *meta.ProposedBeliefID, in.Owner, "replaced by owner answer")
		if err != nil && !errors.Is(err, domain.ErrIllegalTransition) {
			return nil, err
		}
	}
	return b, nil
}

// release puts a claimed review job back on the queue after a failed resolve
// without spending its retry budget.
func (r *EscalationRouter) release(ctx context.Context, jobID uuid.UUID, cause error) {
	if _, err := r.jobs.Release(ctx, jobID, "resolve rejected: "+cause.Error()); err != nil {
		r.logger.Error("failed to release escalation job",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
	}
}

// Dismiss cancels a queued review job and deprecates its proposed answer.
func (r *EscalationRouter) Dismiss(ctx context.Context, tenantID, jobID uuid.UUID, reason string, owner domain.Provenance) (*domain.Job, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	job, err := r.reviewJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobQueued {
		return nil, fmt.Errorf("%w: escalation is %s", domain.ErrInvalidTransition, job.Status)
	}
	if reason == "" {
		reason = "dismissed by owner"
	}

	out, err := r.jobs.Cancel(ctx, jobID, reason)
	if err != nil {
		return nil, err
	}
	if id := job.Metadata.ProposedBeliefID; id != nil {
		_, err := r.beliefs.Deprecate(ctx, tenantID, *id, owner, reason)
		if err != nil && !errors.Is(err, domain.ErrIllegalTransition) {
			return nil, err
		}
	}
	return out, nil
}

func (r *EscalationRouter) List(ctx context.Context, tenantID uuid.UUID, status *domain.JobStatus, limit int) ([]domain.Job, error) {
	f := domain.JobFilter{
		TenantID: &tenantID,
		Types:    []domain.JobType{domain.JobTypeEscalationReview},
		Limit:    limit,
	}
	if status != nil {
		f.Statuses = []domain.JobStatus{*status}
	}
	return r.jobs.List(ctx, f)
}

func (r *EscalationRouter) reviewJob(ctx context.Context, tenantID, jobID uuid.UUID) (*domain.Job, error) {
	job, err := r.jobs.GetForTenant(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Type != domain.JobTypeEscalationReview {
		return nil, fmt.Errorf("%w: job %s is not an escalation", domain.ErrNotFound, jobID)
	}
	return job, nil
}
