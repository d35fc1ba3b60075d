package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*Tenant, error)
	// List returns tenants oldest first.
	List(ctx context.Context) ([]Tenant, error)
}

// BeliefStore is the temporal record store for owner beliefs. Revisions are
// assigned by the store inside the write transaction.
type BeliefStore interface {
	// Insert writes a new revision. A non-nil Supersession closes that record
	// (effective_to = b.EffectiveFrom, status superseded) in the same transaction.
	Insert(ctx context.Context, b *Belief, sup *Supersession) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Belief, error)
	GetCurrent(ctx context.Context, key BeliefKey, asOf time.Time) (*Belief, error)
	History(ctx context.Context, key BeliefKey) ([]Belief, error)
	// TransitionStatus moves a record through the lifecycle table. A
	// Supersession is honoured for moves into verified.
	TransitionStatus(ctx context.Context, tenantID, id uuid.UUID, to RecordStatus, actor Provenance, reason string, sup *Supersession) (*Belief, error)
	Transitions(ctx context.Context, tenantID, recordID uuid.UUID) ([]StatusTransition, error)
	ListCurrent(ctx context.Context, tenantID uuid.UUID, opts BeliefListOpts) ([]Belief, error)
}

type JobStore interface {
	// Create inserts a queued job and its submission log in one transaction.
	Create(ctx context.Context, j *Job, log *JobLogEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	// Transition applies a guarded status change. It fails with
	// ErrInvalidTransition when the job is not in one of t.From.
	Transition(ctx context.Context, t JobTransition) (*Job, error)
	// ClaimNext moves the next eligible queued job to processing. It returns
	// nil, nil when nothing is eligible.
	ClaimNext(ctx context.Context, opts ClaimOpts, now time.Time) (*Job, error)
	AppendLog(ctx context.Context, e *JobLogEntry) error
	Logs(ctx context.Context, jobID uuid.UUID) ([]JobLogEntry, error)
	List(ctx context.Context, f JobFilter) ([]Job, error)
	CountByStatus(ctx context.Context, tenantID *uuid.UUID) (map[JobStatus]int, error)
	// ListStale returns jobs in status whose updated_at is before the cutoff.
	ListStale(ctx context.Context, status JobStatus, before time.Time, limit int) ([]Job, error)
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that take several texts per call.
// Vectors come back in input order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMClient is the black-box answer generator.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EventPublisher fans domain events out to a bus. Publishing is best effort:
// implementations log failures instead of returning them.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, topic string, payload any)
}
