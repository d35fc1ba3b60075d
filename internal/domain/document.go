package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthFailed  HealthStatus = "failed"
)

// Document is a source whose text has already been extracted upstream.
type Document struct {
	ID           uuid.UUID    `json:"id"`
	TenantID     uuid.UUID    `json:"tenant_id"`
	Title        string       `json:"title"`
	SourceType   SourceType   `json:"source_type"`
	URL          string       `json:"url,omitempty"`
	Content      string       `json:"content,omitempty"`
	HealthStatus HealthStatus `json:"health_status"`
	ChunkCount   int          `json:"chunk_count"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type Chunk struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// ChunkSearcher is the ranked retrieval boundary. Results are ordered by
// descending similarity and may be fewer than topK.
type ChunkSearcher interface {
	Search(ctx context.Context, tenantID uuid.UUID, embedding []float32, topK int) ([]ScoredChunk, error)
}

type DocumentStore interface {
	ChunkSearcher
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Document, error)
	// ReplaceChunks swaps the document's chunk set and chunk_count atomically.
	ReplaceChunks(ctx context.Context, tenantID, documentID uuid.UUID, chunks []Chunk) error
	ListChunks(ctx context.Context, tenantID, documentID uuid.UUID) ([]Chunk, error)
	UpdateHealth(ctx context.Context, tenantID, id uuid.UUID, status HealthStatus) error
}

// Evidence is one retrieved item handed to the confidence evaluator.
type Evidence struct {
	Ref        string  `json:"ref"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
	// OwnerVerified marks evidence that comes from an owner-verified belief.
	OwnerVerified bool `json:"owner_verified,omitempty"`
}
