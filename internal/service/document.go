package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DocumentService stores extracted documents and queues the jobs that index
// and grade them.
type DocumentService struct {
	docs   domain.DocumentStore
	jobs   *JobService
	logger *zap.Logger
}

func NewDocumentService(docs domain.DocumentStore, jobs *JobService, logger *zap.Logger) *DocumentService {
	return &DocumentService{docs: docs, jobs: jobs, logger: logger}
}

type DocumentInput struct {
	TenantID   uuid.UUID
	Title      string
	SourceType domain.SourceType
	URL        string
	Content    string
	Provider   string
	Priority   *int
}

type DocumentResult struct {
	Document *domain.Document `json:"document"`
	Job      *domain.Job      `json:"job"`
}

// Create stores the document and submits its ingestion job.
func (s *DocumentService) Create(ctx context.Context, in DocumentInput) (*DocumentResult, error) {
	if in.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if in.SourceType == "" {
		in.SourceType = domain.SourceDoc
	}
	if !domain.ValidSourceType(string(in.SourceType)) {
		return nil, fmt.Errorf("%w: invalid source_type %q", domain.ErrValidation, in.SourceType)
	}
	if err := (domain.JobMetadata{URL: in.URL}).Validate(); err != nil {
		return nil, err
	}

	doc := &domain.Document{
		TenantID:     in.TenantID,
		Title:        strings.TrimSpace(in.Title),
		SourceType:   in.SourceType,
		URL:          in.URL,
		Content:      in.Content,
		HealthStatus: domain.HealthUnknown,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	job, err := s.submit(ctx, doc, domain.JobTypeIngestion, in.Provider, in.Priority)
	if err != nil {
		return nil, err
	}
	s.logger.Info("document created",
		zap.String("document_id", doc.ID.String()),
		zap.String("job_id", job.ID.String()),
		zap.Int("content_len", len(doc.Content)))
	return &DocumentResult{Document: doc, Job: job}, nil
}

func (s *DocumentService) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Document, error) {
	return s.docs.GetByID(ctx, tenantID, id)
}

// Reindex queues a reindex job for an existing document.
func (s *DocumentService) Reindex(ctx context.Context, tenantID, id uuid.UUID) (*domain.Job, error) {
	return s.queueFor(ctx, tenantID, id, domain.JobTypeReindex)
}

// HealthCheck queues a health check for an existing document.
func (s *DocumentService) HealthCheck(ctx context.Context, tenantID, id uuid.UUID) (*domain.Job, error) {
	return s.queueFor(ctx, tenantID, id, domain.JobTypeHealthCheck)
}

func (s *DocumentService) queueFor(ctx context.Context, tenantID, id uuid.UUID, t domain.JobType) (*domain.Job, error) {
	doc, err := s.docs.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, doc, t, "", nil)
}

func (s *DocumentService) submit(ctx context.Context, doc *domain.Document, t domain.JobType, provider string, priority *int) (*domain.Job, error) {
	sourceID := doc.ID.String()
	return s.jobs.Submit(ctx, SubmitInput{
		TenantID: doc.TenantID,
		Type:     t,
		SourceID: &sourceID,
		Priority: priority,
		Metadata: domain.JobMetadata{URL: doc.URL, Provider: provider},
	})
}
