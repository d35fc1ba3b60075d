package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"go.uber.org/zap"
)

const (
	minHealthyContentLen   = 200
	maxDuplicateChunkRatio = 0.3
)

// HealthCheckHandler inspects a document and its chunks and records a
// health status. An unhealthy document is a result, not a job failure.
type HealthCheckHandler struct {
	docs   domain.DocumentStore
	logger *zap.Logger
}

func NewHealthCheckHandler(docs domain.DocumentStore, logger *zap.Logger) *HealthCheckHandler {
	return &HealthCheckHandler{docs: docs, logger: logger}
}

type HealthReport struct {
	Status domain.HealthStatus
	Issues []string
}

func (r *HealthReport) warn(issue string) {
	r.Issues = append(r.Issues, issue)
	if r.Status == domain.HealthHealthy {
		r.Status = domain.HealthWarning
	}
}

func (r *HealthReport) fail(issue string) {
	r.Issues = append(r.Issues, issue)
	r.Status = domain.HealthFailed
}

func (h *HealthCheckHandler) Handle(ctx context.Context, job *domain.Job) (*domain.JobMetadata, error) {
	doc, err := loadJobDocument(ctx, h.docs, job)
	if err != nil {
		return nil, err
	}
	chunks, err := h.docs.ListChunks(ctx, doc.TenantID, doc.ID)
	if err != nil {
		return nil, err
	}

	report := CheckDocumentHealth(doc, chunks)
	if err := h.docs.UpdateHealth(ctx, doc.TenantID, doc.ID, report.Status); err != nil {
		return nil, err
	}

	if report.Status != domain.HealthHealthy {
		h.logger.Warn("document health check found issues",
			zap.String("document_id", doc.ID.String()),
			zap.String("health_status", string(report.Status)),
			zap.Strings("issues", report.Issues))
	}

	issues := report.Issues
	if issues == nil {
		issues = []string{}
	}
	return &domain.JobMetadata{
		HealthStatus: string(report.Status),
		Extra:        map[string]any{"issues": issues},
	}, nil
}

// CheckDocumentHealth grades a document from its text and stored chunks.
func CheckDocumentHealth(doc *domain.Document, chunks []domain.Chunk) HealthReport {
	r := HealthReport{Status: domain.HealthHealthy}
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		r.fail("document has no text")
		return r
	}
	if utf8.RuneCountInString(content) < minHealthyContentLen {
		r.warn("document text is very short")
	}

	switch {
	case len(chunks) == 0:
		r.fail("document is not indexed")
		return r
	case len(chunks) != doc.ChunkCount:
		r.warn("chunk count does not match stored chunks")
	}

	seen := make(map[string]struct{}, len(chunks))
	dups := 0
	for _, c := range chunks {
		key := strings.TrimSpace(c.Text)
		if _, ok := seen[key]; ok {
			dups++
			continue
		}
		seen[key] = struct{}{}
	}
	if float64(dups)/float64(len(chunks)) > maxDuplicateChunkRatio {
		r.warn("too many duplicate chunks")
	}
	return r
}
