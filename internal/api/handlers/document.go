package handlers

import (
	"context"
	"net/http"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/service"
	"github.com/google/uuid"
)

type queueFunc func(ctx context.Context, tenantID, id uuid.UUID) (*domain.Job, error)

type DocumentHandler struct {
	svc *service.DocumentService
}

func NewDocumentHandler(svc *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type createDocumentRequest struct {
	Title      string `json:"title"`
	SourceType string `json:"source_type,omitempty"`
	URL        string `json:"url,omitempty"`
	Content    string `json:"content"`
	Provider   string `json:"provider,omitempty"`
	Priority   *int   `json:"priority,omitempty"`
}

// Create handles POST /v1/documents. The document is stored straight away
// and indexed by the ingestion job returned alongside it.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req createDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Create(r.Context(), service.DocumentInput{
		TenantID:   tenant.ID,
		Title:      req.Title,
		SourceType: domain.SourceType(req.SourceType),
		URL:        req.URL,
		Content:    req.Content,
		Provider:   req.Provider,
		Priority:   req.Priority,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to create document")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "document")
	if !ok {
		return
	}
	doc, err := h.svc.Get(r.Context(), tenant.ID, id)
	if err != nil {
		writeServiceError(w, r, err, "failed to get document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	h.queue(w, r, h.svc.Reindex, "failed to queue reindex")
}

func (h *DocumentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.queue(w, r, h.svc.HealthCheck, "failed to queue health check")
}

func (h *DocumentHandler) queue(w http.ResponseWriter, r *http.Request, fn queueFunc, fallback string) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "document")
	if !ok {
		return
	}
	job, err := fn(r.Context(), tenant.ID, id)
	if err != nil {
		writeServiceError(w, r, err, fallback)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
