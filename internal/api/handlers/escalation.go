package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/service"
)

type EscalationHandler struct {
	router *service.EscalationRouter
}

func NewEscalationHandler(router *service.EscalationRouter) *EscalationHandler {
	return &EscalationHandler{router: router}
}

// List handles GET /v1/escalations?status=queued.
func (h *EscalationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var status *domain.JobStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s := domain.JobStatus(v)
		status = &s
	}
	jobs, err := h.router.List(r.Context(), tenant.ID, status, queryLimit(r, 100))
	if err != nil {
		writeServiceError(w, r, err, "failed to list escalations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": jobs, "count": len(jobs)})
}

type resolveRequest struct {
	OwnerAnswer     string             `json:"owner_answer,omitempty"`
	ApproveProposal bool               `json:"approve_proposal,omitempty"`
	Provenance      *provenanceRequest `json:"provenance,omitempty"`
}

// Resolve handles POST /v1/escalations/{id}/resolve.
func (h *EscalationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "escalation")
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.router.Resolve(r.Context(), tenant.ID, id, service.ResolveInput{
		OwnerAnswer:     req.OwnerAnswer,
		ApproveProposal: req.ApproveProposal,
		Owner:           req.Provenance.toDomain(domain.SourceRevision),
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to resolve escalation")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type dismissRequest struct {
	Reason     string             `json:"reason,omitempty"`
	Provenance *provenanceRequest `json:"provenance,omitempty"`
}

// Dismiss handles POST /v1/escalations/{id}/dismiss.
func (h *EscalationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "escalation")
	if !ok {
		return
	}
	var req dismissRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	job, err := h.router.Dismiss(r.Context(), tenant.ID, id, req.Reason, req.Provenance.toDomain(domain.SourceRevision))
	if err != nil {
		writeServiceError(w, r, err, "failed to dismiss escalation")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
