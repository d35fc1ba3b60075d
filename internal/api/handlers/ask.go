package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/twinledger/internal/service"
)

type AskHandler struct {
	svc *service.AnswerService
}

func NewAskHandler(svc *service.AnswerService) *AskHandler {
	return &AskHandler{svc: svc}
}

type askRequest struct {
	Query   string `json:"query"`
	Subject string `json:"subject,omitempty"`
}

// Ask handles POST /v1/ask. Low-confidence answers are still returned, with
// escalated set and the review job in the decision.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Ask(r.Context(), service.AskInput{
		TenantID:   tenant.ID,
		SubjectKey: req.Subject,
		Query:      req.Query,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to answer question")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
