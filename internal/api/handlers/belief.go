package handlers

import (
	"net/http"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/service"
	"github.com/google/uuid"
)

type BeliefHandler struct {
	svc *service.BeliefService
}

func NewBeliefHandler(svc *service.BeliefService) *BeliefHandler {
	return &BeliefHandler{svc: svc}
}

type beliefRequest struct {
	Subject          string             `json:"subject,omitempty"`
	Topic            string             `json:"topic"`
	Value            string             `json:"value"`
	MemoryType       string             `json:"memory_type,omitempty"`
	Stance           *string            `json:"stance,omitempty"`
	Intensity        *int               `json:"intensity,omitempty"`
	Confidence       *float64           `json:"confidence,omitempty"`
	Metadata         map[string]any     `json:"metadata,omitempty"`
	Provenance       *provenanceRequest `json:"provenance,omitempty"`
	EffectiveFrom    *time.Time         `json:"effective_from,omitempty"`
	ExpectedRevision *int               `json:"expected_revision,omitempty"`
}

func (req beliefRequest) input(tenantID uuid.UUID, defSource domain.SourceType) service.BeliefInput {
	in := service.BeliefInput{
		TenantID:         tenantID,
		SubjectKey:       req.Subject,
		Topic:            req.Topic,
		Value:            req.Value,
		MemoryType:       domain.MemoryType(req.MemoryType),
		Intensity:        req.Intensity,
		Confidence:       req.Confidence,
		Metadata:         req.Metadata,
		Provenance:       req.Provenance.toDomain(defSource),
		EffectiveFrom:    req.EffectiveFrom,
		ExpectedRevision: req.ExpectedRevision,
	}
	if in.MemoryType == "" {
		in.MemoryType = domain.MemoryTypeFact
	}
	if req.Stance != nil {
		s := domain.Stance(*req.Stance)
		in.Stance = &s
	}
	return in
}

// Propose handles POST /v1/beliefs/propose.
func (h *BeliefHandler) Propose(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req beliefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := h.svc.Propose(r.Context(), req.input(tenant.ID, domain.SourceDoc))
	if err != nil {
		writeServiceError(w, r, err, "failed to propose belief")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Correct handles POST /v1/beliefs/correct.
func (h *BeliefHandler) Correct(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req beliefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := h.svc.Correct(r.Context(), req.input(tenant.ID, domain.SourceRevision))
	if err != nil {
		writeServiceError(w, r, err, "failed to correct belief")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type transitionRequest struct {
	Reason     string             `json:"reason,omitempty"`
	Provenance *provenanceRequest `json:"provenance,omitempty"`
}

func (h *BeliefHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(tenantID, id uuid.UUID, req transitionRequest) (*domain.Belief, error) {
		return h.svc.Verify(r.Context(), tenantID, id, req.Provenance.toDomain(domain.SourceRevision))
	})
}

func (h *BeliefHandler) Retract(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(tenantID, id uuid.UUID, req transitionRequest) (*domain.Belief, error) {
		return h.svc.Retract(r.Context(), tenantID, id, req.Provenance.toDomain(domain.SourceRevision), req.Reason)
	})
}

func (h *BeliefHandler) Deprecate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(tenantID, id uuid.UUID, req transitionRequest) (*domain.Belief, error) {
		return h.svc.Deprecate(r.Context(), tenantID, id, req.Provenance.toDomain(domain.SourceRevision), req.Reason)
	})
}

func (h *BeliefHandler) Repropose(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(tenantID, id uuid.UUID, req transitionRequest) (*domain.Belief, error) {
		return h.svc.Repropose(r.Context(), tenantID, id, req.Provenance.toDomain(domain.SourceRevision))
	})
}

func (h *BeliefHandler) transition(w http.ResponseWriter, r *http.Request, fn func(tenantID, id uuid.UUID, req transitionRequest) (*domain.Belief, error)) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "belief")
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	b, err := fn(tenant.ID, id, req)
	if err != nil {
		writeServiceError(w, r, err, "failed to update belief")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BeliefHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "belief")
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), tenant.ID, id)
	if err != nil {
		writeServiceError(w, r, err, "failed to get belief")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BeliefHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "belief")
	if !ok {
		return
	}
	if _, err := h.svc.Get(r.Context(), tenant.ID, id); err != nil {
		writeServiceError(w, r, err, "failed to get belief")
		return
	}
	ts, err := h.svc.Transitions(r.Context(), tenant.ID, id)
	if err != nil {
		writeServiceError(w, r, err, "failed to list transitions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": ts, "count": len(ts)})
}

func beliefKey(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID) (domain.BeliefKey, bool) {
	q := r.URL.Query()
	key := domain.BeliefKey{TenantID: tenantID, SubjectKey: q.Get("subject"), Topic: q.Get("topic")}
	if domain.NormalizeKey(key.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return key, false
	}
	return key, true
}

// Current handles GET /v1/beliefs/current?topic=&subject=&as_of=.
func (h *BeliefHandler) Current(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	key, ok := beliefKey(w, r, tenant.ID)
	if !ok {
		return
	}
	asOf, ok := queryTime(w, r, "as_of")
	if !ok {
		return
	}
	b, err := h.svc.GetCurrent(r.Context(), key, asOf)
	if err != nil {
		writeServiceError(w, r, err, "failed to get current belief")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BeliefHandler) History(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	key, ok := beliefKey(w, r, tenant.ID)
	if !ok {
		return
	}
	bs, err := h.svc.History(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, err, "failed to get belief history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"beliefs": bs, "count": len(bs)})
}

// List handles GET /v1/beliefs?subject=&memory_type=&status=.
func (h *BeliefHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := domain.BeliefListOpts{SubjectKey: q.Get("subject"), Limit: queryLimit(r, 100)}
	if v := q.Get("memory_type"); v != "" {
		mt := domain.MemoryType(v)
		opts.MemoryType = &mt
	}
	if v := q.Get("status"); v != "" {
		st := domain.RecordStatus(v)
		opts.Status = &st
	}
	bs, err := h.svc.ListCurrent(r.Context(), tenant.ID, opts)
	if err != nil {
		writeServiceError(w, r, err, "failed to list beliefs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"beliefs": bs, "count": len(bs)})
}
