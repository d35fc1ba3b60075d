package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type GraphHandler struct {
	svc *service.GraphService
}

func NewGraphHandler(svc *service.GraphService) *GraphHandler {
	return &GraphHandler{svc: svc}
}

type nodeRequest struct {
	NodeKey       string             `json:"node_key,omitempty"`
	Name          string             `json:"name"`
	EntityType    string             `json:"entity_type"`
	Properties    map[string]any     `json:"properties,omitempty"`
	Provenance    *provenanceRequest `json:"provenance,omitempty"`
	EffectiveFrom *time.Time         `json:"effective_from,omitempty"`
}

// UpsertNode handles PUT /v1/graph/nodes.
func (h *GraphHandler) UpsertNode(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req nodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.svc.UpsertNode(r.Context(), service.NodeInput{
		TenantID:      tenant.ID,
		NodeKey:       req.NodeKey,
		Name:          req.Name,
		EntityType:    domain.EntityType(req.EntityType),
		Properties:    req.Properties,
		Provenance:    req.Provenance.toDomain(domain.SourceDoc),
		EffectiveFrom: req.EffectiveFrom,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to write node")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func nodeKeyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || domain.NormalizeKey(key) == "" {
		writeError(w, http.StatusBadRequest, "invalid node key")
		return "", false
	}
	return key, true
}

func (h *GraphHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	key, ok := nodeKeyParam(w, r)
	if !ok {
		return
	}
	asOf, ok := queryTime(w, r, "as_of")
	if !ok {
		return
	}
	n, err := h.svc.CurrentNode(r.Context(), tenant.ID, key, asOf)
	if err != nil {
		writeServiceError(w, r, err, "failed to get node")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *GraphHandler) NodeHistory(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	key, ok := nodeKeyParam(w, r)
	if !ok {
		return
	}
	ns, err := h.svc.NodeHistory(r.Context(), tenant.ID, key)
	if err != nil {
		writeServiceError(w, r, err, "failed to get node history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": ns, "count": len(ns)})
}

func (h *GraphHandler) Neighbors(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	key, ok := nodeKeyParam(w, r)
	if !ok {
		return
	}
	asOf, ok := queryTime(w, r, "as_of")
	if !ok {
		return
	}
	es, err := h.svc.Neighbors(r.Context(), tenant.ID, key, asOf)
	if err != nil {
		writeServiceError(w, r, err, "failed to get neighbors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edges": es, "count": len(es)})
}

func (h *GraphHandler) RetractNode(w http.ResponseWriter, r *http.Request) {
	h.retract(w, r, "node", func(tenantID, id uuid.UUID, req transitionRequest) (any, error) {
		return h.svc.RetractNode(r.Context(), tenantID, id, req.Provenance.toDomain(domain.SourceRevision), req.Reason)
	})
}

func (h *GraphHandler) RetractEdge(w http.ResponseWriter, r *http.Request) {
	h.retract(w, r, "edge", func(tenantID, id uuid.UUID, req transitionRequest) (any, error) {
		return h.svc.RetractEdge(r.Context(), tenantID, id, req.Provenance.toDomain(domain.SourceRevision), req.Reason)
	})
}

func (h *GraphHandler) retract(w http.ResponseWriter, r *http.Request, kind string, fn func(tenantID, id uuid.UUID, req transitionRequest) (any, error)) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, kind)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	out, err := fn(tenant.ID, id, req)
	if err != nil {
		writeServiceError(w, r, err, "failed to retract "+kind)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type edgeRequest struct {
	SourceKey     string             `json:"source_key"`
	Relation      string             `json:"relation"`
	TargetKey     string             `json:"target_key"`
	Weight        *float32           `json:"weight,omitempty"`
	Properties    map[string]any     `json:"properties,omitempty"`
	Provenance    *provenanceRequest `json:"provenance,omitempty"`
	EffectiveFrom *time.Time         `json:"effective_from,omitempty"`
}

// UpsertEdge handles PUT /v1/graph/edges.
func (h *GraphHandler) UpsertEdge(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req edgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	weight := float32(1)
	if req.Weight != nil {
		weight = *req.Weight
	}
	e, err := h.svc.UpsertEdge(r.Context(), service.EdgeInput{
		TenantID:      tenant.ID,
		SourceKey:     req.SourceKey,
		Relation:      domain.RelationType(req.Relation),
		TargetKey:     req.TargetKey,
		Weight:        weight,
		Properties:    req.Properties,
		Provenance:    req.Provenance.toDomain(domain.SourceDoc),
		EffectiveFrom: req.EffectiveFrom,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to write edge")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func edgeKey(w http.ResponseWriter, r *http.Request) (domain.EdgeKey, bool) {
	q := r.URL.Query()
	k := domain.EdgeKey{SourceKey: q.Get("source"), Relation: domain.RelationType(q.Get("relation")), TargetKey: q.Get("target")}
	if k.SourceKey == "" || k.TargetKey == "" || k.Relation == "" {
		writeError(w, http.StatusBadRequest, "source, relation and target are required")
		return k, false
	}
	return k, true
}

// GetEdge handles GET /v1/graph/edges?source=&relation=&target=&as_of=.
func (h *GraphHandler) GetEdge(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	k, ok := edgeKey(w, r)
	if !ok {
		return
	}
	asOf, ok := queryTime(w, r, "as_of")
	if !ok {
		return
	}
	e, err := h.svc.CurrentEdge(r.Context(), tenant.ID, k, asOf)
	if err != nil {
		writeServiceError(w, r, err, "failed to get edge")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *GraphHandler) EdgeHistory(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	k, ok := edgeKey(w, r)
	if !ok {
		return
	}
	es, err := h.svc.EdgeHistory(r.Context(), tenant.ID, k)
	if err != nil {
		writeServiceError(w, r, err, "failed to get edge history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edges": es, "count": len(es)})
}
