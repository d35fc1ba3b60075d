package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/api/middleware"
	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxListLimit = 500

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps the domain error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInfrastructure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a service error. Internal errors are logged
// with the request and never echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := StatusFor(err)
	switch status {
	case http.StatusInternalServerError:
		middleware.LoggerFromContext(r.Context()).Error(fallback, zap.Error(err))
		writeError(w, status, fallback)
	case http.StatusServiceUnavailable:
		middleware.LoggerFromContext(r.Context()).Warn(fallback, zap.Error(err))
		writeError(w, status, "temporarily unavailable: "+fallback)
	default:
		writeError(w, status, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func requireTenant(w http.ResponseWriter, r *http.Request) (*domain.Tenant, bool) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return tenant, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" id")
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxListLimit)
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+": expected RFC 3339 timestamp")
		return nil, false
	}
	return &t, true
}

// provenanceRequest is the provenance block accepted by write endpoints.
type provenanceRequest struct {
	SourceType string     `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Actor      string     `json:"actor,omitempty"`
}

// toDomain fills in defaults for owner actions taken through the API.
func (p *provenanceRequest) toDomain(defType domain.SourceType) domain.Provenance {
	if p == nil {
		p = &provenanceRequest{}
	}
	out := domain.Provenance{
		SourceType: domain.SourceType(p.SourceType),
		SourceID:   strings.TrimSpace(p.SourceID),
		Actor:      p.Actor,
	}
	if out.SourceType == "" {
		out.SourceType = defType
	}
	if out.SourceID == "" {
		out.SourceID = "api"
	}
	if p.Timestamp != nil {
		out.Timestamp = *p.Timestamp
	}
	return out
}
