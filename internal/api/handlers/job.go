package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/service"
	"github.com/google/uuid"
)

// Drainer runs claimable jobs synchronously.
type Drainer interface {
	Drain(ctx context.Context, tenantID *uuid.UUID, limit int) (*domain.DrainResult, error)
}

type JobHandler struct {
	svc    *service.JobService
	runner Drainer
}

func NewJobHandler(svc *service.JobService, runner Drainer) *JobHandler {
	return &JobHandler{svc: svc, runner: runner}
}

type submitJobRequest struct {
	JobType     string             `json:"job_type"`
	SourceID    *string            `json:"source_id,omitempty"`
	Priority    *int               `json:"priority,omitempty"`
	MaxAttempts int                `json:"max_attempts,omitempty"`
	Metadata    domain.JobMetadata `json:"metadata"`
	RunAfter    *time.Time         `json:"run_after,omitempty"`
}

// Submit handles POST /v1/jobs.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req submitJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	j, err := h.svc.Submit(r.Context(), service.SubmitInput{
		TenantID:    tenant.ID,
		Type:        domain.JobType(req.JobType),
		SourceID:    req.SourceID,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		Metadata:    req.Metadata,
		RunAfter:    req.RunAfter,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// List handles GET /v1/jobs?status=&job_type=&limit=. status and job_type
// accept comma-separated values.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := domain.JobFilter{TenantID: &tenant.ID, Limit: queryLimit(r, 100)}
	for _, s := range splitList(q.Get("status")) {
		f.Statuses = append(f.Statuses, domain.JobStatus(s))
	}
	for _, t := range splitList(q.Get("job_type")) {
		f.Types = append(f.Types, domain.JobType(t))
	}
	jobs, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// owned resolves the path job and checks it belongs to the caller.
func (h *JobHandler) owned(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return nil, false
	}
	id, ok := pathID(w, r, "job")
	if !ok {
		return nil, false
	}
	j, err := h.svc.GetForTenant(r.Context(), tenant.ID, id)
	if err != nil {
		writeServiceError(w, r, err, "failed to get job")
		return nil, false
	}
	return j, true
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *JobHandler) Logs(w http.ResponseWriter, r *http.Request) {
	j, ok := h.owned(w, r)
	if !ok {
		return
	}
	logs, err := h.svc.Logs(r.Context(), j.ID)
	if err != nil {
		writeServiceError(w, r, err, "failed to get job logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

func (h *JobHandler) Claim(w http.ResponseWriter, r *http.Request) {
	j, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if req.WorkerID == "" {
		req.WorkerID = "api"
	}
	h.respond(w, r, "failed to claim job")(h.svc.Claim(r.Context(), j.ID, req.WorkerID))
}

type completeRequest struct {
	Result *domain.JobMetadata `json:"result,omitempty"`
}

func (h *JobHandler) Complete(w http.ResponseWriter, r *http.Request) {
	j, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	h.respond(w, r, "failed to complete job")(h.svc.Complete(r.Context(), j.ID, req.Result))
}

type failRequest struct {
	Error     string `json:"error"`
	Retryable *bool  `json:"retryable,omitempty"`
}

func (h *JobHandler) Fail(w http.ResponseWriter, r *http.Request) {
	j, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req failRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Error) == "" {
		writeError(w, http.StatusBadRequest, "error is required")
		return
	}
	retryable := req.Retryable == nil || *req.Retryable
	h.respond(w, r, "failed to fail job")(h.svc.Fail(r.Context(), j.ID, req.Error, retryable))
}

type retryRequest struct {
	// Delay is a Go duration string. "backoff" applies the job type's retry policy.
	Delay string `json:"delay,omitempty"`
}

func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	j, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req retryRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if req.Delay == "backoff" {
		h.respond(w, r, "failed to retry job")(h.svc.RetryAfterBackoff(r.Context(), j))
		return
	}
	var delay time.Duration
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid delay")
			return
		}
		delay = d
	}
	h.respond(w, r, "failed to retry job")(h.svc.Retry(r.Context(), j.ID, delay))
}

type requeueRequest struct {
	Actor string `json:"actor"`
}

func (h *JobHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	j, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req requeueRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	h.respond(w, r, "failed to requeue job")(h.svc.ForceRequeue(r.Context(), j.ID, req.Actor))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	j, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	h.respond(w, r, "failed to cancel job")(h.svc.Cancel(r.Context(), j.ID, req.Reason))
}

type progressRequest struct {
	Progress *float64          `json:"progress,omitempty"`
	Metadata domain.JobMetadata `json:"metadata"`
}

func (h *JobHandler) Progress(w http.ResponseWriter, r *http.Request) {
	j, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req progressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respond(w, r, "failed to report progress")(h.svc.ReportProgress(r.Context(), j.ID, req.Progress, req.Metadata))
}

func (h *JobHandler) respond(w http.ResponseWriter, r *http.Request, fallback string) func(*domain.Job, error) {
	return func(j *domain.Job, err error) {
		if err != nil {
			writeServiceError(w, r, err, fallback)
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

func (h *JobHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	jobs, err := h.svc.DeadLetters(r.Context(), tenant.ID, queryLimit(r, 100))
	if err != nil {
		writeServiceError(w, r, err, "failed to list dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

type replayRequest struct {
	Limit int    `json:"limit,omitempty"`
	Actor string `json:"actor,omitempty"`
}

func (h *JobHandler) ReplayDeadLetters(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req replayRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	n, err := h.svc.ReplayDeadLetters(r.Context(), tenant.ID, min(max(req.Limit, 0), maxListLimit), req.Actor)
	if err != nil {
		writeServiceError(w, r, err, "failed to replay dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"replayed": n})
}

type drainRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Drain handles POST /v1/jobs/drain: runs the caller's queued jobs inline.
func (h *JobHandler) Drain(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req drainRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	res, err := h.runner.Drain(r.Context(), &tenant.ID, min(max(req.Limit, 0), maxListLimit))
	if err != nil {
		writeServiceError(w, r, err, "failed to drain jobs")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *JobHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.Stats(r.Context(), &tenant.ID)
	if err != nil {
		writeServiceError(w, r, err, "failed to get job stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
