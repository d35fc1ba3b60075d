package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeIngestion        JobType = "ingestion"
	JobTypeReindex          JobType = "reindex"
	JobTypeHealthCheck      JobType = "health_check"
	JobTypeEscalationReview JobType = "escalation_review"
	JobTypeOther            JobType = "other"
)

func ValidJobType(t string) bool {
	switch JobType(t) {
	case JobTypeIngestion, JobTypeReindex, JobTypeHealthCheck, JobTypeEscalationReview, JobTypeOther:
		return true
	}
	return false
}

type JobStatus string

const (
	JobQueued         JobStatus = "queued"
	JobProcessing     JobStatus = "processing"
	JobComplete       JobStatus = "complete"
	JobFailed         JobStatus = "failed"
	JobNeedsAttention JobStatus = "needs_attention"
)

func ValidJobStatus(s string) bool {
	switch JobStatus(s) {
	case JobQueued, JobProcessing, JobComplete, JobFailed, JobNeedsAttention:
		return true
	}
	return false
}

// IsTerminal reports whether the job stops progressing without outside action.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobComplete, JobFailed, JobNeedsAttention:
		return true
	}
	return false
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:         {JobProcessing, JobNeedsAttention},
	JobProcessing:     {JobComplete, JobFailed, JobNeedsAttention},
	JobFailed:         {JobQueued, JobNeedsAttention},
	JobNeedsAttention: {JobQueued},
	JobComplete:       nil,
}

func CanTransitionJob(from, to JobStatus) bool {
	return slices.Contains(jobTransitions[from], to)
}

// Priority tiers. Any integer is a valid priority; higher runs first.
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 100
)

const DefaultMaxAttempts = 3

type Job struct {
	ID           uuid.UUID   `json:"id"`
	TenantID     uuid.UUID   `json:"tenant_id"`
	SourceID     *string     `json:"source_id,omitempty"`
	Type         JobType     `json:"job_type"`
	Status       JobStatus   `json:"status"`
	Priority     int         `json:"priority"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"max_attempts"`
	Metadata     JobMetadata `json:"metadata"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	RunAfter     time.Time   `json:"run_after"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	// Seq is the insertion sequence, the last FIFO tie-break.
	Seq int64 `json:"-"`
}

func (j *Job) Validate() error {
	if j.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if !ValidJobType(string(j.Type)) {
		return fmt.Errorf("%w: invalid job_type %q", ErrValidation, j.Type)
	}
	if j.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must not be negative", ErrValidation)
	}
	return j.Metadata.Validate()
}

type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

func ValidLogLevel(l string) bool {
	switch LogLevel(l) {
	case LogInfo, LogWarning, LogError:
		return true
	}
	return false
}

// JobLogEntry is an append-only audit line for a job.
type JobLogEntry struct {
	ID        uuid.UUID      `json:"id"`
	JobID     uuid.UUID      `json:"job_id"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// JobTransition describes one guarded status change. Stores apply it in a
// single transaction: the job's status must be one of From, the row is
// updated conditionally, and Logs are appended in order.
type JobTransition struct {
	JobID uuid.UUID
	From  []JobStatus
	To    JobStatus
	At    time.Time

	// SetError replaces error_message; ClearError nulls it.
	SetError   *string
	ClearError bool

	IncrementAttempts bool
	ResetAttempts     bool
	RunAfter          *time.Time
	MetadataPatch     *JobMetadata
	// ClearCancel drops cancellation flags before the patch is merged.
	ClearCancel bool
	Logs        []JobLogEntry
}

type JobFilter struct {
	TenantID *uuid.UUID
	Statuses []JobStatus
	Types    []JobType
	Limit    int
}

type ClaimOpts struct {
	Types    []JobType
	TenantID *uuid.UUID
	WorkerID string
}

// DrainResult summarizes a synchronous queue drain.
type DrainResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Remaining int      `json:"remaining"`
	Errors    []string `json:"errors"`
}

// Apply returns the job as it looks after t. It enforces t.From and the
// transition table; a same-status update must name that status in t.From.
// started_at is stamped on the first move into processing, completed_at on
// entering a terminal status, and cleared again on re-queue.
func (j Job) Apply(t JobTransition) (Job, error) {
	if len(t.From) > 0 && !slices.Contains(t.From, j.Status) {
		return j, fmt.Errorf("%w: job %s is %s, expected one of %v", ErrInvalidTransition, j.ID, j.Status, t.From)
	}
	if t.To != j.Status && !CanTransitionJob(j.Status, t.To) {
		return j, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, t.To)
	}
	if t.To == j.Status && len(t.From) == 0 {
		return j, fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, j.ID, j.Status)
	}

	at := t.At
	out := j
	out.Status = t.To
	out.UpdatedAt = at
	if t.To == JobProcessing && out.StartedAt == nil {
		out.StartedAt = &at
	}
	switch {
	case t.To == JobQueued:
		out.CompletedAt = nil
	case t.To.IsTerminal() && t.To != j.Status:
		out.CompletedAt = &at
	}
	if t.ResetAttempts {
		out.Attempts = 0
	}
	if t.IncrementAttempts {
		out.Attempts++
	}
	if t.ClearError {
		out.ErrorMessage = nil
	}
	if t.SetError != nil {
		msg := *t.SetError
		out.ErrorMessage = &msg
	}
	if t.RunAfter != nil {
		out.RunAfter = *t.RunAfter
	}
	if t.ClearCancel {
		out.Metadata.CancelRequested = false
		out.Metadata.Cancelled = false
		out.Metadata.CancelReason = ""
	}
	if t.MetadataPatch != nil {
		out.Metadata = out.Metadata.Merge(*t.MetadataPatch)
		if err := out.Metadata.Validate(); err != nil {
			return j, err
		}
	}
	return out, nil
}

// ClaimTransition is the queued -> processing move shared by claim and claim_next.
func ClaimTransition(jobID uuid.UUID, workerID string, at time.Time) JobTransition {
	claimedAt := at
	return JobTransition{
		JobID: jobID,
		From:  []JobStatus{JobQueued},
		To:    JobProcessing,
		At:    at,
		MetadataPatch: &JobMetadata{
			ClaimedBy: workerID,
			ClaimedAt: &claimedAt,
		},
		Logs: []JobLogEntry{{
			Level:   LogInfo,
			Message: "job claimed",
			Details: map[string]any{"worker": workerID},
		}},
	}
}
