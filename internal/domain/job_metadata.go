package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RetryRecord is one entry of a job's retry history.
type RetryRecord struct {
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// JobMetadata is the job's key-value payload: a closed set of well-known keys
// plus Extra for anything else. On the wire both live in one flat JSON object.
type JobMetadata struct {
	URL              string        `json:"url,omitempty"`
	Provider         string        `json:"provider,omitempty"`
	Progress         *float64      `json:"progress,omitempty"`
	ChunksCreated    *int          `json:"chunks_created,omitempty"`
	Query            string        `json:"query,omitempty"`
	Answer           string        `json:"answer,omitempty"`
	EvidenceRefs     []string      `json:"evidence_refs,omitempty"`
	Confidence       *float64      `json:"confidence,omitempty"`
	Topic            string        `json:"topic,omitempty"`
	SubjectKey       string        `json:"subject_key,omitempty"`
	ProposedBeliefID *uuid.UUID    `json:"proposed_belief_id,omitempty"`
	ClaimedBy        string        `json:"claimed_by,omitempty"`
	ClaimedAt        *time.Time    `json:"claimed_at,omitempty"`
	CancelRequested  bool          `json:"cancel_requested,omitempty"`
	CancelReason     string        `json:"cancel_reason,omitempty"`
	Cancelled        bool          `json:"cancelled,omitempty"`
	RetryHistory     []RetryRecord `json:"retry_history,omitempty"`
	Resolution       string        `json:"resolution,omitempty"`
	HealthStatus     string        `json:"health_status,omitempty"`
	CorrelationID    string        `json:"correlation_id,omitempty"`

	Extra map[string]any `json:"-"`
}

var wellKnownMetadataKeys = map[string]bool{
	"url": true, "provider": true, "progress": true, "chunks_created": true,
	"query": true, "answer": true, "evidence_refs": true, "confidence": true,
	"topic": true, "subject_key": true, "proposed_belief_id": true,
	"claimed_by": true, "claimed_at": true, "cancel_requested": true,
	"cancel_reason": true, "cancelled": true, "retry_history": true,
	"resolution": true, "health_status": true, "correlation_id": true,
}

type jobMetadataFields JobMetadata

func (m JobMetadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(jobMetadataFields(m))
	if err != nil || len(m.Extra) == 0 {
		return known, err
	}
	out := make(map[string]json.RawMessage, len(m.Extra)+4)
	if err := json.Unmarshal(known, &out); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if wellKnownMetadataKeys[k] {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata key %q: %w", k, err)
		}
		out[k] = raw
	}
	return json.Marshal(out)
}

func (m *JobMetadata) UnmarshalJSON(data []byte) error {
	var fields jobMetadataFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range wellKnownMetadataKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		fields.Extra = all
	}
	*m = JobMetadata(fields)
	return nil
}

func (m JobMetadata) Validate() error {
	if m.Progress != nil && (*m.Progress < 0 || *m.Progress > 1) {
		return fmt.Errorf("%w: metadata progress must be between 0 and 1", ErrValidation)
	}
	if m.Confidence != nil && (*m.Confidence < 0 || *m.Confidence > 1) {
		return fmt.Errorf("%w: metadata confidence must be between 0 and 1", ErrValidation)
	}
	if m.ChunksCreated != nil && *m.ChunksCreated < 0 {
		return fmt.Errorf("%w: metadata chunks_created must not be negative", ErrValidation)
	}
	if m.URL != "" {
		if _, err := url.ParseRequestURI(m.URL); err != nil {
			return fmt.Errorf("%w: metadata url: %v", ErrValidation, err)
		}
	}
	for _, ref := range m.EvidenceRefs {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("%w: metadata evidence_refs must not contain empty refs", ErrValidation)
		}
	}
	return nil
}

// Merge returns m overlaid with every key set in patch. Retry history is
// appended rather than replaced.
func (m JobMetadata) Merge(patch JobMetadata) JobMetadata {
	out := m
	if patch.URL != "" {
		out.URL = patch.URL
	}
	if patch.Provider != "" {
		out.Provider = patch.Provider
	}
	if patch.Progress != nil {
		out.Progress = patch.Progress
	}
	if patch.ChunksCreated != nil {
		out.ChunksCreated = patch.ChunksCreated
	}
	if patch.Query != "" {
		out.Query = patch.Query
	}
	if patch.Answer != "" {
		out.Answer = patch.Answer
	}
	if patch.EvidenceRefs != nil {
		out.EvidenceRefs = patch.EvidenceRefs
	}
	if patch.Confidence != nil {
		out.Confidence = patch.Confidence
	}
	if patch.Topic != "" {
		out.Topic = patch.Topic
	}
	if patch.SubjectKey != "" {
		out.SubjectKey = patch.SubjectKey
	}
	if patch.ProposedBeliefID != nil {
		out.ProposedBeliefID = patch.ProposedBeliefID
	}
	if patch.ClaimedBy != "" {
		out.ClaimedBy = patch.ClaimedBy
	}
	if patch.ClaimedAt != nil {
		out.ClaimedAt = patch.ClaimedAt
	}
	if patch.CancelRequested {
		out.CancelRequested = true
	}
	if patch.CancelReason != "" {
		out.CancelReason = patch.CancelReason
	}
	if patch.Cancelled {
		out.Cancelled = true
	}
	if len(patch.RetryHistory) > 0 {
		out.RetryHistory = append(append([]RetryRecord(nil), m.RetryHistory...), patch.RetryHistory...)
	}
	if patch.Resolution != "" {
		out.Resolution = patch.Resolution
	}
	if patch.HealthStatus != "" {
		out.HealthStatus = patch.HealthStatus
	}
	if patch.CorrelationID != "" {
		out.CorrelationID = patch.CorrelationID
	}
	if len(patch.Extra) > 0 {
		extra := make(map[string]any, len(m.Extra)+len(patch.Extra))
		maps.Copy(extra, m.Extra)
		maps.Copy(extra, patch.Extra)
		out.Extra = extra
	}
	return out
}
