package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SourceType string

const (
	SourceDoc         SourceType = "doc"
	SourceInterview   SourceType = "interview"
	SourceRevision    SourceType = "revision"
	SourceAutoExtract SourceType = "auto-extract"
)

func ValidSourceType(s string) bool {
	switch SourceType(s) {
	case SourceDoc, SourceInterview, SourceRevision, SourceAutoExtract:
		return true
	}
	return false
}

// Provenance records where a record or a status change came from.
type Provenance struct {
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Actor      string     `json:"actor,omitempty"`
}

func (p Provenance) Validate() error {
	if !ValidSourceType(string(p.SourceType)) {
		return fmt.Errorf("%w: invalid provenance source_type %q", ErrValidation, p.SourceType)
	}
	if strings.TrimSpace(p.SourceID) == "" {
		return fmt.Errorf("%w: provenance source_id is required", ErrValidation)
	}
	return nil
}

// Stamped returns a copy with Timestamp defaulted to at.
func (p Provenance) Stamped(at time.Time) Provenance {
	if p.Timestamp.IsZero() {
		p.Timestamp = at
	}
	return p
}

type RecordStatus string

const (
	StatusProposed   RecordStatus = "proposed"
	StatusVerified   RecordStatus = "verified"
	StatusActive     RecordStatus = "active"
	StatusSuperseded RecordStatus = "superseded"
	StatusRetracted  RecordStatus = "retracted"
	StatusDeprecated RecordStatus = "deprecated"
)

func ValidRecordStatus(s string) bool {
	switch RecordStatus(s) {
	case StatusProposed, StatusVerified, StatusActive, StatusSuperseded, StatusRetracted, StatusDeprecated:
		return true
	}
	return false
}

// IsCurrentEligible reports whether an open record in this status counts as
// the key's current record.
func (s RecordStatus) IsCurrentEligible() bool {
	return s == StatusActive || s == StatusVerified
}

// Precedence orders candidates for as-of lookups; lower wins.
func (s RecordStatus) Precedence() int {
	switch s {
	case StatusVerified:
		return 0
	case StatusActive:
		return 1
	case StatusProposed:
		return 2
	case StatusSuperseded, StatusDeprecated:
		return 3
	default:
		return 4
	}
}

var recordTransitions = map[RecordStatus][]RecordStatus{
	StatusProposed:   {StatusVerified, StatusRetracted, StatusDeprecated},
	StatusActive:     {StatusVerified, StatusSuperseded, StatusRetracted, StatusDeprecated},
	StatusVerified:   {StatusSuperseded, StatusRetracted, StatusDeprecated},
	StatusSuperseded: {StatusRetracted},
	StatusDeprecated: {StatusRetracted, StatusProposed},
	StatusRetracted:  {StatusProposed},
}

// CanTransitionRecord consults the record lifecycle table. A move into
// proposed is a re-proposal and is realised as a new revision.
func CanTransitionRecord(from, to RecordStatus) bool {
	return slices.Contains(recordTransitions[from], to)
}

// ClosesInterval reports whether entering the status ends the record's
// effective interval.
func (s RecordStatus) ClosesInterval() bool {
	switch s {
	case StatusSuperseded, StatusRetracted, StatusDeprecated:
		return true
	}
	return false
}

type RecordKind string

const (
	RecordKindBelief RecordKind = "belief"
	RecordKindNode   RecordKind = "graph_node"
	RecordKindEdge   RecordKind = "graph_edge"
)

// Envelope is the temporal wrapper shared by beliefs, graph nodes and graph edges.
type Envelope struct {
	Revision      int          `json:"revision"`
	Status        RecordStatus `json:"status"`
	EffectiveFrom time.Time    `json:"effective_from"`
	EffectiveTo   *time.Time   `json:"effective_to,omitempty"`
	Provenance    Provenance   `json:"provenance"`
}

func (e Envelope) IsOpen() bool {
	return e.EffectiveTo == nil
}

// IsCurrent reports whether the record is the key's current record.
func (e Envelope) IsCurrent() bool {
	return e.IsOpen() && e.Status.IsCurrentEligible()
}

// Covers reports whether t falls inside [EffectiveFrom, EffectiveTo).
func (e Envelope) Covers(t time.Time) bool {
	if t.Before(e.EffectiveFrom) {
		return false
	}
	return e.EffectiveTo == nil || t.Before(*e.EffectiveTo)
}

// Supersession names the record a write expects to replace. The write fails
// with ErrConflict when that record is no longer current at that revision.
type Supersession struct {
	PriorID       uuid.UUID
	PriorRevision int
}

// StatusTransition is one immutable row of a record's status audit trail.
type StatusTransition struct {
	ID         uuid.UUID    `json:"id"`
	TenantID   uuid.UUID    `json:"tenant_id"`
	RecordKind RecordKind   `json:"record_kind"`
	RecordID   uuid.UUID    `json:"record_id"`
	FromStatus RecordStatus `json:"from_status,omitempty"`
	ToStatus   RecordStatus `json:"to_status"`
	Actor      Provenance   `json:"actor"`
	Reason     string       `json:"reason,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// NormalizeKey lower-cases, trims and collapses inner whitespace so that
// "  Pricing   Model" and "pricing model" address the same record.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
