package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MemoryType string

const (
	MemoryTypeFact       MemoryType = "fact"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeStance     MemoryType = "stance"
	MemoryTypeCorrection MemoryType = "correction"
)

func ValidMemoryType(t string) bool {
	switch MemoryType(t) {
	case MemoryTypeFact, MemoryTypePreference, MemoryTypeStance, MemoryTypeCorrection:
		return true
	}
	return false
}

type Stance string

const (
	StancePositive  Stance = "positive"
	StanceNegative  Stance = "negative"
	StanceNeutral   Stance = "neutral"
	StanceUncertain Stance = "uncertain"
)

func ValidStance(s string) bool {
	switch Stance(s) {
	case StancePositive, StanceNegative, StanceNeutral, StanceUncertain:
		return true
	}
	return false
}

const (
	DefaultSubjectKey = "owner"
	MinIntensity      = 1
	MaxIntensity      = 10
)

// Belief is one revision of an owner belief. Beliefs are keyed by
// (tenant, subject, topic); the tenant is the owner scope.
type Belief struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	SubjectKey string         `json:"subject_key"`
	Topic      string         `json:"topic"`
	MemoryType MemoryType     `json:"memory_type"`
	Value      string         `json:"value"`
	Stance     *Stance        `json:"stance,omitempty"`
	Intensity  *int           `json:"intensity,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Envelope
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Belief) Key() BeliefKey {
	return BeliefKey{TenantID: b.TenantID, SubjectKey: b.SubjectKey, Topic: b.Topic}
}

// Validate checks identity and payload fields. It normalizes the key in place.
func (b *Belief) Validate() error {
	if b.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if b.SubjectKey = NormalizeKey(b.SubjectKey); b.SubjectKey == "" {
		b.SubjectKey = DefaultSubjectKey
	}
	if b.Topic = NormalizeKey(b.Topic); b.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrValidation)
	}
	if b.Value == "" {
		return fmt.Errorf("%w: value is required", ErrValidation)
	}
	if !ValidMemoryType(string(b.MemoryType)) {
		return fmt.Errorf("%w: invalid memory_type %q", ErrValidation, b.MemoryType)
	}
	if b.Stance != nil && !ValidStance(string(*b.Stance)) {
		return fmt.Errorf("%w: invalid stance %q", ErrValidation, *b.Stance)
	}
	if b.Intensity != nil && (*b.Intensity < MinIntensity || *b.Intensity > MaxIntensity) {
		return fmt.Errorf("%w: intensity must be between %d and %d", ErrValidation, MinIntensity, MaxIntensity)
	}
	if b.Confidence != nil && (*b.Confidence < 0 || *b.Confidence > 1) {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrValidation)
	}
	if !ValidRecordStatus(string(b.Status)) {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, b.Status)
	}
	return b.Provenance.Validate()
}

type BeliefKey struct {
	TenantID   uuid.UUID
	SubjectKey string
	Topic      string
}

// Normalized returns the key with subject and topic normalized.
func (k BeliefKey) Normalized() BeliefKey {
	k.SubjectKey = NormalizeKey(k.SubjectKey)
	if k.SubjectKey == "" {
		k.SubjectKey = DefaultSubjectKey
	}
	k.Topic = NormalizeKey(k.Topic)
	return k
}

func (k BeliefKey) String() string {
	return k.TenantID.String() + "/" + k.SubjectKey + "/" + k.Topic
}

type BeliefListOpts struct {
	SubjectKey string
	MemoryType *MemoryType
	// Status filters the listing; StatusActive also matches verified records.
	Status *RecordStatus
	Limit  int
}
