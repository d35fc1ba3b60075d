package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RelationType string

const (
	RelationEntityLink  RelationType = "entity_link"
	RelationCausal      RelationType = "causal"
	RelationTemporal    RelationType = "temporal"
	RelationThematic    RelationType = "thematic"
	RelationContradicts RelationType = "contradicts"
	RelationSupports    RelationType = "supports"
	RelationDerivedFrom RelationType = "derived_from"
	RelationSupersedes  RelationType = "supersedes"
)

func ValidRelationType(r string) bool {
	switch RelationType(r) {
	case RelationEntityLink, RelationCausal, RelationTemporal, RelationThematic,
		RelationContradicts, RelationSupports, RelationDerivedFrom, RelationSupersedes:
		return true
	}
	return false
}

// SymmetricRelations indicates which relations are bidirectional. Their edge
// key is stored with endpoints in lexical order.
var SymmetricRelations = map[RelationType]bool{
	RelationEntityLink: true,
	RelationThematic:   true,
	RelationSupports:   true,
}

type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityTool         EntityType = "tool"
	EntityConcept      EntityType = "concept"
	EntityLocation     EntityType = "location"
	EntityEvent        EntityType = "event"
	EntityProduct      EntityType = "product"
	EntityOther        EntityType = "other"
)

func ValidEntityType(e string) bool {
	switch EntityType(e) {
	case EntityPerson, EntityOrganization, EntityTool, EntityConcept,
		EntityLocation, EntityEvent, EntityProduct, EntityOther:
		return true
	}
	return false
}

// GraphNode is one revision of a typed entity in a tenant's knowledge graph.
type GraphNode struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	NodeKey    string         `json:"node_key"`
	Name       string         `json:"name"`
	EntityType EntityType     `json:"entity_type"`
	Properties map[string]any `json:"properties,omitempty"`
	Envelope
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *GraphNode) Validate() error {
	if n.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if n.NodeKey == "" {
		n.NodeKey = n.Name
	}
	if n.NodeKey = NormalizeKey(n.NodeKey); n.NodeKey == "" {
		return fmt.Errorf("%w: node name is required", ErrValidation)
	}
	if n.Name == "" {
		n.Name = n.NodeKey
	}
	if !ValidEntityType(string(n.EntityType)) {
		return fmt.Errorf("%w: invalid entity_type %q", ErrValidation, n.EntityType)
	}
	if !ValidRecordStatus(string(n.Status)) {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, n.Status)
	}
	return n.Provenance.Validate()
}

// GraphEdge is one revision of a typed relation between two node keys.
type GraphEdge struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	SourceKey  string         `json:"source_key"`
	Relation   RelationType   `json:"relation"`
	TargetKey  string         `json:"target_key"`
	Weight     float32        `json:"weight"`
	Properties map[string]any `json:"properties,omitempty"`
	Envelope
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *GraphEdge) Key() EdgeKey {
	return EdgeKey{SourceKey: e.SourceKey, Relation: e.Relation, TargetKey: e.TargetKey}
}

func (e *GraphEdge) Validate() error {
	if e.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if !ValidRelationType(string(e.Relation)) {
		return fmt.Errorf("%w: invalid relation %q", ErrValidation, e.Relation)
	}
	k := e.Key().Normalized()
	if k.SourceKey == "" || k.TargetKey == "" {
		return fmt.Errorf("%w: edge endpoints are required", ErrValidation)
	}
	if k.SourceKey == k.TargetKey {
		return fmt.Errorf("%w: self-referencing edge", ErrValidation)
	}
	e.SourceKey, e.TargetKey = k.SourceKey, k.TargetKey
	if e.Weight < 0 || e.Weight > 1 {
		return fmt.Errorf("%w: weight must be between 0 and 1", ErrValidation)
	}
	if !ValidRecordStatus(string(e.Status)) {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	return e.Provenance.Validate()
}

type EdgeKey struct {
	SourceKey string
	Relation  RelationType
	TargetKey string
}

// Normalized normalizes both endpoints and orders them for symmetric relations.
func (k EdgeKey) Normalized() EdgeKey {
	k.SourceKey = NormalizeKey(k.SourceKey)
	k.TargetKey = NormalizeKey(k.TargetKey)
	if SymmetricRelations[k.Relation] && k.TargetKey < k.SourceKey {
		k.SourceKey, k.TargetKey = k.TargetKey, k.SourceKey
	}
	return k
}

// RecordKey is the single string a temporal store partitions edges by.
func (k EdgeKey) RecordKey() string {
	return k.SourceKey + "|" + string(k.Relation) + "|" + k.TargetKey
}

// GraphStore persists graph nodes and edges with the temporal envelope.
// A non-nil Supersession closes that record in the same transaction.
type GraphStore interface {
	InsertNode(ctx context.Context, n *GraphNode, sup *Supersession) error
	GetNode(ctx context.Context, tenantID, id uuid.UUID) (*GraphNode, error)
	CurrentNode(ctx context.Context, tenantID uuid.UUID, nodeKey string, asOf time.Time) (*GraphNode, error)
	NodeHistory(ctx context.Context, tenantID uuid.UUID, nodeKey string) ([]GraphNode, error)
	TransitionNode(ctx context.Context, tenantID, id uuid.UUID, to RecordStatus, actor Provenance, reason string) (*GraphNode, error)

	InsertEdge(ctx context.Context, e *GraphEdge, sup *Supersession) error
	GetEdge(ctx context.Context, tenantID, id uuid.UUID) (*GraphEdge, error)
	CurrentEdge(ctx context.Context, tenantID uuid.UUID, key EdgeKey, asOf time.Time) (*GraphEdge, error)
	EdgeHistory(ctx context.Context, tenantID uuid.UUID, key EdgeKey) ([]GraphEdge, error)
	TransitionEdge(ctx context.Context, tenantID, id uuid.UUID, to RecordStatus, actor Provenance, reason string) (*GraphEdge, error)
	// Neighbors returns edges touching nodeKey whose interval covers asOf.
	Neighbors(ctx context.Context, tenantID uuid.UUID, nodeKey string, asOf time.Time) ([]GraphEdge, error)
}
