package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/events"
	"github.com/Harshitk-cp/twinledger/internal/keylock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GraphService is the write path for the temporal knowledge graph. It uses
// the same supersede-on-write discipline as beliefs.
type GraphService struct {
	store  domain.GraphStore
	locks  *keylock.Map
	events domain.EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

func NewGraphService(store domain.GraphStore, logger *zap.Logger) *GraphService {
	return &GraphService{
		store:  store,
		locks:  keylock.New(),
		events: events.Noop{},
		logger: logger,
		now:    time.Now,
	}
}

func (s *GraphService) SetEventPublisher(p domain.EventPublisher) {
	s.events = p
}

type NodeInput struct {
	TenantID      uuid.UUID
	NodeKey       string
	Name          string
	EntityType    domain.EntityType
	Properties    map[string]any
	Provenance    domain.Provenance
	EffectiveFrom *time.Time
}

type EdgeInput struct {
	TenantID      uuid.UUID
	SourceKey     string
	Relation      domain.RelationType
	TargetKey     string
	Weight        float32
	Properties    map[string]any
	Provenance    domain.Provenance
	EffectiveFrom *time.Time
}

// UpsertNode writes an active node revision, superseding the key's current
// node if there is one.
func (s *GraphService) UpsertNode(ctx context.Context, in NodeInput) (*domain.GraphNode, error) {
	n := &domain.GraphNode{
		TenantID:   in.TenantID,
		NodeKey:    in.NodeKey,
		Name:       in.Name,
		EntityType: in.EntityType,
		Properties: in.Properties,
		Envelope:   domain.Envelope{Status: domain.StatusActive, Provenance: in.Provenance},
	}
	if in.EffectiveFrom != nil {
		n.EffectiveFrom = *in.EffectiveFrom
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("node|" + n.TenantID.String() + "|" + n.NodeKey)
	defer unlock()

	var sup *domain.Supersession
	cur, err := s.store.CurrentNode(ctx, n.TenantID, n.NodeKey, s.now())
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, err
	case cur.IsCurrent():
		sup = &domain.Supersession{PriorID: cur.ID, PriorRevision: cur.Revision}
	}

	if err := s.store.InsertNode(ctx, n, sup); err != nil {
		return nil, err
	}
	s.events.Publish(ctx, n.TenantID, "graph.node.upserted", n)
	return n, nil
}

func (s *GraphService) RetractNode(ctx context.Context, tenantID, id uuid.UUID, actor domain.Provenance, reason string) (*domain.GraphNode, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	n, err := s.store.GetNode(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("node|" + tenantID.String() + "|" + n.NodeKey)
	defer unlock()

	out, err := s.store.TransitionNode(ctx, tenantID, id, domain.StatusRetracted, actor, reason)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, tenantID, "graph.node.retracted", out)
	return out, nil
}

func (s *GraphService) CurrentNode(ctx context.Context, tenantID uuid.UUID, nodeKey string, asOf *time.Time) (*domain.GraphNode, error) {
	return s.store.CurrentNode(ctx, tenantID, nodeKey, s.at(asOf))
}

func (s *GraphService) NodeHistory(ctx context.Context, tenantID uuid.UUID, nodeKey string) ([]domain.GraphNode, error) {
	return s.store.NodeHistory(ctx, tenantID, nodeKey)
}

// UpsertEdge writes an active edge revision. Both endpoints must have a
// current node.
func (s *GraphService) UpsertEdge(ctx context.Context, in EdgeInput) (*domain.GraphEdge, error) {
	e := &domain.GraphEdge{
		TenantID:   in.TenantID,
		SourceKey:  in.SourceKey,
		Relation:   in.Relation,
		TargetKey:  in.TargetKey,
		Weight:     in.Weight,
		Properties: in.Properties,
		Envelope:   domain.Envelope{Status: domain.StatusActive, Provenance: in.Provenance},
	}
	if in.EffectiveFrom != nil {
		e.EffectiveFrom = *in.EffectiveFrom
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	for _, endpoint := range []string{e.SourceKey, e.TargetKey} {
		n, err := s.store.CurrentNode(ctx, e.TenantID, endpoint, now)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: node %q has no current record", domain.ErrNotFound, endpoint)
			}
			return nil, err
		}
		if !n.IsCurrent() {
			return nil, fmt.Errorf("%w: node %q has no current record", domain.ErrNotFound, endpoint)
		}
	}

	key := e.Key()
	unlock := s.locks.Lock("edge|" + e.TenantID.String() + "|" + key.RecordKey())
	defer unlock()

	var sup *domain.Supersession
	cur, err := s.store.CurrentEdge(ctx, e.TenantID, key, now)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, err
	case cur.IsCurrent():
		sup = &domain.Supersession{PriorID: cur.ID, PriorRevision: cur.Revision}
	}

	if err := s.store.InsertEdge(ctx, e, sup); err != nil {
		return nil, err
	}
	s.events.Publish(ctx, e.TenantID, "graph.edge.upserted", e)
	return e, nil
}

func (s *GraphService) RetractEdge(ctx context.Context, tenantID, id uuid.UUID, actor domain.Provenance, reason string) (*domain.GraphEdge, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	e, err := s.store.GetEdge(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("edge|" + tenantID.String() + "|" + e.Key().Normalized().RecordKey())
	defer unlock()

	out, err := s.store.TransitionEdge(ctx, tenantID, id, domain.StatusRetracted, actor, reason)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, tenantID, "graph.edge.retracted", out)
	return out, nil
}

func (s *GraphService) CurrentEdge(ctx context.Context, tenantID uuid.UUID, key domain.EdgeKey, asOf *time.Time) (*domain.GraphEdge, error) {
	return s.store.CurrentEdge(ctx, tenantID, key, s.at(asOf))
}

func (s *GraphService) EdgeHistory(ctx context.Context, tenantID uuid.UUID, key domain.EdgeKey) ([]domain.GraphEdge, error) {
	return s.store.EdgeHistory(ctx, tenantID, key)
}

func (s *GraphService) Neighbors(ctx context.Context, tenantID uuid.UUID, nodeKey string, asOf *time.Time) ([]domain.GraphEdge, error) {
	return s.store.Neighbors(ctx, tenantID, nodeKey, s.at(asOf))
}

func (s *GraphService) at(asOf *time.Time) time.Time {
	if asOf != nil {
		return *asOf
	}
	return s.now()
}
