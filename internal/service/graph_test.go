package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/store/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestGraphNodeUpsertSupersedes(t *testing.T) {
	ctx := context.Background()
	svc := NewGraphService(sqlite.NewGraphStore(openTestDB(t)), zap.NewNop())
	tenantID := uuid.New()

	first, err := svc.UpsertNode(ctx, NodeInput{TenantID: tenantID, Name: "Acme  Corp", EntityType: domain.EntityOrganization, Provenance: docProvenance()})
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if first.NodeKey != "acme corp" {
		t.Fatalf("expected normalized key, got %q", first.NodeKey)
	}
	second, err := svc.UpsertNode(ctx, NodeInput{TenantID: tenantID, Name: "ACME Corp", EntityType: domain.EntityOrganization,
		Properties: map[string]any{"industry": "software"}, Provenance: docProvenance()})
	if err != nil {
		t.Fatalf("UpsertNode again: %v", err)
	}

	history, err := svc.NodeHistory(ctx, tenantID, "acme corp")
	if err != nil {
		t.Fatalf("NodeHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Status != domain.StatusSuperseded || history[1].ID != second.ID {
		t.Fatalf("expected first superseded by second, got %s then %s", history[0].Status, history[1].ID)
	}

	cur, err := svc.CurrentNode(ctx, tenantID, "Acme Corp", nil)
	if err != nil {
		t.Fatalf("CurrentNode: %v", err)
	}
	if cur.Properties["industry"] != "software" {
		t.Fatalf("expected latest properties, got %v", cur.Properties)
	}
}

func TestGraphEdgeLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewGraphService(sqlite.NewGraphStore(openTestDB(t)), zap.NewNop())
	tenantID := uuid.New()

	_, err := svc.UpsertEdge(ctx, EdgeInput{TenantID: tenantID, SourceKey: "jane doe", Relation: domain.RelationEntityLink, TargetKey: "acme corp", Weight: 0.8, Provenance: docProvenance()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without endpoint nodes, got %v", err)
	}

	for _, n := range []NodeInput{
		{TenantID: tenantID, Name: "Jane Doe", EntityType: domain.EntityPerson, Provenance: docProvenance()},
		{TenantID: tenantID, Name: "Acme Corp", EntityType: domain.EntityOrganization, Provenance: docProvenance()},
	} {
		if _, err := svc.UpsertNode(ctx, n); err != nil {
			t.Fatalf("UpsertNode: %v", err)
		}
	}

	edge, err := svc.UpsertEdge(ctx, EdgeInput{TenantID: tenantID, SourceKey: "Jane Doe", Relation: domain.RelationEntityLink, TargetKey: "Acme Corp", Weight: 0.8, Provenance: docProvenance()})
	if err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if edge.SourceKey != "acme corp" || edge.TargetKey != "jane doe" {
		t.Fatalf("expected symmetric endpoints in lexical order, got %q -> %q", edge.SourceKey, edge.TargetKey)
	}

	// Same edge written in the other direction supersedes rather than duplicates.
	_, err = svc.UpsertEdge(ctx, EdgeInput{TenantID: tenantID, SourceKey: "acme corp", Relation: domain.RelationEntityLink, TargetKey: "jane doe", Weight: 0.9, Provenance: docProvenance()})
	if err != nil {
		t.Fatalf("UpsertEdge reversed: %v", err)
	}
	history, err := svc.EdgeHistory(ctx, tenantID, domain.EdgeKey{SourceKey: "jane doe", Relation: domain.RelationEntityLink, TargetKey: "acme corp"})
	if err != nil {
		t.Fatalf("EdgeHistory: %v", err)
	}
	if len(history) != 2 || history[0].Status != domain.StatusSuperseded {
		t.Fatalf("expected 2 revisions with the first superseded, got %d", len(history))
	}

	neighbors, err := svc.Neighbors(ctx, tenantID, "Jane Doe", nil)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Weight != 0.9 {
		t.Fatalf("expected the current edge as the only neighbor, got %+v", neighbors)
	}

	if _, err := svc.RetractEdge(ctx, tenantID, history[1].ID, ownerProvenance(), "wrong company"); err != nil {
		t.Fatalf("RetractEdge: %v", err)
	}
	neighbors, err = svc.Neighbors(ctx, tenantID, "jane doe", nil)
	if err != nil {
		t.Fatalf("Neighbors after retract: %v", err)
	}
	if len(neighbors) != 0 {
		t.Fatalf("expected no neighbors after retract, got %d", len(neighbors))
	}
}

func TestGraphEdgeValidation(t *testing.T) {
	svc := NewGraphService(sqlite.NewGraphStore(openTestDB(t)), zap.NewNop())
	_, err := svc.UpsertEdge(context.Background(), EdgeInput{TenantID: uuid.New(), SourceKey: "a", Relation: "likes", TargetKey: "b", Provenance: docProvenance()})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown relation, got %v", err)
	}
	_, err = svc.UpsertEdge(context.Background(), EdgeInput{TenantID: uuid.New(), SourceKey: "a", Relation: domain.RelationCausal, TargetKey: "A", Provenance: docProvenance()})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for self edge, got %v", err)
	}
}
