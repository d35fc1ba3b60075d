// Seed script for creating demo data in twinledger.
// Run with: go run ./scripts/seed
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/Harshitk-cp/twinledger/internal/api"
	"github.com/Harshitk-cp/twinledger/internal/api/handlers"
	"github.com/Harshitk-cp/twinledger/internal/config"
	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/metrics"
	"github.com/Harshitk-cp/twinledger/internal/service"
	"go.uber.org/zap"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	ctx := context.Background()
	logger := zap.NewNop()

	backend, err := api.OpenBackend(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	defer backend.Close()
	fmt.Printf("Connected to %s backend\n", backend.Name)

	svcs, err := api.NewServices(backend, api.NewClients(logger), metrics.New(), logger)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}

	tenant, apiKey, err := handlers.CreateTenant(ctx, backend.Tenants, "Demo Tenant")
	if err != nil {
		log.Fatalf("Failed to create tenant: %v", err)
	}
	fmt.Printf("Created tenant: %s\n", tenant.ID)
	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Println("(Save this API key - it cannot be retrieved later)")

	seedDoc := domain.Provenance{SourceType: domain.SourceDoc, SourceID: "seed"}
	owner := domain.Provenance{SourceType: domain.SourceRevision, SourceID: "seed", Actor: "owner"}

	beliefs := []struct {
		memType domain.MemoryType
		topic   string
		value   string
	}{
		{domain.MemoryTypeFact, "support hours", "Weekdays 9 to 5 CET"},
		{domain.MemoryTypeFact, "refund policy", "Full refund within 30 days of purchase"},
		{domain.MemoryTypePreference, "meeting length", "Prefers 25 minute meetings"},
		{domain.MemoryTypeStance, "remote work", "Supports fully remote teams"},
	}
	for _, b := range beliefs {
		proposed, err := svcs.Beliefs.Propose(ctx, service.BeliefInput{
			TenantID:   tenant.ID,
			Topic:      b.topic,
			Value:      b.value,
			MemoryType: b.memType,
			Provenance: seedDoc,
		})
		if err != nil {
			log.Printf("Warning: Failed to propose %q: %v", b.topic, err)
			continue
		}
		if _, err := svcs.Beliefs.Verify(ctx, tenant.ID, proposed.ID, owner); err != nil {
			log.Printf("Warning: Failed to verify %q: %v", b.topic, err)
			continue
		}
		fmt.Printf("Created belief [%s] %s: %s\n", b.memType, b.topic, b.value)
	}

	nodes := []service.NodeInput{
		{TenantID: tenant.ID, NodeKey: "owner", Name: "Owner", EntityType: domain.EntityPerson, Provenance: seedDoc},
		{TenantID: tenant.ID, NodeKey: "acme", Name: "Acme Corp", EntityType: domain.EntityOrganization, Provenance: seedDoc},
	}
	for _, n := range nodes {
		if _, err := svcs.Graph.UpsertNode(ctx, n); err != nil {
			log.Fatalf("Failed to create node %s: %v", n.NodeKey, err)
		}
	}
	if _, err := svcs.Graph.UpsertEdge(ctx, service.EdgeInput{
		TenantID:   tenant.ID,
		SourceKey:  "owner",
		Relation:   domain.RelationEntityLink,
		TargetKey:  "acme",
		Weight:     1,
		Provenance: seedDoc,
	}); err != nil {
		log.Fatalf("Failed to create edge: %v", err)
	}
	fmt.Println("Created graph: owner -> acme")

	doc, err := svcs.Documents.Create(ctx, service.DocumentInput{
		TenantID:   tenant.ID,
		Title:      "Support handbook",
		SourceType: domain.SourceDoc,
		Content:    "Support is available on weekdays from 9 to 5 CET.\n\nRefunds are issued within 30 days of purchase.",
	})
	if err != nil {
		log.Fatalf("Failed to create document: %v", err)
	}
	fmt.Printf("Created document %s (ingestion job %s)\n", doc.Document.ID, doc.Job.ID)

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nTo ask a question, use:")
	fmt.Printf("curl -H 'Authorization: Bearer %s' -d '{\"query\":\"What are your support hours?\"}' http://localhost:%d/v1/ask\n", apiKey, config.ServerPort())
}
