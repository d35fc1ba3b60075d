package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/service"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	s := newTestServer(t)
	return MCPDeps{TenantID: uuid.New(), Services: s.app.Services, Logger: zap.NewNop()}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_ProposeThenCurrent(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	result, err := mcpBeliefPropose(deps)(ctx, makeCallToolRequest("belief_propose", map[string]any{
		"topic": "Support hours",
		"value": "Weekdays 9 to 5 CET.",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var proposed domain.Belief
	if err := json.Unmarshal([]byte(toolText(t, result)), &proposed); err != nil {
		t.Fatalf("decoding belief: %v", err)
	}
	if proposed.Status != domain.StatusProposed {
		t.Fatalf("expected proposed, got %s", proposed.Status)
	}
	if proposed.Provenance.SourceID != "mcp" {
		t.Fatalf("expected source_id mcp, got %q", proposed.Provenance.SourceID)
	}

	result, _ = mcpBeliefCurrent(deps)(ctx, makeCallToolRequest("belief_current", map[string]any{"topic": "support hours"}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), `"status": "proposed"`) {
		t.Fatalf("expected the open proposal, got %s", toolText(t, result))
	}

	result, _ = mcpBeliefCurrent(deps)(ctx, makeCallToolRequest("belief_current", map[string]any{"topic": "refund policy"}))
	if !result.IsError {
		t.Fatalf("expected not found, got %s", toolText(t, result))
	}

	owner := domain.Provenance{SourceType: domain.SourceRevision, SourceID: "owner"}
	if _, err := deps.Services.Beliefs.Verify(ctx, deps.TenantID, proposed.ID, owner); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	result, _ = mcpBeliefCurrent(deps)(ctx, makeCallToolRequest("belief_current", map[string]any{"topic": "support hours"}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), `"status": "verified"`) {
		t.Fatalf("unexpected belief: %s", toolText(t, result))
	}

	result, _ = mcpBeliefHistory(deps)(ctx, makeCallToolRequest("belief_history", map[string]any{"topic": "support hours"}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
}

func TestMCPTool_MissingArguments(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	cases := map[string]func() (*mcp.CallToolResult, error){
		"belief_current": func() (*mcp.CallToolResult, error) {
			return mcpBeliefCurrent(deps)(ctx, makeCallToolRequest("belief_current", map[string]any{}))
		},
		"belief_propose": func() (*mcp.CallToolResult, error) {
			return mcpBeliefPropose(deps)(ctx, makeCallToolRequest("belief_propose", map[string]any{"topic": "x"}))
		},
		"job_get": func() (*mcp.CallToolResult, error) {
			return mcpJobGet(deps)(ctx, makeCallToolRequest("job_get", map[string]any{"id": "nope"}))
		},
		"ask": func() (*mcp.CallToolResult, error) {
			return mcpAsk(deps)(ctx, makeCallToolRequest("ask", map[string]any{}))
		},
	}
	for name, call := range cases {
		result, err := call()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !result.IsError {
			t.Fatalf("%s: expected tool error, got %s", name, toolText(t, result))
		}
	}
}

func TestMCPTool_Jobs(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	job, err := deps.Services.Jobs.Submit(ctx, service.SubmitInput{TenantID: deps.TenantID, Type: domain.JobTypeOther})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	foreign, err := deps.Services.Jobs.Submit(ctx, service.SubmitInput{TenantID: uuid.New(), Type: domain.JobTypeOther})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result, _ := mcpJobList(deps)(ctx, makeCallToolRequest("job_list", map[string]any{"status": "queued"}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var jobs []domain.Job
	if err := json.Unmarshal([]byte(toolText(t, result)), &jobs); err != nil {
		t.Fatalf("decoding jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("expected only the tenant's job, got %+v", jobs)
	}

	result, _ = mcpJobLogs(deps)(ctx, makeCallToolRequest("job_logs", map[string]any{"id": job.ID.String()}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	result, _ = mcpJobGet(deps)(ctx, makeCallToolRequest("job_get", map[string]any{"id": foreign.ID.String()}))
	if !result.IsError {
		t.Fatalf("expected another tenant's job to be hidden, got %s", toolText(t, result))
	}
}

func TestMCPTool_AskEscalates(t *testing.T) {
	deps := newTestMCPDeps(t)

	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]any{
		"query": "Can I pay by invoice?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var res service.AskResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("decoding answer: %v", err)
	}
	if !res.Escalated {
		t.Fatalf("expected escalation for an unsupported answer, got confidence %v", res.Confidence)
	}
}

func TestNewMCPServerListsTools(t *testing.T) {
	deps := newTestMCPDeps(t)
	s := NewMCPServer(deps)

	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	for _, name := range []string{"belief_current", "belief_history", "belief_propose", "job_get", "job_list", "job_logs", "ask"} {
		if !strings.Contains(string(raw), `"`+name+`"`) {
			t.Fatalf("tool %s not listed in %s", name, raw)
		}
	}
}
