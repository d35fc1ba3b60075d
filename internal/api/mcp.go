package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/api/handlers"
	"github.com/Harshitk-cp/twinledger/internal/buildconfig"
	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/service"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// MCPDeps holds dependencies for the MCP server. Every tool acts on behalf of
// TenantID.
type MCPDeps struct {
	TenantID uuid.UUID
	Services *Services
	Logger   *zap.Logger
}

// NewMCPServer creates an MCP server exposing the belief, job and ask tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"twinledger",
		buildconfig.Version(),
		server.WithToolCapabilities(true),
		server.WithInstructions("twinledger: the owner's versioned beliefs, background jobs and escalation-aware answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("belief_current",
			mcp.WithDescription("Return the current belief for a topic, optionally as of a past time."),
			mcp.WithString("topic", mcp.Description("Belief topic"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("Subject key (empty for the owner)")),
			mcp.WithString("as_of", mcp.Description("RFC 3339 timestamp")),
		),
		mcpBeliefCurrent(deps),
	)

	s.AddTool(
		mcp.NewTool("belief_history",
			mcp.WithDescription("Return every version of a belief, oldest first."),
			mcp.WithString("topic", mcp.Description("Belief topic"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("Subject key (empty for the owner)")),
		),
		mcpBeliefHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("belief_propose",
			mcp.WithDescription("Propose a new belief. It stays unverified until the owner confirms it."),
			mcp.WithString("topic", mcp.Description("Belief topic"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Belief text"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("Subject key (empty for the owner)")),
			mcp.WithString("memory_type", mcp.Description("Memory type"), mcp.Enum(
				string(domain.MemoryTypeFact),
				string(domain.MemoryTypePreference),
				string(domain.MemoryTypeStance),
				string(domain.MemoryTypeCorrection),
			)),
			mcp.WithString("source_id", mcp.Description("Where the belief came from (default mcp)")),
		),
		mcpBeliefPropose(deps),
	)

	s.AddTool(
		mcp.NewTool("job_get",
			mcp.WithDescription("Return a job by id."),
			mcp.WithString("id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpJobGet(deps),
	)

	s.AddTool(
		mcp.NewTool("job_list",
			mcp.WithDescription("List jobs, newest first."),
			mcp.WithString("status", mcp.Description("Comma-separated job statuses")),
			mcp.WithString("job_type", mcp.Description("Comma-separated job types")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default 20)")),
		),
		mcpJobList(deps),
	)

	s.AddTool(
		mcp.NewTool("job_logs",
			mcp.WithDescription("Return the log entries of a job, oldest first."),
			mcp.WithString("id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpJobLogs(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question from the owner's beliefs and documents. Low-confidence answers are escalated to the owner."),
			mcp.WithString("query", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("Subject key (empty for the owner)")),
		),
		mcpAsk(deps),
	)

	return s
}

func mcpBeliefCurrent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		asOf, err := mcpTime(req.GetString("as_of", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		key := domain.BeliefKey{TenantID: deps.TenantID, SubjectKey: req.GetString("subject", ""), Topic: topic}
		b, err := deps.Services.Beliefs.GetCurrent(ctx, key, asOf)
		if err != nil {
			return mcpServiceError(deps, "belief_current", err), nil
		}
		return mcpJSON(b)
	}
}

func mcpBeliefHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		key := domain.BeliefKey{TenantID: deps.TenantID, SubjectKey: req.GetString("subject", ""), Topic: topic}
		history, err := deps.Services.Beliefs.History(ctx, key)
		if err != nil {
			return mcpServiceError(deps, "belief_history", err), nil
		}
		return mcpJSON(history)
	}
}

func mcpBeliefPropose(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		b, err := deps.Services.Beliefs.Propose(ctx, service.BeliefInput{
			TenantID:   deps.TenantID,
			SubjectKey: req.GetString("subject", ""),
			Topic:      topic,
			Value:      value,
			MemoryType: domain.MemoryType(req.GetString("memory_type", string(domain.MemoryTypeFact))),
			Provenance: domain.Provenance{
				SourceType: domain.SourceAutoExtract,
				SourceID:   req.GetString("source_id", "mcp"),
			},
		})
		if err != nil {
			return mcpServiceError(deps, "belief_propose", err), nil
		}
		return mcpJSON(b)
	}
}

func mcpJobGet(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		j, res := mcpOwnedJob(ctx, deps, req)
		if res != nil {
			return res, nil
		}
		return mcpJSON(j)
	}
}

func mcpJobList(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		f := domain.JobFilter{TenantID: &deps.TenantID, Limit: limit}
		for _, s := range splitCSV(req.GetString("status", "")) {
			f.Statuses = append(f.Statuses, domain.JobStatus(s))
		}
		for _, t := range splitCSV(req.GetString("job_type", "")) {
			f.Types = append(f.Types, domain.JobType(t))
		}
		jobs, err := deps.Services.Jobs.List(ctx, f)
		if err != nil {
			return mcpServiceError(deps, "job_list", err), nil
		}
		return mcpJSON(jobs)
	}
}

func mcpJobLogs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		j, res := mcpOwnedJob(ctx, deps, req)
		if res != nil {
			return res, nil
		}
		logs, err := deps.Services.Jobs.Logs(ctx, j.ID)
		if err != nil {
			return mcpServiceError(deps, "job_logs", err), nil
		}
		return mcpJSON(logs)
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		res, err := deps.Services.Answers.Ask(ctx, service.AskInput{
			TenantID:   deps.TenantID,
			SubjectKey: req.GetString("subject", ""),
			Query:      query,
		})
		if err != nil {
			return mcpServiceError(deps, "ask", err), nil
		}
		return mcpJSON(res)
	}
}

func mcpOwnedJob(ctx context.Context, deps MCPDeps, req mcp.CallToolRequest) (*domain.Job, *mcp.CallToolResult) {
	raw, err := req.RequireString("id")
	if err != nil {
		return nil, mcpError("id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, mcpError("invalid job id")
	}
	j, err := deps.Services.Jobs.GetForTenant(ctx, deps.TenantID, id)
	if err != nil {
		return nil, mcpServiceError(deps, "job_get", err)
	}
	return j, nil
}

func mcpTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("invalid as_of: expected RFC 3339 timestamp")
	}
	return &t, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

// mcpServiceError reports domain errors to the caller and hides internal ones.
func mcpServiceError(deps MCPDeps, tool string, err error) *mcp.CallToolResult {
	if handlers.StatusFor(err) == http.StatusInternalServerError {
		if deps.Logger != nil {
			deps.Logger.Error("mcp tool failed", zap.String("tool", tool), zap.Error(err))
		}
		return mcpError(tool + " failed")
	}
	return mcpError(err.Error())
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
