package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/narratex/loom/internal/content"
	"github.com/narratex/loom/internal/pipeline"
	"github.com/narratex/loom/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator *pipeline.Orchestrator
	Store        *storage.Store
}

// NewMCPServer creates an MCP server exposing the generation pipeline as
// tools, plus a resource listing recent projects.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"loom",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("loom generates long-form content in four dependent stages: big picture, entities, structure, then granular units."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("create_project",
			mcp.WithDescription("Create a new content generation project (novel, course, documentary, ...)."),
			mcp.WithString("project_name", mcp.Description("Human-readable project name"), mcp.Required()),
			mcp.WithString("content_type", mcp.Description("Content type: novel, course, or documentary"), mcp.Required()),
			mcp.WithString("topic", mcp.Description("Topic or premise to generate from"), mcp.Required()),
			mcp.WithString("target_audience", mcp.Description("Intended audience")),
			mcp.WithString("genre", mcp.Description("Genre or subject area")),
		),
		mcpCreateProject(deps),
	)

	s.AddTool(
		mcp.NewTool("execute_stage",
			mcp.WithDescription("Run one generation stage (1=big_picture, 2=objects_relations, 3=structure, 4=granular_units). Stages must run in order."),
			mcp.WithString("project_id", mcp.Description("Project to advance"), mcp.Required()),
			mcp.WithNumber("stage_number", mcp.Description("Stage to execute (1-4)"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Override the configured model")),
			mcp.WithString("context_mode", mcp.Description("Context strategy: full or compact")),
		),
		mcpExecuteStage(deps),
	)

	s.AddTool(
		mcp.NewTool("project_status",
			mcp.WithDescription("Get a project's stages and content statistics."),
			mcp.WithString("project_id", mcp.Description("Project to inspect"), mcp.Required()),
		),
		mcpProjectStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List projects, optionally filtered by status or content type."),
			mcp.WithString("status", mcp.Description("Filter by status (pending, in_progress, completed, failed)")),
			mcp.WithString("content_type", mcp.Description("Filter by content type")),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
		),
		mcpListProjects(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"loom://projects",
			"Recent Projects",
			mcp.WithResourceDescription("Last 20 projects with status and progress"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProjects(deps),
	)

	return s
}

func mcpCreateProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("project_name")
		if err != nil {
			return mcpError("project_name is required"), nil
		}
		contentType, err := req.RequireString("content_type")
		if err != nil {
			return mcpError("content_type is required"), nil
		}
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}

		p, err := deps.Orchestrator.CreateProject(pipeline.ProjectSpec{
			Name:           name,
			ContentType:    contentType,
			Topic:          topic,
			TargetAudience: req.GetString("target_audience", ""),
			Genre:          req.GetString("genre", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create project: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Created project %s (%s). Run execute_stage with stage_number 1 to begin.", p.ID, p.ContentType)), nil
	}
}

func mcpExecuteStage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		stageNumber := req.GetInt("stage_number", 0)
		if stageNumber < 1 || stageNumber > content.StageCount {
			return mcpError(fmt.Sprintf("stage_number must be 1-%d", content.StageCount)), nil
		}

		result, err := deps.Orchestrator.ExecuteStage(ctx, projectID, stageNumber, pipeline.AIConfig{
			Model:       req.GetString("model", ""),
			ContextMode: req.GetString("context_mode", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("stage execution failed: %v", err)), nil
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpProjectStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		status, err := deps.Orchestrator.Status(projectID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get status: %v", err)), nil
		}

		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		projects, err := deps.Orchestrator.List(
			req.GetString("status", ""),
			req.GetString("content_type", ""),
			limit, 0,
		)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list projects: %v", err)), nil
		}
		if len(projects) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(projects)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProjects(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		projects, err := deps.Store.ListProjects("", "", 20, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}

		type projectSummary struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			ContentType  string `json:"content_type"`
			Status       string `json:"status"`
			CurrentStage int    `json:"current_stage"`
		}

		summaries := make([]projectSummary, len(projects))
		for i, p := range projects {
			summaries[i] = projectSummary{
				ID:           p.ID,
				Name:         p.Name,
				ContentType:  p.ContentType,
				Status:       p.Status,
				CurrentStage: p.CurrentStage,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal projects: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
