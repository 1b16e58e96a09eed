package rpc

import (
	"context"
	_ "embed"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/untoldecay/taskgraph/internal/engine"
	"github.com/untoldecay/taskgraph/internal/render"
	"github.com/untoldecay/taskgraph/internal/types"
)

//go:embed agent_guide.md
var agentGuide string

// AgentGuide returns the agent usage guide, also served by
// graph_agent_config.
func AgentGuide() string { return agentGuide }

func (s *Server) handleOpen(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	result, err := s.engine.Open(ctx, s.agentFor(request), request.GetString("project", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

type planArgs struct {
	Nodes []engine.PlanNode `json:"nodes"`
}

func (s *Server) handlePlan(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args planArgs
	if err := request.BindArguments(&args); err != nil {
		return errorResult(engine.Errorf(engine.CodeValidation, "bad arguments: %v", err)), nil
	}
	result, err := s.engine.Plan(ctx, s.agentFor(request), args.Nodes)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

type nextArgs struct {
	Project string           `json:"project"`
	Scope   string           `json:"scope"`
	Filter  types.Properties `json:"filter"`
	Count   int              `json:"count"`
	Claim   bool             `json:"claim"`
}

func (s *Server) handleNext(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args nextArgs
	if err := request.BindArguments(&args); err != nil {
		return errorResult(engine.Errorf(engine.CodeValidation, "bad arguments: %v", err)), nil
	}
	result, err := s.engine.Next(ctx, s.agentFor(request), engine.NextRequest{
		Project: args.Project,
		Scope:   args.Scope,
		Filter:  args.Filter,
		Count:   args.Count,
		Claim:   args.Claim,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleContext(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	result, err := s.engine.Context(ctx, request.GetString("node_id", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

type updateArgs struct {
	Updates []engine.UpdateItem `json:"updates"`
}

func (s *Server) handleUpdate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args updateArgs
	if err := request.BindArguments(&args); err != nil {
		return errorResult(engine.Errorf(engine.CodeValidation, "bad arguments: %v", err)), nil
	}
	result, err := s.engine.Update(ctx, s.agentFor(request), args.Updates)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleResolve(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	result, err := s.engine.Resolve(ctx, s.agentFor(request),
		request.GetString("node_id", ""),
		request.GetString("message", ""),
		request.GetString("evidence_type", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

type connectArgs struct {
	Edges []engine.EdgeOp `json:"edges"`
}

func (s *Server) handleConnect(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args connectArgs
	if err := request.BindArguments(&args); err != nil {
		return errorResult(engine.Errorf(engine.CodeValidation, "bad arguments: %v", err)), nil
	}
	result, err := s.engine.Connect(ctx, s.agentFor(request), args.Edges)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleQuery(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var req engine.QueryRequest
	if err := request.BindArguments(&req); err != nil {
		return errorResult(engine.Errorf(engine.CodeValidation, "bad arguments: %v", err)), nil
	}
	result, err := s.engine.Query(ctx, req)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

type restructureArgs struct {
	Operations []engine.RestructureOp `json:"operations"`
	// Ops is accepted as a legacy alias for operations.
	Ops []engine.RestructureOp `json:"ops"`
}

func (s *Server) handleRestructure(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args restructureArgs
	if err := request.BindArguments(&args); err != nil {
		return errorResult(engine.Errorf(engine.CodeValidation, "bad arguments: %v", err)), nil
	}
	operations := args.Operations
	if len(operations) == 0 {
		operations = args.Ops
	}
	result, err := s.engine.Restructure(ctx, s.agentFor(request), operations)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleHistory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	result, err := s.engine.History(ctx,
		request.GetString("node_id", ""),
		int64(request.GetInt("before", 0)),
		request.GetInt("limit", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleOnboard(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	result, err := s.engine.Onboard(ctx, s.agentFor(request))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleTree(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	result, err := s.engine.Tree(ctx, request.GetString("project", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	md, err := s.statusMarkdown(ctx, request.GetString("project", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: md},
		},
	}, nil
}

// statusMarkdown assembles the per-project health report. Shared with the
// CLI status command, which additionally runs it through a terminal
// renderer.
func (s *Server) statusMarkdown(ctx context.Context, project string) (string, error) {
	return StatusMarkdown(ctx, s.engine, project)
}

// StatusMarkdown builds the status report for one project, or all of them
// when project is empty.
func StatusMarkdown(ctx context.Context, eng *engine.Engine, project string) (string, error) {
	summaries, err := eng.Store().ListProjects(ctx)
	if err != nil {
		return "", err
	}
	var sections []render.ProjectStatus
	for _, ps := range summaries {
		if project != "" && ps.Project != project {
			continue
		}
		cont, err := eng.Continuity(ctx, ps.Project)
		if err != nil {
			return "", err
		}
		integ, err := eng.Integrity(ctx, ps.Project)
		if err != nil {
			return "", err
		}
		sections = append(sections, render.ProjectStatus{
			Summary:    ps,
			Continuity: cont,
			Integrity:  integ,
		})
	}
	if project != "" && len(sections) == 0 {
		return "", engine.Errorf(engine.CodeProjectNotFound, "project %s not found", project)
	}
	return render.Status(sections), nil
}

type retroArgs struct {
	Project  string                `json:"project"`
	Scope    string                `json:"scope"`
	Findings []engine.RetroFinding `json:"findings"`
}

func (s *Server) handleRetro(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args retroArgs
	if err := request.BindArguments(&args); err != nil {
		return errorResult(engine.Errorf(engine.CodeValidation, "bad arguments: %v", err)), nil
	}
	result, err := s.engine.Retro(ctx, s.agentFor(request), engine.RetroRequest{
		Project:  args.Project,
		Scope:    args.Scope,
		Findings: args.Findings,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleAgentConfig(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: agentGuide},
		},
	}, nil
}

func (s *Server) handleKnowledgeWrite(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var req engine.KnowledgeWriteRequest
	if err := request.BindArguments(&req); err != nil {
		return errorResult(engine.Errorf(engine.CodeValidation, "bad arguments: %v", err)), nil
	}
	result, err := s.engine.KnowledgeWrite(ctx, s.agentFor(request), req)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleKnowledgeRead(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entry, err := s.engine.KnowledgeRead(ctx,
		request.GetString("project", ""),
		request.GetString("key", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(entry), nil
}

func (s *Server) handleKnowledgeDelete(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	err := s.engine.KnowledgeDelete(ctx, s.agentFor(request),
		request.GetString("project", ""),
		request.GetString("key", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]string{"status": "deleted"}), nil
}

func (s *Server) handleKnowledgeSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entries, err := s.engine.KnowledgeSearch(ctx,
		request.GetString("project", ""),
		request.GetString("query", ""),
		request.GetString("category", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"entries": entries, "total": len(entries)}), nil
}

func (s *Server) handleKnowledgeAudit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	log, err := s.engine.KnowledgeAudit(ctx,
		request.GetString("project", ""),
		request.GetInt("limit", 100))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"log": log}), nil
}
