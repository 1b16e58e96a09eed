// Package rpc exposes the task graph engine over the Model Context
// Protocol. Agents connect over stdio; every capability of the engine is a
// graph_* tool, with a few read views doubled as resources.
package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/untoldecay/taskgraph/internal/engine"
)

const serverVersion = "0.4.0"

// Server wraps the MCP server around the engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *engine.Engine
	agent     string // default identity when a call omits agent
	log       *slog.Logger
}

// New creates and configures the MCP server with all tools and resources.
// agent is the identity used when a tool call does not name one.
func New(eng *engine.Engine, agent string, log *slog.Logger) *Server {
	s := &Server{
		engine: eng,
		agent:  agent,
		log:    log,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"taskgraph",
		serverVersion,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving JSON-RPC over stdin/stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := mcpserver.NewStdioServer(s.mcpServer)
	srv.SetErrorLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelError))
	return srv.Listen(ctx, os.Stdin, os.Stdout)
}

// agentFor resolves the acting identity: explicit argument, else the
// server-wide default.
func (s *Server) agentFor(request mcplib.CallToolRequest) string {
	if a := request.GetString("agent", ""); a != "" {
		return a
	}
	return s.agent
}

// jsonResult marshals v as the single text content of a tool result.
func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(engine.Errorf(engine.CodeEngine, "marshal response: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

// errorResult converts an error into a structured {error, code} payload so
// agents can branch on the code instead of parsing prose.
func errorResult(err error) *mcplib.CallToolResult {
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
		"code":  engine.CodeOf(err),
	})
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(payload)},
		},
		IsError: true,
	}
}
