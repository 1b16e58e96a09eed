package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// graph://projects: the project list with counts.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"graph://projects",
			"Projects",
			mcplib.WithResourceDescription("All projects with resolved/actionable/blocked counts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleProjectsResource,
	)

	// graph://project/{name}/tree: one project's full tree.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"graph://project/{name}/tree",
			"Project Tree",
			mcplib.WithTemplateDescription("Full parent/child tree of one project"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleTreeResource,
	)
}

func (s *Server) handleProjectsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	projects, err := s.engine.Store().ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("rpc: list projects: %w", err)
	}
	data, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal projects: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "graph://projects",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleTreeResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	name := strings.TrimSuffix(strings.TrimPrefix(uri, "graph://project/"), "/tree")
	if name == "" || name == uri {
		return nil, fmt.Errorf("rpc: invalid tree URI: %s", uri)
	}
	tree, err := s.engine.Tree(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("rpc: tree %s: %w", name, err)
	}
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal tree: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
