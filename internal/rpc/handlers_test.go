package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/untoldecay/taskgraph/internal/engine"
	"github.com/untoldecay/taskgraph/internal/storage/sqlite"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(store, log)
	return New(eng, "rpc-test", log), eng
}

func callTool(args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Arguments: args},
	}
}

// decodeResult unmarshals the single text content of a tool result into v.
func decodeResult(t *testing.T, result *mcplib.CallToolResult, v any) {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("content = %v", result.Content)
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatalf("content[0] = %T", result.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), v); err != nil {
		t.Fatalf("decode result: %v\n%s", err, text.Text)
	}
}

func TestRestructureToolArgumentNames(t *testing.T) {
	srv, eng := newTestServer(t)
	ctx := context.Background()

	opened, err := eng.Open(ctx, "rpc-test", "demo")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	planned, err := eng.Plan(ctx, "rpc-test", []engine.PlanNode{
		{Ref: "parent", ParentRef: opened.Root.ID, Summary: "parent"},
		{Ref: "child", ParentRef: "parent", Summary: "child"},
		{Ref: "target", ParentRef: opened.Root.ID, Summary: "target"},
		{Ref: "other", ParentRef: opened.Root.ID, Summary: "other"},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	result, err := srv.handleRestructure(ctx, callTool(map[string]any{
		"operations": []any{map[string]any{
			"op":         "move",
			"node_id":    planned.Created["child"].ID,
			"new_parent": planned.Created["target"].ID,
		}},
	}))
	if err != nil {
		t.Fatalf("handleRestructure failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %v", result.Content)
	}
	var out engine.RestructureResult
	decodeResult(t, result, &out)
	if len(out.Outcomes) != 1 || !out.Outcomes[0].Applied {
		t.Fatalf("outcomes = %+v", out.Outcomes)
	}

	// The shorter key still works.
	result, err = srv.handleRestructure(ctx, callTool(map[string]any{
		"ops": []any{map[string]any{
			"op":         "move",
			"node_id":    planned.Created["other"].ID,
			"new_parent": planned.Created["target"].ID,
		}},
	}))
	if err != nil {
		t.Fatalf("handleRestructure failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error via ops alias: %v", result.Content)
	}

	// No operations at all is a validation error.
	result, err = srv.handleRestructure(ctx, callTool(map[string]any{}))
	if err != nil {
		t.Fatalf("handleRestructure failed: %v", err)
	}
	if !result.IsError {
		t.Fatal("empty batch accepted")
	}
	text := result.Content[0].(mcplib.TextContent).Text
	if !strings.Contains(text, engine.CodeValidation) {
		t.Errorf("error payload = %s", text)
	}
}
