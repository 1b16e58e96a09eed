package engine

import (
	"context"
	"errors"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// QueryRequest is the graph_query input.
type QueryRequest struct {
	Project         string           `json:"project"`
	Resolved        *bool            `json:"resolved,omitempty"`
	Blocked         *bool            `json:"is_blocked,omitempty"`
	Actionable      *bool            `json:"is_actionable,omitempty"`
	IsLeaf          *bool            `json:"is_leaf,omitempty"`
	Ancestor        string           `json:"ancestor,omitempty"`
	Text            string           `json:"text,omitempty"`
	HasEvidenceType string           `json:"has_evidence_type,omitempty"`
	ClaimedBy       *string          `json:"claimed_by,omitempty"`
	Properties      types.Properties `json:"properties,omitempty"`
	Sort            string           `json:"sort,omitempty"`
	Limit           int              `json:"limit,omitempty"`
	Cursor          string           `json:"cursor,omitempty"`
}

// QueryResult is one page of matches.
type QueryResult struct {
	Nodes      []*types.Node `json:"nodes"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Query runs a filtered, sorted, cursor-paginated search over a project.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if req.Project == "" {
		return nil, Errorf(CodeValidation, "project is required")
	}
	if _, err := e.store.ProjectRoot(ctx, req.Project); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Errorf(CodeProjectNotFound, "project %s not found", req.Project)
		}
		return nil, err
	}
	if req.Ancestor != "" {
		if _, err := e.store.GetNode(ctx, req.Ancestor); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, Errorf(CodeNotFound, "ancestor %s not found", req.Ancestor)
			}
			return nil, err
		}
	}

	page, err := e.store.Query(ctx, storage.NodeFilter{
		Project:         req.Project,
		Resolved:        req.Resolved,
		Blocked:         req.Blocked,
		Actionable:      req.Actionable,
		IsLeaf:          req.IsLeaf,
		Ancestor:        req.Ancestor,
		Text:            req.Text,
		HasEvidenceType: req.HasEvidenceType,
		ClaimedBy:       req.ClaimedBy,
		Properties:      req.Properties,
		Sort:            req.Sort,
		Limit:           req.Limit,
		Cursor:          req.Cursor,
	})
	if err != nil {
		// Bad sorts and cursors are caller mistakes; anything else is a
		// store failure and keeps its engine coding.
		if errors.Is(err, storage.ErrInvalidFilter) {
			return nil, Errorf(CodeValidation, "%v", err)
		}
		return nil, err
	}
	return &QueryResult{Nodes: page.Nodes, NextCursor: page.Cursor}, nil
}
