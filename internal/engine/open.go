package engine

import (
	"context"
	"errors"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// OpenResult is the graph_open response: either the project list or the
// opened (possibly just created) project.
type OpenResult struct {
	Projects []*types.ProjectSummary `json:"projects,omitempty"`
	Root     *types.Node             `json:"root,omitempty"`
	Created  bool                    `json:"created,omitempty"`
}

// Open lists projects when no slug is given; otherwise it opens the named
// project, creating its root node on first touch.
func (e *Engine) Open(ctx context.Context, agent, project string) (*OpenResult, error) {
	if project == "" {
		projects, err := e.store.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		return &OpenResult{Projects: projects}, nil
	}

	if err := types.ValidateProject(project); err != nil {
		return nil, Errorf(CodeValidation, "%v", err)
	}

	root, err := e.store.ProjectRoot(ctx, project)
	if err == nil {
		return &OpenResult{Root: root}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	now := e.now()
	root = &types.Node{
		ID:         NewNodeID(),
		Project:    project,
		Summary:    project,
		Discovery:  types.DiscoveryDone,
		Properties: types.Properties{},
		Depth:      0,
		Rev:        1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateNode(ctx, root); err != nil {
			return err
		}
		return appendEvent(ctx, tx, root.ID, agent, types.EventCreated,
			map[string]any{"project": project, "root": true}, now)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("project created", "project", project, "root", root.ID, "agent", agent)
	return &OpenResult{Root: root, Created: true}, nil
}

// ContextResult is the deep neighborhood read around one node.
type ContextResult struct {
	Node         *types.Node    `json:"node"`
	Ancestors    []*types.Node  `json:"ancestors"` // root first
	Children     []*types.Node  `json:"children"`
	Dependencies []DepStatus    `json:"dependencies,omitempty"`
	Dependents   []DepStatus    `json:"dependents,omitempty"`
	RelatedTo    []string       `json:"related_to,omitempty"`
	Events       []*types.Event `json:"events"`
}

// Context returns everything an agent needs to pick up a node cold.
func (e *Engine) Context(ctx context.Context, nodeID string) (*ContextResult, error) {
	n, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Errorf(CodeNotFound, "node %s not found", nodeID)
		}
		return nil, err
	}

	result := &ContextResult{Node: n}

	chain, err := e.store.Ancestors(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	for i := len(chain) - 1; i >= 0; i-- {
		a, err := e.store.GetNode(ctx, chain[i])
		if err != nil {
			return nil, err
		}
		result.Ancestors = append(result.Ancestors, a)
	}

	result.Children, err = e.store.Children(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	outbound, err := e.store.EdgesFrom(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	for _, edge := range outbound {
		switch edge.Type {
		case types.EdgeDependsOn:
			dep, err := e.store.GetNode(ctx, edge.To)
			if err != nil {
				return nil, err
			}
			result.Dependencies = append(result.Dependencies, DepStatus{
				ID: dep.ID, Summary: dep.Summary, Resolved: dep.Resolved,
			})
		default:
			result.RelatedTo = append(result.RelatedTo, edge.To)
		}
	}
	inbound, err := e.store.EdgesTo(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	for _, edge := range inbound {
		if edge.Type != types.EdgeDependsOn {
			continue
		}
		dep, err := e.store.GetNode(ctx, edge.From)
		if err != nil {
			return nil, err
		}
		result.Dependents = append(result.Dependents, DepStatus{
			ID: dep.ID, Summary: dep.Summary, Resolved: dep.Resolved,
		})
	}

	result.Events, err = e.store.Events(ctx, nodeID, 0, 20)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TreeNode is one node of the rendered project tree.
type TreeNode struct {
	Node     *types.Node `json:"node"`
	Children []*TreeNode `json:"children,omitempty"`
}

// Tree returns the full parent/child tree of a project.
func (e *Engine) Tree(ctx context.Context, project string) (*TreeNode, error) {
	nodes, err := e.store.ProjectNodes(ctx, project)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, Errorf(CodeProjectNotFound, "project %s not found", project)
	}

	byID := make(map[string]*TreeNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &TreeNode{Node: n}
	}
	var root *TreeNode
	for _, n := range nodes {
		tn := byID[n.ID]
		if n.Parent == nil {
			root = tn
			continue
		}
		if parent, ok := byID[*n.Parent]; ok {
			parent.Children = append(parent.Children, tn)
		}
	}
	if root == nil {
		return nil, Errorf(CodeEngine, "project %s has no root", project)
	}
	return root, nil
}

// HistoryResult is one page of audit events.
type HistoryResult struct {
	Events []*types.Event `json:"events"`
	// NextBefore is the id to pass as before for the following page; 0
	// when exhausted.
	NextBefore int64 `json:"next_before,omitempty"`
}

// History returns a node's audit trail, newest first.
func (e *Engine) History(ctx context.Context, nodeID string, before int64, limit int) (*HistoryResult, error) {
	if nodeID == "" {
		return nil, Errorf(CodeValidation, "node_id is required")
	}
	if _, err := e.store.GetNode(ctx, nodeID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Errorf(CodeNotFound, "node %s not found", nodeID)
		}
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	events, err := e.store.Events(ctx, nodeID, before, limit)
	if err != nil {
		return nil, err
	}
	result := &HistoryResult{Events: events}
	if len(events) == limit {
		result.NextBefore = events[len(events)-1].ID
	}
	return result, nil
}

// OnboardResult is the orientation bundle for an agent joining a session.
type OnboardResult struct {
	Projects        []*types.ProjectSummary            `json:"projects"`
	YourClaims      []*types.Node                      `json:"your_claims,omitempty"`
	RecentKnowledge map[string][]*types.KnowledgeEntry `json:"recent_knowledge,omitempty"`
}

// Onboard answers "where am I": projects, the caller's live claims, and the
// freshest knowledge per project.
func (e *Engine) Onboard(ctx context.Context, agent string) (*OnboardResult, error) {
	projects, err := e.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	result := &OnboardResult{
		Projects:        projects,
		RecentKnowledge: make(map[string][]*types.KnowledgeEntry),
	}
	now := e.now()
	for _, p := range projects {
		claimed, err := e.store.ClaimedNodes(ctx, p.Project, agent)
		if err != nil {
			return nil, err
		}
		for _, n := range claimed {
			if n.Properties.ClaimActive(now, e.claimTTL) {
				result.YourClaims = append(result.YourClaims, n)
			}
		}
		entries, err := e.store.ListKnowledge(ctx, p.Project)
		if err != nil {
			return nil, err
		}
		if len(entries) > 5 {
			entries = entries[:5]
		}
		if len(entries) > 0 {
			result.RecentKnowledge[p.Project] = entries
		}
	}
	return result, nil
}

// Resolve is the graph_resolve shorthand: mark a node resolved with a note
// evidence built from message. evidenceType may upgrade the note to git or
// test.
func (e *Engine) Resolve(ctx context.Context, agent, nodeID, message, evidenceType string) (*UpdateResult, error) {
	if nodeID == "" {
		return nil, Errorf(CodeValidation, "node_id is required")
	}
	if message == "" {
		return nil, Errorf(CodeValidation, "message is required")
	}
	if evidenceType == "" {
		evidenceType = types.EvidenceNote
	}
	resolved := true
	return e.Update(ctx, agent, []UpdateItem{{
		NodeID:   nodeID,
		Resolved: &resolved,
		Evidence: []EvidenceInput{{Type: evidenceType, Ref: message}},
	}})
}
