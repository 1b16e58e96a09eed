package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// retroKeyPrefix marks knowledge entries written by graph_retro. The retro
// nudge counter resets at the newest entry carrying this prefix.
const retroKeyPrefix = "retro-"

// Retro finding categories, a closed set distinct from knowledge categories.
const (
	FindingClaudeMD  = "claude_md_candidate"
	FindingGap       = "knowledge_gap"
	FindingWorkflow  = "workflow_improvement"
	FindingBugOrDebt = "bug_or_debt"
	FindingDrift     = "knowledge_drift"
)

var findingCategories = []string{
	FindingClaudeMD, FindingGap, FindingWorkflow, FindingBugOrDebt, FindingDrift,
}

func validFinding(category string) bool {
	for _, c := range findingCategories {
		if c == category {
			return true
		}
	}
	return false
}

// RetroFinding is one lesson captured during a retro.
type RetroFinding struct {
	Category string `json:"category"`
	Content  string `json:"content"`
}

// RetroRequest is the graph_retro input. Without findings the call is a
// review: it returns everything worth reflecting on. With findings it
// persists them.
type RetroRequest struct {
	Project  string         `json:"project"`
	Scope    string         `json:"scope,omitempty"`
	Findings []RetroFinding `json:"findings,omitempty"`
}

// RetroResult carries either the review context or the stored entry.
type RetroResult struct {
	ResolvedSinceLast  []*types.Node           `json:"resolved_since_last,omitempty"`
	Knowledge          []*types.KnowledgeEntry `json:"knowledge,omitempty"`
	Entry              *types.KnowledgeEntry   `json:"entry,omitempty"`
	ClaudeMDCandidates []string                `json:"claude_md_candidates,omitempty"`
}

// Retro reviews or records a retrospective for a project.
func (e *Engine) Retro(ctx context.Context, agent string, req RetroRequest) (*RetroResult, error) {
	if req.Project == "" {
		return nil, Errorf(CodeValidation, "project is required")
	}
	if _, err := e.store.ProjectRoot(ctx, req.Project); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Errorf(CodeProjectNotFound, "project %s not found", req.Project)
		}
		return nil, err
	}
	if req.Scope != "" {
		if _, err := e.store.GetNode(ctx, req.Scope); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, Errorf(CodeNotFound, "scope node %s not found", req.Scope)
			}
			return nil, err
		}
	}

	if len(req.Findings) == 0 {
		return e.retroReview(ctx, agent, req)
	}
	return e.retroRecord(ctx, agent, req)
}

// retroReview gathers what happened since the last retro so the agent can
// reflect with the facts in front of it.
func (e *Engine) retroReview(ctx context.Context, agent string, req RetroRequest) (*RetroResult, error) {
	since, err := e.lastRetroTime(ctx, agent, req.Project)
	if err != nil {
		return nil, err
	}

	resolved := true
	filter := storage.NodeFilter{
		Project:  req.Project,
		Resolved: &resolved,
		Ancestor: req.Scope,
		Sort:     "recent",
		Limit:    100,
	}
	filter.UpdatedAfter = since
	page, err := e.store.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	entries, err := e.store.ListKnowledge(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	return &RetroResult{
		ResolvedSinceLast: page.Nodes,
		Knowledge:         entries,
	}, nil
}

// retroRecord persists the findings as one knowledge entry keyed by
// timestamp. Writing it implicitly resets the retro nudge counter.
func (e *Engine) retroRecord(ctx context.Context, agent string, req RetroRequest) (*RetroResult, error) {
	result := &RetroResult{}
	var lines []string
	for i, f := range req.Findings {
		if !validFinding(f.Category) {
			return nil, Errorf(CodeInvalidCategory,
				"finding %d: invalid category %q (valid: %s)",
				i, f.Category, strings.Join(findingCategories, ", "))
		}
		if f.Content == "" {
			return nil, Errorf(CodeValidation, "finding %d: content is required", i)
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", f.Category, f.Content))
		if f.Category == FindingClaudeMD {
			result.ClaudeMDCandidates = append(result.ClaudeMDCandidates, f.Content)
		}
	}

	now := e.now()
	entry := &types.KnowledgeEntry{
		ID:        NewKnowledgeID(),
		Project:   req.Project,
		Key:       retroKeyPrefix + now.UTC().Format("20060102-150405"),
		Content:   strings.Join(lines, "\n"),
		Category:  types.CategoryDiscovery,
		CreatedBy: agent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if claim := e.freshestClaim(ctx, req.Project, agent); claim != "" {
		entry.SourceNode = &claim
	}

	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.PutKnowledge(ctx, entry); err != nil {
			return err
		}
		return tx.AppendKnowledgeLog(ctx, &types.KnowledgeLogEntry{
			Project:   req.Project,
			Key:       entry.Key,
			Action:    "write",
			Agent:     agent,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("retro recorded", "project", req.Project, "agent", agent,
		"findings", len(req.Findings), "key", entry.Key)
	result.Entry = entry
	return result, nil
}
