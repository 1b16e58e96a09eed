package engine

import (
	"context"
	"errors"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// candidateFetch bounds how many ranked candidates are pulled before the
// Go-side filters (property match, foreign claims) run.
const candidateFetch = 200

// NextRequest asks the scheduler for work.
type NextRequest struct {
	Project string           `json:"project"`
	Scope   string           `json:"scope,omitempty"`
	Filter  types.Properties `json:"filter,omitempty"`
	Count   int              `json:"count,omitempty"`
	Claim   bool             `json:"claim,omitempty"`
}

// DepStatus is one dependency endpoint with its satisfaction state.
type DepStatus struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Resolved bool   `json:"resolved"`
}

// NextItem is one scheduled node with the context an agent needs to start.
type NextItem struct {
	Node         *types.Node `json:"node"`
	Ancestors    []string    `json:"ancestors"` // root first
	Dependencies []DepStatus `json:"dependencies,omitempty"`
	Dependents   []DepStatus `json:"dependents,omitempty"`
	Claimed      bool        `json:"claimed,omitempty"`
}

// NextResult is the scheduler response.
type NextResult struct {
	Items      []*NextItem   `json:"items"`
	Scope      string        `json:"scope,omitempty"`
	AutoScoped bool          `json:"auto_scoped,omitempty"`
	YourClaims []*types.Node `json:"your_claims,omitempty"`
	RetroNudge string        `json:"retro_nudge,omitempty"`
}

// Next ranks actionable work and optionally claims it. Nodes under another
// agent's fresh lease are skipped, not errored; an expired lease is free to
// take.
func (e *Engine) Next(ctx context.Context, agent string, req NextRequest) (*NextResult, error) {
	now := e.now()

	project := req.Project
	if project == "" {
		projects, err := e.store.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		if len(projects) != 1 {
			return nil, Errorf(CodeValidation,
				"project is required when %d projects exist", len(projects))
		}
		project = projects[0].Project
	}
	if _, err := e.store.ProjectRoot(ctx, project); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Errorf(CodeProjectNotFound, "project %s not found", project)
		}
		return nil, err
	}

	claimed, err := e.store.ClaimedNodes(ctx, project, agent)
	if err != nil {
		return nil, err
	}
	var yourClaims []*types.Node
	for _, n := range claimed {
		if n.Properties.ClaimActive(now, e.claimTTL) {
			yourClaims = append(yourClaims, n)
		}
	}

	result := &NextResult{Scope: req.Scope, YourClaims: yourClaims}

	// Auto-scope: stay near the most recent claim unless the caller chose
	// a scope explicitly.
	if req.Scope == "" && len(yourClaims) > 0 {
		recent := yourClaims[0]
		for _, n := range yourClaims[1:] {
			if n.Properties.ClaimedAt().After(recent.Properties.ClaimedAt()) {
				recent = n
			}
		}
		if recent.Parent != nil {
			result.Scope = *recent.Parent
			result.AutoScoped = true
		}
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}

	candidates, err := e.store.NextCandidates(ctx, project, result.Scope, candidateFetch)
	if err != nil {
		return nil, err
	}
	if result.AutoScoped && len(candidates) == 0 {
		// The claimed neighborhood is exhausted; widen back out.
		result.Scope = ""
		result.AutoScoped = false
		candidates, err = e.store.NextCandidates(ctx, project, "", candidateFetch)
		if err != nil {
			return nil, err
		}
	}

	var picked []*types.Node
	for _, n := range candidates {
		if len(picked) == count {
			break
		}
		if len(req.Filter) > 0 && !n.Properties.Matches(req.Filter) {
			continue
		}
		if by := n.Properties.ClaimedBy(); by != "" && by != agent &&
			n.Properties.ClaimActive(now, e.claimTTL) {
			continue
		}
		picked = append(picked, n)
	}

	if req.Claim && len(picked) > 0 {
		err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			for _, n := range picked {
				fresh, err := tx.GetNode(ctx, n.ID)
				if err != nil {
					return err
				}
				if by := fresh.Properties.ClaimedBy(); by != "" && by != agent &&
					fresh.Properties.ClaimActive(now, e.claimTTL) {
					continue
				}
				fresh.Properties.SetClaim(agent, now)
				fresh.Rev++
				fresh.UpdatedAt = now
				if err := tx.UpdateNode(ctx, fresh); err != nil {
					return err
				}
				if err := appendEvent(ctx, tx, fresh.ID, agent, types.EventUpdated,
					map[string]any{"claimed_by": agent}, now); err != nil {
					return err
				}
				*n = *fresh
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	for _, n := range picked {
		item, err := e.buildNextItem(ctx, n)
		if err != nil {
			return nil, err
		}
		item.Claimed = req.Claim && n.Properties.ClaimedBy() == agent
		result.Items = append(result.Items, item)
	}

	nudge, err := e.retroNudge(ctx, agent, project)
	if err != nil {
		e.log.Warn("retro nudge check failed", "project", project, "error", err)
	} else {
		result.RetroNudge = nudge
	}
	return result, nil
}

func (e *Engine) buildNextItem(ctx context.Context, n *types.Node) (*NextItem, error) {
	item := &NextItem{Node: n}

	chain, err := e.store.Ancestors(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	// Ancestors come nearest-first; present root-first.
	for i := len(chain) - 1; i >= 0; i-- {
		item.Ancestors = append(item.Ancestors, chain[i])
	}

	outbound, err := e.store.EdgesFrom(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	for _, edge := range outbound {
		if edge.Type != types.EdgeDependsOn {
			continue
		}
		dep, err := e.store.GetNode(ctx, edge.To)
		if err != nil {
			return nil, err
		}
		item.Dependencies = append(item.Dependencies, DepStatus{
			ID: dep.ID, Summary: dep.Summary, Resolved: dep.Resolved,
		})
	}
	inbound, err := e.store.EdgesTo(ctx, n.ID)
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
		item.Dependents = append(item.Dependents, DepStatus{
			ID: dep.ID, Summary: dep.Summary, Resolved: dep.Resolved,
		})
	}
	return item, nil
}
