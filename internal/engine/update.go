package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// autoResolveNote is the synthetic evidence attached when a parent resolves
// because its last child did.
const autoResolveNote = "auto-resolved: all children complete"

// retroNudgeThreshold is how many resolves since the last retro trigger the
// nudge.
const retroNudgeThreshold = 5

// EvidenceInput is caller-supplied evidence; agent and timestamp are stamped
// by the engine.
type EvidenceInput struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

// UpdateItem is one node mutation in an update batch. Nil pointers leave the
// field untouched.
type UpdateItem struct {
	NodeID         string           `json:"node_id"`
	Summary        *string          `json:"summary,omitempty"`
	Resolved       *bool            `json:"resolved,omitempty"`
	ResolvedReason string           `json:"resolved_reason,omitempty"`
	Blocked        *bool            `json:"blocked,omitempty"`
	BlockedReason  *string          `json:"blocked_reason,omitempty"`
	Discovery      *string          `json:"discovery,omitempty"`
	Properties     types.Properties `json:"properties,omitempty"`
	ContextLinks   []string         `json:"context_links,omitempty"`
	Evidence       []EvidenceInput  `json:"evidence,omitempty"`
	Plan           []string         `json:"plan,omitempty"`
	ExpectedRev    *int64           `json:"expected_rev,omitempty"`
}

// UpdateResult reports the updated nodes, the nodes that became actionable
// because of this batch, and an optional retro nudge.
type UpdateResult struct {
	Updated         []*types.Node `json:"updated"`
	NewlyActionable []string      `json:"newly_actionable"`
	RetroNudge      string        `json:"retro_nudge,omitempty"`
}

// Update applies a batch of node mutations in one transaction. Any rejection
// aborts the whole batch. After the batch, newly actionable nodes are
// computed scoped to the just-resolved ids.
func (e *Engine) Update(ctx context.Context, agent string, updates []UpdateItem) (*UpdateResult, error) {
	if len(updates) == 0 {
		return nil, Errorf(CodeValidation, "updates must not be empty")
	}

	now := e.now()
	result := &UpdateResult{}
	var resolvedIDs []string
	projects := make(map[string]bool)

	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for i := range updates {
			n, resolvedNow, err := e.applyUpdate(ctx, tx, agent, &updates[i], now)
			if err != nil {
				return err
			}
			result.Updated = append(result.Updated, n)
			projects[n.Project] = true
			if resolvedNow {
				resolvedIDs = append(resolvedIDs, n.ID)
				cascaded, err := e.autoResolveAncestors(ctx, tx, agent, n, now)
				if err != nil {
					return err
				}
				resolvedIDs = append(resolvedIDs, cascaded...)
			}
		}

		newly, err := findNewlyActionable(ctx, tx, resolvedIDs)
		if err != nil {
			return err
		}
		result.NewlyActionable = newly
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resolvedIDs) > 0 {
		for project := range projects {
			nudge, err := e.retroNudge(ctx, agent, project)
			if err != nil {
				e.log.Warn("retro nudge check failed", "project", project, "error", err)
				continue
			}
			if nudge != "" {
				result.RetroNudge = nudge
				break
			}
		}
	}

	e.log.Info("update applied", "agent", agent,
		"updated", len(result.Updated), "resolved", len(resolvedIDs))
	return result, nil
}

func (e *Engine) applyUpdate(ctx context.Context, tx storage.Transaction, agent string, item *UpdateItem, now time.Time) (*types.Node, bool, error) {
	if item.NodeID == "" {
		return nil, false, Errorf(CodeValidation, "node_id is required")
	}
	n, err := getNodeCoded(ctx, tx, item.NodeID)
	if err != nil {
		return nil, false, err
	}
	if item.ExpectedRev != nil && *item.ExpectedRev != n.Rev {
		return nil, false, Errorf(CodeRevMismatch,
			"node %s is at rev %d, expected %d", n.ID, n.Rev, *item.ExpectedRev)
	}

	changes := make(map[string]any)

	if item.Summary != nil && *item.Summary != n.Summary {
		changes["summary"] = map[string]any{"from": n.Summary, "to": *item.Summary}
		n.Summary = *item.Summary
	}

	if len(item.Properties) > 0 {
		for key := range item.Properties {
			if strings.HasPrefix(key, "_") {
				return nil, false, Errorf(CodeValidation,
					"node %s: property %q is engine-reserved", n.ID, key)
			}
		}
		n.Properties = n.Properties.Merge(item.Properties)
		changes["properties"] = item.Properties
	}

	if len(item.ContextLinks) > 0 {
		n.ContextLinks = dedupStrings(n.ContextLinks, item.ContextLinks)
		changes["context_links"] = item.ContextLinks
	}

	if item.ResolvedReason != "" {
		n.Evidence = append([]types.Evidence{{
			Type:      types.EvidenceNote,
			Ref:       item.ResolvedReason,
			Agent:     agent,
			Timestamp: now,
		}}, n.Evidence...)
	}
	for _, ev := range item.Evidence {
		if ev.Type == "" || ev.Ref == "" {
			return nil, false, Errorf(CodeValidation,
				"node %s: evidence needs both type and ref", n.ID)
		}
		n.Evidence = append(n.Evidence, types.Evidence{
			Type:      ev.Type,
			Ref:       ev.Ref,
			Agent:     agent,
			Timestamp: now,
		})
	}
	if len(item.Evidence) > 0 {
		changes["evidence_added"] = len(item.Evidence)
	}

	if item.Plan != nil {
		n.Plan = item.Plan
		changes["plan"] = item.Plan
	}

	if item.Discovery != nil && *item.Discovery != n.Discovery {
		if *item.Discovery != types.DiscoveryPending && *item.Discovery != types.DiscoveryDone {
			return nil, false, Errorf(CodeValidation, "invalid discovery state %q", *item.Discovery)
		}
		if err := appendEvent(ctx, tx, n.ID, agent, types.EventDiscoveryChanged,
			map[string]any{"from": n.Discovery, "to": *item.Discovery}, now); err != nil {
			return nil, false, err
		}
		n.Discovery = *item.Discovery
		changes["discovery"] = *item.Discovery
	}

	if item.Blocked != nil && *item.Blocked != n.Blocked {
		if *item.Blocked {
			reason := ""
			if item.BlockedReason != nil {
				reason = *item.BlockedReason
			}
			if reason == "" {
				return nil, false, Errorf(CodeBlockedRequiresReason,
					"node %s: blocking requires a blocked_reason", n.ID)
			}
			n.Blocked = true
			n.BlockedReason = &reason
		} else {
			n.Blocked = false
			n.BlockedReason = nil
		}
		if err := appendEvent(ctx, tx, n.ID, agent, types.EventBlockedChanged,
			map[string]any{"blocked": n.Blocked, "reason": n.BlockedReason}, now); err != nil {
			return nil, false, err
		}
		changes["blocked"] = n.Blocked
	}

	resolvedNow := false
	action := types.EventUpdated
	if item.Resolved != nil && *item.Resolved != n.Resolved {
		if *item.Resolved {
			if len(n.Evidence) == 0 {
				return nil, false, Errorf(CodeResolveRequiresEvidence,
					"node %s: resolving requires evidence", n.ID)
			}
			if err := e.checkStrictResolve(ctx, tx, n); err != nil {
				return nil, false, err
			}
			n.Resolved = true
			resolvedNow = true
			action = types.EventResolved
		} else {
			n.Resolved = false
		}
		changes["resolved"] = n.Resolved
	}

	n.Rev++
	n.UpdatedAt = now
	if err := tx.UpdateNode(ctx, n); err != nil {
		return nil, false, err
	}
	if err := appendEvent(ctx, tx, n.ID, agent, action, changes, now); err != nil {
		return nil, false, err
	}
	return n, resolvedNow, nil
}

// checkStrictResolve enforces the raised evidence bar when the project root
// carries strict=true: at least one git or test evidence plus at least one
// context link.
func (e *Engine) checkStrictResolve(ctx context.Context, tx storage.Transaction, n *types.Node) error {
	if n.IsRoot() {
		return nil
	}
	root, err := tx.ProjectRoot(ctx, n.Project)
	if err != nil {
		return err
	}
	if !root.Properties.Strict() {
		return nil
	}
	if !n.HasEvidenceType(types.EvidenceGit, types.EvidenceTest) {
		return Errorf(CodeResolveRequiresEvidence,
			"node %s: strict mode requires git or test evidence to resolve", n.ID)
	}
	if len(n.ContextLinks) == 0 {
		return Errorf(CodeResolveRequiresEvidence,
			"node %s: strict mode requires at least one context link to resolve", n.ID)
	}
	return nil
}

// autoResolveAncestors walks up from a just-resolved node. Each parent whose
// children are now all resolved and whose dependencies are satisfied is
// resolved too, with a synthetic note. Project roots never auto-resolve.
func (e *Engine) autoResolveAncestors(ctx context.Context, tx storage.Transaction, agent string, n *types.Node, now time.Time) ([]string, error) {
	var cascaded []string
	current := n
	for current.Parent != nil {
		parent, err := tx.GetNode(ctx, *current.Parent)
		if err != nil {
			return nil, err
		}
		if parent.IsRoot() || parent.Resolved || parent.Blocked {
			break
		}
		unresolved, err := tx.UnresolvedChildCount(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		if unresolved > 0 {
			break
		}
		deps, err := tx.UnresolvedDependencies(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		if len(deps) > 0 {
			break
		}

		parent.Resolved = true
		parent.Evidence = append(parent.Evidence, types.Evidence{
			Type:      types.EvidenceNote,
			Ref:       autoResolveNote,
			Agent:     agent,
			Timestamp: now,
		})
		parent.Rev++
		parent.UpdatedAt = now
		if err := tx.UpdateNode(ctx, parent); err != nil {
			return nil, err
		}
		if err := appendEvent(ctx, tx, parent.ID, agent, types.EventResolved,
			map[string]any{"resolved": true, "auto": true}, now); err != nil {
			return nil, err
		}
		cascaded = append(cascaded, parent.ID)
		current = parent
	}
	return cascaded, nil
}

// findNewlyActionable scans the immediate candidates unblocked by the given
// just-resolved ids: their direct children and the sources of depends_on
// edges pointing at them.
func findNewlyActionable(ctx context.Context, tx storage.Transaction, resolvedIDs []string) ([]string, error) {
	resolved := make(map[string]bool, len(resolvedIDs))
	for _, id := range resolvedIDs {
		resolved[id] = true
	}

	seen := make(map[string]bool)
	var newly []string
	check := func(id string) error {
		if seen[id] || resolved[id] {
			return nil
		}
		seen[id] = true
		ok, err := tx.Actionable(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			newly = append(newly, id)
		}
		return nil
	}

	for _, id := range resolvedIDs {
		kids, err := tx.Children(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range kids {
			if err := check(child.ID); err != nil {
				return nil, err
			}
		}
		deps, err := tx.Dependents(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if err := check(dep); err != nil {
				return nil, err
			}
		}
	}
	return newly, nil
}

// retroNudge returns a nudge string when the agent has resolved enough tasks
// since its last retro in the project.
func (e *Engine) retroNudge(ctx context.Context, agent, project string) (string, error) {
	since, err := e.lastRetroTime(ctx, agent, project)
	if err != nil {
		return "", err
	}
	count, err := e.store.ResolvedSince(ctx, project, since)
	if err != nil {
		return "", err
	}
	if count < retroNudgeThreshold {
		return "", nil
	}
	return fmt.Sprintf("You have resolved %d tasks since your last retro in %s. Consider running graph_retro to capture what you learned.", count, project), nil
}

func (e *Engine) lastRetroTime(ctx context.Context, agent, project string) (time.Time, error) {
	entries, err := e.store.ListKnowledge(ctx, project)
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, k := range entries {
		if !strings.HasPrefix(k.Key, retroKeyPrefix) {
			continue
		}
		if agent != "" && k.CreatedBy != agent {
			continue
		}
		if k.CreatedAt.After(last) {
			last = k.CreatedAt
		}
	}
	return last, nil
}
