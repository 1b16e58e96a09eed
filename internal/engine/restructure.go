package engine

import (
	"context"
	"errors"
	"time"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// RestructureOp is one operation in a restructure batch.
type RestructureOp struct {
	Op        string `json:"op"` // move|merge|drop|delete
	NodeID    string `json:"node_id"`
	NewParent string `json:"new_parent,omitempty"` // move
	Target    string `json:"target,omitempty"`     // merge
	Reason    string `json:"reason,omitempty"`     // drop
}

// OpOutcome reports what happened to one restructure operation.
type OpOutcome struct {
	Op      string `json:"op"`
	NodeID  string `json:"node_id"`
	Applied bool   `json:"applied"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// RestructureResult reports per-operation outcomes and the nodes that became
// actionable because of the batch.
type RestructureResult struct {
	Outcomes        []OpOutcome `json:"outcomes"`
	NewlyActionable []string    `json:"newly_actionable"`
}

// Restructure applies a batch of tree operations in one transaction.
// Operations are applied in input order; each is accepted or rejected on its
// own, and accepted operations commit. Only a store failure rolls back.
func (e *Engine) Restructure(ctx context.Context, agent string, ops []RestructureOp) (*RestructureResult, error) {
	if len(ops) == 0 {
		return nil, Errorf(CodeValidation, "operations must not be empty")
	}

	now := e.now()
	result := &RestructureResult{}

	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		// Candidates for the newly-actionable scan, gathered as ops apply.
		var candidates []string

		for _, op := range ops {
			outcome := OpOutcome{Op: op.Op, NodeID: op.NodeID}
			var opErr error
			switch op.Op {
			case "move":
				var c []string
				c, opErr = e.applyMove(ctx, tx, agent, op, now)
				candidates = append(candidates, c...)
			case "merge":
				var c []string
				c, opErr = e.applyMerge(ctx, tx, agent, op, now)
				candidates = append(candidates, c...)
			case "drop":
				var c []string
				c, opErr = e.applyDrop(ctx, tx, agent, op, now)
				candidates = append(candidates, c...)
			case "delete":
				var c []string
				c, opErr = e.applyDelete(ctx, tx, agent, op, now)
				candidates = append(candidates, c...)
			default:
				opErr = Errorf(CodeValidation, "unknown restructure op %q", op.Op)
			}
			if opErr != nil {
				outcome.Code = CodeOf(opErr)
				outcome.Reason = opErr.Error()
			} else {
				outcome.Applied = true
			}
			result.Outcomes = append(result.Outcomes, outcome)
		}

		seen := make(map[string]bool)
		for _, id := range candidates {
			if seen[id] {
				continue
			}
			seen[id] = true
			if _, err := tx.GetNode(ctx, id); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			ok, err := tx.Actionable(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				result.NewlyActionable = append(result.NewlyActionable, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("restructure applied", "agent", agent, "operations", len(ops))
	return result, nil
}

func (e *Engine) applyMove(ctx context.Context, tx storage.Transaction, agent string, op RestructureOp, now time.Time) ([]string, error) {
	if op.NewParent == "" {
		return nil, Errorf(CodeValidation, "move requires new_parent")
	}
	n, err := getNodeCoded(ctx, tx, op.NodeID)
	if err != nil {
		return nil, err
	}
	if n.IsRoot() {
		return nil, Errorf(CodeValidation, "cannot move project root %s", n.ID)
	}
	newParent, err := getNodeCoded(ctx, tx, op.NewParent)
	if err != nil {
		return nil, err
	}
	if n.Project != newParent.Project {
		return nil, Errorf(CodeCrossProjectEdge,
			"cannot move %s into project %s", n.ID, newParent.Project)
	}
	if newParent.ID == n.ID {
		return nil, Errorf(CodeCycleDetected, "cannot move %s under itself", n.ID)
	}
	subtree, err := tx.Descendants(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range subtree {
		if id == newParent.ID {
			return nil, Errorf(CodeCycleDetected,
				"cannot move %s under its own descendant %s", n.ID, newParent.ID)
		}
	}

	oldParent := ""
	if n.Parent != nil {
		oldParent = *n.Parent
	}
	delta := (newParent.Depth + 1) - n.Depth
	parentID := newParent.ID
	n.Parent = &parentID
	n.Depth = newParent.Depth + 1
	n.Rev++
	n.UpdatedAt = now
	if err := tx.UpdateNode(ctx, n); err != nil {
		return nil, err
	}
	if err := shiftSubtreeDepth(ctx, tx, subtree, delta, now); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, n.ID, agent, types.EventMoved,
		map[string]any{"from": oldParent, "to": newParent.ID}, now); err != nil {
		return nil, err
	}

	// The old parent just lost a child; its dependents may also open up.
	var candidates []string
	if oldParent != "" && oldParent != newParent.ID {
		candidates = append(candidates, oldParent)
	}
	deps, err := tx.Dependents(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	return append(candidates, deps...), nil
}

// shiftSubtreeDepth recomputes cached depths after a reparent. Each touched
// node is a real mutation, so rev advances.
func shiftSubtreeDepth(ctx context.Context, tx storage.Transaction, ids []string, delta int, now time.Time) error {
	if delta == 0 {
		return nil
	}
	for _, id := range ids {
		d, err := tx.GetNode(ctx, id)
		if err != nil {
			return err
		}
		d.Depth += delta
		d.Rev++
		d.UpdatedAt = now
		if err := tx.UpdateNode(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyMerge(ctx context.Context, tx storage.Transaction, agent string, op RestructureOp, now time.Time) ([]string, error) {
	if op.Target == "" {
		return nil, Errorf(CodeValidation, "merge requires target")
	}
	if op.Target == op.NodeID {
		return nil, Errorf(CodeValidation, "cannot merge %s into itself", op.NodeID)
	}
	source, err := getNodeCoded(ctx, tx, op.NodeID)
	if err != nil {
		return nil, err
	}
	if source.IsRoot() {
		return nil, Errorf(CodeValidation, "cannot merge project root %s", source.ID)
	}
	target, err := getNodeCoded(ctx, tx, op.Target)
	if err != nil {
		return nil, err
	}
	if source.Project != target.Project {
		return nil, Errorf(CodeCrossProjectEdge,
			"cannot merge %s into project %s", source.ID, target.Project)
	}
	subtree, err := tx.Descendants(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range subtree {
		if id == target.ID {
			return nil, Errorf(CodeCycleDetected,
				"cannot merge %s into its own descendant %s", source.ID, target.ID)
		}
	}

	// Reparent source's children under target, fixing subtree depths.
	kids, err := tx.Children(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range kids {
		childSubtree, err := tx.Descendants(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		delta := (target.Depth + 1) - child.Depth
		targetID := target.ID
		child.Parent = &targetID
		child.Depth = target.Depth + 1
		child.Rev++
		child.UpdatedAt = now
		if err := tx.UpdateNode(ctx, child); err != nil {
			return nil, err
		}
		if err := shiftSubtreeDepth(ctx, tx, childSubtree, delta, now); err != nil {
			return nil, err
		}
	}

	// Redirect edges to the target, dropping ones that would duplicate or
	// close a cycle.
	outbound, err := tx.EdgesFrom(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	inbound, err := tx.EdgesTo(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	for _, edge := range outbound {
		if err := tx.RemoveEdge(ctx, edge.From, edge.To, edge.Type); err != nil {
			return nil, err
		}
		if edge.To == target.ID {
			continue
		}
		if err := redirectEdge(ctx, tx, target.ID, edge.To, edge.Type, edge.Agent, edge.Timestamp); err != nil {
			return nil, err
		}
	}
	for _, edge := range inbound {
		if err := tx.RemoveEdge(ctx, edge.From, edge.To, edge.Type); err != nil {
			return nil, err
		}
		if edge.From == target.ID {
			continue
		}
		if err := redirectEdge(ctx, tx, edge.From, target.ID, edge.Type, edge.Agent, edge.Timestamp); err != nil {
			return nil, err
		}
	}

	// Fold links and evidence into the target.
	target.ContextLinks = dedupStrings(target.ContextLinks, source.ContextLinks)
	target.Evidence = dedupEvidence(target.Evidence, source.Evidence)
	target.Rev++
	target.UpdatedAt = now
	if err := tx.UpdateNode(ctx, target); err != nil {
		return nil, err
	}

	if err := tx.DeleteNodes(ctx, []string{source.ID}); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, target.ID, agent, types.EventMerged,
		map[string]any{"source": source.ID}, now); err != nil {
		return nil, err
	}

	// The target absorbed new edges; its dependents may have shifted, and
	// the source's old parent just lost a child.
	deps, err := tx.Dependents(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	candidates := append(deps, target.ID)
	if source.Parent != nil {
		candidates = append(candidates, *source.Parent)
	}
	return candidates, nil
}

// redirectEdge re-adds a merge-redirected edge, silently dropping it when it
// would duplicate an existing target edge or close a dependency cycle.
func redirectEdge(ctx context.Context, tx storage.Transaction, from, to, edgeType, agent string, at time.Time) error {
	if edgeType == types.EdgeDependsOn {
		cyclic, err := tx.WouldCycle(ctx, from, to)
		if err != nil {
			return err
		}
		if cyclic {
			return nil
		}
	}
	err := tx.AddEdge(ctx, &types.Edge{
		From: from, To: to, Type: edgeType, Agent: agent, Timestamp: at,
	})
	if errors.Is(err, storage.ErrDuplicateEdge) {
		return nil
	}
	return err
}

func dedupEvidence(existing, add []types.Evidence) []types.Evidence {
	type key struct{ t, ref string }
	seen := make(map[key]bool, len(existing))
	out := make([]types.Evidence, 0, len(existing)+len(add))
	for _, ev := range existing {
		k := key{ev.Type, ev.Ref}
		if !seen[k] {
			seen[k] = true
			out = append(out, ev)
		}
	}
	for _, ev := range add {
		k := key{ev.Type, ev.Ref}
		if !seen[k] {
			seen[k] = true
			out = append(out, ev)
		}
	}
	return out
}

func (e *Engine) applyDrop(ctx context.Context, tx storage.Transaction, agent string, op RestructureOp, now time.Time) ([]string, error) {
	if op.Reason == "" {
		return nil, Errorf(CodeValidation, "drop requires a reason")
	}
	n, err := getNodeCoded(ctx, tx, op.NodeID)
	if err != nil {
		return nil, err
	}
	subtree, err := tx.Descendants(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	note := "dropped: " + op.Reason
	var resolvedIDs []string
	for _, id := range append([]string{n.ID}, subtree...) {
		d, err := tx.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if d.Resolved {
			continue
		}
		d.Resolved = true
		d.Evidence = append(d.Evidence, types.Evidence{
			Type:      types.EvidenceNote,
			Ref:       note,
			Agent:     agent,
			Timestamp: now,
		})
		d.Rev++
		d.UpdatedAt = now
		if err := tx.UpdateNode(ctx, d); err != nil {
			return nil, err
		}
		resolvedIDs = append(resolvedIDs, id)
	}
	if err := appendEvent(ctx, tx, n.ID, agent, types.EventDropped,
		map[string]any{"reason": op.Reason, "subtree": len(resolvedIDs)}, now); err != nil {
		return nil, err
	}

	// Dropping resolves nodes, so dependents and the parent side may open up.
	var candidates []string
	for _, id := range resolvedIDs {
		deps, err := tx.Dependents(ctx, id)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, deps...)
	}
	if n.Parent != nil {
		candidates = append(candidates, *n.Parent)
	}
	return candidates, nil
}

func (e *Engine) applyDelete(ctx context.Context, tx storage.Transaction, agent string, op RestructureOp, now time.Time) ([]string, error) {
	n, err := getNodeCoded(ctx, tx, op.NodeID)
	if err != nil {
		return nil, err
	}
	subtree, err := tx.Descendants(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	if n.IsRoot() {
		for _, id := range subtree {
			d, err := tx.GetNode(ctx, id)
			if err != nil {
				return nil, err
			}
			if len(d.Evidence) > 0 {
				return nil, Errorf(CodeValidation,
					"cannot delete root %s: descendant %s has recorded evidence", n.ID, d.ID)
			}
		}
	}

	doomed := append([]string{n.ID}, subtree...)
	inSubtree := make(map[string]bool, len(doomed))
	for _, id := range doomed {
		inSubtree[id] = true
	}

	// Dependents outside the subtree lose a dependency when edges cascade,
	// and the parent loses a child.
	var candidates []string
	if n.Parent != nil {
		candidates = append(candidates, *n.Parent)
	}
	for _, id := range doomed {
		deps, err := tx.Dependents(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if !inSubtree[dep] {
				candidates = append(candidates, dep)
			}
		}
	}

	if err := tx.DeleteNodes(ctx, doomed); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, n.ID, agent, types.EventDeleted,
		map[string]any{"subtree": len(subtree)}, now); err != nil {
		return nil, err
	}
	return candidates, nil
}
