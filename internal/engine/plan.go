package engine

import (
	"context"
	"strings"
	"time"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// PlanNode is one node in a plan batch. Ref names the node inside the
// batch; ParentRef and DependsOn entries may point at batch refs or at
// existing node ids.
type PlanNode struct {
	Ref          string           `json:"ref"`
	ParentRef    string           `json:"parent_ref"`
	Summary      string           `json:"summary"`
	DependsOn    []string         `json:"depends_on,omitempty"`
	ContextLinks []string         `json:"context_links,omitempty"`
	Properties   types.Properties `json:"properties,omitempty"`
	Plan         []string         `json:"plan,omitempty"`
	Discovery    string           `json:"discovery,omitempty"`
}

// PlanResult reports the created nodes keyed by their batch ref.
type PlanResult struct {
	Created map[string]*types.Node `json:"created"`
}

// Plan creates a batch of nodes atomically. Nodes are created parents-first
// (topologically ordered on ParentRef within the batch), then depends_on
// edges are resolved against the ref map and inserted. Any rejection aborts
// the whole batch.
//
// Decomposition counts as discovery: a batch node that has children in the
// same batch is created with discovery done; leaves stay pending unless the
// input says otherwise.
func (e *Engine) Plan(ctx context.Context, agent string, nodes []PlanNode) (*PlanResult, error) {
	if len(nodes) == 0 {
		return nil, Errorf(CodeValidation, "nodes must not be empty")
	}

	byRef := make(map[string]*PlanNode, len(nodes))
	for i := range nodes {
		pn := &nodes[i]
		if pn.Ref == "" {
			return nil, Errorf(CodeValidation, "node %d: ref is required", i)
		}
		if _, dup := byRef[pn.Ref]; dup {
			return nil, Errorf(CodeValidation, "duplicate ref %q in batch", pn.Ref)
		}
		if pn.Summary == "" {
			return nil, Errorf(CodeValidation, "node %q: summary is required", pn.Ref)
		}
		if pn.ParentRef == "" {
			return nil, Errorf(CodeValidation, "node %q: parent_ref is required", pn.Ref)
		}
		if pn.Discovery != "" && pn.Discovery != types.DiscoveryPending && pn.Discovery != types.DiscoveryDone {
			return nil, Errorf(CodeValidation, "node %q: invalid discovery %q", pn.Ref, pn.Discovery)
		}
		for key := range pn.Properties {
			if strings.HasPrefix(key, "_") {
				return nil, Errorf(CodeValidation, "node %q: property %q is engine-reserved", pn.Ref, key)
			}
		}
		byRef[pn.Ref] = pn
	}

	ordered, err := topoByParent(nodes, byRef)
	if err != nil {
		return nil, err
	}

	hasBatchChildren := make(map[string]bool)
	for _, pn := range nodes {
		if _, inBatch := byRef[pn.ParentRef]; inBatch {
			hasBatchChildren[pn.ParentRef] = true
		}
	}

	now := e.now()
	result := &PlanResult{Created: make(map[string]*types.Node, len(nodes))}

	err = e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		ids := make(map[string]string, len(nodes)) // ref -> final id

		for _, pn := range ordered {
			var parent *types.Node
			if id, inBatch := ids[pn.ParentRef]; inBatch {
				parent, err = tx.GetNode(ctx, id)
				if err != nil {
					return err
				}
			} else {
				parent, err = getNodeCoded(ctx, tx, pn.ParentRef)
				if err != nil {
					return err
				}
				if !parent.DiscoveryDone() {
					return Errorf(CodeDiscoveryPending,
						"parent %s has pending discovery; record its decomposition first", parent.ID)
				}
			}

			discovery := pn.Discovery
			if discovery == "" {
				discovery = types.DiscoveryPending
				if hasBatchChildren[pn.Ref] {
					discovery = types.DiscoveryDone
				}
			}

			parentID := parent.ID
			n := &types.Node{
				ID:           NewNodeID(),
				Project:      parent.Project,
				Parent:       &parentID,
				Summary:      pn.Summary,
				Discovery:    discovery,
				Properties:   pn.Properties.Clone(),
				ContextLinks: dedupStrings(nil, pn.ContextLinks),
				Plan:         pn.Plan,
				Depth:        parent.Depth + 1,
				Rev:          1,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if n.Properties == nil {
				n.Properties = types.Properties{}
			}
			if err := tx.CreateNode(ctx, n); err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, n.ID, agent, types.EventCreated,
				map[string]any{"summary": n.Summary, "parent": parent.ID}, now); err != nil {
				return err
			}
			ids[pn.Ref] = n.ID
			result.Created[pn.Ref] = n
		}

		// Second pass: depends_on edges, refs resolved against the batch.
		for _, pn := range ordered {
			from := ids[pn.Ref]
			for _, dep := range pn.DependsOn {
				to, inBatch := ids[dep]
				if !inBatch {
					to = dep
				}
				if err := addDependsOn(ctx, tx, from, to, agent, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("plan applied", "agent", agent, "created", len(result.Created))
	return result, nil
}

// topoByParent orders batch nodes parents-first. Cycles among refs are
// impossible in a valid tree and rejected.
func topoByParent(nodes []PlanNode, byRef map[string]*PlanNode) ([]*PlanNode, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(nodes))
	ordered := make([]*PlanNode, 0, len(nodes))

	var visit func(pn *PlanNode) error
	visit = func(pn *PlanNode) error {
		switch state[pn.Ref] {
		case done:
			return nil
		case visiting:
			return Errorf(CodeValidation, "parent_ref cycle involving %q", pn.Ref)
		}
		state[pn.Ref] = visiting
		if parent, inBatch := byRef[pn.ParentRef]; inBatch {
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[pn.Ref] = done
		ordered = append(ordered, pn)
		return nil
	}

	for i := range nodes {
		if err := visit(byRef[nodes[i].Ref]); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// addDependsOn inserts a depends_on edge with the full rule set: both ends
// exist, same project, no duplicate, no cycle.
func addDependsOn(ctx context.Context, tx storage.Transaction, from, to, agent string, at time.Time) error {
	return addTypedEdge(ctx, tx, from, to, types.EdgeDependsOn, agent, at)
}

func dedupStrings(existing, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, s := range existing {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range add {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
