package engine

import (
	"context"
	"errors"
	"time"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// EdgeOp is one add or remove operation in a connect batch.
type EdgeOp struct {
	Op   string `json:"op"` // add|remove (default add)
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"` // default depends_on
}

// EdgeOutcome reports what happened to one EdgeOp.
type EdgeOutcome struct {
	Op      string `json:"op"`
	From    string `json:"from"`
	To      string `json:"to"`
	Type    string `json:"type"`
	Applied bool   `json:"applied"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ConnectResult reports per-edge outcomes plus the nodes that became
// actionable because of removed dependencies.
type ConnectResult struct {
	Outcomes        []EdgeOutcome `json:"outcomes"`
	NewlyActionable []string      `json:"newly_actionable"`
}

// Connect applies a batch of edge operations. Each edge is accepted or
// rejected on its own; accepted edges commit even when others are rejected.
// Only a store failure rolls the batch back.
func (e *Engine) Connect(ctx context.Context, agent string, edges []EdgeOp) (*ConnectResult, error) {
	if len(edges) == 0 {
		return nil, Errorf(CodeValidation, "edges must not be empty")
	}

	now := e.now()
	result := &ConnectResult{}

	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var removedDeps []string
		for _, op := range edges {
			outcome := EdgeOutcome{
				Op:   op.Op,
				From: op.From,
				To:   op.To,
				Type: op.Type,
			}
			if outcome.Op == "" {
				outcome.Op = "add"
			}
			if outcome.Type == "" {
				outcome.Type = types.EdgeDependsOn
			}

			var opErr error
			switch outcome.Op {
			case "add":
				opErr = addTypedEdge(ctx, tx, op.From, op.To, outcome.Type, agent, now)
			case "remove":
				opErr = removeTypedEdge(ctx, tx, op.From, op.To, outcome.Type, agent, now)
				if opErr == nil && outcome.Type == types.EdgeDependsOn {
					removedDeps = append(removedDeps, op.From)
				}
			default:
				opErr = Errorf(CodeValidation, "unknown edge op %q", outcome.Op)
			}

			if opErr != nil {
				outcome.Code = CodeOf(opErr)
				outcome.Reason = opErr.Error()
			} else {
				outcome.Applied = true
			}
			result.Outcomes = append(result.Outcomes, outcome)
		}

		// Removing a dependency can unblock its source.
		for _, id := range removedDeps {
			ok, err := tx.Actionable(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				result.NewlyActionable = appendUnique(result.NewlyActionable, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("connect applied", "agent", agent, "edges", len(edges))
	return result, nil
}

// addTypedEdge inserts an edge after the full rule set: both ends exist,
// same project, type is not parent, no duplicate, no depends_on cycle.
func addTypedEdge(ctx context.Context, tx storage.Transaction, from, to, edgeType, agent string, at time.Time) error {
	if edgeType == types.EdgeParent {
		return Errorf(CodeValidation, "parent edges are not allowed; tree ownership is not an edge")
	}
	fromNode, err := getNodeCoded(ctx, tx, from)
	if err != nil {
		return err
	}
	toNode, err := getNodeCoded(ctx, tx, to)
	if err != nil {
		return err
	}
	if fromNode.Project != toNode.Project {
		return Errorf(CodeCrossProjectEdge,
			"cannot link %s (%s) to %s (%s) across projects", from, fromNode.Project, to, toNode.Project)
	}
	if edgeType == types.EdgeDependsOn {
		cyclic, err := tx.WouldCycle(ctx, from, to)
		if err != nil {
			return err
		}
		if cyclic {
			return Errorf(CodeCycleDetected, "edge %s -> %s would close a dependency cycle", from, to)
		}
	}
	err = tx.AddEdge(ctx, &types.Edge{
		From:      from,
		To:        to,
		Type:      edgeType,
		Agent:     agent,
		Timestamp: at,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateEdge) {
			return Errorf(CodeDuplicateEdge, "edge %s -> %s (%s) already exists", from, to, edgeType)
		}
		return err
	}
	return appendEvent(ctx, tx, from, agent, types.EventEdgeAdded,
		map[string]any{"to": to, "type": edgeType}, at)
}

func removeTypedEdge(ctx context.Context, tx storage.Transaction, from, to, edgeType, agent string, at time.Time) error {
	if err := tx.RemoveEdge(ctx, from, to, edgeType); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Errorf(CodeNotFound, "edge %s -> %s (%s) not found", from, to, edgeType)
		}
		return err
	}
	return appendEvent(ctx, tx, from, agent, types.EventEdgeRemoved,
		map[string]any{"to": to, "type": edgeType}, at)
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
