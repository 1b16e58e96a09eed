package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// actionablePredicate is the SQL form of actionability for a nodes row
// aliased n: unresolved, not blocked, no unresolved children, and every
// depends_on target resolved.
const actionablePredicate = `
	n.resolved = 0
	AND n.blocked = 0
	AND NOT EXISTS (
		SELECT 1 FROM nodes c WHERE c.parent = n.id AND c.resolved = 0
	)
	AND NOT EXISTS (
		SELECT 1 FROM edges e
		JOIN nodes dep ON e.to_node = dep.id
		WHERE e.from_node = n.id AND e.type = 'depends_on' AND dep.resolved = 0
	)`

const actionableCountSQL = `
	SELECT COUNT(*) FROM nodes n WHERE n.project = ? AND ` + actionablePredicate

func addEdge(ctx context.Context, q queryer, e *types.Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	var exists int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges WHERE from_node = ? AND to_node = ? AND type = ?
	`, e.From, e.To, e.Type).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check edge existence: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("edge %s -> %s (%s): %w", e.From, e.To, e.Type, storage.ErrDuplicateEdge)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO edges (from_node, to_node, type, agent, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.From, e.To, e.Type, e.Agent, encodeTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to add edge %s -> %s: %w", e.From, e.To, err)
	}
	return nil
}

func removeEdge(ctx context.Context, q queryer, from, to, edgeType string) error {
	res, err := q.ExecContext(ctx, `
		DELETE FROM edges WHERE from_node = ? AND to_node = ? AND type = ?
	`, from, to, edgeType)
	if err != nil {
		return fmt.Errorf("failed to remove edge %s -> %s: %w", from, to, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("edge %s -> %s (%s): %w", from, to, edgeType, storage.ErrNotFound)
	}
	return nil
}

func scanEdges(rows *sql.Rows) ([]*types.Edge, error) {
	var edges []*types.Edge
	for rows.Next() {
		var e types.Edge
		var createdAt string
		if err := rows.Scan(&e.From, &e.To, &e.Type, &e.Agent, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Timestamp = decodeTime(createdAt)
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

func edgesFrom(ctx context.Context, q queryer, id string) ([]*types.Edge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT from_node, to_node, type, agent, created_at
		FROM edges WHERE from_node = ? ORDER BY created_at, to_node
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get edges from %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEdges(rows)
}

func edgesTo(ctx context.Context, q queryer, id string) ([]*types.Edge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT from_node, to_node, type, agent, created_at
		FROM edges WHERE to_node = ? ORDER BY created_at, from_node
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get edges to %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEdges(rows)
}

// wouldCycle reports whether adding a depends_on edge from -> to would close
// a cycle, i.e. whether from is already reachable from to along depends_on
// edges. Depth-limited; anything deeper is treated as a cycle.
func wouldCycle(ctx context.Context, q queryer, from, to string) (bool, error) {
	if from == to {
		return true, nil
	}
	var reachable int
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE reach(id, d) AS (
			SELECT to_node, 1 FROM edges WHERE from_node = ? AND type = 'depends_on'
			UNION
			SELECT e.to_node, reach.d + 1
			FROM edges e JOIN reach ON e.from_node = reach.id
			WHERE e.type = 'depends_on' AND reach.d < ?
		)
		SELECT COUNT(*) FROM reach WHERE id = ?
	`, to, maxTreeDepth, from).Scan(&reachable)
	if err != nil {
		return false, fmt.Errorf("failed to check for dependency cycle: %w", err)
	}
	return reachable > 0, nil
}

// dependents returns the ids of nodes that depend on id.
func dependents(ctx context.Context, q queryer, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT from_node FROM edges WHERE to_node = ? AND type = 'depends_on'
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependents of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return collectIDs(rows)
}

func unresolvedDependencies(ctx context.Context, q queryer, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.to_node FROM edges e
		JOIN nodes dep ON e.to_node = dep.id
		WHERE e.from_node = ? AND e.type = 'depends_on' AND dep.resolved = 0
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get unresolved dependencies of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return collectIDs(rows)
}

func unresolvedChildCount(ctx context.Context, q queryer, id string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nodes WHERE parent = ? AND resolved = 0
	`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved children of %s: %w", id, err)
	}
	return n, nil
}

func actionable(ctx context.Context, q queryer, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nodes n WHERE n.id = ? AND `+actionablePredicate, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check actionability of %s: %w", id, err)
	}
	return n > 0, nil
}

// Store methods

func (s *Store) EdgesFrom(ctx context.Context, id string) ([]*types.Edge, error) {
	return edgesFrom(ctx, s.db, id)
}

func (s *Store) EdgesTo(ctx context.Context, id string) ([]*types.Edge, error) {
	return edgesTo(ctx, s.db, id)
}

// Transaction methods

func (t *txStore) AddEdge(ctx context.Context, e *types.Edge) error {
	return addEdge(ctx, t.q, e)
}

func (t *txStore) RemoveEdge(ctx context.Context, from, to, edgeType string) error {
	return removeEdge(ctx, t.q, from, to, edgeType)
}

func (t *txStore) EdgesFrom(ctx context.Context, id string) ([]*types.Edge, error) {
	return edgesFrom(ctx, t.q, id)
}

func (t *txStore) EdgesTo(ctx context.Context, id string) ([]*types.Edge, error) {
	return edgesTo(ctx, t.q, id)
}

func (t *txStore) WouldCycle(ctx context.Context, from, to string) (bool, error) {
	return wouldCycle(ctx, t.q, from, to)
}

func (t *txStore) Dependents(ctx context.Context, id string) ([]string, error) {
	return dependents(ctx, t.q, id)
}

func (t *txStore) UnresolvedDependencies(ctx context.Context, id string) ([]string, error) {
	return unresolvedDependencies(ctx, t.q, id)
}

func (t *txStore) UnresolvedChildCount(ctx context.Context, id string) (int, error) {
	return unresolvedChildCount(ctx, t.q, id)
}

func (t *txStore) Actionable(ctx context.Context, id string) (bool, error) {
	return actionable(ctx, t.q, id)
}
