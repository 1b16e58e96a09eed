package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

const nodeColumns = `id, project, parent, summary, resolved, blocked, blocked_reason,
	discovery, properties, context_links, evidence, plan, depth, rev, created_at, updated_at`

// maxTreeDepth bounds recursive tree walks. Trees this deep indicate
// corruption, not real decomposition.
const maxTreeDepth = 100

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON column: %w", err)
	}
	return string(data), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to decode JSON column: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*types.Node, error) {
	return scanNodeExtra(row)
}

// scanNodeExtra scans a node row followed by any extra selected columns
// (used by Query to capture sort key values alongside the node).
func scanNodeExtra(row rowScanner, extra ...any) (*types.Node, error) {
	var n types.Node
	var parent, blockedReason sql.NullString
	var resolved, blocked int
	var properties, contextLinks, evidence, plan string
	var createdAt, updatedAt string

	dests := []any{
		&n.ID, &n.Project, &parent, &n.Summary, &resolved, &blocked, &blockedReason,
		&n.Discovery, &properties, &contextLinks, &evidence, &plan,
		&n.Depth, &n.Rev, &createdAt, &updatedAt,
	}
	dests = append(dests, extra...)

	err := row.Scan(dests...)
	if err != nil {
		return nil, err
	}

	if parent.Valid {
		n.Parent = &parent.String
	}
	if blockedReason.Valid && blockedReason.String != "" {
		n.BlockedReason = &blockedReason.String
	}
	n.Resolved = resolved != 0
	n.Blocked = blocked != 0
	n.CreatedAt = decodeTime(createdAt)
	n.UpdatedAt = decodeTime(updatedAt)

	props, err := types.DecodeProperties(properties)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	n.Properties = props
	if err := decodeJSON(contextLinks, &n.ContextLinks); err != nil {
		return nil, fmt.Errorf("node %s context_links: %w", n.ID, err)
	}
	if err := decodeJSON(evidence, &n.Evidence); err != nil {
		return nil, fmt.Errorf("node %s evidence: %w", n.ID, err)
	}
	if err := decodeJSON(plan, &n.Plan); err != nil {
		return nil, fmt.Errorf("node %s plan: %w", n.ID, err)
	}
	return &n, nil
}

func getNode(ctx context.Context, q queryer, id string) (*types.Node, error) {
	row := q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	return n, nil
}

func nodeArgs(n *types.Node) ([]any, error) {
	properties, err := types.EncodeProperties(n.Properties)
	if err != nil {
		return nil, err
	}
	contextLinks, err := encodeJSON(emptySlice(n.ContextLinks))
	if err != nil {
		return nil, err
	}
	evidence, err := encodeJSON(emptyEvidence(n.Evidence))
	if err != nil {
		return nil, err
	}
	plan, err := encodeJSON(emptySlice(n.Plan))
	if err != nil {
		return nil, err
	}

	var parent, blockedReason any
	if n.Parent != nil {
		parent = *n.Parent
	}
	if n.BlockedReason != nil {
		blockedReason = *n.BlockedReason
	}

	return []any{
		n.ID, n.Project, parent, n.Summary, boolInt(n.Resolved), boolInt(n.Blocked),
		blockedReason, n.Discovery, properties, contextLinks, evidence, plan,
		n.Depth, n.Rev, encodeTime(n.CreatedAt), encodeTime(n.UpdatedAt),
	}, nil
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyEvidence(s []types.Evidence) []types.Evidence {
	if s == nil {
		return []types.Evidence{}
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func createNode(ctx context.Context, q queryer, n *types.Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	args, err := nodeArgs(n)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to create node %s: %w", n.ID, err)
	}
	return nil
}

func updateNode(ctx context.Context, q queryer, n *types.Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	args, err := nodeArgs(n)
	if err != nil {
		return err
	}
	// id comes first in nodeArgs; move it to the WHERE position
	args = append(args[1:], n.ID)
	res, err := q.ExecContext(ctx, `
		UPDATE nodes SET
			project = ?, parent = ?, summary = ?, resolved = ?, blocked = ?,
			blocked_reason = ?, discovery = ?, properties = ?, context_links = ?,
			evidence = ?, plan = ?, depth = ?, rev = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", n.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("node %s: %w", n.ID, storage.ErrNotFound)
	}
	return nil
}

func deleteNodes(ctx context.Context, q queryer, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	// Edges cascade; events are kept as the permanent record.
	if _, err := q.ExecContext(ctx, `DELETE FROM nodes WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	return nil
}

func queryNodes(ctx context.Context, q queryer, query string, args ...any) ([]*types.Node, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []*types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func children(ctx context.Context, q queryer, id string) ([]*types.Node, error) {
	return queryNodes(ctx, q, `
		SELECT `+nodeColumns+` FROM nodes WHERE parent = ? ORDER BY created_at, id
	`, id)
}

// descendants returns the ids of every node strictly below id.
func descendants(ctx context.Context, q queryer, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE sub(id, d) AS (
			SELECT id, 0 FROM nodes WHERE parent = ?
			UNION ALL
			SELECT n.id, sub.d + 1 FROM nodes n JOIN sub ON n.parent = sub.id
			WHERE sub.d < ?
		)
		SELECT id FROM sub
	`, id, maxTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to walk descendants of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return collectIDs(rows)
}

// ancestors returns the parent chain of id, nearest first, excluding id.
func ancestors(ctx context.Context, q queryer, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE up(id, parent, d) AS (
			SELECT id, parent, 0 FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id, n.parent, up.d + 1 FROM nodes n JOIN up ON n.id = up.parent
			WHERE up.d < ?
		)
		SELECT id FROM up WHERE d > 0 ORDER BY d
	`, id, maxTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to walk ancestors of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return collectIDs(rows)
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func projectRoot(ctx context.Context, q queryer, project string) (*types.Node, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE project = ? AND parent IS NULL
	`, project)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", project, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get root of project %s: %w", project, err)
	}
	return n, nil
}

// Store methods (reads outside a transaction)

func (s *Store) GetNode(ctx context.Context, id string) (*types.Node, error) {
	return getNode(ctx, s.db, id)
}

func (s *Store) Children(ctx context.Context, id string) ([]*types.Node, error) {
	return children(ctx, s.db, id)
}

func (s *Store) Ancestors(ctx context.Context, id string) ([]string, error) {
	return ancestors(ctx, s.db, id)
}

func (s *Store) Descendants(ctx context.Context, id string) ([]string, error) {
	return descendants(ctx, s.db, id)
}

func (s *Store) ProjectRoot(ctx context.Context, project string) (*types.Node, error) {
	return projectRoot(ctx, s.db, project)
}

func (s *Store) ProjectNodes(ctx context.Context, project string) ([]*types.Node, error) {
	return queryNodes(ctx, s.db, `
		SELECT `+nodeColumns+` FROM nodes WHERE project = ? ORDER BY depth, created_at, id
	`, project)
}

// ListProjects returns a roll-up for every project, most recently touched
// first.
func (s *Store) ListProjects(ctx context.Context) ([]*types.ProjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			r.project,
			r.id,
			r.properties,
			(SELECT COUNT(*) FROM nodes n WHERE n.project = r.project) AS total,
			(SELECT COUNT(*) FROM nodes n WHERE n.project = r.project AND n.resolved = 1) AS resolved,
			(SELECT COUNT(*) FROM nodes n WHERE n.project = r.project AND n.blocked = 1 AND n.resolved = 0) AS blocked,
			(SELECT MAX(n.updated_at) FROM nodes n WHERE n.project = r.project) AS updated_at
		FROM nodes r
		WHERE r.parent IS NULL
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []*types.ProjectSummary
	for rows.Next() {
		var ps types.ProjectSummary
		var properties, updatedAt string
		if err := rows.Scan(&ps.Project, &ps.RootID, &properties, &ps.Total, &ps.Resolved, &ps.Blocked, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project summary: %w", err)
		}
		ps.UpdatedAt = decodeTime(updatedAt)
		props, err := types.DecodeProperties(properties)
		if err != nil {
			return nil, err
		}
		ps.Strict = props.Strict()
		summaries = append(summaries, &ps)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, ps := range summaries {
		n, err := s.countActionable(ctx, ps.Project)
		if err != nil {
			return nil, err
		}
		ps.Actionable = n
	}
	return summaries, nil
}

func (s *Store) countActionable(ctx context.Context, project string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, actionableCountSQL, project).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count actionable nodes: %w", err)
	}
	return n, nil
}

// Transaction methods

func (t *txStore) CreateNode(ctx context.Context, n *types.Node) error {
	return createNode(ctx, t.q, n)
}

func (t *txStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	return getNode(ctx, t.q, id)
}

func (t *txStore) UpdateNode(ctx context.Context, n *types.Node) error {
	return updateNode(ctx, t.q, n)
}

func (t *txStore) DeleteNodes(ctx context.Context, ids []string) error {
	return deleteNodes(ctx, t.q, ids)
}

func (t *txStore) Children(ctx context.Context, id string) ([]*types.Node, error) {
	return children(ctx, t.q, id)
}

func (t *txStore) Descendants(ctx context.Context, id string) ([]string, error) {
	return descendants(ctx, t.q, id)
}

func (t *txStore) Ancestors(ctx context.Context, id string) ([]string, error) {
	return ancestors(ctx, t.q, id)
}

func (t *txStore) ProjectRoot(ctx context.Context, project string) (*types.Node, error) {
	return projectRoot(ctx, t.q, project)
}
