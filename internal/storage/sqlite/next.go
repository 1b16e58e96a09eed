package sqlite

import (
	"context"

	"github.com/untoldecay/taskgraph/internal/types"
)

const schedulerOrder = `
	CAST(json_extract(n.properties, '$.priority') AS REAL) DESC NULLS LAST,
	n.depth DESC,
	n.updated_at ASC,
	n.id ASC`

// NextCandidates returns actionable nodes in scheduling order. Priority is
// read from the property bag; missing priorities sort last. Deeper nodes
// beat shallower ones (leaves before their ancestors), then least recently
// touched first.
func (s *Store) NextCandidates(ctx context.Context, project, scope string, limit int) ([]*types.Node, error) {
	if limit <= 0 {
		limit = 50
	}
	args := []any{project}
	scopeSQL := ""
	if scope != "" {
		// The subtree includes the scope node itself, which may be the
		// actionable one.
		scopeSQL = `
			AND n.id IN (
				WITH RECURSIVE sub(id, d) AS (
					SELECT id, 0 FROM nodes WHERE id = ?
					UNION ALL
					SELECT x.id, sub.d + 1 FROM nodes x JOIN sub ON x.parent = sub.id
					WHERE sub.d < 100
				)
				SELECT id FROM sub
			)`
		args = append(args, scope)
	}
	args = append(args, limit)

	return queryNodes(ctx, s.db, `
		SELECT `+nodeColumns+` FROM nodes n
		WHERE n.project = ?`+scopeSQL+`
		AND `+actionablePredicate+`
		ORDER BY `+schedulerOrder+`
		LIMIT ?
	`, args...)
}

// ClaimedNodes returns the unresolved nodes in a project claimed by an
// agent. Lease expiry is the caller's concern; claims are just properties.
func (s *Store) ClaimedNodes(ctx context.Context, project, agent string) ([]*types.Node, error) {
	return queryNodes(ctx, s.db, `
		SELECT `+nodeColumns+` FROM nodes n
		WHERE n.project = ? AND n.resolved = 0
		AND json_extract(n.properties, '$.`+types.PropClaimedBy+`') = ?
		ORDER BY n.updated_at DESC
	`, project, agent)
}
