package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/untoldecay/taskgraph/internal/types"
)

func appendEvent(ctx context.Context, q queryer, ev *types.Event) error {
	var changes any
	if ev.Changes != "" {
		changes = ev.Changes
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO events (node_id, agent, action, changes, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.NodeID, ev.Agent, ev.Action, changes, encodeTime(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append event for %s: %w", ev.NodeID, err)
	}
	return nil
}

// Events returns the audit history for a node, newest first. before is an
// exclusive event id bound for pagination; 0 means start from the newest.
func (s *Store) Events(ctx context.Context, nodeID string, before int64, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	args := []any{nodeID}
	beforeSQL := ""
	if before > 0 {
		beforeSQL = " AND id < ?"
		args = append(args, before)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, agent, action, changes, created_at
		FROM events
		WHERE node_id = ?`+beforeSQL+`
		ORDER BY id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events for %s: %w", nodeID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var ev types.Event
		var changes sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.NodeID, &ev.Agent, &ev.Action, &changes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if changes.Valid {
			ev.Changes = changes.String
		}
		ev.Timestamp = decodeTime(createdAt)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// ResolvedSince counts resolve events in a project after the given time.
// Used by the retro nudge.
func (s *Store) ResolvedSince(ctx context.Context, project string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events ev
		JOIN nodes n ON ev.node_id = n.id
		WHERE n.project = ? AND ev.action = ? AND ev.created_at > ?
	`, project, types.EventResolved, encodeTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count resolves in %s: %w", project, err)
	}
	return n, nil
}

func (t *txStore) AppendEvent(ctx context.Context, ev *types.Event) error {
	return appendEvent(ctx, t.q, ev)
}
