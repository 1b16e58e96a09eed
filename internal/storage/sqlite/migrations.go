package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is a single forward-only schema change. Migrations must be
// idempotent: they run on every startup, in order, and guard themselves.
type Migration struct {
	Name string
	Func func(ctx context.Context, db *sql.DB) error
}

var migrationsList = []Migration{
	{"blocked_columns", migrateBlockedColumns},
	{"knowledge_source_node_column", migrateKnowledgeSourceNode},
	{"depth_backfill", migrateDepthBackfill},
}

func (s *Store) runMigrations(ctx context.Context) error {
	for _, m := range migrationsList {
		if err := m.Func(ctx, s.db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?
	`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

// migrateBlockedColumns adds blocked/blocked_reason to databases created
// before blocking was a first-class state.
func migrateBlockedColumns(ctx context.Context, db *sql.DB) error {
	ok, err := columnExists(ctx, db, "nodes", "blocked")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE nodes ADD COLUMN blocked INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("failed to add blocked column: %w", err)
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE nodes ADD COLUMN blocked_reason TEXT`); err != nil {
		return fmt.Errorf("failed to add blocked_reason column: %w", err)
	}
	return nil
}

// migrateKnowledgeSourceNode adds the source_node provenance column.
func migrateKnowledgeSourceNode(ctx context.Context, db *sql.DB) error {
	ok, err := columnExists(ctx, db, "knowledge", "source_node")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE knowledge ADD COLUMN source_node TEXT`); err != nil {
		return fmt.Errorf("failed to add source_node column: %w", err)
	}
	return nil
}

// migrateDepthBackfill recomputes cached depths from the parent chain.
// Rows written by older versions may carry depth 0 below the root; the
// recursive walk repairs them in one statement.
func migrateDepthBackfill(ctx context.Context, db *sql.DB) error {
	var stale int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nodes c
		JOIN nodes p ON c.parent = p.id
		WHERE c.depth != p.depth + 1
	`).Scan(&stale)
	if err != nil {
		return fmt.Errorf("failed to check depth consistency: %w", err)
	}
	if stale == 0 {
		return nil
	}

	_, err = db.ExecContext(ctx, `
		WITH RECURSIVE walk(id, computed) AS (
			SELECT id, 0 FROM nodes WHERE parent IS NULL
			UNION ALL
			SELECT n.id, walk.computed + 1
			FROM nodes n
			JOIN walk ON n.parent = walk.id
			WHERE walk.computed < 100
		)
		UPDATE nodes SET depth = (SELECT computed FROM walk WHERE walk.id = nodes.id)
		WHERE id IN (SELECT id FROM walk)
	`)
	if err != nil {
		return fmt.Errorf("failed to backfill depths: %w", err)
	}
	return nil
}
