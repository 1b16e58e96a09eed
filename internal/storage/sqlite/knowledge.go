package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

const knowledgeColumns = `id, project, key, content, category, source_node, created_by, created_at, updated_at`

func scanKnowledge(row rowScanner) (*types.KnowledgeEntry, error) {
	var k types.KnowledgeEntry
	var sourceNode sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&k.ID, &k.Project, &k.Key, &k.Content, &k.Category,
		&sourceNode, &k.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if sourceNode.Valid {
		k.SourceNode = &sourceNode.String
	}
	k.CreatedAt = decodeTime(createdAt)
	k.UpdatedAt = decodeTime(updatedAt)
	return &k, nil
}

func getKnowledge(ctx context.Context, q queryer, project, key string) (*types.KnowledgeEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+knowledgeColumns+` FROM knowledge WHERE project = ? AND key = ?
	`, project, key)
	k, err := scanKnowledge(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("knowledge %s/%s: %w", project, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge %s/%s: %w", project, key, err)
	}
	return k, nil
}

// putKnowledge upserts on (project, key). The original id and created_at
// survive an overwrite.
func putKnowledge(ctx context.Context, q queryer, k *types.KnowledgeEntry) error {
	if err := k.Validate(); err != nil {
		return err
	}
	var sourceNode any
	if k.SourceNode != nil {
		sourceNode = *k.SourceNode
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO knowledge (`+knowledgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project, key) DO UPDATE SET
			content = excluded.content,
			category = excluded.category,
			source_node = excluded.source_node,
			updated_at = excluded.updated_at
	`, k.ID, k.Project, k.Key, k.Content, k.Category, sourceNode,
		k.CreatedBy, encodeTime(k.CreatedAt), encodeTime(k.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to write knowledge %s/%s: %w", k.Project, k.Key, err)
	}
	return nil
}

func deleteKnowledge(ctx context.Context, q queryer, project, key string) error {
	res, err := q.ExecContext(ctx, `
		DELETE FROM knowledge WHERE project = ? AND key = ?
	`, project, key)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge %s/%s: %w", project, key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("knowledge %s/%s: %w", project, key, storage.ErrNotFound)
	}
	return nil
}

func listKnowledge(ctx context.Context, q queryer, project string) ([]*types.KnowledgeEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+knowledgeColumns+` FROM knowledge WHERE project = ? ORDER BY updated_at DESC, key
	`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge for %s: %w", project, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.KnowledgeEntry
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
		}
		entries = append(entries, k)
	}
	return entries, rows.Err()
}

func appendKnowledgeLog(ctx context.Context, q queryer, entry *types.KnowledgeLogEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO knowledge_log (project, key, action, agent, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.Project, entry.Key, entry.Action, entry.Agent, encodeTime(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append knowledge log: %w", err)
	}
	return nil
}

// Store methods

func (s *Store) GetKnowledge(ctx context.Context, project, key string) (*types.KnowledgeEntry, error) {
	return getKnowledge(ctx, s.db, project, key)
}

func (s *Store) ListKnowledge(ctx context.Context, project string) ([]*types.KnowledgeEntry, error) {
	return listKnowledge(ctx, s.db, project)
}

// KnowledgeLog returns the newest limit log rows for a project.
func (s *Store) KnowledgeLog(ctx context.Context, project string, limit int) ([]*types.KnowledgeLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, key, action, agent, created_at
		FROM knowledge_log WHERE project = ? ORDER BY id DESC LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge log for %s: %w", project, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.KnowledgeLogEntry
	for rows.Next() {
		var e types.KnowledgeLogEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Project, &e.Key, &e.Action, &e.Agent, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge log entry: %w", err)
		}
		e.Timestamp = decodeTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Transaction methods

func (t *txStore) GetKnowledge(ctx context.Context, project, key string) (*types.KnowledgeEntry, error) {
	return getKnowledge(ctx, t.q, project, key)
}

func (t *txStore) PutKnowledge(ctx context.Context, k *types.KnowledgeEntry) error {
	return putKnowledge(ctx, t.q, k)
}

func (t *txStore) DeleteKnowledge(ctx context.Context, project, key string) error {
	return deleteKnowledge(ctx, t.q, project, key)
}

func (t *txStore) ListKnowledge(ctx context.Context, project string) ([]*types.KnowledgeEntry, error) {
	return listKnowledge(ctx, t.q, project)
}

func (t *txStore) AppendKnowledgeLog(ctx context.Context, entry *types.KnowledgeLogEntry) error {
	return appendKnowledgeLog(ctx, t.q, entry)
}
