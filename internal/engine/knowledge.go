package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// contentWarnBytes is the soft size ceiling for a knowledge entry; bigger
// entries still store but the response carries a warning.
const contentWarnBytes = 8 * 1024

// Similarity thresholds for surfacing near-duplicate keys. Same-category
// matches count as stronger signals and trip at a lower bar.
const (
	similarThreshold             = 0.6
	similarSameCategoryThreshold = 0.5
)

// KnowledgeWriteRequest is the graph_knowledge_write input.
type KnowledgeWriteRequest struct {
	Project    string `json:"project"`
	Key        string `json:"key"`
	Content    string `json:"content"`
	Category   string `json:"category,omitempty"`
	SourceNode string `json:"source_node,omitempty"`
}

// KnowledgeWriteResult reports the stored entry plus advisories.
type KnowledgeWriteResult struct {
	Entry       *types.KnowledgeEntry `json:"entry"`
	SimilarKeys []string              `json:"similar_keys,omitempty"`
	Warning     string                `json:"warning,omitempty"`
}

// KnowledgeWrite upserts an entry by (project, key). The original creator
// survives overwrites; source_node defaults to the caller's freshest active
// claim.
func (e *Engine) KnowledgeWrite(ctx context.Context, agent string, req KnowledgeWriteRequest) (*KnowledgeWriteResult, error) {
	if req.Key == "" {
		return nil, Errorf(CodeValidation, "key is required")
	}
	if req.Content == "" {
		return nil, Errorf(CodeValidation, "content is required")
	}
	category := req.Category
	if category == "" {
		category = types.CategoryGeneral
	}
	if !types.ValidCategory(category) {
		return nil, Errorf(CodeInvalidCategory,
			"invalid category %q (valid: %s)", category, strings.Join(types.KnowledgeCategories, ", "))
	}
	if _, err := e.store.ProjectRoot(ctx, req.Project); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Errorf(CodeProjectNotFound, "project %s not found", req.Project)
		}
		return nil, err
	}

	now := e.now()
	entry := &types.KnowledgeEntry{
		ID:        NewKnowledgeID(),
		Project:   req.Project,
		Key:       req.Key,
		Content:   req.Content,
		Category:  category,
		CreatedBy: agent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.SourceNode != "" {
		if _, err := e.store.GetNode(ctx, req.SourceNode); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, Errorf(CodeNotFound, "source_node %s not found", req.SourceNode)
			}
			return nil, err
		}
		entry.SourceNode = &req.SourceNode
	} else if claim := e.freshestClaim(ctx, req.Project, agent); claim != "" {
		entry.SourceNode = &claim
	}

	existing, err := e.store.ListKnowledge(ctx, req.Project)
	if err != nil {
		return nil, err
	}

	result := &KnowledgeWriteResult{}
	for _, other := range existing {
		if other.Key == req.Key {
			// Upsert: keep the original identity and creator.
			entry.ID = other.ID
			entry.CreatedBy = other.CreatedBy
			entry.CreatedAt = other.CreatedAt
			continue
		}
		threshold := similarThreshold
		if other.Category == category {
			threshold = similarSameCategoryThreshold
		}
		if keySimilarity(other.Key, req.Key) >= threshold {
			result.SimilarKeys = append(result.SimilarKeys, other.Key)
		}
	}
	if len(req.Content) > contentWarnBytes {
		result.Warning = "content exceeds 8KB; consider splitting into focused entries"
	}

	err = e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.PutKnowledge(ctx, entry); err != nil {
			return err
		}
		return tx.AppendKnowledgeLog(ctx, &types.KnowledgeLogEntry{
			Project:   req.Project,
			Key:       req.Key,
			Action:    "write",
			Agent:     agent,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	result.Entry = entry
	e.log.Info("knowledge written", "project", req.Project, "key", req.Key, "agent", agent)
	return result, nil
}

// freshestClaim returns the caller's most recently claimed active node in
// the project, or "".
func (e *Engine) freshestClaim(ctx context.Context, project, agent string) string {
	claimed, err := e.store.ClaimedNodes(ctx, project, agent)
	if err != nil {
		return ""
	}
	now := e.now()
	var best *types.Node
	for _, n := range claimed {
		if !n.Properties.ClaimActive(now, e.claimTTL) {
			continue
		}
		if best == nil || n.Properties.ClaimedAt().After(best.Properties.ClaimedAt()) {
			best = n
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// KnowledgeRead returns one entry.
func (e *Engine) KnowledgeRead(ctx context.Context, project, key string) (*types.KnowledgeEntry, error) {
	if key == "" {
		return nil, Errorf(CodeValidation, "key is required")
	}
	entry, err := e.store.GetKnowledge(ctx, project, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Errorf(CodeNotFound, "knowledge %s/%s not found", project, key)
		}
		return nil, err
	}
	return entry, nil
}

// KnowledgeDelete removes one entry and logs the deletion.
func (e *Engine) KnowledgeDelete(ctx context.Context, agent, project, key string) error {
	if key == "" {
		return Errorf(CodeValidation, "key is required")
	}
	now := e.now()
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.DeleteKnowledge(ctx, project, key); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Errorf(CodeNotFound, "knowledge %s/%s not found", project, key)
			}
			return err
		}
		return tx.AppendKnowledgeLog(ctx, &types.KnowledgeLogEntry{
			Project:   project,
			Key:       key,
			Action:    "delete",
			Agent:     agent,
			Timestamp: now,
		})
	})
	if err != nil {
		return err
	}
	e.log.Info("knowledge deleted", "project", project, "key", key, "agent", agent)
	return nil
}

// KnowledgeSearch matches entries by substring on key or content, optionally
// narrowed to one category.
func (e *Engine) KnowledgeSearch(ctx context.Context, project, query, category string) ([]*types.KnowledgeEntry, error) {
	if category != "" && !types.ValidCategory(category) {
		return nil, Errorf(CodeInvalidCategory, "invalid category %q", category)
	}
	entries, err := e.store.ListKnowledge(ctx, project)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var matches []*types.KnowledgeEntry
	for _, k := range entries {
		if category != "" && k.Category != category {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(k.Key), needle) &&
			!strings.Contains(strings.ToLower(k.Content), needle) {
			continue
		}
		matches = append(matches, k)
	}
	return matches, nil
}

// KnowledgeAudit returns the knowledge mutation log, newest first.
func (e *Engine) KnowledgeAudit(ctx context.Context, project string, limit int) ([]*types.KnowledgeLogEntry, error) {
	if project == "" {
		return nil, Errorf(CodeValidation, "project is required")
	}
	return e.store.KnowledgeLog(ctx, project, limit)
}
