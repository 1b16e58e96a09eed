package sqlite

import (
	"errors"
	"testing"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

func (e *testEnv) putKnowledge(k *types.KnowledgeEntry) {
	e.t.Helper()
	err := e.Store.RunInTransaction(e.Ctx, func(tx storage.Transaction) error {
		return tx.PutKnowledge(e.Ctx, k)
	})
	if err != nil {
		e.t.Fatalf("PutKnowledge(%s) failed: %v", k.Key, err)
	}
}

func TestKnowledgeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")

	src := root.ID
	entry := &types.KnowledgeEntry{
		ID:         "k-1",
		Project:    "demo",
		Key:        "db-layout",
		Content:    "single file, WAL mode",
		Category:   types.CategoryArchitecture,
		SourceNode: &src,
		CreatedBy:  "agent-1",
		CreatedAt:  env.Now,
		UpdatedAt:  env.Now,
	}
	env.putKnowledge(entry)

	got, err := env.Store.GetKnowledge(env.Ctx, "demo", "db-layout")
	if err != nil {
		t.Fatalf("GetKnowledge failed: %v", err)
	}
	if got.Content != entry.Content || got.Category != entry.Category {
		t.Errorf("got %+v", got)
	}
	if got.SourceNode == nil || *got.SourceNode != root.ID {
		t.Errorf("source_node = %v, want %s", got.SourceNode, root.ID)
	}
	if got.CreatedBy != "agent-1" {
		t.Errorf("created_by = %q", got.CreatedBy)
	}
}

func TestKnowledgeUpsertPreservesOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.CreateRoot("demo")

	original := &types.KnowledgeEntry{
		ID: "k-orig", Project: "demo", Key: "conventions",
		Content: "v1", Category: types.CategoryConvention,
		CreatedBy: "agent-1", CreatedAt: env.Now, UpdatedAt: env.Now,
	}
	env.putKnowledge(original)

	env.Tick()
	overwrite := &types.KnowledgeEntry{
		ID: "k-new", Project: "demo", Key: "conventions",
		Content: "v2", Category: types.CategoryConvention,
		CreatedBy: "agent-2", CreatedAt: env.Now, UpdatedAt: env.Now,
	}
	env.putKnowledge(overwrite)

	got, err := env.Store.GetKnowledge(env.Ctx, "demo", "conventions")
	if err != nil {
		t.Fatalf("GetKnowledge failed: %v", err)
	}
	if got.Content != "v2" {
		t.Errorf("content = %q, want v2", got.Content)
	}
	// The conflict clause keeps the original identity columns.
	if got.ID != "k-orig" {
		t.Errorf("id = %q, want the original k-orig", got.ID)
	}
	if got.CreatedBy != "agent-1" {
		t.Errorf("created_by = %q, want agent-1", got.CreatedBy)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("updated_at %v should advance past created_at %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestKnowledgeDelete(t *testing.T) {
	env := newTestEnv(t)
	env.CreateRoot("demo")
	env.putKnowledge(&types.KnowledgeEntry{
		ID: "k-1", Project: "demo", Key: "tmp",
		Content: "x", Category: types.CategoryGeneral,
		CreatedBy: "agent-1", CreatedAt: env.Now, UpdatedAt: env.Now,
	})

	err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		return tx.DeleteKnowledge(env.Ctx, "demo", "tmp")
	})
	if err != nil {
		t.Fatalf("DeleteKnowledge failed: %v", err)
	}

	_, err = env.Store.GetKnowledge(env.Ctx, "demo", "tmp")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetKnowledge(deleted) = %v, want ErrNotFound", err)
	}

	err = env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		return tx.DeleteKnowledge(env.Ctx, "demo", "tmp")
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteKnowledge(absent) = %v, want ErrNotFound", err)
	}
}

func TestListKnowledgeOrder(t *testing.T) {
	env := newTestEnv(t)
	env.CreateRoot("demo")

	for _, key := range []string{"old", "mid", "fresh"} {
		env.Tick()
		env.putKnowledge(&types.KnowledgeEntry{
			ID: "k-" + key, Project: "demo", Key: key,
			Content: key, Category: types.CategoryGeneral,
			CreatedBy: "agent-1", CreatedAt: env.Now, UpdatedAt: env.Now,
		})
	}

	entries, err := env.Store.ListKnowledge(env.Ctx, "demo")
	if err != nil {
		t.Fatalf("ListKnowledge failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Key != "fresh" {
		t.Errorf("entries[0] = %s, want the most recently updated first", entries[0].Key)
	}
}

func TestKnowledgeLog(t *testing.T) {
	env := newTestEnv(t)
	env.CreateRoot("demo")

	actions := []string{"write", "write", "delete"}
	for _, action := range actions {
		env.Tick()
		err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
			return tx.AppendKnowledgeLog(env.Ctx, &types.KnowledgeLogEntry{
				Project: "demo", Key: "conventions", Action: action,
				Agent: "agent-1", Timestamp: env.Now,
			})
		})
		if err != nil {
			t.Fatalf("AppendKnowledgeLog failed: %v", err)
		}
	}

	log, err := env.Store.KnowledgeLog(env.Ctx, "demo", 10)
	if err != nil {
		t.Fatalf("KnowledgeLog failed: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("got %d log rows, want 3", len(log))
	}
	if log[0].Action != "delete" {
		t.Errorf("log[0] = %s, want the newest action first", log[0].Action)
	}

	log, err = env.Store.KnowledgeLog(env.Ctx, "demo", 2)
	if err != nil {
		t.Fatalf("KnowledgeLog failed: %v", err)
	}
	if len(log) != 2 {
		t.Errorf("limited log = %d rows, want 2", len(log))
	}
}
