package sqlite

import (
	"errors"
	"strings"
	"testing"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func TestQueryFilters(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	a := env.CreateChild(root, "write the parser")
	b := env.CreateChild(root, "write the printer")
	c := env.CreateChild(a, "parser tests")
	env.Resolve(b)

	reason := "blocked on upstream"
	c.Blocked = true
	c.BlockedReason = &reason
	env.Update(c)

	run := func(f storage.NodeFilter) []string {
		t.Helper()
		f.Project = "demo"
		page, err := env.Store.Query(env.Ctx, f)
		if err != nil {
			t.Fatalf("Query(%+v) failed: %v", f, err)
		}
		var ids []string
		for _, n := range page.Nodes {
			ids = append(ids, n.ID)
		}
		return ids
	}

	if got := run(storage.NodeFilter{Resolved: boolPtr(true)}); len(got) != 1 || got[0] != b.ID {
		t.Errorf("resolved filter = %v, want [%s]", got, b.ID)
	}
	if got := run(storage.NodeFilter{Blocked: boolPtr(true)}); len(got) != 1 || got[0] != c.ID {
		t.Errorf("blocked filter = %v, want [%s]", got, c.ID)
	}
	if got := run(storage.NodeFilter{Text: "parser"}); len(got) != 2 {
		t.Errorf("text filter = %v, want the parser pair", got)
	}
	if got := run(storage.NodeFilter{Ancestor: a.ID}); len(got) != 1 || got[0] != c.ID {
		t.Errorf("ancestor filter = %v, want [%s]", got, c.ID)
	}
	if got := run(storage.NodeFilter{IsLeaf: boolPtr(true)}); len(got) != 2 {
		t.Errorf("leaf filter = %v, want [b c]", got)
	}
	if got := run(storage.NodeFilter{HasEvidenceType: types.EvidenceNote}); len(got) != 1 || got[0] != b.ID {
		t.Errorf("evidence filter = %v, want [%s]", got, b.ID)
	}
}

func TestQueryActionableFilter(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	a := env.CreateChild(root, "a")
	b := env.CreateChild(root, "b")
	env.AddDep(b, a)

	page, err := env.Store.Query(env.Ctx, storage.NodeFilter{
		Project: "demo", Actionable: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page.Nodes) != 1 || page.Nodes[0].ID != a.ID {
		t.Errorf("actionable = %v, want just %s", ids(page.Nodes), a.ID)
	}
}

func TestQueryClaimedBy(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	mine := env.CreateChild(root, "mine")
	theirs := env.CreateChild(root, "theirs")
	free := env.CreateChild(root, "free")

	mine.Properties.SetClaim("agent-1", env.Now)
	env.Update(mine)
	theirs.Properties.SetClaim("agent-2", env.Now)
	env.Update(theirs)

	// Nil means any claim state.
	page, err := env.Store.Query(env.Ctx, storage.NodeFilter{Project: "demo"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page.Nodes) != 4 {
		t.Errorf("unfiltered = %d nodes, want 4", len(page.Nodes))
	}

	page, err = env.Store.Query(env.Ctx, storage.NodeFilter{
		Project: "demo", ClaimedBy: strPtr("agent-1"),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page.Nodes) != 1 || page.Nodes[0].ID != mine.ID {
		t.Errorf("claimed_by agent-1 = %v, want [%s]", ids(page.Nodes), mine.ID)
	}

	// Empty string selects unclaimed nodes.
	page, err = env.Store.Query(env.Ctx, storage.NodeFilter{
		Project: "demo", ClaimedBy: strPtr(""),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	got := ids(page.Nodes)
	if len(got) != 2 {
		t.Errorf("unclaimed = %v, want root and %s", got, free.ID)
	}
}

func TestQueryPropertiesFilter(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	hit := env.CreateChild(root, "hit")
	hit.Properties["area"] = "backend"
	hit.Properties["priority"] = 3.0
	env.Update(hit)
	miss := env.CreateChild(root, "miss")
	miss.Properties["area"] = "frontend"
	env.Update(miss)

	page, err := env.Store.Query(env.Ctx, storage.NodeFilter{
		Project:    "demo",
		Properties: types.Properties{"area": "backend"},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page.Nodes) != 1 || page.Nodes[0].ID != hit.ID {
		t.Errorf("property filter = %v, want [%s]", ids(page.Nodes), hit.ID)
	}
}

func TestQuerySorts(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	old := env.CreateChild(root, "old")
	env.Tick()
	deep := env.CreateChild(old, "deep")
	env.Tick()
	fresh := env.CreateChild(root, "fresh")

	page, err := env.Store.Query(env.Ctx, storage.NodeFilter{Project: "demo", Sort: "recent"})
	if err != nil {
		t.Fatalf("Query(recent) failed: %v", err)
	}
	if page.Nodes[0].ID != fresh.ID {
		t.Errorf("recent[0] = %s, want %s", page.Nodes[0].ID, fresh.ID)
	}

	page, err = env.Store.Query(env.Ctx, storage.NodeFilter{Project: "demo", Sort: "created"})
	if err != nil {
		t.Fatalf("Query(created) failed: %v", err)
	}
	if page.Nodes[0].ID != root.ID {
		t.Errorf("created[0] = %s, want the root", page.Nodes[0].ID)
	}

	page, err = env.Store.Query(env.Ctx, storage.NodeFilter{Project: "demo", Sort: "depth"})
	if err != nil {
		t.Fatalf("Query(depth) failed: %v", err)
	}
	if page.Nodes[0].Depth != 0 || page.Nodes[len(page.Nodes)-1].ID != deep.ID {
		t.Errorf("depth order = %v", ids(page.Nodes))
	}

	// Readiness puts actionable leaves before non-actionable ancestors.
	page, err = env.Store.Query(env.Ctx, storage.NodeFilter{Project: "demo", Sort: "readiness"})
	if err != nil {
		t.Fatalf("Query(readiness) failed: %v", err)
	}
	if page.Nodes[0].ID != deep.ID && page.Nodes[0].ID != fresh.ID {
		t.Errorf("readiness[0] = %s, want an actionable leaf", page.Nodes[0].ID)
	}
	if page.Nodes[len(page.Nodes)-1].ID == deep.ID {
		t.Errorf("readiness put an actionable leaf last: %v", ids(page.Nodes))
	}

	// Unknown sorts are caller mistakes and carry the filter sentinel.
	_, err = env.Store.Query(env.Ctx, storage.NodeFilter{Project: "demo", Sort: "bogus"})
	if !errors.Is(err, storage.ErrInvalidFilter) {
		t.Errorf("unknown sort = %v, want ErrInvalidFilter", err)
	}
}

func TestQueryCursorWalk(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	total := 10
	for i := 0; i < total; i++ {
		env.Tick()
		env.CreateChild(root, "task")
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		page, err := env.Store.Query(env.Ctx, storage.NodeFilter{
			Project: "demo", Sort: "created", Limit: 3, Cursor: cursor,
		})
		if err != nil {
			t.Fatalf("Query page %d failed: %v", pages, err)
		}
		for _, n := range page.Nodes {
			if seen[n.ID] {
				t.Errorf("node %s appeared twice across pages", n.ID)
			}
			seen[n.ID] = true
		}
		pages++
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
		if pages > 10 {
			t.Fatal("cursor never terminated")
		}
	}
	if len(seen) != total+1 {
		t.Errorf("walked %d nodes, want %d", len(seen), total+1)
	}
	if pages != 4 {
		t.Errorf("walked %d pages, want 4", pages)
	}
}

func TestQueryCursorSortMismatch(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	for i := 0; i < 3; i++ {
		env.CreateChild(root, "task")
	}

	page, err := env.Store.Query(env.Ctx, storage.NodeFilter{
		Project: "demo", Sort: "created", Limit: 2,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if page.Cursor == "" {
		t.Fatal("expected a continuation cursor")
	}

	_, err = env.Store.Query(env.Ctx, storage.NodeFilter{
		Project: "demo", Sort: "recent", Cursor: page.Cursor,
	})
	if !errors.Is(err, storage.ErrInvalidFilter) || !strings.Contains(err.Error(), "cursor") {
		t.Errorf("cross-sort cursor = %v, want a cursor filter error", err)
	}

	_, err = env.Store.Query(env.Ctx, storage.NodeFilter{
		Project: "demo", Sort: "created", Cursor: "!!not-base64!!",
	})
	if !errors.Is(err, storage.ErrInvalidFilter) {
		t.Errorf("garbage cursor = %v, want ErrInvalidFilter", err)
	}
}

func TestQueryTextEscaping(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	literal := env.CreateChild(root, "migrate 100% of traffic")
	env.CreateChild(root, "migrate all of traffic")

	page, err := env.Store.Query(env.Ctx, storage.NodeFilter{Project: "demo", Text: "100%"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page.Nodes) != 1 || page.Nodes[0].ID != literal.ID {
		t.Errorf("%% search = %v, want the literal match only", ids(page.Nodes))
	}
}

func ids(nodes []*types.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
