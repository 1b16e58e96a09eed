package sqlite

import (
	"fmt"
	"testing"
	"time"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

func (e *testEnv) appendEvent(nodeID, action string) {
	e.t.Helper()
	err := e.Store.RunInTransaction(e.Ctx, func(tx storage.Transaction) error {
		return tx.AppendEvent(e.Ctx, &types.Event{
			NodeID:    nodeID,
			Agent:     "test-agent",
			Action:    action,
			Changes:   `{"n":1}`,
			Timestamp: e.Now,
		})
	})
	if err != nil {
		e.t.Fatalf("AppendEvent(%s, %s) failed: %v", nodeID, action, err)
	}
}

func TestEventsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	n := env.CreateChild(root, "task")

	for i := 0; i < 5; i++ {
		env.Tick()
		env.appendEvent(n.ID, fmt.Sprintf("updated-%d", i))
	}

	events, err := env.Store.Events(env.Ctx, n.ID, 0, 10)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	if events[0].Action != "updated-4" || events[4].Action != "updated-0" {
		t.Errorf("order = %s .. %s, want newest first", events[0].Action, events[4].Action)
	}
	if events[0].Changes != `{"n":1}` {
		t.Errorf("changes = %q", events[0].Changes)
	}
}

func TestEventsPagination(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	n := env.CreateChild(root, "task")

	for i := 0; i < 7; i++ {
		env.appendEvent(n.ID, fmt.Sprintf("updated-%d", i))
	}

	page1, err := env.Store.Events(env.Ctx, n.ID, 0, 3)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(page1) != 3 {
		t.Fatalf("page1 = %d events, want 3", len(page1))
	}

	page2, err := env.Store.Events(env.Ctx, n.ID, page1[len(page1)-1].ID, 3)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(page2) != 3 {
		t.Fatalf("page2 = %d events, want 3", len(page2))
	}
	if page2[0].ID >= page1[2].ID {
		t.Errorf("page2 starts at id %d, want below %d", page2[0].ID, page1[2].ID)
	}

	page3, err := env.Store.Events(env.Ctx, n.ID, page2[len(page2)-1].ID, 3)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(page3) != 1 {
		t.Errorf("page3 = %d events, want the single remainder", len(page3))
	}
}

func TestResolvedSince(t *testing.T) {
	env := newTestEnv(t)
	root := env.CreateRoot("demo")
	a := env.CreateChild(root, "a")
	b := env.CreateChild(root, "b")

	cutoff := env.Now

	env.Tick()
	env.appendEvent(a.ID, types.EventResolved)
	env.Tick()
	env.appendEvent(b.ID, types.EventResolved)
	env.appendEvent(b.ID, types.EventUpdated)

	count, err := env.Store.ResolvedSince(env.Ctx, "demo", cutoff)
	if err != nil {
		t.Fatalf("ResolvedSince failed: %v", err)
	}
	if count != 2 {
		t.Errorf("resolved since cutoff = %d, want 2", count)
	}

	count, err = env.Store.ResolvedSince(env.Ctx, "demo", env.Now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ResolvedSince failed: %v", err)
	}
	if count != 0 {
		t.Errorf("resolved since future = %d, want 0", count)
	}

	count, err = env.Store.ResolvedSince(env.Ctx, "other", cutoff)
	if err != nil {
		t.Fatalf("ResolvedSince failed: %v", err)
	}
	if count != 0 {
		t.Errorf("resolved in other project = %d, want 0", count)
	}
}
