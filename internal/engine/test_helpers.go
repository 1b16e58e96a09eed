package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/untoldecay/taskgraph/internal/storage/sqlite"
	"github.com/untoldecay/taskgraph/internal/types"
)

const testAgent = "agent-test"

// testClock is a manually advanced clock for deterministic engine tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

// Advance moves the clock forward.
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// testEnv provides an engine over a temp-file store with a fixed clock.
// Use newTestEnv(t) to create a test environment with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Eng   *Engine
	Store *sqlite.Store
	Ctx   context.Context
	Clock *testClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(store, log, append([]Option{WithClock(clock.Now)}, opts...)...)
	return &testEnv{
		t:     t,
		Eng:   eng,
		Store: store,
		Ctx:   context.Background(),
		Clock: clock,
	}
}

// OpenProject opens (creating) a project and returns its root.
func (e *testEnv) OpenProject(project string) *types.Node {
	e.t.Helper()
	res, err := e.Eng.Open(e.Ctx, testAgent, project)
	if err != nil {
		e.t.Fatalf("Open(%q) failed: %v", project, err)
	}
	return res.Root
}

// PlanOne creates a single node under parentID with discovery done.
func (e *testEnv) PlanOne(parentID, summary string) *types.Node {
	e.t.Helper()
	return e.PlanOneWith(parentID, summary, nil)
}

// PlanOneWith creates a single node with properties.
func (e *testEnv) PlanOneWith(parentID, summary string, props types.Properties) *types.Node {
	e.t.Helper()
	res, err := e.Eng.Plan(e.Ctx, testAgent, []PlanNode{{
		Ref:        "n",
		ParentRef:  parentID,
		Summary:    summary,
		Discovery:  types.DiscoveryDone,
		Properties: props,
	}})
	if err != nil {
		e.t.Fatalf("Plan(%q) failed: %v", summary, err)
	}
	return res.Created["n"]
}

// Connect adds a depends_on edge and fails the test on rejection.
func (e *testEnv) Connect(from, to string) {
	e.t.Helper()
	res, err := e.Eng.Connect(e.Ctx, testAgent, []EdgeOp{{Op: "add", From: from, To: to}})
	if err != nil {
		e.t.Fatalf("Connect(%s -> %s) failed: %v", from, to, err)
	}
	if !res.Outcomes[0].Applied {
		e.t.Fatalf("Connect(%s -> %s) rejected: %s", from, to, res.Outcomes[0].Reason)
	}
}

// Resolve resolves a node with a note evidence and returns the result.
func (e *testEnv) Resolve(nodeID string) *UpdateResult {
	e.t.Helper()
	res, err := e.Eng.Resolve(e.Ctx, testAgent, nodeID, "done", "")
	if err != nil {
		e.t.Fatalf("Resolve(%s) failed: %v", nodeID, err)
	}
	return res
}

// Get reloads a node from the store.
func (e *testEnv) Get(nodeID string) *types.Node {
	e.t.Helper()
	n, err := e.Store.GetNode(e.Ctx, nodeID)
	if err != nil {
		e.t.Fatalf("GetNode(%s) failed: %v", nodeID, err)
	}
	return n
}

// AssertCode asserts that err carries the given engine code.
func (e *testEnv) AssertCode(err error, code string) {
	e.t.Helper()
	if err == nil {
		e.t.Fatalf("expected error with code %s, got nil", code)
	}
	if got := CodeOf(err); got != code {
		e.t.Errorf("error code = %s, want %s (err: %v)", got, code, err)
	}
}
