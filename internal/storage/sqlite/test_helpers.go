package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// testEnv provides a test environment with common setup and helpers.
// Use newTestEnv(t) to create a test environment with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Store *Store
	Ctx   context.Context

	// Now is the fixed timestamp stamped on created rows; bump it between
	// writes when ordering matters.
	Now time.Time

	seq int
}

// newTestEnv creates a new test environment with a configured store.
// The store is automatically cleaned up when the test completes.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		t:     t,
		Store: newTestStore(t, ""),
		Ctx:   context.Background(),
		Now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Tick advances the environment clock by one second and returns it.
func (e *testEnv) Tick() time.Time {
	e.Now = e.Now.Add(time.Second)
	return e.Now
}

func (e *testEnv) nextID() string {
	e.seq++
	return fmt.Sprintf("n-%08d", e.seq)
}

// CreateRoot creates a project root node.
func (e *testEnv) CreateRoot(project string) *types.Node {
	e.t.Helper()
	n := &types.Node{
		ID:         e.nextID(),
		Project:    project,
		Summary:    project,
		Discovery:  types.DiscoveryDone,
		Properties: types.Properties{},
		Depth:      0,
		Rev:        1,
		CreatedAt:  e.Now,
		UpdatedAt:  e.Now,
	}
	e.insert(n)
	return n
}

// CreateChild creates a node under parent with discovery done.
func (e *testEnv) CreateChild(parent *types.Node, summary string) *types.Node {
	e.t.Helper()
	parentID := parent.ID
	n := &types.Node{
		ID:         e.nextID(),
		Project:    parent.Project,
		Parent:     &parentID,
		Summary:    summary,
		Discovery:  types.DiscoveryDone,
		Properties: types.Properties{},
		Depth:      parent.Depth + 1,
		Rev:        1,
		CreatedAt:  e.Now,
		UpdatedAt:  e.Now,
	}
	e.insert(n)
	return n
}

func (e *testEnv) insert(n *types.Node) {
	e.t.Helper()
	err := e.Store.RunInTransaction(e.Ctx, func(tx storage.Transaction) error {
		return tx.CreateNode(e.Ctx, n)
	})
	if err != nil {
		e.t.Fatalf("CreateNode(%q) failed: %v", n.Summary, err)
	}
}

// AddDep adds a depends_on edge from -> to.
func (e *testEnv) AddDep(from, to *types.Node) {
	e.t.Helper()
	e.AddEdge(from, to, types.EdgeDependsOn)
}

// AddEdge adds a typed edge from -> to.
func (e *testEnv) AddEdge(from, to *types.Node, edgeType string) {
	e.t.Helper()
	err := e.Store.RunInTransaction(e.Ctx, func(tx storage.Transaction) error {
		return tx.AddEdge(e.Ctx, &types.Edge{
			From:      from.ID,
			To:        to.ID,
			Type:      edgeType,
			Agent:     "test-agent",
			Timestamp: e.Now,
		})
	})
	if err != nil {
		e.t.Fatalf("AddEdge(%s -> %s) failed: %v", from.ID, to.ID, err)
	}
}

// Resolve marks the node resolved with a note evidence and saves it.
func (e *testEnv) Resolve(n *types.Node) {
	e.t.Helper()
	n.Resolved = true
	n.Evidence = append(n.Evidence, types.Evidence{
		Type:      types.EvidenceNote,
		Ref:       "done",
		Agent:     "test-agent",
		Timestamp: e.Now,
	})
	e.Update(n)
}

// Update persists the node, bumping rev and updated_at.
func (e *testEnv) Update(n *types.Node) {
	e.t.Helper()
	n.Rev++
	n.UpdatedAt = e.Now
	err := e.Store.RunInTransaction(e.Ctx, func(tx storage.Transaction) error {
		return tx.UpdateNode(e.Ctx, n)
	})
	if err != nil {
		e.t.Fatalf("UpdateNode(%s) failed: %v", n.ID, err)
	}
}

// Actionable reports the stored actionable state of the node.
func (e *testEnv) Actionable(n *types.Node) bool {
	e.t.Helper()
	var ok bool
	err := e.Store.RunInTransaction(e.Ctx, func(tx storage.Transaction) error {
		var aerr error
		ok, aerr = tx.Actionable(e.Ctx, n.ID)
		return aerr
	})
	if err != nil {
		e.t.Fatalf("Actionable(%s) failed: %v", n.ID, err)
	}
	return ok
}

// AssertActionable asserts the node is actionable.
func (e *testEnv) AssertActionable(n *types.Node) {
	e.t.Helper()
	if !e.Actionable(n) {
		e.t.Errorf("expected %s (%s) to be actionable, but it was not", n.ID, n.Summary)
	}
}

// AssertNotActionable asserts the node is not actionable.
func (e *testEnv) AssertNotActionable(n *types.Node) {
	e.t.Helper()
	if e.Actionable(n) {
		e.t.Errorf("expected %s (%s) to not be actionable, but it was", n.ID, n.Summary)
	}
}

// newTestStore creates a Store over a temp-dir database file with automatic
// cleanup. In-memory databases are avoided: the flock and WAL pragmas expect
// a real file, and a temp file matches production behavior.
func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	store, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}
