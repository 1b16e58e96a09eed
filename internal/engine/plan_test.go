package engine

import (
	"testing"

	"github.com/untoldecay/taskgraph/internal/types"
)

func TestPlanBatchTree(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")

	res, err := env.Eng.Plan(env.Ctx, testAgent, []PlanNode{
		{Ref: "feature", ParentRef: root.ID, Summary: "the feature"},
		{Ref: "api", ParentRef: "feature", Summary: "api layer"},
		{Ref: "db", ParentRef: "feature", Summary: "db layer"},
		{Ref: "wire", ParentRef: "feature", Summary: "wire them", DependsOn: []string{"api", "db"}},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(res.Created) != 4 {
		t.Fatalf("created %d nodes, want 4", len(res.Created))
	}

	feature := env.Get(res.Created["feature"].ID)
	if feature.Depth != 1 || feature.Parent == nil || *feature.Parent != root.ID {
		t.Errorf("feature depth=%d parent=%v", feature.Depth, feature.Parent)
	}
	// Decomposition in the batch counts as discovery.
	if !feature.DiscoveryDone() {
		t.Errorf("feature discovery = %q, want done", feature.Discovery)
	}
	// Leaves stay pending until decomposed or explicitly marked.
	if api := env.Get(res.Created["api"].ID); api.Discovery != types.DiscoveryPending {
		t.Errorf("api discovery = %q, want pending", api.Discovery)
	}

	wire := env.Get(res.Created["wire"].ID)
	if wire.Depth != 2 {
		t.Errorf("wire depth = %d, want 2", wire.Depth)
	}
	edges, err := env.Store.EdgesFrom(env.Ctx, wire.ID)
	if err != nil {
		t.Fatalf("EdgesFrom failed: %v", err)
	}
	if len(edges) != 2 {
		t.Errorf("wire has %d dependencies, want 2", len(edges))
	}
}

func TestPlanOrderInsensitive(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")

	// Child listed before its batch parent still lands under it.
	res, err := env.Eng.Plan(env.Ctx, testAgent, []PlanNode{
		{Ref: "leaf", ParentRef: "branch", Summary: "leaf"},
		{Ref: "branch", ParentRef: root.ID, Summary: "branch"},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	leaf := env.Get(res.Created["leaf"].ID)
	if leaf.Parent == nil || *leaf.Parent != res.Created["branch"].ID {
		t.Errorf("leaf parent = %v, want the branch", leaf.Parent)
	}
	if leaf.Depth != 2 {
		t.Errorf("leaf depth = %d, want 2", leaf.Depth)
	}
}

func TestPlanValidation(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")

	cases := []struct {
		name  string
		nodes []PlanNode
	}{
		{"empty batch", nil},
		{"missing ref", []PlanNode{{ParentRef: root.ID, Summary: "x"}}},
		{"duplicate ref", []PlanNode{
			{Ref: "a", ParentRef: root.ID, Summary: "x"},
			{Ref: "a", ParentRef: root.ID, Summary: "y"},
		}},
		{"missing summary", []PlanNode{{Ref: "a", ParentRef: root.ID}}},
		{"missing parent_ref", []PlanNode{{Ref: "a", Summary: "x"}}},
		{"bad discovery", []PlanNode{{Ref: "a", ParentRef: root.ID, Summary: "x", Discovery: "half"}}},
		{"reserved property", []PlanNode{{
			Ref: "a", ParentRef: root.ID, Summary: "x",
			Properties: types.Properties{"_claimed_by": "me"},
		}}},
		{"parent_ref cycle", []PlanNode{
			{Ref: "a", ParentRef: "b", Summary: "x"},
			{Ref: "b", ParentRef: "a", Summary: "y"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Eng.Plan(env.Ctx, testAgent, tc.nodes)
			env.AssertCode(err, CodeValidation)
		})
	}
}

func TestPlanParentDiscoveryPending(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")

	res, err := env.Eng.Plan(env.Ctx, testAgent, []PlanNode{
		{Ref: "pending", ParentRef: root.ID, Summary: "not yet decomposed"},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	pending := res.Created["pending"]

	_, err = env.Eng.Plan(env.Ctx, testAgent, []PlanNode{
		{Ref: "child", ParentRef: pending.ID, Summary: "too early"},
	})
	env.AssertCode(err, CodeDiscoveryPending)

	// Flipping discovery opens the node up.
	done := types.DiscoveryDone
	if _, err := env.Eng.Update(env.Ctx, testAgent, []UpdateItem{{
		NodeID: pending.ID, Discovery: &done,
	}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := env.Eng.Plan(env.Ctx, testAgent, []PlanNode{
		{Ref: "child", ParentRef: pending.ID, Summary: "now fine"},
	}); err != nil {
		t.Errorf("Plan after discovery failed: %v", err)
	}
}

func TestPlanAtomicAbort(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")

	_, err := env.Eng.Plan(env.Ctx, testAgent, []PlanNode{
		{Ref: "good", ParentRef: root.ID, Summary: "fine"},
		{Ref: "bad", ParentRef: root.ID, Summary: "depends on nothing", DependsOn: []string{"n-missing"}},
	})
	env.AssertCode(err, CodeNotFound)

	// The whole batch rolled back, including the valid node.
	kids, err := env.Store.Children(env.Ctx, root.ID)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(kids) != 0 {
		t.Errorf("aborted batch left %d nodes behind", len(kids))
	}
}

func TestPlanDependsOnExistingNode(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	existing := env.PlanOne(root.ID, "already here")

	res, err := env.Eng.Plan(env.Ctx, testAgent, []PlanNode{
		{Ref: "new", ParentRef: root.ID, Summary: "builds on it", DependsOn: []string{existing.ID}},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	edges, err := env.Store.EdgesFrom(env.Ctx, res.Created["new"].ID)
	if err != nil {
		t.Fatalf("EdgesFrom failed: %v", err)
	}
	if len(edges) != 1 || edges[0].To != existing.ID {
		t.Errorf("edges = %v, want one to %s", edges, existing.ID)
	}
}
