package engine

import (
	"testing"
	"time"

	"github.com/untoldecay/taskgraph/internal/types"
)

func TestNextPrefersPriorityThenDepth(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	env.PlanOne(root.ID, "plain")
	urgent := env.PlanOneWith(root.ID, "urgent", types.Properties{"priority": 8})

	res, err := env.Eng.Next(env.Ctx, testAgent, NextRequest{Project: "demo"})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(res.Items))
	}
	if res.Items[0].Node.ID != urgent.ID {
		t.Errorf("next = %s, want the prioritized node", res.Items[0].Node.Summary)
	}
	if len(res.Items[0].Ancestors) != 1 || res.Items[0].Ancestors[0] != root.ID {
		t.Errorf("ancestors = %v, want [%s]", res.Items[0].Ancestors, root.ID)
	}
}

func TestNextAutoSelectsSingleProject(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("solo")
	env.PlanOne(root.ID, "task")

	res, err := env.Eng.Next(env.Ctx, testAgent, NextRequest{})
	if err != nil {
		t.Fatalf("Next without project failed: %v", err)
	}
	if len(res.Items) != 1 {
		t.Errorf("got %d items, want 1", len(res.Items))
	}

	env.OpenProject("second")
	_, err = env.Eng.Next(env.Ctx, testAgent, NextRequest{})
	env.AssertCode(err, CodeValidation)
}

func TestNextClaim(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	n := env.PlanOne(root.ID, "task")
	before := env.Get(n.ID)

	res, err := env.Eng.Next(env.Ctx, testAgent, NextRequest{Project: "demo", Claim: true})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.Items) != 1 || !res.Items[0].Claimed {
		t.Fatalf("items = %+v, want one claimed", res.Items)
	}

	got := env.Get(n.ID)
	if got.Properties.ClaimedBy() != testAgent {
		t.Errorf("claimed_by = %q", got.Properties.ClaimedBy())
	}
	if got.Properties.ClaimedAt().IsZero() {
		t.Error("claimed_at not stamped")
	}
	if got.Rev != before.Rev+1 {
		t.Errorf("rev = %d, want %d (claiming is a mutation)", got.Rev, before.Rev+1)
	}
}

func TestNextSkipsForeignFreshLease(t *testing.T) {
	env := newTestEnv(t, WithClaimTTL(time.Minute))
	root := env.OpenProject("demo")
	n := env.PlanOne(root.ID, "contested")

	if _, err := env.Eng.Next(env.Ctx, "agent-a", NextRequest{Project: "demo", Claim: true}); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// A fresh foreign lease hides the node.
	res, err := env.Eng.Next(env.Ctx, "agent-b", NextRequest{Project: "demo", Claim: true})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.Items) != 0 {
		t.Fatalf("agent-b got %d items under agent-a's lease", len(res.Items))
	}

	// The owner sees its own claim listed.
	res, err = env.Eng.Next(env.Ctx, "agent-a", NextRequest{Project: "demo"})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.YourClaims) != 1 || res.YourClaims[0].ID != n.ID {
		t.Errorf("your_claims = %v", res.YourClaims)
	}
}

func TestNextReclaimsExpiredLease(t *testing.T) {
	env := newTestEnv(t, WithClaimTTL(time.Minute))
	root := env.OpenProject("demo")
	n := env.PlanOne(root.ID, "abandoned")

	if _, err := env.Eng.Next(env.Ctx, "agent-a", NextRequest{Project: "demo", Claim: true}); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	env.Clock.Advance(2 * time.Minute)

	res, err := env.Eng.Next(env.Ctx, "agent-b", NextRequest{Project: "demo", Claim: true})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Node.ID != n.ID {
		t.Fatalf("expired lease not reclaimable: %+v", res.Items)
	}
	if got := env.Get(n.ID); got.Properties.ClaimedBy() != "agent-b" {
		t.Errorf("claimed_by = %q, want agent-b", got.Properties.ClaimedBy())
	}
}

func TestNextAutoScope(t *testing.T) {
	env := newTestEnv(t, WithClaimTTL(time.Hour))
	root := env.OpenProject("demo")

	res, err := env.Eng.Plan(env.Ctx, testAgent, []PlanNode{
		{Ref: "area", ParentRef: root.ID, Summary: "area"},
		{Ref: "first", ParentRef: "area", Summary: "first"},
		{Ref: "second", ParentRef: "area", Summary: "second"},
		{Ref: "elsewhere", ParentRef: root.ID, Summary: "elsewhere"},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	// Claim one task inside the area.
	claimed, err := env.Eng.Next(env.Ctx, testAgent, NextRequest{Project: "demo", Claim: true})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(claimed.Items) != 1 {
		t.Fatalf("got %d items", len(claimed.Items))
	}

	// The follow-up call stays inside the claimed parent.
	out, err := env.Eng.Next(env.Ctx, testAgent, NextRequest{Project: "demo"})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !out.AutoScoped || out.Scope != res.Created["area"].ID {
		t.Errorf("scope = %q auto=%v, want the area", out.Scope, out.AutoScoped)
	}

	// When the neighborhood is exhausted, the scope widens back out: block
	// the claimed node and resolve its sibling.
	mine := claimed.Items[0].Node.ID
	blocked := true
	reason := "parked"
	if _, err := env.Eng.Update(env.Ctx, testAgent, []UpdateItem{{
		NodeID: mine, Blocked: &blocked, BlockedReason: &reason,
	}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	for _, ref := range []string{"first", "second"} {
		if id := res.Created[ref].ID; id != mine {
			env.Resolve(id)
		}
	}
	out, err = env.Eng.Next(env.Ctx, testAgent, NextRequest{Project: "demo"})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if out.AutoScoped {
		t.Error("still auto-scoped after the subtree emptied")
	}
	if len(out.Items) != 1 || out.Items[0].Node.ID != res.Created["elsewhere"].ID {
		t.Errorf("items = %+v, want elsewhere", out.Items)
	}
}

func TestNextDependencyStatus(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	dep := env.PlanOne(root.ID, "dep")
	env.Resolve(dep.ID)
	n := env.PlanOne(root.ID, "task")
	env.Connect(n.ID, dep.ID)

	res, err := env.Eng.Next(env.Ctx, testAgent, NextRequest{Project: "demo"})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("got %d items", len(res.Items))
	}
	deps := res.Items[0].Dependencies
	if len(deps) != 1 || deps[0].ID != dep.ID || !deps[0].Resolved {
		t.Errorf("dependencies = %+v", deps)
	}
}

func TestNextPropertyFilter(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	env.PlanOneWith(root.ID, "backend task", types.Properties{"area": "backend"})
	front := env.PlanOneWith(root.ID, "frontend task", types.Properties{"area": "frontend"})

	res, err := env.Eng.Next(env.Ctx, testAgent, NextRequest{
		Project: "demo",
		Filter:  types.Properties{"area": "frontend"},
		Count:   5,
	})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Node.ID != front.ID {
		t.Errorf("filtered items = %+v, want the frontend task", res.Items)
	}
}
