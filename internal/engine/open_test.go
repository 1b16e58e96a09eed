package engine

import (
	"testing"
	"time"

	"github.com/untoldecay/taskgraph/internal/types"
)

func TestOpenCreatesOnFirstTouch(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Eng.Open(env.Ctx, testAgent, "demo")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !res.Created || res.Root == nil {
		t.Fatalf("got %+v, want a created root", res)
	}
	if res.Root.Parent != nil || res.Root.Depth != 0 {
		t.Errorf("root = %+v", res.Root)
	}

	// Reopening returns the same root without creating.
	again, err := env.Eng.Open(env.Ctx, testAgent, "demo")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if again.Created || again.Root.ID != res.Root.ID {
		t.Errorf("reopen = %+v", again)
	}
}

func TestOpenListsProjects(t *testing.T) {
	env := newTestEnv(t)
	env.OpenProject("alpha")
	env.OpenProject("beta")

	res, err := env.Eng.Open(env.Ctx, testAgent, "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(res.Projects) != 2 {
		t.Errorf("projects = %v", res.Projects)
	}
	if res.Root != nil {
		t.Error("listing returned a root")
	}
}

func TestOpenRejectsBadSlug(t *testing.T) {
	env := newTestEnv(t)
	for _, slug := range []string{"Has Caps", "under_score", "-leading", "sp ace"} {
		_, err := env.Eng.Open(env.Ctx, testAgent, slug)
		env.AssertCode(err, CodeValidation)
	}
}

func TestContext(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")

	res, err := env.Eng.Plan(env.Ctx, testAgent, []PlanNode{
		{Ref: "mid", ParentRef: root.ID, Summary: "mid"},
		{Ref: "target", ParentRef: "mid", Summary: "target"},
		{Ref: "kid", ParentRef: "target", Summary: "kid"},
		{Ref: "dep", ParentRef: root.ID, Summary: "dep"},
		{Ref: "waiter", ParentRef: root.ID, Summary: "waiter", DependsOn: []string{"target"}},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	target := res.Created["target"].ID
	env.Connect(target, res.Created["dep"].ID)

	ctx, err := env.Eng.Context(env.Ctx, target)
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if len(ctx.Ancestors) != 2 || ctx.Ancestors[0].ID != root.ID {
		t.Errorf("ancestors = %v, want root first", ctx.Ancestors)
	}
	if len(ctx.Children) != 1 || ctx.Children[0].ID != res.Created["kid"].ID {
		t.Errorf("children = %v", ctx.Children)
	}
	if len(ctx.Dependencies) != 1 || ctx.Dependencies[0].ID != res.Created["dep"].ID {
		t.Errorf("dependencies = %v", ctx.Dependencies)
	}
	if len(ctx.Dependents) != 1 || ctx.Dependents[0].ID != res.Created["waiter"].ID {
		t.Errorf("dependents = %v", ctx.Dependents)
	}
	if len(ctx.Events) == 0 {
		t.Error("no events returned")
	}

	_, err = env.Eng.Context(env.Ctx, "n-missing")
	env.AssertCode(err, CodeNotFound)
}

func TestTree(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	a := env.PlanOne(root.ID, "a")
	env.PlanOne(a.ID, "a1")
	env.PlanOne(root.ID, "b")

	tree, err := env.Eng.Tree(env.Ctx, "demo")
	if err != nil {
		t.Fatalf("Tree failed: %v", err)
	}
	if tree.Node.ID != root.ID || len(tree.Children) != 2 {
		t.Errorf("tree root = %s with %d children", tree.Node.ID, len(tree.Children))
	}
	var deep int
	for _, child := range tree.Children {
		deep += len(child.Children)
	}
	if deep != 1 {
		t.Errorf("grandchildren = %d, want 1", deep)
	}

	_, err = env.Eng.Tree(env.Ctx, "ghost")
	env.AssertCode(err, CodeProjectNotFound)
}

func TestOnboard(t *testing.T) {
	env := newTestEnv(t, WithClaimTTL(time.Hour))
	root := env.OpenProject("demo")
	env.PlanOne(root.ID, "work")

	if _, err := env.Eng.Next(env.Ctx, testAgent, NextRequest{Project: "demo", Claim: true}); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if _, err := env.Eng.KnowledgeWrite(env.Ctx, testAgent, KnowledgeWriteRequest{
		Project: "demo", Key: "notes", Content: "remember this",
	}); err != nil {
		t.Fatalf("KnowledgeWrite failed: %v", err)
	}

	res, err := env.Eng.Onboard(env.Ctx, testAgent)
	if err != nil {
		t.Fatalf("Onboard failed: %v", err)
	}
	if len(res.Projects) != 1 {
		t.Errorf("projects = %v", res.Projects)
	}
	if len(res.YourClaims) != 1 {
		t.Errorf("your_claims = %v", res.YourClaims)
	}
	if len(res.RecentKnowledge["demo"]) != 1 {
		t.Errorf("recent_knowledge = %v", res.RecentKnowledge)
	}

	// Another agent sees the projects but no claims.
	other, err := env.Eng.Onboard(env.Ctx, "agent-other")
	if err != nil {
		t.Fatalf("Onboard failed: %v", err)
	}
	if len(other.YourClaims) != 0 {
		t.Errorf("foreign claims leaked: %v", other.YourClaims)
	}
}

func TestResolveShorthand(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	n := env.PlanOne(root.ID, "task")

	res, err := env.Eng.Resolve(env.Ctx, testAgent, n.ID, "merged", types.EvidenceGit)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got := res.Updated[0]
	if !got.Resolved || got.Evidence[0].Type != types.EvidenceGit || got.Evidence[0].Ref != "merged" {
		t.Errorf("got %+v", got)
	}

	_, err = env.Eng.Resolve(env.Ctx, testAgent, "", "msg", "")
	env.AssertCode(err, CodeValidation)
	_, err = env.Eng.Resolve(env.Ctx, testAgent, n.ID, "", "")
	env.AssertCode(err, CodeValidation)
}

func TestQueryViaEngine(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	n := env.PlanOne(root.ID, "findable task")
	env.Resolve(n.ID)

	res, err := env.Eng.Query(env.Ctx, QueryRequest{Project: "demo", Text: "findable"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].ID != n.ID {
		t.Errorf("nodes = %v", res.Nodes)
	}

	_, err = env.Eng.Query(env.Ctx, QueryRequest{})
	env.AssertCode(err, CodeValidation)
	_, err = env.Eng.Query(env.Ctx, QueryRequest{Project: "ghost"})
	env.AssertCode(err, CodeProjectNotFound)
	_, err = env.Eng.Query(env.Ctx, QueryRequest{Project: "demo", Ancestor: "n-missing"})
	env.AssertCode(err, CodeNotFound)
	_, err = env.Eng.Query(env.Ctx, QueryRequest{Project: "demo", Sort: "bogus"})
	env.AssertCode(err, CodeValidation)
}
