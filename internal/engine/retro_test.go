package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/taskgraph/internal/types"
)

func TestRetroReview(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	done := env.PlanOne(root.ID, "finished work")
	env.PlanOne(root.ID, "open work")
	env.Clock.Advance(time.Second)
	env.Resolve(done.ID)

	if _, err := env.Eng.KnowledgeWrite(env.Ctx, testAgent, KnowledgeWriteRequest{
		Project: "demo", Key: "context", Content: "background",
	}); err != nil {
		t.Fatalf("KnowledgeWrite failed: %v", err)
	}

	res, err := env.Eng.Retro(env.Ctx, testAgent, RetroRequest{Project: "demo"})
	if err != nil {
		t.Fatalf("Retro failed: %v", err)
	}
	if len(res.ResolvedSinceLast) != 1 || res.ResolvedSinceLast[0].ID != done.ID {
		t.Errorf("resolved_since_last = %v, want the finished node", res.ResolvedSinceLast)
	}
	if len(res.Knowledge) != 1 {
		t.Errorf("knowledge = %d entries, want 1", len(res.Knowledge))
	}
	if res.Entry != nil {
		t.Error("review created an entry")
	}
}

func TestRetroRecord(t *testing.T) {
	env := newTestEnv(t)
	env.OpenProject("demo")

	res, err := env.Eng.Retro(env.Ctx, testAgent, RetroRequest{
		Project: "demo",
		Findings: []RetroFinding{
			{Category: FindingClaudeMD, Content: "always run the linter before committing"},
			{Category: FindingGap, Content: "no notes on the auth flow"},
		},
	})
	if err != nil {
		t.Fatalf("Retro failed: %v", err)
	}
	if res.Entry == nil {
		t.Fatal("no entry recorded")
	}
	if !strings.HasPrefix(res.Entry.Key, retroKeyPrefix) {
		t.Errorf("key = %q, want the retro prefix", res.Entry.Key)
	}
	if res.Entry.Category != types.CategoryDiscovery {
		t.Errorf("category = %q", res.Entry.Category)
	}
	if !strings.Contains(res.Entry.Content, "[claude_md_candidate]") ||
		!strings.Contains(res.Entry.Content, "[knowledge_gap]") {
		t.Errorf("content = %q", res.Entry.Content)
	}
	if len(res.ClaudeMDCandidates) != 1 ||
		res.ClaudeMDCandidates[0] != "always run the linter before committing" {
		t.Errorf("claude_md_candidates = %v", res.ClaudeMDCandidates)
	}

	// The entry is a normal knowledge document.
	if _, err := env.Eng.KnowledgeRead(env.Ctx, "demo", res.Entry.Key); err != nil {
		t.Errorf("recorded retro not readable: %v", err)
	}
}

func TestRetroReviewWindow(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")

	early := env.PlanOne(root.ID, "early work")
	env.Clock.Advance(time.Second)
	env.Resolve(early.ID)

	env.Clock.Advance(time.Minute)
	if _, err := env.Eng.Retro(env.Ctx, testAgent, RetroRequest{
		Project:  "demo",
		Findings: []RetroFinding{{Category: FindingWorkflow, Content: "smaller steps"}},
	}); err != nil {
		t.Fatalf("Retro failed: %v", err)
	}

	env.Clock.Advance(time.Minute)
	late := env.PlanOne(root.ID, "late work")
	env.Clock.Advance(time.Second)
	env.Resolve(late.ID)

	// Only work after the last retro shows up in the next review.
	res, err := env.Eng.Retro(env.Ctx, testAgent, RetroRequest{Project: "demo"})
	if err != nil {
		t.Fatalf("Retro failed: %v", err)
	}
	if len(res.ResolvedSinceLast) != 1 || res.ResolvedSinceLast[0].ID != late.ID {
		t.Errorf("resolved_since_last = %v, want just the late node", ids(res.ResolvedSinceLast))
	}
}

func TestRetroValidation(t *testing.T) {
	env := newTestEnv(t)
	env.OpenProject("demo")

	_, err := env.Eng.Retro(env.Ctx, testAgent, RetroRequest{})
	env.AssertCode(err, CodeValidation)

	_, err = env.Eng.Retro(env.Ctx, testAgent, RetroRequest{Project: "ghost"})
	env.AssertCode(err, CodeProjectNotFound)

	_, err = env.Eng.Retro(env.Ctx, testAgent, RetroRequest{Project: "demo", Scope: "n-missing"})
	env.AssertCode(err, CodeNotFound)

	_, err = env.Eng.Retro(env.Ctx, testAgent, RetroRequest{
		Project:  "demo",
		Findings: []RetroFinding{{Category: "vibes", Content: "x"}},
	})
	env.AssertCode(err, CodeInvalidCategory)

	_, err = env.Eng.Retro(env.Ctx, testAgent, RetroRequest{
		Project:  "demo",
		Findings: []RetroFinding{{Category: FindingGap}},
	})
	env.AssertCode(err, CodeValidation)
}

func ids(nodes []*types.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
