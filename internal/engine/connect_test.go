package engine

import (
	"testing"

	"github.com/untoldecay/taskgraph/internal/types"
)

func TestConnectPerEdgeOutcomes(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	a := env.PlanOne(root.ID, "a")
	b := env.PlanOne(root.ID, "b")
	c := env.PlanOne(root.ID, "c")

	res, err := env.Eng.Connect(env.Ctx, testAgent, []EdgeOp{
		{Op: "add", From: a.ID, To: b.ID},
		{Op: "add", From: b.ID, To: "n-missing"},
		{Op: "add", From: b.ID, To: c.ID},
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(res.Outcomes))
	}
	if !res.Outcomes[0].Applied || !res.Outcomes[2].Applied {
		t.Errorf("valid edges rejected: %+v", res.Outcomes)
	}
	if res.Outcomes[1].Applied || res.Outcomes[1].Code != CodeNotFound {
		t.Errorf("outcome[1] = %+v, want not_found rejection", res.Outcomes[1])
	}

	// The accepted edges committed despite the rejection in the middle.
	edges, err := env.Store.EdgesFrom(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("EdgesFrom failed: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("a has %d edges, want 1", len(edges))
	}
}

func TestConnectRejectsCycle(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	a := env.PlanOne(root.ID, "a")
	b := env.PlanOne(root.ID, "b")
	c := env.PlanOne(root.ID, "c")
	env.Connect(a.ID, b.ID)
	env.Connect(b.ID, c.ID)

	res, err := env.Eng.Connect(env.Ctx, testAgent, []EdgeOp{
		{Op: "add", From: c.ID, To: a.ID},
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if res.Outcomes[0].Applied || res.Outcomes[0].Code != CodeCycleDetected {
		t.Errorf("outcome = %+v, want cycle_detected", res.Outcomes[0])
	}

	// relates_to edges are exempt from the cycle check.
	res, err = env.Eng.Connect(env.Ctx, testAgent, []EdgeOp{
		{Op: "add", From: c.ID, To: a.ID, Type: types.EdgeRelatesTo},
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !res.Outcomes[0].Applied {
		t.Errorf("relates_to back-edge rejected: %+v", res.Outcomes[0])
	}
}

func TestConnectRejections(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	a := env.PlanOne(root.ID, "a")
	b := env.PlanOne(root.ID, "b")
	env.Connect(a.ID, b.ID)

	otherRoot := env.OpenProject("other")
	foreign := env.PlanOne(otherRoot.ID, "foreign")

	cases := []struct {
		name string
		op   EdgeOp
		code string
	}{
		{"duplicate", EdgeOp{Op: "add", From: a.ID, To: b.ID}, CodeDuplicateEdge},
		{"cross project", EdgeOp{Op: "add", From: a.ID, To: foreign.ID}, CodeCrossProjectEdge},
		{"parent type", EdgeOp{Op: "add", From: a.ID, To: b.ID, Type: types.EdgeParent}, CodeValidation},
		{"self cycle", EdgeOp{Op: "add", From: a.ID, To: a.ID}, CodeCycleDetected},
		{"unknown op", EdgeOp{Op: "upsert", From: a.ID, To: b.ID}, CodeValidation},
		{"remove absent", EdgeOp{Op: "remove", From: b.ID, To: a.ID}, CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := env.Eng.Connect(env.Ctx, testAgent, []EdgeOp{tc.op})
			if err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			if res.Outcomes[0].Applied || res.Outcomes[0].Code != tc.code {
				t.Errorf("outcome = %+v, want %s", res.Outcomes[0], tc.code)
			}
		})
	}
}

func TestConnectRemoveUnblocks(t *testing.T) {
	env := newTestEnv(t)
	root := env.OpenProject("demo")
	a := env.PlanOne(root.ID, "a")
	gate := env.PlanOne(root.ID, "gate")
	env.Connect(a.ID, gate.ID)

	res, err := env.Eng.Connect(env.Ctx, testAgent, []EdgeOp{
		{Op: "remove", From: a.ID, To: gate.ID},
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if len(res.NewlyActionable) != 1 || res.NewlyActionable[0] != a.ID {
		t.Errorf("newly actionable = %v, want [%s]", res.NewlyActionable, a.ID)
	}
}
