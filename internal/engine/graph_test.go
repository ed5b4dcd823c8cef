package engine

import (
	"context"
	"errors"
	"testing"
)

type counterState struct {
	Visits []string
	Count  int
	Done   bool
}

type visitPatch struct {
	node string
}

func (p visitPatch) Apply(s counterState) counterState {
	s.Visits = append(append([]string{}, s.Visits...), p.node)
	return s
}

type countPatch struct {
	delta int
	done  bool
}

func (p countPatch) Apply(s counterState) counterState {
	s.Count += p.delta
	s.Done = p.done
	return s
}

func visitStep(name string) StepFunc[counterState] {
	return func(_ context.Context, _ counterState) (Patch[counterState], error) {
		return visitPatch{node: name}, nil
	}
}

func TestRunLinear(t *testing.T) {
	g := NewGraph[counterState]("a").
		AddNode("a", visitStep("a"), "b").
		AddNode("b", visitStep("b"), "c").
		AddNode("c", visitStep("c"), End)

	final, err := g.Run(context.Background(), counterState{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(final.Visits) != len(want) {
		t.Fatalf("visits = %v, want %v", final.Visits, want)
	}
	for i := range want {
		if final.Visits[i] != want[i] {
			t.Fatalf("visits = %v, want %v", final.Visits, want)
		}
	}
}

func TestConditionalSeesPostMergeState(t *testing.T) {
	// The branch node writes Done=true; its successor rule must see it.
	g := NewGraph[counterState]("branch").
		AddConditional("branch",
			func(_ context.Context, _ counterState) (Patch[counterState], error) {
				return countPatch{done: true}, nil
			},
			func(s counterState) string {
				if s.Done {
					return "finish"
				}
				return "never"
			}).
		AddNode("finish", visitStep("finish"), End).
		AddNode("never", visitStep("never"), End)

	final, err := g.Run(context.Background(), counterState{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(final.Visits) != 1 || final.Visits[0] != "finish" {
		t.Fatalf("visits = %v, want [finish]", final.Visits)
	}
}

func TestBoundedRetryLoop(t *testing.T) {
	// work loops back on itself until the counter hits 3, mirroring the
	// state-driven retry edges the workflows use.
	g := NewGraph[counterState]("work").
		AddConditional("work",
			func(_ context.Context, _ counterState) (Patch[counterState], error) {
				return countPatch{delta: 1}, nil
			},
			func(s counterState) string {
				if s.Count >= 3 {
					return End
				}
				return "work"
			})

	final, err := g.Run(context.Background(), counterState{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.Count != 3 {
		t.Fatalf("count = %d, want 3", final.Count)
	}
}

func TestRunObservedOrderAndPatches(t *testing.T) {
	g := NewGraph[counterState]("a").
		AddNode("a", visitStep("a"), "b").
		AddNode("b", visitStep("b"), End)

	var seen []Transition[counterState]
	_, err := g.RunObserved(context.Background(), counterState{}, func(tr Transition[counterState]) {
		seen = append(seen, tr)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("transitions = %d, want 2", len(seen))
	}
	if seen[0].Node != "a" || seen[1].Node != "b" {
		t.Fatalf("transition order = [%s %s], want [a b]", seen[0].Node, seen[1].Node)
	}
	if p, ok := seen[0].Patch.(visitPatch); !ok || p.node != "a" {
		t.Fatalf("first patch = %#v, want visitPatch{a}", seen[0].Patch)
	}
	if len(seen[1].State.Visits) != 2 {
		t.Fatalf("observed state after b = %v, want both visits merged", seen[1].State.Visits)
	}
}

func TestStepErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	g := NewGraph[counterState]("a").
		AddNode("a",
			func(_ context.Context, _ counterState) (Patch[counterState], error) {
				return nil, boom
			}, End)

	_, err := g.Run(context.Background(), counterState{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestUnknownSuccessor(t *testing.T) {
	g := NewGraph[counterState]("a").
		AddNode("a", visitStep("a"), "missing")

	if _, err := g.Run(context.Background(), counterState{}); err == nil {
		t.Fatal("expected unknown-node error")
	}
}

func TestStepCeiling(t *testing.T) {
	g := NewGraph[counterState]("loop").
		AddNode("loop", visitStep("loop"), "loop").
		WithMaxSteps(10)

	_, err := g.Run(context.Background(), counterState{})
	if err == nil {
		t.Fatal("expected step ceiling error")
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := NewGraph[counterState]("a").
		AddNode("a",
			func(_ context.Context, _ counterState) (Patch[counterState], error) {
				cancel()
				return visitPatch{node: "a"}, nil
			}, "b").
		AddNode("b", visitStep("b"), End)

	_, err := g.Run(ctx, counterState{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		graph *Graph[counterState]
	}{
		{"missing start", NewGraph[counterState]("")},
		{"unregistered start", NewGraph[counterState]("a")},
		{"nil step", NewGraph[counterState]("a").AddNode("a", nil, End)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.graph.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
