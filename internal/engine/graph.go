// Package engine runs small state-machine graphs: named steps that produce
// state patches, merged in order, with successors chosen from the post-merge
// state. Every graph used in this codebase terminates by construction
// (retry edges are bounded by a counter in the state), but the executor
// still enforces a step ceiling against miswired graphs.
package engine

import (
	"context"
	"fmt"
	"strings"
)

// End is the terminal sentinel. A successor resolving to End finishes the run.
const End = "__end__"

// Patch is a partial state update. Apply returns a new state value with the
// patch's fields set and everything else carried over; implementations must
// not mutate the input.
type Patch[S any] interface {
	Apply(S) S
}

// StepFunc computes a patch from the current state. Expected business
// outcomes (empty results, degraded answers) are represented inside the
// patch; an error return is reserved for unrecoverable failures and aborts
// the run.
type StepFunc[S any] func(ctx context.Context, state S) (Patch[S], error)

// SuccessorFunc picks the next node from the post-merge state.
type SuccessorFunc[S any] func(state S) string

// Transition is one executed step: the node that ran, the patch it produced,
// and the state after merging it.
type Transition[S any] struct {
	Node  string
	Patch Patch[S]
	State S
}

// ObserverFunc receives every transition in execution order.
type ObserverFunc[S any] func(t Transition[S])

type node[S any] struct {
	run  StepFunc[S]
	next SuccessorFunc[S]
}

// Graph is an immutable-after-build graph definition. Build one with
// NewGraph and the Add* methods, then call Run any number of times; a Graph
// is safe for concurrent runs since all mutable data lives in the state.
type Graph[S any] struct {
	start    string
	nodes    map[string]node[S]
	maxSteps int
}

// DefaultMaxSteps bounds a single run. The workflows here take at most a
// handful of steps; anything near this ceiling is a wiring bug.
const DefaultMaxSteps = 64

func NewGraph[S any](start string) *Graph[S] {
	return &Graph[S]{
		start:    strings.TrimSpace(start),
		nodes:    map[string]node[S]{},
		maxSteps: DefaultMaxSteps,
	}
}

// AddNode registers a step with an unconditional successor (a node name or
// End).
func (g *Graph[S]) AddNode(name string, run StepFunc[S], next string) *Graph[S] {
	return g.AddConditional(name, run, func(S) string { return next })
}

// AddConditional registers a step whose successor is chosen from the
// post-merge state.
func (g *Graph[S]) AddConditional(name string, run StepFunc[S], next SuccessorFunc[S]) *Graph[S] {
	g.nodes[strings.TrimSpace(name)] = node[S]{run: run, next: next}
	return g
}

// WithMaxSteps overrides the step ceiling. Values <= 0 keep the default.
func (g *Graph[S]) WithMaxSteps(n int) *Graph[S] {
	if n > 0 {
		g.maxSteps = n
	}
	return g
}

// Validate checks the graph is runnable: a registered start node and a run
// func on every node. Conditional successors are checked at runtime since
// their targets depend on state.
func (g *Graph[S]) Validate() error {
	if g.start == "" {
		return fmt.Errorf("graph: missing start node")
	}
	if _, ok := g.nodes[g.start]; !ok {
		return fmt.Errorf("graph: start node %q not registered", g.start)
	}
	for name, n := range g.nodes {
		if name == "" {
			return fmt.Errorf("graph: node with empty name")
		}
		if n.run == nil {
			return fmt.Errorf("graph: node %q has no step func", name)
		}
		if n.next == nil {
			return fmt.Errorf("graph: node %q has no successor rule", name)
		}
	}
	return nil
}

// Run executes the graph to completion and returns the final state.
func (g *Graph[S]) Run(ctx context.Context, initial S) (S, error) {
	return g.RunObserved(ctx, initial, nil)
}

// RunObserved executes the graph, invoking observe after each step's patch
// is merged. Observation order matches execution order; observe runs on the
// executor's goroutine, so a slow observer slows the run.
func (g *Graph[S]) RunObserved(ctx context.Context, initial S, observe ObserverFunc[S]) (S, error) {
	state := initial
	if err := g.Validate(); err != nil {
		return state, err
	}

	current := g.start
	for steps := 0; ; steps++ {
		if steps >= g.maxSteps {
			return state, fmt.Errorf("graph: exceeded %d steps without reaching %s (at node %q)", g.maxSteps, End, current)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		n, ok := g.nodes[current]
		if !ok {
			return state, fmt.Errorf("graph: successor resolved to unknown node %q", current)
		}

		patch, err := n.run(ctx, state)
		if err != nil {
			return state, fmt.Errorf("graph: node %q: %w", current, err)
		}
		if patch != nil {
			state = patch.Apply(state)
		}
		if observe != nil {
			observe(Transition[S]{Node: current, Patch: patch, State: state})
		}

		next := strings.TrimSpace(n.next(state))
		if next == End {
			return state, nil
		}
		if next == "" {
			return state, fmt.Errorf("graph: node %q resolved to empty successor", current)
		}
		current = next
	}
}
