// Package hooks holds the accept/retry callbacks an evolutionary run consults
// before committing each step.
package hooks

import (
	"context"

	"grevo/internal/operator"
	"grevo/internal/program"
)

// Verdict is a callback's decision on an event: accept a (possibly modified)
// value, or revert so the step is discarded and retried.
type Verdict[T any] struct {
	value    T
	reverted bool
}

func Accept[T any](value T) Verdict[T] { return Verdict[T]{value: value} }
func Revert[T any]() Verdict[T]        { return Verdict[T]{reverted: true} }

func (v Verdict[T]) Value() T       { return v.value }
func (v Verdict[T]) Reverted() bool { return v.reverted }

type Hook[T any] func(ctx context.Context, event T) Verdict[T]

// Chain runs hooks in registration order, feeding each accepted value to the
// next. The first revert stops the chain.
type Chain[T any] struct {
	hooks []Hook[T]
}

func (c *Chain[T]) Add(hook Hook[T]) {
	c.hooks = append(c.hooks, hook)
}

func (c *Chain[T]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.hooks)
}

// Fire returns the final value and false when some hook reverted.
func (c *Chain[T]) Fire(ctx context.Context, event T) (T, bool) {
	if c == nil {
		return event, true
	}
	for _, hook := range c.hooks {
		verdict := hook(ctx, event)
		if verdict.reverted {
			var zero T
			return zero, false
		}
		event = verdict.value
	}
	return event, true
}

// Modifier may change an event but cannot reject it.
type Modifier[T any] func(ctx context.Context, event T) T

type ModifierChain[T any] struct {
	modifiers []Modifier[T]
}

func (c *ModifierChain[T]) Add(modifier Modifier[T]) {
	c.modifiers = append(c.modifiers, modifier)
}

func (c *ModifierChain[T]) Fire(ctx context.Context, event T) T {
	if c == nil {
		return event
	}
	for _, modifier := range c.modifiers {
		event = modifier(ctx, event)
	}
	return event
}

type InitialisationEvent struct {
	Population program.Population
}

type ElitismEvent struct {
	Generation int
	Elites     program.Population
}

type PoolEvent struct {
	Generation int
	Pool       program.Population
}

type CrossoverEvent struct {
	Generation int
	Parents    [2]*program.Candidate
	Children   [2]*program.Candidate
	Points     operator.CrossoverPoints
}

type MutationEvent struct {
	Generation int
	Parent     *program.Candidate
	Child      *program.Candidate
	Point      operator.MutationPoint
}

type ReproductionEvent struct {
	Generation int
	Parent     *program.Candidate
	Child      *program.Candidate
}

type GenerationEvent struct {
	Generation int
	Population program.Population
}

// Hooks groups the callback chains of one run. The zero value accepts
// everything.
type Hooks struct {
	Initialisation Chain[InitialisationEvent]
	Elitism        ModifierChain[ElitismEvent]
	Pool           Chain[PoolEvent]
	Crossover      Chain[CrossoverEvent]
	Mutation       Chain[MutationEvent]
	Reproduction   Chain[ReproductionEvent]
	Generation     Chain[GenerationEvent]
}
