package program

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"grevo/internal/derivation"
)

// Unlimited disables a depth or generation bound.
const Unlimited = -1

// Evaluator scores rendered programs. Lower is better; a program that fails
// to run should score +Inf rather than return an error, which aborts the run.
// Evaluators used with more than one worker must be safe for concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, source string) (float64, error)
}

type EvaluatorFunc func(ctx context.Context, source string) (float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, source string) (float64, error) {
	return f(ctx, source)
}

// Candidate is one individual: a derivation tree with lazily evaluated,
// optionally cached fitness. A cached value is reused only while the tree
// still renders to the source it was computed for.
type Candidate struct {
	id        string
	tree      *derivation.Tree
	evaluator Evaluator
	cache     bool

	evaluated bool
	fitness   float64
	scored    string
}

func NewCandidate(tree *derivation.Tree, evaluator Evaluator, cache bool) *Candidate {
	return &Candidate{tree: tree, evaluator: evaluator, cache: cache}
}

func (c *Candidate) ID() string             { return c.id }
func (c *Candidate) SetID(id string)        { c.id = id }
func (c *Candidate) Tree() *derivation.Tree { return c.tree }
func (c *Candidate) Source() string         { return c.tree.Render() }
func (c *Candidate) Depth() int             { return c.tree.Depth() }

// Valid reports whether the tree respects maxDepth.
func (c *Candidate) Valid(maxDepth int) bool {
	return maxDepth == Unlimited || c.tree.Depth() <= maxDepth
}

// Fitness evaluates the rendered source, or returns the cached value when
// caching is on and the source is unchanged. NaN scores as +Inf so that
// every fitness is ordered.
func (c *Candidate) Fitness(ctx context.Context) (float64, error) {
	source := c.tree.Render()
	if c.cache && c.evaluated && c.scored == source {
		return c.fitness, nil
	}
	fitness, err := c.evaluator.Evaluate(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", source, err)
	}
	if math.IsNaN(fitness) {
		fitness = math.Inf(1)
	}
	c.evaluated = true
	c.fitness = fitness
	c.scored = source
	return fitness, nil
}

// LastFitness returns the most recently computed fitness without evaluating.
func (c *Candidate) LastFitness() (float64, bool) {
	return c.fitness, c.evaluated
}

// Clone deep-copies the tree and keeps the cached fitness. The clone has no id.
func (c *Candidate) Clone() *Candidate {
	return &Candidate{
		tree:      c.tree.Clone(),
		evaluator: c.evaluator,
		cache:     c.cache,
		evaluated: c.evaluated,
		fitness:   c.fitness,
		scored:    c.scored,
	}
}

type Population []*Candidate

func (p Population) Sources() []string {
	out := make([]string, len(p))
	for i, c := range p {
		out[i] = c.Source()
	}
	return out
}

func (p Population) Contains(source string) bool {
	for _, c := range p {
		if c.Source() == source {
			return true
		}
	}
	return false
}

func (p Population) Clone() Population {
	out := make(Population, len(p))
	for i, c := range p {
		out[i] = c.Clone()
	}
	return out
}

// EvaluateAll returns the fitness of every member in order. Distinct
// candidates are evaluated on up to workers goroutines; a candidate listed
// more than once is evaluated once. workers <= 0 uses GOMAXPROCS.
func EvaluateAll(ctx context.Context, pop Population, workers int) ([]float64, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	first := make(map[*Candidate]int, len(pop))
	unique := make([]int, 0, len(pop))
	for i, c := range pop {
		if _, ok := first[c]; ok {
			continue
		}
		first[c] = i
		unique = append(unique, i)
	}

	fitness := make([]float64, len(pop))
	if workers == 1 {
		for _, i := range unique {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			f, err := pop[i].Fitness(ctx)
			if err != nil {
				return nil, err
			}
			fitness[i] = f
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, i := range unique {
			g.Go(func() error {
				f, err := pop[i].Fitness(gctx)
				if err != nil {
					return err
				}
				fitness[i] = f
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	for i, c := range pop {
		fitness[i] = fitness[first[c]]
	}
	return fitness, nil
}
