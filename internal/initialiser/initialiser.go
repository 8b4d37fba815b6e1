package initialiser

import (
	"errors"
	"fmt"
	"math"

	"grevo/internal/derivation"
	"grevo/internal/grammar"
	"grevo/internal/random"
)

var (
	ErrDepthExhausted      = errors.New("no production fits the remaining depth")
	ErrDuplicatesExhausted = errors.New("could not generate enough distinct programs")
	ErrConfig              = errors.New("invalid initialiser configuration")
)

// DefaultMaxAttempts bounds how often one population slot is regenerated
// while duplicates are rejected.
const DefaultMaxAttempts = 1000

// Initialiser produces the trees of generation zero.
type Initialiser interface {
	Name() string
	Initialise(size int) ([]*derivation.Tree, error)
}

// GrowTree derives a tree from rule choosing uniformly among the productions
// that fit within budget.
func GrowTree(rng random.Source, rule *grammar.Rule, budget int) (*derivation.Node, error) {
	return build(rng, rule, budget, false)
}

// FullTree derives a tree from rule preferring recursive productions, so
// every branch that can reach budget does.
func FullTree(rng random.Source, rule *grammar.Rule, budget int) (*derivation.Node, error) {
	return build(rng, rule, budget, true)
}

func build(rng random.Source, rule *grammar.Rule, budget int, full bool) (*derivation.Node, error) {
	if rule.MinDepth() > budget {
		return nil, fmt.Errorf("%w: <%s> needs depth %d, budget %d", ErrDepthExhausted, rule.Name(), rule.MinDepth(), budget)
	}

	productions := rule.Productions()
	production := productions[0]
	if len(productions) > 1 {
		valid := make([]*grammar.Production, 0, len(productions))
		recursive := make([]*grammar.Production, 0, len(productions))
		for _, candidate := range productions {
			if !candidate.ValidWithin(budget) {
				continue
			}
			valid = append(valid, candidate)
			if candidate.Recursive() {
				recursive = append(recursive, candidate)
			}
		}
		choices := valid
		if full && len(recursive) > 0 {
			choices = recursive
		}
		production = choices[rng.Intn(len(choices))]
	}

	children := make([]*derivation.Node, 0, len(production.Symbols()))
	for _, symbol := range production.Symbols() {
		if symbol.Terminal() {
			children = append(children, derivation.NewTerminal(symbol.Literal()))
			continue
		}
		child, err := build(rng, symbol.Rule(), budget-1, full)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return derivation.NewNonTerminal(production, children), nil
}

type Grow struct {
	Grammar          *grammar.Grammar
	RNG              random.Source
	MaxDepth         int
	AcceptDuplicates bool
	MaxAttempts      int
}

func (g *Grow) Name() string { return "grow" }

func (g *Grow) Initialise(size int) ([]*derivation.Tree, error) {
	if err := checkCommon(g.Grammar, g.RNG, size); err != nil {
		return nil, err
	}
	return fill(size, g.AcceptDuplicates, g.MaxAttempts, func(int) (*derivation.Tree, error) {
		root, err := GrowTree(g.RNG, g.Grammar.StartRule(), g.MaxDepth)
		if err != nil {
			return nil, err
		}
		return derivation.New(root), nil
	})
}

type Full struct {
	Grammar          *grammar.Grammar
	RNG              random.Source
	Depth            int
	AcceptDuplicates bool
	MaxAttempts      int
}

func (f *Full) Name() string { return "full" }

func (f *Full) Initialise(size int) ([]*derivation.Tree, error) {
	if err := checkCommon(f.Grammar, f.RNG, size); err != nil {
		return nil, err
	}
	return fill(size, f.AcceptDuplicates, f.MaxAttempts, func(int) (*derivation.Tree, error) {
		root, err := FullTree(f.RNG, f.Grammar.StartRule(), f.Depth)
		if err != nil {
			return nil, err
		}
		return derivation.New(root), nil
	})
}

// RampedHalfAndHalf spreads the population evenly over the depths
// StartDepth..EndDepth, alternating Grow (even slots) and Full (odd slots).
// StartDepth is raised to the grammar's minimum depth when lower.
type RampedHalfAndHalf struct {
	Grammar          *grammar.Grammar
	RNG              random.Source
	StartDepth       int
	EndDepth         int
	AcceptDuplicates bool
	MaxAttempts      int
}

func (r *RampedHalfAndHalf) Name() string { return "ramped_half_and_half" }

func (r *RampedHalfAndHalf) Initialise(size int) ([]*derivation.Tree, error) {
	if err := checkCommon(r.Grammar, r.RNG, size); err != nil {
		return nil, err
	}
	start := max(r.StartDepth, r.Grammar.MinimumDepth())
	if r.EndDepth < start {
		return nil, fmt.Errorf("%w: end depth %d below start depth %d", ErrConfig, r.EndDepth, start)
	}
	perDepth := float64(size) / float64(r.EndDepth-start+1)

	return fill(size, r.AcceptDuplicates, r.MaxAttempts, func(i int) (*derivation.Tree, error) {
		depth := min(int(math.Floor(float64(i)/perDepth))+start, r.EndDepth)
		var (
			root *derivation.Node
			err  error
		)
		if i%2 == 0 {
			root, err = GrowTree(r.RNG, r.Grammar.StartRule(), depth)
		} else {
			root, err = FullTree(r.RNG, r.Grammar.StartRule(), depth)
		}
		if err != nil {
			return nil, err
		}
		return derivation.New(root), nil
	})
}

func checkCommon(g *grammar.Grammar, rng random.Source, size int) error {
	switch {
	case g == nil:
		return fmt.Errorf("%w: grammar is required", ErrConfig)
	case rng == nil:
		return fmt.Errorf("%w: random source is required", ErrConfig)
	case size < 1:
		return fmt.Errorf("%w: population size must be > 0", ErrConfig)
	}
	return nil
}

// fill generates size trees, regenerating a slot whose rendering was already
// produced unless duplicates are accepted.
func fill(size int, acceptDuplicates bool, maxAttempts int, next func(slot int) (*derivation.Tree, error)) ([]*derivation.Tree, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	trees := make([]*derivation.Tree, 0, size)
	seen := make(map[string]struct{}, size)
	for slot := 0; slot < size; slot++ {
		accepted := false
		for attempt := 0; attempt < maxAttempts; attempt++ {
			tree, err := next(slot)
			if err != nil {
				return nil, err
			}
			if !acceptDuplicates {
				source := tree.Render()
				if _, dup := seen[source]; dup {
					continue
				}
				seen[source] = struct{}{}
			}
			trees = append(trees, tree)
			accepted = true
			break
		}
		if !accepted {
			return nil, fmt.Errorf("%w: slot %d after %d attempts", ErrDuplicatesExhausted, slot, maxAttempts)
		}
	}
	return trees, nil
}
