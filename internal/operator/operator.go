package operator

import (
	"errors"
	"fmt"

	"grevo/internal/derivation"
	"grevo/internal/initialiser"
	"grevo/internal/random"
)

// ErrNoMatchingPoint reports that the second parent has no non-terminal of
// the rule picked in the first. Callers retry with fresh parents.
var ErrNoMatchingPoint = errors.New("no crossover point with matching rule")

// CrossoverPoints records where two trees were cut, as pre-order indices over
// each tree's non-terminals.
type CrossoverPoints struct {
	First  int    `json:"first"`
	Second int    `json:"second"`
	Rule   string `json:"rule"`
}

// MutationPoint records the regrown non-terminal.
type MutationPoint struct {
	Index    int    `json:"index"`
	Rule     string `json:"rule"`
	OldDepth int    `json:"old_depth"`
	NewDepth int    `json:"new_depth"`
}

// Crossover modifies both trees in place.
type Crossover interface {
	Name() string
	Crossover(first, second *derivation.Tree) (CrossoverPoints, error)
}

// Mutator modifies the tree in place.
type Mutator interface {
	Name() string
	Mutate(tree *derivation.Tree) (MutationPoint, error)
}

// WhighamCrossover exchanges two subtrees rooted at the same rule.
type WhighamCrossover struct {
	RNG random.Source
}

func (c *WhighamCrossover) Name() string { return "whigham_crossover" }

func (c *WhighamCrossover) Crossover(first, second *derivation.Tree) (CrossoverPoints, error) {
	firstNodes := first.NonTerminals()
	firstIndex := c.RNG.Intn(len(firstNodes))
	point := firstNodes[firstIndex]

	var matches []int
	for i, node := range second.NonTerminals() {
		if node.Rule() == point.Rule() {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return CrossoverPoints{}, fmt.Errorf("%w: <%s>", ErrNoMatchingPoint, point.Rule().Name())
	}
	secondIndex := matches[c.RNG.Intn(len(matches))]

	if err := derivation.SwapSubtrees(point, second.NonTerminals()[secondIndex]); err != nil {
		return CrossoverPoints{}, err
	}
	first.Refresh()
	second.Refresh()
	return CrossoverPoints{First: firstIndex, Second: secondIndex, Rule: point.Rule().Name()}, nil
}

// WhighamMutation regrows a random non-terminal with Grow, bounded by the
// depth of the subtree it replaces.
type WhighamMutation struct {
	RNG random.Source
}

func (m *WhighamMutation) Name() string { return "whigham_mutation" }

func (m *WhighamMutation) Mutate(tree *derivation.Tree) (MutationPoint, error) {
	nodes := tree.NonTerminals()
	index := m.RNG.Intn(len(nodes))
	point := nodes[index]

	subtree, err := initialiser.GrowTree(m.RNG, point.Rule(), point.Depth())
	if err != nil {
		return MutationPoint{}, err
	}
	oldDepth := point.Depth()
	if err := tree.ReplaceAt(index, subtree); err != nil {
		return MutationPoint{}, err
	}
	return MutationPoint{Index: index, Rule: subtree.Rule().Name(), OldDepth: oldDepth, NewDepth: subtree.Depth()}, nil
}
