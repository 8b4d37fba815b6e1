package operator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grevo/internal/derivation"
	"grevo/internal/grammar"
	"grevo/internal/initialiser"
	"grevo/internal/random"
)

func binaryGrammar(t *testing.T) *grammar.Grammar {
	t.Helper()
	g, err := grammar.New("S", grammar.Define("S",
		grammar.Seq(grammar.T("0")),
		grammar.Seq(grammar.T("1"), grammar.NT("S")),
	))
	require.NoError(t, err)
	return g
}

func fullTree(t *testing.T, g *grammar.Grammar, depth int) *derivation.Tree {
	t.Helper()
	root, err := initialiser.FullTree(random.New(1), g.StartRule(), depth)
	require.NoError(t, err)
	return derivation.New(root)
}

func TestCrossoverConservesMaterial(t *testing.T) {
	g := binaryGrammar(t)
	op := &WhighamCrossover{RNG: random.New(4)}

	for i := 0; i < 50; i++ {
		first, second := fullTree(t, g, 2), fullTree(t, g, 3)
		points, err := op.Crossover(first, second)
		require.NoError(t, err)
		assert.Equal(t, "S", points.Rule)

		total := strings.Count(first.Render(), "1") + strings.Count(second.Render(), "1")
		assert.Equal(t, 5, total)
		assert.Equal(t, len(first.Render())-1, first.Depth())
		assert.Equal(t, len(second.Render())-1, second.Depth())
		require.NoError(t, first.Validate())
		require.NoError(t, second.Validate())
	}
}

func TestCrossoverWithoutMatchingRule(t *testing.T) {
	g, err := grammar.New("S",
		grammar.Define("S", grammar.Seq(grammar.NT("A")), grammar.Seq(grammar.NT("B"))),
		grammar.Define("A", grammar.Seq(grammar.T("a"))),
		grammar.Define("B", grammar.Seq(grammar.T("b"))),
	)
	require.NoError(t, err)
	s := g.StartRule()
	a, _ := g.Rule("A")
	b, _ := g.Rule("B")
	makeTree := func(production *grammar.Production, leaf *grammar.Rule, literal string) *derivation.Tree {
		child := derivation.NewNonTerminal(leaf.Productions()[0], []*derivation.Node{derivation.NewTerminal(literal)})
		return derivation.New(derivation.NewNonTerminal(production, []*derivation.Node{child}))
	}

	op := &WhighamCrossover{RNG: random.New(8)}
	var swapped, rejected int
	for i := 0; i < 100; i++ {
		first := makeTree(s.Productions()[0], a, "a")
		second := makeTree(s.Productions()[1], b, "b")
		_, err := op.Crossover(first, second)
		if errors.Is(err, ErrNoMatchingPoint) {
			rejected++
			assert.Equal(t, "a", first.Render())
			assert.Equal(t, "b", second.Render())
			continue
		}
		require.NoError(t, err)
		swapped++
		assert.Equal(t, "b", first.Render())
		assert.Equal(t, "a", second.Render())
	}
	assert.Positive(t, swapped)
	assert.Positive(t, rejected)
}

func TestMutationNeverDeepensSubtree(t *testing.T) {
	g := binaryGrammar(t)
	op := &WhighamMutation{RNG: random.New(6)}
	seen := map[string]bool{}

	for i := 0; i < 200; i++ {
		tree := fullTree(t, g, 3)
		point, err := op.Mutate(tree)
		require.NoError(t, err)
		assert.LessOrEqual(t, point.NewDepth, point.OldDepth)
		assert.LessOrEqual(t, tree.Depth(), 3)
		assert.Equal(t, 3-point.Index, point.OldDepth)
		require.NoError(t, tree.Validate())
		seen[tree.Render()] = true
	}
	assert.Equal(t, map[string]bool{"0": true, "10": true, "110": true, "1110": true}, seen)
}

func TestOperatorsAreDeterministic(t *testing.T) {
	g := binaryGrammar(t)
	run := func() []string {
		rng := random.New(21)
		cross := &WhighamCrossover{RNG: rng}
		mutate := &WhighamMutation{RNG: rng}
		var out []string
		for i := 0; i < 20; i++ {
			first, second := fullTree(t, g, 4), fullTree(t, g, 1)
			_, err := cross.Crossover(first, second)
			require.NoError(t, err)
			_, err = mutate.Mutate(first)
			require.NoError(t, err)
			out = append(out, first.Render(), second.Render())
		}
		return out
	}
	assert.Equal(t, run(), run())
}
