package selection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grevo/internal/random"
)

func TestTournamentFavoursLowestFitness(t *testing.T) {
	s, err := NewTournament(random.New(1), 100)
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{5, 1, 3}))
	for i := 0; i < 50; i++ {
		assert.Equal(t, 1, s.Select())
	}
}

func TestTournamentOfOneIsUniform(t *testing.T) {
	s, err := NewTournament(random.New(2), 1)
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{5, 1, 3}))
	counts := make([]int, 3)
	for i := 0; i < 3000; i++ {
		counts[s.Select()]++
	}
	for _, count := range counts {
		assert.InDelta(t, 1000, count, 150)
	}
}

func TestTournamentHandlesInfiniteFitness(t *testing.T) {
	s, err := NewTournament(random.New(3), 4)
	require.NoError(t, err)
	inf := math.Inf(1)
	require.NoError(t, s.SetPool([]float64{inf, inf}))
	idx := s.Select()
	assert.True(t, idx == 0 || idx == 1)
}

func TestFitnessProportionateTable(t *testing.T) {
	s, err := NewFitnessProportionate(random.New(4), false)
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{0, 1, 3}))

	cum := s.Probabilities()
	require.Len(t, cum, 3)
	assert.InDelta(t, 1/1.75, cum[0], 1e-12)
	assert.InDelta(t, 1.5/1.75, cum[1], 1e-12)
	assert.Equal(t, 1.0, cum[2])
}

func TestFitnessProportionateFollowsWeights(t *testing.T) {
	s, err := NewFitnessProportionate(random.New(5), false)
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{0, 1e9}))
	worst := 0
	for i := 0; i < 1000; i++ {
		if s.Select() == 1 {
			worst++
		}
	}
	assert.LessOrEqual(t, worst, 2)
}

func TestFitnessProportionateAllInfiniteIsUniform(t *testing.T) {
	s, err := NewFitnessProportionate(random.New(6), false)
	require.NoError(t, err)
	inf := math.Inf(1)
	require.NoError(t, s.SetPool([]float64{inf, inf, inf, inf}))
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, s.Probabilities())
}

func TestOverSelectionRanksBestFirst(t *testing.T) {
	s, err := NewFitnessProportionate(random.New(7), true)
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{3, 0, 1}))

	cum := s.Probabilities()
	assert.InDelta(t, 1/1.75, cum[0], 1e-12)
	assert.InDelta(t, 0.32, s.Proportion(), 1e-12)

	best := 0
	for i := 0; i < 2000; i++ {
		if s.Select() == 1 {
			best++
		}
	}
	// 80% of draws land below 0.32, all inside the best program's slice.
	assert.Greater(t, best, 1500)
}

func TestOverSelectionProportion(t *testing.T) {
	assert.InDelta(t, 0.32, OverSelectionProportion(10), 1e-12)
	assert.InDelta(t, 0.32, OverSelectionProportion(1000), 1e-12)
	assert.InDelta(t, 0.16, OverSelectionProportion(1001), 1e-12)
	assert.InDelta(t, 0.16, OverSelectionProportion(2000), 1e-12)
	assert.InDelta(t, 0.08, OverSelectionProportion(2001), 1e-12)
	assert.InDelta(t, 0.04, OverSelectionProportion(5000), 1e-12)
}

func TestLinearRankTable(t *testing.T) {
	s, err := NewLinearRank(random.New(8), 0)
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{1, 4, 2, 3}))

	cum := s.Probabilities()
	require.Len(t, cum, 4)
	assert.InDelta(t, 0, cum[0], 1e-12)
	assert.InDelta(t, 1.0/6, cum[1], 1e-12)
	assert.InDelta(t, 0.5, cum[2], 1e-12)
	assert.Equal(t, 1.0, cum[3])

	// worst program (index 1) has zero weight
	for i := 0; i < 500; i++ {
		assert.NotEqual(t, 1, s.Select())
	}
}

func TestLinearRankUniformGradient(t *testing.T) {
	s, err := NewLinearRank(random.New(9), 1)
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{1, 4, 2, 3}))
	cum := s.Probabilities()
	for i, want := range []float64{0.25, 0.5, 0.75, 1} {
		assert.InDelta(t, want, cum[i], 1e-12)
	}
}

func TestLinearRankSingleProgram(t *testing.T) {
	s, err := NewLinearRank(random.New(10), 0.3)
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{7}))
	assert.Equal(t, []float64{1}, s.Probabilities())
	assert.Equal(t, 0, s.Select())
}

func TestRandomSelectsWithinPool(t *testing.T) {
	s, err := NewRandom(random.New(11))
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{1, 2, 3, 4, 5}))
	for i := 0; i < 100; i++ {
		idx := s.Select()
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 5)
	}
}

func TestPoolLeavesSelectionStateAlone(t *testing.T) {
	s, err := NewLinearRank(random.New(12), 0)
	require.NoError(t, err)
	require.NoError(t, s.SetPool([]float64{1, 4, 2, 3}))
	before := s.Probabilities()

	pool, err := s.Pool([]float64{9, 8}, 7)
	require.NoError(t, err)
	assert.Len(t, pool, 7)
	for _, idx := range pool {
		assert.Equal(t, 1, idx)
	}
	assert.Equal(t, before, s.Probabilities())
	assert.NotEqual(t, 1, s.Select())
}

func TestParameterValidation(t *testing.T) {
	_, err := NewTournament(random.New(1), 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewLinearRank(random.New(1), 1.5)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewRandom(nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	s, err := NewTournament(random.New(1), 2)
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetPool(nil), ErrEmptyPool)
	_, err = s.Pool([]float64{1}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNewByName(t *testing.T) {
	for _, name := range []string{"tournament", "fitness_proportionate", "linear_rank", "random"} {
		s, err := New(name, random.New(1), Params{TournamentSize: 3, Gradient: 0.5})
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
	}
	_, err := New("roulette", random.New(1), Params{})
	assert.ErrorIs(t, err, ErrUnknownSelector)
}
