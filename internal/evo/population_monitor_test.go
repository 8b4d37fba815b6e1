package evo

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grevo/internal/grammar"
	"grevo/internal/hooks"
	"grevo/internal/initialiser"
	"grevo/internal/operator"
	"grevo/internal/program"
	"grevo/internal/random"
	"grevo/internal/selection"
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

// distanceFromThreeOnes scores "1110" as perfect.
var distanceFromThreeOnes = program.EvaluatorFunc(func(_ context.Context, source string) (float64, error) {
	return math.Abs(float64(strings.Count(source, "1")) - 3), nil
})

type recorder struct {
	reports    []GenerationReport
	operations []OperationRecord
	ends       int
}

func (r *recorder) OnOperation(_ context.Context, record OperationRecord) {
	r.operations = append(r.operations, record)
}

func (r *recorder) OnGeneration(_ context.Context, report GenerationReport) {
	r.reports = append(r.reports, report)
}

func (r *recorder) OnRunEnd(context.Context, RunResult) { r.ends++ }

func baseConfig(t *testing.T, g *grammar.Grammar, seed int64) MonitorConfig {
	t.Helper()
	rng := random.New(seed)
	sel, err := selection.NewTournament(rng, 3)
	require.NoError(t, err)
	return MonitorConfig{
		RunID:                "test",
		Grammar:              g,
		Evaluator:            distanceFromThreeOnes,
		Initialiser:          &initialiser.Grow{Grammar: g, RNG: rng, MaxDepth: 2, AcceptDuplicates: true},
		Selector:             sel,
		Crossover:            &operator.WhighamCrossover{RNG: rng},
		Mutation:             &operator.WhighamMutation{RNG: rng},
		RNG:                  rng,
		PopulationSize:       10,
		PoolSize:             WholePopulation,
		EliteCount:           1,
		CrossoverProbability: 0.6,
		MutationProbability:  0.3,
		Generations:          5,
		MaxDepth:             6,
		TerminationFitness:   math.Inf(-1),
		CacheFitness:         true,
	}
}

func newMonitor(t *testing.T, cfg MonitorConfig) *PopulationMonitor {
	t.Helper()
	m, err := NewPopulationMonitor(cfg)
	require.NoError(t, err)
	return m
}

func TestRunKeepsPopulationSizeAndDepthBound(t *testing.T) {
	g := binaryGrammar(t)
	rec := &recorder{}
	cfg := baseConfig(t, g, 1)
	cfg.Observers = []Observer{rec}
	cfg.MaxDepth = 4

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Generations)
	assert.Len(t, result.BestByGeneration, 6)
	require.Len(t, rec.reports, 6)
	assert.Equal(t, 1, rec.ends)
	for _, report := range rec.reports {
		assert.Len(t, report.Population, 10)
		assert.Len(t, report.Fitness, 10)
		for _, candidate := range report.Population {
			assert.LessOrEqual(t, candidate.Depth(), 4)
			require.NoError(t, candidate.Tree().Validate())
		}
	}
	assert.Len(t, rec.operations, 60)
}

func TestElitismNeverLosesBestFitness(t *testing.T) {
	g := binaryGrammar(t)
	cfg := baseConfig(t, g, 2)
	cfg.Generations = 8
	cfg.MutationProbability = 0.4

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	for i := 1; i < len(result.BestByGeneration); i++ {
		assert.LessOrEqual(t, result.BestByGeneration[i], result.BestByGeneration[i-1])
	}
	assert.Equal(t, result.BestByGeneration[len(result.BestByGeneration)-1], result.BestFitness)
}

func TestElitesSurviveIntoNextGeneration(t *testing.T) {
	g := binaryGrammar(t)
	rec := &recorder{}
	cfg := baseConfig(t, g, 21)
	cfg.Observers = []Observer{rec}
	cfg.PopulationSize = 12
	cfg.EliteCount = 3
	cfg.Generations = 6

	_, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.reports, 7)
	for gen := 0; gen+1 < len(rec.reports); gen++ {
		prev, next := rec.reports[gen], rec.reports[gen+1]
		nextSources := next.Population.Sources()
		for _, idx := range RankAscending(prev.Fitness)[:cfg.EliteCount] {
			assert.Contains(t, nextSources, prev.Population[idx].Source(), "generation %d", gen+1)
		}
	}
}

func TestProbabilitiesNeedNotSumToOne(t *testing.T) {
	g := binaryGrammar(t)
	rec := &recorder{}
	cfg := baseConfig(t, g, 22)
	cfg.Observers = []Observer{rec}
	cfg.EliteCount = 0
	cfg.CrossoverProbability = 0.8
	cfg.MutationProbability = 0.5

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Generations)

	// Mutation takes what is left above crossover; reproduction never runs.
	ops := map[string]int{}
	for _, op := range rec.operations {
		ops[op.Operation]++
	}
	assert.Positive(t, ops[OpCrossover])
	assert.Positive(t, ops[OpMutation])
	assert.Zero(t, ops[OpReproduction])
}

func TestSameSeedSameRun(t *testing.T) {
	g := binaryGrammar(t)
	run := func() RunResult {
		result, err := newMonitor(t, baseConfig(t, g, 77)).Run(context.Background())
		require.NoError(t, err)
		return result
	}
	first, second := run(), run()
	assert.Equal(t, first.BestByGeneration, second.BestByGeneration)
	assert.Equal(t, first.FinalPopulation.Sources(), second.FinalPopulation.Sources())
	assert.Equal(t, first.Reversions, second.Reversions)
}

func TestTerminationCheckedAfterInitialisation(t *testing.T) {
	g := binaryGrammar(t)
	cfg := baseConfig(t, g, 3)
	cfg.PopulationSize = 20
	cfg.Initialiser = &initialiser.RampedHalfAndHalf{Grammar: g, RNG: cfg.RNG, StartDepth: 0, EndDepth: 4, AcceptDuplicates: true}
	cfg.TerminationFitness = 0

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Generations)
	assert.Equal(t, "1110", result.Best.Source())
	assert.Equal(t, 0.0, result.BestFitness)
}

func TestTerminationStopsAtFirstPerfectGeneration(t *testing.T) {
	g := binaryGrammar(t)
	rec := &recorder{}
	cfg := baseConfig(t, g, 23)
	cfg.Observers = []Observer{rec}
	// Depth 1 trees are "0" and "10", so the perfect "1110" must be bred.
	cfg.Initialiser = &initialiser.Grow{Grammar: g, RNG: cfg.RNG, MaxDepth: 1, AcceptDuplicates: true}
	cfg.PopulationSize = 20
	cfg.Generations = 200
	cfg.TerminationFitness = 0

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)

	first := -1
	for _, report := range rec.reports {
		if slices.Contains(report.Fitness, 0.0) {
			first = report.Generation
			break
		}
	}
	require.Positive(t, first)
	assert.True(t, result.Success)
	assert.Equal(t, first, result.Generations)
	assert.Len(t, rec.reports, first+1)
	assert.Equal(t, 0.0, result.BestFitness)
}

func TestEliteCountClampedToPopulation(t *testing.T) {
	g := binaryGrammar(t)
	cfg := baseConfig(t, g, 4)
	cfg.PopulationSize = 3
	cfg.EliteCount = 10
	cfg.Generations = 2

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.FinalPopulation, 3)
}

func TestCrossoverOverflowDropsSecondChild(t *testing.T) {
	g := binaryGrammar(t)
	rec := &recorder{}
	cfg := baseConfig(t, g, 5)
	cfg.PopulationSize = 3
	cfg.EliteCount = 0
	cfg.CrossoverProbability = 1
	cfg.MutationProbability = 0
	cfg.Generations = 3
	cfg.Observers = []Observer{rec}

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.FinalPopulation, 3)
	for _, op := range rec.operations {
		if op.Generation > 0 {
			assert.Equal(t, OpCrossover, op.Operation)
			assert.Len(t, op.ParentIDs, 2)
			require.NotNil(t, op.Crossover)
		}
	}
	assert.Len(t, rec.operations, 12)
}

func TestMutationHookRevertsAreRetriedAndCounted(t *testing.T) {
	g := binaryGrammar(t)
	rec := &recorder{}
	cfg := baseConfig(t, g, 6)
	cfg.PopulationSize = 4
	cfg.EliteCount = 0
	cfg.CrossoverProbability = 0
	cfg.MutationProbability = 1
	cfg.Generations = 1
	cfg.Observers = []Observer{rec}

	calls := 0
	cfg.Hooks = &hooks.Hooks{}
	cfg.Hooks.Mutation.Add(func(_ context.Context, e hooks.MutationEvent) hooks.Verdict[hooks.MutationEvent] {
		calls++
		if calls <= 5 {
			return hooks.Revert[hooks.MutationEvent]()
		}
		return hooks.Accept(e)
	})

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, calls)
	require.Len(t, rec.reports, 2)
	assert.Equal(t, 5, rec.reports[1].Reversions.Mutation)
	assert.Equal(t, 5, result.Reversions.Mutation)
}

func TestGenerationHookRevertRebreeds(t *testing.T) {
	g := binaryGrammar(t)
	cfg := baseConfig(t, g, 7)
	cfg.Generations = 2

	seen := map[int]int{}
	cfg.Hooks = &hooks.Hooks{}
	cfg.Hooks.Generation.Add(func(_ context.Context, e hooks.GenerationEvent) hooks.Verdict[hooks.GenerationEvent] {
		seen[e.Generation]++
		if e.Generation == 1 && seen[1] == 1 {
			return hooks.Revert[hooks.GenerationEvent]()
		}
		return hooks.Accept(e)
	})

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 1, 1: 2, 2: 1}, seen)
	assert.Equal(t, 1, result.Reversions.Generation)
}

func TestInitialisationHookRevertReinitialises(t *testing.T) {
	g := binaryGrammar(t)
	cfg := baseConfig(t, g, 8)
	cfg.Generations = 0

	calls := 0
	cfg.Hooks = &hooks.Hooks{}
	cfg.Hooks.Initialisation.Add(func(_ context.Context, e hooks.InitialisationEvent) hooks.Verdict[hooks.InitialisationEvent] {
		calls++
		if calls < 3 {
			return hooks.Revert[hooks.InitialisationEvent]()
		}
		return hooks.Accept(e)
	})

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, result.Reversions.Initialisation)
	assert.Equal(t, 0, result.Generations)
}

func TestGenerationZeroRevertCountsAsGenerationReversion(t *testing.T) {
	g := binaryGrammar(t)
	cfg := baseConfig(t, g, 24)
	cfg.Generations = 0

	calls := 0
	cfg.Hooks = &hooks.Hooks{}
	cfg.Hooks.Generation.Add(func(_ context.Context, e hooks.GenerationEvent) hooks.Verdict[hooks.GenerationEvent] {
		calls++
		if calls == 1 {
			return hooks.Revert[hooks.GenerationEvent]()
		}
		return hooks.Accept(e)
	})

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, result.Reversions.Generation)
	assert.Zero(t, result.Reversions.Initialisation)
}

func TestReversionLimit(t *testing.T) {
	g := binaryGrammar(t)
	cfg := baseConfig(t, g, 9)
	cfg.CrossoverProbability = 0
	cfg.MutationProbability = 0
	cfg.MaxReversions = 3
	cfg.Hooks = &hooks.Hooks{}
	cfg.Hooks.Reproduction.Add(func(context.Context, hooks.ReproductionEvent) hooks.Verdict[hooks.ReproductionEvent] {
		return hooks.Revert[hooks.ReproductionEvent]()
	})

	_, err := newMonitor(t, cfg).Run(context.Background())
	require.ErrorIs(t, err, ErrReversionLimit)
}

func TestPoolSelectionFeedsPoolHooks(t *testing.T) {
	g := binaryGrammar(t)
	cfg := baseConfig(t, g, 10)
	poolSel, err := selection.NewTournament(cfg.RNG, 2)
	require.NoError(t, err)
	cfg.PoolSelector = poolSel
	cfg.PoolSize = 4
	cfg.Generations = 3

	var sizes []int
	reverted := false
	cfg.Hooks = &hooks.Hooks{}
	cfg.Hooks.Pool.Add(func(_ context.Context, e hooks.PoolEvent) hooks.Verdict[hooks.PoolEvent] {
		sizes = append(sizes, len(e.Pool))
		if !reverted {
			reverted = true
			return hooks.Revert[hooks.PoolEvent]()
		}
		return hooks.Accept(e)
	})

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 4, 4}, sizes)
	assert.Equal(t, 1, result.Reversions.Pool)
}

func TestCrossoverWithoutMatchingPointIsRetried(t *testing.T) {
	g, err := grammar.New("S",
		grammar.Define("S", grammar.Seq(grammar.NT("A")), grammar.Seq(grammar.NT("B"))),
		grammar.Define("A", grammar.Seq(grammar.T("a"))),
		grammar.Define("B", grammar.Seq(grammar.T("b"))),
	)
	require.NoError(t, err)
	cfg := baseConfig(t, g, 11)
	cfg.Initialiser = &initialiser.Grow{Grammar: g, RNG: cfg.RNG, MaxDepth: 1, AcceptDuplicates: true}
	cfg.PopulationSize = 20
	cfg.CrossoverProbability = 1
	cfg.MutationProbability = 0
	cfg.EliteCount = 0
	cfg.Generations = 10
	cfg.Evaluator = program.EvaluatorFunc(func(context.Context, string) (float64, error) { return 1, nil })

	result, err := newMonitor(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, result.Reversions.CrossoverNoPoint)
	for _, candidate := range result.FinalPopulation {
		assert.Contains(t, []string{"a", "b"}, candidate.Source())
	}
}

func TestEvaluatorErrorAbortsRun(t *testing.T) {
	g := binaryGrammar(t)
	cfg := baseConfig(t, g, 12)
	boom := errors.New("evaluator down")
	cfg.Evaluator = program.EvaluatorFunc(func(context.Context, string) (float64, error) { return 0, boom })

	_, err := newMonitor(t, cfg).Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestCancelledContextStopsRun(t *testing.T) {
	g := binaryGrammar(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newMonitor(t, baseConfig(t, g, 13)).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParallelEvaluationMatchesSerial(t *testing.T) {
	g := binaryGrammar(t)
	serial := baseConfig(t, g, 14)
	parallel := baseConfig(t, g, 14)
	parallel.Workers = 4

	a, err := newMonitor(t, serial).Run(context.Background())
	require.NoError(t, err)
	b, err := newMonitor(t, parallel).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.BestByGeneration, b.BestByGeneration)
	assert.Equal(t, a.FinalPopulation.Sources(), b.FinalPopulation.Sources())
}

func TestConfigurationErrors(t *testing.T) {
	g := binaryGrammar(t)
	cases := map[string]func(*MonitorConfig){
		"missing evaluator":    func(c *MonitorConfig) { c.Evaluator = nil },
		"missing selector":     func(c *MonitorConfig) { c.Selector = nil },
		"negative probability": func(c *MonitorConfig) { c.MutationProbability = -0.1 },
		"probability above 1":  func(c *MonitorConfig) { c.CrossoverProbability = 1.2 },
		"missing crossover":    func(c *MonitorConfig) { c.Crossover = nil },
		"population":           func(c *MonitorConfig) { c.PopulationSize = 0 },
		"pool size":            func(c *MonitorConfig) { c.PoolSize = 0 },
		"elites":               func(c *MonitorConfig) { c.EliteCount = -1 },
		"generations":          func(c *MonitorConfig) { c.Generations = -2 },
		"max reversions":       func(c *MonitorConfig) { c.MaxReversions = -1 },
	}
	for name, mutate := range cases {
		cfg := baseConfig(t, g, 1)
		mutate(&cfg)
		_, err := NewPopulationMonitor(cfg)
		assert.ErrorIs(t, err, ErrConfig, name)
	}

	deep, err := grammar.New("A",
		grammar.Define("A", grammar.Seq(grammar.NT("B"))),
		grammar.Define("B", grammar.Seq(grammar.NT("C"))),
		grammar.Define("C", grammar.Seq(grammar.T("c"))),
	)
	require.NoError(t, err)
	cfg := baseConfig(t, deep, 1)
	cfg.MaxDepth = 1
	_, err = NewPopulationMonitor(cfg)
	assert.ErrorIs(t, err, ErrConfig)
	cfg.MaxDepth = Unlimited
	_, err = NewPopulationMonitor(cfg)
	assert.NoError(t, err)
}

func TestRankAscendingIsStable(t *testing.T) {
	assert.Equal(t, []int{1, 3, 0, 2}, RankAscending([]float64{2, 1, 5, 1}))
}
