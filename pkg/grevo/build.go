package grevo

import (
	"errors"
	"fmt"

	"grevo/internal/config"
	"grevo/internal/evo"
	"grevo/internal/fitness"
	"grevo/internal/grammar"
	"grevo/internal/initialiser"
	"grevo/internal/operator"
	"grevo/internal/program"
	"grevo/internal/random"
	"grevo/internal/selection"
)

// engine is the set of evolution parts one request resolves to. All parts
// draw from the same random stream, so consecutive runs continue it.
type engine struct {
	grammar     *grammar.Grammar
	rng         random.Source
	evaluator   program.Evaluator
	memo        *fitness.Memo
	initialiser initialiser.Initialiser
	selector    selection.Selector
	pool        selection.Selector
	crossover   operator.Crossover
	mutation    operator.Mutator
}

func buildEngine(cfg config.Config, evaluator program.Evaluator) (*engine, error) {
	text, err := cfg.GrammarText()
	if err != nil {
		return nil, err
	}
	g, err := grammar.Parse(text)
	if err != nil {
		return nil, err
	}
	if evaluator == nil {
		evaluator, err = newEvaluator(cfg.Fitness)
		if err != nil {
			return nil, err
		}
	}
	e := &engine{grammar: g, rng: random.New(cfg.Seed), evaluator: evaluator}
	if cfg.CacheFitness {
		e.memo = fitness.NewMemo(evaluator)
		e.evaluator = e.memo
	}

	e.initialiser, err = newInitialiser(cfg, g, e.rng)
	if err != nil {
		return nil, err
	}
	params := selection.Params{
		TournamentSize: cfg.Selection.TournamentSize,
		Gradient:       cfg.Selection.LinearRankGradient,
		OverSelection:  cfg.Selection.OverSelection,
	}
	e.selector, err = selection.New(cfg.Selection.Program, e.rng, params)
	if err != nil {
		return nil, err
	}
	if cfg.Selection.Pool != "" {
		e.pool, err = selection.New(cfg.Selection.Pool, e.rng, params)
		if err != nil {
			return nil, err
		}
	}
	e.crossover = &operator.WhighamCrossover{RNG: e.rng}
	e.mutation = &operator.WhighamMutation{RNG: e.rng}
	return e, nil
}

func newEvaluator(cfg config.FitnessConfig) (program.Evaluator, error) {
	switch cfg.Kind {
	case "", config.FitnessExec:
		return &fitness.Exec{Command: cfg.Command, Args: cfg.Args, Timeout: cfg.Timeout}, nil
	case config.FitnessExpression:
		return fitness.NewExpression(cfg.Expression.Cases, cfg.Expression.Metric)
	case config.FitnessCustom:
		return nil, errors.New("custom fitness needs an evaluator in the run request")
	default:
		return nil, fmt.Errorf("unknown fitness kind %q", cfg.Kind)
	}
}

func newInitialiser(cfg config.Config, g *grammar.Grammar, rng random.Source) (initialiser.Initialiser, error) {
	depth := cfg.InitDepth()
	ic := cfg.Initialiser
	switch ic.Kind {
	case "", "ramped_half_and_half":
		return &initialiser.RampedHalfAndHalf{
			Grammar:          g,
			RNG:              rng,
			StartDepth:       ic.StartDepth,
			EndDepth:         depth,
			AcceptDuplicates: ic.AcceptDuplicates,
			MaxAttempts:      ic.MaxAttempts,
		}, nil
	case "grow":
		return &initialiser.Grow{Grammar: g, RNG: rng, MaxDepth: depth, AcceptDuplicates: ic.AcceptDuplicates, MaxAttempts: ic.MaxAttempts}, nil
	case "full":
		return &initialiser.Full{Grammar: g, RNG: rng, Depth: depth, AcceptDuplicates: ic.AcceptDuplicates, MaxAttempts: ic.MaxAttempts}, nil
	default:
		return nil, fmt.Errorf("unknown initialiser %q", ic.Kind)
	}
}

func (e *engine) monitorConfig(cfg config.Config, runID string) evo.MonitorConfig {
	mc := evo.MonitorConfig{
		RunID:                runID,
		Grammar:              e.grammar,
		Evaluator:            e.evaluator,
		Initialiser:          e.initialiser,
		Selector:             e.selector,
		Crossover:            e.crossover,
		Mutation:             e.mutation,
		RNG:                  e.rng,
		PopulationSize:       cfg.PopulationSize,
		PoolSize:             cfg.PoolSize,
		EliteCount:           cfg.Elites,
		CrossoverProbability: cfg.ProbCrossover,
		MutationProbability:  cfg.ProbMutation,
		Generations:          cfg.Generations,
		MaxDepth:             cfg.MaxDepth,
		TerminationFitness:   cfg.TerminationFitness,
		CacheFitness:         cfg.CacheFitness,
		Workers:              cfg.Workers,
		MaxReversions:        cfg.MaxReversions,
	}
	if e.pool != nil {
		mc.PoolSelector = e.pool
	}
	return mc
}
