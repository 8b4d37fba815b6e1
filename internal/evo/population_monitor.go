package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"grevo/internal/grammar"
	"grevo/internal/hooks"
	"grevo/internal/initialiser"
	"grevo/internal/operator"
	"grevo/internal/program"
	"grevo/internal/random"
	"grevo/internal/selection"
)

const (
	// WholePopulation as PoolSize breeds from the entire previous generation.
	WholePopulation = -1
	// Unlimited as Generations or MaxDepth removes the bound.
	Unlimited = program.Unlimited
)

var (
	ErrConfig         = errors.New("invalid evolution configuration")
	ErrReversionLimit = errors.New("reversion limit reached")
)

type MonitorConfig struct {
	RunID        string
	Grammar      *grammar.Grammar
	Evaluator    program.Evaluator
	Initialiser  initialiser.Initialiser
	Selector     selection.ProgramSelector
	PoolSelector selection.PoolSelector
	Crossover    operator.Crossover
	Mutation     operator.Mutator
	RNG          random.Source
	Hooks        *hooks.Hooks
	Observers    []Observer
	Logger       *slog.Logger
	Tracer       trace.Tracer

	PopulationSize       int
	PoolSize             int
	EliteCount           int
	CrossoverProbability float64
	MutationProbability  float64
	Generations          int
	MaxDepth             int
	// TerminationFitness stops the run once the best fitness is at or below
	// it. Use math.Inf(-1) to always run every generation.
	TerminationFitness float64
	CacheFitness       bool
	Workers            int
	// MaxReversions bounds consecutive retries of one step; 0 is unbounded.
	MaxReversions int
}

type PopulationMonitor struct {
	cfg    MonitorConfig
	rng    random.Source
	hooks  *hooks.Hooks
	logger *slog.Logger
	tracer trace.Tracer

	counts  Reversions
	pending []pendingOp
}

// pendingOp is a birth not yet visible to observers; ids are resolved when
// its generation is committed.
type pendingOp struct {
	record  OperationRecord
	child   *program.Candidate
	parents []*program.Candidate
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	h := cfg.Hooks
	if h == nil {
		h = &hooks.Hooks{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("grevo/internal/evo")
	}
	return &PopulationMonitor{cfg: cfg, rng: cfg.RNG, hooks: h, logger: logger, tracer: tracer}, nil
}

func validate(cfg *MonitorConfig) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case cfg.Grammar == nil:
		return fail("grammar is required")
	case cfg.Evaluator == nil:
		return fail("fitness evaluator is required")
	case cfg.Initialiser == nil:
		return fail("initialiser is required")
	case cfg.Selector == nil:
		return fail("program selector is required")
	case cfg.RNG == nil:
		return fail("random source is required")
	}
	if !inUnit(cfg.CrossoverProbability) || !inUnit(cfg.MutationProbability) {
		return fail("operator probabilities must be in [0,1]")
	}
	if cfg.CrossoverProbability > 0 && cfg.Crossover == nil {
		return fail("crossover operator is required when crossover probability > 0")
	}
	if cfg.MutationProbability > 0 && cfg.Mutation == nil {
		return fail("mutation operator is required when mutation probability > 0")
	}
	if cfg.PopulationSize <= 0 {
		return fail("population size must be > 0")
	}
	if cfg.PoolSize != WholePopulation && cfg.PoolSize <= 0 {
		return fail("pool size must be > 0 or %d", WholePopulation)
	}
	if cfg.EliteCount < 0 {
		return fail("elite count must be >= 0")
	}
	if cfg.Generations < Unlimited {
		return fail("generations must be >= 0 or %d", Unlimited)
	}
	if cfg.MaxDepth != Unlimited && cfg.MaxDepth < cfg.Grammar.MinimumDepth() {
		return fail("max depth %d is below the grammar minimum depth %d", cfg.MaxDepth, cfg.Grammar.MinimumDepth())
	}
	if cfg.MaxReversions < 0 {
		return fail("max reversions must be >= 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return nil
}

func inUnit(p float64) bool {
	return p >= 0 && p <= 1
}

func (m *PopulationMonitor) Run(ctx context.Context) (result RunResult, err error) {
	started := time.Now()
	ctx, span := m.tracer.Start(ctx, "evo.run", trace.WithAttributes(
		attribute.String("run_id", m.cfg.RunID),
		attribute.Int("population_size", m.cfg.PopulationSize),
		attribute.Int("generations", m.cfg.Generations),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Bool("success", result.Success),
				attribute.Float64("best_fitness", result.BestFitness),
			)
		}
		span.End()
	}()

	m.logger.Info("run started",
		"run_id", m.cfg.RunID,
		"population", m.cfg.PopulationSize,
		"generations", m.cfg.Generations,
		"initialiser", m.cfg.Initialiser.Name(),
		"selector", m.cfg.Selector.Name(),
	)

	result = RunResult{RunID: m.cfg.RunID, BestFitness: math.Inf(1)}

	genStart := time.Now()
	population, err := m.Initialise(ctx)
	if err != nil {
		return RunResult{}, err
	}
	fitness, err := m.commit(ctx, 0, population, genStart, &result)
	if err != nil {
		return RunResult{}, err
	}

	for gen := 1; !result.Success && (m.cfg.Generations == Unlimited || gen <= m.cfg.Generations); gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		genStart = time.Now()
		population, err = m.Generation(ctx, gen, population, fitness)
		if err != nil {
			return RunResult{}, err
		}
		fitness, err = m.commit(ctx, gen, population, genStart, &result)
		if err != nil {
			return RunResult{}, err
		}
	}

	result.FinalPopulation = population
	result.FinalFitness = fitness
	result.Elapsed = time.Since(started)
	for _, observer := range m.cfg.Observers {
		observer.OnRunEnd(ctx, result)
	}
	m.logger.Info("run finished",
		"run_id", m.cfg.RunID,
		"generations", result.Generations,
		"best_fitness", result.BestFitness,
		"success", result.Success,
		"reversions", result.Reversions.Total(),
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// commit evaluates a generation that passed its hooks, updates the run
// result and notifies observers.
func (m *PopulationMonitor) commit(ctx context.Context, gen int, population program.Population, started time.Time, result *RunResult) ([]float64, error) {
	_, span := m.tracer.Start(ctx, "evo.generation", trace.WithAttributes(attribute.Int("generation", gen)))
	defer span.End()

	if len(population) == 0 {
		return nil, fmt.Errorf("%w: generation %d is empty", ErrConfig, gen)
	}

	fitness, err := program.EvaluateAll(ctx, population, m.cfg.Workers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	order := RankAscending(fitness)
	best := fitness[order[0]]
	if best < result.BestFitness || result.Best == nil {
		result.BestFitness = best
		result.Best = population[order[0]].Clone()
		result.Best.SetID(population[order[0]].ID())
	}
	result.Generations = gen
	result.BestByGeneration = append(result.BestByGeneration, best)
	result.Reversions.add(m.counts)
	if result.BestFitness <= m.cfg.TerminationFitness {
		result.Success = true
	}
	span.SetAttributes(attribute.Float64("best_fitness", best))

	members := make(map[*program.Candidate]struct{}, len(population))
	for _, candidate := range population {
		members[candidate] = struct{}{}
	}
	for _, op := range m.pending {
		if _, ok := members[op.child]; !ok {
			continue
		}
		op.record.ChildID = op.child.ID()
		op.record.Source = op.child.Source()
		for _, parent := range op.parents {
			op.record.ParentIDs = append(op.record.ParentIDs, parent.ID())
		}
		for _, observer := range m.cfg.Observers {
			observer.OnOperation(ctx, op.record)
		}
	}
	m.pending = nil

	report := GenerationReport{
		RunID:       m.cfg.RunID,
		Generation:  gen,
		Population:  population,
		Fitness:     fitness,
		BestFitness: best,
		BestEver:    result.BestFitness,
		Reversions:  m.counts,
		Duration:    time.Since(started),
	}
	for _, observer := range m.cfg.Observers {
		observer.OnGeneration(ctx, report)
	}
	m.logger.Debug("generation committed",
		"run_id", m.cfg.RunID,
		"generation", gen,
		"best_fitness", best,
		"best_ever", result.BestFitness,
		"reversions", m.counts.Total(),
	)
	return fitness, nil
}

// Initialise builds generation zero. The population passes the generation
// hooks and then the initialisation hooks; a revert from either discards it
// and initialises again, counted as a generation or an initialisation
// reversion respectively.
func (m *PopulationMonitor) Initialise(ctx context.Context) (program.Population, error) {
	m.counts = Reversions{}
	m.pending = nil
	for attempt := 0; ; attempt++ {
		if err := m.checkLimit(attempt, "initialisation"); err != nil {
			return nil, err
		}
		trees, err := m.cfg.Initialiser.Initialise(m.cfg.PopulationSize)
		if err != nil {
			return nil, fmt.Errorf("initialise population: %w", err)
		}
		population := make(program.Population, len(trees))
		for i, tree := range trees {
			population[i] = program.NewCandidate(tree, m.cfg.Evaluator, m.cfg.CacheFitness)
		}

		event, ok := m.hooks.Generation.Fire(ctx, hooks.GenerationEvent{Generation: 0, Population: population})
		if !ok {
			m.counts.Generation++
			m.logger.Debug("generation 0 reverted", "run_id", m.cfg.RunID, "attempt", attempt)
			continue
		}
		initEvent, ok := m.hooks.Initialisation.Fire(ctx, hooks.InitialisationEvent{Population: event.Population})
		if !ok {
			m.counts.Initialisation++
			m.logger.Debug("initialisation reverted", "run_id", m.cfg.RunID, "attempt", attempt)
			continue
		}
		population = initEvent.Population

		m.assignIDs(0, population)
		for _, candidate := range population {
			m.pending = append(m.pending, pendingOp{record: m.record(0, OpSeed), child: candidate})
		}
		return population, nil
	}
}

// Generation breeds generation gen from prev, whose fitness values are
// index-aligned in prevFitness. A revert from the generation hooks discards
// the whole attempt and breeds again from the same prev.
func (m *PopulationMonitor) Generation(ctx context.Context, gen int, prev program.Population, prevFitness []float64) (program.Population, error) {
	if len(prev) == 0 || len(prev) != len(prevFitness) {
		return nil, fmt.Errorf("%w: previous population has %d members and %d fitness values", ErrConfig, len(prev), len(prevFitness))
	}
	m.counts = Reversions{}
	for attempt := 0; ; attempt++ {
		if err := m.checkLimit(attempt, "generation"); err != nil {
			return nil, err
		}
		m.pending = m.pending[:0]
		next, err := m.breed(ctx, gen, prev, prevFitness)
		if err != nil {
			return nil, err
		}
		event, ok := m.hooks.Generation.Fire(ctx, hooks.GenerationEvent{Generation: gen, Population: next})
		if !ok {
			m.counts.Generation++
			m.logger.Debug("generation reverted", "run_id", m.cfg.RunID, "generation", gen, "attempt", attempt)
			continue
		}
		m.assignIDs(gen, event.Population)
		return event.Population, nil
	}
}

func (m *PopulationMonitor) breed(ctx context.Context, gen int, prev program.Population, prevFitness []float64) (program.Population, error) {
	next := make(program.Population, 0, m.cfg.PopulationSize)

	order := RankAscending(prevFitness)
	eliteCount := min(m.cfg.EliteCount, m.cfg.PopulationSize, len(prev))
	if eliteCount > 0 {
		elites := make(program.Population, eliteCount)
		for i := range elites {
			elites[i] = prev[order[i]].Clone()
		}
		event := m.hooks.Elitism.Fire(ctx, hooks.ElitismEvent{Generation: gen, Elites: elites})
		for i, elite := range event.Elites {
			if len(next) == m.cfg.PopulationSize {
				break
			}
			next = append(next, elite)
			op := pendingOp{record: m.record(gen, OpElite), child: elite}
			if i < eliteCount {
				op.parents = []*program.Candidate{prev[order[i]]}
			}
			m.pending = append(m.pending, op)
		}
	}

	pool, poolFitness, err := m.selectPool(ctx, gen, prev, prevFitness)
	if err != nil {
		return nil, err
	}
	if err := m.cfg.Selector.SetPool(poolFitness); err != nil {
		return nil, fmt.Errorf("prepare selection pool: %w", err)
	}

	pCrossover := m.cfg.CrossoverProbability
	pMutation := pCrossover + m.cfg.MutationProbability
	for len(next) < m.cfg.PopulationSize {
		u := m.rng.Float64()
		switch {
		case u < pCrossover:
			children, err := m.crossover(ctx, gen, pool)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if len(next) < m.cfg.PopulationSize {
					next = append(next, child)
				} else {
					m.dropPending(child)
				}
			}
		case u < pMutation:
			child, err := m.mutate(ctx, gen, pool)
			if err != nil {
				return nil, err
			}
			next = append(next, child)
		default:
			child, err := m.reproduce(ctx, gen, pool)
			if err != nil {
				return nil, err
			}
			next = append(next, child)
		}
	}
	return next, nil
}

func (m *PopulationMonitor) selectPool(ctx context.Context, gen int, prev program.Population, prevFitness []float64) (program.Population, []float64, error) {
	if m.cfg.PoolSelector == nil || m.cfg.PoolSize == WholePopulation {
		return prev, prevFitness, nil
	}
	for attempt := 0; ; attempt++ {
		if err := m.checkLimit(attempt, "pool selection"); err != nil {
			return nil, nil, err
		}
		indices, err := m.cfg.PoolSelector.Pool(prevFitness, m.cfg.PoolSize)
		if err != nil {
			return nil, nil, fmt.Errorf("select breeding pool: %w", err)
		}
		pool := make(program.Population, len(indices))
		for i, idx := range indices {
			pool[i] = prev[idx]
		}
		event, ok := m.hooks.Pool.Fire(ctx, hooks.PoolEvent{Generation: gen, Pool: pool})
		if !ok {
			m.counts.Pool++
			continue
		}
		if len(event.Pool) == 0 {
			return nil, nil, fmt.Errorf("%w: pool hook returned an empty pool", ErrConfig)
		}
		poolFitness, err := program.EvaluateAll(ctx, event.Pool, m.cfg.Workers)
		if err != nil {
			return nil, nil, err
		}
		return event.Pool, poolFitness, nil
	}
}

func (m *PopulationMonitor) crossover(ctx context.Context, gen int, pool program.Population) ([]*program.Candidate, error) {
	for attempt := 0; ; attempt++ {
		if err := m.checkLimit(attempt, "crossover"); err != nil {
			return nil, err
		}
		first, second := pool[m.cfg.Selector.Select()], pool[m.cfg.Selector.Select()]
		children := [2]*program.Candidate{first.Clone(), second.Clone()}
		points, err := m.cfg.Crossover.Crossover(children[0].Tree(), children[1].Tree())
		if errors.Is(err, operator.ErrNoMatchingPoint) {
			m.counts.CrossoverNoPoint++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("crossover: %w", err)
		}
		if !children[0].Valid(m.cfg.MaxDepth) || !children[1].Valid(m.cfg.MaxDepth) {
			m.counts.InvalidOffspring++
			continue
		}
		event, ok := m.hooks.Crossover.Fire(ctx, hooks.CrossoverEvent{
			Generation: gen,
			Parents:    [2]*program.Candidate{first, second},
			Children:   children,
			Points:     points,
		})
		if !ok {
			m.counts.Crossover++
			continue
		}
		parents := []*program.Candidate{first, second}
		out := make([]*program.Candidate, 0, 2)
		for _, child := range event.Children {
			if child == nil {
				continue
			}
			record := m.record(gen, OpCrossover)
			record.Crossover = &event.Points
			m.pending = append(m.pending, pendingOp{record: record, child: child, parents: parents})
			out = append(out, child)
		}
		return out, nil
	}
}

func (m *PopulationMonitor) mutate(ctx context.Context, gen int, pool program.Population) (*program.Candidate, error) {
	for attempt := 0; ; attempt++ {
		if err := m.checkLimit(attempt, "mutation"); err != nil {
			return nil, err
		}
		parent := pool[m.cfg.Selector.Select()]
		child := parent.Clone()
		point, err := m.cfg.Mutation.Mutate(child.Tree())
		if err != nil {
			return nil, fmt.Errorf("mutation: %w", err)
		}
		if !child.Valid(m.cfg.MaxDepth) {
			m.counts.InvalidOffspring++
			continue
		}
		event, ok := m.hooks.Mutation.Fire(ctx, hooks.MutationEvent{Generation: gen, Parent: parent, Child: child, Point: point})
		if !ok || event.Child == nil {
			m.counts.Mutation++
			continue
		}
		record := m.record(gen, OpMutation)
		record.Mutation = &event.Point
		m.pending = append(m.pending, pendingOp{record: record, child: event.Child, parents: []*program.Candidate{parent}})
		return event.Child, nil
	}
}

func (m *PopulationMonitor) reproduce(ctx context.Context, gen int, pool program.Population) (*program.Candidate, error) {
	for attempt := 0; ; attempt++ {
		if err := m.checkLimit(attempt, "reproduction"); err != nil {
			return nil, err
		}
		parent := pool[m.cfg.Selector.Select()]
		child := parent.Clone()
		if !child.Valid(m.cfg.MaxDepth) {
			m.counts.InvalidOffspring++
			continue
		}
		event, ok := m.hooks.Reproduction.Fire(ctx, hooks.ReproductionEvent{Generation: gen, Parent: parent, Child: child})
		if !ok || event.Child == nil {
			m.counts.Reproduction++
			continue
		}
		m.pending = append(m.pending, pendingOp{record: m.record(gen, OpReproduction), child: event.Child, parents: []*program.Candidate{parent}})
		return event.Child, nil
	}
}

func (m *PopulationMonitor) checkLimit(attempt int, scope string) error {
	if m.cfg.MaxReversions > 0 && attempt >= m.cfg.MaxReversions {
		return fmt.Errorf("%w: %s retried %d times", ErrReversionLimit, scope, attempt)
	}
	return nil
}

func (m *PopulationMonitor) record(gen int, op string) OperationRecord {
	return OperationRecord{RunID: m.cfg.RunID, Generation: gen, Operation: op}
}

func (m *PopulationMonitor) dropPending(child *program.Candidate) {
	for i := len(m.pending) - 1; i >= 0; i-- {
		if m.pending[i].child == child {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *PopulationMonitor) assignIDs(gen int, population program.Population) {
	for i, candidate := range population {
		candidate.SetID(fmt.Sprintf("g%d-i%d", gen, i))
	}
}

// RankAscending returns indices ordered by fitness, best first. Equal
// fitness keeps the original order.
func RankAscending(fitness []float64) []int {
	order := make([]int, len(fitness))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return fitness[order[a]] < fitness[order[b]] })
	return order
}
