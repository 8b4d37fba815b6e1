package selection

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"grevo/internal/random"
)

var (
	ErrInvalidParameter = errors.New("invalid selection parameter")
	ErrEmptyPool        = errors.New("selection pool is empty")
	ErrUnknownSelector  = errors.New("unknown selector")
)

// ProgramSelector picks parents from a pool of standardized fitness values
// (lower is better). SetPool does the per-pool preparation so Select stays
// cheap; Select returns an index into the slice passed to SetPool and must
// not be called before a successful SetPool.
type ProgramSelector interface {
	Name() string
	SetPool(fitness []float64) error
	Select() int
}

// PoolSelector draws a breeding pool of size indices, with replacement. It
// never disturbs the state prepared by SetPool.
type PoolSelector interface {
	Name() string
	Pool(fitness []float64, size int) ([]int, error)
}

// Selector is both.
type Selector interface {
	ProgramSelector
	PoolSelector
}

// Params carries the tuning knobs of every selector kind.
type Params struct {
	TournamentSize int
	Gradient       float64
	OverSelection  bool
}

// New builds a selector by name: tournament, fitness_proportionate,
// linear_rank or random.
func New(name string, rng random.Source, params Params) (Selector, error) {
	switch name {
	case "tournament":
		return NewTournament(rng, params.TournamentSize)
	case "fitness_proportionate", "fp":
		return NewFitnessProportionate(rng, params.OverSelection)
	case "linear_rank":
		return NewLinearRank(rng, params.Gradient)
	case "random":
		return NewRandom(rng)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSelector, name)
	}
}

func checkPool(fitness []float64) error {
	if len(fitness) == 0 {
		return ErrEmptyPool
	}
	return nil
}

func checkPoolSize(fitness []float64, size int) error {
	if err := checkPool(fitness); err != nil {
		return err
	}
	if size < 1 {
		return fmt.Errorf("%w: pool size %d", ErrInvalidParameter, size)
	}
	return nil
}

func checkRNG(rng random.Source) error {
	if rng == nil {
		return fmt.Errorf("%w: random source is required", ErrInvalidParameter)
	}
	return nil
}

// Tournament draws Size contestants with replacement and keeps the fittest.
// Ties keep the earliest drawn.
type Tournament struct {
	rng     random.Source
	size    int
	fitness []float64
}

func NewTournament(rng random.Source, size int) (*Tournament, error) {
	if err := checkRNG(rng); err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, fmt.Errorf("%w: tournament size %d", ErrInvalidParameter, size)
	}
	return &Tournament{rng: rng, size: size}, nil
}

func (*Tournament) Name() string { return "tournament" }

func (s *Tournament) SetPool(fitness []float64) error {
	if err := checkPool(fitness); err != nil {
		return err
	}
	s.fitness = append(s.fitness[:0], fitness...)
	return nil
}

func (s *Tournament) Select() int {
	return s.contest(s.fitness)
}

func (s *Tournament) Pool(fitness []float64, size int) ([]int, error) {
	if err := checkPoolSize(fitness, size); err != nil {
		return nil, err
	}
	pool := make([]int, size)
	for i := range pool {
		pool[i] = s.contest(fitness)
	}
	return pool, nil
}

func (s *Tournament) contest(fitness []float64) int {
	best := s.rng.Intn(len(fitness))
	for i := 1; i < s.size; i++ {
		contestant := s.rng.Intn(len(fitness))
		if fitness[contestant] < fitness[best] {
			best = contestant
		}
	}
	return best
}

// wheel is a cumulative probability table over a reordering of the pool.
type wheel struct {
	order []int
	cum   []float64
}

func (w wheel) spin(r float64) int {
	i := sort.SearchFloat64s(w.cum, r)
	if i >= len(w.cum) {
		i = len(w.cum) - 1
	}
	return w.order[i]
}

// cumulate normalises weights into a cumulative table whose last entry is
// exactly 1. Zero or non-finite totals fall back to uniform weights.
func cumulate(weights []float64) []float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	cum := make([]float64, len(weights))
	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		for i := range cum {
			cum[i] = float64(i+1) / float64(len(cum))
		}
	} else {
		running := 0.0
		for i, w := range weights {
			running += w / total
			cum[i] = running
		}
	}
	cum[len(cum)-1] = 1.0
	return cum
}

// FitnessProportionate spins a roulette wheel weighted by adjusted fitness
// 1/(1+f). With over-selection the pool is ranked best first and 80% of draws
// land in the fittest group holding a proportion of the wheel that shrinks
// as the pool grows.
type FitnessProportionate struct {
	rng           random.Source
	overSelection bool
	wheel         wheel
	proportion    float64
}

func NewFitnessProportionate(rng random.Source, overSelection bool) (*FitnessProportionate, error) {
	if err := checkRNG(rng); err != nil {
		return nil, err
	}
	return &FitnessProportionate{rng: rng, overSelection: overSelection}, nil
}

func (*FitnessProportionate) Name() string { return "fitness_proportionate" }

func (s *FitnessProportionate) SetPool(fitness []float64) error {
	if err := checkPool(fitness); err != nil {
		return err
	}
	s.wheel, s.proportion = s.build(fitness)
	return nil
}

func (s *FitnessProportionate) Select() int {
	return s.draw(s.wheel, s.proportion)
}

func (s *FitnessProportionate) Pool(fitness []float64, size int) ([]int, error) {
	if err := checkPoolSize(fitness, size); err != nil {
		return nil, err
	}
	w, proportion := s.build(fitness)
	pool := make([]int, size)
	for i := range pool {
		pool[i] = s.draw(w, proportion)
	}
	return pool, nil
}

// Probabilities returns the cumulative table prepared by SetPool.
func (s *FitnessProportionate) Probabilities() []float64 {
	return append([]float64(nil), s.wheel.cum...)
}

// Proportion returns the over-selection group proportion for the current pool.
func (s *FitnessProportionate) Proportion() float64 { return s.proportion }

func (s *FitnessProportionate) build(fitness []float64) (wheel, float64) {
	order := identity(len(fitness))
	proportion := 1.0
	if s.overSelection {
		sort.SliceStable(order, func(a, b int) bool { return fitness[order[a]] < fitness[order[b]] })
		proportion = OverSelectionProportion(len(fitness))
	}
	weights := make([]float64, len(order))
	for i, idx := range order {
		weights[i] = AdjustedFitness(fitness[idx])
	}
	return wheel{order: order, cum: cumulate(weights)}, proportion
}

func (s *FitnessProportionate) draw(w wheel, proportion float64) int {
	r := s.rng.Float64()
	if s.overSelection {
		if s.rng.Float64() < 0.8 {
			r *= proportion
		} else {
			r = r*(1-proportion) + proportion
		}
	}
	return w.spin(r)
}

// AdjustedFitness maps standardized fitness onto (0,1], higher is better.
func AdjustedFitness(f float64) float64 {
	return 1 / (1 + f)
}

// OverSelectionProportion is 0.32 for pools up to 1000, halved each time the
// pool size passes the next doubling of that threshold.
func OverSelectionProportion(size int) float64 {
	proportion := 0.32
	for delimiter := 1000; size > delimiter; delimiter *= 2 {
		proportion /= 2
	}
	return proportion
}

// LinearRank weights programs linearly by rank. Gradient 1 gives every rank
// the same weight, gradient 0 gives the worst program none.
type LinearRank struct {
	rng      random.Source
	gradient float64
	wheel    wheel
}

func NewLinearRank(rng random.Source, gradient float64) (*LinearRank, error) {
	if err := checkRNG(rng); err != nil {
		return nil, err
	}
	if gradient < 0 || gradient > 1 || math.IsNaN(gradient) {
		return nil, fmt.Errorf("%w: gradient %v outside [0,1]", ErrInvalidParameter, gradient)
	}
	return &LinearRank{rng: rng, gradient: gradient}, nil
}

func (*LinearRank) Name() string { return "linear_rank" }

func (s *LinearRank) SetPool(fitness []float64) error {
	if err := checkPool(fitness); err != nil {
		return err
	}
	s.wheel = s.build(fitness)
	return nil
}

func (s *LinearRank) Select() int {
	return s.wheel.spin(s.rng.Float64())
}

func (s *LinearRank) Pool(fitness []float64, size int) ([]int, error) {
	if err := checkPoolSize(fitness, size); err != nil {
		return nil, err
	}
	w := s.build(fitness)
	pool := make([]int, size)
	for i := range pool {
		pool[i] = w.spin(s.rng.Float64())
	}
	return pool, nil
}

// Probabilities returns the cumulative table prepared by SetPool, ordered
// worst program first.
func (s *LinearRank) Probabilities() []float64 {
	return append([]float64(nil), s.wheel.cum...)
}

func (s *LinearRank) build(fitness []float64) wheel {
	n := len(fitness)
	order := identity(n)
	sort.SliceStable(order, func(a, b int) bool { return fitness[order[a]] > fitness[order[b]] })
	if n == 1 {
		return wheel{order: order, cum: []float64{1}}
	}

	best := 2 / (s.gradient + 1)
	worst := 2 * s.gradient / (s.gradient + 1)
	weights := make([]float64, n)
	for i := range weights {
		rank := float64(n - i)
		weights[i] = (best + (worst-best)*(rank-1)/float64(n-1)) / float64(n)
	}
	return wheel{order: order, cum: cumulate(weights)}
}

// Random picks uniformly with replacement.
type Random struct {
	rng  random.Source
	size int
}

func NewRandom(rng random.Source) (*Random, error) {
	if err := checkRNG(rng); err != nil {
		return nil, err
	}
	return &Random{rng: rng}, nil
}

func (*Random) Name() string { return "random" }

func (s *Random) SetPool(fitness []float64) error {
	if err := checkPool(fitness); err != nil {
		return err
	}
	s.size = len(fitness)
	return nil
}

func (s *Random) Select() int {
	return s.rng.Intn(s.size)
}

func (s *Random) Pool(fitness []float64, size int) ([]int, error) {
	if err := checkPoolSize(fitness, size); err != nil {
		return nil, err
	}
	pool := make([]int, size)
	for i := range pool {
		pool[i] = s.rng.Intn(len(fitness))
	}
	return pool, nil
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
