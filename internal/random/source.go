package random

import "math/rand"

// Source is the single random stream an evolutionary run draws from. Every
// stochastic choice goes through it so a run is reproducible from its seed.
type Source interface {
	Intn(n int) int
	Float64() float64
	Bool() bool
	Seed(seed int64)
}

type mathSource struct {
	rng *rand.Rand
}

// New returns a Source backed by math/rand seeded with seed.
func New(seed int64) Source {
	return &mathSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *mathSource) Intn(n int) int   { return s.rng.Intn(n) }
func (s *mathSource) Float64() float64 { return s.rng.Float64() }
func (s *mathSource) Bool() bool       { return s.rng.Intn(2) == 1 }
func (s *mathSource) Seed(seed int64)  { s.rng.Seed(seed) }
