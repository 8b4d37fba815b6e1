package evo

import (
	"context"
	"time"

	"grevo/internal/operator"
	"grevo/internal/program"
)

// Operation kinds reported to observers.
const (
	OpSeed         = "seed"
	OpElite        = "elite"
	OpCrossover    = "crossover"
	OpMutation     = "mutation"
	OpReproduction = "reproduction"
)

// Reversions counts discarded attempts per scope.
type Reversions struct {
	Initialisation   int `json:"initialisation"`
	Pool             int `json:"pool"`
	Crossover        int `json:"crossover"`
	Mutation         int `json:"mutation"`
	Reproduction     int `json:"reproduction"`
	Generation       int `json:"generation"`
	CrossoverNoPoint int `json:"crossover_no_point"`
	InvalidOffspring int `json:"invalid_offspring"`
}

func (r Reversions) Total() int {
	return r.Initialisation + r.Pool + r.Crossover + r.Mutation + r.Reproduction +
		r.Generation + r.CrossoverNoPoint + r.InvalidOffspring
}

func (r *Reversions) add(other Reversions) {
	r.Initialisation += other.Initialisation
	r.Pool += other.Pool
	r.Crossover += other.Crossover
	r.Mutation += other.Mutation
	r.Reproduction += other.Reproduction
	r.Generation += other.Generation
	r.CrossoverNoPoint += other.CrossoverNoPoint
	r.InvalidOffspring += other.InvalidOffspring
}

// GenerationReport describes a committed generation. Population and Fitness
// are index-aligned and must not be modified by observers.
type GenerationReport struct {
	RunID       string
	Generation  int
	Population  program.Population
	Fitness     []float64
	BestFitness float64
	BestEver    float64
	Reversions  Reversions
	Duration    time.Duration
}

// OperationRecord is one committed birth.
type OperationRecord struct {
	RunID      string
	Generation int
	Operation  string
	ChildID    string
	ParentIDs  []string
	Source     string
	Crossover  *operator.CrossoverPoints
	Mutation   *operator.MutationPoint
}

type RunResult struct {
	RunID            string
	Generations      int
	Success          bool
	Best             *program.Candidate
	BestFitness      float64
	BestByGeneration []float64
	FinalPopulation  program.Population
	FinalFitness     []float64
	Reversions       Reversions
	Elapsed          time.Duration
}

// Observer receives run progress. Calls happen on the run's goroutine.
type Observer interface {
	OnOperation(ctx context.Context, record OperationRecord)
	OnGeneration(ctx context.Context, report GenerationReport)
	OnRunEnd(ctx context.Context, result RunResult)
}
