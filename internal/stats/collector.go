// Package stats summarises runs and writes their artifacts.
package stats

import (
	"context"
	"math"
	"sync"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/stat"

	"grevo/internal/evo"
	"grevo/internal/model"
	"grevo/internal/program"
	"grevo/internal/storage"
)

// DefaultTopPrograms is the ranking length kept when none is configured.
const DefaultTopPrograms = 10

// Collector is an evo.Observer that keeps per-generation diagnostics,
// lineage and the final ranking of one run.
type Collector struct {
	topN int

	mu          sync.Mutex
	diagnostics []model.GenerationDiagnostics
	lineage     []model.LineageRecord
	top         []model.TopProgramRecord
	result      *evo.RunResult
}

func NewCollector(topN int) *Collector {
	if topN <= 0 {
		topN = DefaultTopPrograms
	}
	return &Collector{topN: topN}
}

func (c *Collector) OnOperation(_ context.Context, record evo.OperationRecord) {
	entry := model.LineageRecord{
		VersionedRecord: storage.Stamp(),
		ProgramID:       record.ChildID,
		ParentIDs:       append([]string(nil), record.ParentIDs...),
		Generation:      record.Generation,
		Operation:       record.Operation,
		Source:          record.Source,
	}
	switch {
	case record.Crossover != nil:
		entry.Rule = record.Crossover.Rule
	case record.Mutation != nil:
		entry.Rule = record.Mutation.Rule
	}

	c.mu.Lock()
	c.lineage = append(c.lineage, entry)
	c.mu.Unlock()
}

func (c *Collector) OnGeneration(_ context.Context, report evo.GenerationReport) {
	summary := Summarise(report)

	c.mu.Lock()
	c.diagnostics = append(c.diagnostics, summary)
	c.mu.Unlock()
}

func (c *Collector) OnRunEnd(_ context.Context, result evo.RunResult) {
	top := TopPrograms(result.FinalPopulation, result.FinalFitness, c.topN)

	c.mu.Lock()
	c.top = top
	c.result = &result
	c.mu.Unlock()
}

func (c *Collector) Diagnostics() []model.GenerationDiagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.GenerationDiagnostics(nil), c.diagnostics...)
}

func (c *Collector) Lineage() []model.LineageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.LineageRecord(nil), c.lineage...)
}

func (c *Collector) TopPrograms() []model.TopProgramRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.TopProgramRecord(nil), c.top...)
}

// Result returns the run result once the run has ended.
func (c *Collector) Result() (evo.RunResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return evo.RunResult{}, false
	}
	return *c.result, true
}

// Summarise computes the diagnostics of one generation. Mean and standard
// deviation cover finite fitness values only; with none they are +Inf.
func Summarise(report evo.GenerationReport) model.GenerationDiagnostics {
	finite := make([]float64, 0, len(report.Fitness))
	worst := math.Inf(-1)
	for _, f := range report.Fitness {
		if math.IsNaN(f) {
			f = math.Inf(1)
		}
		if f > worst {
			worst = f
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) {
			finite = append(finite, f)
		}
	}
	mean, std := math.Inf(1), math.Inf(1)
	switch len(finite) {
	case 0:
	case 1:
		mean, std = finite[0], 0
	default:
		mean, std = stat.MeanStdDev(finite, nil)
	}

	depths := make([]int, len(report.Population))
	unique := make(map[string]struct{}, len(report.Population))
	for i, candidate := range report.Population {
		depths[i] = candidate.Depth()
		unique[candidate.Source()] = struct{}{}
	}
	meanDepth := 0.0
	if len(depths) > 0 {
		meanDepth = stat.Mean(floats(depths), nil)
	}

	return model.GenerationDiagnostics{
		Generation:      report.Generation,
		BestFitness:     model.Score(report.BestFitness),
		MeanFitness:     model.Score(mean),
		StdDevFitness:   model.Score(std),
		WorstFitness:    model.Score(worst),
		ScoredCount:     len(finite),
		MeanDepth:       meanDepth,
		MaxDepth:        maxOf(depths),
		UniqueSources:   len(unique),
		Reversions:      Reversions(report.Reversions),
		DurationMillis:  report.Duration.Milliseconds(),
		BestEverFitness: model.Score(report.BestEver),
	}
}

// TopPrograms ranks a population by fitness, keeping the first occurrence
// of each source, and returns at most n entries.
func TopPrograms(population program.Population, fitness []float64, n int) []model.TopProgramRecord {
	if len(population) != len(fitness) || n <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, n)
	top := make([]model.TopProgramRecord, 0, n)
	for _, i := range evo.RankAscending(fitness) {
		if len(top) == n {
			break
		}
		source := population[i].Source()
		if _, dup := seen[source]; dup {
			continue
		}
		seen[source] = struct{}{}
		top = append(top, model.TopProgramRecord{
			VersionedRecord: storage.Stamp(),
			Rank:            len(top) + 1,
			ID:              population[i].ID(),
			Source:          source,
			Depth:           population[i].Depth(),
			Fitness:         model.Score(fitness[i]),
		})
	}
	return top
}

func Reversions(r evo.Reversions) model.ReversionCounts {
	return model.ReversionCounts{
		Initialisation:   r.Initialisation,
		Pool:             r.Pool,
		Crossover:        r.Crossover,
		Mutation:         r.Mutation,
		Reproduction:     r.Reproduction,
		Generation:       r.Generation,
		CrossoverNoPoint: r.CrossoverNoPoint,
		InvalidOffspring: r.InvalidOffspring,
	}
}

func floats[T constraints.Integer | constraints.Float](values []T) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

func maxOf[T constraints.Ordered](values []T) T {
	var best T
	for i, v := range values {
		if i == 0 || v > best {
			best = v
		}
	}
	return best
}
