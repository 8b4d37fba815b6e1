package grevo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grevo/internal/config"
	"grevo/internal/evo"
	"grevo/internal/hooks"
	"grevo/internal/model"
	"grevo/internal/program"
	"grevo/internal/stats"
	"grevo/internal/storage"
)

type RunRequest struct {
	Config config.Config
	// Evaluator replaces the fitness section of Config when set.
	Evaluator program.Evaluator
	Hooks     *hooks.Hooks
	Observers []evo.Observer
}

// RunOutcome is the result of one run of a request.
type RunOutcome struct {
	RunID            string
	ArtifactsDir     string
	Success          bool
	Generations      int
	BestFitness      float64
	BestSource       string
	BestByGeneration []float64
	Reversions       model.ReversionCounts
	Elapsed          time.Duration
}

type RunSummary struct {
	Runs []RunOutcome
	// Series aggregates best fitness per generation across runs.
	Series      []stats.SeriesPoint
	BestRunID   string
	BestFitness float64
	BestSource  string
	// CacheHits and CacheMisses count shared fitness cache lookups.
	CacheHits   int64
	CacheMisses int64
}

// Run executes Config.Runs independent runs one after another. The runs
// share one random stream seeded from Config.Seed, so the whole request is
// reproducible. Each run is persisted and written to the artifacts
// directory as soon as it ends.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg := req.Config
	if req.Evaluator != nil {
		cfg.Fitness = config.FitnessConfig{Kind: config.FitnessCustom}
	}
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}
	e, err := buildEngine(cfg, req.Evaluator)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{}
	series := make([][]float64, 0, cfg.Runs)
	for i := 0; i < cfg.Runs; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome, err := c.runOnce(ctx, cfg, e, req, i)
		if err != nil {
			return summary, fmt.Errorf("run %d of %d: %w", i+1, cfg.Runs, err)
		}
		summary.Runs = append(summary.Runs, outcome)
		series = append(series, outcome.BestByGeneration)
		if summary.BestRunID == "" || outcome.BestFitness < summary.BestFitness {
			summary.BestRunID = outcome.RunID
			summary.BestFitness = outcome.BestFitness
			summary.BestSource = outcome.BestSource
		}
	}
	summary.Series = stats.AverageSeries(series)
	if e.memo != nil {
		summary.CacheHits = e.memo.Hits()
		summary.CacheMisses = e.memo.Misses()
	}
	return summary, nil
}

func runID(cfg config.Config, index int) string {
	switch {
	case cfg.RunID == "":
		return uuid.NewString()
	case cfg.Runs == 1:
		return cfg.RunID
	default:
		return fmt.Sprintf("%s-%d", cfg.RunID, index+1)
	}
}

func (c *Client) runOnce(ctx context.Context, cfg config.Config, e *engine, req RunRequest, index int) (RunOutcome, error) {
	id := runID(cfg, index)
	started := time.Now()

	collector := stats.NewCollector(cfg.TopPrograms)
	observers := []evo.Observer{collector}
	if c.metrics != nil {
		observers = append(observers, c.metrics)
	}
	observers = append(observers, req.Observers...)

	mc := e.monitorConfig(cfg, id)
	mc.Hooks = req.Hooks
	mc.Observers = observers
	mc.Logger = c.logger.With("run_index", index)
	monitor, err := evo.NewPopulationMonitor(mc)
	if err != nil {
		return RunOutcome{}, err
	}
	result, err := monitor.Run(ctx)
	if err != nil {
		return RunOutcome{}, err
	}

	record := model.RunRecord{
		VersionedRecord: storage.Stamp(),
		RunID:           id,
		Name:            cfg.Name,
		RunIndex:        index,
		Seed:            cfg.Seed,
		PopulationSize:  cfg.PopulationSize,
		Generations:     result.Generations,
		Success:         result.Success,
		BestFitness:     model.Score(result.BestFitness),
		Reversions:      stats.Reversions(result.Reversions),
		StartedAt:       started.UTC(),
		ElapsedMillis:   result.Elapsed.Milliseconds(),
	}
	if result.Best != nil {
		record.BestSource = result.Best.Source()
		record.BestDepth = result.Best.Depth()
	}

	diagnostics := collector.Diagnostics()
	top := collector.TopPrograms()
	lineage := collector.Lineage()
	if err := c.persist(ctx, record, result.BestByGeneration, diagnostics, top, lineage); err != nil {
		return RunOutcome{}, err
	}

	cfgCopy := cfg
	cfgCopy.RunID = id
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Run:                   record,
		Config:                cfgCopy,
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: diagnostics,
		TopPrograms:           top,
		Lineage:               lineage,
	})
	if err != nil {
		return RunOutcome{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntry(record)); err != nil {
		return RunOutcome{}, err
	}

	c.logger.Info("run stored",
		"run_id", id,
		"artifacts", runDir,
		"best_fitness", result.BestFitness,
		"success", result.Success,
	)
	return RunOutcome{
		RunID:            id,
		ArtifactsDir:     runDir,
		Success:          result.Success,
		Generations:      result.Generations,
		BestFitness:      result.BestFitness,
		BestSource:       record.BestSource,
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		Reversions:       record.Reversions,
		Elapsed:          result.Elapsed,
	}, nil
}

func (c *Client) persist(ctx context.Context, record model.RunRecord, history []float64,
	diagnostics []model.GenerationDiagnostics, top []model.TopProgramRecord, lineage []model.LineageRecord,
) error {
	if err := c.store.SaveRun(ctx, record); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveFitnessHistory(ctx, record.RunID, history); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := c.store.SaveGenerationDiagnostics(ctx, record.RunID, diagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	if err := c.store.SaveTopPrograms(ctx, record.RunID, top); err != nil {
		return fmt.Errorf("save top programs: %w", err)
	}
	if err := c.store.SaveLineage(ctx, record.RunID, lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}
	return nil
}
