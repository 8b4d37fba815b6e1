// Package grevo runs grammar-guided genetic programming experiments and
// queries their stored results.
package grevo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"grevo/internal/config"
	"grevo/internal/logging"
	"grevo/internal/model"
	"grevo/internal/stats"
	"grevo/internal/storage"
	"grevo/internal/telemetry"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "grevo.db"
)

var ErrNoRuns = errors.New("no runs available")

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
	// Metrics, when set, observes every run of the client.
	Metrics *telemetry.Metrics
}

type Client struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *telemetry.Metrics

	artifactsDir string
	exportsDir   string

	initOnce sync.Once
	initErr  error
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		metrics:      opts.Metrics,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// LoadConfig reads and validates a YAML run configuration.
func LoadConfig(path string) (config.Config, error) {
	return config.Load(path)
}

// ParseConfig validates a YAML run configuration held in memory.
func ParseConfig(data []byte) (config.Config, error) {
	return config.Parse(data)
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	Name             string
	CreatedAtUTC     string
	RunIndex         int
	Seed             int64
	Population       int
	Generations      int
	Success          bool
	FinalBestFitness float64
}

// Runs lists indexed runs newest first.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			Name:             e.Name,
			CreatedAtUTC:     e.CreatedAtUTC,
			RunIndex:         e.RunIndex,
			Seed:             e.Seed,
			Population:       e.PopulationSize,
			Generations:      e.Generations,
			Success:          e.Success,
			FinalBestFitness: e.FinalBestFitness.Float64(),
		})
	}
	return out, nil
}

// RunRef names a stored run either by id or as the most recent one.
type RunRef struct {
	RunID  string
	Latest bool
}

func (c *Client) resolve(ctx context.Context, ref RunRef, what string) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if !ref.Latest {
		if ref.RunID == "" {
			return "", fmt.Errorf("%s requires run id or latest", what)
		}
		return ref.RunID, nil
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) > 0 {
		return entries[0].RunID, nil
	}
	if err := c.ensureStore(ctx); err != nil {
		return "", err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrNoRuns
	}
	return runs[0].RunID, nil
}

// lookup reads a run record from the store and falls back to the run's
// artifact files, so results stay readable after an in-memory run.
func lookup[T any](ctx context.Context, c *Client, runID, what string,
	fromStore func(context.Context, string) (T, bool, error),
	fromFiles func(string, string) (T, bool, error),
) (T, error) {
	var zero T
	if err := c.ensureStore(ctx); err != nil {
		return zero, err
	}
	value, ok, err := fromStore(ctx, runID)
	if err != nil {
		return zero, err
	}
	if ok {
		return value, nil
	}
	value, ok, err = fromFiles(c.artifactsDir, runID)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, fmt.Errorf("%s not found for run id: %s", what, runID)
	}
	return value, nil
}

type QueryRequest struct {
	RunRef
	Limit int
}

func checkLimit(limit int) error {
	if limit < 0 {
		return errors.New("limit must be >= 0")
	}
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return append([]T(nil), items...)
}

// RunRecord returns the stored summary of one run.
func (c *Client) RunRecord(ctx context.Context, ref RunRef) (model.RunRecord, error) {
	runID, err := c.resolve(ctx, ref, "run")
	if err != nil {
		return model.RunRecord{}, err
	}
	return lookup(ctx, c, runID, "run", c.store.GetRun, stats.ReadRun)
}

func (c *Client) FitnessHistory(ctx context.Context, req QueryRequest) ([]float64, error) {
	if err := checkLimit(req.Limit); err != nil {
		return nil, err
	}
	runID, err := c.resolve(ctx, req.RunRef, "fitness history")
	if err != nil {
		return nil, err
	}
	history, err := lookup(ctx, c, runID, "fitness history", c.store.GetFitnessHistory, stats.ReadFitnessHistory)
	if err != nil {
		return nil, err
	}
	return truncate(history, req.Limit), nil
}

func (c *Client) Diagnostics(ctx context.Context, req QueryRequest) ([]model.GenerationDiagnostics, error) {
	if err := checkLimit(req.Limit); err != nil {
		return nil, err
	}
	runID, err := c.resolve(ctx, req.RunRef, "diagnostics")
	if err != nil {
		return nil, err
	}
	diagnostics, err := lookup(ctx, c, runID, "diagnostics", c.store.GetGenerationDiagnostics, stats.ReadGenerationDiagnostics)
	if err != nil {
		return nil, err
	}
	return truncate(diagnostics, req.Limit), nil
}

func (c *Client) TopPrograms(ctx context.Context, req QueryRequest) ([]model.TopProgramRecord, error) {
	if err := checkLimit(req.Limit); err != nil {
		return nil, err
	}
	runID, err := c.resolve(ctx, req.RunRef, "top programs")
	if err != nil {
		return nil, err
	}
	top, err := lookup(ctx, c, runID, "top programs", c.store.GetTopPrograms, stats.ReadTopPrograms)
	if err != nil {
		return nil, err
	}
	return truncate(top, req.Limit), nil
}

func (c *Client) Lineage(ctx context.Context, req QueryRequest) ([]model.LineageRecord, error) {
	if err := checkLimit(req.Limit); err != nil {
		return nil, err
	}
	runID, err := c.resolve(ctx, req.RunRef, "lineage")
	if err != nil {
		return nil, err
	}
	lineage, err := lookup(ctx, c, runID, "lineage", c.store.GetLineage, stats.ReadLineage)
	if err != nil {
		return nil, err
	}
	return truncate(lineage, req.Limit), nil
}

type ExportRequest struct {
	RunRef
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolve(ctx, req.RunRef, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}
