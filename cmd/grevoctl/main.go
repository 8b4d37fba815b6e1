package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"grevo/internal/logging"
	"grevo/internal/telemetry"
	"grevo/pkg/grevo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	storeKind    string
	dbPath       string
	artifactsDir string
	exportsDir   string
	logLevel     string
	logFormat    string
	stderr       io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stderr: stderr}
	root := &cobra.Command{
		Use:           "grevoctl",
		Short:         "Run and inspect grammar-guided genetic programming experiments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.storeKind, "store", "", "store backend: memory|sqlite (default from config, else memory)")
	flags.StringVar(&opts.dbPath, "db-path", "", "sqlite database path (default grevo.db)")
	flags.StringVar(&opts.artifactsDir, "artifacts-dir", "", "run artifacts directory (default runs)")
	flags.StringVar(&opts.exportsDir, "exports-dir", "", "export destination directory (default exports)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text|json|auto")

	root.AddCommand(
		newRunCmd(opts),
		newRunsCmd(opts),
		newFitnessCmd(opts),
		newDiagnosticsCmd(opts),
		newTopCmd(opts),
		newLineageCmd(opts),
		newExportCmd(opts),
		newGrammarCmd(),
		newSampleCmd(),
	)
	return root
}

func (o *globalOptions) logger(level, format string) (*slog.Logger, error) {
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	if level == "" {
		level = "info"
	}
	return logging.New(o.stderr, level, format)
}

func (o *globalOptions) client(logger *slog.Logger, metrics *telemetry.Metrics) (*grevo.Client, error) {
	return grevo.New(grevo.Options{
		StoreKind:    o.storeKind,
		DBPath:       o.dbPath,
		ArtifactsDir: o.artifactsDir,
		ExportsDir:   o.exportsDir,
		Logger:       logger,
		Metrics:      metrics,
	})
}

type runOptions struct {
	configPath  string
	runID       string
	runs        int
	seed        int64
	metricsAddr string
	jsonOut     bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve programs as described by a YAML config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to the run config")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "override the config run id")
	cmd.Flags().IntVar(&opts.runs, "runs", 0, "override the number of runs")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "override the random seed")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "emit the run summary as JSON")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runRun(cmd *cobra.Command, global *globalOptions, opts runOptions) error {
	ctx := cmd.Context()
	cfg, err := grevo.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.runID != "" {
		cfg.RunID = opts.runID
	}
	if cmd.Flags().Changed("runs") {
		cfg.Runs = opts.runs
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = opts.seed
	}

	logger, err := global.logger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	// Flags win over the config file for where results go.
	resolved := *global
	if resolved.storeKind == "" {
		resolved.storeKind = cfg.Store.Kind
		if resolved.dbPath == "" {
			resolved.dbPath = cfg.Store.DBPath
		}
	}
	if resolved.artifactsDir == "" {
		resolved.artifactsDir = cfg.ArtifactsDir
	}

	var metrics *telemetry.Metrics
	if opts.metricsAddr != "" {
		metrics = telemetry.NewMetrics()
		srv := &http.Server{Addr: opts.metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "addr", opts.metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", opts.metricsAddr)
	}

	client, err := resolved.client(logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, grevo.RunRequest{Config: cfg})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		type runItem struct {
			RunID        string `json:"run_id"`
			Success      bool   `json:"success"`
			Generations  int    `json:"generations"`
			BestFitness  string `json:"best_fitness"`
			BestSource   string `json:"best_source"`
			ArtifactsDir string `json:"artifacts_dir"`
			ElapsedMS    int64  `json:"elapsed_ms"`
		}
		items := make([]runItem, 0, len(summary.Runs))
		for _, r := range summary.Runs {
			items = append(items, runItem{
				RunID:        r.RunID,
				Success:      r.Success,
				Generations:  r.Generations,
				BestFitness:  formatFitness(r.BestFitness),
				BestSource:   r.BestSource,
				ArtifactsDir: r.ArtifactsDir,
				ElapsedMS:    r.Elapsed.Milliseconds(),
			})
		}
		return writeJSON(out, items)
	}

	for _, r := range summary.Runs {
		fmt.Fprintf(out, "run_id=%s success=%t generations=%d best_fitness=%s reversions=%s elapsed=%s artifacts=%s\n",
			r.RunID,
			r.Success,
			r.Generations,
			formatFitness(r.BestFitness),
			humanize.Comma(int64(r.Reversions.Total())),
			r.Elapsed.Round(time.Millisecond),
			r.ArtifactsDir,
		)
	}
	fmt.Fprintf(out, "best_run=%s best_fitness=%s cache_hits=%s cache_misses=%s\n",
		summary.BestRunID,
		formatFitness(summary.BestFitness),
		humanize.Comma(summary.CacheHits),
		humanize.Comma(summary.CacheMisses),
	)
	fmt.Fprintf(out, "best_program=%s\n", summary.BestSource)
	return nil
}

func formatFitness(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
