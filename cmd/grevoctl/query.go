package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"grevo/pkg/grevo"
)

type queryOptions struct {
	runID   string
	latest  bool
	limit   int
	jsonOut bool
}

func (q *queryOptions) bind(cmd *cobra.Command, what string, limit int) {
	cmd.Flags().StringVar(&q.runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&q.latest, "latest", false, "use the most recent run from the run index")
	cmd.Flags().IntVar(&q.limit, "limit", limit, fmt.Sprintf("max %s to print (0 for all)", what))
	cmd.Flags().BoolVar(&q.jsonOut, "json", false, "emit "+what+" as JSON")
	cmd.MarkFlagsMutuallyExclusive("run-id", "latest")
	cmd.MarkFlagsOneRequired("run-id", "latest")
}

func (q *queryOptions) request() grevo.QueryRequest {
	return grevo.QueryRequest{
		RunRef: grevo.RunRef{RunID: q.runID, Latest: q.latest},
		Limit:  q.limit,
	}
}

// withClient opens a quiet client for read-only commands.
func withClient(global *globalOptions, fn func(*grevo.Client) error) error {
	logger, err := global.logger("warn", "auto")
	if err != nil {
		return err
	}
	client, err := global.client(logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	return fn(client)
}

func newRunsCmd(global *globalOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			return withClient(global, func(client *grevo.Client) error {
				items, err := client.Runs(cmd.Context(), grevo.RunsRequest{Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOut {
					return writeJSON(out, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(out, "no runs found")
					return nil
				}
				for _, item := range items {
					fmt.Fprintf(out, "run_id=%s name=%s created=%s seed=%d pop=%d gens=%d success=%t final_best_fitness=%s\n",
						item.RunID,
						item.Name,
						createdAgo(item.CreatedAtUTC),
						item.Seed,
						item.Population,
						item.Generations,
						item.Success,
						formatFitness(item.FinalBestFitness),
					)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs list as JSON")
	return cmd
}

func createdAgo(stamp string) string {
	created, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return stamp
	}
	return strings.ReplaceAll(humanize.Time(created), " ", "_")
}

func newFitnessCmd(global *globalOptions) *cobra.Command {
	var q queryOptions
	cmd := &cobra.Command{
		Use:   "fitness",
		Short: "Show the best fitness of each generation of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(global, func(client *grevo.Client) error {
				history, err := client.FitnessHistory(cmd.Context(), q.request())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if q.jsonOut {
					labels := make([]string, len(history))
					for i, v := range history {
						labels[i] = formatFitness(v)
					}
					return writeJSON(out, labels)
				}
				if len(history) == 0 {
					fmt.Fprintln(out, "no fitness history")
					return nil
				}
				for i, best := range history {
					fmt.Fprintf(out, "generation=%d best_fitness=%s\n", i, formatFitness(best))
				}
				return nil
			})
		},
	}
	q.bind(cmd, "generations", 50)
	return cmd
}

func newDiagnosticsCmd(global *globalOptions) *cobra.Command {
	var q queryOptions
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show per-generation population statistics of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(global, func(client *grevo.Client) error {
				diagnostics, err := client.Diagnostics(cmd.Context(), q.request())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if q.jsonOut {
					return writeJSON(out, diagnostics)
				}
				if len(diagnostics) == 0 {
					fmt.Fprintln(out, "no diagnostics")
					return nil
				}
				for _, d := range diagnostics {
					fmt.Fprintf(out, "generation=%d best=%s mean=%s std=%s worst=%s scored=%d mean_depth=%.2f max_depth=%d unique=%d reversions=%d duration=%s\n",
						d.Generation,
						formatFitness(d.BestFitness.Float64()),
						formatFitness(d.MeanFitness.Float64()),
						formatFitness(d.StdDevFitness.Float64()),
						formatFitness(d.WorstFitness.Float64()),
						d.ScoredCount,
						d.MeanDepth,
						d.MaxDepth,
						d.UniqueSources,
						d.Reversions.Total(),
						time.Duration(d.DurationMillis)*time.Millisecond,
					)
				}
				return nil
			})
		},
	}
	q.bind(cmd, "generations", 50)
	return cmd
}

func newTopCmd(global *globalOptions) *cobra.Command {
	var q queryOptions
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the best distinct programs of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(global, func(client *grevo.Client) error {
				top, err := client.TopPrograms(cmd.Context(), q.request())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if q.jsonOut {
					return writeJSON(out, top)
				}
				if len(top) == 0 {
					fmt.Fprintln(out, "no top programs")
					return nil
				}
				for _, p := range top {
					fmt.Fprintf(out, "rank=%d fitness=%s depth=%d id=%s source=%q\n",
						p.Rank,
						formatFitness(p.Fitness.Float64()),
						p.Depth,
						p.ID,
						p.Source,
					)
				}
				return nil
			})
		},
	}
	q.bind(cmd, "programs", 10)
	return cmd
}

func newLineageCmd(global *globalOptions) *cobra.Command {
	var q queryOptions
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Show how programs of a run were produced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(global, func(client *grevo.Client) error {
				lineage, err := client.Lineage(cmd.Context(), q.request())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if q.jsonOut {
					return writeJSON(out, lineage)
				}
				if len(lineage) == 0 {
					fmt.Fprintln(out, "no lineage records")
					return nil
				}
				for _, rec := range lineage {
					parents := strings.Join(rec.ParentIDs, ",")
					if parents == "" {
						parents = "-"
					}
					rule := rec.Rule
					if rule == "" {
						rule = "-"
					}
					fmt.Fprintf(out, "gen=%d program_id=%s parents=%s op=%s rule=%s source=%q\n",
						rec.Generation,
						rec.ProgramID,
						parents,
						rec.Operation,
						rule,
						rec.Source,
					)
				}
				return nil
			})
		},
	}
	q.bind(cmd, "lineage rows", 50)
	return cmd
}

func newExportCmd(global *globalOptions) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the artifacts of a run into the exports directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(global, func(client *grevo.Client) error {
				summary, err := client.Export(cmd.Context(), grevo.ExportRequest{
					RunRef: grevo.RunRef{RunID: runID, Latest: latest},
					OutDir: outDir,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run from the run index")
	cmd.Flags().StringVar(&outDir, "out", "", "destination directory (default --exports-dir)")
	cmd.MarkFlagsMutuallyExclusive("run-id", "latest")
	cmd.MarkFlagsOneRequired("run-id", "latest")
	return cmd
}
