package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"grevo/internal/grammar"
	"grevo/pkg/grevo"
)

type grammarSource struct {
	file   string
	inline string
}

func (g *grammarSource) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.file, "file", "", "BNF grammar file ('-' for stdin)")
	cmd.Flags().StringVar(&g.inline, "grammar", "", "inline BNF grammar")
	cmd.MarkFlagsMutuallyExclusive("file", "grammar")
	cmd.MarkFlagsOneRequired("file", "grammar")
}

func (g *grammarSource) text(stdin io.Reader) (string, error) {
	switch {
	case g.inline != "":
		return g.inline, nil
	case g.file == "-":
		data, err := io.ReadAll(stdin)
		return string(data), err
	case g.file != "":
		data, err := os.ReadFile(g.file)
		return string(data), err
	}
	return "", errors.New("grammar requires --file or --grammar")
}

func depthLabel(depth int) string {
	if depth == grammar.Infinite {
		return "inf"
	}
	return strconv.Itoa(depth)
}

func newGrammarCmd() *cobra.Command {
	var (
		src     grammarSource
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "grammar",
		Short: "Parse a grammar and report rule depths and recursion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := src.text(cmd.InOrStdin())
			if err != nil {
				return err
			}
			info, err := grevo.DescribeGrammar(text)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, info)
			}
			fmt.Fprintf(out, "start=%s minimum_depth=%s rules=%d\n", info.Start, depthLabel(info.MinimumDepth), len(info.Rules))
			for _, rule := range info.Rules {
				fmt.Fprintf(out, "rule=<%s> min_depth=%s recursive=%t\n", rule.Name, depthLabel(rule.MinDepth), rule.Recursive)
				for _, p := range rule.Productions {
					fmt.Fprintf(out, "  production=%q min_depth=%s recursive=%t\n", p.Text, depthLabel(p.MinDepth), p.Recursive)
				}
			}
			return nil
		},
	}
	src.bind(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the grammar report as JSON")
	return cmd
}

func newSampleCmd() *cobra.Command {
	var (
		src     grammarSource
		req     grevo.SampleRequest
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate random programs from a grammar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := src.text(cmd.InOrStdin())
			if err != nil {
				return err
			}
			req.Grammar = text
			samples, err := grevo.SampleTrees(req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, samples)
			}
			for _, s := range samples {
				fmt.Fprintf(out, "depth=%d source=%q\n", s.Depth, s.Source)
			}
			return nil
		},
	}
	src.bind(cmd)
	cmd.Flags().StringVar(&req.Method, "method", "ramped_half_and_half", "initialiser: ramped_half_and_half|grow|full")
	cmd.Flags().IntVar(&req.Count, "count", 10, "number of programs")
	cmd.Flags().IntVar(&req.Depth, "depth", 6, "maximum derivation depth")
	cmd.Flags().IntVar(&req.StartDepth, "start-depth", 2, "smallest depth of the ramp")
	cmd.Flags().Int64Var(&req.Seed, "seed", 1, "random seed")
	cmd.Flags().BoolVar(&req.AcceptDuplicates, "accept-duplicates", false, "allow identical programs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit samples as JSON")
	return cmd
}
