package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/ocrgate/internal/bench"
	"github.com/example/ocrgate/internal/text"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		runs          int
		repeat        int
		format        string
		minThroughput float64
	)

	cmd := &cobra.Command{
		Use:   "bench [file]",
		Short: "Benchmark text normalization throughput",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if repeat < 1 {
				return fmt.Errorf("--repeat must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			input, err := readInput(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if input == "" {
				return fmt.Errorf("bench input is empty")
			}
			input = strings.Repeat(input, repeat)

			results := bench.Run(input, runs, text.Normalize)

			durations := make([]time.Duration, len(results))
			for i, r := range results {
				durations[i] = r.Duration
			}
			stats := bench.ComputeStats(durations)

			switch format {
			case "json":
				bench.FormatJSON(results, stats, cmd.OutOrStdout())
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckThroughputThreshold(bench.MeanThroughput(results), minThroughput)
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 5, "Number of normalization runs")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "Concatenate the input this many times before running")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&minThroughput, "min-throughput", 0, "Exit non-zero if mean MiB/s falls below this value (0 = disabled)")

	return cmd
}
