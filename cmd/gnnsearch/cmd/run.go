package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/autograph/gnnsearch/internal/report"
	"github.com/autograph/gnnsearch/pkg/driver"
	"github.com/autograph/gnnsearch/pkg/ingest"
	"github.com/autograph/gnnsearch/pkg/shutdown"
)

var (
	runDataPath    string
	runBudget      time.Duration
	runClasses     int
	runDirected    bool
	runValFraction float64
	runSplitSeed   int64
	runPredictions string
)

// runCmd trains, ensembles and predicts
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Search the model space and predict test-node labels",
	Long: `Loads a graph, trains every configuration of the search space on a bounded
worker pool until the time budget (minus a safety margin) runs out, then
soft-votes the best trials into one label per test node.`,
	Example: `  gnnsearch run --data graph.json --classes 3 --budget 60s
  gnnsearch run --data graph.json --classes 7 --budget 10m --mode sampled --output json`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runDataPath, "data", "", "graph JSON file (required)")
	runCmd.Flags().DurationVar(&runBudget, "budget", 60*time.Second, "wall-clock time budget")
	runCmd.Flags().IntVar(&runClasses, "classes", 0, "number of classes (required)")
	runCmd.Flags().BoolVar(&runDirected, "directed", false, "treat edges as directed")
	runCmd.Flags().Float64Var(&runValFraction, "val-fraction", ingest.DefaultValFraction, "share of training nodes held out when the graph has no validation split")
	runCmd.Flags().Int64Var(&runSplitSeed, "split-seed", 0, "seed for the validation hold-out")
	runCmd.Flags().StringVar(&runPredictions, "predictions", "", "write predicted labels as JSON to this file")
	runCmd.MarkFlagRequired("data")
	runCmd.MarkFlagRequired("classes")

	runCmd.Flags().String("space", "", "search space YAML file (default: built-in space)")
	runCmd.Flags().String("mode", "", "search mode: flat or sampled")
	runCmd.Flags().Int("max-trials", 0, "cap on submitted trials (0 = whole space)")
	runCmd.Flags().Int("max-concurrent", 0, "cap on concurrently running trials")
	runCmd.Flags().String("metrics-addr", "", "serve status and metrics on this address")
	runCmd.Flags().String("checkpoint-dir", "", "save every trained model under this directory")
	runCmd.Flags().String("metrics-file", "", "write a Prometheus textfile snapshot here after the run")
	bindFlag(runCmd, "search.space_file", "space")
	bindFlag(runCmd, "search.mode", "mode")
	bindFlag(runCmd, "search.max_trials", "max-trials")
	bindFlag(runCmd, "resources.max_concurrent", "max-concurrent")
	bindFlag(runCmd, "metrics.addr", "metrics-addr")
	bindFlag(runCmd, "driver.checkpoint_dir", "checkpoint-dir")
	bindFlag(runCmd, "metrics.textfile", "metrics-file")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	raw, err := ingest.LoadFile(runDataPath)
	if err != nil {
		return err
	}

	d, err := driver.New(cfg, driver.WithLogger(logger))
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := shutdown.WaitForSignal(context.Background())
	defer stop()

	out, err := d.Run(ctx, raw, runBudget, runClasses, ingest.Schema{
		Directed:    runDirected,
		ValFraction: runValFraction,
		Seed:        runSplitSeed,
	})
	if err != nil {
		return err
	}

	if runPredictions != "" {
		if err := writePredictions(runPredictions, out.Predictions); err != nil {
			return err
		}
	}

	summary := out.Summary()
	if !isTable() {
		return report.Export(os.Stdout, outputFormat, summary)
	}
	if err := report.WriteLeaderboard(os.Stdout, summary.Leaderboard); err != nil {
		return err
	}
	fmt.Printf("\nRun %s: %d/%d trials completed, %d in the ensemble, %d test nodes labeled\n",
		out.Run.ID, out.Run.Completed, out.Run.Submitted, len(out.Selected), len(out.Predictions))
	return nil
}

func writePredictions(path string, labels []int) error {
	data, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("failed to marshal predictions: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write predictions: %w", err)
	}
	return nil
}
