package report

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/autograph/gnnsearch/pkg/models"
	"github.com/autograph/gnnsearch/pkg/resources"
)

// WriteLeaderboard renders ranked trials, marking ensemble members with '*'
func WriteLeaderboard(w io.Writer, entries []Entry) error {
	table := tablewriter.NewWriter(w)
	table.Header("Rank", "Seq", "Config", "Val Acc", "Time", "Ensemble")

	for _, e := range entries {
		mark := ""
		if e.Selected {
			mark = "*"
		}
		table.Append(
			fmt.Sprintf("%d", e.Rank),
			fmt.Sprintf("%d", e.Seq),
			e.Config,
			fmt.Sprintf("%.4f", e.ValAccuracy),
			fmt.Sprintf("%.1fs", e.DurationS),
			mark,
		)
	}
	return table.Render()
}

// WriteRuns renders stored runs
func WriteRuns(w io.Writer, runs []*models.Run) error {
	table := tablewriter.NewWriter(w)
	table.Header("Run", "Started", "Budget", "Graph", "N", "Trials", "Status")

	for _, r := range runs {
		table.Append(
			r.ID,
			r.StartedAt.Format(time.RFC3339),
			fmt.Sprintf("%.0fs", r.BudgetS),
			fmt.Sprintf("%d nodes / %d edges", r.NumNodes, r.NumEdges),
			fmt.Sprintf("%d", r.Concurrency),
			fmt.Sprintf("%d/%d ok, %d failed", r.Completed, r.Submitted, r.Failed),
			string(r.Status),
		)
	}
	return table.Render()
}

// WriteTrials renders the stored records of one run
func WriteTrials(w io.Writer, recs []*models.TrialRecord) error {
	table := tablewriter.NewWriter(w)
	table.Header("Seq", "Config", "Status", "Val Acc", "Time", "Error")

	for _, r := range recs {
		acc := "-"
		if r.Status == models.TrialStatusCompleted {
			acc = fmt.Sprintf("%.4f", r.ValAccuracy)
		}
		table.Append(
			fmt.Sprintf("%d", r.Spec.Seq),
			r.Spec.String(),
			string(r.Status),
			acc,
			fmt.Sprintf("%.1fs", r.Timing.Duration().Seconds()),
			r.Error,
		)
	}
	return table.Render()
}

// WriteSpecs renders enumerated trial configurations
func WriteSpecs(w io.Writer, specs []models.TrialSpec) error {
	table := tablewriter.NewWriter(w)
	table.Header("Seq", "Conv", "Hidden", "Layers", "Dropout", "Iter", "WD", "LR")

	for _, s := range specs {
		table.Append(
			fmt.Sprintf("%d", s.Seq),
			s.Conv.String(),
			fmt.Sprintf("%d", s.HiddenSize),
			fmt.Sprintf("%d", s.NumLayers),
			fmt.Sprintf("%.2f/%.2f", s.InDropout, s.OutDropout),
			fmt.Sprintf("%d", s.NIter),
			fmt.Sprintf("%g", s.WeightDecay),
			fmt.Sprintf("%g", s.LearningRate),
		)
	}
	return table.Render()
}

// WriteHardware renders detected capacity and the concurrency it allows
func WriteHardware(w io.Writer, c resources.Capacity, b resources.Budget, limit int) error {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	eff := b.Effective(c)
	table.Append("CPUs", fmt.Sprintf("%g", c.CPUs))
	table.Append("GPUs", fmt.Sprintf("%g", c.GPUs))
	for i, name := range c.GPUNames {
		table.Append(fmt.Sprintf("GPU %d", i), name)
	}
	table.Append("Memory", fmt.Sprintf("%.1f GiB", float64(c.MemoryBytes)/(1<<30)))
	table.Append("Claim per trial", fmt.Sprintf("cpu=%g gpu=%g", eff.CPUPerTrial, eff.GPUPerTrial))
	if !c.HasGPU() && b.GPUPerTrial > 0 {
		table.Append("Mode", "cpu-only (no GPU detected)")
	}
	table.Append("Concurrency limit", fmt.Sprintf("%d", limit))
	return table.Render()
}
