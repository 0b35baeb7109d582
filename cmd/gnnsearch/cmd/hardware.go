package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/autograph/gnnsearch/internal/report"
	"github.com/autograph/gnnsearch/pkg/resources"
)

// hardwareCmd shows the capacity the executor would size itself to
var hardwareCmd = &cobra.Command{
	Use:   "hardware",
	Short: "Show detected capacity and the derived concurrency limit",
	Long: `Detects logical CPUs, memory and NVIDIA GPUs, applies configured overrides and
prints how many trials may run at once with the configured per-trial claim.`,
	RunE: runHardware,
}

func init() {
	rootCmd.AddCommand(hardwareCmd)
}

type hardwareReport struct {
	Capacity resources.Capacity `json:"capacity" yaml:"capacity"`
	Claim    resources.Budget   `json:"claim" yaml:"claim"`
	Limit    int                `json:"limit" yaml:"limit"`
}

func runHardware(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	c, err := resources.DetectCapacity(context.Background(), nil)
	if err != nil {
		return err
	}
	c = c.Override(cfg.Resources.CPUs, cfg.Resources.GPUs)

	budget := cfg.Resources.Budget()
	limit, err := resources.ConcurrencyLimit(c, budget)
	if err != nil {
		return err
	}
	limit = resources.Limit(limit, limit, cfg.Resources.MaxConcurrent)

	if !isTable() {
		return report.Export(os.Stdout, outputFormat, hardwareReport{
			Capacity: c,
			Claim:    budget.Effective(c),
			Limit:    limit,
		})
	}
	return report.WriteHardware(os.Stdout, c, budget, limit)
}
