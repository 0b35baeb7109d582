package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/autograph/gnnsearch/internal/report"
	"github.com/autograph/gnnsearch/pkg/space"
)

// spaceCmd lists the trials a search space expands to
var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Print the trials of a search space",
	Long:  `Expands the configured (or built-in) search space into its full cross product, in submission order.`,
	RunE:  runSpace,
}

func init() {
	rootCmd.AddCommand(spaceCmd)
	spaceCmd.Flags().String("space", "", "search space YAML file (default: built-in space)")
	bindFlag(spaceCmd, "search.space_file", "space")
}

func runSpace(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s := space.Default()
	if cfg.Search.SpaceFile != "" {
		if s, err = space.Load(cfg.Search.SpaceFile); err != nil {
			return err
		}
	}
	specs, err := s.TrialSpecs(cfg.Search.Seed)
	if err != nil {
		return err
	}

	if !isTable() {
		return report.Export(os.Stdout, outputFormat, specs)
	}
	return report.WriteSpecs(os.Stdout, specs)
}
