package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/autograph/gnnsearch/internal/report"
	"github.com/autograph/gnnsearch/pkg/store"
)

var (
	historyRunID string
	historyLimit int
)

// historyCmd reads past runs from the store
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored runs, or the trials of one run",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "show the trials of this run")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := store.NewStore(store.Config{Type: cfg.Store.Type, DSN: cfg.Store.DSN})
	if err != nil {
		return err
	}
	defer st.Close()

	if historyRunID != "" {
		if _, err := st.GetRun(historyRunID); err != nil {
			return err
		}
		recs, err := st.ListTrials(historyRunID)
		if err != nil {
			return err
		}
		if !isTable() {
			return report.Export(os.Stdout, outputFormat, recs)
		}
		return report.WriteTrials(os.Stdout, recs)
	}

	runs, err := st.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if !isTable() {
		return report.Export(os.Stdout, outputFormat, runs)
	}
	return report.WriteRuns(os.Stdout, runs)
}
