package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autograph/gnnsearch/internal/config"
	"github.com/autograph/gnnsearch/internal/report"
	"github.com/autograph/gnnsearch/pkg/logging"
)

var (
	cfgFile      string
	outputFormat string

	// flag -> config key bindings, applied once viper exists
	bindings []binding
)

type binding struct {
	cmd  *cobra.Command
	bind func(v *viper.Viper) error
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gnnsearch",
	Short: "Time-budgeted model selection for graph node classification",
	Long: `gnnsearch trains many graph neural network configurations in parallel under a
wall-clock budget, ranks them by validation accuracy and soft-votes the best
ones into predictions for the unlabeled nodes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case report.FormatTable, report.FormatJSON, report.FormatYAML:
			return nil
		}
		return fmt.Errorf("unsupported output format %q", outputFormat)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gnnsearch/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", report.FormatTable, "output format: table, json or yaml")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	bindPersistentFlag(rootCmd, "logging.level", "log-level")
}

// bindFlag makes flag name of cmd override config key when it is set
func bindFlag(cmd *cobra.Command, key, name string) {
	bindings = append(bindings, binding{cmd: cmd, bind: func(v *viper.Viper) error {
		return v.BindPFlag(key, cmd.Flags().Lookup(name))
	}})
}

func bindPersistentFlag(cmd *cobra.Command, key, name string) {
	bindings = append(bindings, binding{cmd: cmd, bind: func(v *viper.Viper) error {
		return v.BindPFlag(key, cmd.PersistentFlags().Lookup(name))
	}})
}

// loadConfig reads the config file and environment, then applies the flags
// of cmd and its parents. Several commands bind the same key, so only the
// running command's bindings may be applied.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		if !inLineage(cmd, b.cmd) {
			continue
		}
		if err := b.bind(v); err != nil {
			return nil, fmt.Errorf("failed to bind flag: %w", err)
		}
	}
	return config.Load(v)
}

func inLineage(cmd, ancestor *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == ancestor {
			return true
		}
	}
	return false
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return cfg.Logging.NewLogger("gnnsearch")
}

func isTable() bool {
	return outputFormat == report.FormatTable
}
