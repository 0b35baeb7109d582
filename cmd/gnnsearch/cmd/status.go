package cmd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/autograph/gnnsearch/internal/report"
	"github.com/autograph/gnnsearch/pkg/api"
)

var (
	statusServer string
	statusToken  string
	statusCA     string
	statusTop    int
)

// statusCmd queries the status server of a running search
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of a running search",
	Long: `Reads /trials and /leaderboard from the status server of a search started
with metrics.addr set. The server and token default to the metrics config.`,
	Example: `  gnnsearch status --server http://127.0.0.1:9090
  gnnsearch status --server https://search-host:9090 --ca status-cert.pem --token $TOKEN`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusServer, "server", "", "status server URL (default: derived from metrics.addr)")
	statusCmd.Flags().StringVar(&statusToken, "token", "", "API token (default: metrics.token)")
	statusCmd.Flags().StringVar(&statusCA, "ca", "", "CA certificate to trust for https")
	statusCmd.Flags().IntVar(&statusTop, "top", 10, "leaderboard entries to show")
}

type statusOutput struct {
	api.TrialsResponse `yaml:",inline"`
	Leaderboard        []api.LeaderboardEntry `json:"leaderboard" yaml:"leaderboard"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	server := statusServer
	if server == "" {
		if cfg.Metrics.Addr == "" {
			return fmt.Errorf("no status server: set --server or metrics.addr")
		}
		server = serverURL(cfg.Metrics.Addr, cfg.Metrics.TLSEnabled())
	}
	token := statusToken
	if token == "" {
		token = cfg.Metrics.Token
	}

	opts := []api.ClientOption{api.WithToken(token)}
	if statusCA != "" {
		pem, err := os.ReadFile(statusCA)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("failed to parse CA certificate %s", statusCA)
		}
		opts = append(opts, api.WithTLSConfig(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}))
	}
	client := api.NewClient(server, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trials, err := client.Trials(ctx, "")
	if err != nil {
		return err
	}
	board, err := client.Leaderboard(ctx, statusTop)
	if err != nil {
		return err
	}

	if !isTable() {
		return report.Export(os.Stdout, outputFormat, statusOutput{TrialsResponse: *trials, Leaderboard: board.Entries})
	}

	if trials.RunID == "" {
		fmt.Println("No search is running")
		return nil
	}
	fmt.Printf("Run %s (%s)\n", trials.RunID, trials.State)
	if s := trials.Stats; s != nil {
		fmt.Printf("Submitted %d, pending %d, running %d, completed %d, failed %d, canceled %d\n\n",
			s.Submitted, s.Pending, s.Running, s.Completed, s.Failed, s.Canceled)
	}

	entries := make([]report.Entry, len(board.Entries))
	for i, e := range board.Entries {
		entries[i] = report.Entry{
			Rank:        e.Rank,
			TrialID:     e.TrialID,
			Seq:         e.Seq,
			Config:      e.Config,
			ValAccuracy: e.ValAccuracy,
			DurationS:   e.DurationS,
		}
	}
	return report.WriteLeaderboard(os.Stdout, entries)
}

// serverURL turns a listen address into a URL a local client can reach
func serverURL(addr string, https bool) string {
	scheme := "http://"
	if https {
		scheme = "https://"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	addr = strings.Replace(addr, "0.0.0.0:", "127.0.0.1:", 1)
	return scheme + addr
}
