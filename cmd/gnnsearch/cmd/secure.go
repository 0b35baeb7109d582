package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/autograph/gnnsearch/internal/report"
	"github.com/autograph/gnnsearch/pkg/auth"
	tlsutil "github.com/autograph/gnnsearch/pkg/tls"
)

var (
	certFile  string
	keyFile   string
	certName  string
	certHosts []string
	certValid time.Duration
)

// tokenCmd creates a status server token
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a status server API token and its bcrypt hash",
	Long: `Prints a random API token and the bcrypt hash to put in metrics.token_hash.
Clients send the token as "Authorization: Bearer <token>" or in X-API-Key.`,
	RunE: runToken,
}

// certCmd creates a self-signed status server certificate
var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Generate a self-signed certificate for the status server",
	RunE:  runCert,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(certCmd)

	certCmd.Flags().StringVar(&certFile, "cert", "status-cert.pem", "certificate output file")
	certCmd.Flags().StringVar(&keyFile, "key", "status-key.pem", "private key output file")
	certCmd.Flags().StringVar(&certName, "common-name", "localhost", "certificate common name")
	certCmd.Flags().StringSliceVar(&certHosts, "host", nil, "additional IP addresses or host names")
	certCmd.Flags().DurationVar(&certValid, "valid-for", 365*24*time.Hour, "certificate lifetime")
}

type tokenOutput struct {
	Token     string `json:"token" yaml:"token"`
	TokenHash string `json:"token_hash" yaml:"token_hash"`
}

func runToken(cmd *cobra.Command, args []string) error {
	token, hash, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	if !isTable() {
		return report.Export(os.Stdout, outputFormat, tokenOutput{Token: token, TokenHash: hash})
	}
	fmt.Printf("Token:      %s\n", token)
	fmt.Printf("Token hash: %s\n", hash)
	fmt.Println("\nSet metrics.token_hash (or GNNSEARCH_METRICS_TOKEN_HASH) to the hash; keep the token secret.")
	return nil
}

func runCert(cmd *cobra.Command, args []string) error {
	if err := tlsutil.GenerateSelfSignedCert(certFile, keyFile, certName, certValid, certHosts...); err != nil {
		return err
	}
	fmt.Printf("Wrote %s and %s\n", certFile, keyFile)
	fmt.Println("Set metrics.tls_cert and metrics.tls_key to serve the status API over HTTPS.")
	return nil
}
