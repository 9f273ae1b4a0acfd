package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/medrex/consent-ledger/pkg/client"
)

var (
	serverAddr string
	adminAddr  string
	token      string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "consentctl",
	Short:        "Consent ledger command line client",
	SilenceUsage: true,
	Long: `consentctl talks to the consent ledger service.

Patients and providers use the public API to request, approve and revoke
consent and to read records. Administrators use the admin API to manage
identities and inspect the security log.`,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOr("CONSENT_LEDGER_SERVER", "http://localhost:8080"), "public API address")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin-server", envOr("CONSENT_LEDGER_ADMIN", "http://localhost:8081"), "admin API address")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CONSENT_LEDGER_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *client.Client {
	return client.New(serverAddr).WithAdmin(adminAddr).WithToken(token)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
