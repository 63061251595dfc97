// Package commands implements syncctl, the operator CLI for the sync engine.
package commands

import (
	"os"
	"time"

	"chansync/internal/client"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

var (
	serverURL string
	apiKey    string
	keyHeader string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Operate the channel synchronization engine",
	Long: `syncctl talks to the sync engine HTTP API. It submits syncs, inspects the
ledger and queues, cancels queued work and exports the ledger.

The server and API key default to $CHANSYNC_URL and $CHANSYNC_API_KEY.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if !cmd.Flags().Changed("server") {
			if v := os.Getenv("CHANSYNC_URL"); v != "" {
				serverURL = v
			}
		}
		if !cmd.Flags().Changed("api-key") {
			if v := os.Getenv("CHANSYNC_API_KEY"); v != "" {
				apiKey = v
			}
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "sync engine base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key")
	rootCmd.PersistentFlags().StringVar(&keyHeader, "api-key-header", "x-api-key", "header carrying the API key")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
}

func newClient() *client.Client {
	return client.New(serverURL, apiKey, keyHeader)
}
