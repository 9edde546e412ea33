package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootOptions are shared by every subcommand.
type rootOptions struct {
	server string
	apiKey string
	json   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "scanctl",
		Short: "Command-line client for the docscan API",
		Long: `scanctl drives a docscan server: it uploads images for analysis,
cancels the running analysis, follows analysis events and browses
the analysis history.

Only one analysis runs at a time. Starting a second one while the
first is running fails with "already_in_progress".`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("SCANCTL_SERVER", "http://localhost:8080"), "Base URL of the docscan server")
	cmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("SCANCTL_API_KEY"), "API key sent as X-API-Key")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON responses")

	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newCancelCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newFeedbackCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	return cmd
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.apiKey)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
