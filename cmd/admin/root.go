package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// newRootCommand creates the admin CLI with all subcommands registered.
func newRootCommand() *cobra.Command {
	var timeout time.Duration

	rootCmd := &cobra.Command{
		Use:   "admin",
		Short: "Maintenance commands for the koffers API",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "timeout for the operation (e.g. 5m, 1h)")

	withTimeout := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	rootCmd.AddCommand(
		newMigrateCommand(withTimeout),
		newAddConnectionCommand(withTimeout),
		newSyncCommand(withTimeout),
		newMatchCommand(withTimeout),
		newProcessReceiptCommand(withTimeout),
		newRetryReceiptCommand(withTimeout),
		newTokenCommand(),
	)
	return rootCmd
}

type contextFactory func(cmd *cobra.Command) (context.Context, context.CancelFunc)

// printJSON writes v indented, for piping into jq.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
