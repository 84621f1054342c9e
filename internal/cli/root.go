// Package cli is the roadtrip command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/roadtrip/internal/config"
	"github.com/bryan-buckman/roadtrip/internal/logging"
)

// NewRootCmd returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "roadtrip",
		Short:         "Archive maps and post them to Tumblr on a daily schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnv(logging.NewLogger())
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPublishCmd())
	rootCmd.AddCommand(newPreviewCmd())
	rootCmd.AddCommand(newAddUserCmd())

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
