package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/roadtrip/internal/config"
	"github.com/bryan-buckman/roadtrip/internal/database"
	"github.com/bryan-buckman/roadtrip/internal/logging"
)

func newPublishCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the next queued unit now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if dryRun {
				cfg.DryRun = true
			}
			a, err := newApp(cmd.Context(), cfg, logging.NewLogger(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.publisher.Publish(cmd.Context())
			out := cmd.OutOrStdout()
			switch {
			case res.Empty:
				fmt.Fprintln(out, "Queue is empty, nothing to publish.")
			case res.DryRun:
				fmt.Fprintf(out, "Dry run: unit %d would be sent as %d post(s).\n", res.UnitID, res.Posts)
			case res.Retired:
				fmt.Fprintf(out, "Unit %d cannot be posted and was taken off the queue.\n", res.UnitID)
			default:
				fmt.Fprintf(out, "Unit %d: %d of %d post(s) submitted, %d failed.\n", res.UnitID, res.Submitted, res.Posts, res.Failed)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the split posts without sending them")
	return cmd
}

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <id>",
		Short: "Show how an archived unit would be split into posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			a, err := newApp(cmd.Context(), config.FromEnv(), logging.NewLogger(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			posts, err := a.publisher.Preview(cmd.Context(), id)
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("unit %d not found", id)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(posts)
		},
	}
}
