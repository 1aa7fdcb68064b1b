package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/app"
	"github.com/spf13/cobra"
)

var errSyncDisabled = errors.New("sync is disabled: configure an S3 bucket (-b)")

// NewServeCommand runs the background workers until interrupted.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the expiration sweeper, the sync worker and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired records and old failed sync items once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "records removed: %d\nsync items removed: %d\n",
					res.RecordsRemoved, res.SyncItemsRemoved)
				return nil
			})
		},
	}
}

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload due sync items once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Syncer == nil {
					return errSyncDisabled
				}
				res, err := a.Syncer.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded: %d deleted: %d retried: %d failed: %d skipped: %d\n",
					res.Uploaded, res.Deleted, res.Retried, res.Failed, res.Skipped)
				return nil
			})
		},
	}
}
