package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/app"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/sharing"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
	"github.com/spf13/cobra"
)

func NewShareCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Issue and redeem time-limited read links",
	}
	cmd.AddCommand(newShareIssueCommand(opts))
	cmd.AddCommand(newShareRedeemCommand(opts))
	return cmd
}

func newShareIssueCommand(opts *RootOptions) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "issue <document-id>",
		Short: "Issue a share token for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, _ *vault.Store) error {
				tok, err := a.Shares.Issue(ctx, args[0], hours, opts.Actor)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "token: %s\n", tok.Token)
				fmt.Fprintf(out, "expires: %s\n", tok.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&hours, "hours", sharing.DefaultHours, "validity in hours (1 to 168)")
	return cmd
}

func newShareRedeemCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <token>",
		Short: "Read a shared document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, _ *vault.Store) error {
				r, err := a.Shares.Redeem(ctx, args[0])
				if err != nil {
					return err
				}
				if r == nil {
					return common.ErrShareUnavailable
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "document %s, access #%d\n", r.DocumentID, r.AccessCount)
				return writeJSON(cmd.OutOrStdout(), r.Data)
			})
		},
	}
}
