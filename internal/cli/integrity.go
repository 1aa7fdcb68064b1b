package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/app"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
	"github.com/spf13/cobra"
)

// NewHashCommand prints the fingerprint of a stored document and a signed
// verification payload for it.
func NewHashCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <id>",
		Short: "Fingerprint a document and issue a verification payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, _ *vault.Store) error {
				fp, err := a.Fingerprint(ctx, args[0])
				if err != nil {
					return err
				}
				payload, err := a.Integrity.GenerateVerificationPayload(fp)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "document: %s\n", fp.DocumentID)
				fmt.Fprintf(out, "hash: %s\n", fp.Hash)
				fmt.Fprintf(out, "algorithm: %s\n", fp.AlgorithmVersion)
				fmt.Fprintf(out, "payload: %s\n", payload)
				return nil
			})
		},
	}
}

// NewCheckPayloadCommand checks a verification payload against the current
// content of the document it names.
func NewCheckPayloadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-payload <payload>",
		Short: "Check a verification payload against the stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, _ *vault.Store) error {
				fp, err := a.Integrity.ParseVerificationPayload(args[0])
				if err != nil {
					return err
				}
				current, err := a.DocumentHash(ctx, fp.DocumentID)
				if err != nil {
					return err
				}
				if current != fp.Hash {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: content changed since the payload was issued\n", fp.DocumentID)
					return common.ErrChecksumMismatch
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: content matches\n", fp.DocumentID)
				return nil
			})
		},
	}
}
