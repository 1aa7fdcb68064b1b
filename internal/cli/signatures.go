package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/app"
	"github.com/dmitrijs2005/medkeeper/internal/signatures"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
	"github.com/spf13/cobra"
)

var errSignatureInvalid = errors.New("signature is not valid")

func NewSignerCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signer",
		Short: "Manage signer identities",
	}
	cmd.AddCommand(newSignerRegisterCommand(opts))
	return cmd
}

func newSignerRegisterCommand(opts *RootOptions) *cobra.Command {
	var identifier, name string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a signer; the credential is prompted for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				credential, err := secretFrom(envSignerCredential, "Signer credential: ", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				s, err := a.Signatures.RegisterSigner(ctx, signatures.RegisterSignerRequest{
					Identifier: identifier,
					Name:       name,
					Credential: credential,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered signer %s (%s)\n", s.Identifier, s.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&identifier, "id", "", "signer identifier, e.g. a license number")
	cmd.Flags().StringVar(&name, "name", "", "signer display name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func NewSignCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Request, approve, revoke and verify signatures",
	}
	cmd.AddCommand(newSignRequestCommand(opts))
	cmd.AddCommand(newSignApproveCommand(opts))
	cmd.AddCommand(newSignRevokeCommand(opts))
	cmd.AddCommand(newSignVerifyCommand(opts))
	cmd.AddCommand(newSignListCommand(opts))
	return cmd
}

func newSignRequestCommand(opts *RootOptions) *cobra.Command {
	var (
		signerID   string
		signerName string
		expiresIn  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request <document-id>",
		Short: "Create a signature request over the current document content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, _ *vault.Store) error {
				hash, err := a.DocumentHash(ctx, args[0])
				if err != nil {
					return err
				}
				req, err := a.Signatures.RequestSignature(ctx, signatures.Request{
					DocumentID:       args[0],
					SignerName:       signerName,
					SignerIdentifier: signerID,
					DocumentHash:     hash,
					ExpiresIn:        expiresIn,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "request: %s\n", req.RequestID)
				fmt.Fprintf(out, "token: %s\n", req.VerificationToken)
				fmt.Fprintf(out, "expires: %s\n", req.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&signerID, "signer-id", "", "identifier of the registered signer")
	cmd.Flags().StringVar(&signerName, "signer-name", "", "signer display name")
	cmd.Flags().DurationVar(&expiresIn, "expires", signatures.DefaultExpiry, "request lifetime (1h to 168h)")
	_ = cmd.MarkFlagRequired("signer-id")
	_ = cmd.MarkFlagRequired("signer-name")
	return cmd
}

func newSignApproveCommand(opts *RootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Sign a pending request; the signer credential is prompted for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				credential, err := secretFrom(envSignerCredential, "Signer credential: ", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				rec, err := a.Signatures.Sign(ctx, args[0], token, credential)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "signature: %s\n", rec.SignatureID)
				fmt.Fprintf(out, "signed at: %s\n", rec.SignedAt.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "verification token returned by sign request")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newSignRevokeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <request-id>",
		Short: "Revoke a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Signatures.Revoke(ctx, args[0], opts.Actor); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func newSignVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <signature-id>",
		Short: "Verify a signature against the current document content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, _ *vault.Store) error {
				v := a.Signatures.Verify(ctx, args[0], a.DocumentHash)

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "signature: %s\n", v.SignatureID)
				fmt.Fprintf(out, "document: %s\n", v.DocumentID)
				fmt.Fprintf(out, "hash valid: %t\n", v.HashValid)
				fmt.Fprintf(out, "valid: %t\n", v.Valid)
				if v.CertificateInfo.Subject != "" {
					fmt.Fprintf(out, "signer: %s (%s)\n", v.CertificateInfo.Subject, v.CertificateInfo.Method)
				}
				if !v.Valid {
					return errSignatureInvalid
				}
				return nil
			})
		},
	}
}

func newSignListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <document-id>",
		Short: "List the signatures of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				recs, err := a.Signatures.Records(ctx, args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SIGNATURE\tSIGNER\tSIGNED")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.SignatureID, r.SignerIdentifier, r.SignedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}
