package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/app"
	"github.com/dmitrijs2005/medkeeper/internal/autosave"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
	"github.com/spf13/cobra"
)

func parseStatus(s string) (models.RecordStatus, error) {
	switch st := models.RecordStatus(s); st {
	case models.RecordDraft, models.RecordFinal, models.RecordSigned, models.RecordCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", common.ErrValidation, s)
	}
}

func readDocument(cmd *cobra.Command, args []string) (json.RawMessage, error) {
	var (
		b   []byte
		err error
	)
	if len(args) == 0 || args[0] == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%w: document is not valid JSON", common.ErrValidation)
	}
	return json.RawMessage(b), nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, common.ErrorNotFound)
}

// NewPutCommand saves a document through the autosave coordinator, so the
// record priority and version history follow the content.
func NewPutCommand(opts *RootOptions) *cobra.Command {
	var (
		status     string
		docContext string
	)

	cmd := &cobra.Command{
		Use:   "put <id> [file]",
		Short: "Encrypt and store a JSON document (reads stdin without a file)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			data, err := readDocument(cmd, args[1:])
			if err != nil {
				return err
			}
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, s *vault.Store) error {
				c := a.NewAutosave(args[0], s, st, docContext)
				defer c.Close()

				if err := c.Observe(data); err != nil {
					return err
				}
				if err := c.ForceSave(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s (criticality: %s)\n", args[0], c.State().CurrentCriticality)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", string(models.RecordDraft), "record status (draft, final, signed, cancelled)")
	cmd.Flags().StringVar(&docContext, "context", autosave.ContextGeneral, "document context used to weigh keywords")
	return cmd
}

type recordView struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Priority      string            `json:"priority"`
	SchemaVersion int               `json:"schema_version"`
	SavedAt       time.Time         `json:"saved_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Data          json.RawMessage   `json:"data"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func NewGetCommand(opts *RootOptions) *cobra.Command {
	var dataOnly bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Decrypt and print a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, s *vault.Store) error {
				p, err := s.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if p == nil {
					return notFound("record", args[0])
				}
				if dataOnly {
					return writeJSON(cmd.OutOrStdout(), p.Data)
				}
				return writeJSON(cmd.OutOrStdout(), recordView{
					ID:            p.ID,
					Status:        string(p.Status),
					Priority:      string(p.Priority),
					SchemaVersion: p.SchemaVersion,
					SavedAt:       p.SavedAt,
					ExpiresAt:     p.ExpiresAt,
					Metadata:      p.Metadata,
					Data:          p.Data,
				})
			})
		},
	}

	cmd.Flags().BoolVar(&dataOnly, "data", false, "print the document body only")
	return cmd
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live documents with a given status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, s *vault.Store) error {
				items, err := s.ListByStatus(ctx, st)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tPRIORITY\tEXPIRES")
				for _, p := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Priority, p.ExpiresAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", string(models.RecordDraft), "status to list")
	return cmd
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, s *vault.Store) error {
				if err := s.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "List retained versions of a document, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, s *vault.Store) error {
				c := a.NewAutosave(args[0], s, models.RecordDraft, autosave.ContextGeneral)
				defer c.Close()

				hist, err := c.History(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tCRITICALITY\tSAVED")
				for _, v := range hist {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", v.Version, v.Criticality, v.Timestamp.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func NewRestoreCommand(opts *RootOptions) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "restore <id> <version>",
		Short: "Print a retained version, or make it current with --apply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: version must be a number", common.ErrValidation)
			}
			return opts.withStore(cmd, func(ctx context.Context, a *app.App, s *vault.Store) error {
				status := models.RecordDraft
				if cur, err := s.Get(ctx, args[0]); err == nil && cur != nil {
					status = cur.Status
				}

				c := a.NewAutosave(args[0], s, status, autosave.ContextGeneral)
				defer c.Close()

				data, err := c.Restore(ctx, version)
				if err != nil {
					return err
				}
				if !apply {
					return writeJSON(cmd.OutOrStdout(), data)
				}
				if err := c.Observe(data); err != nil {
					return err
				}
				if err := c.ForceSave(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s to version %d\n", args[0], version)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "save the version as the current document")
	return cmd
}
