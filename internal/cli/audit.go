package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/app"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/spf13/cobra"
)

var errRemoteAudit = errors.New("audit log is kept in PostgreSQL; query it there")

func NewAuditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <document-id>",
		Short: "Print the audit trail of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				type lister interface {
					List(ctx context.Context, documentID string) ([]*models.AuditLogEntry, error)
				}
				l, ok := a.Audit.(lister)
				if !ok {
					return errRemoteAudit
				}
				entries, err := l.List(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					fmt.Fprintf(out, "%s %s by %s %v\n", e.CreatedAt.Format(time.RFC3339), e.Action, e.ActorName, e.Metadata)
				}
				return nil
			})
		},
	}
}
