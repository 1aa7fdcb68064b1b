// Package cli is the medkeeper command line.
//
// Storage, crypto and integration settings use the single-letter flags and
// JSON file understood by package config (-d, -s, -c ...). They may appear
// anywhere on the command line; the commands themselves only define long
// flags.
package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/app"
	"github.com/dmitrijs2005/medkeeper/internal/config"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
	"github.com/spf13/cobra"
)

const (
	envSessionSecret    = "MEDKEEPER_SESSION_SECRET"
	envSignerCredential = "MEDKEEPER_SIGNER_CREDENTIAL"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Tenant string
	Actor  string

	// configArgs is the raw command line handed to config.Load.
	configArgs []string
}

// NewRootCommand creates the root command. args is the full command line
// without the program name; config flags are read from it.
func NewRootCommand(args []string) *cobra.Command {
	opts := &RootOptions{configArgs: args}

	cmd := &cobra.Command{
		Use:   "medkeeper",
		Short: "Offline encrypted store for medical documents",
		Long: `medkeeper keeps medical documents encrypted at rest, expires them on
schedule, versions critical edits, and manages signature requests and
time-limited share links.

Settings come from defaults, then a JSON file (-c), then flags such as
-d <database> and -s <signing secret>.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Tenant, "tenant", "default", "tenant the session is bound to")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "local", "name written to the audit log")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewCheckPayloadCommand(opts))
	cmd.AddCommand(NewSignerCommand(opts))
	cmd.AddCommand(NewSignCommand(opts))
	cmd.AddCommand(NewShareCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	allowConfigFlags(cmd)
	return cmd
}

// allowConfigFlags lets the config flags through cobra's parser on every
// command.
func allowConfigFlags(cmd *cobra.Command) {
	cmd.FParseErrWhitelist = cobra.FParseErrWhitelist{UnknownFlags: true}
	for _, c := range cmd.Commands() {
		allowConfigFlags(c)
	}
}

// withApp loads the config, builds the App and runs fn with it.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(o.configArgs)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// unlock asks for the session secret and opens the tenant vault.
func (o *RootOptions) unlock(ctx context.Context, cmd *cobra.Command, a *app.App) (*vault.Store, error) {
	secret, err := secretFrom(envSessionSecret, "Session secret: ", cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	store, err := a.Unlock(ctx, o.Tenant, secret)
	if err != nil {
		return nil, fmt.Errorf("unlock tenant %s: %w", o.Tenant, err)
	}
	return store, nil
}

// withStore is withApp plus an unlocked vault.
func (o *RootOptions) withStore(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, s *vault.Store) error) error {
	return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
		store, err := o.unlock(ctx, cmd, a)
		if err != nil {
			return err
		}
		return fn(ctx, a, store)
	})
}
