// Package app wires the medkeeper components together from a Config and runs
// the background workers.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/autosave"
	"github.com/dmitrijs2005/medkeeper/internal/clockx"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/config"
	"github.com/dmitrijs2005/medkeeper/internal/filex"
	"github.com/dmitrijs2005/medkeeper/internal/integrity"
	"github.com/dmitrijs2005/medkeeper/internal/keys"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/metrics"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/netx"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/metadata"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/records"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/shares"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/syncqueue"
	"github.com/dmitrijs2005/medkeeper/internal/sharing"
	"github.com/dmitrijs2005/medkeeper/internal/signatures"
	"github.com/dmitrijs2005/medkeeper/internal/storage"
	"github.com/dmitrijs2005/medkeeper/internal/sweeper"
	"github.com/dmitrijs2005/medkeeper/internal/syncer"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
	"github.com/prometheus/client_golang/prometheus"
)

// Swapped in tests.
var (
	openAuditPostgres = audit.OpenPostgres
	newS3Store        = func(ctx context.Context, c syncer.S3Config) (syncer.ObjectStore, error) {
		return syncer.NewS3Store(ctx, c)
	}
)

type App struct {
	Config   *config.Config
	Logger   logging.Logger
	Clock    clockx.Clock
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	DB         *sql.DB
	Keys       *keys.Service
	Vault      *vault.Manager
	Sweeper    *sweeper.Sweeper
	Audit      audit.Sink
	Shares     *sharing.Gateway
	Signatures *signatures.Manager
	Integrity  *integrity.Service
	// Syncer is nil unless an S3 bucket is configured.
	Syncer *syncer.Syncer

	closers []func() error
}

// New opens storage and builds every component. Log output goes to logOut.
// The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logOut io.Writer) (_ *App, err error) {
	logger := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)
	reg := prometheus.NewRegistry()

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Clock:    clockx.Real{},
		Registry: reg,
		Metrics:  metrics.New(reg),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := filex.EnsureParentDir(cfg.DatabasePath); err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, cfg.DatabasePath, logger.With("module", "storage"))
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	salts, err := a.metadataRepository(cfg)
	if err != nil {
		return nil, err
	}
	a.Keys = keys.NewService(salts, keys.Options{
		Origin:     cfg.Origin,
		Iterations: cfg.KDFIterations,
		Logger:     logger.With("module", "keys"),
	})

	a.Vault = vault.NewManager(db, a.Keys, vault.Options{
		DefaultTTL: cfg.DefaultTTL,
		Sync:       cfg.SyncEnabled(),
		Clock:      a.Clock,
		Logger:     logger.With("module", "vault"),
		Metrics:    a.Metrics,
	})
	a.closers = append(a.closers, func() error { a.Vault.Close(); return nil })

	recs := records.NewSQLiteRepository(db)
	queue := syncqueue.NewSQLiteRepository(db)

	a.Sweeper = sweeper.New(recs, queue, sweeper.Options{
		Interval:        cfg.SweepInterval,
		FailedRetention: cfg.FailedSyncRetention,
		Clock:           a.Clock,
		Logger:          logger.With("module", "sweeper"),
		Metrics:         a.Metrics,
	})

	if err := a.openAudit(ctx, cfg); err != nil {
		return nil, err
	}

	shareRepo, err := a.shareRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Shares = sharing.New(shareRepo, vaultDocuments{m: a.Vault}, a.Audit, sharing.Options{
		RedeemRate:  cfg.RedeemRatePerSecond,
		RedeemBurst: cfg.RedeemBurst,
		Clock:       a.Clock,
		Logger:      logger.With("module", "sharing"),
		Metrics:     a.Metrics,
	})

	a.Signatures = signatures.New(db, a.Audit, signatures.Options{
		Clock:   a.Clock,
		Logger:  logger.With("module", "signatures"),
		Metrics: a.Metrics,
	})

	a.Integrity, err = integrity.New([]byte(cfg.SigningSecret), a.Clock)
	if err != nil {
		return nil, err
	}

	if cfg.SyncEnabled() {
		store, err := newS3Store(ctx, syncer.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		a.Syncer = syncer.New(queue, recs, store, syncer.Options{
			Interval:    cfg.SyncInterval,
			MaxAttempts: cfg.SyncMaxAttempts,
			Clock:       a.Clock,
			Logger:      logger.With("module", "syncer"),
			Metrics:     a.Metrics,
		})
	}

	return a, nil
}

func (a *App) metadataRepository(cfg *config.Config) (metadata.Repository, error) {
	if cfg.MetadataBackend != "badger" {
		return metadata.NewSQLiteRepository(a.DB), nil
	}
	path := cfg.BadgerPath
	if path == "" {
		path = cfg.DatabasePath + ".meta"
	}
	bdb, err := metadata.OpenBadger(path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, bdb.Close)
	return metadata.NewBadgerRepository(bdb), nil
}

func (a *App) openAudit(ctx context.Context, cfg *config.Config) error {
	if cfg.AuditDSN == "" {
		a.Audit = audit.NewSQLiteSink(a.DB)
		return nil
	}
	sink, pg, err := openAuditPostgres(ctx, cfg.AuditDSN)
	if err != nil {
		return fmt.Errorf("audit init error: %w", err)
	}
	a.Audit = sink
	a.closers = append(a.closers, pg.Close)
	return nil
}

func (a *App) shareRepository(ctx context.Context, cfg *config.Config) (shares.Repository, error) {
	if cfg.ShareBackend != "redis" {
		return shares.NewSQLiteRepository(a.DB), nil
	}
	r, err := shares.NewRedisRepository(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("share store init error: %w", err)
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}

// Unlock derives the tenant key and makes the vault current.
func (a *App) Unlock(ctx context.Context, tenantID, sessionSecret string) (*vault.Store, error) {
	return a.Vault.Initialize(ctx, tenantID, sessionSecret)
}

// NewAutosave returns a coordinator writing docKey through store with the
// given record status.
func (a *App) NewAutosave(docKey string, store *vault.Store, status models.RecordStatus, autosaveContext string) *autosave.Coordinator {
	return autosave.New(docKey, autosave.VaultPersister{Store: store, Status: status}, autosave.Options{
		Context:     autosaveContext,
		BaseDelay:   a.Config.AutosaveBaseDelay,
		MaxVersions: a.Config.MaxVersions,
		Clock:       a.Clock,
		Logger:      a.Logger.With("module", "autosave", "document", docKey),
		Metrics:     a.Metrics,
	})
}

// DocumentHash fingerprints the current content of a document. It is the
// signatures.ContentHasher of the open vault.
func (a *App) DocumentHash(ctx context.Context, documentID string) (string, error) {
	fp, err := a.Fingerprint(ctx, documentID)
	if err != nil {
		return "", err
	}
	return fp.Hash, nil
}

func (a *App) Fingerprint(ctx context.Context, documentID string) (models.DocumentFingerprint, error) {
	doc, err := vaultDocuments{m: a.Vault}.Get(ctx, documentID)
	if err != nil {
		return models.DocumentFingerprint{}, err
	}
	if doc == nil {
		return models.DocumentFingerprint{}, fmt.Errorf("document %s: %w", documentID, common.ErrorNotFound)
	}
	return a.Integrity.ComputeHash(documentID, doc.Data)
}

// Serve runs the sweeper, the syncer and the metrics endpoint until ctx is
// cancelled or SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopSignals := a.initSignalHandler(cancel)
	defer stopSignals()

	a.Logger.Info(ctx, "starting medkeeper", "database", a.Config.DatabasePath, "sync", a.Syncer != nil)

	if err := a.Sweeper.Start(ctx); err != nil {
		return err
	}
	defer a.Sweeper.Stop()

	if a.Syncer != nil {
		if err := a.Syncer.Start(ctx); err != nil {
			return err
		}
		defer a.Syncer.Stop()
	}

	var (
		wg     sync.WaitGroup
		srvErr error
	)
	if a.Config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := netx.Serve(ctx, a.Config.MetricsAddr, metrics.Handler(a.Registry), a.Logger.With("module", "metrics")); err != nil {
				a.Logger.Error(ctx, "metrics server failed", "error", err)
				srvErr = err
				cancel()
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	a.Logger.Info(ctx, "medkeeper stopped")
	return srvErr
}

func (a *App) initSignalHandler(cancel context.CancelFunc) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
