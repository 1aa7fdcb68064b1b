// Package sweeper reclaims expired records and stale failed sync items.
//
// A sweep deletes records whose expiry has passed and failed sync items older
// than the retention window. Pending and in-flight sync items are never
// touched. Triggering a sweep while one is running is a no-op.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/clockx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/metrics"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/records"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/syncqueue"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval        = time.Hour
	DefaultFailedRetention = 30 * 24 * time.Hour
)

var ErrAlreadyRunning = errors.New("sweeper is already running")

type Options struct {
	Interval        time.Duration
	FailedRetention time.Duration
	Clock           clockx.Clock
	Logger          logging.Logger
	Metrics         *metrics.Metrics
}

// Result summarizes one sweep.
type Result struct {
	// Skipped is set when another sweep was already in progress.
	Skipped          bool
	RecordsRemoved   int64
	SyncItemsRemoved int64
	Duration         time.Duration
}

type Sweeper struct {
	records records.Repository
	queue   syncqueue.Repository
	opts    Options

	sweeping atomic.Bool

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func New(recs records.Repository, queue syncqueue.Repository, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FailedRetention <= 0 {
		opts.FailedRetention = DefaultFailedRetention
	}
	if opts.Clock == nil {
		opts.Clock = clockx.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Sweeper{records: recs, queue: queue, opts: opts}
}

// Sweep runs one cleanup pass. The record and sync-queue phases run
// concurrently; counts from a phase that failed are still reported.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.opts.Metrics.Sweep("skipped", 0, 0)
		return Result{Skipped: true}, nil
	}
	defer s.sweeping.Store(false)

	started := s.opts.Clock.Now()
	var res Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.records.DeleteExpired(gctx, started)
		res.RecordsRemoved = n
		return err
	})
	g.Go(func() error {
		n, err := s.queue.PurgeFailed(gctx, started.Add(-s.opts.FailedRetention))
		res.SyncItemsRemoved = n
		return err
	})
	err := g.Wait()
	res.Duration = s.opts.Clock.Now().Sub(started)

	if err != nil {
		s.opts.Metrics.Sweep("error", res.RecordsRemoved, res.SyncItemsRemoved)
		return res, err
	}
	s.opts.Metrics.Sweep("ok", res.RecordsRemoved, res.SyncItemsRemoved)
	s.opts.Metrics.RecordPurged("sweep", res.RecordsRemoved)
	return res, nil
}

// Start sweeps once immediately and then every Interval until Stop is called
// or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.done = make(chan struct{})

	s.opts.Logger.Info(ctx, "sweeper starting", "interval", s.opts.Interval.String())

	s.wg.Add(1)
	go s.loop(ctx, s.done)
	return nil
}

// Stop signals the loop and waits for an in-progress sweep to finish. Safe to
// call more than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Sweeper) run(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		s.opts.Logger.Error(ctx, "sweep failed", "error", err)
		return
	}
	if res.Skipped {
		s.opts.Logger.Debug(ctx, "sweep skipped, previous one still running")
		return
	}
	if res.RecordsRemoved > 0 || res.SyncItemsRemoved > 0 {
		s.opts.Logger.Info(ctx, "sweep completed",
			"records_removed", res.RecordsRemoved,
			"sync_items_removed", res.SyncItemsRemoved,
			"duration", res.Duration.String())
	}
}
