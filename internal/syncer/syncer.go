// Package syncer drains the sync queue to an object store.
//
// Only sealed envelopes leave the device: the uploaded object is the
// ciphertext, nonce and clear-text index fields of a record. Failed attempts
// back off exponentially and become terminal after MaxAttempts.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/clockx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/metrics"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/records"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/syncqueue"
)

const (
	DefaultInterval    = time.Minute
	DefaultBatchSize   = 50
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = 30 * time.Second
	DefaultMaxBackoff  = time.Hour
)

var ErrAlreadyRunning = errors.New("syncer is already running")

// ObjectStore is where envelopes end up. *S3Store satisfies it.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Delete(ctx context.Context, key string) error
}

type Options struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Clock       clockx.Clock
	Logger      logging.Logger
	Metrics     *metrics.Metrics
}

type Result struct {
	Uploaded int
	Deleted  int
	Retried  int
	Failed   int
	// Skipped counts upserts whose record was gone by the time they ran.
	Skipped int
}

type Syncer struct {
	queue   syncqueue.Repository
	records records.Repository
	store   ObjectStore
	opts    Options

	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func New(queue syncqueue.Repository, recs records.Repository, store ObjectStore, opts Options) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clockx.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Syncer{queue: queue, records: recs, store: store, opts: opts}
}

// ObjectKey is the object name of a record.
func ObjectKey(tenantID, recordID string) string {
	return fmt.Sprintf("tenants/%s/records/%s.json", tenantID, recordID)
}

// Envelope is the uploaded object body.
type Envelope struct {
	TenantID   string              `json:"tenant_id"`
	ID         string              `json:"id"`
	CipherText []byte              `json:"ciphertext"`
	IV         []byte              `json:"iv"`
	Status     models.RecordStatus `json:"status"`
	Priority   models.Priority     `json:"priority"`
	UpdatedAt  time.Time           `json:"updated_at"`
	ExpiresAt  time.Time           `json:"expires_at"`
}

// Backoff returns the delay before retry number attempt (1-based).
func (s *Syncer) Backoff(attempt int) time.Duration {
	d := s.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.opts.MaxBackoff {
			return s.opts.MaxBackoff
		}
	}
	return min(d, s.opts.MaxBackoff)
}

// RunOnce processes one batch of due items. Concurrent calls are serialized.
func (s *Syncer) RunOnce(ctx context.Context) (Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	var res Result
	items, err := s.queue.Due(ctx, s.opts.Clock.Now(), s.opts.BatchSize)
	if err != nil {
		return res, err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ok, err := s.queue.Claim(ctx, it.ID)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		if err := s.process(ctx, it, &res); err != nil {
			return res, s.release(ctx, it, err)
		}
	}
	return res, nil
}

// release puts a claimed item back to pending after a bookkeeping error, so
// it is picked up again once the backoff elapses.
func (s *Syncer) release(ctx context.Context, it *models.SyncQueueItem, cause error) error {
	retryAt := s.opts.Clock.Now().Add(s.Backoff(it.Attempts + 1))
	if err := s.queue.MarkRetry(context.WithoutCancel(ctx), it.ID, retryAt, cause.Error()); err != nil {
		return errors.Join(cause, fmt.Errorf("release sync item %d: %w", it.ID, err))
	}
	s.opts.Logger.Warn(ctx, "sync item released", "item", it.ID, "retry_at", retryAt, "error", cause)
	return cause
}

// process handles one claimed item. Only queue bookkeeping errors are
// returned; upload errors are recorded on the item.
func (s *Syncer) process(ctx context.Context, it *models.SyncQueueItem, res *Result) error {
	key := ObjectKey(it.TenantID, it.RecordID)

	var uploadErr error
	switch it.Action {
	case models.SyncUpsert:
		rec, err := s.records.Get(ctx, it.TenantID, it.RecordID)
		if err != nil {
			return err
		}
		if rec == nil {
			res.Skipped++
			s.opts.Metrics.SyncUpload("skipped")
			return s.queue.MarkDone(ctx, it.ID)
		}
		body, err := json.Marshal(Envelope{
			TenantID:   rec.TenantID,
			ID:         rec.ID,
			CipherText: rec.CipherText,
			IV:         rec.IV,
			Status:     rec.Status,
			Priority:   rec.Priority,
			UpdatedAt:  rec.UpdatedAt,
			ExpiresAt:  rec.ExpiresAt,
		})
		if err != nil {
			return fmt.Errorf("encode envelope[%s]: %w", it.RecordID, err)
		}
		uploadErr = s.store.Put(ctx, key, body)
	case models.SyncDelete:
		uploadErr = s.store.Delete(ctx, key)
	default:
		uploadErr = fmt.Errorf("unknown sync action %q", it.Action)
	}

	if uploadErr == nil {
		if it.Action == models.SyncDelete {
			res.Deleted++
		} else {
			res.Uploaded++
		}
		s.opts.Metrics.SyncUpload("done")
		return s.queue.MarkDone(ctx, it.ID)
	}

	attempt := it.Attempts + 1
	if attempt >= s.opts.MaxAttempts {
		res.Failed++
		s.opts.Metrics.SyncUpload("failed")
		s.opts.Logger.Error(ctx, "sync item failed permanently", "item", it.ID, "attempts", attempt, "error", uploadErr)
		return s.queue.MarkFailed(ctx, it.ID, uploadErr.Error())
	}

	res.Retried++
	s.opts.Metrics.SyncUpload("retry")
	retryAt := s.opts.Clock.Now().Add(s.Backoff(attempt))
	s.opts.Logger.Warn(ctx, "sync item will be retried", "item", it.ID, "attempt", attempt, "retry_at", retryAt, "error", uploadErr)
	return s.queue.MarkRetry(ctx, it.ID, retryAt, uploadErr.Error())
}

// Start runs a batch immediately and then every Interval until Stop or ctx
// cancellation.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx, s.done)
	return nil
}

func (s *Syncer) Stop() {
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

func (s *Syncer) loop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		res, err := s.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.opts.Logger.Error(ctx, "sync batch failed", "error", err)
		} else if res.Uploaded+res.Deleted+res.Retried+res.Failed > 0 {
			s.opts.Logger.Info(ctx, "sync batch completed",
				"uploaded", res.Uploaded, "deleted", res.Deleted, "retried", res.Retried, "failed", res.Failed)
		}

		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
