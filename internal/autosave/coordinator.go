// Package autosave debounces edits to an in-memory document and persists
// them at a delay chosen by how critical the content looks.
//
// Every Observe restarts the debounce timer, so only the last mutation in a
// window is written. A save that has started always runs to completion;
// ForceSave only cancels the pending timer. Critical and high saves also
// append a version snapshot to a bounded history.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/clockx"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/metrics"
	"github.com/dmitrijs2005/medkeeper/internal/models"
)

const (
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxVersions = 10
	errorBuffer        = 8
)

var ErrClosed = errors.New("autosave coordinator is closed")

// Persister writes documents and their version history.
type Persister interface {
	Save(ctx context.Context, docKey string, data json.RawMessage, c models.Criticality) error
	AppendVersion(ctx context.Context, docKey string, snap models.VersionSnapshot, max int) (*models.VersionSnapshot, error)
	Versions(ctx context.Context, docKey string) ([]models.VersionSnapshot, error)
	Version(ctx context.Context, docKey string, version int64) (*models.VersionSnapshot, error)
}

type Options struct {
	// Context selects the keyword bonus (see ContextPrescription).
	Context     string
	BaseDelay   time.Duration
	MaxVersions int
	Scheduler   clockx.Scheduler
	Clock       clockx.Clock
	Logger      logging.Logger
	Metrics     *metrics.Metrics
}

// State is what an editor shows next to the document.
type State struct {
	IsSaving           bool
	LastSaved          time.Time
	HasUnsavedChanges  bool
	CurrentCriticality models.Criticality
}

type Coordinator struct {
	docKey    string
	persister Persister
	opts      Options

	// saveMu serializes saves; it is held for the whole write.
	saveMu sync.Mutex

	mu          sync.Mutex
	latest      json.RawMessage
	latestSeq   uint64
	savedSeq    uint64
	criticality models.Criticality
	timer       clockx.Timer
	saving      bool
	lastSaved   time.Time
	closed      bool
	errs        chan error
}

func New(docKey string, persister Persister, opts Options) *Coordinator {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxVersions <= 0 {
		opts.MaxVersions = DefaultMaxVersions
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clockx.Real{}
	}
	if opts.Clock == nil {
		opts.Clock = clockx.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Coordinator{
		docKey:      docKey,
		persister:   persister,
		opts:        opts,
		criticality: models.CriticalityLow,
		errs:        make(chan error, errorBuffer),
	}
}

// Errors delivers save failures. Errors are dropped when nobody drains the
// channel fast enough. The channel is closed by Close.
func (c *Coordinator) Errors() <-chan error {
	return c.errs
}

// Observe records the current document and (re)schedules a save.
func (c *Coordinator) Observe(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	a := classifyJSON(raw, c.opts.Context)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.latest = raw
	c.latestSeq++
	c.criticality = a.Criticality
	if c.timer != nil {
		c.timer.Stop()
	}
	seq := c.latestSeq
	c.timer = c.opts.Scheduler.AfterFunc(Delay(c.opts.BaseDelay, a.Criticality), func() {
		c.fire(seq)
	})
	return nil
}

func (c *Coordinator) fire(seq uint64) {
	c.mu.Lock()
	superseded := c.closed || seq != c.latestSeq
	c.mu.Unlock()
	if superseded {
		return
	}
	_ = c.save(context.Background())
}

// ForceSave cancels the pending debounce and saves the latest document now.
// A save already in flight is waited for, not cancelled.
func (c *Coordinator) ForceSave(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.save(ctx)
}

// Flush is ForceSave for teardown hooks.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.ForceSave(ctx)
}

// BeforeExit decides whether the editor may be left. With unsaved critical or
// high changes it forces a save and then asks confirm; otherwise it allows
// exit at once. A nil confirm allows exit only if the save succeeded.
func (c *Coordinator) BeforeExit(ctx context.Context, confirm func() bool) bool {
	st := c.State()
	if !st.HasUnsavedChanges || !st.CurrentCriticality.Retained() {
		return true
	}

	err := c.ForceSave(ctx)
	if confirm == nil {
		return err == nil
	}
	return confirm()
}

func (c *Coordinator) save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if c.latestSeq == c.savedSeq {
		c.mu.Unlock()
		return nil
	}
	data, seq, crit := c.latest, c.latestSeq, c.criticality
	c.saving = true
	c.mu.Unlock()

	// Started writes are not cancelled with the caller.
	wctx := context.WithoutCancel(ctx)

	err := c.persister.Save(wctx, c.docKey, data, crit)
	if err != nil {
		c.mu.Lock()
		c.saving = false
		c.mu.Unlock()
		c.opts.Metrics.AutoSave(string(crit), "error")
		c.opts.Logger.Warn(ctx, "auto-save failed", "doc", c.docKey, "criticality", crit, "error", err)
		c.report(fmt.Errorf("save %s: %w", c.docKey, err))
		return err
	}

	now := c.opts.Clock.Now()
	if crit.Retained() {
		_, verr := c.persister.AppendVersion(wctx, c.docKey, models.VersionSnapshot{
			Data:        data,
			Timestamp:   now,
			Criticality: crit,
		}, c.opts.MaxVersions)
		if verr != nil {
			c.opts.Logger.Warn(ctx, "version snapshot failed", "doc", c.docKey, "error", verr)
			c.report(fmt.Errorf("snapshot %s: %w", c.docKey, verr))
		}
	}

	c.mu.Lock()
	c.saving = false
	if seq > c.savedSeq {
		c.savedSeq = seq
	}
	c.lastSaved = now
	c.mu.Unlock()

	c.opts.Metrics.AutoSave(string(crit), "ok")
	return nil
}

func (c *Coordinator) report(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.errs <- err:
	default:
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		IsSaving:           c.saving,
		LastSaved:          c.lastSaved,
		HasUnsavedChanges:  c.latestSeq != c.savedSeq,
		CurrentCriticality: c.criticality,
	}
}

// History returns the verified version history, newest first.
func (c *Coordinator) History(ctx context.Context) ([]models.VersionSnapshot, error) {
	return c.persister.Versions(ctx, c.docKey)
}

// Restore returns the data of one version. Missing and corrupt versions are
// reported as common.ErrorNotFound. The editor feeds the result back through
// Observe.
func (c *Coordinator) Restore(ctx context.Context, version int64) (json.RawMessage, error) {
	snap, err := c.persister.Version(ctx, c.docKey, version)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("version %d of %s: %w", version, c.docKey, common.ErrorNotFound)
	}
	return snap.Data, nil
}

// Close stops the pending timer and closes the error channel. It does not
// save; call Flush first.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	close(c.errs)
}
