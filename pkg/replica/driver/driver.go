// Package driver schedules reconciliation passes. It validates the roots,
// runs one pass at a time on a fixed interval, records each pass and keeps
// going when a pass fails.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/replica/pkg/replica/logging"
	"github.com/jamesainslie/replica/pkg/replica/reconciler"
	"github.com/jamesainslie/replica/pkg/replica/syncerr"
)

// Errors returned by Prepare and New.
var (
	ErrNestedRoots     = errors.New("source and replica must not contain each other")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Prepare checks that source is an existing directory, creates replica if
// it is missing and returns both as absolute paths.
func Prepare(source, replica string) (string, string, error) {
	src, dst, exists, err := Check(source, replica)
	if err != nil {
		return "", "", err
	}
	if !exists {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return "", "", syncerr.New("create replica", dst, err)
		}
	}
	return src, dst, nil
}

// Check validates the roots like Prepare but never creates anything.
// exists reports whether the replica root is already there.
func Check(source, replica string) (src, dst string, exists bool, err error) {
	src, err = filepath.Abs(source)
	if err != nil {
		return "", "", false, fmt.Errorf("resolving source: %w", err)
	}
	dst, err = filepath.Abs(replica)
	if err != nil {
		return "", "", false, fmt.Errorf("resolving replica: %w", err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", "", false, syncerr.New("stat source", src, err)
	}
	if !info.IsDir() {
		return "", "", false, syncerr.As(syncerr.NotADirectory, "stat source", src, errors.New("not a directory"))
	}

	if overlaps(resolve(src), resolve(dst)) {
		return "", "", false, fmt.Errorf("%w: %s, %s", ErrNestedRoots, src, dst)
	}

	info, err = os.Stat(dst)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return src, dst, false, nil
	case err != nil:
		return "", "", false, syncerr.New("stat replica", dst, err)
	case !info.IsDir():
		return "", "", false, syncerr.As(syncerr.NotADirectory, "stat replica", dst, errors.New("not a directory"))
	}
	return src, dst, true, nil
}

func resolve(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(resolve(parent), filepath.Base(path))
}

// overlaps reports whether a and b are equal or one contains the other.
func overlaps(a, b string) bool {
	return within(a, b) || within(b, a)
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Pass records the outcome of one reconciliation pass.
type Pass struct {
	ID       string           `json:"id"`
	Source   string           `json:"source"`
	Replica  string           `json:"replica"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished"`
	Stats    reconciler.Stats `json:"stats"`
	DryRun   bool             `json:"dry_run,omitempty"`

	// Err is the failure message; empty for a successful pass.
	Err string `json:"error,omitempty"`

	// ErrKind is the syncerr kind name of the failure.
	ErrKind string `json:"error_kind,omitempty"`

	// Cancelled is set when the pass stopped because its context ended.
	Cancelled bool `json:"cancelled,omitempty"`
}

// Failed reports whether the pass was aborted by an error.
func (p Pass) Failed() bool {
	return p.Err != ""
}

// Duration returns the wall time of the pass.
func (p Pass) Duration() time.Duration {
	return p.Finished.Sub(p.Started)
}

// HistoryStore persists finished passes.
type HistoryStore interface {
	Record(Pass) error
}

// Config holds the driver settings.
type Config struct {
	Source   string
	Replica  string
	Interval time.Duration
	DryRun   bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithHistory records every pass to h.
func WithHistory(h HistoryStore) Option {
	return func(d *Driver) {
		d.history = h
	}
}

// WithListener calls fn after every pass, in registration order.
func WithListener(fn func(Pass)) Option {
	return func(d *Driver) {
		if fn != nil {
			d.listeners = append(d.listeners, fn)
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// Status is a snapshot of the driver state.
type Status struct {
	Source       string
	Replica      string
	Interval     time.Duration
	DryRun       bool
	Running      bool
	Passes       int
	FailedPasses int
	NextPass     time.Time
	LastPass     *Pass
}

// Driver runs reconciliation passes sequentially.
type Driver struct {
	cfg       Config
	rec       *reconciler.Reconciler
	history   HistoryStore
	listeners []func(Pass)
	logger    *logging.Logger
	trigger   chan struct{}

	mu       sync.Mutex
	running  bool
	passes   int
	failed   int
	nextPass time.Time
	last     *Pass
}

// New creates a driver for the roots in cfg. The roots are not touched
// until the first pass.
func New(cfg Config, rec *reconciler.Reconciler, opts ...Option) (*Driver, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, cfg.Interval)
	}

	d := &Driver{
		cfg:     cfg,
		rec:     rec,
		logger:  logging.Get("driver"),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// RunOnce runs a single pass. The roots are validated first and the
// replica root is recreated if it disappeared; a dry run only reports the
// creation. The returned error is the failure of the pass, also reflected
// in Pass.Err.
func (d *Driver) RunOnce(ctx context.Context) (Pass, error) {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	pass := Pass{
		ID:      uuid.NewString(),
		Source:  d.cfg.Source,
		Replica: d.cfg.Replica,
		Started: time.Now(),
		DryRun:  d.cfg.DryRun,
	}

	stats, err := d.reconcile(ctx, &pass)
	pass.Stats = stats
	pass.Finished = time.Now()

	if err != nil {
		pass.Err = err.Error()
		pass.Cancelled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		var se *syncerr.Error
		if errors.As(err, &se) {
			pass.ErrKind = se.Kind.String()
		}
	}

	d.mu.Lock()
	d.running = false
	d.passes++
	if err != nil {
		d.failed++
	}
	last := pass
	d.last = &last
	d.mu.Unlock()

	d.finish(pass)

	return pass, err
}

// reconcile prepares the roots and runs the reconciler, filling in the
// resolved roots of pass.
func (d *Driver) reconcile(ctx context.Context, pass *Pass) (reconciler.Stats, error) {
	if !d.cfg.DryRun {
		src, dst, err := Prepare(d.cfg.Source, d.cfg.Replica)
		if err != nil {
			return reconciler.Stats{}, err
		}
		pass.Source, pass.Replica = src, dst
		return d.rec.Reconcile(ctx, src, dst)
	}

	src, dst, exists, err := Check(d.cfg.Source, d.cfg.Replica)
	if err != nil {
		return reconciler.Stats{}, err
	}
	pass.Source, pass.Replica = src, dst
	if !exists {
		return d.rec.ReconcileNew(ctx, src, dst)
	}
	return d.rec.Reconcile(ctx, src, dst)
}

func (d *Driver) finish(pass Pass) {
	if d.history != nil {
		if err := d.history.Record(pass); err != nil {
			d.logger.Warn("failed to record pass", "id", pass.ID, "error", err)
		}
	}
	for _, fn := range d.listeners {
		fn(pass)
	}
}

// Run runs a pass immediately and then one interval after the end of each
// pass until ctx is cancelled. A pass never overlaps another; a trigger
// starts the next pass early and restarts the interval. Failed passes are
// logged and the loop continues.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("driver started",
		"source", d.cfg.Source,
		"replica", d.cfg.Replica,
		"interval", d.cfg.Interval,
		"dry_run", d.cfg.DryRun,
	)

	for {
		d.runPass(ctx)

		// The next tick is a full interval after this pass, whether it was
		// scheduled or triggered.
		ticker.Reset(d.cfg.Interval)
		d.mu.Lock()
		d.nextPass = time.Now().Add(d.cfg.Interval)
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			d.logger.Info("driver stopped")
			return nil
		case <-ticker.C:
		case <-d.trigger:
			d.logger.Debug("pass triggered")
		}
	}
}

func (d *Driver) runPass(ctx context.Context) {
	pass, err := d.RunOnce(ctx)
	switch {
	case err == nil:
		d.logger.Info("pass finished",
			"id", pass.ID,
			"actions", pass.Stats.Actions(),
			"duration", pass.Duration(),
		)
	case ctx.Err() != nil:
		d.logger.Info("pass interrupted", "id", pass.ID)
	default:
		d.logger.Error("pass failed",
			"id", pass.ID,
			"kind", pass.ErrKind,
			"error", err,
		)
	}
}

// Trigger requests a pass as soon as the current one ends. Requests made
// while one is already pending are coalesced; it reports whether this call
// queued a new request.
func (d *Driver) Trigger() bool {
	select {
	case d.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns a snapshot of the driver state.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Status{
		Source:       d.cfg.Source,
		Replica:      d.cfg.Replica,
		Interval:     d.cfg.Interval,
		DryRun:       d.cfg.DryRun,
		Running:      d.running,
		Passes:       d.passes,
		FailedPasses: d.failed,
		NextPass:     d.nextPass,
	}
	if d.last != nil {
		last := *d.last
		s.LastPass = &last
	}
	return s
}
