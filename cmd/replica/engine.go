package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jamesainslie/replica/pkg/daemon/broadcaster"
	"github.com/jamesainslie/replica/pkg/replica/config"
	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/executor"
	"github.com/jamesainslie/replica/pkg/replica/hasher"
	"github.com/jamesainslie/replica/pkg/replica/history"
	"github.com/jamesainslie/replica/pkg/replica/journal"
	"github.com/jamesainslie/replica/pkg/replica/listing"
	"github.com/jamesainslie/replica/pkg/replica/logging"
	"github.com/jamesainslie/replica/pkg/replica/metrics"
	"github.com/jamesainslie/replica/pkg/replica/reconciler"
)

// engine is a fully wired driver with every sink the daemon feeds.
type engine struct {
	driver    *driver.Driver
	journal   *journal.Writer
	actionLog *logging.RotatingWriter
	recent    *journal.Ring
	events    *broadcaster.Broadcaster
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	history   *history.Store
}

type engineOptions struct {
	// console receives action lines next to the log file. Nil disables it.
	console io.Writer

	// history opens the pass history database when enabled in the config.
	history bool
}

// newEngine builds the reconciler and driver for cfg. The caller must
// Close the engine.
func newEngine(cfg *config.Config, opts engineOptions) (*engine, error) {
	algo, err := cfg.HashAlgorithm()
	if err != nil {
		return nil, err
	}
	h, err := hasher.New(algo)
	if err != nil {
		return nil, err
	}

	actionLog, err := logging.OpenAppend(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	e := &engine{
		actionLog: actionLog,
		recent:    journal.NewRing(journal.DefaultRingSize),
		events:    broadcaster.New(),
		registry:  prometheus.NewRegistry(),
	}
	e.metrics = metrics.New(e.registry)
	if opts.console != nil {
		e.journal = journal.NewWriter(opts.console, actionLog)
	} else {
		e.journal = journal.NewWriter(actionLog)
	}

	sink := journal.Tee(e.journal, e.recent, e.events, e.metrics)

	var exec executor.Executor = executor.New(sink)
	if cfg.DryRun {
		exec = executor.NewDryRun(sink)
	}

	rec := reconciler.New(listing.OS{}, h, exec,
		reconciler.WithLogger(logging.Get("reconciler")))

	driverOpts := []driver.Option{
		driver.WithLogger(logging.Get("driver")),
		driver.WithListener(e.logFailure),
		driver.WithListener(e.metrics.ObservePass),
		driver.WithListener(e.events.PassFinished),
	}

	if opts.history && cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath(), history.WithRetention(cfg.HistoryRetention()))
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
		e.history = store
		driverOpts = append(driverOpts, driver.WithHistory(store))
	}

	e.driver, err = driver.New(driver.Config{
		Source:   cfg.Source,
		Replica:  cfg.Replica,
		Interval: cfg.IntervalDuration(),
		DryRun:   cfg.DryRun,
	}, rec, driverOpts...)
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	return e, nil
}

// logFailure writes an error line for a failed pass next to the action lines.
func (e *engine) logFailure(p driver.Pass) {
	if !p.Failed() || p.Cancelled {
		return
	}
	keyvals := []interface{}{"id", p.ID}
	if p.ErrKind != "" {
		keyvals = append(keyvals, "kind", p.ErrKind)
	}
	keyvals = append(keyvals, "error", p.Err)
	e.journal.Fail("Sync pass failed", keyvals...)
}

// Close releases the history database and the log file.
func (e *engine) Close() error {
	var errs []error
	if e.events != nil {
		e.events.Close()
	}
	if e.history != nil {
		errs = append(errs, e.history.Close())
	}
	if e.actionLog != nil {
		errs = append(errs, e.actionLog.Close())
	}
	return errors.Join(errs...)
}
