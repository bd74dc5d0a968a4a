package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/replica/pkg/daemon"
	"github.com/jamesainslie/replica/pkg/replica/config"
	"github.com/jamesainslie/replica/pkg/replica/logging"
	"github.com/jamesainslie/replica/pkg/replica/metrics"
)

// runDaemon is the root command: sync every interval until interrupted.
func runDaemon(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, stop, cfg)
}

// serve runs the driver and its companions until ctx is cancelled or one
// of them fails. stop cancels ctx and is handed to the Shutdown RPC.
func serve(ctx context.Context, stop context.CancelFunc, cfg *config.Config) error {
	log := logging.Get("daemon")
	statusPath := daemon.StatusPath(config.DataDir())

	release, err := daemon.Claim(cfg.PIDPath(), cfg.SocketPath(), cfg.HistoryPath())
	if err != nil {
		_ = daemon.WriteStatusError(statusPath, err)
		return err
	}
	defer release()

	eng, err := newEngine(cfg, engineOptions{console: consoleOut(), history: true})
	if err != nil {
		_ = daemon.WriteStatusError(statusPath, err)
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warn("error closing engine", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.driver.Run(gctx)
	})

	if cfg.Daemon.Control {
		opts := []daemon.ServiceOption{
			daemon.WithRecent(eng.recent),
			daemon.WithBroadcaster(eng.events),
			daemon.WithShutdown(stop),
		}
		if eng.history != nil {
			opts = append(opts, daemon.WithHistory(eng.history))
		}

		srv, err := daemon.NewServer(daemon.Config{
			SocketPath: cfg.SocketPath(),
			DataDir:    config.DataDir(),
		}, daemon.NewService(eng.driver, opts...))
		if err != nil {
			_ = daemon.WriteStatusError(statusPath, err)
			return fmt.Errorf("starting control socket: %w", err)
		}

		g.Go(srv.Serve)
		g.Go(func() error {
			<-gctx.Done()
			// Ends open Watch streams so GracefulStop can return.
			eng.events.Close()
			return srv.Close()
		})
		log.Info("control socket listening", "path", cfg.SocketPath())
	}

	if addr := cfg.Metrics.Address; addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, eng.registry)
		})
		log.Info("metrics endpoint listening", "address", addr)
	}

	g.Go(func() error {
		watchLogFile(gctx, eng.actionLog)
		return nil
	})
	if w := logging.Writer(); w != nil {
		g.Go(func() error {
			watchLogFile(gctx, w)
			return nil
		})
	}

	if err := daemon.WriteStatusReady(statusPath); err != nil {
		log.Warn("failed to write status file", "error", err)
	}
	defer func() { _ = daemon.RemoveStatus(statusPath) }()

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("daemon stopped", "error", err)
		return err
	}
	return nil
}

// watchLogFile reopens w when logrotate moves it away. Failure to watch is
// not fatal; the file keeps being written through the old handle.
func watchLogFile(ctx context.Context, w *logging.RotatingWriter) {
	log := logging.Get("daemon")
	err := w.ReopenOnRemove(ctx, func(err error) {
		if err != nil {
			log.Warn("failed to reopen log file", "path", w.Path(), "error", err)
			return
		}
		log.Info("log file reopened", "path", w.Path())
	})
	if err != nil {
		log.Warn("not watching log file", "path", w.Path(), "error", err)
	}
}

// consoleOut returns where action lines are mirrored, or nil in quiet mode.
func consoleOut() io.Writer {
	if getQuiet() {
		return nil
	}
	return os.Stdout
}
