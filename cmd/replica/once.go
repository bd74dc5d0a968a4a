package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/replica/pkg/client"
	"github.com/jamesainslie/replica/pkg/replica/config"
	"github.com/jamesainslie/replica/pkg/replica/driver"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single pass and exit",
	Long: `Run one synchronization pass from source to replica and exit.

The exit status is non-zero if the pass failed. The pass is recorded in
the history database.

When a daemon is running for the same roots, the pass is requested from it
and this command waits for it to finish, so passes never overlap. A daemon
running for other roots, or not answering on its control socket, is an
error.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pass, err := syncOnce(ctx, cfg, consoleOut())
	if !getQuiet() {
		printPassSummary(cmd.OutOrStdout(), pass)
	}
	return err
}

// errDaemonBusy is returned when a daemon is running but the pass cannot be
// handed to it.
var errDaemonBusy = errors.New("a daemon is running (stop it with: replica stop)")

// syncOnce runs one pass with a freshly built engine, or through the daemon
// when one is running.
func syncOnce(ctx context.Context, cfg *config.Config, console io.Writer) (driver.Pass, error) {
	if client.IsDaemonRunning(cfg.PIDPath()) {
		printVerbose("daemon running, requesting the pass from it")
		return delegatePass(ctx, cfg)
	}

	eng, err := newEngine(cfg, engineOptions{console: console, history: true})
	if err != nil {
		return driver.Pass{}, err
	}

	pass, runErr := eng.driver.RunOnce(ctx)
	return pass, errors.Join(runErr, eng.Close())
}

// delegatePass triggers a pass on the running daemon and waits for the
// first pass that starts after the request.
func delegatePass(ctx context.Context, cfg *config.Config) (driver.Pass, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	c, err := connectDaemon(dialCtx, cfg)
	cancel()
	if err != nil {
		return driver.Pass{}, fmt.Errorf("%w: control socket unreachable: %w", errDaemonBusy, err)
	}
	defer c.Close()

	st, err := c.Status(ctx)
	if err != nil {
		return driver.Pass{}, fmt.Errorf("%w: %w", errDaemonBusy, err)
	}
	if !samePath(st.Source, cfg.Source) || !samePath(st.Replica, cfg.Replica) {
		return driver.Pass{}, fmt.Errorf("%w: it syncs %s to %s", errDaemonBusy, st.Source, st.Replica)
	}
	if st.DryRun != cfg.DryRun {
		return driver.Pass{}, fmt.Errorf("%w: its dry run setting is %t", errDaemonBusy, st.DryRun)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	events, err := c.Watch(watchCtx, "")
	if err != nil {
		return driver.Pass{}, err
	}
	waitSubscribed(ctx, c, st.Watchers)

	requested := time.Now()
	if _, err := c.Trigger(ctx); err != nil {
		return driver.Pass{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return driver.Pass{}, ctx.Err()
		case e, ok := <-events:
			if !ok {
				return driver.Pass{}, errors.New("daemon stopped before the pass finished")
			}
			if e.Pass == nil || e.Pass.Started.Before(requested) {
				continue
			}
			pass := *e.Pass
			if pass.Failed() {
				return pass, errors.New(pass.Err)
			}
			return pass, nil
		}
	}
}

// waitSubscribed polls until the daemon counts more watchers than before,
// so the pass event of the trigger cannot be missed. It gives up after a
// few seconds.
func waitSubscribed(ctx context.Context, c *client.Client, before int) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := c.Status(ctx)
		if err != nil || st.Watchers > before {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// printPassSummary prints the totals of a pass.
func printPassSummary(w io.Writer, p driver.Pass) {
	if p.ID == "" {
		return
	}
	result := "ok"
	if p.Failed() {
		result = "failed"
	}
	if p.DryRun {
		result += " (dry run)"
	}

	st := p.Stats
	fmt.Fprintf(w, "Pass %s %s in %s\n", p.ID, result, formatDuration(p.Duration()))
	fmt.Fprintf(w, "  folders: %d created, %d deleted\n", st.DirsCreated, st.DirsRemoved)
	fmt.Fprintf(w, "  files:   %d added, %d modified, %d deleted, %d compared\n",
		st.FilesAdded, st.FilesModified, st.FilesRemoved, st.FilesCompared)
	fmt.Fprintf(w, "  copied:  %s\n", humanize.IBytes(uint64(max(st.BytesCopied, 0))))
	if p.Failed() {
		fmt.Fprintf(w, "  error:   %s\n", p.Err)
	}
}
