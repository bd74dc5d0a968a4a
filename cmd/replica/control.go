package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/replica/pkg/client"
	"github.com/jamesainslie/replica/pkg/daemon"
	"github.com/jamesainslie/replica/pkg/replica/config"
	"github.com/jamesainslie/replica/pkg/replica/journal"
)

var errNotRunning = errors.New("daemon is not running (start it with: replica -s <source> -r <replica>)")

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show the state of the running daemon and its last pass.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Start a pass now",
	Long: `Ask the running daemon to start a pass as soon as the current one, if any,
ends. Requests made while one is already pending are merged.`,
	Args: cobra.NoArgs,
	RunE: runTrigger,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  `Stop the running daemon gracefully. The pass in progress is interrupted.`,
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var statusRecent int

func init() {
	statusCmd.Flags().IntVar(&statusRecent, "recent", 0, "also show this many recent actions")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(stopCmd)
}

// connectDaemon connects to the running daemon of cfg.
func connectDaemon(ctx context.Context, cfg *config.Config) (*client.Client, error) {
	if !client.IsDaemonRunning(cfg.PIDPath()) {
		return nil, errNotRunning
	}
	printVerbose("connecting to %s", cfg.SocketPath())
	return client.ConnectWithContext(ctx, cfg.SocketPath())
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !client.IsDaemonRunning(cfg.PIDPath()) {
		fmt.Fprintln(out, "Daemon status: not running")
		if startErr := client.StartupError(daemon.StatusPath(config.DataDir())); startErr != nil {
			fmt.Fprintf(out, "  Last start failed: %v\n", startErr)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.ConnectWithContext(ctx, cfg.SocketPath())
	if err != nil {
		fmt.Fprintln(out, "Daemon status: running (but not responding)")
		return nil
	}
	defer c.Close()

	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get daemon status: %w", err)
	}
	printStatus(out, st, time.Now())

	if statusRecent > 0 {
		actions, err := c.Recent(ctx, statusRecent)
		if err != nil {
			return fmt.Errorf("failed to get recent actions: %w", err)
		}
		printActions(out, actions)
	}
	return nil
}

// printStatus prints a daemon status report.
func printStatus(w io.Writer, st *client.Status, now time.Time) {
	fmt.Fprintln(w, "Daemon status: running")
	fmt.Fprintf(w, "  PID:      %d\n", st.PID)
	fmt.Fprintf(w, "  Uptime:   %s\n", formatDuration(st.Uptime))
	fmt.Fprintf(w, "  Memory:   %s\n", humanize.IBytes(st.MemoryBytes))
	fmt.Fprintf(w, "  Source:   %s\n", st.Source)
	fmt.Fprintf(w, "  Replica:  %s\n", st.Replica)
	fmt.Fprintf(w, "  Interval: %s\n", st.Interval)
	if st.DryRun {
		fmt.Fprintln(w, "  Mode:     dry run")
	}
	fmt.Fprintf(w, "  Passes:   %d (%d failed)\n", st.Passes, st.FailedPasses)

	switch {
	case st.Running:
		fmt.Fprintln(w, "  Next:     pass in progress")
	case !st.NextPass.IsZero():
		fmt.Fprintf(w, "  Next:     in %s\n", formatDuration(max(st.NextPass.Sub(now), 0)))
	}

	if st.Watchers > 0 {
		fmt.Fprintf(w, "  Watchers: %d\n", st.Watchers)
	}

	if p := st.LastPass; p != nil {
		fmt.Fprintf(w, "  Last:     %s, %s, %d actions (%s)\n",
			humanize.RelTime(p.Finished, now, "ago", "from now"),
			passResult(*p),
			p.Stats.Actions(),
			formatDuration(p.Duration()))
		if p.Failed() {
			fmt.Fprintf(w, "            %s\n", p.Err)
		}
	}
}

// printActions prints action lines as the log file has them.
func printActions(w io.Writer, actions []journal.Action) {
	fmt.Fprintf(w, "\nRecent actions (%d):\n", len(actions))
	for _, a := range actions {
		fmt.Fprintf(w, "  %s %s\n", a.Time.Local().Format(time.DateTime), a.Message())
	}
}

func runTrigger(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := connectDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	queued, err := c.Trigger(ctx)
	if err != nil {
		return fmt.Errorf("failed to trigger pass: %w", err)
	}

	if queued {
		fmt.Fprintln(cmd.OutOrStdout(), "Pass requested")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "A pass is already pending")
	}
	return nil
}

func runStop(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !client.IsDaemonRunning(cfg.PIDPath()) {
		return errNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	printVerbose("sending shutdown request...")
	err = client.StopDaemon(ctx, client.DaemonPaths{
		Socket: cfg.SocketPath(),
		PID:    cfg.PIDPath(),
	})
	if err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
