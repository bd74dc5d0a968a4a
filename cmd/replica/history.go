package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/replica/pkg/client"
	"github.com/jamesainslie/replica/pkg/replica/config"
	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View past passes",
	Long: `View the history of synchronization passes.

Each pass is recorded with its counts, duration and error, if any. When the
daemon is running the history is fetched through its control socket.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific pass",
	Long:  `Display detailed information about a specific pass by its ID.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove passes older than the retention period, or all of them with --all.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var (
	historyLimit int
	historyAll   bool
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of entries to show")
	historyCleanCmd.Flags().BoolVar(&historyAll, "all", false, "remove every pass")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// errDaemonOwnsHistory is returned when the history database is locked by
// the running daemon.
var errDaemonOwnsHistory = errors.New("the daemon is running and holds the history database (stop it first)")

// openHistory opens the configured history store for exclusive use.
func openHistory(cfg *config.Config) (*history.Store, error) {
	if client.IsDaemonRunning(cfg.PIDPath()) {
		return nil, errDaemonOwnsHistory
	}
	return history.Open(cfg.HistoryPath())
}

// runHistory lists recent passes.
func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	passes, err := recentPasses(cfg, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(passes) == 0 {
		fmt.Fprintln(out, "No passes recorded.")
		return nil
	}

	printPassTable(out, passes)
	fmt.Fprintf(out, "\nShowing %d entries. Use --limit to see more.\n", len(passes))
	fmt.Fprintln(out, "Use 'replica history show <id>' for details on a specific pass.")
	return nil
}

// recentPasses asks the daemon when it runs and reads the store otherwise.
func recentPasses(cfg *config.Config, limit int) ([]driver.Pass, error) {
	if client.IsDaemonRunning(cfg.PIDPath()) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		c, err := client.ConnectWithContext(ctx, cfg.SocketPath())
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return c.History(ctx, limit)
	}

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Recent(limit)
}

// printPassTable prints one line per pass.
func printPassTable(w io.Writer, passes []driver.Pass) {
	fmt.Fprintf(w, "\n%-36s  %-19s  %-8s  %-7s  %-10s  %s\n", "ID", "STARTED", "DURATION", "ACTIONS", "COPIED", "RESULT")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, p := range passes {
		fmt.Fprintf(w, "%-36s  %-19s  %-8s  %-7d  %-10s  %s\n",
			truncateString(p.ID, 36),
			p.Started.Local().Format(time.DateTime),
			formatDuration(p.Duration()),
			p.Stats.Actions(),
			humanize.IBytes(uint64(max(p.Stats.BytesCopied, 0))),
			passResult(p),
		)
	}

	fmt.Fprintln(w, strings.Repeat("-", 100))
}

func passResult(p driver.Pass) string {
	switch {
	case p.Failed() && p.ErrKind != "":
		return "failed: " + p.ErrKind
	case p.Failed():
		return "failed"
	case p.DryRun:
		return "ok (dry run)"
	default:
		return "ok"
	}
}

// runHistoryShow displays details of a specific pass.
func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := store.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get pass: %w", err)
	}

	printPassDetails(cmd.OutOrStdout(), p)
	return nil
}

// printPassDetails prints every recorded field of a pass.
func printPassDetails(w io.Writer, p driver.Pass) {
	st := p.Stats
	fmt.Fprintln(w, "\nPass Details")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "ID:             %s\n", p.ID)
	fmt.Fprintf(w, "Source:         %s\n", p.Source)
	fmt.Fprintf(w, "Replica:        %s\n", p.Replica)
	fmt.Fprintf(w, "Started:        %s\n", p.Started.Local().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Duration:       %s\n", formatDuration(p.Duration()))
	fmt.Fprintf(w, "Result:         %s\n", passResult(p))
	fmt.Fprintf(w, "Folders:        %d created, %d deleted\n", st.DirsCreated, st.DirsRemoved)
	fmt.Fprintf(w, "Files:          %d added, %d modified, %d deleted\n", st.FilesAdded, st.FilesModified, st.FilesRemoved)
	fmt.Fprintf(w, "Compared:       %d files in %d folders\n", st.FilesCompared, st.DirsVisited)
	fmt.Fprintf(w, "Copied:         %s\n", humanize.IBytes(uint64(max(st.BytesCopied, 0))))
	if p.Failed() {
		fmt.Fprintf(w, "Error:          %s\n", p.Err)
	}
}

// runHistoryClean removes old passes.
func runHistoryClean(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := cleanHistory(store, cfg, historyAll, time.Now())
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d passes.\n", removed)
	return nil
}

// cleanHistory prunes by the configured retention, or clears everything.
func cleanHistory(store *history.Store, cfg *config.Config, all bool, now time.Time) (int, error) {
	if all {
		return store.Clear()
	}

	retention := cfg.HistoryRetention()
	if retention == 0 {
		retention = time.Duration(config.DefaultRetentionDays) * 24 * time.Hour
	}
	printInfo("Cleaning passes older than %d days...", int(retention.Hours()/24))
	return store.Prune(now.Add(-retention))
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
