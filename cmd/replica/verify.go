package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/replica/pkg/replica/config"
	"github.com/jamesainslie/replica/pkg/replica/hasher"
	"github.com/jamesainslie/replica/pkg/replica/verify"
)

// errOutOfSync makes verify exit non-zero when the trees differ.
var errOutOfSync = errors.New("replica is not in sync with source")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare source and replica without changing anything",
	Long: `Walk both trees and report every path that a pass would change:
entries missing from the replica, extra entries, type changes and files whose
content differs. Exits non-zero when any difference is found.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

var verifyWorkers int

func init() {
	verifyCmd.Flags().IntVarP(&verifyWorkers, "workers", "w", 0, "concurrent file hashers (0=auto)")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Source == "" {
		return config.ErrNoSource
	}
	if cfg.Replica == "" {
		return config.ErrNoReplica
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := verifyTrees(ctx, cfg, verifyWorkers, func(p verify.Progress) {
		printVerbose("scanned %d entries, hashed %d files", p.EntriesScanned, p.FilesHashed)
	})
	if err != nil {
		return err
	}

	printVerifyResult(cmd.OutOrStdout(), res)
	if !res.InSync() {
		return errOutOfSync
	}
	return nil
}

// verifyTrees compares the configured roots with the configured digest.
func verifyTrees(ctx context.Context, cfg *config.Config, workers int, onProgress verify.ProgressFunc) (*verify.Result, error) {
	algo, err := cfg.HashAlgorithm()
	if err != nil {
		return nil, err
	}
	h, err := hasher.New(algo)
	if err != nil {
		return nil, err
	}

	v := verify.New(h)
	v.Workers = workers
	return v.Compare(ctx, cfg.Source, cfg.Replica, onProgress)
}

// printVerifyResult prints the differences and totals.
func printVerifyResult(w io.Writer, res *verify.Result) {
	for _, d := range res.Differences {
		fmt.Fprintf(w, "%-16s %s\n", d.Kind, d.Path)
	}
	if len(res.Differences) > 0 {
		fmt.Fprintln(w)
	}

	state := "in sync"
	if !res.InSync() {
		state = fmt.Sprintf("%d differences", len(res.Differences))
	}
	fmt.Fprintf(w, "%s -> %s: %s\n", res.Source, res.Replica, state)
	fmt.Fprintf(w, "  %s folders, %s files, %s hashed in %s\n",
		humanize.Comma(res.Dirs),
		humanize.Comma(res.Files),
		humanize.Comma(res.FilesHashed),
		formatDuration(res.Duration))
}
