package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/replica/cmd/replica/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Follow the daemon live",
	Long: `Open a live view of the running daemon: the state of the sync, each action
as it is applied and every finished pass.

With a path, only actions under that replica path are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	root := ""
	if len(args) > 0 {
		root, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := connectDaemon(ctx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	return tui.Run(tui.Options{Source: c, Root: root})
}
