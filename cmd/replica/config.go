package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/replica/pkg/replica/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage replica configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/replica/config.yaml (if set)
  2. ~/.config/replica/config.yaml

Environment variables can override config file settings using the REPLICA_ prefix:
  REPLICA_SOURCE=~/docs
  REPLICA_INTERVAL=300
  REPLICA_HASH_ALGORITHM=xxhash

Command-line flags override both.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration merged from all sources.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// envOverrides lists the environment variables shown by config show.
var envOverrides = []string{
	"REPLICA_SOURCE",
	"REPLICA_REPLICA",
	"REPLICA_INTERVAL",
	"REPLICA_LOG_FILE",
	"REPLICA_DRY_RUN",
	"REPLICA_HASH_ALGORITHM",
	"REPLICA_HISTORY_ENABLED",
	"REPLICA_HISTORY_PATH",
	"REPLICA_HISTORY_RETENTION_DAYS",
	"REPLICA_METRICS_ADDRESS",
	"REPLICA_LOGGING_LEVEL",
	"REPLICA_DAEMON_CONTROL",
	"REPLICA_DAEMON_SOCKET_PATH",
	"REPLICA_DAEMON_PID_PATH",
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if configFile := v.ConfigFileUsed(); configFile != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", configFile)
	} else {
		fmt.Fprintln(out, "Config file: (using defaults, no file found)")
		fmt.Fprintln(out)
	}

	printConfig(out, cfg)

	fmt.Fprintln(out, "\nEnvironment Overrides:")
	fmt.Fprintln(out, "----------------------")
	anyOverrides := false
	for _, name := range envOverrides {
		if val := os.Getenv(name); val != "" {
			fmt.Fprintf(out, "%s=%s\n", name, val)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Fprintln(out, "(none)")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "\nWarning: configuration cannot start a sync yet: %v\n", err)
	}
	return nil
}

// printConfig prints the effective values, with defaults resolved.
func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintf(w, "source:                  %s\n", cfg.Source)
	fmt.Fprintf(w, "replica:                 %s\n", cfg.Replica)
	fmt.Fprintf(w, "interval:                %d seconds\n", cfg.Interval)
	fmt.Fprintf(w, "log_file:                %s\n", cfg.LogFile)
	fmt.Fprintf(w, "dry_run:                 %t\n", cfg.DryRun)
	fmt.Fprintf(w, "hash.algorithm:          %s\n", cfg.Hash.Algorithm)
	fmt.Fprintf(w, "history.enabled:         %t\n", cfg.History.Enabled)
	fmt.Fprintf(w, "history.path:            %s\n", cfg.HistoryPath())
	fmt.Fprintf(w, "history.retention_days:  %d\n", cfg.History.RetentionDays)
	fmt.Fprintf(w, "metrics.address:         %s\n", orNone(cfg.Metrics.Address))
	fmt.Fprintf(w, "logging.level:           %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "logging.rotation:        %s, %d days, %d backups, daily=%t, compress=%t\n",
		cfg.Logging.Rotation.MaxSize,
		cfg.Logging.Rotation.MaxAge,
		cfg.Logging.Rotation.MaxBackups,
		cfg.Logging.Rotation.Daily,
		cfg.Logging.Rotation.Compress)

	components := make([]string, 0, len(cfg.Logging.Components))
	for c := range cfg.Logging.Components {
		components = append(components, c)
	}
	sort.Strings(components)
	for _, c := range components {
		fmt.Fprintf(w, "logging.components.%-6s%s\n", c+":", cfg.Logging.Components[c])
	}

	fmt.Fprintf(w, "daemon.control:          %t\n", cfg.Daemon.Control)
	fmt.Fprintf(w, "daemon.socket_path:      %s\n", cfg.SocketPath())
	fmt.Fprintf(w, "daemon.pid_path:         %s\n", cfg.PIDPath())
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(_ *cobra.Command, _ []string) error {
	configPath, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}

	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, _ []string) error {
	configPath, err := config.ConfigFile()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Config file already exists: %s\n", configPath)
		fmt.Fprintln(cmd.OutOrStdout(), "Use 'replica config edit' to modify it.")
		return nil
	}

	if _, err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created default config file: %s\n", configPath)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, _ []string) error {
	configPath, err := config.ConfigFile()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), configPath)

	if _, err := os.Stat(configPath); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}

	return nil
}
