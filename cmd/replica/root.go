package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/replica/pkg/replica/config"
	"github.com/jamesainslie/replica/pkg/replica/logging"
)

var (
	cfgFile string
	v       = newViper()
	rootCmd = &cobra.Command{
		Use:   "replica",
		Short: "Keep a replica directory identical to a source directory",
		Long: `Replica periodically synchronizes a replica directory so that it mirrors a
source directory. Synchronization is one way: the source is never modified.

Each pass creates missing folders, copies new files, overwrites files whose
content differs and deletes anything in the replica that the source no longer
has. Every change is logged to the console and appended to the log file.

Examples:
  replica -s ~/docs -r /mnt/backup/docs -i 60 -l ~/replica.log
  replica once -s ~/docs -r /mnt/backup/docs
  replica verify -s ~/docs -r /mnt/backup/docs
  replica status                 # Ask the running daemon how it is doing
  replica watch                  # Follow actions live
  replica history                # Past passes`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: initializeLogging,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = logging.Close()
		},
		RunE: runDaemon,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ~/.config/replica/config.yaml)")
	flags.StringP("source", "s", "", "source directory to mirror")
	flags.StringP("replica", "r", "", "replica directory kept identical to the source")
	flags.IntP("interval", "i", config.DefaultInterval, "seconds between passes")
	flags.StringP("log", "l", "", "file that action lines are appended to")
	flags.BoolP("dry-run", "d", false, "log actions without changing the replica")
	flags.String("hash", config.DefaultHashAlgorithm, "content digest used to compare files (md5, xxhash)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flags.BoolP("quiet", "q", false, "minimal output")
	flags.BoolP("verbose", "v", false, "debug output")

	bindFlags(v, rootCmd)
}

// bindFlags maps command-line flags onto config keys.
func bindFlags(vp *viper.Viper, cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	_ = vp.BindPFlag("source", flags.Lookup("source"))
	_ = vp.BindPFlag("replica", flags.Lookup("replica"))
	_ = vp.BindPFlag("interval", flags.Lookup("interval"))
	_ = vp.BindPFlag("log_file", flags.Lookup("log"))
	_ = vp.BindPFlag("dry_run", flags.Lookup("dry-run"))
	_ = vp.BindPFlag("hash.algorithm", flags.Lookup("hash"))
	_ = vp.BindPFlag("metrics.address", flags.Lookup("metrics-addr"))
	_ = vp.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = vp.BindPFlag("verbose", flags.Lookup("verbose"))
}

func newViper() *viper.Viper {
	vp, err := config.NewViper()
	if err != nil {
		// No home directory: environment and flags still work.
		return viper.New()
	}
	return vp
}

// initConfig points viper at an explicit config file, if one was given.
func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}

// loadConfig merges the config file, environment and flags.
func loadConfig() (*config.Config, error) {
	return config.LoadWith(v)
}

// initializeLogging sets up the diagnostic log before any command runs.
func initializeLogging(cmd *cobra.Command, _ []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	if err := config.EnsureDataDir(); err != nil {
		return err
	}
	if err := os.MkdirAll(config.StateDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	logCfg := logging.DefaultConfig()
	if cfg, err := loadConfig(); err == nil {
		if lc, err := cfg.Logging.ToLogging(); err == nil {
			logCfg = lc
		}
	}

	if getVerbose() {
		logCfg.ConsoleLevel = "debug"
	}
	logCfg.Quiet = getQuiet() || (cmd != nil && cmd.Name() == "watch")

	return logging.Init(logCfg)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return v.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return v.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
