package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/replica/pkg/replica/hasher"
	"github.com/jamesainslie/replica/pkg/replica/logging"
)

// Validation errors.
var (
	ErrNoSource        = errors.New("source directory not set")
	ErrNoReplica       = errors.New("replica directory not set")
	ErrNoLogFile       = errors.New("log file not set")
	ErrInvalidInterval = errors.New("interval must be a positive number of seconds")
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig configures diagnostic logging.
type LoggingConfig struct {
	Level        string            `mapstructure:"level"`
	Path         string            `mapstructure:"path"`
	Rotation     RotationConfig    `mapstructure:"rotation"`
	Components   map[string]string `mapstructure:"components"`
	ConsoleLevel string            `mapstructure:"console_level"`
}

// DaemonConfig configures the control socket.
type DaemonConfig struct {
	Control    bool   `mapstructure:"control"`
	SocketPath string `mapstructure:"socket_path"`
	PIDPath    string `mapstructure:"pid_path"`
}

// HistoryConfig configures the pass history database.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	Source   string `mapstructure:"source"`
	Replica  string `mapstructure:"replica"`
	Interval int    `mapstructure:"interval"`
	LogFile  string `mapstructure:"log_file"`
	DryRun   bool   `mapstructure:"dry_run"`
	Hash     struct {
		Algorithm string `mapstructure:"algorithm"`
	} `mapstructure:"hash"`
	History HistoryConfig `mapstructure:"history"`
	Metrics struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
}

// NewViper returns a viper instance with replica's search paths, environment
// binding and defaults. Callers may bind command-line flags to it before
// passing it to LoadWith.
//
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/replica/config.yaml
//   - $HOME/.config/replica/config.yaml
//
// Environment variables are prefixed with REPLICA_ (e.g., REPLICA_INTERVAL).
func NewViper() (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, "replica"))
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v.AddConfigPath(filepath.Join(homeDir, ".config", "replica"))

	v.SetEnvPrefix("REPLICA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("source", "")
	v.SetDefault("replica", "")
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("log_file", DefaultActionLogPath())
	v.SetDefault("dry_run", false)
	v.SetDefault("hash.algorithm", DefaultHashAlgorithm)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "") // Empty means use DefaultDBPath
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("metrics.address", "") // Empty disables the metrics endpoint

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // Empty means use logging.DefaultLogPath
	v.SetDefault("logging.rotation.max_size", DefaultMaxLogSize)
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.rotation.compress", false)
	v.SetDefault("logging.components", map[string]string{
		"driver":     "info",
		"reconciler": "info",
		"daemon":     "info",
		"tui":        "info",
	})
	v.SetDefault("logging.console_level", "")

	v.SetDefault("daemon.control", true)
	v.SetDefault("daemon.socket_path", "") // Empty means use default XDG path
	v.SetDefault("daemon.pid_path", "")    // Empty means use default XDG path

	return v, nil
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	return LoadWith(v)
}

// LoadWith reads the config file known to v, if any, and unmarshals the
// merged result. A missing file in the search paths is not an error; an
// explicitly set file that cannot be read is.
func LoadWith(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{
		&cfg.Source,
		&cfg.Replica,
		&cfg.LogFile,
		&cfg.History.Path,
		&cfg.Logging.Path,
		&cfg.Daemon.SocketPath,
		&cfg.Daemon.PIDPath,
	} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}

	return &cfg, nil
}

// Validate checks that the configuration can drive a sync.
func (c *Config) Validate() error {
	if c.Source == "" {
		return ErrNoSource
	}
	if c.Replica == "" {
		return ErrNoReplica
	}
	if c.LogFile == "" {
		return ErrNoLogFile
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, c.Interval)
	}
	if _, err := hasher.ParseAlgorithm(c.Hash.Algorithm); err != nil {
		return err
	}
	if _, err := c.Logging.ToLogging(); err != nil {
		return err
	}
	return nil
}

// IntervalDuration returns the polling interval.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// HashAlgorithm returns the parsed content digest algorithm.
func (c *Config) HashAlgorithm() (hasher.Algorithm, error) {
	return hasher.ParseAlgorithm(c.Hash.Algorithm)
}

// HistoryPath returns the history database directory.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return DefaultDBPath()
}

// HistoryRetention returns how long passes are kept, or zero to keep them all.
func (c *Config) HistoryRetention() time.Duration {
	if c.History.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

// SocketPath returns the control socket path.
func (c *Config) SocketPath() string {
	if c.Daemon.SocketPath != "" {
		return c.Daemon.SocketPath
	}
	return DefaultSocketPath()
}

// PIDPath returns the daemon PID file path.
func (c *Config) PIDPath() string {
	if c.Daemon.PIDPath != "" {
		return c.Daemon.PIDPath
	}
	return DefaultPIDPath()
}

// ToLogging converts the logging section into a logging.Config.
func (l LoggingConfig) ToLogging() (logging.Config, error) {
	if _, err := logging.ParseLevel(l.Level); err != nil {
		return logging.Config{}, err
	}

	rotation := logging.RotationConfig{
		MaxAge:     l.Rotation.MaxAge,
		MaxBackups: l.Rotation.MaxBackups,
		Daily:      l.Rotation.Daily,
		Compress:   l.Rotation.Compress,
	}
	if l.Rotation.MaxSize != "" {
		size, err := humanize.ParseBytes(l.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("parsing logging.rotation.max_size: %w", err)
		}
		rotation.MaxSize = int64(size)
	}

	return logging.Config{
		Level:        l.Level,
		Path:         l.Path,
		Rotation:     rotation,
		Components:   l.Components,
		ConsoleLevel: l.ConsoleLevel,
	}, nil
}

// ConfigDir returns the configuration directory path, expanding ~ to the user's home directory.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "replica"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "replica"), nil
}

// ConfigFile returns the path of the default config file.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// WriteDefault writes a default config file if none exists and returns its
// path. An existing file is left untouched.
func WriteDefault() (string, error) {
	if err := EnsureConfigDir(); err != nil {
		return "", err
	}

	configPath, err := ConfigFile()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# Replica Directory Sync Configuration

# Directory to mirror from
source: ""

# Directory kept identical to source. Anything not in source is deleted.
replica: ""

# Seconds between synchronization passes
interval: %d

# Action log: one line per created, copied or deleted entry
log_file: %s

# Log actions without touching the replica
dry_run: false

# Content digest used to compare files: md5 or xxhash
hash:
  algorithm: %s

# Pass history database
history:
  enabled: true
  # Empty means use default: $XDG_DATA_HOME/replica/history.db
  path: ""
  retention_days: %d

# Prometheus endpoint, e.g. 127.0.0.1:9464 (empty disables it)
metrics:
  address: ""

# Diagnostic logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/replica/replica.log)
  path: ""
  # Log rotation settings
  rotation:
    max_size: %s
    max_age: 30       # days
    max_backups: 5
    daily: true
    compress: false
  # Per-component log levels
  components:
    driver: info
    reconciler: info
    daemon: info
    tui: info
  # Mirror diagnostics to stderr at this level (empty disables it)
  console_level: ""

# Control socket used by status, trigger and watch
daemon:
  control: true
  # Unix socket path (empty means use default: $XDG_DATA_HOME/replica/replica.sock)
  socket_path: ""
  # PID file path (empty means use default: $XDG_DATA_HOME/replica/replica.pid)
  pid_path: ""
`, DefaultInterval, DefaultActionLogPath(), DefaultHashAlgorithm, DefaultRetentionDays, DefaultMaxLogSize)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return configPath, nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/replica/ for database, socket, and pid files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "replica")
}

// StateDir returns $XDG_STATE_HOME/replica/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "replica")
}

// DefaultSocketPath returns the default Unix socket path.
func DefaultSocketPath() string {
	return filepath.Join(DataDir(), "replica.sock")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "replica.pid")
}

// DefaultDBPath returns the default history database path.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "history.db")
}

// DefaultActionLogPath returns the default action log path.
func DefaultActionLogPath() string {
	return filepath.Join(StateDir(), "actions.log")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}
