// Package config provides configuration management for the replica daemon.
package config

// Default configuration values for replica.
const (
	// DefaultInterval is the default number of seconds between passes.
	DefaultInterval = 60

	// DefaultHashAlgorithm is the content digest used to compare files.
	DefaultHashAlgorithm = "md5"

	// DefaultConfigDir is the default configuration directory path.
	DefaultConfigDir = "~/.config/replica"

	// DefaultRetentionDays is the default number of days to keep pass history.
	DefaultRetentionDays = 30

	// DefaultMaxLogSize is the diagnostic log size that triggers rotation.
	DefaultMaxLogSize = "10MB"
)
