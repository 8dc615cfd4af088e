package config

import (
	"time"
)

// DetectorConfig controls the behavioral control loop.
type DetectorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Count     int           `mapstructure:"count"` // cycles before exit, 0 = unlimited
	Threshold int           `mapstructure:"threshold"`
	Report    bool          `mapstructure:"report"` // per-cycle table on stdout
}

// SignaturesConfig locates the behavioral patterns and the digest denylist.
type SignaturesConfig struct {
	Patterns     []string `mapstructure:"patterns"`
	PatternsPath string   `mapstructure:"patterns_path"`
	DenylistPath string   `mapstructure:"denylist_path"`
}

// ClassifierConfig controls the ransom note pathway. Command takes
// precedence over ModelPath; with neither, the built-in model is used.
type ClassifierConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	ModelPath string        `mapstructure:"model_path"`
	Command   string        `mapstructure:"command"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxBytes  int64         `mapstructure:"max_bytes"`
}

// SourceConfig selects the capture layer.
type SourceConfig struct {
	Type        string        `mapstructure:"type"` // ebpf, fsnotify or none
	ObjectPath  string        `mapstructure:"object_path"`
	WatchPaths  []string      `mapstructure:"watch_paths"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// EventBusConfig sizes the boundary between capture and processing.
type EventBusConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	CreatedBufferSize int           `mapstructure:"created_buffer_size"`
	Workers           int           `mapstructure:"workers"`
	DedupeSize        int           `mapstructure:"dedupe_size"`
	DedupeWindow      time.Duration `mapstructure:"dedupe_window"`
}

// ActionsConfig holds the global configuration for all mitigation actions.
type ActionsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	KillMode string `mapstructure:"kill_mode"` // name or pid
}

// NATSConfig enables the verdict stream when URL is set.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}
