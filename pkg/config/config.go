package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lucid-vigil/ransomguard/pkg/signatures"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	SourceEBPF     = "ebpf"
	SourceFSNotify = "fsnotify"
	SourceNone     = "none"
)

// Config is the top-level configuration struct for the application.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"`
	APIPort    string           `mapstructure:"api_port"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Signatures SignaturesConfig `mapstructure:"signatures"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Source     SourceConfig     `mapstructure:"source"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
	Actions    ActionsConfig    `mapstructure:"actions"`
	NATS       NATSConfig       `mapstructure:"nats"`
}

// setDefaults registers a default for every key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("api_port", "8080") // empty disables the API

	v.SetDefault("detector.interval", time.Second)
	v.SetDefault("detector.count", 0)
	v.SetDefault("detector.threshold", 10)
	v.SetDefault("detector.report", true)

	v.SetDefault("signatures.patterns", signatures.DefaultPatterns)
	v.SetDefault("signatures.patterns_path", "")
	v.SetDefault("signatures.denylist_path", "")

	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.model_path", "")
	v.SetDefault("classifier.command", "")
	v.SetDefault("classifier.timeout", 10*time.Second)
	v.SetDefault("classifier.max_bytes", 64<<10)

	v.SetDefault("source.type", SourceEBPF)
	v.SetDefault("source.object_path", "/usr/lib/ransomguard/ransomguard.bpf.o")
	v.SetDefault("source.watch_paths", []string{})
	v.SetDefault("source.settle_delay", 500*time.Millisecond)

	v.SetDefault("event_bus.buffer_size", 8192)
	v.SetDefault("event_bus.created_buffer_size", 512)
	v.SetDefault("event_bus.workers", 4)
	v.SetDefault("event_bus.dedupe_size", 4096)
	v.SetDefault("event_bus.dedupe_window", 2*time.Second)

	v.SetDefault("actions.enabled", false) // Actions disabled by default
	v.SetDefault("actions.kill_mode", "name")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "ransomguard.verdicts")
}

// LoadConfig resolves the configuration from, in increasing precedence:
// defaults, config.yaml, a .env file, RANSOMGUARD_* environment variables
// and command line flags. fs may be nil. Positional arguments, when present,
// are the cycle interval in seconds and the cycle count.
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(".")                 // Search in current directory
	v.AddConfigPath("/etc/ransomguard/") // Search in /etc/ransomguard/

	setDefaults(v)

	// Read environment variables
	v.SetEnvPrefix("RANSOMGUARD")                      // Look for RANSOMGUARD_ prefix
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores for nested keys
	v.AutomaticEnv()                                   // Automatically bind environment variables to config keys

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
		if path, _ := fs.GetString("config"); path != "" {
			v.SetConfigFile(path)
		}
		if err := applyPositional(v, fs.Args()); err != nil {
			return nil, err
		}
	}

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPositional maps the [interval [count]] arguments onto the detector keys.
func applyPositional(v *viper.Viper, args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("unexpected arguments %q: want [interval [count]]", args[2:])
	}
	if len(args) >= 1 {
		d, err := parseInterval(args[0])
		if err != nil {
			return err
		}
		v.Set("detector.interval", d)
	}
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid count %q: %w", args[1], err)
		}
		v.Set("detector.count", n)
	}
	return nil
}

// parseInterval accepts whole seconds ("2") or a duration ("500ms").
func parseInterval(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	return d, nil
}

// Validate checks every setting that would otherwise fail later.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.LogFormat == "json" || c.LogFormat == "console", "log_format must be json or console, got %q", c.LogFormat)
	check(c.Detector.Interval > 0, "detector.interval must be positive, got %s", c.Detector.Interval)
	check(c.Detector.Count >= 0, "detector.count must not be negative, got %d", c.Detector.Count)
	check(c.Detector.Threshold >= 0, "detector.threshold must not be negative, got %d", c.Detector.Threshold)
	check(len(c.Signatures.Patterns) > 0 || c.Signatures.PatternsPath != "", "at least one behavioral pattern is required")
	check(c.Classifier.MaxBytes > 0, "classifier.max_bytes must be positive, got %d", c.Classifier.MaxBytes)
	check(c.EventBus.BufferSize > 0, "event_bus.buffer_size must be positive, got %d", c.EventBus.BufferSize)
	check(c.EventBus.CreatedBufferSize > 0, "event_bus.created_buffer_size must be positive, got %d", c.EventBus.CreatedBufferSize)
	check(c.EventBus.Workers > 0, "event_bus.workers must be positive, got %d", c.EventBus.Workers)
	check(c.EventBus.DedupeSize > 0, "event_bus.dedupe_size must be positive, got %d", c.EventBus.DedupeSize)
	check(c.Actions.KillMode == "name" || c.Actions.KillMode == "pid", "actions.kill_mode must be name or pid, got %q", c.Actions.KillMode)

	switch c.Source.Type {
	case SourceEBPF:
		check(c.Source.ObjectPath != "", "source.object_path is required for the ebpf source")
	case SourceFSNotify:
		check(len(c.Source.WatchPaths) > 0, "source.watch_paths is required for the fsnotify source")
	case SourceNone:
	default:
		errs = append(errs, fmt.Errorf("source.type must be ebpf, fsnotify or none, got %q", c.Source.Type))
	}

	if c.NATS.URL != "" {
		check(c.NATS.Subject != "", "nats.subject is required when nats.url is set")
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
