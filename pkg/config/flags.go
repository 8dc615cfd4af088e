package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log_level",
	"log-format":     "log_format",
	"api-port":       "api_port",
	"interval":       "detector.interval",
	"count":          "detector.count",
	"threshold":      "detector.threshold",
	"report":         "detector.report",
	"patterns-file":  "signatures.patterns_path",
	"denylist":       "signatures.denylist_path",
	"classifier":     "classifier.enabled",
	"model":          "classifier.model_path",
	"classifier-cmd": "classifier.command",
	"source":         "source.type",
	"bpf-object":     "source.object_path",
	"watch":          "source.watch_paths",
	"enforce":        "actions.enabled",
	"kill-mode":      "actions.kill_mode",
	"nats-url":       "nats.url",
}

// NewFlagSet declares the command line flags. Their defaults mirror the
// configuration defaults; only flags set explicitly override other sources.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default ./config.yaml or /etc/ransomguard/config.yaml)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "json", "log format: json or console")
	fs.String("api-port", "8080", "port of the health and metrics API, empty to disable")
	fs.Duration("interval", time.Second, "control loop interval")
	fs.Int("count", 0, "number of control loop cycles before exiting, 0 for unlimited")
	fs.Int("threshold", 10, "pattern match count a process must exceed to be killed")
	fs.Bool("report", true, "print the per-cycle sequence table")
	fs.String("patterns-file", "", "file with additional behavioral patterns")
	fs.String("denylist", "", "file with malicious sha256 digests (.zst allowed)")
	fs.Bool("classifier", false, "enable the ransom note classifier")
	fs.String("model", "", "classifier model file (default built-in)")
	fs.String("classifier-cmd", "", "external classifier command, text on stdin")
	fs.String("source", "ebpf", "event source: ebpf, fsnotify or none")
	fs.String("bpf-object", "/usr/lib/ransomguard/ransomguard.bpf.o", "compiled BPF object for the ebpf source")
	fs.StringSlice("watch", nil, "directories watched by the fsnotify source")
	fs.Bool("enforce", false, "execute mitigations instead of only reporting them")
	fs.String("kill-mode", "name", "terminate by command name or by pid")
	fs.String("nats-url", "", "NATS server for the verdict stream")
	fs.SortFlags = false
	return fs
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", flag, err)
		}
	}
	return nil
}
