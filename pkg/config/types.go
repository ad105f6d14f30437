package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sensor    SensorConfig    `yaml:"sensor"`
}

// ServerConfig holds http and storage path settings.
type ServerConfig struct {
	Address   string          `yaml:"address"`
	Port      int             `yaml:"port"`
	DBPath    string          `yaml:"db_path"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client token bucket settings.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// EngineConfig holds the transactional core's knobs.
type EngineConfig struct {
	InMemory      bool           `yaml:"in_memory"`
	FsyncOnCommit *bool          `yaml:"fsync_on_commit"` // default true
	MaxValueBytes SizeBytes      `yaml:"max_value_bytes"`
	Txn           TxnConfig      `yaml:"txn"`
	Snapshot      SnapshotConfig `yaml:"snapshot"`
	Replay        ReplayConfig   `yaml:"replay"`
}

// TxnConfig controls transaction deadlines and table hygiene.
type TxnConfig struct {
	DefaultTimeout    Duration `yaml:"default_timeout"`
	SweepInterval     Duration `yaml:"sweep_interval"`
	TerminalRetention Duration `yaml:"terminal_retention"`
}

// SnapshotConfig controls snapshot cadence and retention. Interval counts
// commits; Cron adds an optional wall-clock cadence on top.
type SnapshotConfig struct {
	Interval uint64 `yaml:"interval"`
	Retain   int    `yaml:"retain"`
	Cron     string `yaml:"cron"`
}

// ReplayConfig controls the replay producer.
type ReplayConfig struct {
	Buffer int `yaml:"buffer"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig controls sampling and slow-request thresholds.
type TelemetryConfig struct {
	SampleRate    float64  `yaml:"sample_rate"`
	SlowThreshold Duration `yaml:"slow_threshold"`
}

// SensorConfig holds disk monitor tuning knobs.
type SensorConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	DiskHighPct  int      `yaml:"disk_high_pct"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
