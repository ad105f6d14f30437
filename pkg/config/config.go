package config

import (
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// Defaults for the engine and server knobs.
const (
	defaultPort              = 9155
	defaultDBPath            = "./statehouse-data"
	defaultMaxValueBytes     = 1 << 20 // 1 MiB
	defaultTxnTimeout        = 30 * time.Second
	defaultTxnSweepInterval  = time.Second
	defaultTerminalRetention = 60 * time.Second
	defaultSnapshotInterval  = 1000
	defaultSnapshotRetain    = 3
	defaultReplayBuffer      = 128
	defaultRateLimitRPS      = 1000
	defaultRateLimitBurst    = 1000
	defaultTelemetrySample   = 0.001
	defaultTelemetrySlowMs   = 200
	defaultSensorPoll        = 30 * time.Second
	defaultSensorDiskHighPct = 90
)

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// FsyncOnCommit resolves the tri-state knob; unset means true.
func (c *Config) FsyncOnCommit() bool {
	if c.Engine.FsyncOnCommit == nil {
		return true
	}
	return *c.Engine.FsyncOnCommit
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig applies defaults and validates values. It mutates the
// receiver to fill in missing defaults and returns an error if any value is
// invalid.
func (c *Config) ValidateConfig() error {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = defaultDBPath
	}
	if c.Server.RateLimit.RPS <= 0 {
		c.Server.RateLimit.RPS = defaultRateLimitRPS
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = defaultRateLimitBurst
	}

	if c.Engine.MaxValueBytes.Int64() <= 0 {
		c.Engine.MaxValueBytes = SizeBytes(defaultMaxValueBytes)
	}
	if c.Engine.Txn.DefaultTimeout.Duration() <= 0 {
		c.Engine.Txn.DefaultTimeout = Duration(defaultTxnTimeout)
	}
	if c.Engine.Txn.SweepInterval.Duration() <= 0 {
		c.Engine.Txn.SweepInterval = Duration(defaultTxnSweepInterval)
	}
	if c.Engine.Txn.TerminalRetention.Duration() <= 0 {
		c.Engine.Txn.TerminalRetention = Duration(defaultTerminalRetention)
	}
	if c.Engine.Snapshot.Interval == 0 {
		c.Engine.Snapshot.Interval = defaultSnapshotInterval
	}
	if c.Engine.Snapshot.Retain <= 0 {
		c.Engine.Snapshot.Retain = defaultSnapshotRetain
	}
	if c.Engine.Snapshot.Cron != "" && !gronx.IsValid(c.Engine.Snapshot.Cron) {
		return fmt.Errorf("invalid snapshot cron expression: %s", c.Engine.Snapshot.Cron)
	}
	if c.Engine.Replay.Buffer <= 0 {
		c.Engine.Replay.Buffer = defaultReplayBuffer
	}

	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = defaultTelemetrySample
	}
	if c.Telemetry.SlowThreshold.Duration() == 0 {
		c.Telemetry.SlowThreshold = Duration(defaultTelemetrySlowMs * time.Millisecond)
	}

	if c.Sensor.PollInterval.Duration() == 0 {
		c.Sensor.PollInterval = Duration(defaultSensorPoll)
	}
	if c.Sensor.DiskHighPct <= 0 || c.Sensor.DiskHighPct > 100 {
		c.Sensor.DiskHighPct = defaultSensorDiskHighPct
	}

	return nil
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("STATEHOUSE_SERVER_CONFIG"); p != "" {
		return p
	}
	if p := os.Getenv("STATEHOUSE_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
