package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestValidateConfigDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.ValidateConfig(); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
	if cfg.Server.Port != 9155 {
		t.Fatalf("default port = %d", cfg.Server.Port)
	}
	if !cfg.FsyncOnCommit() {
		t.Fatal("fsync must default to true")
	}
	if cfg.Engine.Snapshot.Interval != 1000 {
		t.Fatalf("default snapshot interval = %d", cfg.Engine.Snapshot.Interval)
	}
	if cfg.Engine.Txn.DefaultTimeout.Duration() != 30*time.Second {
		t.Fatalf("default txn timeout = %s", cfg.Engine.Txn.DefaultTimeout.Duration())
	}
	if cfg.Engine.MaxValueBytes.Int64() != 1<<20 {
		t.Fatalf("default max value bytes = %d", cfg.Engine.MaxValueBytes.Int64())
	}
}

func TestDurationAndSizeParsing(t *testing.T) {
	raw := `
engine:
  max_value_bytes: 4MB
  txn:
    default_timeout: 1500ms
    sweep_interval: 2
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Engine.MaxValueBytes.Int64() != 4*1000*1000 {
		t.Fatalf("4MB parsed to %d", cfg.Engine.MaxValueBytes.Int64())
	}
	if cfg.Engine.Txn.DefaultTimeout.Duration() != 1500*time.Millisecond {
		t.Fatalf("duration parsed to %s", cfg.Engine.Txn.DefaultTimeout.Duration())
	}
	// bare numbers are seconds
	if cfg.Engine.Txn.SweepInterval.Duration() != 2*time.Second {
		t.Fatalf("numeric duration parsed to %s", cfg.Engine.Txn.SweepInterval.Duration())
	}
}

func TestInvalidSnapshotCronRejected(t *testing.T) {
	var cfg Config
	cfg.Engine.Snapshot.Cron = "not a cron"
	if err := cfg.ValidateConfig(); err == nil {
		t.Fatal("invalid cron accepted")
	}
	cfg.Engine.Snapshot.Cron = "0 2 * * *"
	if err := cfg.ValidateConfig(); err != nil {
		t.Fatalf("valid cron rejected: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
server:
  address: 127.0.0.1
  port: 7000
  db_path: /tmp/sh-test
engine:
  in_memory: true
  fsync_on_commit: false
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Server.Port != 7000 || cfg.Addr() != "127.0.0.1:7000" {
		t.Fatalf("addr = %s", cfg.Addr())
	}
	if !cfg.Engine.InMemory || cfg.FsyncOnCommit() {
		t.Fatalf("engine knobs lost: %+v", cfg.Engine)
	}

	if _, err := LoadConfigFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STATEHOUSE_PORT", "7777")
	t.Setenv("STATEHOUSE_FSYNC", "false")
	t.Setenv("STATEHOUSE_TXN_TIMEOUT_MS", "5000")

	var cfg Config
	applyEnvOverrides(&cfg)
	if cfg.Server.Port != 7777 {
		t.Fatalf("env port = %d", cfg.Server.Port)
	}
	if cfg.FsyncOnCommit() {
		t.Fatal("env fsync override lost")
	}
	if cfg.Engine.Txn.DefaultTimeout.Duration() != 5*time.Second {
		t.Fatalf("env timeout = %s", cfg.Engine.Txn.DefaultTimeout.Duration())
	}
}
