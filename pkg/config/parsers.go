package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Flags holds the parsed command-line flags; Set records which flags were
// given explicitly so file/env values don't clobber them.
type Flags struct {
	Config   string
	Addr     string
	Port     int
	DB       string
	InMemory bool
	LogLevel string
	Set      map[string]bool
}

// ParseConfigFlags parses the daemon's command-line flags.
func ParseConfigFlags() Flags {
	var f Flags
	flag.StringVar(&f.Config, "config", "", "path to YAML config file")
	flag.StringVar(&f.Addr, "addr", "", "listen address")
	flag.IntVar(&f.Port, "port", 0, "listen port")
	flag.StringVar(&f.DB, "db", "", "data directory")
	flag.BoolVar(&f.InMemory, "in-memory", false, "run with the ephemeral in-memory backend")
	flag.StringVar(&f.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flag.Parse()

	f.Set = make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { f.Set[fl.Name] = true })
	return f
}

// EffectiveConfigResult is the merged configuration with its provenance.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string
}

// LoadEffectiveConfig merges flag, file, and env configuration, in
// ascending precedence file < env < flags, and validates the result.
func LoadEffectiveConfig(flags Flags) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	cfg := &Config{}
	source := "defaults"

	path := ResolveConfigPath(flags.Config, flags.Set["config"])
	if path != "" {
		fileCfg, err := LoadConfigFile(path)
		if err != nil {
			return res, err
		}
		cfg = fileCfg
		source = "file:" + path
	}

	applyEnvOverrides(cfg)

	if flags.Set["addr"] {
		cfg.Server.Address = flags.Addr
	}
	if flags.Set["port"] {
		cfg.Server.Port = flags.Port
	}
	if flags.Set["db"] {
		cfg.Server.DBPath = flags.DB
	}
	if flags.Set["in-memory"] {
		cfg.Engine.InMemory = flags.InMemory
	}
	if flags.Set["log-level"] {
		cfg.Logging.Level = flags.LogLevel
	}

	if err := cfg.ValidateConfig(); err != nil {
		return res, err
	}

	res.Config = cfg
	res.Addr = cfg.Addr()
	res.DBPath = cfg.Server.DBPath
	res.Source = source
	return res, nil
}

// applyEnvOverrides folds recognized STATEHOUSE_* env vars into cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STATEHOUSE_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("STATEHOUSE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("STATEHOUSE_DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("STATEHOUSE_IN_MEMORY"); v != "" {
		cfg.Engine.InMemory = v == "1" || v == "true"
	}
	if v := os.Getenv("STATEHOUSE_FSYNC"); v != "" {
		b := v == "1" || v == "true"
		cfg.Engine.FsyncOnCommit = &b
	}
	if v := os.Getenv("STATEHOUSE_SNAPSHOT_INTERVAL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Engine.Snapshot.Interval = n
		}
	}
	if v := os.Getenv("STATEHOUSE_TXN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Engine.Txn.DefaultTimeout = Duration(time.Duration(n) * time.Millisecond)
		}
	}
	if v := os.Getenv("STATEHOUSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// SummaryItems renders the effective config as human-readable lines for the
// startup banner.
func (r EffectiveConfigResult) SummaryItems() []string {
	c := r.Config
	backend := "pebble"
	if c.Engine.InMemory {
		backend = "memory (data is lost on shutdown)"
	}
	return []string{
		fmt.Sprintf("source: %s", r.Source),
		fmt.Sprintf("addr: %s", r.Addr),
		fmt.Sprintf("db_path: %s", r.DBPath),
		fmt.Sprintf("backend: %s", backend),
		fmt.Sprintf("fsync_on_commit: %t", c.FsyncOnCommit()),
		fmt.Sprintf("snapshot_interval: %d commits", c.Engine.Snapshot.Interval),
		fmt.Sprintf("txn_default_timeout: %s", c.Engine.Txn.DefaultTimeout.Duration()),
	}
}
