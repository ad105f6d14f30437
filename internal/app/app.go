package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
	"github.com/valyala/fasthttp"

	"statehouse/pkg/config"
	"statehouse/pkg/engine"
	"statehouse/pkg/logger"
	"statehouse/pkg/sensor"
	"statehouse/pkg/state"
	"statehouse/pkg/store"
	"statehouse/pkg/store/memdb"
	"statehouse/pkg/store/pebbledb"
	"statehouse/pkg/telemetry"
)

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	eng      *engine.Engine
	srvFast  *fasthttp.Server
	diskMon  *sensor.Sensor
	cronStop context.CancelFunc
}

// New sets up resources that don't need a running context: the storage
// backend, the recovered engine, and telemetry. Run starts the disk sensor
// and the HTTP server and blocks for the lifecycle.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	cfg := eff.Config

	if state.PathsVar.Store == "" {
		return nil, fmt.Errorf("state paths not initialized")
	}

	var backend store.Backend
	snapshotDir := state.PathsVar.Snapshots
	if cfg.Engine.InMemory {
		logger.Info("backend_selected", "backend", "memory")
		backend = memdb.Open()
		// in-memory mode loses all data on shutdown; snapshots from an
		// earlier run must not leak into an empty backend
		dir, err := os.MkdirTemp("", "statehouse-mem-snapshots-")
		if err != nil {
			return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
		}
		snapshotDir = dir
	} else {
		db, err := pebbledb.Open(state.PathsVar.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
		}
		backend = db
	}

	eng, err := engine.Open(engine.Options{
		Backend:           backend,
		SnapshotDir:       snapshotDir,
		FsyncOnCommit:     cfg.FsyncOnCommit(),
		SnapshotInterval:  cfg.Engine.Snapshot.Interval,
		SnapshotRetain:    cfg.Engine.Snapshot.Retain,
		DefaultTxnTimeout: cfg.Engine.Txn.DefaultTimeout.Duration(),
		SweepInterval:     cfg.Engine.Txn.SweepInterval.Duration(),
		TerminalRetention: cfg.Engine.Txn.TerminalRetention.Duration(),
		MaxValueBytes:     cfg.Engine.MaxValueBytes.Int64(),
		ReplayBuffer:      cfg.Engine.Replay.Buffer,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("engine recovery failed: %w", err)
	}

	telemetry.Init(state.PathsVar.Telemetry, cfg.Telemetry.SampleRate, cfg.Telemetry.SlowThreshold.Duration())

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, eng: eng}
	return a, nil
}

// Engine exposes the app's engine, mainly for tests.
func (a *App) Engine() *engine.Engine { return a.eng }

// Run starts the disk sensor, the snapshot cron (if configured), and the
// HTTP server, then blocks until context cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	if !a.eff.Config.Engine.InMemory {
		a.diskMon = sensor.New(a.eff.DBPath, a.eff.Config.Sensor.PollInterval.Duration(), a.eff.Config.Sensor.DiskHighPct)
		a.diskMon.Start()
	}

	if expr := a.eff.Config.Engine.Snapshot.Cron; expr != "" {
		cronCtx, cancel := context.WithCancel(ctx)
		a.cronStop = cancel
		go a.snapshotCron(cronCtx, expr)
	}

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// snapshotCron triggers a snapshot whenever the cron expression is due,
// checked once a minute (cron resolution).
func (a *App) snapshotCron(ctx context.Context, expr string) {
	g := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			due, err := g.IsDue(expr, time.Now())
			if err != nil {
				logger.Error("snapshot_cron_invalid", "expr", expr, "error", err)
				return
			}
			if !due {
				continue
			}
			if err := a.eng.Snapshot(ctx); err != nil {
				logger.Error("scheduled_snapshot_failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown tears down components in dependency order: HTTP first so no new
// commits arrive, then the engine (drains queued commits, flushes, closes
// the backend), then telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutdown_requested")

	if a.srvFast != nil {
		if err := a.srvFast.Shutdown(); err != nil {
			logger.Error("fasthttp_shutdown_error", "error", err)
		}
	}
	if a.cronStop != nil {
		a.cronStop()
	}
	if a.diskMon != nil {
		a.diskMon.Stop()
	}

	done := make(chan error, 1)
	go func() { done <- a.eng.Close() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Error("engine_close_error", "error", err)
		}
	case <-ctx.Done():
		logger.Error("engine_close_timeout")
	}

	telemetry.Close()
	logger.Info("shutdown_complete")
	return nil
}

func (a *App) printBanner() {
	logger.LogConfigSummary("statehouse_config", append([]string{
		fmt.Sprintf("version: %s (%s, %s)", a.version, a.commit, a.buildDate),
	}, a.eff.SummaryItems()...))
}
