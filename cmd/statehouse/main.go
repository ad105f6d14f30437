package main

import (
	"context"
	"runtime"
	"time"

	"github.com/joho/godotenv"

	"statehouse/internal/app"
	"statehouse/pkg/config"
	"statehouse/pkg/logger"
	"statehouse/pkg/state"
	"statehouse/pkg/state/shutdown"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	// parse config flags
	flags := config.ParseConfigFlags()

	// merge flags, file, and env into the effective config
	eff, err := config.LoadEffectiveConfig(flags)
	if err != nil {
		logger.Init("")
		shutdown.Abort("failed to build effective config", err, flags.DB)
	}

	// initialize logger after config is fully loaded
	logger.Init(eff.Config.Logging.Level)
	defer logger.Sync()

	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)

	numCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(numCPU)
	logger.Info("system_logical_cores", "logical_cores", numCPU)

	// init database folders and ensure the filesystem layout
	if err := state.Init(eff.DBPath); err != nil {
		shutdown.Abort("failed to ensure state directories", err, eff.DBPath)
	}

	// initialize app (opens the backend and recovers the engine)
	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize app", err, eff.DBPath)
	}

	// set up context and signal handling for graceful shutdown
	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	// run the app
	if err := a.Run(ctx); err != nil {
		shutdown.Abort("app run failed", err, eff.DBPath)
	}

	// shut down with a bounded timeout so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	_ = a.Shutdown(shutdownCtx)
}
