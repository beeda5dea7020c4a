// Package app wires all subsystems together, constructed once per
// process.
package app

import (
	"fmt"
	"path/filepath"

	"foxden/internal/checker"
	"foxden/internal/cmdrun"
	"foxden/internal/engine"
	"foxden/internal/isolation"
	"foxden/internal/logging"
	"foxden/internal/netif"
	"foxden/internal/parser"
	"foxden/internal/paths"
	"foxden/internal/proc"
	"foxden/internal/settings"
	"foxden/internal/storage"
	"foxden/internal/storage/sqlite"
	"foxden/internal/sysproxy"
)

// App represents the application context
type App struct {
	Settings     *settings.Settings
	Storage      storage.Storage
	Parser       *parser.Registry
	Engines      *engine.Manager
	Interfaces   *netif.Manager
	SystemProxy  *sysproxy.Manager
	Orchestrator *isolation.Orchestrator
	Checker      *checker.Checker

	DBPath string
}

// New creates a new application instance and recovers any state a
// previous crashed run left behind.
func New() (*App, error) {
	cfg, err := settings.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	logging.Init(cfg.LogLevel)

	dataDir, err := paths.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "foxden.db")
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	launcher := &proc.ExecLauncher{}
	runner := cmdrun.ExecRunner{}
	batch := cmdrun.NewPrivilegedRunner()

	engines := engine.NewManager(cfg, launcher)
	interfaces := netif.NewManager(cfg, launcher, batch, engine.ResolveBinary)
	systemProxy := sysproxy.NewManager(runner)

	orchestrator := isolation.NewOrchestrator(cfg, engines, interfaces, systemProxy, runner, isolation.NewEventBus())

	// Adopt sessions a previous invocation left running, and clean up
	// after crashed ones, before anything else touches the OS
	// configuration. Order matters: the orchestrator probes the engine
	// and interface managers for what survived.
	engines.Recover()
	interfaces.Recover()
	orchestrator.Recover()

	check := checker.New(store, checker.Config{
		Workers: cfg.CheckWorkers,
		Timeout: cfg.CheckTimeout,
	})

	return &App{
		Settings:     cfg,
		Storage:      store,
		Parser:       parser.NewRegistry(),
		Engines:      engines,
		Interfaces:   interfaces,
		SystemProxy:  systemProxy,
		Orchestrator: orchestrator,
		Checker:      check,
		DBPath:       dbPath,
	}, nil
}

// Close closes the application and releases resources
func (a *App) Close() error {
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}
