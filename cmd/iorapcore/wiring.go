package main

import (
	"context"
	"os"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"

	"github.com/iorap/iorap-core/database"
	"github.com/iorap/iorap-core/database/sqlitedb"
	"github.com/iorap/iorap-core/eventrouter"
	"github.com/iorap/iorap-core/iorapcfg"
	"github.com/iorap/iorap-core/maintenance"
	"github.com/iorap/iorap-core/packageversion"
	"github.com/iorap/iorap-core/tracing"
)

// service bundles the wired-together orchestration components, built once
// per command invocation.
type service struct {
	log      slog.Logger
	cfg      iorapcfg.Config
	store    database.Store
	versions *packageversion.Cache
	tracker  *tracing.Tracker
	compiler *maintenance.Controller
	router   *eventrouter.Router
}

func newLogger() slog.Logger {
	return slog.Make(sloghuman.Sink(os.Stderr))
}

// buildService wires A (packageversion), B (tracing), C (database), D
// (maintenance) and E (eventrouter) together against cfg. The tracing
// engine and the package manager are both out-of-scope external
// collaborators normally reached over IPC; buildService substitutes
// process-local stubs so the wiring is exercisable without that transport.
func buildService(ctx context.Context, cfg iorapcfg.Config) (*service, error) {
	log := newLogger()

	store, err := sqlitedb.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	versions, err := packageversion.Create(ctx, stubPackageManager{}, log)
	if err != nil {
		return nil, err
	}

	tracker := tracing.New(stubEngine{}, log, nil)
	compiler := maintenance.NewController(store, maintenance.NewExecRunner(), log, nil)
	router := eventrouter.New(tracker, versions, store, compiler, log, cfg.TraceDir, controllerParamsFromConfig(cfg), cfg.WorkerCount)

	return &service{
		log:      log,
		cfg:      cfg,
		store:    store,
		versions: versions,
		tracker:  tracker,
		compiler: compiler,
		router:   router,
	}, nil
}

func controllerParamsFromConfig(cfg iorapcfg.Config) maintenance.ControllerParams {
	return maintenance.NewControllerParams(cfg.CompiledTraceDir,
		maintenance.WithMinTraces(cfg.MinTraces),
		maintenance.WithRecompile(cfg.Recompile),
		maintenance.WithOutputText(cfg.OutputText),
	)
}

func (s *service) controllerParams() maintenance.ControllerParams {
	return controllerParamsFromConfig(s.cfg)
}

func (s *service) close() error {
	return s.store.Close()
}
