// Package iorapcfg loads the service's configuration from IORAP_-prefixed
// environment variables. It intentionally does not use the CLI layer's
// clibase machinery: the surface here is seven flat fields, not worth a new
// dependency or a config-options framework.
package iorapcfg

import (
	"os"
	"strconv"

	"golang.org/x/xerrors"
)

// Config is the iorapcore service's full configuration.
type Config struct {
	// DatabasePath is where the SQLite file is opened or created.
	DatabasePath string
	// TraceDir is where captured trace buffers are written before being
	// recorded as raw traces.
	TraceDir string
	// CompiledTraceDir is where the compiler writes finished prefetch
	// artifacts, addressed by VersionedComponentName.FilePath.
	CompiledTraceDir string
	// MinTraces is the minimum number of usable traces before compilation
	// is attempted for an activity.
	MinTraces int
	// Recompile forces compilation even when a compiled trace already
	// exists on disk.
	Recompile bool
	// OutputText passes the text-output flag through to the compiler.
	OutputText bool
	// WorkerCount sizes the event router's background worker pool.
	WorkerCount int
}

const (
	envDatabasePath     = "IORAP_DATABASE_PATH"
	envTraceDir         = "IORAP_TRACE_DIR"
	envCompiledTraceDir = "IORAP_COMPILED_TRACE_DIR"
	envMinTraces        = "IORAP_MIN_TRACES"
	envRecompile        = "IORAP_RECOMPILE"
	envOutputText       = "IORAP_OUTPUT_TEXT"
	envWorkerCount      = "IORAP_WORKER_COUNT"
)

// Default returns a Config with reasonable defaults for local use.
func Default() Config {
	return Config{
		DatabasePath:     "/data/system/iorap/sqlite.db",
		TraceDir:         "/data/system/iorap/traces",
		CompiledTraceDir: "/data/system/iorap/compiled",
		MinTraces:        3,
		Recompile:        false,
		OutputText:       false,
		WorkerCount:      2,
	}
}

// FromEnviron overlays IORAP_-prefixed environment variables on top of
// Default. Unset variables leave the default untouched; a set variable that
// fails to parse is an error naming the variable.
func FromEnviron() (Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv(envDatabasePath); ok {
		cfg.DatabasePath = v
	}
	if v, ok := os.LookupEnv(envTraceDir); ok {
		cfg.TraceDir = v
	}
	if v, ok := os.LookupEnv(envCompiledTraceDir); ok {
		cfg.CompiledTraceDir = v
	}
	if v, ok := os.LookupEnv(envMinTraces); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parse %s: %w", envMinTraces, err)
		}
		cfg.MinTraces = n
	}
	if v, ok := os.LookupEnv(envRecompile); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parse %s: %w", envRecompile, err)
		}
		cfg.Recompile = b
	}
	if v, ok := os.LookupEnv(envOutputText); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parse %s: %w", envOutputText, err)
		}
		cfg.OutputText = b
	}
	if v, ok := os.LookupEnv(envWorkerCount); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parse %s: %w", envWorkerCount, err)
		}
		cfg.WorkerCount = n
	}

	return cfg, nil
}
