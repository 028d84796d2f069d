package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cdr.dev/slog"

	"github.com/coder/retry"

	"github.com/iorap/iorap-core/iorapcfg"
	"github.com/iorap/iorap-core/packageversion"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event router until interrupted",
		Long: "Wires the package version cache, tracing tracker, database and " +
			"compilation controller behind the event router, and blocks until " +
			"SIGINT/SIGTERM. The binder/IPC transport that would feed real " +
			"launch and job-scheduled events is out of scope; serve exists to " +
			"prove the wiring is sound.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := iorapcfg.FromEnviron()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.close()

			svc.log.Info(ctx, "iorapcore serving",
				slog.F("database_path", cfg.DatabasePath),
				slog.F("trace_dir", cfg.TraceDir),
				slog.F("worker_count", cfg.WorkerCount),
			)

			go refreshPackageVersionsUntilDone(ctx, svc.log, svc.versions)

			<-ctx.Done()
			svc.log.Info(ctx, "shutting down")
			svc.router.Join()
			return nil
		},
	}
}

// refreshPackageVersionsUntilDone keeps the package version cache from
// drifting forever stale across a long-running serve invocation, backing
// off between refreshes and after failures the same way agent health
// checks back off between probes.
func refreshPackageVersionsUntilDone(ctx context.Context, log slog.Logger, versions *packageversion.Cache) {
	for r := retry.New(time.Minute, 15*time.Minute); r.Wait(ctx); {
		if err := versions.Update(ctx); err != nil {
			log.Warn(ctx, "periodic package version refresh failed", slog.Error(err))
			continue
		}
		r.Reset()
	}
}
