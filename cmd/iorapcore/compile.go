package main

import (
	"github.com/spf13/cobra"

	"cdr.dev/slog"

	"github.com/iorap/iorap-core/iorapcfg"
)

func newCompileCommand() *cobra.Command {
	var (
		packageName  string
		version      int64
		activityName string
	)

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Run the idle-time compilation pass directly",
		Long: "Invokes the compilation controller without waiting for a " +
			"job-scheduled event. With no flags, compiles every activity of " +
			"every known package. --package and --version narrow to one " +
			"package; adding --activity narrows to one activity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := iorapcfg.FromEnviron()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.close()

			params := svc.controllerParams()

			var ok bool
			switch {
			case packageName != "" && activityName != "":
				ok = svc.compiler.CompileActivity(ctx, packageName, activityName, version, params)
			case packageName != "":
				ok = svc.compiler.CompilePackage(ctx, packageName, version, params)
			default:
				ok = svc.compiler.CompileDevice(ctx, params)
			}

			svc.log.Info(ctx, "compile pass finished", slog.F("ok", ok))
			return nil
		},
	}

	cmd.Flags().StringVar(&packageName, "package", "", "package name to compile (default: every package)")
	cmd.Flags().Int64Var(&version, "version", 0, "package version, required with --package")
	cmd.Flags().StringVar(&activityName, "activity", "", "activity name to compile, requires --package")

	return cmd
}
