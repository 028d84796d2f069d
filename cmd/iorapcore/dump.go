package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/iorap/iorap-core/iorapcfg"
)

func newDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print tracing and compilation state",
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

			svc.tracker.Dump(os.Stdout)
			svc.compiler.Dump(ctx, os.Stdout)
			return nil
		},
	}
}
