package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "iorapcore",
		Short: "On-device launch prefetch orchestration core",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newCompileCommand())
	root.AddCommand(newDumpCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
