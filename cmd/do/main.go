package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/templui/tracker/cmd/do/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "do",
		Short:        "Development and maintenance tools for tracker",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.DevCmd())
	rootCmd.AddCommand(cmd.GenCmd())
	rootCmd.AddCommand(cmd.MigrateCmd())
	rootCmd.AddCommand(cmd.ImportCmd())
	rootCmd.AddCommand(cmd.ExportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
