package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim simulates the MMU of a single-CPU virtual memory system.",
	Long: `vmsim simulates the MMU of a single-CPU virtual memory system. ` +
		`It executes access traces against a two-level page table, a ` +
		`translation cache, and a copy-on-write fork engine.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
