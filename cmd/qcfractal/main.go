package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qcfractal",
	Short: "QCFractal - Distributed quantum chemistry compute orchestration",
	Long: `QCFractal orchestrates quantum chemistry computations: a central
server deduplicates and stores molecules, options, and results, and
queue managers lease tasks from it to run on compute backends.

Run a server, attach managers to it, and submit work through the
client API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"QCFractal version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(userCmd)
}
