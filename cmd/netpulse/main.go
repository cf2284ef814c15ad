// Command netpulse runs the HTTP control plane and the worker runtime
// variants (fifo, node) spec.md describes, selected by subcommand rather
// than the teacher's RUN_SERVER/RUN_WORKER environment switches, grounded
// on cuemby-warren's cmd/warren/main.go root-command-plus-subcommands
// shape (persistent flags read once in a root PersistentPreRunE, domain
// subcommands each owning a RunE closure).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "netpulse",
	Short: "netpulse distributed network job dispatcher",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("NETPULSE_CONFIG"), "path to netpulse config YAML")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
