// Package cmd wires the loom binary: the root command and the serve
// subcommand that runs the engine, scheduler, and HTTP API.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/calafate/loom/internal/log"
)

var (
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Workflow orchestration engine",
	Long: `Loom runs user-defined workflow graphs: nodes bound to actions, edges
gated by conditions, executions persisted with a full per-node log stream.
A single process serves the HTTP API, the job scheduler, and the event
fabric.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		log.Init(os.Stderr, logLevel, logPretty)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false,
		"human-readable log output instead of JSON")
}

// SetVersion stamps the build version onto the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
