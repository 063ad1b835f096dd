/*
main.go - Application entry point

PURPOSE:
  Command line for the PTO service. Subcommands share the --config flag.

COMMANDS:
  serve     Start the HTTP server
  export    Write every collection to a snapshot file
  import    Replace collections from a snapshot file
  version   Print the version

CONFIGURATION:
  YAML file given by --config, then PTO_* environment overrides.
  See config/config.go for keys and defaults.

EXAMPLES:
  # Run with the default SQLite database
  ./server serve

  # Run in memory on another port
  PTO_STORAGE_DRIVER=memory PTO_PORT=3000 ./server serve

  # Back up and restore
  ./server export --out backup.json.zst
  ./server import --in backup.json.zst

SEE ALSO:
  - serve.go: Server startup and graceful shutdown
  - snapshot.go: export and import
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "PTO request and approval service",
	Long:          "Serves leave requests, manager approvals and balances over HTTP, backed by a key-value record store.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
