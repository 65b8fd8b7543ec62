package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/turkcell/bt-go-lib/cmd/btgo/commands"
	"github.com/turkcell/bt-go-lib/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile string
		noColor bool
		debug   bool
	)

	opts := &commands.Options{}

	rootCmd := &cobra.Command{
		Use:   "btgo",
		Short: "BeyondTrust Password Safe secret fetcher",
		Long: `btgo retrieves managed-account passwords and Secrets Safe entries
from a BeyondTrust Password Safe instance and exposes them as a flat
key-value snapshot. Configuration comes from BEYONDTRUST_* environment
variables, optionally loaded from a .env file.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not load %s: %v\n", envFile, err)
				}
			} else {
				// Best-effort default; a missing .env is fine.
				_ = godotenv.Load()
			}
			opts.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from file (default .env if present)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewFetchCommand(opts),
		commands.NewWatchCommand(opts),
	)

	return rootCmd.Execute()
}
