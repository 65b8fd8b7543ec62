// Package commands implements the btgo CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/turkcell/bt-go-lib/internal/beyondtrust"
	"github.com/turkcell/bt-go-lib/internal/cache"
	"github.com/turkcell/bt-go-lib/internal/checkout"
	"github.com/turkcell/bt-go-lib/internal/config"
	"github.com/turkcell/bt-go-lib/internal/fetch"
	"github.com/turkcell/bt-go-lib/internal/logging"
)

// Options carries state shared by all subcommands, populated by the
// root command before execution.
type Options struct {
	Logger *logging.Logger
}

// NewFetchCommand creates the one-shot fetch command: run a single
// discovery-and-retrieval cycle and print the resulting keys.
func NewFetchCommand(opts *Options) *cobra.Command {
	var (
		configFile string
		showValues bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one retrieval cycle and print the snapshot",
		Long: `Fetch all configured secrets once and print the resulting keys.

Values are redacted unless --show is given.

Examples:
  # List available secret keys
  btgo fetch

  # Print values too (careful with shell history and CI logs)
  btgo fetch --show`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.Logger
			cfg, err := loadOptions(configFile)
			if err != nil {
				return err
			}
			if !cfg.Enabled {
				logger.Info("engine disabled, nothing to fetch")
				return nil
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ResolveAPIKey(); err != nil {
				return err
			}

			client, err := beyondtrust.NewClient(cfg, logger)
			if err != nil {
				return err
			}
			failsafe := cache.New()
			protocol := checkout.New(client, failsafe, logger, checkout.Config{
				Attempts: cfg.PollAttempts,
			})
			fetcher := fetch.New(client, protocol, failsafe, logger, cfg)

			data, err := fetcher.FetchAll(context.Background())
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(data))
			for k := range data {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if showValues {
					fmt.Printf("%s=%s\n", k, data[k])
				} else {
					fmt.Printf("%s=%s\n", k, logging.Secret(data[k]))
				}
			}
			logger.Info("fetched %d secrets", len(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Read options from a YAML file instead of the environment")
	cmd.Flags().BoolVar(&showValues, "show", false, "Print secret values instead of redacting them")

	return cmd
}

func loadOptions(configFile string) (config.Options, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.FromEnv()
}
