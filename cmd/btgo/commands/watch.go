package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turkcell/bt-go-lib/internal/cache"
	"github.com/turkcell/bt-go-lib/internal/engine"
	"github.com/turkcell/bt-go-lib/internal/health"
)

// NewWatchCommand creates the long-running command: start the refresh
// engine and log snapshot replacements until interrupted.
func NewWatchCommand(opts *Options) *cobra.Command {
	var (
		configFile  string
		metricsPort int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the refresh engine until interrupted",
		Long: `Start the periodic refresh engine and keep it running. Each
successful refresh replaces the published snapshot and is logged.

With --metrics-port, Prometheus metrics are served on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.Logger
			cfg, err := loadOptions(configFile)
			if err != nil {
				return err
			}
			if err := cfg.ResolveAPIKey(); err != nil {
				return err
			}

			if metricsPort > 0 {
				serverConfig := health.DefaultServerConfig()
				serverConfig.Enabled = true
				serverConfig.Port = metricsPort
				server := health.NewServer(serverConfig)
				if err := server.Start(); err != nil {
					return err
				}
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					server.Stop(ctx)
				}()
				logger.Info("metrics listening on :%d/metrics", metricsPort)
			}

			failsafe := cache.New()
			eng := engine.New(cfg, failsafe, logger)
			if err := eng.Start(); err != nil {
				return err
			}
			defer eng.Stop()

			reloads := eng.Subscribe()
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case <-reloads:
					logger.Info("snapshot reloaded, %d secrets available", eng.Snapshot().Len())
				case sig := <-sigs:
					logger.Info("received %s, shutting down", sig)
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Read options from a YAML file instead of the environment")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port")

	return cmd
}
