package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarryd/quarry/internal/app"
	"github.com/quarryd/quarry/internal/config"
	"github.com/quarryd/quarry/internal/logger"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a node: API server, scheduler and worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if debug {
				cfg.Logger.Level = "debug"
				cfg.Logger.Development = true
			}

			log, err := logger.New(cfg.Logger)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			node, err := app.New(cfg, log)
			if err != nil {
				return fmt.Errorf("build node: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("starting node",
				logger.String("storage", cfg.Storage.Backend),
				logger.String("address", cfg.Server.Address))
			return node.Run(ctx)
		},
	}
}
