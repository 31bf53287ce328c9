package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/streamflow/internal/app"
	"github.com/vladislavdragonenkov/streamflow/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "serve <stage>",
		Short:     "Run a pipeline stage until SIGINT or SIGTERM",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: app.Stages(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if err := app.ConfigureLogging(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.WithFields(log.Fields{
				"stage":        args[0],
				"version":      version.Version(),
				"broker":       cfg.Broker,
				"storage":      cfg.StorageDriver,
				"grpc_addr":    cfg.GRPCAddr,
				"metrics_addr": cfg.MetricsAddr,
			}).Info("starting streamflow")

			return app.Run(ctx, cfg, args[0])
		},
	}
}
