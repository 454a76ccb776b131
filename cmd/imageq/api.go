package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"imageq/internal/app"
	"imageq/internal/broker"
	"imageq/internal/logger"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the upload API",
	Long: `Serve POST /upload. Each accepted image is stored in the original bucket
and a task is published to the queue. Exits non-zero if the buckets cannot
be prepared.`,
	Args: cobra.NoArgs,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig("api")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	sup := newSupervisor(cfg, "imageq-api")
	publisher := broker.NewPublisher(sup, cfg.Broker.Queue)

	a := app.NewAPI(cfg, app.APIDeps{
		Store:     store,
		Publisher: publisher,
	})

	if err := a.Run(ctx); err != nil {
		lg := logger.WithComponent("main")
		lg.Error().Err(err).Msg("api exited")
		return err
	}
	return nil
}
