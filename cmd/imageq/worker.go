package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"imageq/internal/alerts"
	"imageq/internal/app"
	"imageq/internal/broker"
	"imageq/internal/config"
	"imageq/internal/journal"
	"imageq/internal/logger"
	"imageq/internal/transform"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume and process queued image tasks",
	Long: `Connect to RabbitMQ and process tasks one at a time. Successful tasks are
acknowledged; failed tasks are dropped without requeue and recorded in the
drop journal when KAFKA_BROKERS is set.

The initial connection is attempted RABBITMQ_CONNECT_ATTEMPTS times,
RABBITMQ_CONNECT_DELAY apart. If every attempt fails the worker exits with
status 1. Later connection losses are retried until shutdown.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig("worker")
	if err != nil {
		return err
	}
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	tr, err := transform.New(cfg.Transform.Name, cfg.Transform.Quality)
	if err != nil {
		return err
	}

	rec, err := newJournal(cfg)
	if err != nil {
		return err
	}

	rep, err := newAlerts(cfg)
	if err != nil {
		return err
	}

	w := app.NewWorker(cfg, app.WorkerDeps{
		Store:      store,
		Supervisor: newSupervisor(cfg, "imageq-worker-"+cfg.Worker.ID),
		Transform:  tr,
		Journal:    rec,
		Alerts:     rep,
	})

	err = w.Run(ctx)
	if errors.Is(err, broker.ErrRetriesExhausted) {
		log.Fatal().Err(err).Msg("could not connect to broker, exiting")
	}
	if err != nil {
		log.Error().Err(err).Msg("worker exited")
		return err
	}
	return nil
}

func newJournal(cfg *config.Config) (journal.Recorder, error) {
	if !cfg.Journal.Enabled() {
		lg := logger.WithComponent("main")
		lg.Info().Msg("drop journal disabled")
		return journal.Noop{}, nil
	}
	p, err := journal.NewProducer(cfg.Journal)
	if err != nil {
		return nil, err
	}
	lg := logger.WithComponent("main")
	lg.Info().
		Strs("brokers", cfg.Journal.Brokers).
		Str("topic", cfg.Journal.Topic).
		Msg("drop journal initialized")
	return p, nil
}

func newAlerts(cfg *config.Config) (alerts.Reporter, error) {
	if cfg.Sentry.DSN == "" {
		return alerts.NewNoop(), nil
	}
	return alerts.NewSentry(alerts.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		ServerName:  cfg.Worker.ID,
	})
}
