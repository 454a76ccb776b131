// Command imageq runs the image processing queue: the upload API, the
// workers that transform queued images, and operator tools.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"imageq/internal/broker"
	"imageq/internal/config"
	"imageq/internal/logger"
	"imageq/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "imageq",
	Short: "Queue-backed image processing",
	Long: `imageq accepts image uploads, stores the originals in an S3 compatible
object store and queues a task per upload on RabbitMQ. Workers consume the
queue one task at a time, transform the image and store the result.

Configuration is read from the environment (and an optional .env file).`,
	SilenceUsage: true,
}

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and initializes logging for service.
func loadConfig(service string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Env:     cfg.Env,
		Service: service,
	})
	return cfg, nil
}

func newStore(ctx context.Context, cfg *config.Config) (*storage.S3, error) {
	return storage.NewS3(ctx, storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
}

func newSupervisor(cfg *config.Config, connectionName string) *broker.Supervisor {
	return broker.NewSupervisor(broker.SupervisorConfig{
		URL:      broker.URL(cfg.Broker.Host, cfg.Broker.Port, cfg.Broker.User, cfg.Broker.Password),
		Attempts: cfg.Broker.ConnectAttempts,
		Delay:    cfg.Broker.ConnectDelay,
		Dial:     broker.AMQPDialer(cfg.Broker.Heartbeat, connectionName),
	})
}
