package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds runtime configuration for the api and worker processes.
type Config struct {
	Storage   StorageConfig
	Broker    BrokerConfig
	Server    ServerConfig
	Worker    WorkerConfig
	Transform TransformConfig
	Journal   ProducerConfig
	Sentry    SentryConfig

	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	Env      string `env:"ENV" env-default:"production"`
}

// StorageConfig describes the S3 compatible object store.
type StorageConfig struct {
	Endpoint        string `env:"MINIO_ENDPOINT" env-default:"minio:9000"`
	AccessKey       string `env:"MINIO_ACCESS_KEY" env-default:"minioadmin"`
	SecretKey       string `env:"MINIO_SECRET_KEY" env-default:"minioadmin123"`
	UseSSL          bool   `env:"MINIO_USE_SSL" env-default:"false"`
	Region          string `env:"MINIO_REGION" env-default:"us-east-1"`
	BucketOriginal  string `env:"MINIO_BUCKET_ORIGINAL" env-default:"original-images"`
	BucketProcessed string `env:"MINIO_BUCKET_PROCESSED" env-default:"processed-images"`
}

// BrokerConfig describes the RabbitMQ connection and retry policy.
type BrokerConfig struct {
	Host            string        `env:"RABBITMQ_HOST" env-default:"rabbitmq"`
	Port            int           `env:"RABBITMQ_PORT" env-default:"5672"`
	User            string        `env:"RABBITMQ_USER" env-default:"user"`
	Password        string        `env:"RABBITMQ_PASS" env-default:"pass"`
	Queue           string        `env:"RABBITMQ_QUEUE" env-default:"image_tasks"`
	ConnectAttempts int           `env:"RABBITMQ_CONNECT_ATTEMPTS" env-default:"10"`
	ConnectDelay    time.Duration `env:"RABBITMQ_CONNECT_DELAY" env-default:"5s"`
	Heartbeat       time.Duration `env:"RABBITMQ_HEARTBEAT" env-default:"60s"`
}

// ServerConfig holds the HTTP listeners.
type ServerConfig struct {
	Addr           string `env:"HTTP_ADDR" env-default:":8000"`
	WorkerAddr     string `env:"WORKER_HTTP_ADDR" env-default:":9100"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" env-default:"20971520"`
}

// WorkerConfig identifies the worker on the broker.
type WorkerConfig struct {
	// ID defaults to the hostname when empty.
	ID string `env:"WORKER_ID"`
}

// TransformConfig selects the image transform.
type TransformConfig struct {
	Name    string `env:"TRANSFORM" env-default:"jpeg"`
	Quality int    `env:"TRANSFORM_QUALITY" env-default:"50"`
}

// ProducerConfig configures the Kafka drop journal. An empty broker list
// disables it.
type ProducerConfig struct {
	Brokers      []string      `env:"KAFKA_BROKERS" env-separator:","`
	Topic        string        `env:"KAFKA_DROP_TOPIC" env-default:"image_tasks.dropped"`
	Compression  string        `env:"KAFKA_COMPRESSION" env-default:"snappy"`
	RequiredAcks int           `env:"KAFKA_REQUIRED_ACKS" env-default:"-1"`
	MaxRetries   int           `env:"KAFKA_MAX_RETRIES" env-default:"3"`
	RetryBackoff time.Duration `env:"KAFKA_RETRY_BACKOFF" env-default:"100ms"`
	WriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" env-default:"10s"`
	BatchTimeout time.Duration `env:"KAFKA_BATCH_TIMEOUT" env-default:"10ms"`
}

// Enabled reports whether any broker is configured.
func (p ProducerConfig) Enabled() bool {
	return len(p.Brokers) > 0
}

// SentryConfig configures fault reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string `env:"SENTRY_DSN"`
	Environment string `env:"SENTRY_ENVIRONMENT" env-default:"development"`
}

// Load reads the configuration from the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Worker.ID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Worker.ID = host
		} else {
			c.Worker.ID = "worker"
		}
	}
	brokers := c.Journal.Brokers[:0]
	for _, b := range c.Journal.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Journal.Brokers = brokers
}

// Validate rejects configurations the processes cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.BucketOriginal) == "" {
		errs = append(errs, errors.New("MINIO_BUCKET_ORIGINAL must not be empty"))
	}
	if strings.TrimSpace(c.Storage.BucketProcessed) == "" {
		errs = append(errs, errors.New("MINIO_BUCKET_PROCESSED must not be empty"))
	}
	if strings.TrimSpace(c.Broker.Queue) == "" {
		errs = append(errs, errors.New("RABBITMQ_QUEUE must not be empty"))
	}
	if c.Broker.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("RABBITMQ_CONNECT_ATTEMPTS must be at least 1, got %d", c.Broker.ConnectAttempts))
	}
	if c.Broker.ConnectDelay < 0 {
		errs = append(errs, fmt.Errorf("RABBITMQ_CONNECT_DELAY must not be negative, got %s", c.Broker.ConnectDelay))
	}
	if c.Transform.Quality < 1 || c.Transform.Quality > 100 {
		errs = append(errs, fmt.Errorf("TRANSFORM_QUALITY must be between 1 and 100, got %d", c.Transform.Quality))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Server.MaxUploadBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
