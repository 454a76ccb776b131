package journal

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"imageq/internal/config"
	"imageq/internal/logger"
	"imageq/internal/metrics"
)

// Producer errors
var (
	ErrProducerClosed = errors.New("producer is closed")

	// ErrSerializeFailed wraps a record that cannot be encoded. Only a
	// DroppedAt outside years 0-9999 does that.
	ErrSerializeFailed = errors.New("failed to serialize drop record")
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes drop records to Kafka with retry and exponential backoff.
type Producer struct {
	cfg    config.ProducerConfig
	writer MessageWriter
	closed atomic.Bool

	// Metrics
	recordsSent   atomic.Uint64
	recordsFailed atomic.Uint64
	bytesWritten  atomic.Uint64
}

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// WithWriter replaces the Kafka writer, mainly for tests.
func WithWriter(w MessageWriter) ProducerOption {
	return func(p *Producer) { p.writer = w }
}

// NewProducer creates a drop journal producer for cfg.Topic.
func NewProducer(cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	p := &Producer{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}

	if p.writer == nil {
		if len(cfg.Brokers) == 0 {
			return nil, errors.New("at least one broker is required")
		}
		p.writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{}, // Partition by object key
			BatchSize:              1,
			BatchTimeout:           cfg.BatchTimeout,
			WriteTimeout:           cfg.WriteTimeout,
			RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:            getCompression(cfg.Compression),
			MaxAttempts:            1, // retries are ours
			AllowAutoTopicCreation: true,
		}
	}

	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Record publishes rec and blocks until Kafka accepts it or retries run out.
func (p *Producer) Record(ctx context.Context, rec DropRecord) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	data, err := rec.Marshal()
	if err != nil {
		p.recordsFailed.Add(1)
		metrics.JournalPublishTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	msg := kafka.Message{
		Key:   []byte(rec.ObjectKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(rec.Kind)},
			{Key: "worker_id", Value: []byte(rec.WorkerID)},
		},
		Time: rec.DroppedAt,
	}

	if err := p.publishWithRetry(ctx, msg); err != nil {
		p.recordsFailed.Add(1)
		metrics.JournalPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	p.recordsSent.Add(1)
	p.bytesWritten.Add(uint64(len(data)))
	metrics.JournalPublishTotal.WithLabelValues("success").Inc()
	return nil
}

// publishWithRetry publishes a single message with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, msg kafka.Message) error {
	log := logger.WithComponent("drop_journal")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying drop record publish")

			metrics.JournalPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("drop record publish attempt failed")

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	log.Error().
		Err(lastErr).
		Int("max_attempts", p.cfg.MaxRetries+1).
		Msg("drop record publish failed after all retries")

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		RecordsSent:   p.recordsSent.Load(),
		RecordsFailed: p.recordsFailed.Load(),
		BytesWritten:  p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer counters
type ProducerStats struct {
	RecordsSent   uint64
	RecordsFailed uint64
	BytesWritten  uint64
}

// HealthCheck dials the first configured broker.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if len(p.cfg.Brokers) == 0 {
		return nil
	}

	conn, err := kafka.DialContext(ctx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka broker %s: %w", p.cfg.Brokers[0], err)
	}
	return conn.Close()
}
