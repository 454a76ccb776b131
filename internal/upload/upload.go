// Package upload is the producer side of the pipeline: it stores an
// original image and enqueues the task that will process it.
package upload

import (
	"context"
	"errors"
	"fmt"

	"imageq/internal/logger"
	"imageq/internal/metrics"
	"imageq/internal/models"
	"imageq/internal/storage"
)

var (
	// ErrStore wraps failures writing the original to the object store.
	ErrStore = errors.New("object store error")
	// ErrPublish wraps failures enqueueing the task.
	ErrPublish = errors.New("queue error")
)

// Publisher enqueues task envelopes.
type Publisher interface {
	Publish(ctx context.Context, env models.Envelope) error
}

// Config holds service dependencies
type Config struct {
	Store           storage.Store
	Publisher       Publisher
	Minter          models.KeyMinter
	OriginalBucket  string
	ProcessedBucket string
}

// Service stores uploads and publishes their envelopes.
type Service struct {
	store     storage.Store
	publisher Publisher
	minter    models.KeyMinter
	original  string
	processed string
}

// New creates a Service.
func New(cfg Config) *Service {
	return &Service{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		minter:    cfg.Minter,
		original:  cfg.OriginalBucket,
		processed: cfg.ProcessedBucket,
	}
}

// Result is what the caller learns about an accepted upload.
type Result struct {
	ObjectKey string
	Envelope  models.Envelope
}

// Bootstrap creates both buckets if they are missing.
func (s *Service) Bootstrap(ctx context.Context) error {
	return storage.EnsureBuckets(ctx, s.store, s.original, s.processed)
}

// Submit stores data under a freshly minted key and publishes the task.
// If the publish fails the original stays in the store; it can be queued
// again with Resubmit.
func (s *Service) Submit(ctx context.Context, filename, contentType string, data []byte) (Result, error) {
	log := logger.WithComponent("upload")
	key := s.minter.Mint(filename)

	if err := s.store.Put(ctx, s.original, key, data, contentType); err != nil {
		metrics.UploadsTotal.WithLabelValues("store_failed").Inc()
		log.Error().Err(err).Str("object_name", key).Msg("failed to store original")
		return Result{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	env, err := models.NewEnvelope(s.original, s.processed, key)
	if err != nil {
		return Result{}, err
	}

	if err := s.publisher.Publish(ctx, env); err != nil {
		metrics.UploadsTotal.WithLabelValues("publish_failed").Inc()
		log.Error().Err(err).Str("object_name", key).Msg("failed to enqueue task")
		return Result{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	metrics.UploadsTotal.WithLabelValues("queued").Inc()
	metrics.UploadBytes.Observe(float64(len(data)))
	log.Info().
		Str("object_name", key).
		Str("content_type", contentType).
		Int("bytes", len(data)).
		Msg("upload queued")

	return Result{ObjectKey: key, Envelope: env}, nil
}

// Resubmit publishes a task for an object that is already stored. Empty
// bucket names fall back to the service defaults.
func (s *Service) Resubmit(ctx context.Context, sourceBucket, destinationBucket, objectKey string) (models.Envelope, error) {
	if sourceBucket == "" {
		sourceBucket = s.original
	}
	if destinationBucket == "" {
		destinationBucket = s.processed
	}

	env, err := models.NewEnvelope(sourceBucket, destinationBucket, objectKey)
	if err != nil {
		return models.Envelope{}, err
	}

	if _, err := s.store.Get(ctx, env.SourceBucket, env.ObjectKey); err != nil {
		return models.Envelope{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		return models.Envelope{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	lg := logger.WithComponent("upload")
	lg.Info().
		Str("object_name", env.ObjectKey).
		Str("bucket_original", env.SourceBucket).
		Str("bucket_processed", env.DestinationBucket).
		Msg("task resubmitted")
	return env, nil
}
