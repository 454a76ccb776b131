package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imageq/internal/broker"
	"imageq/internal/config"
	"imageq/internal/handlers"
	"imageq/internal/logger"
	"imageq/internal/middleware"
	"imageq/internal/models"
	"imageq/internal/storage"
	"imageq/internal/upload"
)

// TaskPublisher is the broker side of the API.
type TaskPublisher interface {
	upload.Publisher
	Start(ctx context.Context) error
	Ready() bool
	Stats() broker.PublisherStats
	Close() error
}

// APIDeps are the collaborators the API process runs with.
type APIDeps struct {
	Store     storage.Store
	Publisher TaskPublisher
	Minter    models.KeyMinter
}

// API is the coordinator for the upload process: HTTP surface, bucket
// bootstrap and the task publisher.
type API struct {
	cfg        *config.Config
	store      storage.Store
	publisher  TaskPublisher
	service    *upload.Service
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewAPI constructs an API with the given config and dependencies.
func NewAPI(cfg *config.Config, deps APIDeps) *API {
	a := &API{
		cfg:       cfg,
		store:     deps.Store,
		publisher: deps.Publisher,
		service: upload.New(upload.Config{
			Store:           deps.Store,
			Publisher:       deps.Publisher,
			Minter:          deps.Minter,
			OriginalBucket:  cfg.Storage.BucketOriginal,
			ProcessedBucket: cfg.Storage.BucketProcessed,
		}),
	}
	a.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a
}

// Handler returns the HTTP routes of the API.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	uploadHandler := handlers.NewUploadHandler(handlers.UploadConfig{
		Service:     a.service,
		MaxFileSize: a.cfg.Server.MaxUploadBytes,
	})
	mux.Handle("/upload", uploadHandler)
	mux.HandleFunc("GET /{$}", handlers.RootHandler)
	mux.HandleFunc("GET /health", a.healthHandler)
	mux.HandleFunc("GET /stats", a.statsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.Chain(mux, middleware.Recovery, middleware.Logging)
}

// Run bootstraps the buckets, starts the HTTP server and blocks until ctx
// is cancelled. A bucket bootstrap failure is returned immediately.
func (a *API) Run(ctx context.Context) error {
	log := logger.WithComponent("api")
	log.Info().Msg("api starting")

	if err := a.service.Bootstrap(ctx); err != nil {
		log.Error().Err(err).Msg("bucket bootstrap failed")
		return fmt.Errorf("bootstrap buckets: %w", err)
	}
	log.Info().
		Str("bucket_original", a.cfg.Storage.BucketOriginal).
		Str("bucket_processed", a.cfg.Storage.BucketProcessed).
		Msg("buckets ready")

	// The publisher connects and reconnects in the background; uploads
	// fail with 500 while it has no channel.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.publisher.Start(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("publisher not ready, reconnecting in background")
		}
	}()

	serveErr := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Info().Str("addr", a.httpServer.Addr).Msg("starting HTTP server")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
			serveErr <- err
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reportStats(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-serveErr:
	}

	a.shutdown()
	return runErr
}

// shutdown performs graceful shutdown
func (a *API) shutdown() {
	log := logger.WithComponent("api")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("closing publisher")
	if err := a.publisher.Close(); err != nil {
		log.Error().Err(err).Msg("publisher close error")
	}

	a.wg.Wait()
	log.Info().Msg("api stopped gracefully")
}

// reportStats periodically logs statistics
func (a *API) reportStats(ctx context.Context) {
	log := logger.WithComponent("api")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.publisher.Stats()
			log.Info().
				Uint64("published", stats.Published).
				Uint64("publish_failed", stats.Failed).
				Bool("broker_ready", a.publisher.Ready()).
				Msg("stats")
		}
	}
}

// healthHandler reports 503 while the publisher has no broker channel.
func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if !a.publisher.Ready() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	handlers.WriteJSON(w, code, map[string]any{
		"status":    status,
		"broker":    a.publisher.Ready(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statsHandler returns current statistics
func (a *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := a.publisher.Stats()
	handlers.WriteJSON(w, http.StatusOK, map[string]any{
		"publisher": map[string]any{
			"published": stats.Published,
			"failed":    stats.Failed,
			"ready":     a.publisher.Ready(),
		},
	})
}
