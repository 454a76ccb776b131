package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imageq/internal/alerts"
	"imageq/internal/broker"
	"imageq/internal/config"
	"imageq/internal/handlers"
	"imageq/internal/journal"
	"imageq/internal/logger"
	"imageq/internal/middleware"
	"imageq/internal/processor"
	"imageq/internal/storage"
	"imageq/internal/transform"
	"imageq/internal/worker"
)

// journalCheckTimeout bounds the Kafka dial made by the stats endpoint.
const journalCheckTimeout = 2 * time.Second

// WorkerDeps are the collaborators the worker process runs with.
type WorkerDeps struct {
	Store      storage.Store
	Supervisor *broker.Supervisor
	Transform  transform.Transformer
	Journal    journal.Recorder
	Alerts     alerts.Reporter
}

// Worker is the coordinator for the worker process: consumer, task loop,
// and the health/metrics/stats listener.
type Worker struct {
	cfg        *config.Config
	store      storage.Store
	sup        *broker.Supervisor
	journal    journal.Recorder
	alerts     alerts.Reporter
	loop       *worker.Worker
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewWorker constructs a Worker with given config and dependencies.
func NewWorker(cfg *config.Config, deps WorkerDeps) *Worker {
	if deps.Journal == nil {
		deps.Journal = journal.Noop{}
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewNoop()
	}

	w := &Worker{
		cfg:     cfg,
		store:   deps.Store,
		sup:     deps.Supervisor,
		journal: deps.Journal,
		alerts:  deps.Alerts,
		loop: worker.New(worker.Config{
			ID:        cfg.Worker.ID,
			Processor: processor.New(deps.Store, deps.Transform),
			Journal:   deps.Journal,
			Alerts:    deps.Alerts,
		}),
	}

	if cfg.Server.WorkerAddr != "" {
		w.httpServer = &http.Server{
			Addr:         cfg.Server.WorkerAddr,
			Handler:      w.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}
	return w
}

// Handler returns the worker's HTTP routes.
func (w *Worker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", w.healthHandler)
	mux.HandleFunc("GET /stats", w.statsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	return middleware.Chain(mux, middleware.Recovery, middleware.Logging)
}

// Run consumes tasks until ctx is cancelled. It returns an error wrapping
// broker.ErrRetriesExhausted when the initial broker connection cannot be
// made; the caller should exit non-zero.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.WithComponent("worker_app").With().Str("worker_id", w.cfg.Worker.ID).Logger()
	log.Info().
		Str("queue", w.cfg.Broker.Queue).
		Int("connect_attempts", w.cfg.Broker.ConnectAttempts).
		Dur("connect_delay", w.cfg.Broker.ConnectDelay).
		Msg("worker starting")

	// Buckets are ensured again for every task, so a failure here is not fatal.
	if err := storage.EnsureBuckets(ctx, w.store, w.cfg.Storage.BucketOriginal, w.cfg.Storage.BucketProcessed); err != nil {
		log.Warn().Err(err).Msg("bucket bootstrap failed, will retry per task")
	}

	if w.httpServer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			log.Info().Str("addr", w.httpServer.Addr).Msg("starting HTTP server")
			if err := w.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.reportStats(statsCtx)
	}()

	consumer := broker.NewConsumer(w.sup, w.cfg.Broker.Queue, "imageq-"+w.cfg.Worker.ID)
	err := consumer.Run(ctx, w.loop.Run)

	stopStats()
	w.shutdown()
	return err
}

// shutdown performs graceful shutdown
func (w *Worker) shutdown() {
	log := logger.WithComponent("worker_app")
	log.Info().Msg("initiating graceful shutdown")

	if w.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	if err := w.journal.Close(); err != nil {
		log.Error().Err(err).Msg("drop journal close error")
	}
	if err := w.alerts.Close(); err != nil {
		log.Error().Err(err).Msg("alerts close error")
	}

	w.wg.Wait()

	stats := w.loop.Stats()
	log.Info().
		Uint64("processed", stats.Processed).
		Uint64("dropped", stats.Dropped).
		Msg("worker stopped gracefully")
}

// reportStats periodically logs statistics
func (w *Worker) reportStats(ctx context.Context) {
	log := logger.WithComponent("worker_app")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := w.loop.Stats()
			log.Info().
				Uint64("processed", stats.Processed).
				Uint64("dropped", stats.Dropped).
				Uint64("ack_errors", stats.AckErrors).
				Bool("broker_healthy", w.sup.Healthy()).
				Msg("stats")
		}
	}
}

// healthHandler reports 503 while the broker connection is down.
func (w *Worker) healthHandler(rw http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if !w.sup.Healthy() {
		status, code = "disconnected", http.StatusServiceUnavailable
	}
	handlers.WriteJSON(rw, code, map[string]any{
		"status":    status,
		"worker_id": w.cfg.Worker.ID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statsHandler returns current statistics
func (w *Worker) statsHandler(rw http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"worker": w.loop.Stats(),
		"broker": map[string]any{
			"healthy":       w.sup.Healthy(),
			"dial_attempts": w.sup.Attempts(),
		},
	}
	if p, ok := w.journal.(*journal.Producer); ok {
		s := p.Stats()
		journalStats := map[string]any{
			"records_sent":   s.RecordsSent,
			"records_failed": s.RecordsFailed,
			"bytes_written":  s.BytesWritten,
			"reachable":      true,
		}

		ctx, cancel := context.WithTimeout(r.Context(), journalCheckTimeout)
		defer cancel()
		if err := p.HealthCheck(ctx); err != nil {
			journalStats["reachable"] = false
			journalStats["error"] = err.Error()
		}
		body["journal"] = journalStats
	}
	handlers.WriteJSON(rw, http.StatusOK, body)
}
