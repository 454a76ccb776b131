package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"imageq/internal/alerts"
	"imageq/internal/journal"
	"imageq/internal/logger"
	"imageq/internal/metrics"
	"imageq/internal/processor"
)

// ErrDeliveriesClosed is returned by Run when the broker stops delivering,
// which happens when the channel or connection is lost.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// journalTimeout bounds how long a drop record may hold up the next task.
const journalTimeout = 10 * time.Second

// TaskProcessor runs one task.
type TaskProcessor interface {
	Process(ctx context.Context, body []byte) (processor.Outcome, error)
}

// Config holds worker dependencies
type Config struct {
	ID        string
	Processor TaskProcessor
	Journal   journal.Recorder
	Alerts    alerts.Reporter
}

// Worker consumes deliveries one at a time and settles each before reading
// the next: ack on success, nack without requeue on any fault.
type Worker struct {
	id        string
	processor TaskProcessor
	journal   journal.Recorder
	alerts    alerts.Reporter

	// Metrics
	processed atomic.Uint64
	dropped   atomic.Uint64
	ackErrors atomic.Uint64
	inFlight  atomic.Int64
	faults    map[processor.Kind]*atomic.Uint64
}

// New creates a worker. A nil journal or alerts reporter is replaced by a
// no-op.
func New(cfg Config) *Worker {
	if cfg.Journal == nil {
		cfg.Journal = journal.Noop{}
	}
	if cfg.Alerts == nil {
		cfg.Alerts = alerts.NewNoop()
	}
	faults := make(map[processor.Kind]*atomic.Uint64, len(processor.Kinds))
	for _, k := range processor.Kinds {
		faults[k] = new(atomic.Uint64)
	}
	return &Worker{
		id:        cfg.ID,
		processor: cfg.Processor,
		journal:   cfg.Journal,
		alerts:    cfg.Alerts,
		faults:    faults,
	}
}

// Run handles deliveries until ctx is done (returns nil) or the channel
// closes (returns ErrDeliveriesClosed). A task already being processed when
// ctx is cancelled runs to completion and is settled before Run returns.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	log := logger.WithComponent("worker").With().Str("worker_id", w.id).Logger()
	log.Info().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				return ErrDeliveriesClosed
			}
			w.handle(ctx, d)
		}
	}
}

// handle processes and settles a single delivery.
func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	log := logger.WithComponent("worker").With().
		Str("worker_id", w.id).
		Uint64("delivery_tag", d.DeliveryTag).
		Bool("redelivered", d.Redelivered).
		Logger()

	start := time.Now()
	w.inFlight.Add(1)
	metrics.TasksInFlight.Inc()
	defer func() {
		w.inFlight.Add(-1)
		metrics.TasksInFlight.Dec()
		metrics.TaskDuration.Observe(time.Since(start).Seconds())
	}()

	taskCtx := context.WithoutCancel(ctx)
	out, err := w.process(taskCtx, d.Body)

	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			w.ackErrors.Add(1)
			log.Error().Err(ackErr).Str("object_name", out.Envelope.ObjectKey).Msg("ack failed, task will be redelivered")
			return
		}
		w.processed.Add(1)
		metrics.TasksTotal.WithLabelValues("acked").Inc()
		w.alerts.ReportSuccess()
		log.Info().
			Str("object_name", out.Envelope.ObjectKey).
			Str("result_key", out.ResultKey).
			Int("bytes", out.Bytes).
			Dur("duration", time.Since(start)).
			Msg("task completed")
		return
	}

	w.drop(taskCtx, d, err)
}

// process runs the processor, turning a panic into a transform fault.
func (w *Worker) process(ctx context.Context, body []byte) (out processor.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			lg := logger.WithComponent("worker")
			lg.Error().
				Str("worker_id", w.id).
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("task panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			err = &processor.Fault{
				Kind: processor.KindTransform,
				Step: "panic",
				Err:  fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return w.processor.Process(ctx, body)
}

// drop nacks d without requeue and records why.
func (w *Worker) drop(ctx context.Context, d amqp.Delivery, err error) {
	kind := processor.KindOf(err)
	var fault *processor.Fault
	errors.As(err, &fault)

	log := logger.WithComponent("worker").With().
		Str("worker_id", w.id).
		Uint64("delivery_tag", d.DeliveryTag).
		Str("fault_kind", string(kind)).
		Str("body", string(d.Body)).
		Logger()

	if nackErr := d.Nack(false, false); nackErr != nil {
		w.ackErrors.Add(1)
		log.Error().Err(nackErr).AnErr("fault", err).Msg("nack failed, task will be redelivered")
		return
	}

	w.dropped.Add(1)
	if c, ok := w.faults[kind]; ok {
		c.Add(1)
	}
	metrics.TasksTotal.WithLabelValues("dropped").Inc()
	metrics.TaskFaultsTotal.WithLabelValues(string(kind)).Inc()

	log.Error().Err(err).Msg("task dropped")

	rec := journal.DropRecord{
		Kind:        string(kind),
		Error:       err.Error(),
		Body:        string(d.Body),
		WorkerID:    w.id,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		DroppedAt:   time.Now().UTC(),
	}
	af := alerts.Fault{Kind: string(kind), Err: err, WorkerID: w.id, Body: d.Body}
	if fault != nil {
		rec.Step = fault.Step
		rec.SourceBucket = fault.Envelope.SourceBucket
		rec.DestinationBucket = fault.Envelope.DestinationBucket
		rec.ObjectKey = fault.Envelope.ObjectKey
		af.Step = fault.Step
		af.ObjectKey = fault.Envelope.ObjectKey
	}

	jctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if jerr := w.journal.Record(jctx, rec); jerr != nil {
		log.Warn().Err(jerr).Msg("failed to journal dropped task")
	}
	w.alerts.ReportFault(ctx, af)
}

// Stats returns worker statistics
func (w *Worker) Stats() Stats {
	faults := make(map[string]uint64, len(w.faults))
	for k, c := range w.faults {
		faults[string(k)] = c.Load()
	}
	return Stats{
		Processed: w.processed.Load(),
		Dropped:   w.dropped.Load(),
		AckErrors: w.ackErrors.Load(),
		InFlight:  w.inFlight.Load(),
		Faults:    faults,
	}
}

// Stats holds worker metrics
type Stats struct {
	Processed uint64            `json:"processed"`
	Dropped   uint64            `json:"dropped"`
	AckErrors uint64            `json:"ack_errors"`
	InFlight  int64             `json:"in_flight"`
	Faults    map[string]uint64 `json:"faults"`
}
