package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"imageq/internal/logger"
)

// Fault is a dropped task as seen by the reporter.
type Fault struct {
	Kind      string
	Step      string
	Err       error
	ObjectKey string
	WorkerID  string
	Body      []byte
}

// Rule defines a simple threshold-based alert rule.
type Rule struct {
	Name      string
	Threshold float64
}

// Triggered reports whether value has reached the rule's threshold.
func (r Rule) Triggered(value float64) bool {
	return r.Threshold > 0 && value >= r.Threshold
}

// DefaultStreakRule fires when this many tasks in a row are dropped.
var DefaultStreakRule = Rule{Name: "consecutive_drops", Threshold: 10}

// Reporter is told about every task outcome and raises alerts for faults.
type Reporter interface {
	ReportFault(ctx context.Context, f Fault)
	ReportSuccess()
	Close() error
}

type noopReporter struct{}

// NewNoop returns a reporter that does nothing.
func NewNoop() Reporter { return noopReporter{} }

func (noopReporter) ReportFault(context.Context, Fault) {}
func (noopReporter) ReportSuccess()                     {}
func (noopReporter) Close() error                       { return nil }

// SentryConfig configures the Sentry reporter.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string
	Streak      Rule
	// FlushTimeout bounds Close. Zero means two seconds.
	FlushTimeout time.Duration

	beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// SentryReporter sends each fault to Sentry as an exception event tagged
// with its kind, and a message event when a run of consecutive drops
// reaches the streak rule.
type SentryReporter struct {
	hub    *sentry.Hub
	rule   Rule
	flush  time.Duration
	mu     sync.Mutex
	streak int
}

// NewSentry creates a reporter with its own client and hub.
func NewSentry(cfg SentryConfig) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		ServerName:  cfg.ServerName,
		BeforeSend:  cfg.beforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 2 * time.Second
	}
	if cfg.Streak == (Rule{}) {
		cfg.Streak = DefaultStreakRule
	}
	return &SentryReporter{
		hub:   sentry.NewHub(client, sentry.NewScope()),
		rule:  cfg.Streak,
		flush: cfg.FlushTimeout,
	}, nil
}

// ReportFault captures f and checks the streak rule.
func (r *SentryReporter) ReportFault(ctx context.Context, f Fault) {
	r.mu.Lock()
	r.streak++
	streak := r.streak
	r.mu.Unlock()

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("fault_kind", f.Kind)
		scope.SetTag("step", f.Step)
		scope.SetTag("worker_id", f.WorkerID)
		if f.ObjectKey != "" {
			scope.SetTag("object_name", f.ObjectKey)
		}
		scope.SetContext("task", sentry.Context{
			"body": string(f.Body),
		})
		r.hub.CaptureException(f.Err)
	})

	if r.rule.Triggered(float64(streak)) && float64(streak) == r.rule.Threshold {
		lg := logger.WithComponent("alerts")
		lg.Warn().
			Str("rule", r.rule.Name).
			Int("streak", streak).
			Msg("alert rule triggered")
		r.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelError)
			scope.SetTag("rule", r.rule.Name)
			r.hub.CaptureMessage(fmt.Sprintf("%d consecutive tasks dropped", streak))
		})
	}
}

// ReportSuccess resets the drop streak.
func (r *SentryReporter) ReportSuccess() {
	r.mu.Lock()
	r.streak = 0
	r.mu.Unlock()
}

// Streak returns the current number of consecutive drops.
func (r *SentryReporter) Streak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streak
}

// Close flushes buffered events.
func (r *SentryReporter) Close() error {
	if !r.hub.Flush(r.flush) {
		return fmt.Errorf("sentry flush timed out after %s", r.flush)
	}
	return nil
}
