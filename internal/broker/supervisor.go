package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"imageq/internal/logger"
	"imageq/internal/metrics"
)

// SupervisorConfig holds the connection and retry policy.
type SupervisorConfig struct {
	// URL is the amqp:// URI of the broker
	URL string
	// Attempts bounds the initial connect (N)
	Attempts int
	// Delay is the fixed pause between attempts (D)
	Delay time.Duration
	// Dial opens connections. Nil means AMQPDialer(60s, "").
	Dial DialFunc
}

// Supervisor obtains broker connections. Connect is the bounded startup
// path; Reconnect is used once the process is running and never gives up
// until its context ends. Healthy reports whether a connection is believed
// to be up.
type Supervisor struct {
	cfg     SupervisorConfig
	dial    DialFunc
	sleep   func(ctx context.Context, d time.Duration) error
	healthy atomic.Bool

	attempts atomic.Uint64
}

// NewSupervisor creates a supervisor. Attempts below 1 are raised to 1.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	dial := cfg.Dial
	if dial == nil {
		dial = AMQPDialer(60*time.Second, "")
	}
	return &Supervisor{
		cfg:   cfg,
		dial:  dial,
		sleep: sleepContext,
	}
}

// Connect dials up to cfg.Attempts times, waiting cfg.Delay between failed
// attempts. After the last failure it returns an error wrapping
// ErrRetriesExhausted and the last dial error.
func (s *Supervisor) Connect(ctx context.Context) (Conn, error) {
	log := logger.WithComponent("broker_supervisor")
	var lastErr error

	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		log.Info().
			Int("attempt", attempt).
			Int("max_attempts", s.cfg.Attempts).
			Str("url", redact(s.cfg.URL)).
			Msg("connecting to broker")

		conn, err := s.dialOnce()
		if err == nil {
			log.Info().Int("attempt", attempt).Msg("broker connection established")
			return conn, nil
		}
		lastErr = err

		log.Error().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", s.cfg.Attempts).
			Msg("broker connection failed")

		if attempt == s.cfg.Attempts {
			break
		}
		if err := s.sleep(ctx, s.cfg.Delay); err != nil {
			return nil, err
		}
	}

	log.Error().
		Int("max_attempts", s.cfg.Attempts).
		Msg("giving up on broker connection")
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.cfg.Attempts, lastErr)
}

// Reconnect dials until it succeeds or ctx is done, waiting cfg.Delay
// between attempts.
func (s *Supervisor) Reconnect(ctx context.Context) (Conn, error) {
	log := logger.WithComponent("broker_supervisor")
	s.MarkDown()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := s.dialOnce()
		if err == nil {
			metrics.BrokerReconnects.Inc()
			log.Info().Int("attempt", attempt).Msg("broker connection re-established")
			return conn, nil
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", s.cfg.Delay).
			Msg("broker reconnect failed")

		if err := s.sleep(ctx, s.cfg.Delay); err != nil {
			return nil, err
		}
	}
}

// Healthy reports whether the last dial succeeded and no drop has been
// reported since.
func (s *Supervisor) Healthy() bool {
	return s.healthy.Load()
}

// MarkDown records that the current connection is gone.
func (s *Supervisor) MarkDown() {
	s.healthy.Store(false)
	metrics.BrokerConnected.Set(0)
}

// Attempts returns the number of dials made so far.
func (s *Supervisor) Attempts() uint64 {
	return s.attempts.Load()
}

func (s *Supervisor) dialOnce() (Conn, error) {
	s.attempts.Add(1)
	conn, err := s.dial(s.cfg.URL)
	if err != nil {
		metrics.BrokerConnectAttempts.WithLabelValues("failed").Inc()
		return nil, err
	}
	if conn == nil {
		metrics.BrokerConnectAttempts.WithLabelValues("failed").Inc()
		return nil, errors.New("dial returned no connection")
	}
	metrics.BrokerConnectAttempts.WithLabelValues("success").Inc()
	s.healthy.Store(true)
	metrics.BrokerConnected.Set(1)
	return conn, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
