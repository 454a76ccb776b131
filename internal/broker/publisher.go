package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"imageq/internal/logger"
	"imageq/internal/metrics"
	"imageq/internal/models"
)

// Publisher sends envelopes to the durable queue as persistent messages and
// waits for the broker's confirm. Publishes never dial with retries: once
// Start has run, a background loop owns the connection and rebuilds it after
// a drop, and Publish fails with ErrPublisherNotReady while it is down.
type Publisher struct {
	sup   *Supervisor
	queue string

	mu     sync.Mutex // guards conn, ch and cancel
	conn   Conn
	ch     Channel
	cancel context.CancelFunc

	watching atomic.Bool
	opening  atomic.Bool
	closed   atomic.Bool
	down     chan struct{}

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher creates a publisher for queue. No connection is made until
// Start or the first Publish.
func NewPublisher(sup *Supervisor, queue string) *Publisher {
	return &Publisher{
		sup:   sup,
		queue: queue,
		down:  make(chan struct{}, 1),
	}
}

// Start connects using the supervisor's bounded retry policy, then keeps
// the connection up in the background until ctx ends or Close is called.
// The background loop runs even when the initial connect fails.
func (p *Publisher) Start(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if p.watching.Swap(true) {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	err := p.open(ctx, p.sup.Connect)
	go p.watch(ctx)
	return err
}

// Publish sends env and blocks until the broker confirms it or ctx ends.
func (p *Publisher) Publish(ctx context.Context, env models.Envelope) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	body, err := env.Marshal()
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("encode envelope: %w", err)
	}

	start := time.Now()
	err = p.publish(ctx, body)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.failed.Add(1)
		metrics.PublishTotal.WithLabelValues("failed").Inc()
		return err
	}
	p.published.Add(1)
	metrics.PublishTotal.WithLabelValues("success").Inc()
	return nil
}

func (p *Publisher) publish(ctx context.Context, body []byte) error {
	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.drop(ch)
		return fmt.Errorf("publish to %q: %w", p.queue, err)
	}

	// A nil confirmation means the channel is not in confirm mode.
	if dc == nil {
		return nil
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.drop(ch)
		}
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !ok {
		return ErrPublishNacked
	}
	return nil
}

// channel returns the open channel. Without a background loop it makes a
// single dial; with one it reports ErrPublisherNotReady until the loop has
// reconnected.
func (p *Publisher) channel(ctx context.Context) (Channel, error) {
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch != nil {
		return ch, nil
	}

	if p.watching.Load() {
		return nil, ErrPublisherNotReady
	}
	if err := p.open(ctx, p.dialOnce); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil, ErrPublisherNotReady
	}
	return p.ch, nil
}

func (p *Publisher) dialOnce(context.Context) (Conn, error) {
	return p.sup.dialOnce()
}

// open dials with dial and installs a confirming channel. Only one open runs
// at a time; concurrent callers get ErrPublisherNotReady instead of waiting.
func (p *Publisher) open(ctx context.Context, dial func(context.Context) (Conn, error)) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if !p.opening.CompareAndSwap(false, true) {
		return ErrPublisherNotReady
	}
	defer p.opening.Store(false)

	conn, err := dial(ctx)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		p.sup.MarkDown()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareQueue(ch, p.queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		p.sup.MarkDown()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		p.sup.MarkDown()
		return fmt.Errorf("enable confirms: %w", err)
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return ErrPublisherClosed
	}
	p.conn = conn
	p.ch = ch
	p.mu.Unlock()

	lg := logger.WithComponent("broker_publisher")
	lg.Info().
		Str("queue", p.queue).
		Msg("publisher ready")
	return nil
}

// watch reconnects whenever the connection closes or a publish fails on it.
func (p *Publisher) watch(ctx context.Context) {
	log := logger.WithComponent("broker_publisher")

	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()

		if conn == nil {
			if err := p.open(ctx, p.sup.Reconnect); err != nil {
				if ctx.Err() != nil || p.closed.Load() {
					return
				}
				log.Warn().Err(err).Dur("retry_in", p.sup.cfg.Delay).Msg("publisher reconnect failed")
				if err := p.sup.sleep(ctx, p.sup.cfg.Delay); err != nil {
					return
				}
			}
			continue
		}

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			return
		case <-p.down:
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				log.Warn().Str("reason", amqpErr.Reason).Int("code", amqpErr.Code).Msg("broker connection closed")
			}
			p.dropConn(conn)
		}
	}
}

// drop discards ch and its connection if they are still current and wakes
// the background loop.
func (p *Publisher) drop(ch Channel) {
	p.mu.Lock()
	if p.ch != ch {
		p.mu.Unlock()
		return
	}
	p.reset()
	p.mu.Unlock()

	select {
	case p.down <- struct{}{}:
	default:
	}
}

func (p *Publisher) dropConn(conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == conn {
		p.reset()
	}
}

// reset drops the current channel and connection. Must be called with p.mu held.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch = nil
	p.conn = nil
	p.sup.MarkDown()
}

// Close stops the background loop and releases the connection. Further
// publishes fail with ErrPublisherClosed.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.reset()
	return nil
}

// Ready reports whether the publisher holds an open channel.
func (p *Publisher) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch != nil
}

// Stats returns publisher counters
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}

// PublisherStats holds publisher counters
type PublisherStats struct {
	Published uint64
	Failed    uint64
}
