package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"imageq/internal/logger"
)

// Prefetch is the number of unacknowledged deliveries a consumer may hold.
// Workers handle one task at a time, so this is fixed at one.
const Prefetch = 1

// Handler consumes deliveries until the channel closes or ctx ends.
type Handler func(ctx context.Context, deliveries <-chan amqp.Delivery) error

// Consumer keeps a handler fed with deliveries from one durable queue,
// reconnecting through the supervisor whenever the connection drops.
type Consumer struct {
	sup   *Supervisor
	queue string
	tag   string
}

// NewConsumer creates a consumer for queue. tag identifies it on the broker.
func NewConsumer(sup *Supervisor, queue, tag string) *Consumer {
	return &Consumer{sup: sup, queue: queue, tag: tag}
}

// Run performs the bounded initial connect and then consumes until ctx is
// done. The error from a failed initial connect wraps ErrRetriesExhausted
// and is meant to be fatal. Later drops are repaired with Reconnect. Run
// returns nil once ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	log := logger.WithComponent("broker_consumer").With().
		Str("queue", c.queue).
		Str("consumer_tag", c.tag).
		Logger()

	conn, err := c.sup.Connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		err := c.consume(ctx, conn, handle)
		_ = conn.Close()

		if ctx.Err() != nil {
			log.Info().Msg("consumer stopped")
			return nil
		}

		log.Warn().Err(err).Dur("retry_in", c.sup.cfg.Delay).Msg("consumption interrupted, reconnecting")
		c.sup.MarkDown()

		// A channel that fails right after connecting must not spin.
		if err := c.sup.sleep(ctx, c.sup.cfg.Delay); err != nil {
			log.Info().Msg("consumer stopped while reconnecting")
			return nil
		}

		conn, err = c.sup.Reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("consumer stopped while reconnecting")
				return nil
			}
			return err
		}
	}
}

// consume opens a channel on conn, declares the queue, limits prefetch and
// hands the delivery stream to handle.
func (c *Consumer) consume(ctx context.Context, conn Conn, handle Handler) error {
	log := logger.WithComponent("broker_consumer")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, c.queue); err != nil {
		return err
	}
	if err := ch.Qos(Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", c.queue, err)
	}

	log.Info().
		Str("queue", c.queue).
		Int("prefetch", Prefetch).
		Msg("waiting for tasks")

	err = handle(ctx, deliveries)

	select {
	case reason, ok := <-closed:
		if ok && reason != nil {
			log.Warn().
				Int("code", reason.Code).
				Str("reason", reason.Reason).
				Bool("server", reason.Server).
				Msg("broker connection closed")
			if err == nil {
				err = reason
			}
		}
	default:
	}
	return err
}
