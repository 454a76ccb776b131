// Package broker talks to RabbitMQ. It owns connection supervision, the
// consuming side used by workers and the confirming publisher used by the API.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker errors
var (
	ErrRetriesExhausted  = errors.New("broker connection retries exhausted")
	ErrPublishNacked     = errors.New("broker refused the message")
	ErrPublisherClosed   = errors.New("publisher is closed")
	ErrPublisherNotReady = errors.New("publisher has no broker channel")
)

// Conn is the part of *amqp.Connection the package uses.
type Conn interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Channel is the part of *amqp.Channel the package uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// DialFunc opens a connection to the broker.
type DialFunc func(uri string) (Conn, error)

// amqpConn adapts *amqp.Connection to Conn.
type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// AMQPDialer returns a DialFunc using the real client with the given
// heartbeat and connection name.
func AMQPDialer(heartbeat time.Duration, connectionName string) DialFunc {
	return func(uri string) (Conn, error) {
		props := amqp.NewConnectionProperties()
		if connectionName != "" {
			props.SetClientConnectionName(connectionName)
		}
		conn, err := amqp.DialConfig(uri, amqp.Config{
			Heartbeat:  heartbeat,
			Locale:     "en_US",
			Properties: props,
		})
		if err != nil {
			return nil, err
		}
		return amqpConn{conn}, nil
	}
}

// URL builds an amqp:// URI for the default virtual host.
func URL(host string, port int, user, password string) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/",
	}
	return u.String()
}

// redact hides the password of an amqp URI for logging.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}

// DeclareQueue declares name as a durable, shared queue. Declaring an
// existing queue with the same arguments is a no-op on the broker.
func DeclareQueue(ch Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", name, err)
	}
	return nil
}
