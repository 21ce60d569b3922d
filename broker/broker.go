package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Common errors.
var (
	// ErrClosed indicates the broker has been closed.
	ErrClosed = errors.New("broker closed")

	// ErrUnknownQueue indicates a queue outside the declared topology.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrInvalidConfig indicates invalid connection configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Topology names. One direct exchange; every queue is bound to it with its
// own name as the routing key. Stable: peripheral tooling depends on them.
const (
	// Exchange is the single direct exchange.
	Exchange = "relay-exchange"

	// QueueCoordinator receives task_completion and task_update messages.
	QueueCoordinator = "coordinator-inbox"

	// QueueWorker receives task_assignment messages.
	QueueWorker = "worker-inbox"

	// QueueRequirements receives status_update and resource_allocation
	// messages for the coordinator's requirements handling.
	QueueRequirements = "requirements-inbox"

	// QueueWorkRequest receives work_request messages.
	QueueWorkRequest = "work-request-inbox"
)

// Queues returns the fixed queue set in declaration order.
func Queues() []string {
	return []string{QueueCoordinator, QueueWorker, QueueRequirements, QueueWorkRequest}
}

// KnownQueue reports whether name is part of the declared topology.
func KnownQueue(name string) bool {
	for _, q := range Queues() {
		if q == name {
			return true
		}
	}
	return false
}

// Outcome is the consumer's verdict on a delivery.
type Outcome int

const (
	// Ack marks the delivery successfully processed.
	Ack Outcome = iota

	// Requeue returns the delivery to the queue for redelivery.
	Requeue

	// Drop discards the delivery without requeue.
	Drop
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Delivery is a single message handed to a Handler.
type Delivery struct {
	// Queue the message was consumed from.
	Queue string

	// Body is the raw message body.
	Body []byte

	// Redelivered is true if the broker delivered this body before.
	Redelivered bool
}

// Handler processes one delivery and decides its outcome. With prefetch=1
// the broker never invokes two handlers for the same queue concurrently.
type Handler func(ctx context.Context, d Delivery) Outcome

// Subscription is one running consumer loop.
type Subscription interface {
	// Queue returns the subscribed queue name.
	Queue() string

	// Done is closed when the loop has fully stopped.
	Done() <-chan struct{}

	// Close stops the loop. A message in flight at close time is left
	// unacknowledged and returns to the queue.
	Close() error
}

// QueueInfo describes a queue's current depth and consumer count.
type QueueInfo struct {
	Queue     string
	Messages  int
	Consumers int
}

// Broker is the delivery contract consumed by the publisher and the
// dispatcher.
type Broker interface {
	// Publish sends body to queue and waits for broker confirmation.
	// An unconfirmed or unroutable publish is an error; the caller must
	// not assume delivery.
	Publish(ctx context.Context, queue string, body []byte) error

	// Subscribe starts a consumer loop on queue with prefetch=1.
	Subscribe(queue string, h Handler) (Subscription, error)

	// QueueInfo inspects a queue.
	QueueInfo(queue string) (*QueueInfo, error)

	// Purge drops all messages currently in the queue.
	Purge(queue string) error

	// Close shuts down the broker and all its subscriptions.
	Close() error
}

// Config holds broker connection configuration. All fields are explicit;
// DefaultConfig documents the defaults.
type Config struct {
	// Host and Port of the broker.
	Host string
	Port int

	// Username and Password for plain authentication.
	Username string
	Password string

	// VirtualHost to connect to.
	VirtualHost string

	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration

	// Heartbeat is the AMQP connection heartbeat interval.
	Heartbeat time.Duration

	// RetryDelay is the pause between dial attempts.
	RetryDelay time.Duration

	// MaxRetries bounds dial attempts before ConnectionFailed is
	// surfaced to the caller.
	MaxRetries int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5672,
		Username:       "guest",
		Password:       "guest",
		VirtualHost:    "/",
		ConnectTimeout: 30 * time.Second,
		Heartbeat:      600 * time.Second,
		RetryDelay:     5 * time.Second,
		MaxRetries:     3,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.RetryDelay < 0 || c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: non-positive timeout", ErrInvalidConfig)
	}
	return nil
}

// URL builds the AMQP connection URL, vhost included. The dial sites also
// pass VirtualHost through the connection config, which takes precedence
// over the URI; both carry the same value.
func (c *Config) URL() string {
	vhost := c.VirtualHost
	if vhost == "" || vhost == "/" {
		return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.Username, c.Password, c.Host, c.Port)
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.Username, c.Password, c.Host, c.Port, url.PathEscape(vhost))
}
