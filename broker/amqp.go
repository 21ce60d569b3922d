package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	relayerrors "github.com/relaykit/relaykit/errors"
	"github.com/relaykit/relaykit/logging"
)

// AMQPBroker implements Broker over RabbitMQ.
//
// The broker holds one connection for the publish path. Every Subscribe
// call dials its own connection, so a blocked consumer can never stall a
// publisher and vice versa.
type AMQPBroker struct {
	cfg Config
	log *logging.Logger

	mu      sync.Mutex // serializes the publish channel and its confirms
	conn    *amqp.Connection
	ch      *amqp.Channel
	returns chan amqp.Return

	subMu  sync.Mutex
	subs   []*amqpSubscription
	closed atomic.Bool
}

// Dial connects to the broker, declares the topology, and puts the publish
// channel into confirm mode. Dialing is retried up to cfg.MaxRetries with
// cfg.RetryDelay between attempts; exhaustion returns a ConnectionFailed
// error and the caller decides whether to abort or degrade.
func Dial(cfg Config, log *logging.Logger) (*AMQPBroker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.New()
	}
	log = log.WithComponent("broker")

	conn, err := dialWithRetry(cfg, log)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	b := &AMQPBroker{
		cfg:     cfg,
		log:     log,
		conn:    conn,
		ch:      ch,
		returns: ch.NotifyReturn(make(chan amqp.Return, 16)),
	}
	log.Info("connected", map[string]any{"host": cfg.Host, "port": cfg.Port})
	return b, nil
}

// dialWithRetry performs bounded dial attempts.
func dialWithRetry(cfg Config, log *logging.Logger) (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
			Vhost:     cfg.VirtualHost,
			Heartbeat: cfg.Heartbeat,
			Dial:      amqp.DefaultDial(cfg.ConnectTimeout),
		})
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn("dial_failed", map[string]any{"attempt": attempt, "error": err.Error()})
		if attempt < cfg.MaxRetries {
			time.Sleep(cfg.RetryDelay)
		}
	}
	log.ConnectionExhausted(cfg.MaxRetries, lastErr)
	return nil, relayerrors.ConnectionFailed(cfg.MaxRetries, lastErr)
}

// declareTopology declares the exchange, queues, and bindings. Declarations
// use declare-if-absent semantics, so repeated calls against matching
// topology never error.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", false, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange %s: %w", Exchange, err)
	}
	for _, queue := range Queues() {
		if _, err := ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
			return fmt.Errorf("queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, queue, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", queue, err)
		}
	}
	return nil
}

// Publish sends body to queue and waits for the broker's confirmation.
// The message is published mandatory, so an unroutable routing key comes
// back as a return and is reported as unconfirmed.
func (b *AMQPBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !KnownQueue(queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dc, err := b.ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, queue, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return relayerrors.WrapWithCode(err, relayerrors.ErrCodeUnconfirmed,
			fmt.Sprintf("publish to %s", queue), relayerrors.WithQueue(queue))
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return relayerrors.Wrap(err, fmt.Sprintf("await confirm for %s", queue),
			relayerrors.WithQueue(queue))
	}
	if !acked {
		return relayerrors.Unconfirmed(queue)
	}

	// A basic.return for a mandatory publish arrives before its confirm,
	// so with the channel serialized under b.mu a buffered return here
	// belongs to this publish.
	select {
	case ret := <-b.returns:
		return relayerrors.Unconfirmed(queue,
			relayerrors.WithCause(fmt.Errorf("unroutable: %s (%d)", ret.ReplyText, ret.ReplyCode)))
	default:
	}
	return nil
}

// Subscribe starts a consumer loop on its own connection with prefetch=1.
// The loop survives handler failures; a channel or connection fault makes
// it reconnect and resubscribe with the configured retry bounds.
func (b *AMQPBroker) Subscribe(queue string, h Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if !KnownQueue(queue) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: nil handler", ErrInvalidConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &amqpSubscription{
		queue:   queue,
		handler: h,
		cfg:     b.cfg,
		log:     b.log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	b.subMu.Lock()
	b.subs = append(b.subs, s)
	b.subMu.Unlock()

	go s.run()
	return s, nil
}

// QueueInfo inspects a queue with a passive declare.
func (b *AMQPBroker) QueueInfo(queue string) (*QueueInfo, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.ch.QueueDeclarePassive(queue, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", queue, err)
	}
	return &QueueInfo{Queue: queue, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// Purge drops all messages currently in the queue.
func (b *AMQPBroker) Purge(queue string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.ch.QueuePurge(queue, false); err != nil {
		return fmt.Errorf("purge %s: %w", queue, err)
	}
	return nil
}

// Close stops all subscriptions and closes the publish connection.
// Messages unacknowledged at close time return to their queues.
func (b *AMQPBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.subMu.Lock()
	subs := b.subs
	b.subs = nil
	b.subMu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	for _, s := range subs {
		<-s.Done()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Close()
}

// amqpSubscription is one consumer loop on its own connection.
type amqpSubscription struct {
	queue   string
	handler Handler
	cfg     Config
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *amqpSubscription) Queue() string {
	return s.queue
}

func (s *amqpSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *amqpSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// run owns the reconnect-and-resubscribe loop. Consecutive failures are
// bounded by MaxRetries; a session that processed deliveries resets the
// count.
func (s *amqpSubscription) run() {
	defer close(s.done)

	failures := 0
	for {
		if s.ctx.Err() != nil {
			return
		}

		delivered, err := s.consumeSession()
		if err == nil {
			// Clean shutdown.
			return
		}
		if delivered {
			failures = 0
		}
		failures++
		if failures >= s.cfg.MaxRetries {
			s.log.ConnectionExhausted(failures, err)
			return
		}
		s.log.ConsumerRestart(s.queue, failures, err)

		select {
		case <-time.After(s.cfg.RetryDelay):
		case <-s.ctx.Done():
			return
		}
	}
}

// consumeSession dials, subscribes, and processes deliveries until the
// channel faults or the subscription is closed. It reports whether any
// delivery was processed during the session.
func (s *amqpSubscription) consumeSession() (delivered bool, err error) {
	conn, err := amqp.DialConfig(s.cfg.URL(), amqp.Config{
		Vhost:     s.cfg.VirtualHost,
		Heartbeat: s.cfg.Heartbeat,
		Dial:      amqp.DefaultDial(s.cfg.ConnectTimeout),
	})
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		return false, err
	}

	// prefetch=1: at most one unacknowledged delivery at a time, which
	// serializes processing on this queue.
	if err := ch.Qos(1, 0, false); err != nil {
		return false, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", s.queue, err)
	}

	for {
		select {
		case <-s.ctx.Done():
			return true, nil
		case d, ok := <-deliveries:
			if !ok {
				return delivered, relayerrors.FromCode(relayerrors.ErrCodeChannelFault,
					relayerrors.WithQueue(s.queue))
			}
			delivered = true
			s.dispatch(d)
		}
	}
}

// dispatch runs the handler for one delivery and applies its outcome.
func (s *amqpSubscription) dispatch(d amqp.Delivery) {
	outcome := s.handler(s.ctx, Delivery{
		Queue:       s.queue,
		Body:        d.Body,
		Redelivered: d.Redelivered,
	})

	var err error
	switch outcome {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	case Drop:
		err = d.Nack(false, false)
	}
	if err != nil {
		s.log.Warn("acknowledge_failed", map[string]any{
			"queue":   s.queue,
			"outcome": outcome.String(),
			"error":   err.Error(),
		})
	}
}

var _ Broker = (*AMQPBroker)(nil)
