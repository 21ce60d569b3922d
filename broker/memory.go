package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	relayerrors "github.com/relaykit/relaykit/errors"
)

// MemoryBroker is an in-process Broker with the same delivery contract as
// the AMQP implementation: one delivery in flight per subscription, requeue
// puts the message back at the head with the redelivered flag set, and drop
// discards it. Intended for tests and single-process setups.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	subs   []*memorySubscription
	closed atomic.Bool
}

type memoryQueue struct {
	items     []memoryDelivery
	consumers int
	wake      chan struct{} // closed and replaced on every enqueue
}

type memoryDelivery struct {
	body        []byte
	redelivered bool
}

// NewMemoryBroker creates a memory broker with all known queues declared.
func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{queues: make(map[string]*memoryQueue)}
	for _, q := range Queues() {
		b.queues[q] = &memoryQueue{wake: make(chan struct{})}
	}
	return b
}

// Publish appends the body to the queue. Publishing to a queue that was
// never declared reports an unconfirmed delivery, matching what a mandatory
// publish against a missing binding does.
func (b *MemoryBroker) Publish(_ context.Context, queue string, body []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return relayerrors.Unconfirmed(queue,
			relayerrors.WithCause(fmt.Errorf("%w: %s", ErrUnknownQueue, queue)))
	}

	buf := make([]byte, len(body))
	copy(buf, body)
	q.items = append(q.items, memoryDelivery{body: buf})
	q.signal()
	return nil
}

// Subscribe starts a goroutine that pops one message at a time, runs the
// handler, and applies the outcome before popping the next.
func (b *MemoryBroker) Subscribe(queue string, h Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if h == nil {
		return nil, fmt.Errorf("%w: nil handler", ErrInvalidConfig)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	q.consumers++

	ctx, cancel := context.WithCancel(context.Background())
	s := &memorySubscription{
		broker:  b,
		queue:   queue,
		handler: h,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	b.subs = append(b.subs, s)

	go s.run()
	return s, nil
}

// QueueInfo reports the current depth and consumer count of a queue.
func (b *MemoryBroker) QueueInfo(queue string) (*QueueInfo, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	return &QueueInfo{Queue: queue, Messages: len(q.items), Consumers: q.consumers}, nil
}

// Purge discards all messages currently in the queue.
func (b *MemoryBroker) Purge(queue string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	q.items = nil
	return nil
}

// Close stops all subscriptions and rejects further operations.
func (b *MemoryBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	for _, q := range b.queues {
		q.signal() // unblock waiting consumers
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	for _, s := range subs {
		<-s.Done()
	}
	return nil
}

// signal wakes everyone waiting on the queue. Caller holds b.mu.
func (q *memoryQueue) signal() {
	close(q.wake)
	q.wake = make(chan struct{})
}

type memorySubscription struct {
	broker  *MemoryBroker
	queue   string
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscription) Queue() string {
	return s.queue
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}

func (s *memorySubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func (s *memorySubscription) run() {
	defer close(s.done)
	defer s.detach()

	for {
		d, wake, ok := s.pop()
		if !ok {
			// Queue empty: wait for a publish, a requeue, or shutdown.
			select {
			case <-wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		outcome := s.handler(s.ctx, Delivery{
			Queue:       s.queue,
			Body:        d.body,
			Redelivered: d.redelivered,
		})
		if outcome == Requeue {
			s.requeue(d)
		}

		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

// pop takes the head of the queue, or returns the wake channel to wait on.
func (s *memorySubscription) pop() (memoryDelivery, <-chan struct{}, bool) {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	q := s.broker.queues[s.queue]
	if len(q.items) == 0 || s.broker.closed.Load() {
		return memoryDelivery{}, q.wake, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, nil, true
}

// requeue puts the delivery back at the head of the queue, marked redelivered.
func (s *memorySubscription) requeue(d memoryDelivery) {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	d.redelivered = true
	q := s.broker.queues[s.queue]
	q.items = append([]memoryDelivery{d}, q.items...)
	q.signal()
}

func (s *memorySubscription) detach() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if q, ok := s.broker.queues[s.queue]; ok {
		q.consumers--
	}
}

var _ Broker = (*MemoryBroker)(nil)
