package dispatch

import (
	"context"
	"fmt"

	"github.com/relaykit/relaykit/broker"
	relayerrors "github.com/relaykit/relaykit/errors"
	"github.com/relaykit/relaykit/logging"
	"github.com/relaykit/relaykit/message"
	"github.com/relaykit/relaykit/txn"
)

// Dispatcher turns deliveries into transactional store updates for one
// process identity.
type Dispatcher struct {
	agentID string
	updater *txn.Updater
	log     *logging.Logger
}

// NewDispatcher creates a dispatcher. agentID is the identity activity
// entries and agent-state updates are recorded under.
func NewDispatcher(agentID string, updater *txn.Updater, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.New()
	}
	return &Dispatcher{
		agentID: agentID,
		updater: updater,
		log:     log.WithComponent("dispatch"),
	}
}

// Handler returns the consumer handler for a queue.
func (d *Dispatcher) Handler(queue string) broker.Handler {
	return func(_ context.Context, delivery broker.Delivery) broker.Outcome {
		env, err := message.Decode(delivery.Body)
		if err != nil {
			d.log.Dropped(queue, relayerrors.Malformed(queue, err))
			return broker.Drop
		}
		d.log.Received(queue, env.Type.String(), delivery.Redelivered)

		writes, err := d.apply(env, delivery.Body)
		if err != nil {
			if relayerrors.Is(err, relayerrors.ErrCodeRollbackFailed) || !relayerrors.IsPermanent(err) {
				d.log.RolledBack(queue, writes, err)
				return broker.Requeue
			}
			d.log.Dropped(queue, err)
			return broker.Drop
		}
		d.log.Committed(queue, env.Type.String(), writes)
		return broker.Ack
	}
}

// Attach subscribes the dispatcher's handlers to the given queues.
// On any failure the subscriptions made so far are closed.
func (d *Dispatcher) Attach(b broker.Broker, queues ...string) ([]broker.Subscription, error) {
	subs := make([]broker.Subscription, 0, len(queues))
	for _, q := range queues {
		sub, err := b.Subscribe(q, d.Handler(q))
		if err != nil {
			for _, s := range subs {
				s.Close()
			}
			return nil, fmt.Errorf("subscribe %s: %w", q, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// apply runs the envelope's effects in one transaction and returns the
// write count for logging.
func (d *Dispatcher) apply(env *message.Envelope, raw []byte) (int, error) {
	effect, err := d.effect(env, raw)
	if err != nil {
		return 0, err
	}
	return d.updater.Apply(effect)
}
