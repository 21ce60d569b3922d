package broker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relaykit/logging"
	"github.com/relaykit/relaykit/message"
)

// Publisher sends message envelopes to queues. It stamps broker metadata
// onto each envelope before marshaling, so consumers can trace a delivery
// back to its publish.
type Publisher struct {
	broker Broker
	log    *logging.Logger
}

// NewPublisher creates a publisher on top of a broker.
func NewPublisher(b Broker, log *logging.Logger) *Publisher {
	if log == nil {
		log = logging.New()
	}
	return &Publisher{
		broker: b,
		log:    log.WithComponent("publisher"),
	}
}

// Publish stamps the envelope with a fresh message id and sends it to the
// queue. Each call gets its own id, even when the caller retries the same
// envelope, so redeliveries and republishes are distinguishable downstream.
func (p *Publisher) Publish(ctx context.Context, queue string, env *message.Envelope) error {
	if env == nil {
		return message.ErrMalformed
	}
	if err := env.Validate(); err != nil {
		return err
	}

	env.Broker = &message.BrokerMetadata{
		MessageID:   uuid.NewString(),
		PublishedAt: time.Now().UTC(),
		Queue:       queue,
	}

	body, err := env.Marshal()
	if err != nil {
		return err
	}

	if err := p.broker.Publish(ctx, queue, body); err != nil {
		p.log.PublishFailed(queue, err)
		return err
	}
	p.log.Published(queue, env.Type.String(), env.Broker.MessageID)
	return nil
}
