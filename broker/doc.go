// Package broker provides reliable message delivery between the coordinator
// and worker roles.
//
// The Broker interface covers publish-with-confirmation and
// manual-acknowledgment consumption over a fixed topology: one direct
// exchange with a small set of named queues, each bound with its own name
// as the routing key. Two implementations are provided: AMQPBroker over
// RabbitMQ, and MemoryBroker, which reproduces the delivery semantics that
// matter (prefetch=1, ack, nack with and without requeue) in-process for
// tests.
//
// Each consumer loop runs on its own connection with prefetch=1, so at most
// one message per queue is being processed at any time; different queues
// proceed independently. Publishing and consuming never share a connection.
package broker
