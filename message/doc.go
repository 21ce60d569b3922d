// Package message defines the wire format exchanged between the coordinator
// and worker roles.
//
// Every message is a JSON Envelope tagged by Type. The payload is decoded
// into a per-type struct after the envelope itself has been validated, so
// consumers never dispatch on stringly-typed maps. Broker-assigned metadata
// (message id, publish time, target queue) travels in a separate
// BrokerMetadata block and is stamped by the publisher, never by callers.
package message
