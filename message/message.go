package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	// ErrUnknownType indicates a message_type outside the known set.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMissingTaskID indicates a task-scoped message without a task id.
	ErrMissingTaskID = errors.New("missing task id")

	// ErrMissingRequestID indicates a work request without a request id.
	ErrMissingRequestID = errors.New("missing request id")

	// ErrMalformed indicates a body that is not a valid envelope.
	ErrMalformed = errors.New("malformed message body")

	// ErrPayloadMismatch indicates a payload accessor called for the
	// wrong envelope type.
	ErrPayloadMismatch = errors.New("payload does not match message type")
)

// Type identifies the kind of message an envelope carries.
type Type string

const (
	TypeTaskAssignment     Type = "task_assignment"
	TypeTaskCompletion     Type = "task_completion"
	TypeTaskUpdate         Type = "task_update"
	TypeWorkRequest        Type = "work_request"
	TypeStatusUpdate       Type = "status_update"
	TypeResourceAllocation Type = "resource_allocation"
)

// String returns the wire name of the type.
func (t Type) String() string {
	return string(t)
}

// Known returns true if t is one of the defined message types.
func (t Type) Known() bool {
	switch t {
	case TypeTaskAssignment, TypeTaskCompletion, TypeTaskUpdate,
		TypeWorkRequest, TypeStatusUpdate, TypeResourceAllocation:
		return true
	default:
		return false
	}
}

// Role identifies a logical sender or receiver.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleWorker      Role = "worker"
)

// BrokerMetadata is stamped onto an envelope by the publisher at send time.
// MessageID is a fresh UUID per publish attempt: a broker-level redelivery
// reuses the original body, a re-publish gets a new id.
type BrokerMetadata struct {
	// MessageID uniquely identifies this publish attempt.
	MessageID string `json:"message_id"`

	// PublishedAt is when the publisher handed the message to the broker.
	PublishedAt time.Time `json:"published_at"`

	// Queue is the routing key / queue the message was published to.
	Queue string `json:"queue"`
}

// Envelope is the JSON wrapper around every message.
type Envelope struct {
	// Type tags the payload variant.
	Type Type `json:"message_type"`

	// TaskID identifies the task for task-scoped messages.
	// Opaque, caller-assigned.
	TaskID string `json:"task_id,omitempty"`

	// RequestID identifies a work request. Opaque, caller-assigned.
	RequestID string `json:"request_id,omitempty"`

	// From and To are the logical sender and receiver roles.
	From Role `json:"from_role,omitempty"`
	To   Role `json:"to_role,omitempty"`

	// Timestamp is the creation time on the producer's clock.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Payload is the type-specific body, decoded on demand.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Broker carries publish-time metadata. Nil until published.
	Broker *BrokerMetadata `json:"broker_metadata,omitempty"`
}

// Validate checks the envelope invariants for its type.
func (e *Envelope) Validate() error {
	if !e.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	switch e.Type {
	case TypeTaskAssignment, TypeTaskCompletion, TypeTaskUpdate:
		if e.TaskID == "" {
			return ErrMissingTaskID
		}
	case TypeWorkRequest:
		if e.RequestID == "" {
			return ErrMissingRequestID
		}
	}
	return nil
}

// Marshal serializes the envelope to JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates an envelope from a raw message body.
// A body that is not valid JSON, or that fails Validate, is rejected;
// the distinction matters to consumers, which drop malformed bodies
// instead of requeueing them.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// decodePayload unmarshals the payload into v after checking the tag.
func (e *Envelope) decodePayload(want Type, v any) error {
	if e.Type != want {
		return fmt.Errorf("%w: have %q, want %q", ErrPayloadMismatch, e.Type, want)
	}
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// TaskAssignment decodes the payload of a task_assignment envelope.
func (e *Envelope) TaskAssignment() (*TaskAssignment, error) {
	var p TaskAssignment
	if err := e.decodePayload(TypeTaskAssignment, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TaskCompletion decodes the payload of a task_completion envelope.
func (e *Envelope) TaskCompletion() (*TaskCompletion, error) {
	var p TaskCompletion
	if err := e.decodePayload(TypeTaskCompletion, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TaskUpdate decodes the payload of a task_update envelope.
func (e *Envelope) TaskUpdate() (*TaskUpdate, error) {
	var p TaskUpdate
	if err := e.decodePayload(TypeTaskUpdate, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// WorkRequest decodes the payload of a work_request envelope.
func (e *Envelope) WorkRequest() (*WorkRequest, error) {
	var p WorkRequest
	if err := e.decodePayload(TypeWorkRequest, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// StatusUpdate decodes the payload of a status_update envelope.
func (e *Envelope) StatusUpdate() (*StatusUpdate, error) {
	var p StatusUpdate
	if err := e.decodePayload(TypeStatusUpdate, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ResourceAllocation decodes the payload of a resource_allocation envelope.
func (e *Envelope) ResourceAllocation() (*ResourceAllocation, error) {
	var p ResourceAllocation
	if err := e.decodePayload(TypeResourceAllocation, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
