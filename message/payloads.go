package message

import (
	"encoding/json"
	"time"
)

// TaskAssignment is the payload of a task_assignment message.
// The coordinator sends it to hand a task to a worker.
type TaskAssignment struct {
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	Requirements []string          `json:"requirements,omitempty"`
	AssignedTo   string            `json:"assigned_to,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TaskCompletion is the payload of a task_completion message.
// Success false marks the task failed rather than completed.
type TaskCompletion struct {
	Success bool              `json:"success"`
	Summary string            `json:"summary,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// TaskUpdate is the payload of a task_update message, a worker progress
// notification. The first update moves the task to in_progress.
type TaskUpdate struct {
	Note     string `json:"note,omitempty"`
	Progress int    `json:"progress,omitempty"`
}

// WorkRequest is the payload of a work_request message.
type WorkRequest struct {
	RequestType string            `json:"request_type"`
	Details     map[string]string `json:"details,omitempty"`
}

// StatusUpdate is the payload of a status_update message. Log-only.
type StatusUpdate struct {
	Status  string            `json:"status"`
	Details map[string]string `json:"details,omitempty"`
}

// ResourceAllocation is the payload of a resource_allocation message.
// Log-only.
type ResourceAllocation struct {
	Resource string            `json:"resource"`
	Amount   int               `json:"amount,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// newEnvelope builds an envelope with a marshaled payload.
func newEnvelope(t Type, from, to Role, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      t,
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// NewTaskAssignment builds a task_assignment envelope from the coordinator.
func NewTaskAssignment(taskID string, p TaskAssignment) (*Envelope, error) {
	e, err := newEnvelope(TypeTaskAssignment, RoleCoordinator, RoleWorker, p)
	if err != nil {
		return nil, err
	}
	e.TaskID = taskID
	return e, nil
}

// NewTaskCompletion builds a task_completion envelope from the worker.
func NewTaskCompletion(taskID string, p TaskCompletion) (*Envelope, error) {
	e, err := newEnvelope(TypeTaskCompletion, RoleWorker, RoleCoordinator, p)
	if err != nil {
		return nil, err
	}
	e.TaskID = taskID
	return e, nil
}

// NewTaskUpdate builds a task_update envelope from the worker.
func NewTaskUpdate(taskID string, p TaskUpdate) (*Envelope, error) {
	e, err := newEnvelope(TypeTaskUpdate, RoleWorker, RoleCoordinator, p)
	if err != nil {
		return nil, err
	}
	e.TaskID = taskID
	return e, nil
}

// NewWorkRequest builds a work_request envelope.
func NewWorkRequest(requestID string, from, to Role, p WorkRequest) (*Envelope, error) {
	e, err := newEnvelope(TypeWorkRequest, from, to, p)
	if err != nil {
		return nil, err
	}
	e.RequestID = requestID
	return e, nil
}

// NewStatusUpdate builds a status_update envelope.
func NewStatusUpdate(from, to Role, p StatusUpdate) (*Envelope, error) {
	return newEnvelope(TypeStatusUpdate, from, to, p)
}

// NewResourceAllocation builds a resource_allocation envelope.
func NewResourceAllocation(from, to Role, p ResourceAllocation) (*Envelope, error) {
	return newEnvelope(TypeResourceAllocation, from, to, p)
}
