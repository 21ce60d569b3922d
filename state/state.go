package state

import (
	"errors"
	"time"
)

// Common errors.
var (
	// ErrNotFound indicates the entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")

	// ErrInvalidEntity indicates an entity missing its key.
	ErrInvalidEntity = errors.New("invalid entity")
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// StatusPending indicates the task is created but not yet delivered.
	StatusPending TaskStatus = "pending"

	// StatusAssigned indicates a task_assignment has been delivered.
	StatusAssigned TaskStatus = "assigned"

	// StatusInProgress indicates the worker has reported progress.
	StatusInProgress TaskStatus = "in_progress"

	// StatusCompleted indicates the task finished successfully. Terminal.
	StatusCompleted TaskStatus = "completed"

	// StatusFailed indicates the task finished unsuccessfully. Terminal.
	StatusFailed TaskStatus = "failed"
)

// statusRank orders statuses along the forward-only lifecycle.
var statusRank = map[TaskStatus]int{
	StatusPending:    0,
	StatusAssigned:   1,
	StatusInProgress: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// String returns the string representation of the status.
func (s TaskStatus) String() string {
	return string(s)
}

// Known returns true for a defined status.
func (s TaskStatus) Known() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether a transition from s to next moves the task
// forward. Repeated or backward transitions return false; callers treat
// those as no-op successes, never as errors, so redelivered messages
// cannot regress a task.
func (s TaskStatus) CanAdvanceTo(next TaskStatus) bool {
	if !s.Known() || !next.Known() {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// AgentStatus represents the run state of an agent.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentWorking   AgentStatus = "working"
	AgentListening AgentStatus = "listening"
	AgentError     AgentStatus = "error"
	AgentStopped   AgentStatus = "stopped"
)

// Task is the canonical task record. The store owns the canonical copy;
// the messaging layer only ever holds snapshots.
type Task struct {
	ID           string            `json:"task_id" db:"task_id"`
	Status       TaskStatus        `json:"status" db:"status"`
	AssignedTo   string            `json:"assigned_to,omitempty" db:"assigned_to"`
	Priority     string            `json:"priority,omitempty" db:"priority"`
	Requirements []string          `json:"requirements,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Requirements != nil {
		c.Requirements = append([]string(nil), t.Requirements...)
	}
	c.Metadata = cloneMap(t.Metadata)
	return &c
}

// AgentState is the liveness and occupancy record for one agent.
// Mutated only by that agent's own consumer loop or its heartbeat writer.
type AgentState struct {
	AgentID       string            `json:"agent_id" db:"agent_id"`
	Status        AgentStatus       `json:"status" db:"status"`
	CurrentTaskID string            `json:"current_task_id,omitempty" db:"current_task_id"`
	LastHeartbeat time.Time         `json:"last_heartbeat" db:"last_heartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the agent state.
func (a *AgentState) Clone() *AgentState {
	if a == nil {
		return nil
	}
	c := *a
	c.Metadata = cloneMap(a.Metadata)
	return &c
}

// ActivityEntry is an append-only audit record, written once per
// successfully committed message.
type ActivityEntry struct {
	ID           string            `json:"log_id" db:"log_id"`
	AgentID      string            `json:"agent_id" db:"agent_id"`
	ActivityType string            `json:"activity_type" db:"activity_type"`
	Details      map[string]string `json:"details,omitempty"`
	Timestamp    time.Time         `json:"timestamp" db:"timestamp"`
}

// Work request statuses.
const (
	RequestPending   = "pending"
	RequestApproved  = "approved"
	RequestDenied    = "denied"
	RequestCompleted = "completed"
)

// WorkRequest is a request for work created transactionally alongside
// activity logging when a work_request message is processed.
type WorkRequest struct {
	ID        string            `json:"request_id" db:"request_id"`
	FromRole  string            `json:"from_role" db:"from_role"`
	Type      string            `json:"type" db:"type"`
	Details   map[string]string `json:"details,omitempty"`
	Status    string            `json:"status" db:"status"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// Clone returns a deep copy of the work request.
func (r *WorkRequest) Clone() *WorkRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Details = cloneMap(r.Details)
	return &c
}

// Store is the collaborator contract consumed by the messaging core.
// All mutation during message processing goes through the recording facade
// in package txn; Put and Delete methods exist so the facade can restore
// prior snapshots and undo creates during rollback.
type Store interface {
	// CreateTaskIfAbsent inserts the task unless one with the same id
	// already exists. It returns the stored record and whether this call
	// created it. Never fails on a duplicate key.
	CreateTaskIfAbsent(t *Task) (*Task, bool, error)

	// GetTask returns the task or ErrNotFound.
	GetTask(id string) (*Task, error)

	// PutTask upserts the full task record.
	PutTask(t *Task) error

	// UpdateTaskStatus sets the status and merges metadata.
	// Returns ErrNotFound if the task does not exist.
	UpdateTaskStatus(id string, status TaskStatus, metadata map[string]string) error

	// DeleteTask removes the task. Deleting a missing task is not an error.
	DeleteTask(id string) error

	// TasksByStatus returns all tasks with the given status.
	TasksByStatus(status TaskStatus) ([]*Task, error)

	// TasksByAgent returns all tasks assigned to the agent.
	TasksByAgent(agentID string) ([]*Task, error)

	// GetAgentState returns the agent state or ErrNotFound.
	GetAgentState(agentID string) (*AgentState, error)

	// PutAgentState upserts the full agent state record.
	PutAgentState(a *AgentState) error

	// UpdateAgentState upserts the agent's status, current task, and
	// merged metadata.
	UpdateAgentState(agentID string, status AgentStatus, currentTaskID string, metadata map[string]string) error

	// DeleteAgentState removes the agent state record.
	DeleteAgentState(agentID string) error

	// AllAgentStates returns every agent state record.
	AllAgentStates() ([]*AgentState, error)

	// RecordHeartbeat refreshes the agent's last_heartbeat, creating the
	// record (status listening) if absent.
	RecordHeartbeat(agentID string, at time.Time) error

	// LogActivity appends an audit entry and returns its store-assigned id.
	LogActivity(agentID, activityType string, details map[string]string) (string, error)

	// DeleteActivity removes an audit entry by id. Rollback only.
	DeleteActivity(id string) error

	// AgentActivities returns up to limit recent entries for the agent,
	// newest first. limit <= 0 means no limit.
	AgentActivities(agentID string, limit int) ([]*ActivityEntry, error)

	// CreateWorkRequest inserts the request unless one with the same id
	// exists, returning the stored record and a created flag.
	CreateWorkRequest(r *WorkRequest) (*WorkRequest, bool, error)

	// GetWorkRequest returns the work request or ErrNotFound.
	GetWorkRequest(id string) (*WorkRequest, error)

	// PutWorkRequest upserts the full work request record.
	PutWorkRequest(r *WorkRequest) error

	// DeleteWorkRequest removes the work request.
	DeleteWorkRequest(id string) error

	// UpdateWorkRequestStatus sets the request status.
	UpdateWorkRequestStatus(id, status string) error

	// PendingWorkRequests returns requests still in the pending status.
	PendingWorkRequests() ([]*WorkRequest, error)

	// Close releases the store.
	Close() error
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// mergeMeta merges src into dst, allocating dst if needed.
func mergeMeta(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
