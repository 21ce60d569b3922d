package txn

import (
	"errors"
	"fmt"
	"time"

	relayerrors "github.com/relaykit/relaykit/errors"
	"github.com/relaykit/relaykit/state"
)

// undoOp reverses one recorded write.
type undoOp struct {
	entity string // "task", "agent", "activity", "request"
	id     string
	fn     func() error
}

// Txn records writes against a store so they can be undone. Not safe for
// concurrent use; each message gets its own Txn on its own consumer loop.
type Txn struct {
	store  state.Store
	ledger []undoOp
	done   bool
}

// Begin starts a transaction over the store.
func Begin(store state.Store) *Txn {
	return &Txn{store: store}
}

// Writes returns the number of recorded writes.
func (t *Txn) Writes() int {
	return len(t.ledger)
}

// Commit discards the undo ledger, keeping all writes.
func (t *Txn) Commit() {
	t.ledger = nil
	t.done = true
}

// Rollback replays the undo ledger in reverse order. Replay continues past
// individual failures so later entries still get undone; any failure is
// reported as a rollback error, which leaves the store suspect.
func (t *Txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true

	var errs []error
	for i := len(t.ledger) - 1; i >= 0; i-- {
		op := t.ledger[i]
		if err := op.fn(); err != nil {
			errs = append(errs, fmt.Errorf("undo %s %s: %w", op.entity, op.id, err))
		}
	}
	t.ledger = nil

	if len(errs) > 0 {
		return relayerrors.RollbackFailed(errors.Join(errs...))
	}
	return nil
}

func (t *Txn) record(entity, id string, fn func() error) {
	t.ledger = append(t.ledger, undoOp{entity: entity, id: id, fn: fn})
}

// snapshotTask records an undo that restores the task's prior record, or
// deletes it if the task did not exist before this transaction touched it.
func (t *Txn) snapshotTask(id string) error {
	prior, err := t.store.GetTask(id)
	switch {
	case err == nil:
		t.record("task", id, func() error { return t.store.PutTask(prior) })
	case errors.Is(err, state.ErrNotFound):
		t.record("task", id, func() error { return t.store.DeleteTask(id) })
	default:
		return err
	}
	return nil
}

func (t *Txn) snapshotAgent(agentID string) error {
	prior, err := t.store.GetAgentState(agentID)
	switch {
	case err == nil:
		t.record("agent", agentID, func() error { return t.store.PutAgentState(prior) })
	case errors.Is(err, state.ErrNotFound):
		t.record("agent", agentID, func() error { return t.store.DeleteAgentState(agentID) })
	default:
		return err
	}
	return nil
}

func (t *Txn) snapshotRequest(id string) error {
	prior, err := t.store.GetWorkRequest(id)
	switch {
	case err == nil:
		t.record("request", id, func() error { return t.store.PutWorkRequest(prior) })
	case errors.Is(err, state.ErrNotFound):
		t.record("request", id, func() error { return t.store.DeleteWorkRequest(id) })
	default:
		return err
	}
	return nil
}

// CreateTaskIfAbsent records a delete-undo only when this call created the
// task; finding an existing record writes nothing.
func (t *Txn) CreateTaskIfAbsent(task *state.Task) (*state.Task, bool, error) {
	stored, created, err := t.store.CreateTaskIfAbsent(task)
	if err != nil {
		return nil, false, err
	}
	if created {
		id := stored.ID
		t.record("task", id, func() error { return t.store.DeleteTask(id) })
	}
	return stored, created, nil
}

func (t *Txn) GetTask(id string) (*state.Task, error) {
	return t.store.GetTask(id)
}

func (t *Txn) PutTask(task *state.Task) error {
	if task == nil {
		return state.ErrInvalidEntity
	}
	if err := t.snapshotTask(task.ID); err != nil {
		return err
	}
	return t.store.PutTask(task)
}

func (t *Txn) UpdateTaskStatus(id string, status state.TaskStatus, metadata map[string]string) error {
	if err := t.snapshotTask(id); err != nil {
		return err
	}
	return t.store.UpdateTaskStatus(id, status, metadata)
}

func (t *Txn) DeleteTask(id string) error {
	if err := t.snapshotTask(id); err != nil {
		return err
	}
	return t.store.DeleteTask(id)
}

func (t *Txn) TasksByStatus(status state.TaskStatus) ([]*state.Task, error) {
	return t.store.TasksByStatus(status)
}

func (t *Txn) TasksByAgent(agentID string) ([]*state.Task, error) {
	return t.store.TasksByAgent(agentID)
}

func (t *Txn) GetAgentState(agentID string) (*state.AgentState, error) {
	return t.store.GetAgentState(agentID)
}

func (t *Txn) PutAgentState(a *state.AgentState) error {
	if a == nil {
		return state.ErrInvalidEntity
	}
	if err := t.snapshotAgent(a.AgentID); err != nil {
		return err
	}
	return t.store.PutAgentState(a)
}

func (t *Txn) UpdateAgentState(agentID string, status state.AgentStatus, currentTaskID string, metadata map[string]string) error {
	if err := t.snapshotAgent(agentID); err != nil {
		return err
	}
	return t.store.UpdateAgentState(agentID, status, currentTaskID, metadata)
}

func (t *Txn) DeleteAgentState(agentID string) error {
	if err := t.snapshotAgent(agentID); err != nil {
		return err
	}
	return t.store.DeleteAgentState(agentID)
}

func (t *Txn) AllAgentStates() ([]*state.AgentState, error) {
	return t.store.AllAgentStates()
}

func (t *Txn) RecordHeartbeat(agentID string, at time.Time) error {
	if err := t.snapshotAgent(agentID); err != nil {
		return err
	}
	return t.store.RecordHeartbeat(agentID, at)
}

func (t *Txn) LogActivity(agentID, activityType string, details map[string]string) (string, error) {
	id, err := t.store.LogActivity(agentID, activityType, details)
	if err != nil {
		return "", err
	}
	t.record("activity", id, func() error { return t.store.DeleteActivity(id) })
	return id, nil
}

// DeleteActivity is passed through without an undo entry. The audit log is
// append-only for handlers; deletions happen only during rollback replay.
func (t *Txn) DeleteActivity(id string) error {
	return t.store.DeleteActivity(id)
}

func (t *Txn) AgentActivities(agentID string, limit int) ([]*state.ActivityEntry, error) {
	return t.store.AgentActivities(agentID, limit)
}

func (t *Txn) CreateWorkRequest(r *state.WorkRequest) (*state.WorkRequest, bool, error) {
	stored, created, err := t.store.CreateWorkRequest(r)
	if err != nil {
		return nil, false, err
	}
	if created {
		id := stored.ID
		t.record("request", id, func() error { return t.store.DeleteWorkRequest(id) })
	}
	return stored, created, nil
}

func (t *Txn) GetWorkRequest(id string) (*state.WorkRequest, error) {
	return t.store.GetWorkRequest(id)
}

func (t *Txn) PutWorkRequest(r *state.WorkRequest) error {
	if r == nil {
		return state.ErrInvalidEntity
	}
	if err := t.snapshotRequest(r.ID); err != nil {
		return err
	}
	return t.store.PutWorkRequest(r)
}

func (t *Txn) DeleteWorkRequest(id string) error {
	if err := t.snapshotRequest(id); err != nil {
		return err
	}
	return t.store.DeleteWorkRequest(id)
}

func (t *Txn) UpdateWorkRequestStatus(id, status string) error {
	if err := t.snapshotRequest(id); err != nil {
		return err
	}
	return t.store.UpdateWorkRequestStatus(id, status)
}

func (t *Txn) PendingWorkRequests() ([]*state.WorkRequest, error) {
	return t.store.PendingWorkRequests()
}

// Close is a no-op; the underlying store outlives the transaction.
func (t *Txn) Close() error {
	return nil
}

var _ state.Store = (*Txn)(nil)
