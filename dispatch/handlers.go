package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	relayerrors "github.com/relaykit/relaykit/errors"
	"github.com/relaykit/relaykit/message"
	"github.com/relaykit/relaykit/state"
)

// Activity types written to the audit log.
const (
	ActivityTaskReceived       = "task_received"
	ActivityAssignmentArchived = "assignment_archived"
	ActivityTaskCompleted      = "task_completed"
	ActivityTaskFailed         = "task_failed"
	ActivityTaskProgress       = "task_progress"
	ActivityWorkRequested      = "work_requested"
	ActivityStatusUpdate       = "status_update"
	ActivityResourceAllocation = "resource_allocation"
)

// effect returns the store mutation for one envelope. A decode failure of
// the typed payload is permanent: redelivery cannot fix the body.
func (d *Dispatcher) effect(env *message.Envelope, raw []byte) (func(state.Store) error, error) {
	switch env.Type {
	case message.TypeTaskAssignment:
		p, err := env.TaskAssignment()
		if err != nil {
			return nil, relayerrors.WrapWithCode(err, relayerrors.ErrCodeMalformed, "task_assignment payload")
		}
		return d.applyAssignment(env, p, raw), nil

	case message.TypeTaskCompletion:
		p, err := env.TaskCompletion()
		if err != nil {
			return nil, relayerrors.WrapWithCode(err, relayerrors.ErrCodeMalformed, "task_completion payload")
		}
		return d.applyCompletion(env, p), nil

	case message.TypeTaskUpdate:
		p, err := env.TaskUpdate()
		if err != nil {
			return nil, relayerrors.WrapWithCode(err, relayerrors.ErrCodeMalformed, "task_update payload")
		}
		return d.applyUpdate(env, p), nil

	case message.TypeWorkRequest:
		p, err := env.WorkRequest()
		if err != nil {
			return nil, relayerrors.WrapWithCode(err, relayerrors.ErrCodeMalformed, "work_request payload")
		}
		return d.applyWorkRequest(env, p), nil

	case message.TypeStatusUpdate:
		p, err := env.StatusUpdate()
		if err != nil {
			return nil, relayerrors.WrapWithCode(err, relayerrors.ErrCodeMalformed, "status_update payload")
		}
		return d.applyStatusUpdate(env, p), nil

	case message.TypeResourceAllocation:
		p, err := env.ResourceAllocation()
		if err != nil {
			return nil, relayerrors.WrapWithCode(err, relayerrors.ErrCodeMalformed, "resource_allocation payload")
		}
		return d.applyResourceAllocation(env, p), nil

	default:
		return nil, relayerrors.Newf(relayerrors.ErrCodeUnknownType, "no handler for %s", env.Type)
	}
}

// applyAssignment records the task, marks this agent working on it, and
// archives the raw assignment in the audit log. Creation is if-absent, so
// a redelivered assignment changes nothing.
func (d *Dispatcher) applyAssignment(env *message.Envelope, p *message.TaskAssignment, raw []byte) func(state.Store) error {
	return func(s state.Store) error {
		task := &state.Task{
			ID:           env.TaskID,
			Status:       state.StatusAssigned,
			AssignedTo:   p.AssignedTo,
			Priority:     p.Priority,
			Requirements: p.Requirements,
			Metadata:     p.Metadata,
		}
		if task.AssignedTo == "" {
			task.AssignedTo = d.agentID
		}
		stored, created, err := s.CreateTaskIfAbsent(task)
		if err != nil {
			return err
		}
		// A redelivered assignment for a finished task must not re-occupy
		// the agent or grow the audit log.
		if !created && stored.Status.IsTerminal() {
			return nil
		}

		if err := s.UpdateAgentState(d.agentID, state.AgentWorking, env.TaskID, nil); err != nil {
			return err
		}
		if _, err := s.LogActivity(d.agentID, ActivityTaskReceived, map[string]string{
			"task_id": env.TaskID,
			"title":   p.Title,
		}); err != nil {
			return err
		}
		if created {
			if _, err := s.LogActivity(d.agentID, ActivityAssignmentArchived, map[string]string{
				"task_id":  env.TaskID,
				"envelope": string(raw),
			}); err != nil {
				return err
			}
		}
		return nil
	}
}

// applyCompletion moves the task to its terminal status and frees the
// worker. A redelivered completion finds the task already terminal and
// commits without touching it.
func (d *Dispatcher) applyCompletion(env *message.Envelope, p *message.TaskCompletion) func(state.Store) error {
	return func(s state.Store) error {
		target := state.StatusCompleted
		activity := ActivityTaskCompleted
		if !p.Success {
			target = state.StatusFailed
			activity = ActivityTaskFailed
		}

		task, err := s.GetTask(env.TaskID)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				// Completion for a task this store never saw. Record it
				// so the audit trail shows the message arrived.
				task = nil
			} else {
				return err
			}
		}

		worker := string(env.From)
		if task != nil {
			if task.AssignedTo != "" {
				worker = task.AssignedTo
			}
			if task.Status.CanAdvanceTo(target) {
				meta := map[string]string{"summary": p.Summary}
				if err := s.UpdateTaskStatus(env.TaskID, target, meta); err != nil {
					return err
				}
				if err := s.UpdateAgentState(worker, state.AgentIdle, "", nil); err != nil {
					return err
				}
			}
		}

		details := map[string]string{
			"task_id": env.TaskID,
			"success": strconv.FormatBool(p.Success),
		}
		if p.Summary != "" {
			details["summary"] = p.Summary
		}
		if _, err := s.LogActivity(d.agentID, activity, details); err != nil {
			return err
		}
		return nil
	}
}

// applyUpdate moves the task to in_progress on the first progress report.
// Later updates only append to the audit log.
func (d *Dispatcher) applyUpdate(env *message.Envelope, p *message.TaskUpdate) func(state.Store) error {
	return func(s state.Store) error {
		task, err := s.GetTask(env.TaskID)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return err
		}
		if task != nil && task.Status.CanAdvanceTo(state.StatusInProgress) {
			if err := s.UpdateTaskStatus(env.TaskID, state.StatusInProgress, nil); err != nil {
				return err
			}
		}
		// Progress reports double as liveness.
		if task != nil && task.AssignedTo != "" {
			if err := s.RecordHeartbeat(task.AssignedTo, time.Now().UTC()); err != nil {
				return err
			}
		}

		details := map[string]string{"task_id": env.TaskID}
		if p.Note != "" {
			details["note"] = p.Note
		}
		if p.Progress > 0 {
			details["progress"] = strconv.Itoa(p.Progress)
		}
		if _, err := s.LogActivity(d.agentID, ActivityTaskProgress, details); err != nil {
			return err
		}
		return nil
	}
}

// applyWorkRequest records the request if it is new and logs its arrival.
func (d *Dispatcher) applyWorkRequest(env *message.Envelope, p *message.WorkRequest) func(state.Store) error {
	return func(s state.Store) error {
		_, created, err := s.CreateWorkRequest(&state.WorkRequest{
			ID:       env.RequestID,
			FromRole: string(env.From),
			Type:     p.RequestType,
			Details:  p.Details,
			Status:   state.RequestPending,
		})
		if err != nil {
			return err
		}
		if created {
			if _, err := s.LogActivity(d.agentID, ActivityWorkRequested, map[string]string{
				"request_id":   env.RequestID,
				"request_type": p.RequestType,
			}); err != nil {
				return err
			}
		}
		return nil
	}
}

func (d *Dispatcher) applyStatusUpdate(env *message.Envelope, p *message.StatusUpdate) func(state.Store) error {
	return func(s state.Store) error {
		details := map[string]string{
			"from":   string(env.From),
			"status": p.Status,
		}
		for k, v := range p.Details {
			details[k] = v
		}
		_, err := s.LogActivity(d.agentID, ActivityStatusUpdate, details)
		return err
	}
}

func (d *Dispatcher) applyResourceAllocation(env *message.Envelope, p *message.ResourceAllocation) func(state.Store) error {
	return func(s state.Store) error {
		details := map[string]string{
			"from":     string(env.From),
			"resource": p.Resource,
		}
		if p.Amount > 0 {
			details["amount"] = fmt.Sprintf("%d", p.Amount)
		}
		for k, v := range p.Details {
			details[k] = v
		}
		_, err := s.LogActivity(d.agentID, ActivityResourceAllocation, details)
		return err
	}
}
