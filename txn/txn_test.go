package txn

import (
	"errors"
	"testing"

	relayerrors "github.com/relaykit/relaykit/errors"
	"github.com/relaykit/relaykit/state"
)

func seedStore(t *testing.T) state.Store {
	t.Helper()
	s := state.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	if _, _, err := s.CreateTaskIfAbsent(&state.Task{
		ID:       "T-1",
		Status:   state.StatusAssigned,
		Metadata: map[string]string{"origin": "seed"},
	}); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if err := s.UpdateAgentState("worker-1", state.AgentIdle, "", nil); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return s
}

func TestTxnRollbackRestoresStore(t *testing.T) {
	s := seedStore(t)

	tx := Begin(s)
	if _, created, err := tx.CreateTaskIfAbsent(&state.Task{ID: "T-2", Status: state.StatusPending}); err != nil || !created {
		t.Fatalf("CreateTaskIfAbsent() = created %v, err %v", created, err)
	}
	if err := tx.UpdateTaskStatus("T-1", state.StatusInProgress, map[string]string{"step": "1"}); err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}
	if err := tx.UpdateAgentState("worker-1", state.AgentWorking, "T-1", nil); err != nil {
		t.Fatalf("UpdateAgentState() error = %v", err)
	}
	activityID, err := tx.LogActivity("worker-1", "task_received", nil)
	if err != nil {
		t.Fatalf("LogActivity() error = %v", err)
	}
	if _, created, err := tx.CreateWorkRequest(&state.WorkRequest{ID: "R-1", Status: state.RequestPending}); err != nil || !created {
		t.Fatalf("CreateWorkRequest() = created %v, err %v", created, err)
	}

	if got := tx.Writes(); got != 5 {
		t.Errorf("Writes() = %d, want 5", got)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if _, err := s.GetTask("T-2"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("created task survived rollback: err = %v", err)
	}
	task, err := s.GetTask("T-1")
	if err != nil {
		t.Fatalf("GetTask(T-1) error = %v", err)
	}
	if task.Status != state.StatusAssigned {
		t.Errorf("task status = %s, want %s", task.Status, state.StatusAssigned)
	}
	if _, ok := task.Metadata["step"]; ok {
		t.Error("merged metadata survived rollback")
	}
	agent, err := s.GetAgentState("worker-1")
	if err != nil {
		t.Fatalf("GetAgentState() error = %v", err)
	}
	if agent.Status != state.AgentIdle || agent.CurrentTaskID != "" {
		t.Errorf("agent = %s/%q, want %s/empty", agent.Status, agent.CurrentTaskID, state.AgentIdle)
	}
	activities, err := s.AgentActivities("worker-1", 0)
	if err != nil {
		t.Fatalf("AgentActivities() error = %v", err)
	}
	for _, a := range activities {
		if a.ID == activityID {
			t.Error("activity entry survived rollback")
		}
	}
	if _, err := s.GetWorkRequest("R-1"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("work request survived rollback: err = %v", err)
	}
}

func TestTxnRollbackRestoresDeletes(t *testing.T) {
	s := seedStore(t)

	tx := Begin(s)
	if err := tx.DeleteTask("T-1"); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	if err := tx.DeleteAgentState("worker-1"); err != nil {
		t.Fatalf("DeleteAgentState() error = %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	task, err := s.GetTask("T-1")
	if err != nil {
		t.Fatalf("deleted task not restored: %v", err)
	}
	if task.Metadata["origin"] != "seed" {
		t.Errorf("restored task metadata = %v", task.Metadata)
	}
	if _, err := s.GetAgentState("worker-1"); err != nil {
		t.Errorf("deleted agent state not restored: %v", err)
	}
}

func TestTxnCommitKeepsWrites(t *testing.T) {
	s := seedStore(t)

	tx := Begin(s)
	if err := tx.UpdateTaskStatus("T-1", state.StatusInProgress, nil); err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}
	tx.Commit()

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() after commit error = %v", err)
	}
	task, err := s.GetTask("T-1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Status != state.StatusInProgress {
		t.Errorf("committed status = %s, want %s", task.Status, state.StatusInProgress)
	}
}

func TestTxnIdempotentCreateRecordsNothing(t *testing.T) {
	s := seedStore(t)

	tx := Begin(s)
	stored, created, err := tx.CreateTaskIfAbsent(&state.Task{ID: "T-1", Status: state.StatusPending})
	if err != nil {
		t.Fatalf("CreateTaskIfAbsent() error = %v", err)
	}
	if created {
		t.Error("duplicate create reported created = true")
	}
	if stored.Status != state.StatusAssigned {
		t.Errorf("existing record status = %s, want %s", stored.Status, state.StatusAssigned)
	}
	if got := tx.Writes(); got != 0 {
		t.Errorf("Writes() = %d, want 0", got)
	}
}

func TestUpdaterApplySuccess(t *testing.T) {
	s := seedStore(t)
	u := NewUpdater(s, nil)

	writes, err := u.Apply(func(st state.Store) error {
		if err := st.UpdateTaskStatus("T-1", state.StatusInProgress, nil); err != nil {
			return err
		}
		_, err := st.LogActivity("worker-1", "progress", nil)
		return err
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if writes != 2 {
		t.Errorf("writes = %d, want 2", writes)
	}
}

func TestUpdaterApplyRollsBackOnError(t *testing.T) {
	s := seedStore(t)
	u := NewUpdater(s, nil)

	boom := errors.New("handler boom")
	_, err := u.Apply(func(st state.Store) error {
		if err := st.UpdateTaskStatus("T-1", state.StatusCompleted, nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Apply() error = %v, want the handler error", err)
	}

	task, err := s.GetTask("T-1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Status != state.StatusAssigned {
		t.Errorf("status after rollback = %s, want %s", task.Status, state.StatusAssigned)
	}
}

func TestUpdaterApplyRecoversPanic(t *testing.T) {
	s := seedStore(t)
	u := NewUpdater(s, nil)

	_, err := u.Apply(func(st state.Store) error {
		if err := st.UpdateAgentState("worker-1", state.AgentError, "", nil); err != nil {
			return err
		}
		panic("handler exploded")
	})
	if !relayerrors.Is(err, relayerrors.ErrCodePanic) {
		t.Fatalf("Apply() error = %v, want code %s", err, relayerrors.ErrCodePanic)
	}

	agent, err := s.GetAgentState("worker-1")
	if err != nil {
		t.Fatalf("GetAgentState() error = %v", err)
	}
	if agent.Status != state.AgentIdle {
		t.Errorf("agent status after panic rollback = %s, want %s", agent.Status, state.AgentIdle)
	}
}
