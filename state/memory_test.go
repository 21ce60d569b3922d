package state

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryCreateTaskIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	created, ok, err := s.CreateTaskIfAbsent(&Task{ID: "T-1", Priority: "high"})
	if err != nil {
		t.Fatalf("CreateTaskIfAbsent: %v", err)
	}
	if !ok {
		t.Fatal("first create reported not created")
	}
	if created.Status != StatusPending {
		t.Errorf("status = %q, want pending", created.Status)
	}

	// Second create with the same id must return the existing record,
	// not fail and not overwrite.
	again, ok, err := s.CreateTaskIfAbsent(&Task{ID: "T-1", Priority: "low"})
	if err != nil {
		t.Fatalf("second CreateTaskIfAbsent: %v", err)
	}
	if ok {
		t.Error("duplicate create reported created")
	}
	if again.Priority != "high" {
		t.Errorf("priority = %q, want original high", again.Priority)
	}
}

func TestMemoryUpdateTaskStatus(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if err := s.UpdateTaskStatus("missing", StatusAssigned, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing task: err = %v, want ErrNotFound", err)
	}

	s.CreateTaskIfAbsent(&Task{ID: "T-1"})
	if err := s.UpdateTaskStatus("T-1", StatusAssigned, map[string]string{"assigned_at": "now"}); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	got, err := s.GetTask("T-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != StatusAssigned {
		t.Errorf("status = %q, want assigned", got.Status)
	}
	if got.Metadata["assigned_at"] != "now" {
		t.Errorf("metadata = %v, missing assigned_at", got.Metadata)
	}
}

func TestMemoryTaskQueries(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.CreateTaskIfAbsent(&Task{ID: "T-1", Status: StatusAssigned, AssignedTo: "worker"})
	s.CreateTaskIfAbsent(&Task{ID: "T-2", Status: StatusAssigned, AssignedTo: "worker"})
	s.CreateTaskIfAbsent(&Task{ID: "T-3", Status: StatusCompleted, AssignedTo: "other"})

	byStatus, err := s.TasksByStatus(StatusAssigned)
	if err != nil {
		t.Fatalf("TasksByStatus: %v", err)
	}
	if len(byStatus) != 2 {
		t.Errorf("assigned tasks = %d, want 2", len(byStatus))
	}

	byAgent, err := s.TasksByAgent("worker")
	if err != nil {
		t.Fatalf("TasksByAgent: %v", err)
	}
	if len(byAgent) != 2 {
		t.Errorf("worker tasks = %d, want 2", len(byAgent))
	}
}

func TestMemoryAgentState(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.GetAgentState("worker"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing agent: err = %v, want ErrNotFound", err)
	}

	// UpdateAgentState upserts.
	if err := s.UpdateAgentState("worker", AgentWorking, "T-1", map[string]string{"via": "test"}); err != nil {
		t.Fatalf("UpdateAgentState: %v", err)
	}
	got, err := s.GetAgentState("worker")
	if err != nil {
		t.Fatalf("GetAgentState: %v", err)
	}
	if got.Status != AgentWorking || got.CurrentTaskID != "T-1" {
		t.Errorf("state = %+v", got)
	}

	if err := s.UpdateAgentState("worker", AgentIdle, "", nil); err != nil {
		t.Fatalf("second UpdateAgentState: %v", err)
	}
	got, _ = s.GetAgentState("worker")
	if got.Status != AgentIdle || got.CurrentTaskID != "" {
		t.Errorf("state after release = %+v", got)
	}
	if got.Metadata["via"] != "test" {
		t.Error("metadata from earlier update lost")
	}
}

func TestMemoryRecordHeartbeat(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	at := time.Now().UTC()
	if err := s.RecordHeartbeat("worker", at); err != nil {
		t.Fatalf("RecordHeartbeat: %v", err)
	}

	got, err := s.GetAgentState("worker")
	if err != nil {
		t.Fatalf("GetAgentState: %v", err)
	}
	if !got.LastHeartbeat.Equal(at) {
		t.Errorf("last heartbeat = %v, want %v", got.LastHeartbeat, at)
	}
	if got.Status != AgentListening {
		t.Errorf("implicit status = %q, want listening", got.Status)
	}
}

func TestMemoryActivityLog(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	id1, err := s.LogActivity("worker", "task_received", map[string]string{"task_id": "T-1"})
	if err != nil {
		t.Fatalf("LogActivity: %v", err)
	}
	id2, _ := s.LogActivity("worker", "task_completed", nil)
	s.LogActivity("coordinator", "task_archived", nil)

	if id1 == id2 {
		t.Error("log ids not unique")
	}

	got, err := s.AgentActivities("worker", 0)
	if err != nil {
		t.Fatalf("AgentActivities: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("worker activities = %d, want 2", len(got))
	}

	if err := s.DeleteActivity(id1); err != nil {
		t.Fatalf("DeleteActivity: %v", err)
	}
	got, _ = s.AgentActivities("worker", 0)
	if len(got) != 1 {
		t.Errorf("activities after delete = %d, want 1", len(got))
	}
}

func TestMemoryWorkRequests(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	r, ok, err := s.CreateWorkRequest(&WorkRequest{ID: "R-1", FromRole: "worker", Type: "review"})
	if err != nil {
		t.Fatalf("CreateWorkRequest: %v", err)
	}
	if !ok || r.Status != RequestPending {
		t.Errorf("created = %v, status = %q", ok, r.Status)
	}

	_, ok, err = s.CreateWorkRequest(&WorkRequest{ID: "R-1", Type: "other"})
	if err != nil {
		t.Fatalf("duplicate CreateWorkRequest: %v", err)
	}
	if ok {
		t.Error("duplicate create reported created")
	}

	pending, err := s.PendingWorkRequests()
	if err != nil {
		t.Fatalf("PendingWorkRequests: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	if err := s.UpdateWorkRequestStatus("R-1", RequestApproved); err != nil {
		t.Fatalf("UpdateWorkRequestStatus: %v", err)
	}
	pending, _ = s.PendingWorkRequests()
	if len(pending) != 0 {
		t.Errorf("pending after approve = %d, want 0", len(pending))
	}
}

func TestMemoryClosed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	if _, err := s.GetTask("T-1"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetTask after close: err = %v, want ErrClosed", err)
	}
	if _, _, err := s.CreateTaskIfAbsent(&Task{ID: "T-1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateTaskIfAbsent after close: err = %v, want ErrClosed", err)
	}
}
