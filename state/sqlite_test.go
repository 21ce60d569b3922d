package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteTaskRoundTrip(t *testing.T) {
	s := newSQLite(t)

	in := &Task{
		ID:           "T-1",
		AssignedTo:   "worker",
		Priority:     "high",
		Requirements: []string{"req-1", "req-2"},
		Metadata:     map[string]string{"origin": "test"},
	}
	created, ok, err := s.CreateTaskIfAbsent(in)
	if err != nil {
		t.Fatalf("CreateTaskIfAbsent: %v", err)
	}
	if !ok || created.Status != StatusPending {
		t.Fatalf("created = %v, status = %q", ok, created.Status)
	}

	got, err := s.GetTask("T-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.AssignedTo != "worker" || got.Priority != "high" {
		t.Errorf("task = %+v", got)
	}
	if len(got.Requirements) != 2 || got.Requirements[1] != "req-2" {
		t.Errorf("requirements = %v", got.Requirements)
	}
	if got.Metadata["origin"] != "test" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not persisted")
	}
}

func TestSQLiteCreateTaskIdempotent(t *testing.T) {
	s := newSQLite(t)

	s.CreateTaskIfAbsent(&Task{ID: "T-1", Priority: "high"})
	again, ok, err := s.CreateTaskIfAbsent(&Task{ID: "T-1", Priority: "low"})
	if err != nil {
		t.Fatalf("duplicate CreateTaskIfAbsent: %v", err)
	}
	if ok {
		t.Error("duplicate create reported created")
	}
	if again.Priority != "high" {
		t.Errorf("priority = %q, want original high", again.Priority)
	}

	all, err := s.TasksByStatus(StatusPending)
	if err != nil {
		t.Fatalf("TasksByStatus: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("task count = %d, want 1", len(all))
	}
}

func TestSQLiteUpdateAndDeleteTask(t *testing.T) {
	s := newSQLite(t)

	s.CreateTaskIfAbsent(&Task{ID: "T-1"})
	if err := s.UpdateTaskStatus("T-1", StatusCompleted, map[string]string{"completed_at": "now"}); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	got, _ := s.GetTask("T-1")
	if got.Status != StatusCompleted || got.Metadata["completed_at"] != "now" {
		t.Errorf("task = %+v", got)
	}

	if err := s.DeleteTask("T-1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := s.GetTask("T-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask after delete: err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteAgentState(t *testing.T) {
	s := newSQLite(t)

	if err := s.UpdateAgentState("worker", AgentWorking, "T-1", map[string]string{"via": "amqp"}); err != nil {
		t.Fatalf("UpdateAgentState: %v", err)
	}
	got, err := s.GetAgentState("worker")
	if err != nil {
		t.Fatalf("GetAgentState: %v", err)
	}
	if got.Status != AgentWorking || got.CurrentTaskID != "T-1" || got.Metadata["via"] != "amqp" {
		t.Errorf("state = %+v", got)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.RecordHeartbeat("worker", at); err != nil {
		t.Fatalf("RecordHeartbeat: %v", err)
	}
	got, _ = s.GetAgentState("worker")
	if !got.LastHeartbeat.Equal(at) {
		t.Errorf("last heartbeat = %v, want %v", got.LastHeartbeat, at)
	}
	// Heartbeat must not clobber the working status.
	if got.Status != AgentWorking {
		t.Errorf("status after heartbeat = %q, want working", got.Status)
	}
}

func TestSQLiteActivityLog(t *testing.T) {
	s := newSQLite(t)

	id, err := s.LogActivity("worker", "task_received", map[string]string{"task_id": "T-1"})
	if err != nil {
		t.Fatalf("LogActivity: %v", err)
	}
	s.LogActivity("worker", "task_completed", nil)

	got, err := s.AgentActivities("worker", 1)
	if err != nil {
		t.Fatalf("AgentActivities: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("limited activities = %d, want 1", len(got))
	}

	if err := s.DeleteActivity(id); err != nil {
		t.Fatalf("DeleteActivity: %v", err)
	}
	all, _ := s.AgentActivities("worker", 0)
	if len(all) != 1 {
		t.Errorf("activities after delete = %d, want 1", len(all))
	}
}

func TestSQLiteWorkRequests(t *testing.T) {
	s := newSQLite(t)

	_, ok, err := s.CreateWorkRequest(&WorkRequest{
		ID:       "R-1",
		FromRole: "worker",
		Type:     "clarification",
		Details:  map[string]string{"about": "T-1"},
	})
	if err != nil {
		t.Fatalf("CreateWorkRequest: %v", err)
	}
	if !ok {
		t.Fatal("first create reported not created")
	}

	_, ok, _ = s.CreateWorkRequest(&WorkRequest{ID: "R-1"})
	if ok {
		t.Error("duplicate create reported created")
	}

	got, err := s.GetWorkRequest("R-1")
	if err != nil {
		t.Fatalf("GetWorkRequest: %v", err)
	}
	if got.Details["about"] != "T-1" || got.Status != RequestPending {
		t.Errorf("request = %+v", got)
	}

	if err := s.UpdateWorkRequestStatus("R-1", RequestCompleted); err != nil {
		t.Fatalf("UpdateWorkRequestStatus: %v", err)
	}
	if err := s.UpdateWorkRequestStatus("R-404", RequestCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing request: err = %v, want ErrNotFound", err)
	}

	pending, _ := s.PendingWorkRequests()
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestSQLiteReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	s.CreateTaskIfAbsent(&Task{ID: "T-1", Status: StatusAssigned})
	s.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetTask("T-1")
	if err != nil {
		t.Fatalf("GetTask after reopen: %v", err)
	}
	if got.Status != StatusAssigned {
		t.Errorf("status = %q, want assigned", got.Status)
	}
}
