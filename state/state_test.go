package state

import "testing"

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusAssigned, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestCanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusAssigned, true},
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCompleted, true},
		{StatusAssigned, StatusInProgress, true},
		{StatusAssigned, StatusCompleted, true},
		{StatusAssigned, StatusFailed, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},

		// Backward and repeated transitions are refused, which callers
		// map to no-op success.
		{StatusAssigned, StatusPending, false},
		{StatusAssigned, StatusAssigned, false},
		{StatusInProgress, StatusAssigned, false},
		{StatusCompleted, StatusAssigned, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},

		// Unknown statuses never advance.
		{TaskStatus("limbo"), StatusAssigned, false},
		{StatusPending, TaskStatus("limbo"), false},
	}

	for _, tt := range tests {
		if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
			t.Errorf("CanAdvanceTo(%q -> %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskClone(t *testing.T) {
	orig := &Task{
		ID:           "T-1",
		Status:       StatusPending,
		Requirements: []string{"a"},
		Metadata:     map[string]string{"k": "v"},
	}
	c := orig.Clone()
	c.Requirements[0] = "b"
	c.Metadata["k"] = "w"

	if orig.Requirements[0] != "a" || orig.Metadata["k"] != "v" {
		t.Error("Clone shares backing storage with original")
	}
}
