package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store with SQLite-backed persistence.
// List and map fields are stored as JSON text; timestamps as RFC 3339 text.
// A single writer connection plus WAL keeps concurrent consumer loops from
// tripping over each other on related records.
type SQLiteStore struct {
	db *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id      TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'pending',
	assigned_to  TEXT NOT NULL DEFAULT '',
	priority     TEXT NOT NULL DEFAULT '',
	requirements TEXT NOT NULL DEFAULT '[]',
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_states (
	agent_id        TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'idle',
	current_task_id TEXT NOT NULL DEFAULT '',
	last_heartbeat  TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '{}',
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activity_log (
	log_id        TEXT PRIMARY KEY,
	agent_id      TEXT NOT NULL,
	activity_type TEXT NOT NULL,
	details       TEXT NOT NULL DEFAULT '{}',
	timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity_log(agent_id, timestamp);

CREATE TABLE IF NOT EXISTS work_requests (
	request_id TEXT PRIMARY KEY,
	from_role  TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL
);
`

// NewSQLiteStore opens (and creates, if needed) the store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- row codecs ---

type taskRow struct {
	TaskID       string `db:"task_id"`
	Status       string `db:"status"`
	AssignedTo   string `db:"assigned_to"`
	Priority     string `db:"priority"`
	Requirements string `db:"requirements"`
	Metadata     string `db:"metadata"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (r taskRow) task() (*Task, error) {
	t := &Task{
		ID:         r.TaskID,
		Status:     TaskStatus(r.Status),
		AssignedTo: r.AssignedTo,
		Priority:   r.Priority,
	}
	if err := json.Unmarshal([]byte(r.Requirements), &t.Requirements); err != nil {
		return nil, fmt.Errorf("decode requirements: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Metadata), &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	t.CreatedAt = parseTime(r.CreatedAt)
	t.UpdatedAt = parseTime(r.UpdatedAt)
	return t, nil
}

func encodeJSON(v any, empty string) string {
	if v == nil {
		return empty
	}
	b, err := json.Marshal(v)
	if err != nil {
		return empty
	}
	return string(b)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- tasks ---

func (s *SQLiteStore) CreateTaskIfAbsent(t *Task) (*Task, bool, error) {
	if t == nil || t.ID == "" {
		return nil, false, ErrInvalidEntity
	}

	c := t.Clone()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = StatusPending
	}

	res, err := s.db.Exec(
		`INSERT INTO tasks (task_id, status, assigned_to, priority, requirements, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO NOTHING`,
		c.ID, string(c.Status), c.AssignedTo, c.Priority,
		encodeJSON(c.Requirements, "[]"), encodeJSON(c.Metadata, "{}"),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("create task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := s.GetTask(c.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return c, true, nil
}

func (s *SQLiteStore) GetTask(id string) (*Task, error) {
	var r taskRow
	err := s.db.Get(&r, `SELECT * FROM tasks WHERE task_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return r.task()
}

func (s *SQLiteStore) PutTask(t *Task) error {
	if t == nil || t.ID == "" {
		return ErrInvalidEntity
	}
	_, err := s.db.Exec(
		`INSERT INTO tasks (task_id, status, assigned_to, priority, requirements, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			priority = excluded.priority,
			requirements = excluded.requirements,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		t.ID, string(t.Status), t.AssignedTo, t.Priority,
		encodeJSON(t.Requirements, "[]"), encodeJSON(t.Metadata, "{}"),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTaskStatus(id string, status TaskStatus, metadata map[string]string) error {
	t, err := s.GetTask(id)
	if err != nil {
		return err
	}
	t.Status = status
	t.Metadata = mergeMeta(t.Metadata, metadata)
	t.UpdatedAt = time.Now().UTC()
	return s.PutTask(t)
}

func (s *SQLiteStore) DeleteTask(id string) error {
	if _, err := s.db.Exec(`DELETE FROM tasks WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TasksByStatus(status TaskStatus) ([]*Task, error) {
	return s.selectTasks(`SELECT * FROM tasks WHERE status = ? ORDER BY task_id`, string(status))
}

func (s *SQLiteStore) TasksByAgent(agentID string) ([]*Task, error) {
	return s.selectTasks(`SELECT * FROM tasks WHERE assigned_to = ? ORDER BY task_id`, agentID)
}

func (s *SQLiteStore) selectTasks(query string, arg any) ([]*Task, error) {
	var rows []taskRow
	if err := s.db.Select(&rows, query, arg); err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	out := make([]*Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.task()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// --- agent states ---

type agentRow struct {
	AgentID       string `db:"agent_id"`
	Status        string `db:"status"`
	CurrentTaskID string `db:"current_task_id"`
	LastHeartbeat string `db:"last_heartbeat"`
	Metadata      string `db:"metadata"`
	UpdatedAt     string `db:"updated_at"`
}

func (r agentRow) agentState() (*AgentState, error) {
	a := &AgentState{
		AgentID:       r.AgentID,
		Status:        AgentStatus(r.Status),
		CurrentTaskID: r.CurrentTaskID,
		LastHeartbeat: parseTime(r.LastHeartbeat),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) GetAgentState(agentID string) (*AgentState, error) {
	var r agentRow
	err := s.db.Get(&r, `SELECT * FROM agent_states WHERE agent_id = ?`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent state: %w", err)
	}
	return r.agentState()
}

func (s *SQLiteStore) PutAgentState(a *AgentState) error {
	if a == nil || a.AgentID == "" {
		return ErrInvalidEntity
	}
	_, err := s.db.Exec(
		`INSERT INTO agent_states (agent_id, status, current_task_id, last_heartbeat, metadata, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			current_task_id = excluded.current_task_id,
			last_heartbeat = excluded.last_heartbeat,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		a.AgentID, string(a.Status), a.CurrentTaskID,
		formatTime(a.LastHeartbeat), encodeJSON(a.Metadata, "{}"), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put agent state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateAgentState(agentID string, status AgentStatus, currentTaskID string, metadata map[string]string) error {
	if agentID == "" {
		return ErrInvalidEntity
	}
	a, err := s.GetAgentState(agentID)
	if errors.Is(err, ErrNotFound) {
		a = &AgentState{AgentID: agentID}
	} else if err != nil {
		return err
	}
	a.Status = status
	a.CurrentTaskID = currentTaskID
	a.Metadata = mergeMeta(a.Metadata, metadata)
	a.UpdatedAt = time.Now().UTC()
	return s.PutAgentState(a)
}

func (s *SQLiteStore) DeleteAgentState(agentID string) error {
	if _, err := s.db.Exec(`DELETE FROM agent_states WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("delete agent state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AllAgentStates() ([]*AgentState, error) {
	var rows []agentRow
	if err := s.db.Select(&rows, `SELECT * FROM agent_states ORDER BY agent_id`); err != nil {
		return nil, fmt.Errorf("select agent states: %w", err)
	}
	out := make([]*AgentState, 0, len(rows))
	for _, r := range rows {
		a, err := r.agentState()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLiteStore) RecordHeartbeat(agentID string, at time.Time) error {
	if agentID == "" {
		return ErrInvalidEntity
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO agent_states (agent_id, status, last_heartbeat, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			last_heartbeat = excluded.last_heartbeat,
			updated_at = excluded.updated_at`,
		agentID, string(AgentListening), formatTime(at), formatTime(now))
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

// --- activity log ---

type activityRow struct {
	LogID        string `db:"log_id"`
	AgentID      string `db:"agent_id"`
	ActivityType string `db:"activity_type"`
	Details      string `db:"details"`
	Timestamp    string `db:"timestamp"`
}

func (s *SQLiteStore) LogActivity(agentID, activityType string, details map[string]string) (string, error) {
	if agentID == "" || activityType == "" {
		return "", ErrInvalidEntity
	}
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO activity_log (log_id, agent_id, activity_type, details, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		id, agentID, activityType, encodeJSON(details, "{}"),
		formatTime(time.Now().UTC()))
	if err != nil {
		return "", fmt.Errorf("log activity: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) DeleteActivity(id string) error {
	if _, err := s.db.Exec(`DELETE FROM activity_log WHERE log_id = ?`, id); err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AgentActivities(agentID string, limit int) ([]*ActivityEntry, error) {
	query := `SELECT * FROM activity_log WHERE agent_id = ? ORDER BY timestamp DESC`
	args := []any{agentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []activityRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("select activities: %w", err)
	}
	out := make([]*ActivityEntry, 0, len(rows))
	for _, r := range rows {
		e := &ActivityEntry{
			ID:           r.LogID,
			AgentID:      r.AgentID,
			ActivityType: r.ActivityType,
			Timestamp:    parseTime(r.Timestamp),
		}
		if err := json.Unmarshal([]byte(r.Details), &e.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// --- work requests ---

type requestRow struct {
	RequestID string `db:"request_id"`
	FromRole  string `db:"from_role"`
	Type      string `db:"type"`
	Details   string `db:"details"`
	Status    string `db:"status"`
	CreatedAt string `db:"created_at"`
}

func (r requestRow) workRequest() (*WorkRequest, error) {
	w := &WorkRequest{
		ID:        r.RequestID,
		FromRole:  r.FromRole,
		Type:      r.Type,
		Status:    r.Status,
		CreatedAt: parseTime(r.CreatedAt),
	}
	if err := json.Unmarshal([]byte(r.Details), &w.Details); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return w, nil
}

func (s *SQLiteStore) CreateWorkRequest(r *WorkRequest) (*WorkRequest, bool, error) {
	if r == nil || r.ID == "" {
		return nil, false, ErrInvalidEntity
	}

	c := r.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = RequestPending
	}

	res, err := s.db.Exec(
		`INSERT INTO work_requests (request_id, from_role, type, details, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO NOTHING`,
		c.ID, c.FromRole, c.Type, encodeJSON(c.Details, "{}"), c.Status, formatTime(c.CreatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("create work request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := s.GetWorkRequest(c.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return c, true, nil
}

func (s *SQLiteStore) GetWorkRequest(id string) (*WorkRequest, error) {
	var r requestRow
	err := s.db.Get(&r, `SELECT * FROM work_requests WHERE request_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get work request: %w", err)
	}
	return r.workRequest()
}

func (s *SQLiteStore) PutWorkRequest(r *WorkRequest) error {
	if r == nil || r.ID == "" {
		return ErrInvalidEntity
	}
	_, err := s.db.Exec(
		`INSERT INTO work_requests (request_id, from_role, type, details, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET
			from_role = excluded.from_role,
			type = excluded.type,
			details = excluded.details,
			status = excluded.status,
			created_at = excluded.created_at`,
		r.ID, r.FromRole, r.Type, encodeJSON(r.Details, "{}"), r.Status, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("put work request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteWorkRequest(id string) error {
	if _, err := s.db.Exec(`DELETE FROM work_requests WHERE request_id = ?`, id); err != nil {
		return fmt.Errorf("delete work request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateWorkRequestStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE work_requests SET status = ? WHERE request_id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update work request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) PendingWorkRequests() ([]*WorkRequest, error) {
	var rows []requestRow
	if err := s.db.Select(&rows, `SELECT * FROM work_requests WHERE status = ? ORDER BY created_at`, RequestPending); err != nil {
		return nil, fmt.Errorf("select work requests: %w", err)
	}
	out := make([]*WorkRequest, 0, len(rows))
	for _, r := range rows {
		w, err := r.workRequest()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

var _ Store = (*SQLiteStore)(nil)
