package state

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with in-memory maps.
// Useful for testing and single-process scenarios.
type MemoryStore struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	agents     map[string]*AgentState
	activities map[string]*ActivityEntry
	requests   map[string]*WorkRequest
	closed     atomic.Bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*Task),
		agents:     make(map[string]*AgentState),
		activities: make(map[string]*ActivityEntry),
		requests:   make(map[string]*WorkRequest),
	}
}

// Close marks the store closed. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// --- tasks ---

func (s *MemoryStore) CreateTaskIfAbsent(t *Task) (*Task, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}
	if t == nil || t.ID == "" {
		return nil, false, ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[t.ID]; ok {
		return existing.Clone(), false, nil
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
	s.tasks[c.ID] = c
	return c.Clone(), true, nil
}

func (s *MemoryStore) GetTask(id string) (*Task, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) PutTask(t *Task) error {
	if err := s.check(); err != nil {
		return err
	}
	if t == nil || t.ID == "" {
		return ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) UpdateTaskStatus(id string, status TaskStatus, metadata map[string]string) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.Metadata = mergeMeta(t.Metadata, metadata)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteTask(id string) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) TasksByStatus(status TaskStatus) ([]*Task, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *MemoryStore) TasksByAgent(agentID string) ([]*Task, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, t := range s.tasks {
		if t.AssignedTo == agentID {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

// --- agent states ---

func (s *MemoryStore) GetAgentState(agentID string) (*AgentState, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) PutAgentState(a *AgentState) error {
	if err := s.check(); err != nil {
		return err
	}
	if a == nil || a.AgentID == "" {
		return ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.AgentID] = a.Clone()
	return nil
}

func (s *MemoryStore) UpdateAgentState(agentID string, status AgentStatus, currentTaskID string, metadata map[string]string) error {
	if err := s.check(); err != nil {
		return err
	}
	if agentID == "" {
		return ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		a = &AgentState{AgentID: agentID}
		s.agents[agentID] = a
	}
	a.Status = status
	a.CurrentTaskID = currentTaskID
	a.Metadata = mergeMeta(a.Metadata, metadata)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteAgentState(agentID string) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentID)
	return nil
}

func (s *MemoryStore) AllAgentStates() ([]*AgentState, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*AgentState, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *MemoryStore) RecordHeartbeat(agentID string, at time.Time) error {
	if err := s.check(); err != nil {
		return err
	}
	if agentID == "" {
		return ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		a = &AgentState{AgentID: agentID, Status: AgentListening}
		s.agents[agentID] = a
	}
	a.LastHeartbeat = at.UTC()
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// --- activity log ---

func (s *MemoryStore) LogActivity(agentID, activityType string, details map[string]string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	if agentID == "" || activityType == "" {
		return "", ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &ActivityEntry{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		ActivityType: activityType,
		Details:      cloneMap(details),
		Timestamp:    time.Now().UTC(),
	}
	s.activities[e.ID] = e
	return e.ID, nil
}

func (s *MemoryStore) DeleteActivity(id string) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activities, id)
	return nil
}

func (s *MemoryStore) AgentActivities(agentID string, limit int) ([]*ActivityEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ActivityEntry
	for _, e := range s.activities {
		if e.AgentID == agentID {
			c := *e
			c.Details = cloneMap(e.Details)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- work requests ---

func (s *MemoryStore) CreateWorkRequest(r *WorkRequest) (*WorkRequest, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}
	if r == nil || r.ID == "" {
		return nil, false, ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.requests[r.ID]; ok {
		return existing.Clone(), false, nil
	}

	c := r.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = RequestPending
	}
	s.requests[c.ID] = c
	return c.Clone(), true, nil
}

func (s *MemoryStore) GetWorkRequest(id string) (*WorkRequest, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) PutWorkRequest(r *WorkRequest) error {
	if err := s.check(); err != nil {
		return err
	}
	if r == nil || r.ID == "" {
		return ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) DeleteWorkRequest(id string) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
	return nil
}

func (s *MemoryStore) UpdateWorkRequestStatus(id, status string) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

func (s *MemoryStore) PendingWorkRequests() ([]*WorkRequest, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*WorkRequest
	for _, r := range s.requests {
		if r.Status == RequestPending {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func sortTasks(ts []*Task) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}

var _ Store = (*MemoryStore)(nil)
