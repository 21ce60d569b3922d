package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaykit/relaykit/logging"
	"github.com/relaykit/relaykit/state"
)

// Monitor polls the store and reports agents whose heartbeat went stale.
// A dead agent is reported once; any fresh heartbeat clears the report so
// a recovered agent that dies again is reported again.
type Monitor struct {
	store         state.Store
	timeout       time.Duration
	checkInterval time.Duration
	log           *logging.Logger

	mu       sync.RWMutex
	deadCBs  []func(agentID string)
	reported map[string]bool

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a heartbeat monitor over the store.
func NewMonitor(store state.Store, cfg MonitorConfig, log *logging.Logger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMonitorConfig().Timeout
	}
	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultMonitorConfig().CheckInterval
	}
	if log == nil {
		log = logging.New()
	}

	return &Monitor{
		store:         store,
		timeout:       timeout,
		checkInterval: checkInterval,
		log:           log.WithComponent("heartbeat"),
		reported:      make(map[string]bool),
	}, nil
}

// OnDead registers a callback invoked once per detected death.
func (m *Monitor) OnDead(callback func(agentID string)) {
	m.mu.Lock()
	m.deadCBs = append(m.deadCBs, callback)
	m.mu.Unlock()
}

// Start begins periodic staleness sweeps.
func (m *Monitor) Start(ctx context.Context) error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(ctx)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.running.Store(false)
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckNow()
		}
	}
}

// CheckNow runs one staleness sweep immediately.
func (m *Monitor) CheckNow() {
	agents, err := m.store.AllAgentStates()
	if err != nil {
		m.log.Warn("liveness_sweep_failed", map[string]any{"error": err.Error()})
		return
	}

	now := time.Now()
	var dead []string

	m.mu.Lock()
	for _, a := range agents {
		if a.Status == state.AgentStopped {
			continue
		}
		stale := now.Sub(a.LastHeartbeat) > m.timeout
		if stale && !m.reported[a.AgentID] {
			m.reported[a.AgentID] = true
			dead = append(dead, a.AgentID)
		}
		if !stale {
			delete(m.reported, a.AgentID)
		}
	}
	callbacks := make([]func(string), len(m.deadCBs))
	copy(callbacks, m.deadCBs)
	m.mu.Unlock()

	for _, agentID := range dead {
		m.log.Warn("agent_presumed_dead", map[string]any{
			"agent_id": agentID,
			"timeout":  m.timeout.String(),
		})
		for _, cb := range callbacks {
			cb(agentID)
		}
	}
}

// IsAlive reports whether the agent's heartbeat is within the timeout.
// An agent the store has never seen is not alive.
func (m *Monitor) IsAlive(agentID string) bool {
	a, err := m.store.GetAgentState(agentID)
	if err != nil {
		return false
	}
	return time.Since(a.LastHeartbeat) <= m.timeout
}

// Stop stops the monitor.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	close(m.stopCh)
	<-m.doneCh
	return nil
}
