package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/relaykit/relaykit/logging"
	"github.com/relaykit/relaykit/state"
)

// Writer periodically refreshes one agent's heartbeat in the store.
type Writer struct {
	store    state.Store
	agentID  string
	interval time.Duration
	log      *logging.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWriter creates a heartbeat writer.
func NewWriter(store state.Store, cfg WriterConfig, log *logging.Logger) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultWriterConfig().Interval
	}
	if log == nil {
		log = logging.New()
	}

	return &Writer{
		store:    store,
		agentID:  cfg.AgentID,
		interval: interval,
		log:      log.WithComponent("heartbeat"),
	}, nil
}

// Start begins writing heartbeats at the configured interval.
func (w *Writer) Start(ctx context.Context) error {
	if w.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.run(ctx)
	return nil
}

// run is the main heartbeat loop.
func (w *Writer) run(ctx context.Context) {
	defer close(w.doneCh)

	// Write the first heartbeat immediately
	w.beat()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.running.Store(false)
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.beat()
		}
	}
}

// beat writes one heartbeat. Write failures are logged and the loop keeps
// going; a store that recovers picks the agent back up on the next tick.
func (w *Writer) beat() {
	if err := w.store.RecordHeartbeat(w.agentID, time.Now().UTC()); err != nil {
		w.log.Warn("heartbeat_write_failed", map[string]any{
			"agent_id": w.agentID,
			"error":    err.Error(),
		})
	}
}

// Stop stops the writer.
func (w *Writer) Stop() error {
	if !w.running.Swap(false) {
		return ErrNotStarted
	}
	close(w.stopCh)
	<-w.doneCh
	return nil
}

// AgentID returns the writer's agent ID.
func (w *Writer) AgentID() string {
	return w.agentID
}
