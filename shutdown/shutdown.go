package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrStopFailed indicates one or more components failed to stop.
	ErrStopFailed = errors.New("one or more components failed to stop")
)

// Teardown phases, in stop order.
const (
	// PhaseConsumers stops consumer loops so no new deliveries arrive.
	PhaseConsumers = 10

	// PhaseHeartbeat stops heartbeat writers and monitors.
	PhaseHeartbeat = 20

	// PhaseBroker closes broker connections.
	PhaseBroker = 30

	// PhaseStore closes the state store. Always last.
	PhaseStore = 40
)

// StopFunc stops one component. The context is cancelled when the
// shutdown timeout is reached.
type StopFunc func(ctx context.Context) error

type registration struct {
	name  string
	phase int
	stop  StopFunc
}

// Coordinator runs registered stop functions phase by phase.
type Coordinator struct {
	timeout time.Duration

	mu       sync.Mutex
	handlers []registration

	once       sync.Once
	err        error
	done       chan struct{}
	signalChan chan os.Signal
}

// NewCoordinator creates a coordinator. timeout bounds the whole teardown;
// zero means 30 seconds.
func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{
		timeout:    timeout,
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// Register adds a component to stop in the given phase.
func (c *Coordinator) Register(name string, phase int, stop StopFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, stop: stop})
}

// Shutdown runs the teardown once. Later calls return the first result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})

	select {
	case <-c.done:
		return c.err
	default:
		return ErrAlreadyShutdown
	}
}

// ShutdownWithTimeout runs the teardown under the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c.signalChan
		_ = c.ShutdownWithTimeout()
	}()
}

// Trigger initiates shutdown as if a signal arrived.
func (c *Coordinator) Trigger() {
	select {
	case c.signalChan <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when teardown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the teardown result. Nil until Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var failed bool
	for start := 0; start < len(handlers); {
		end := start
		for end < len(handlers) && handlers[end].phase == handlers[start].phase {
			end++
		}

		select {
		case <-ctx.Done():
			return ErrTimeout
		default:
		}

		if c.runPhase(ctx, handlers[start:end]) {
			failed = true
		}
		start = end
	}

	if failed {
		return ErrStopFailed
	}
	return nil
}

// runPhase stops one phase's components concurrently and reports whether
// any failed. A failure never stops the teardown; later phases still run.
func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) bool {
	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()
			errs[idx] = r.stop(ctx)
		}(i, reg)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return true
		}
	}
	return false
}
