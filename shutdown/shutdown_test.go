package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestShutdownRunsPhasesInOrder(t *testing.T) {
	c := NewCoordinator(time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) StopFunc {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// Registered out of order on purpose.
	c.Register("store", PhaseStore, record("store"))
	c.Register("consumers", PhaseConsumers, record("consumers"))
	c.Register("broker", PhaseBroker, record("broker"))
	c.Register("heartbeat", PhaseHeartbeat, record("heartbeat"))

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	want := []string{"consumers", "heartbeat", "broker", "store"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestShutdownContinuesPastFailure(t *testing.T) {
	c := NewCoordinator(time.Second)

	var storeStopped bool
	c.Register("broker", PhaseBroker, func(context.Context) error {
		return errors.New("connection already gone")
	})
	c.Register("store", PhaseStore, func(context.Context) error {
		storeStopped = true
		return nil
	})

	if err := c.Shutdown(context.Background()); !errors.Is(err, ErrStopFailed) {
		t.Errorf("Shutdown() error = %v, want ErrStopFailed", err)
	}
	if !storeStopped {
		t.Error("later phase did not run after failure")
	}
}

func TestShutdownOnce(t *testing.T) {
	c := NewCoordinator(time.Second)

	var stops int
	c.Register("store", PhaseStore, func(context.Context) error {
		stops++
		return nil
	})

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
	if stops != 1 {
		t.Errorf("stop calls = %d, want 1", stops)
	}
}

func TestShutdownTimeout(t *testing.T) {
	c := NewCoordinator(time.Second)

	c.Register("slow", PhaseConsumers, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.Register("store", PhaseStore, func(context.Context) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Shutdown(ctx)
	if err == nil {
		t.Fatal("Shutdown() succeeded despite stuck component")
	}
	if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrStopFailed) {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestTriggerInitiatesShutdown(t *testing.T) {
	c := NewCoordinator(time.Second)

	stopped := make(chan struct{})
	c.Register("consumers", PhaseConsumers, func(context.Context) error {
		close(stopped)
		return nil
	})

	c.HandleSignals()
	c.Trigger()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete after trigger")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("component was not stopped")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}
