package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/logging"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	m := New(time.Second, logging.Discard())

	var order []string
	for _, name := range []string{"store", "relay", "http"} {
		name := name
		m.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if failed := m.Shutdown(); failed != 0 {
		t.Fatalf("Expected no failures, got %d", failed)
	}
	want := []string{"http", "relay", "store"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, order)
		}
	}
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	m := New(time.Second, nil)
	ran := false
	m.Register("first", func(context.Context) error {
		ran = true
		return nil
	})
	m.Register("broken", CloseResource(closerFunc(func() error { return errors.New("boom") }), "broken"))

	if failed := m.Shutdown(); failed != 1 {
		t.Errorf("Expected 1 failure, got %d", failed)
	}
	if !ran {
		t.Error("Steps after a failure should still run")
	}
}

func TestDrainTimesOut(t *testing.T) {
	m := New(10*time.Millisecond, nil)
	m.Register("relay", Drain(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, "relay deliveries"))

	if failed := m.Shutdown(); failed != 1 {
		t.Errorf("Expected the drain to time out, got %d failures", failed)
	}
}

func TestWaitReturnsOnContext(t *testing.T) {
	m := New(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Wait(ctx)

	select {
	case <-m.Done():
	default:
		t.Error("Done should be closed after Wait returns")
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
