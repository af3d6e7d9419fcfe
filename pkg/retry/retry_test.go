package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/remote"
)

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnRejection(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return &remote.Rejection{Status: 404, Message: "Key does not exist"}
	})
	if !remote.IsRejection(err) {
		t.Fatalf("Expected the rejection back, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Rejections must not be retried, got %d attempts", attempts)
	}
}

func TestDoGivesUp(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return errors.New("GET /units failed with status 503: unavailable")
	})
	if err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancellation, got %v", err)
	}
}
