package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/domainpulse/domainpulse-agent/internal/metrics"
)

func TestFailureTracker_BelowThreshold(t *testing.T) {
	tracker := NewFailureTracker(3, nil, nil, slog.Default(), metrics.NewNoop())

	for i := 1; i <= 2; i++ {
		if crossed := tracker.RegisterFailure(context.Background(), FailureContext{Reason: "send"}); crossed {
			t.Errorf("failure %d should not cross threshold", i)
		}
	}
	if got := tracker.ConsecutiveFailures(); got != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", got)
	}
	if tracker.ThresholdReached() {
		t.Error("threshold should not be reached")
	}
}

func TestFailureTracker_DisableFiresExactlyOnce(t *testing.T) {
	var disableCalls, persistCalls atomic.Int64
	disable := func(ctx context.Context, reason string) error {
		disableCalls.Add(1)
		return nil
	}
	persist := func(ctx context.Context) error {
		persistCalls.Add(1)
		return nil
	}

	tracker := NewFailureTracker(3, disable, persist, slog.Default(), metrics.NewNoop())

	results := make([]bool, 0, 5)
	for i := 0; i < 5; i++ {
		results = append(results, tracker.RegisterFailure(context.Background(), FailureContext{Reason: "send"}))
	}

	want := []bool{false, false, true, false, false}
	for i, got := range results {
		if got != want[i] {
			t.Errorf("failure %d: crossed = %v, want %v", i+1, got, want[i])
		}
	}
	if disableCalls.Load() != 1 {
		t.Errorf("disable called %d times, want exactly 1", disableCalls.Load())
	}
	if persistCalls.Load() != 1 {
		t.Errorf("persist called %d times, want exactly 1", persistCalls.Load())
	}
	if !tracker.ThresholdReached() {
		t.Error("threshold should stay reached until reset")
	}
}

func TestFailureTracker_DisableErrorSwallowed(t *testing.T) {
	disable := func(ctx context.Context, reason string) error {
		return errors.New("disable failed")
	}
	tracker := NewFailureTracker(1, disable, nil, slog.Default(), metrics.NewNoop())

	// Must not panic and still report the crossing.
	if crossed := tracker.RegisterFailure(context.Background(), FailureContext{Reason: "send"}); !crossed {
		t.Error("expected threshold crossing despite disable error")
	}
}

func TestFailureTracker_ResetIdempotent(t *testing.T) {
	var disableCalls atomic.Int64
	disable := func(ctx context.Context, reason string) error {
		disableCalls.Add(1)
		return nil
	}
	tracker := NewFailureTracker(2, disable, nil, slog.Default(), metrics.NewNoop())

	tracker.RegisterFailure(context.Background(), FailureContext{Reason: "send"})
	tracker.RegisterFailure(context.Background(), FailureContext{Reason: "send"})

	tracker.Reset()
	first := tracker.State()
	tracker.Reset()
	second := tracker.State()

	if first != second {
		t.Errorf("reset not idempotent: %+v != %+v", first, second)
	}
	if first.ConsecutiveFailures != 0 || first.ThresholdReached {
		t.Errorf("state after reset = %+v, want zeroed", first)
	}

	// The breach can fire again after an explicit reset.
	tracker.RegisterFailure(context.Background(), FailureContext{Reason: "send"})
	tracker.RegisterFailure(context.Background(), FailureContext{Reason: "send"})
	if disableCalls.Load() != 2 {
		t.Errorf("disable called %d times, want 2 (once per breach)", disableCalls.Load())
	}
}

func TestFailureTracker_DefaultThreshold(t *testing.T) {
	tracker := NewFailureTracker(0, nil, nil, slog.Default(), metrics.NewNoop())

	for i := 0; i < DefaultMaxFailures-1; i++ {
		if tracker.RegisterFailure(context.Background(), FailureContext{Reason: "send"}) {
			t.Fatalf("crossed threshold at failure %d", i+1)
		}
	}
	if !tracker.RegisterFailure(context.Background(), FailureContext{Reason: "send"}) {
		t.Errorf("expected threshold crossing at failure %d", DefaultMaxFailures)
	}
}
