package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/domainpulse/domainpulse-agent/internal/metrics"
	"github.com/domainpulse/domainpulse-agent/internal/model"
)

// DefaultMaxFailures is the number of consecutive failed send attempts
// after which tracking is auto-disabled.
const DefaultMaxFailures = 5

// DisableFunc disables tracking when the failure threshold is crossed.
type DisableFunc func(ctx context.Context, reason string) error

// PersistFunc persists the current queue snapshot.
type PersistFunc func(ctx context.Context) error

// FailureContext carries the detail of a failed send attempt.
type FailureContext struct {
	Reason  string // "send", "offline"
	Status  int
	Code    string
	URL     string
	Message string
}

// FailureTracker counts consecutive send failures and fires the disable
// side effect exactly once per threshold breach.
type FailureTracker struct {
	logger  *slog.Logger
	metrics metrics.Recorder

	maxFailures  int
	disable      DisableFunc
	persistQueue PersistFunc

	mu                sync.Mutex
	consecutive       int
	thresholdReached  bool
	disableInProgress bool
}

// NewFailureTracker creates a tracker. maxFailures <= 0 selects the
// default threshold. disable and persistQueue may be nil.
func NewFailureTracker(maxFailures int, disable DisableFunc, persistQueue PersistFunc, logger *slog.Logger, recorder metrics.Recorder) *FailureTracker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &FailureTracker{
		logger:       logger.With("component", "queue.failures"),
		metrics:      recorder,
		maxFailures:  maxFailures,
		disable:      disable,
		persistQueue: persistQueue,
	}
}

// RegisterFailure records one failed send attempt. Returns true iff this
// call just crossed the threshold. Crossing the threshold invokes the
// disable and persist actions once; errors from either are logged and
// swallowed so a failed disable cannot crash the delivery path.
func (t *FailureTracker) RegisterFailure(ctx context.Context, fc FailureContext) bool {
	t.mu.Lock()
	t.consecutive++
	count := t.consecutive

	crossed := count >= t.maxFailures && !t.thresholdReached
	if crossed {
		t.thresholdReached = true
	}
	runDisable := crossed && !t.disableInProgress
	if runDisable {
		t.disableInProgress = true
	}
	t.mu.Unlock()

	t.logger.Warn("send attempt failed",
		"consecutive_failures", count,
		"reason", fc.Reason,
		"http_status", fc.Status,
		"code", fc.Code,
		"url", fc.URL,
		"error", fc.Message,
	)

	if !crossed {
		return false
	}

	t.logger.Error("failure threshold reached, disabling tracking",
		"consecutive_failures", count,
		"threshold", t.maxFailures,
	)
	t.metrics.SetCircuitOpen(true)

	if runDisable {
		if t.disable != nil {
			if err := t.disable(ctx, "consecutive send failures"); err != nil {
				t.logger.Error("disable tracking failed", "error", err)
			}
		}
		if t.persistQueue != nil {
			if err := t.persistQueue(ctx); err != nil {
				t.logger.Error("persist queue on disable failed", "error", err)
			}
		}
		t.mu.Lock()
		t.disableInProgress = false
		t.mu.Unlock()
	}

	return true
}

// Reset clears the failure counters. Callers invoke it defensively after
// every success, so an already-clean tracker resets silently with no side
// effects.
func (t *FailureTracker) Reset() {
	t.mu.Lock()
	dirty := t.consecutive != 0 || t.thresholdReached
	t.consecutive = 0
	t.thresholdReached = false
	t.mu.Unlock()

	if !dirty {
		return
	}
	t.metrics.SetCircuitOpen(false)
	t.logger.Debug("failure counters reset")
}

// ThresholdReached reports whether the circuit is open.
func (t *FailureTracker) ThresholdReached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.thresholdReached
}

// ConsecutiveFailures returns the current consecutive failure count.
func (t *FailureTracker) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutive
}

// State returns a snapshot of the failure counters.
func (t *FailureTracker) State() model.FailureState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.FailureState{
		ConsecutiveFailures: t.consecutive,
		ThresholdReached:    t.thresholdReached,
	}
}
