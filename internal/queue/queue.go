// Package queue implements the at-least-once delivery pipeline for
// activity events: a bounded, persisted FIFO buffer with batched sends,
// consecutive-failure circuit breaking, and health-probe gated resumption.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/domainpulse/domainpulse-agent/internal/backend"
	"github.com/domainpulse/domainpulse-agent/internal/exclusion"
	"github.com/domainpulse/domainpulse-agent/internal/metrics"
	"github.com/domainpulse/domainpulse-agent/internal/model"
	"github.com/domainpulse/domainpulse-agent/internal/storage"
)

const (
	// DefaultMaxQueueSize caps the in-memory queue.
	DefaultMaxQueueSize = 1000
	// DefaultBatchSize is the maximum events removed per send attempt.
	// Reaching it also triggers an eager flush ahead of the batch timer.
	DefaultBatchSize = 50
	// DefaultOverflowTrimFraction is the share of the queue evicted from
	// the front when capacity is exceeded.
	DefaultOverflowTrimFraction = 0.2
	// DefaultHealthPollInterval is the period of the half-open probe loop
	// after the circuit breaks.
	DefaultHealthPollInterval = 60 * time.Second
)

// Sender is the backend capability consumed by the queue.
type Sender interface {
	SendEvents(ctx context.Context, events []model.Event) backend.SendResult
	CheckHealth(ctx context.Context) backend.HealthResult
	BaseURL() string
}

// StatsRecorder receives every event admitted to the queue.
type StatsRecorder interface {
	RecordEvent(event model.Event)
}

// Config tunes the queue. Zero values select defaults.
type Config struct {
	MaxQueueSize         int
	BatchSize            int
	OverflowTrimFraction float64
	RetryDelay           time.Duration
	HealthPollInterval   time.Duration
	MaxFailures          int
}

// Deps are the collaborators the queue is constructed with.
type Deps struct {
	Backend    Sender
	Store      storage.Store
	Exclusions *exclusion.Set
	Stats      StatsRecorder // optional
	Disable    DisableFunc   // optional, fired on threshold breach
	Logger     *slog.Logger
	Metrics    metrics.Recorder // optional
}

// EventQueue owns the pending event buffer and orchestrates delivery.
type EventQueue struct {
	cfg      Config
	backend  Sender
	store    storage.Store
	excl     *exclusion.Set
	stats    StatsRecorder
	failures *FailureTracker
	logger   *slog.Logger
	metrics  metrics.Recorder

	mu            sync.Mutex
	events        []model.Event
	flushing      bool
	online        bool
	closed        bool
	retryTimer    *time.Timer
	healthStop    chan struct{}
	healthRunning bool
}

// New validates the collaborators and builds an EventQueue. The queue
// starts online with an empty buffer; call Restore to reload persisted
// state.
func New(cfg Config, deps Deps) (*EventQueue, error) {
	if deps.Backend == nil {
		return nil, errors.New("queue: backend is required")
	}
	if deps.Store == nil {
		return nil, errors.New("queue: store is required")
	}
	if deps.Exclusions == nil {
		return nil, errors.New("queue: exclusion set is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("queue: logger is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}

	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.OverflowTrimFraction <= 0 || cfg.OverflowTrimFraction >= 1 {
		cfg.OverflowTrimFraction = DefaultOverflowTrimFraction
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = DefaultHealthPollInterval
	}

	q := &EventQueue{
		cfg:     cfg,
		backend: deps.Backend,
		store:   deps.Store,
		excl:    deps.Exclusions,
		stats:   deps.Stats,
		logger:  deps.Logger.With("component", "queue.events"),
		metrics: deps.Metrics,
		online:  true,
	}
	q.failures = NewFailureTracker(cfg.MaxFailures, deps.Disable, q.persistAction, deps.Logger, deps.Metrics)

	return q, nil
}

// AddEvent records one activity observation. Excluded domains are dropped
// silently. When the buffer is full the oldest events are evicted to admit
// the new one; newer data wins over older data. Reaching the batch size
// triggers an eager flush, the one path that bypasses the batch timer.
func (q *EventQueue) AddEvent(ctx context.Context, kind model.ActivityKind, domain string) {
	if q.excl.IsExcluded(domain) {
		q.metrics.IncEventDropped("excluded")
		return
	}

	event := model.NewEvent(kind, domain)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	trimmed := 0
	if len(q.events) >= q.cfg.MaxQueueSize {
		trimmed = int(float64(q.cfg.MaxQueueSize) * q.cfg.OverflowTrimFraction)
		if trimmed < 1 {
			trimmed = 1
		}
		if trimmed > len(q.events) {
			trimmed = len(q.events)
		}
		q.events = append([]model.Event{}, q.events[trimmed:]...)
	}
	q.events = append(q.events, event)
	depth := len(q.events)
	q.mu.Unlock()

	q.metrics.IncEventTracked(string(kind))
	q.metrics.SetQueueDepth(depth)
	if q.stats != nil {
		q.stats.RecordEvent(event)
	}

	if trimmed > 0 {
		q.logger.Warn("queue overflow, oldest events evicted",
			"evicted", trimmed,
			"max_queue_size", q.cfg.MaxQueueSize,
		)
		for i := 0; i < trimmed; i++ {
			q.metrics.IncEventDropped("overflow")
		}
		q.persist(ctx)
	}

	if depth >= q.cfg.BatchSize {
		go q.ProcessQueue(context.WithoutCancel(ctx))
	}
}

// ProcessQueue attempts to deliver one batch from the front of the queue.
// Invocations are serialized by an in-flight guard: a call that overlaps a
// running flush returns immediately. Failures never escape; they feed the
// failure tracker and either schedule a retry or open the circuit.
func (q *EventQueue) ProcessQueue(ctx context.Context) {
	q.mu.Lock()
	if q.closed || q.flushing || len(q.events) == 0 {
		q.mu.Unlock()
		return
	}
	q.flushing = true
	online := q.online
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}()

	// Offline still counts as a failed attempt so a sustained offline
	// period eventually trips the breaker instead of retrying forever.
	if !online {
		q.failures.RegisterFailure(ctx, FailureContext{
			Reason:  "offline",
			Code:    "offline",
			Message: "agent is offline",
		})
		q.metrics.IncSendFailure("offline")
		q.persist(ctx)
		return
	}

	// Circuit open: no point retrying a send, probe health instead.
	if q.failures.ThresholdReached() {
		if !q.tryRecover(ctx) {
			return
		}
	}

	q.mu.Lock()
	n := min(q.cfg.BatchSize, len(q.events))
	batch := make([]model.Event, n)
	copy(batch, q.events[:n])
	q.events = append([]model.Event{}, q.events[n:]...)
	depth := len(q.events)
	q.mu.Unlock()
	q.metrics.SetQueueDepth(depth)

	// Exceptions may have changed since these events were enqueued.
	// Events matching a now-excluded domain are dropped for good.
	surviving, skipped := q.excl.Filter(batch)
	if skipped > 0 {
		q.logger.Info("dropped queued events for excluded domains", "dropped", skipped)
		for i := 0; i < skipped; i++ {
			q.metrics.IncEventDropped("refiltered")
		}
	}
	if len(surviving) == 0 {
		q.persist(ctx)
		return
	}

	q.metrics.ObserveBatchSize(len(surviving))
	result := q.backend.SendEvents(ctx, surviving)

	if result.Success {
		q.persist(ctx)
		q.failures.Reset()
		q.logger.Info("batch delivered",
			"events_count", len(surviving),
			"queue_depth", depth,
		)
		return
	}

	// Undo the removal: surviving events go back to the front in their
	// original relative order.
	q.mu.Lock()
	requeued := make([]model.Event, 0, len(surviving)+len(q.events))
	requeued = append(requeued, surviving...)
	requeued = append(requeued, q.events...)
	q.events = requeued
	depth = len(q.events)
	q.mu.Unlock()
	q.metrics.SetQueueDepth(depth)
	q.persist(ctx)

	crossed := q.failures.RegisterFailure(ctx, FailureContext{
		Reason:  "send",
		Status:  result.Status,
		Code:    result.Code,
		URL:     q.backend.BaseURL(),
		Message: result.Err,
	})
	if crossed {
		q.startHealthPoll()
		return
	}
	q.scheduleRetry()
}

// tryRecover runs the half-open probe. On success the counters reset and
// the caller may proceed to send; on failure the poll loop is (re)started
// and the caller must back off.
func (q *EventQueue) tryRecover(ctx context.Context) bool {
	result := q.backend.CheckHealth(ctx)
	if result.Success {
		q.failures.Reset()
		q.stopHealthPoll()
		q.logger.Info("backend recovered, resuming delivery")
		return true
	}
	q.startHealthPoll()
	return false
}

// scheduleRetry arms a one-shot retry. A previously scheduled retry is
// cancelled first; at most one retry timer is outstanding.
func (q *EventQueue) scheduleRetry() {
	delay := RetryDelayWithJitter(q.cfg.RetryDelay)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if q.retryTimer != nil {
		q.retryTimer.Stop()
	}
	q.retryTimer = time.AfterFunc(delay, func() {
		q.ProcessQueue(context.Background())
	})
	q.mu.Unlock()

	q.logger.Debug("retry scheduled", "delay", delay)
}

// startHealthPoll launches the half-open probe loop. No-op if already
// polling.
func (q *EventQueue) startHealthPoll() {
	q.mu.Lock()
	if q.closed || q.healthRunning {
		q.mu.Unlock()
		return
	}
	q.healthRunning = true
	q.healthStop = make(chan struct{})
	stop := q.healthStop
	q.mu.Unlock()

	q.logger.Info("health polling started", "interval", q.cfg.HealthPollInterval)
	go q.healthLoop(stop)
}

// stopHealthPoll cancels the probe loop. Safe to call when not polling.
func (q *EventQueue) stopHealthPoll() {
	q.mu.Lock()
	if !q.healthRunning {
		q.mu.Unlock()
		return
	}
	q.healthRunning = false
	close(q.healthStop)
	q.healthStop = nil
	q.mu.Unlock()
}

// healthLoop probes the backend until it recovers, then resumes delivery.
func (q *EventQueue) healthLoop(stop chan struct{}) {
	ticker := time.NewTicker(q.cfg.HealthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			result := q.backend.CheckHealth(context.Background())
			if !result.Success {
				continue
			}
			q.failures.Reset()
			q.stopHealthPoll()
			q.logger.Info("backend recovered, resuming delivery")
			if q.Size() > 0 {
				go q.ProcessQueue(context.Background())
			}
			return
		}
	}
}

// SetDomainExceptions replaces the exception set and retroactively purges
// matching events already queued. Returns the resulting set size and the
// number of pending events removed.
func (q *EventQueue) SetDomainExceptions(ctx context.Context, domains []string) (count, removed int) {
	count = q.excl.Replace(domains)

	q.mu.Lock()
	before := len(q.events)
	kept, _ := q.excl.Filter(q.events)
	q.events = kept
	removed = before - len(kept)
	depth := len(q.events)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	for i := 0; i < removed; i++ {
		q.metrics.IncEventDropped("refiltered")
	}

	if err := q.store.Save(ctx, storage.KeyExceptions, q.excl.Snapshot()); err != nil {
		q.logger.Warn("failed to persist domain exceptions", "error", err)
	}
	q.persist(ctx)

	q.logger.Info("domain exceptions updated",
		"count", count,
		"removed_from_queue", removed,
	)
	return count, removed
}

// SetOnlineStatus updates the connectivity flag. A false-to-true edge
// with a non-empty queue triggers an immediate flush.
func (q *EventQueue) SetOnlineStatus(online bool) {
	q.mu.Lock()
	was := q.online
	q.online = online
	depth := len(q.events)
	q.mu.Unlock()

	if online && !was {
		q.logger.Info("agent back online", "queue_depth", depth)
		if depth > 0 {
			go q.ProcessQueue(context.Background())
		}
	}
}

// Online reports the current connectivity flag.
func (q *EventQueue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Size returns the current queue depth.
func (q *EventQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// FailureState returns a snapshot of the failure counters.
func (q *EventQueue) FailureState() model.FailureState {
	return q.failures.State()
}

// ResetFailureState clears the failure counters and cancels any scheduled
// retry or health poll. Idempotent.
func (q *EventQueue) ResetFailureState() {
	q.failures.Reset()

	q.mu.Lock()
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.mu.Unlock()
	q.stopHealthPoll()
}

// Restore reloads the persisted queue and exception set. Called once at
// startup; a store that has never been written yields an empty queue.
func (q *EventQueue) Restore(ctx context.Context) error {
	var events []model.Event
	if err := q.store.Load(ctx, storage.KeyQueue, &events); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	var domains []string
	if err := q.store.Load(ctx, storage.KeyExceptions, &domains); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if len(domains) > 0 {
		q.excl.Replace(domains)
	}

	// Events for domains excluded while the agent was down are purged here.
	kept, skipped := q.excl.Filter(events)
	if len(kept) > q.cfg.MaxQueueSize {
		kept = kept[len(kept)-q.cfg.MaxQueueSize:]
	}

	q.mu.Lock()
	q.events = kept
	depth := len(q.events)
	q.mu.Unlock()
	q.metrics.SetQueueDepth(depth)

	q.logger.Info("queue restored",
		"events_count", depth,
		"purged", skipped,
		"exceptions", len(domains),
	)
	return nil
}

// Close cancels timers and the health poll and stops accepting events.
func (q *EventQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.mu.Unlock()
	q.stopHealthPoll()
}

// persist mirrors the queue to storage. Persistence failures are logged
// and swallowed; the in-memory queue remains authoritative.
func (q *EventQueue) persist(ctx context.Context) {
	q.mu.Lock()
	snapshot := make([]model.Event, len(q.events))
	copy(snapshot, q.events)
	q.mu.Unlock()

	if err := q.store.Save(ctx, storage.KeyQueue, snapshot); err != nil {
		q.logger.Warn("failed to persist queue", "error", err)
	}
}

// persistAction adapts persist to the failure tracker's PersistFunc.
func (q *EventQueue) persistAction(ctx context.Context) error {
	q.persist(ctx)
	return nil
}
