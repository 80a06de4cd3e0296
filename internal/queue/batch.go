package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultBatchInterval is the period of the batch timer. The timer is the
// sole normal send trigger; queue size only guards against overflow. This
// bounds the backend request rate regardless of activity volume.
const DefaultBatchInterval = 30 * time.Second

// BatchProcessor fires the process callback on a fixed interval whenever
// the queue is non-empty.
type BatchProcessor struct {
	interval  time.Duration
	queueSize func() int
	process   func(ctx context.Context)
	logger    *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewBatchProcessor creates a stopped processor. interval <= 0 selects
// the default.
func NewBatchProcessor(interval time.Duration, queueSize func() int, process func(ctx context.Context), logger *slog.Logger) *BatchProcessor {
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	return &BatchProcessor{
		interval:  interval,
		queueSize: queueSize,
		process:   process,
		logger:    logger.With("component", "queue.batch"),
	}
}

// Start begins the repeating timer. No-op if already running.
func (b *BatchProcessor) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		return
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.run(b.stop, b.done)

	b.logger.Info("batch processor started", "interval", b.interval)
}

// Stop cancels the timer and waits for the loop to exit. Safe to call
// when not running.
func (b *BatchProcessor) Stop() {
	b.mu.Lock()
	stop, done := b.stop, b.done
	b.stop, b.done = nil, nil
	b.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	b.logger.Info("batch processor stopped")
}

// Running reports whether the timer is active.
func (b *BatchProcessor) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stop != nil
}

func (b *BatchProcessor) run(stop chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if b.queueSize() == 0 {
				continue
			}
			b.process(context.Background())
		}
	}
}
