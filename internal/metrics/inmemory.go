package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	EventsTracked       map[string]uint64
	EventsDropped       map[string]uint64
	BatchSends          map[string]uint64
	SendFailures        map[string]uint64
	HealthProbes        map[string]uint64
	BatchSizeCount      uint64
	BatchSizeTotal      uint64
	SendDurationCount   uint64
	SendDurationTotalNs int64
	QueueDepth          int64
	CircuitOpen         bool
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu            sync.Mutex
	eventsTracked map[string]uint64
	eventsDropped map[string]uint64
	batchSends    map[string]uint64
	sendFailures  map[string]uint64
	healthProbes  map[string]uint64

	batchSizeCount      uint64
	batchSizeTotal      uint64
	sendDurationCount   uint64
	sendDurationTotalNs int64
	queueDepth          int64
	circuitOpen         atomic.Bool
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		eventsTracked: make(map[string]uint64),
		eventsDropped: make(map[string]uint64),
		batchSends:    make(map[string]uint64),
		sendFailures:  make(map[string]uint64),
		healthProbes:  make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		EventsTracked:       copyCounts(m.eventsTracked),
		EventsDropped:       copyCounts(m.eventsDropped),
		BatchSends:          copyCounts(m.batchSends),
		SendFailures:        copyCounts(m.sendFailures),
		HealthProbes:        copyCounts(m.healthProbes),
		BatchSizeCount:      m.batchSizeCount,
		BatchSizeTotal:      m.batchSizeTotal,
		SendDurationCount:   m.sendDurationCount,
		SendDurationTotalNs: m.sendDurationTotalNs,
		QueueDepth:          m.queueDepth,
		CircuitOpen:         m.circuitOpen.Load(),
	}
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// IncEventTracked increments the tracked-event counter for a kind.
func (m *InMemoryRecorder) IncEventTracked(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsTracked[kind]++
}

// IncEventDropped increments the dropped-event counter for a reason.
func (m *InMemoryRecorder) IncEventDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsDropped[reason]++
}

// IncBatchSend increments the batch send counter for a status.
func (m *InMemoryRecorder) IncBatchSend(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchSends[status]++
}

// ObserveBatchSize records a batch size observation.
func (m *InMemoryRecorder) ObserveBatchSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchSizeCount++
	m.batchSizeTotal += uint64(size)
}

// ObserveSendDuration records a send duration observation.
func (m *InMemoryRecorder) ObserveSendDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendDurationCount++
	m.sendDurationTotalNs += duration.Nanoseconds()
}

// SetQueueDepth records the current queue depth.
func (m *InMemoryRecorder) SetQueueDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = int64(depth)
}

// IncSendFailure increments the failure counter for a reason.
func (m *InMemoryRecorder) IncSendFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFailures[reason]++
}

// SetCircuitOpen records whether the delivery circuit is open.
func (m *InMemoryRecorder) SetCircuitOpen(open bool) {
	m.circuitOpen.Store(open)
}

// IncHealthProbe increments the health probe counter for a status.
func (m *InMemoryRecorder) IncHealthProbe(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthProbes[status]++
}
