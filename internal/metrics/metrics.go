// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the agent.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Event intake metrics
	IncEventTracked(kind string)   // kind: "active" or "inactive"
	IncEventDropped(reason string) // reason: "excluded", "overflow", "refiltered"

	// Delivery pipeline metrics
	IncBatchSend(status string) // status: "success" or "failed"
	ObserveBatchSize(size int)
	ObserveSendDuration(duration time.Duration)
	SetQueueDepth(depth int)

	// Circuit breaker metrics
	IncSendFailure(reason string) // reason: "network", "http", "offline", "config"
	SetCircuitOpen(open bool)
	IncHealthProbe(status string) // status: "success", "failed", "throttled"
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
