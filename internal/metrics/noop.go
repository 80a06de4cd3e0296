package metrics

import "time"

// NoopRecorder discards all metrics. Used when no backend is configured.
type NoopRecorder struct{}

// NewNoop returns a Recorder that does nothing.
func NewNoop() *NoopRecorder {
	return &NoopRecorder{}
}

// IncEventTracked does nothing.
func (n *NoopRecorder) IncEventTracked(kind string) {}

// IncEventDropped does nothing.
func (n *NoopRecorder) IncEventDropped(reason string) {}

// IncBatchSend does nothing.
func (n *NoopRecorder) IncBatchSend(status string) {}

// ObserveBatchSize does nothing.
func (n *NoopRecorder) ObserveBatchSize(size int) {}

// ObserveSendDuration does nothing.
func (n *NoopRecorder) ObserveSendDuration(duration time.Duration) {}

// SetQueueDepth does nothing.
func (n *NoopRecorder) SetQueueDepth(depth int) {}

// IncSendFailure does nothing.
func (n *NoopRecorder) IncSendFailure(reason string) {}

// SetCircuitOpen does nothing.
func (n *NoopRecorder) SetCircuitOpen(open bool) {}

// IncHealthProbe does nothing.
func (n *NoopRecorder) IncHealthProbe(status string) {}
