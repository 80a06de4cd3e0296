package handler

import (
	"net/http"

	"github.com/domainpulse/domainpulse-agent/internal/handler/dto"
	"github.com/domainpulse/domainpulse-agent/internal/queue"
	"github.com/domainpulse/domainpulse-agent/internal/stats"
	"github.com/domainpulse/domainpulse-agent/internal/tracking"
)

// StatusHandler reports agent state to the extension popup.
type StatusHandler struct {
	queue    *queue.EventQueue
	tracking *tracking.Controller
	backend  BackendControl
	stats    *stats.Collector
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(q *queue.EventQueue, t *tracking.Controller, b BackendControl, collector *stats.Collector) *StatusHandler {
	return &StatusHandler{
		queue:    q,
		tracking: t,
		backend:  b,
		stats:    collector,
	}
}

// Status handles GET /api/v1/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	failure := h.queue.FailureState()

	writeJSON(w, http.StatusOK, dto.StatusResponse{
		TrackingEnabled:     h.tracking.IsEnabled(),
		Online:              h.queue.Online(),
		QueueDepth:          h.queue.Size(),
		ConsecutiveFailures: failure.ConsecutiveFailures,
		CircuitOpen:         failure.ThresholdReached,
		BackendURL:          h.backend.BaseURL(),
	})
}

// Stats handles GET /api/v1/stats.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}
