package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/domainpulse/domainpulse-agent/internal/exclusion"
	"github.com/domainpulse/domainpulse-agent/internal/handler/dto"
	"github.com/domainpulse/domainpulse-agent/internal/model"
	"github.com/domainpulse/domainpulse-agent/internal/queue"
	"github.com/domainpulse/domainpulse-agent/internal/tracking"
)

// EventsHandler accepts activity observations from the extension.
type EventsHandler struct {
	queue    *queue.EventQueue
	tracking *tracking.Controller
	logger   *slog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(q *queue.EventQueue, t *tracking.Controller, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		queue:    q,
		tracking: t,
		logger:   logger,
	}
}

// Track handles POST /api/v1/events.
// The event is admitted to the queue unless tracking is disabled or the
// domain is on the exception list. Accepted events answer 202; the queue
// decides asynchronously when the event actually ships.
func (h *EventsHandler) Track(w http.ResponseWriter, r *http.Request) {
	var req dto.TrackEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	kind := model.ActivityKind(req.Kind)
	if !model.IsValidActivityKind(kind) {
		writeError(w, http.StatusBadRequest, "INVALID_KIND", "kind must be \"active\" or \"inactive\"")
		return
	}

	domain := exclusion.NormalizeDomain(req.Domain)
	if domain == "" {
		writeError(w, http.StatusBadRequest, "INVALID_DOMAIN", "domain is required")
		return
	}

	if !h.tracking.IsEnabled() {
		writeError(w, http.StatusConflict, "TRACKING_DISABLED", "tracking is disabled")
		return
	}

	h.queue.AddEvent(r.Context(), kind, domain)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":     true,
		"queue_depth": h.queue.Size(),
	})
}
