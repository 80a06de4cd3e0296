package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/domainpulse/domainpulse-agent/internal/handler/dto"
	"github.com/domainpulse/domainpulse-agent/internal/queue"
	"github.com/domainpulse/domainpulse-agent/internal/storage"
	"github.com/domainpulse/domainpulse-agent/internal/tracking"
)

// BackendControl is the backend capability the settings handler needs.
type BackendControl interface {
	SetBaseURL(baseURL string)
	BaseURL() string
}

// SettingsHandler mutates agent configuration at runtime.
type SettingsHandler struct {
	queue    *queue.EventQueue
	tracking *tracking.Controller
	backend  BackendControl
	store    storage.Store
	logger   *slog.Logger
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(q *queue.EventQueue, t *tracking.Controller, b BackendControl, store storage.Store, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		queue:    q,
		tracking: t,
		backend:  b,
		store:    store,
		logger:   logger,
	}
}

// SetTracking handles PUT /api/v1/tracking.
// A missing or non-boolean enabled value is rejected with 400.
func (h *SettingsHandler) SetTracking(w http.ResponseWriter, r *http.Request) {
	var req dto.SetTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "INVALID_ENABLED", "enabled must be a boolean")
		return
	}

	if err := h.tracking.SetEnabled(r.Context(), *req.Enabled, "control api"); err != nil {
		h.logger.Error("failed to persist tracking flag", "error", err)
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED", "could not persist tracking flag")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"enabled": *req.Enabled,
	})
}

// SetExceptions handles PUT /api/v1/exceptions.
// The new list replaces the old one entirely and queued events for
// now-excluded domains are purged.
func (h *SettingsHandler) SetExceptions(w http.ResponseWriter, r *http.Request) {
	var req dto.SetExceptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domains == nil {
		writeError(w, http.StatusBadRequest, "INVALID_DOMAINS", "domains must be an array of strings")
		return
	}

	count, removed := h.queue.SetDomainExceptions(r.Context(), req.Domains)

	writeJSON(w, http.StatusOK, dto.SetExceptionsResponse{
		Success:          true,
		Count:            count,
		RemovedFromQueue: removed,
	})
}

// SetBackend handles PUT /api/v1/backend.
// The URL is persisted so it survives agent restarts.
func (h *SettingsHandler) SetBackend(w http.ResponseWriter, r *http.Request) {
	var req dto.SetBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	raw := strings.TrimSpace(req.URL)
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "INVALID_URL", "url must be absolute http(s)")
		return
	}

	h.backend.SetBaseURL(raw)
	if err := h.store.Save(r.Context(), storage.KeyBackendURL, h.backend.BaseURL()); err != nil {
		h.logger.Warn("failed to persist backend url", "error", err)
	}

	h.logger.Info("backend url updated", "url", h.backend.BaseURL())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"url":     h.backend.BaseURL(),
	})
}

// SetOnline handles PUT /api/v1/online.
// The extension reports connectivity transitions here; coming back
// online flushes any pending events.
func (h *SettingsHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req dto.SetOnlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, "INVALID_ONLINE", "online must be a boolean")
		return
	}

	h.queue.SetOnlineStatus(*req.Online)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"online":  *req.Online,
	})
}
