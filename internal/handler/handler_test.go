package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/domainpulse/domainpulse-agent/internal/backend"
	"github.com/domainpulse/domainpulse-agent/internal/exclusion"
	"github.com/domainpulse/domainpulse-agent/internal/handler/dto"
	"github.com/domainpulse/domainpulse-agent/internal/model"
	"github.com/domainpulse/domainpulse-agent/internal/queue"
	"github.com/domainpulse/domainpulse-agent/internal/stats"
	"github.com/domainpulse/domainpulse-agent/internal/storage"
	"github.com/domainpulse/domainpulse-agent/internal/tracking"
)

// fakeBackend satisfies both queue.Sender and BackendControl.
type fakeBackend struct {
	mu      sync.Mutex
	baseURL string
}

func (f *fakeBackend) SendEvents(ctx context.Context, events []model.Event) backend.SendResult {
	return backend.SendResult{Success: true, Status: http.StatusOK}
}

func (f *fakeBackend) CheckHealth(ctx context.Context) backend.HealthResult {
	return backend.HealthResult{Success: true}
}

func (f *fakeBackend) BaseURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baseURL
}

func (f *fakeBackend) SetBaseURL(baseURL string) {
	f.mu.Lock()
	f.baseURL = baseURL
	f.mu.Unlock()
}

type fixture struct {
	queue    *queue.EventQueue
	tracking *tracking.Controller
	backend  *fakeBackend
	store    *storage.MemoryStore
	stats    *stats.Collector
	events   *EventsHandler
	settings *SettingsHandler
	status   *StatusHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory()
	excl := exclusion.NewSet(logger)
	be := &fakeBackend{baseURL: "https://api.example.com"}
	collector := stats.NewCollector()

	q, err := queue.New(queue.Config{
		BatchSize:          100,
		RetryDelay:         time.Hour,
		HealthPollInterval: time.Hour,
	}, queue.Deps{
		Backend:    be,
		Store:      store,
		Exclusions: excl,
		Stats:      collector,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(q.Close)

	ctrl := tracking.NewController(store, logger)

	return &fixture{
		queue:    q,
		tracking: ctrl,
		backend:  be,
		store:    store,
		stats:    collector,
		events:   NewEventsHandler(q, ctrl, logger),
		settings: NewSettingsHandler(q, ctrl, be, store, logger),
		status:   NewStatusHandler(q, ctrl, be, collector),
	}
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestTrack_Accepted(t *testing.T) {
	f := newFixture(t)

	rec := doJSON(t, f.events.Track, http.MethodPost, "/api/v1/events",
		dto.TrackEventRequest{Kind: "active", Domain: "Example.COM"})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if f.queue.Size() != 1 {
		t.Errorf("queue size = %d, want 1", f.queue.Size())
	}
	if f.stats.TotalEvents() != 1 {
		t.Errorf("stats total = %d, want 1", f.stats.TotalEvents())
	}
}

func TestTrack_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"invalid json", "{not json", http.StatusBadRequest},
		{"bad kind", dto.TrackEventRequest{Kind: "idle", Domain: "example.com"}, http.StatusBadRequest},
		{"empty domain", dto.TrackEventRequest{Kind: "active"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, f.events.Track, http.MethodPost, "/api/v1/events", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if f.queue.Size() != 0 {
		t.Errorf("rejected events must not be queued, size = %d", f.queue.Size())
	}
}

func TestTrack_TrackingDisabled(t *testing.T) {
	f := newFixture(t)
	if err := f.tracking.SetEnabled(context.Background(), false, "test"); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	rec := doJSON(t, f.events.Track, http.MethodPost, "/api/v1/events",
		dto.TrackEventRequest{Kind: "active", Domain: "example.com"})

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if f.queue.Size() != 0 {
		t.Errorf("queue size = %d, want 0", f.queue.Size())
	}
}

func TestTrack_ExcludedDomainAcceptedButDropped(t *testing.T) {
	f := newFixture(t)
	f.queue.SetDomainExceptions(context.Background(), []string{"private.example"})

	rec := doJSON(t, f.events.Track, http.MethodPost, "/api/v1/events",
		dto.TrackEventRequest{Kind: "active", Domain: "private.example"})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if f.queue.Size() != 0 {
		t.Errorf("excluded event must not be queued, size = %d", f.queue.Size())
	}
}

func TestSetTracking(t *testing.T) {
	f := newFixture(t)

	rec := doJSON(t, f.settings.SetTracking, http.MethodPut, "/api/v1/tracking",
		map[string]any{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.tracking.IsEnabled() {
		t.Error("tracking should be disabled")
	}

	var persisted bool
	if err := f.store.Load(context.Background(), storage.KeyTracking, &persisted); err != nil {
		t.Fatalf("Load tracking flag: %v", err)
	}
	if persisted {
		t.Error("persisted flag should be false")
	}
}

func TestSetTracking_RejectsNonBool(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`{"enabled":"yes"}`, `{"enabled":1}`, `{}`} {
		rec := doJSON(t, f.settings.SetTracking, http.MethodPut, "/api/v1/tracking", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
	if !f.tracking.IsEnabled() {
		t.Error("rejected requests must not change the flag")
	}
}

func TestSetExceptions_PurgesQueue(t *testing.T) {
	f := newFixture(t)
	f.queue.AddEvent(context.Background(), model.ActivityActive, "keep.example")
	f.queue.AddEvent(context.Background(), model.ActivityActive, "drop.example")

	rec := doJSON(t, f.settings.SetExceptions, http.MethodPut, "/api/v1/exceptions",
		dto.SetExceptionsRequest{Domains: []string{"drop.example"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp dto.SetExceptionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Count != 1 || resp.RemovedFromQueue != 1 {
		t.Errorf("response = %+v, want success count=1 removed=1", resp)
	}
	if f.queue.Size() != 1 {
		t.Errorf("queue size = %d, want 1", f.queue.Size())
	}
}

func TestSetExceptions_RejectsMissingDomains(t *testing.T) {
	f := newFixture(t)

	rec := doJSON(t, f.settings.SetExceptions, http.MethodPut, "/api/v1/exceptions", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSetBackend(t *testing.T) {
	f := newFixture(t)

	rec := doJSON(t, f.settings.SetBackend, http.MethodPut, "/api/v1/backend",
		dto.SetBackendRequest{URL: "https://new.example.com/"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := f.backend.BaseURL(); got != "https://new.example.com/" {
		t.Errorf("base url = %q", got)
	}

	var persisted string
	if err := f.store.Load(context.Background(), storage.KeyBackendURL, &persisted); err != nil {
		t.Fatalf("Load backend url: %v", err)
	}
	if persisted != f.backend.BaseURL() {
		t.Errorf("persisted url = %q, want %q", persisted, f.backend.BaseURL())
	}
}

func TestSetBackend_RejectsInvalidURL(t *testing.T) {
	f := newFixture(t)
	original := f.backend.BaseURL()

	for _, u := range []string{"", "not-a-url", "ftp://example.com", "//missing-scheme"} {
		rec := doJSON(t, f.settings.SetBackend, http.MethodPut, "/api/v1/backend",
			dto.SetBackendRequest{URL: u})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("url %q: status = %d, want 400", u, rec.Code)
		}
	}
	if f.backend.BaseURL() != original {
		t.Error("rejected urls must not change the backend")
	}
}

func TestSetOnline(t *testing.T) {
	f := newFixture(t)

	rec := doJSON(t, f.settings.SetOnline, http.MethodPut, "/api/v1/online",
		map[string]any{"online": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.queue.Online() {
		t.Error("queue should be offline")
	}

	rec = doJSON(t, f.settings.SetOnline, http.MethodPut, "/api/v1/online", `{"online":"up"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-bool online: status = %d, want 400", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.queue.AddEvent(context.Background(), model.ActivityActive, "example.com")
	f.queue.SetOnlineStatus(false)

	rec := doJSON(t, f.status.Status, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp dto.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.TrackingEnabled || resp.Online || resp.QueueDepth != 1 || resp.CircuitOpen {
		t.Errorf("response = %+v", resp)
	}
	if resp.BackendURL != "https://api.example.com" {
		t.Errorf("backend url = %q", resp.BackendURL)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.queue.AddEvent(context.Background(), model.ActivityActive, "example.com")
	f.queue.AddEvent(context.Background(), model.ActivityInactive, "example.com")

	rec := doJSON(t, f.status.Stats, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap stats.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snap.TotalEvents != 2 || len(snap.Domains) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

type failingStore struct {
	*storage.MemoryStore
}

func (s *failingStore) Ping(ctx context.Context) error {
	return errors.New("store down")
}

func TestHealthz(t *testing.T) {
	h := NewHealthHandler(storage.NewMemory())
	rec := doJSON(t, h.Healthz, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	h := NewHealthHandler(storage.NewMemory())
	rec := doJSON(t, h.Readyz, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthy store: status = %d, want 200", rec.Code)
	}

	h = NewHealthHandler(&failingStore{storage.NewMemory()})
	rec = doJSON(t, h.Readyz, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("failing store: status = %d, want 503", rec.Code)
	}
}
