// Package backend wraps the outbound HTTP calls to the event collection
// service. Delivery failures are surfaced as structured results, never as
// errors, so the queue can feed them into its failure accounting.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/domainpulse/domainpulse-agent/internal/metrics"
	"github.com/domainpulse/domainpulse-agent/internal/model"
)

const (
	// EventsPath is the batch ingestion endpoint, relative to the base URL.
	EventsPath = "/api/v1/events"
	// HealthPath is the liveness probe endpoint.
	HealthPath = "/api/v1/health"
	// RefreshPath is the session refresh endpoint.
	RefreshPath = "/api/v1/auth/refresh"

	// DefaultHealthMinInterval is the minimum time between health probes.
	DefaultHealthMinInterval = 30 * time.Second

	// maxErrorBodyBytes bounds how much of an error response is retained.
	maxErrorBodyBytes = 1024
)

// Failure codes carried in SendResult.Code.
const (
	CodeNetworkError   = "network_error"
	CodeHTTPError      = "http_error"
	CodeMissingAPIKey  = "missing_api_key"
	CodeRefreshFailed  = "auth_refresh_failed"
	CodeInvalidPayload = "invalid_payload"
)

// SendResult is the structured outcome of a batch send.
type SendResult struct {
	Success bool
	Status  int    // HTTP status, when a response was received
	Code    string // machine-readable failure code
	Err     string // human-readable failure detail
	Data    json.RawMessage // response body on success, when present
}

// HealthResult is the structured outcome of a health probe.
type HealthResult struct {
	Success     bool
	TooFrequent bool // probe was throttled; Success carries the last real result
}

// sendRequest is the wire envelope for a batch.
type sendRequest struct {
	Data []model.Event `json:"data"`
}

// refreshRequest is the wire envelope for a session refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse carries the replacement API key.
type refreshResponse struct {
	APIKey string `json:"api_key"`
}

// Client sends event batches and health probes to the backend.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.Recorder
	agentID    string

	mu           sync.Mutex
	baseURL      string
	apiKey       string
	refreshToken string

	healthMinInterval time.Duration
	lastHealthAt      time.Time
	lastHealthOK      bool
}

// NewClient creates a backend client. baseURL must not be empty; apiKey may
// be empty, in which case sends fail with a configuration result until a
// key is provided.
func NewClient(baseURL, apiKey, refreshToken, agentID string, logger *slog.Logger, recorder metrics.Recorder) *Client {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Client{
		httpClient:        NewHTTPClient(),
		logger:            logger.With("component", "backend.client"),
		metrics:           recorder,
		agentID:           agentID,
		baseURL:           strings.TrimRight(baseURL, "/"),
		apiKey:            apiKey,
		refreshToken:      refreshToken,
		healthMinInterval: DefaultHealthMinInterval,
	}
}

// SetBaseURL swaps the backend base URL. Takes effect on the next call.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

// BaseURL returns the current backend base URL.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

// SetHealthMinInterval overrides the minimum inter-probe interval.
func (c *Client) SetHealthMinInterval(interval time.Duration) {
	if interval > 0 {
		c.mu.Lock()
		c.healthMinInterval = interval
		c.mu.Unlock()
	}
}

// SendEvents posts a batch to the events endpoint. An empty batch
// short-circuits to success without a network call. A 401 triggers one
// session refresh and a single retry, invisible to the caller.
func (c *Client) SendEvents(ctx context.Context, events []model.Event) SendResult {
	if len(events) == 0 {
		return SendResult{Success: true}
	}

	c.mu.Lock()
	baseURL, apiKey := c.baseURL, c.apiKey
	c.mu.Unlock()

	if apiKey == "" {
		c.metrics.IncSendFailure("config")
		return SendResult{Code: CodeMissingAPIKey, Err: "no API key configured"}
	}

	body, err := json.Marshal(sendRequest{Data: events})
	if err != nil {
		c.metrics.IncSendFailure("config")
		return SendResult{Code: CodeInvalidPayload, Err: fmt.Sprintf("marshal batch: %v", err)}
	}

	start := time.Now()
	result := c.post(ctx, baseURL+EventsPath, apiKey, body)
	c.metrics.ObserveSendDuration(time.Since(start))

	if result.Status == http.StatusUnauthorized {
		refreshed, refreshErr := c.refreshSession(ctx, baseURL)
		if refreshErr != nil {
			c.logger.Warn("session refresh failed", "error", refreshErr)
			c.metrics.IncSendFailure("http")
			return SendResult{Status: result.Status, Code: CodeRefreshFailed, Err: refreshErr.Error()}
		}
		result = c.post(ctx, baseURL+EventsPath, refreshed, body)
	}

	if result.Success {
		c.logger.Debug("batch delivered",
			"events_count", len(events),
			"http_status", result.Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		c.metrics.IncBatchSend("success")
	} else {
		reason := "http"
		if result.Code == CodeNetworkError {
			reason = "network"
		}
		c.metrics.IncSendFailure(reason)
		c.metrics.IncBatchSend("failed")
	}
	return result
}

// post performs a single POST and converts the response to a SendResult.
func (c *Client) post(ctx context.Context, url, apiKey string, body []byte) SendResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Code: CodeNetworkError, Err: fmt.Sprintf("create request: %v", err)}
	}
	setRequestHeaders(req, apiKey, c.agentID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{Code: CodeNetworkError, Err: err.Error()}
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result := SendResult{Success: true, Status: resp.StatusCode}
		if len(payload) > 0 && json.Valid(payload) {
			result.Data = json.RawMessage(payload)
		}
		return result
	}

	return SendResult{
		Status: resp.StatusCode,
		Code:   CodeHTTPError,
		Err:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
	}
}

// refreshSession exchanges the refresh token for a new API key and stores
// it for subsequent calls.
func (c *Client) refreshSession(ctx context.Context, baseURL string) (string, error) {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()

	if refreshToken == "" {
		return "", fmt.Errorf("no refresh token configured")
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+RefreshPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AgentIDHeader, c.agentID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", fmt.Errorf("refresh rejected with HTTP %d", resp.StatusCode)
	}

	var parsed refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodyBytes)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if parsed.APIKey == "" {
		return "", fmt.Errorf("refresh response missing api_key")
	}

	c.mu.Lock()
	c.apiKey = parsed.APIKey
	c.mu.Unlock()

	c.logger.Info("session refreshed")
	return parsed.APIKey, nil
}

// CheckHealth probes the backend health endpoint. Probes are rate limited
// by the minimum inter-probe interval; a throttled probe reports the last
// real result with TooFrequent set.
func (c *Client) CheckHealth(ctx context.Context) HealthResult {
	c.mu.Lock()
	if !c.lastHealthAt.IsZero() && time.Since(c.lastHealthAt) < c.healthMinInterval {
		last := c.lastHealthOK
		c.mu.Unlock()
		c.metrics.IncHealthProbe("throttled")
		return HealthResult{Success: last, TooFrequent: true}
	}
	c.lastHealthAt = time.Now()
	baseURL, apiKey := c.baseURL, c.apiKey
	c.mu.Unlock()

	ok := c.probe(ctx, baseURL, apiKey)

	c.mu.Lock()
	c.lastHealthOK = ok
	c.mu.Unlock()

	if ok {
		c.metrics.IncHealthProbe("success")
	} else {
		c.metrics.IncHealthProbe("failed")
	}
	return HealthResult{Success: ok}
}

// probe performs the actual health GET.
func (c *Client) probe(ctx context.Context, baseURL, apiKey string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+HealthPath, nil)
	if err != nil {
		return false
	}
	setRequestHeaders(req, apiKey, c.agentID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
