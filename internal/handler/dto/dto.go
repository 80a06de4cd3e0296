// Package dto defines request and response shapes for the control API.
package dto

// TrackEventRequest is the body of POST /api/v1/events.
type TrackEventRequest struct {
	Kind   string `json:"kind"`
	Domain string `json:"domain"`
}

// SetTrackingRequest is the body of PUT /api/v1/tracking.
// Enabled is a pointer so a missing or non-boolean value is detectable.
type SetTrackingRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetExceptionsRequest is the body of PUT /api/v1/exceptions.
type SetExceptionsRequest struct {
	Domains []string `json:"domains"`
}

// SetBackendRequest is the body of PUT /api/v1/backend.
type SetBackendRequest struct {
	URL string `json:"url"`
}

// SetOnlineRequest is the body of PUT /api/v1/online.
type SetOnlineRequest struct {
	Online *bool `json:"online"`
}

// SetExceptionsResponse reports the outcome of an exception list swap.
type SetExceptionsResponse struct {
	Success          bool `json:"success"`
	Count            int  `json:"count"`
	RemovedFromQueue int  `json:"removed_from_queue"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	TrackingEnabled     bool   `json:"tracking_enabled"`
	Online              bool   `json:"online"`
	QueueDepth          int    `json:"queue_depth"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	CircuitOpen         bool   `json:"circuit_open"`
	BackendURL          string `json:"backend_url"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}
