// Package testutil provides shared helpers for tests.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/domainpulse/domainpulse-agent/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Events builds n active events spread across numbered subdomains of
// the given base domain.
func Events(n int, base string) []model.Event {
	events := make([]model.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, model.NewEvent(model.ActivityActive, fmt.Sprintf("d%d.%s", i, base)))
	}
	return events
}
