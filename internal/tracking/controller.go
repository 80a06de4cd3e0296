// Package tracking holds the master tracking switch. The switch is
// flipped by the control API and, automatically, by the delivery
// pipeline when the failure threshold is crossed.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/domainpulse/domainpulse-agent/internal/storage"
)

// Controller owns the tracking enabled flag and persists it across
// restarts.
type Controller struct {
	store  storage.Store
	logger *slog.Logger

	mu        sync.Mutex
	enabled   bool
	onDisable func() // optional hook, e.g. stop the batch processor
	onEnable  func() // optional hook, e.g. restart the batch processor
}

// NewController creates a controller with tracking enabled.
func NewController(store storage.Store, logger *slog.Logger) *Controller {
	return &Controller{
		store:   store,
		logger:  logger.With("component", "tracking.controller"),
		enabled: true,
	}
}

// OnDisable registers a hook invoked whenever tracking transitions to
// disabled.
func (c *Controller) OnDisable(fn func()) {
	c.mu.Lock()
	c.onDisable = fn
	c.mu.Unlock()
}

// OnEnable registers a hook invoked whenever tracking transitions to
// enabled.
func (c *Controller) OnEnable(fn func()) {
	c.mu.Lock()
	c.onEnable = fn
	c.mu.Unlock()
}

// Restore reloads the persisted flag. A store that has never been
// written leaves tracking enabled.
func (c *Controller) Restore(ctx context.Context) error {
	var enabled bool
	err := c.store.Load(ctx, storage.KeyTracking, &enabled)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()

	c.logger.Info("tracking flag restored", "enabled", enabled)
	return nil
}

// IsEnabled reports whether tracking is on.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetEnabled flips the tracking switch and persists it. Transitions run
// the registered hooks; setting the current value is a no-op.
func (c *Controller) SetEnabled(ctx context.Context, enabled bool, reason string) error {
	c.mu.Lock()
	if c.enabled == enabled {
		c.mu.Unlock()
		return nil
	}
	c.enabled = enabled
	hook := c.onDisable
	if enabled {
		hook = c.onEnable
	}
	c.mu.Unlock()

	c.logger.Info("tracking switched", "enabled", enabled, "reason", reason)

	if hook != nil {
		hook()
	}

	if err := c.store.Save(ctx, storage.KeyTracking, enabled); err != nil {
		return err
	}
	return nil
}

// Disable is the queue.DisableFunc adapter used by the failure tracker.
func (c *Controller) Disable(ctx context.Context, reason string) error {
	return c.SetEnabled(ctx, false, reason)
}
