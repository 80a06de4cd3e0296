// Package stats accumulates per-domain activity statistics.
package stats

import (
	"sync"
	"time"

	"github.com/domainpulse/domainpulse-agent/internal/model"
)

// DomainStats holds the accumulated counters for one domain.
type DomainStats struct {
	Domain         string    `json:"domain"`
	ActiveEvents   int64     `json:"active_events"`
	InactiveEvents int64     `json:"inactive_events"`
	LastSeen       time.Time `json:"last_seen"`
}

// Snapshot is a point-in-time copy of all statistics.
type Snapshot struct {
	TotalEvents int64         `json:"total_events"`
	Domains     []DomainStats `json:"domains"`
	StartedAt   time.Time     `json:"started_at"`
}

// Collector accumulates activity counters by domain. Safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	domains   map[string]*DomainStats
	total     int64
	startedAt time.Time
}

// NewCollector returns an empty statistics collector.
func NewCollector() *Collector {
	return &Collector{
		domains:   make(map[string]*DomainStats),
		startedAt: time.Now().UTC(),
	}
}

// RecordEvent counts one tracked event. Excluded events must never reach
// the collector; the queue filters before recording.
func (c *Collector) RecordEvent(event model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.domains[event.Domain]
	if !ok {
		entry = &DomainStats{Domain: event.Domain}
		c.domains[event.Domain] = entry
	}

	switch event.Kind {
	case model.ActivityActive:
		entry.ActiveEvents++
	case model.ActivityInactive:
		entry.InactiveEvents++
	}
	if event.Timestamp.After(entry.LastSeen) {
		entry.LastSeen = event.Timestamp
	}
	c.total++
}

// TotalEvents returns the number of events recorded since start.
func (c *Collector) TotalEvents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Snapshot returns a copy of all accumulated statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	domains := make([]DomainStats, 0, len(c.domains))
	for _, entry := range c.domains {
		domains = append(domains, *entry)
	}

	return Snapshot{
		TotalEvents: c.total,
		Domains:     domains,
		StartedAt:   c.startedAt,
	}
}

// Reset clears all counters.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domains = make(map[string]*DomainStats)
	c.total = 0
}
