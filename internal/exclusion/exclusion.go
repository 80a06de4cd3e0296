// Package exclusion maintains the set of domains excluded from tracking.
package exclusion

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/domainpulse/domainpulse-agent/internal/model"
)

// NormalizeDomain reduces raw user input to a canonical domain form:
// lowercase host with scheme, port, path, query and trailing dot removed.
// Returns "" for input with no usable host. Idempotent, so stored values
// can be normalized again without changing.
func NormalizeDomain(raw string) string {
	domain := strings.TrimSpace(strings.ToLower(raw))
	if domain == "" {
		return ""
	}

	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	if i := strings.IndexAny(domain, "/?#"); i >= 0 {
		domain = domain[:i]
	}
	if i := strings.LastIndex(domain, ":"); i >= 0 {
		// Strip a port suffix, but not a bare IPv6 literal.
		if port := domain[i+1:]; port != "" && !strings.Contains(domain, "]") {
			allDigits := true
			for _, r := range port {
				if r < '0' || r > '9' {
					allDigits = false
					break
				}
			}
			if allDigits {
				domain = domain[:i]
			}
		}
	}
	domain = strings.TrimSuffix(domain, ".")

	return domain
}

// Set holds the normalized domain exceptions. Replace swaps the whole set
// atomically; readers never observe a partial update.
type Set struct {
	mu      sync.RWMutex
	domains map[string]struct{}
	logger  *slog.Logger
}

// NewSet creates an empty exception set.
func NewSet(logger *slog.Logger) *Set {
	return &Set{
		domains: make(map[string]struct{}),
		logger:  logger.With("component", "exclusion.set"),
	}
}

// IsExcluded reports whether the domain is in the exception set.
// Empty or unparseable input is never excluded.
func (s *Set) IsExcluded(domain string) bool {
	normalized := NormalizeDomain(domain)
	if normalized == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.domains[normalized]
	return ok
}

// Replace normalizes and deduplicates the input into a new set, replacing
// the old one. Returns the resulting set size.
func (s *Set) Replace(domains []string) int {
	next := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		normalized := NormalizeDomain(domain)
		if normalized == "" {
			continue
		}
		next[normalized] = struct{}{}
	}

	s.mu.Lock()
	s.domains = next
	s.mu.Unlock()

	s.logger.Debug("exceptions replaced", "count", len(next))
	return len(next)
}

// Snapshot returns the current exceptions as a sorted-insensitive slice copy.
func (s *Set) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.domains))
	for domain := range s.domains {
		out = append(out, domain)
	}
	return out
}

// Filter partitions events by exclusion, preserving order among kept events.
// Returns the kept events and the number skipped.
func (s *Set) Filter(events []model.Event) ([]model.Event, int) {
	kept := make([]model.Event, 0, len(events))
	skipped := 0
	for _, event := range events {
		if s.IsExcluded(event.Domain) {
			skipped++
			continue
		}
		kept = append(kept, event)
	}
	return kept, skipped
}
