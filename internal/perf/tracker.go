// Package perf tracks rolling success and latency statistics per provider.
// The selection engine consumes these numbers to rank providers; the
// /v1/providers endpoint exposes them operationally. State lives for the
// process lifetime only.
package perf

import (
	"sort"
	"sync"
	"time"
)

// ewmaAlpha weights the newest latency observation in the moving average.
const ewmaAlpha = 0.2

// Snapshot is a read-only view of one provider's accumulated statistics.
type Snapshot struct {
	Provider    string        `json:"provider"`
	Total       int64         `json:"total"`
	Failures    int64         `json:"failures"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	LastUpdated time.Time     `json:"last_updated,omitzero"`
}

// Dashboard aggregates all per-provider snapshots.
type Dashboard struct {
	Providers   []Snapshot `json:"providers"`
	Total       int64      `json:"total"`
	Failures    int64      `json:"failures"`
	SuccessRate float64    `json:"success_rate"`
}

// providerStats accumulates one provider's counters. Each provider has its
// own lock so recording for one provider never blocks another.
type providerStats struct {
	mu         sync.Mutex
	total      int64
	failures   int64
	avgLatency time.Duration
	updated    time.Time
}

// Tracker records dispatch and status-check outcomes per provider.
// Safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex // guards the map, not the per-provider counters
	stats map[string]*providerStats
	now   func() time.Time
}

// NewTracker creates an empty performance tracker.
func NewTracker() *Tracker {
	return &Tracker{
		stats: make(map[string]*providerStats),
		now:   time.Now,
	}
}

// Record accumulates one observation for a provider. Called after every
// dispatch and every status check.
func (t *Tracker) Record(provider string, success bool, latency time.Duration) {
	s := t.statsFor(provider)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.total == 0 {
		s.avgLatency = latency
	} else {
		s.avgLatency = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(s.avgLatency))
	}
	s.total++
	if !success {
		s.failures++
	}
	s.updated = t.now()
}

// Snapshot returns the current statistics for one provider. The second
// return value is false when nothing has been recorded for it.
func (t *Tracker) Snapshot(provider string) (Snapshot, bool) {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{Provider: provider, SuccessRate: 1}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotLocked(provider, s), true
}

// SuccessRate returns the provider's success rate. Providers with no
// history score a full 1.0 so new providers are not penalized in selection.
func (t *Tracker) SuccessRate(provider string) float64 {
	snap, _ := t.Snapshot(provider)
	return snap.SuccessRate
}

// AvgLatency returns the provider's moving average latency. Zero when no
// history exists.
func (t *Tracker) AvgLatency(provider string) time.Duration {
	snap, _ := t.Snapshot(provider)
	return snap.AvgLatency
}

// Dashboard returns all per-provider snapshots plus aggregate counters,
// sorted by provider id for stable output.
func (t *Tracker) Dashboard() Dashboard {
	t.mu.RLock()
	providers := make([]string, 0, len(t.stats))
	for id := range t.stats {
		providers = append(providers, id)
	}
	t.mu.RUnlock()
	sort.Strings(providers)

	d := Dashboard{Providers: make([]Snapshot, 0, len(providers))}
	for _, id := range providers {
		snap, ok := t.Snapshot(id)
		if !ok {
			continue
		}
		d.Providers = append(d.Providers, snap)
		d.Total += snap.Total
		d.Failures += snap.Failures
	}

	if d.Total > 0 {
		d.SuccessRate = float64(d.Total-d.Failures) / float64(d.Total)
	} else {
		d.SuccessRate = 1
	}
	return d
}

// statsFor returns the provider's counters, creating them on first use.
func (t *Tracker) statsFor(provider string) *providerStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &providerStats{}
	t.stats[provider] = s
	return s
}

func snapshotLocked(provider string, s *providerStats) Snapshot {
	snap := Snapshot{
		Provider:    provider,
		Total:       s.total,
		Failures:    s.failures,
		AvgLatency:  s.avgLatency,
		LastUpdated: s.updated,
		SuccessRate: 1,
	}
	if s.total > 0 {
		snap.SuccessRate = float64(s.total-s.failures) / float64(s.total)
	}
	return snap
}
