package cache

import (
	"sort"
	"sync"
	"time"
)

// Metrics are the cumulative cache counters of one resource.
type Metrics struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	StaleHits   uint64  `json:"stale_hits"`
	Preloads    uint64  `json:"preloads"`
	Errors      uint64  `json:"errors"`
	Evictions   uint64  `json:"evictions"`
	Loads       uint64  `json:"loads"`
	AvgLoadTime float64 `json:"avg_load_time_ms"`
}

// HitRate returns hits over all lookups, 0 before any lookup.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// ErrorRate returns errors over loads plus errors, 0 before any load.
func (m Metrics) ErrorRate() float64 {
	total := m.Loads + m.Errors
	if total == 0 {
		return 0
	}
	return float64(m.Errors) / float64(total)
}

// Tracker accumulates Metrics per resource.
type Tracker struct {
	mu      sync.RWMutex
	metrics map[string]*Metrics
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{metrics: make(map[string]*Metrics)}
}

func (t *Tracker) update(resourceID string, fn func(*Metrics)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.metrics[resourceID]
	if !ok {
		m = &Metrics{}
		t.metrics[resourceID] = m
	}
	fn(m)
}

// RecordHit counts a hit. Stale hits count as hits too.
func (t *Tracker) RecordHit(resourceID string, stale bool) {
	t.update(resourceID, func(m *Metrics) {
		m.Hits++
		if stale {
			m.StaleHits++
		}
	})
}

// RecordMiss counts a miss.
func (t *Tracker) RecordMiss(resourceID string) {
	t.update(resourceID, func(m *Metrics) { m.Misses++ })
}

// RecordPreload counts a completed background refresh.
func (t *Tracker) RecordPreload(resourceID string) {
	t.update(resourceID, func(m *Metrics) { m.Preloads++ })
}

// RecordError counts a failed fetch.
func (t *Tracker) RecordError(resourceID string) {
	t.update(resourceID, func(m *Metrics) { m.Errors++ })
}

// RecordEviction counts an entry dropped for capacity.
func (t *Tracker) RecordEviction(resourceID string) {
	t.update(resourceID, func(m *Metrics) { m.Evictions++ })
}

// RecordLoad folds a successful fetch duration into the running mean.
func (t *Tracker) RecordLoad(resourceID string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	t.update(resourceID, func(m *Metrics) {
		m.Loads++
		m.AvgLoadTime += (ms - m.AvgLoadTime) / float64(m.Loads)
	})
}

// Snapshot returns a copy of the resource's metrics.
func (t *Tracker) Snapshot(resourceID string) Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if m, ok := t.metrics[resourceID]; ok {
		return *m
	}
	return Metrics{}
}

// All returns a copy of every resource's metrics.
func (t *Tracker) All() map[string]Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Metrics, len(t.metrics))
	for id, m := range t.metrics {
		out[id] = *m
	}
	return out
}

// Resources returns tracked resource ids in sorted order.
func (t *Tracker) Resources() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.metrics))
	for id := range t.metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset clears all counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = make(map[string]*Metrics)
}
