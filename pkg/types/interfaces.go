package types

import "time"

// SampleRecorder accepts performance samples.
type SampleRecorder interface {
	Record(name string, value float64, category Category)
}

// VariantRecorder accepts samples of an A/B variant series. Variant samples
// duplicate a sample already recorded on the resource series, so they are
// kept for comparison without raising alerts or feeding exports.
type VariantRecorder interface {
	RecordVariant(name string, value float64, category Category)
}

// ErrorRecorder accepts error events.
type ErrorRecorder interface {
	RecordError(event ErrorEvent)
}

// CacheEvent is an outcome on the cache read path.
type CacheEvent string

const (
	CacheHit      CacheEvent = "hit"
	CacheMiss     CacheEvent = "miss"
	CacheStaleHit CacheEvent = "stale_hit"
	CachePreload  CacheEvent = "preload"
	CacheError    CacheEvent = "error"
	CacheEviction CacheEvent = "eviction"
)

// CacheObserver receives cache read-path events, typically for export.
type CacheObserver interface {
	ObserveCacheEvent(resourceID string, event CacheEvent)
	ObserveLoad(resourceID string, duration time.Duration, err error)
}

// ErrorContext carries request attributes attached to an error event.
type ErrorContext struct {
	Route     string `json:"route,omitempty"`
	Variant   string `json:"variant,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// ErrorEvent is a single recorded failure for a resource.
type ErrorEvent struct {
	ResourceID string       `json:"resource_id"`
	Timestamp  time.Time    `json:"timestamp"`
	Type       ErrorType    `json:"type"`
	Message    string       `json:"message"`
	Stack      string       `json:"stack,omitempty"`
	Severity   Severity     `json:"severity"`
	UserImpact int          `json:"user_impact"`
	Context    ErrorContext `json:"context"`
}
