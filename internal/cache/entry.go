package cache

import (
	"time"

	"github.com/dashcache/dashcache/pkg/types"
)

// Entry is one cached fetch result. Entries are never mutated after
// construction; a refresh stores a new Entry under the same key.
type Entry struct {
	Key        string
	ResourceID string
	Data       interface{}
	Timestamp  time.Time
	TTL        time.Duration
	DateRange  *types.DateRange
	StaleAt    time.Time
	PreloadAt  time.Time
	// ExpiresAt is the end of the usable lifetime: StaleAt, plus the SWR
	// window when SWR is enabled.
	ExpiresAt time.Time
}

// NewEntry builds an entry created at now. Timestamp <= PreloadAt <= StaleAt
// holds for every result.
func NewEntry(key, resourceID string, data interface{}, now time.Time, ttl time.Duration, cfg Config, dr *types.DateRange) *Entry {
	staleAt := now.Add(ttl)

	preloadAt := staleAt
	if cfg.EnablePreload {
		preloadAt = staleAt.Add(-cfg.PreloadTiming)
		if preloadAt.Before(now) {
			preloadAt = now
		}
	}

	expiresAt := staleAt
	if cfg.EnableSWR {
		expiresAt = staleAt.Add(cfg.SWRWindow)
	}

	return &Entry{
		Key:        key,
		ResourceID: resourceID,
		Data:       data,
		Timestamp:  now,
		TTL:        ttl,
		DateRange:  dr,
		StaleAt:    staleAt,
		PreloadAt:  preloadAt,
		ExpiresAt:  expiresAt,
	}
}

// Age returns how long ago the entry was created.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// IsFresh reports whether the entry has not yet gone stale.
func IsFresh(e *Entry, now time.Time) bool {
	return now.Before(e.StaleAt)
}

// ShouldPreload reports whether the entry is due for a background refresh.
func ShouldPreload(e *Entry, cfg Config, now time.Time) bool {
	return cfg.EnablePreload && !now.Before(e.PreloadAt)
}

// IsStaleButUsable reports whether now lies in [StaleAt, StaleAt+SWRWindow).
func IsStaleButUsable(e *Entry, cfg Config, now time.Time) bool {
	if !cfg.EnableSWR {
		return false
	}
	return !now.Before(e.StaleAt) && now.Before(e.StaleAt.Add(cfg.SWRWindow))
}
