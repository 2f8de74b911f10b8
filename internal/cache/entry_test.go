package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewEntryTimeline(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	standard, _ := Preset(StrategyStandard)

	e := NewEntry("widget:a", "a", "payload", now, 300*time.Second, standard, nil)

	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, now.Add(300*time.Second), e.StaleAt)
	assert.Equal(t, now.Add(270*time.Second), e.PreloadAt)
	assert.Equal(t, now.Add(360*time.Second), e.ExpiresAt)
	assert.False(t, e.PreloadAt.Before(e.Timestamp))
	assert.False(t, e.StaleAt.Before(e.PreloadAt))
}

func TestNewEntryPreloadClampedToCreation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cfg := Config{BaseTTL: 5 * time.Second, EnablePreload: true, PreloadTiming: time.Minute}

	e := NewEntry("k", "r", nil, now, 5*time.Second, cfg, nil)
	assert.Equal(t, now, e.PreloadAt)
	assert.Equal(t, e.StaleAt, e.ExpiresAt)
}

func TestNewEntryWithoutPreload(t *testing.T) {
	t.Parallel()

	now := time.Now()
	static, _ := Preset(StrategyStatic)

	e := NewEntry("k", "r", nil, now, time.Hour, static, nil)
	assert.Equal(t, e.StaleAt, e.PreloadAt)
	assert.False(t, ShouldPreload(e, static, now.Add(2*time.Hour)))
}

func TestEntryPredicates(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cfg := Config{
		BaseTTL:       300 * time.Second,
		EnableSWR:     true,
		SWRWindow:     60 * time.Second,
		EnablePreload: true,
		PreloadTiming: 30 * time.Second,
	}
	e := NewEntry("k", "r", "v", created, 300*time.Second, cfg, nil)

	tests := []struct {
		name    string
		offset  time.Duration
		fresh   bool
		preload bool
		usable  bool
	}{
		{"just created", 0, true, false, false},
		{"before preload point", 269 * time.Second, true, false, false},
		{"at preload point", 270 * time.Second, true, true, false},
		{"at stale point", 300 * time.Second, false, true, true},
		{"inside swr window", 330 * time.Second, false, true, true},
		{"past swr window", 361 * time.Second, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := created.Add(tt.offset)
			assert.Equal(t, tt.fresh, IsFresh(e, now), "fresh")
			assert.Equal(t, tt.preload, ShouldPreload(e, cfg, now), "preload")
			assert.Equal(t, tt.usable, IsStaleButUsable(e, cfg, now), "usable")
		})
	}
}

func TestIsStaleButUsableDisabled(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cfg := Config{BaseTTL: time.Minute}
	e := NewEntry("k", "r", nil, now, time.Minute, cfg, nil)
	assert.False(t, IsStaleButUsable(e, cfg, now.Add(61*time.Second)))
}

func TestEntryAge(t *testing.T) {
	t.Parallel()

	now := time.Now()
	e := NewEntry("k", "r", nil, now, time.Minute, Config{BaseTTL: time.Minute}, nil)
	assert.Equal(t, 42*time.Second, e.Age(now.Add(42*time.Second)))
}
