// Package health tracks per-resource health from fetch outcomes and derives
// an overall state for readiness checks.
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dashcache/dashcache/pkg/types"
)

// HealthState represents the health of a resource or of the whole system
type HealthState int

const (
	// StateHealthy means recent fetches succeed
	StateHealthy HealthState = iota

	// StateDegraded means fetches fail repeatedly but cached or stale data
	// is still being served
	StateDegraded

	// StateUnavailable means fetches have failed past the unavailable
	// threshold
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON output.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *HealthState) UnmarshalText(text []byte) error {
	for _, state := range []HealthState{StateHealthy, StateDegraded, StateUnavailable} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown health state: %q", text)
}

// ResourceHealth is the health of one resource.
type ResourceHealth struct {
	Name              string        `json:"name"`
	State             HealthState   `json:"state"`
	LastStateChange   time.Time     `json:"last_state_change"`
	LastCheck         time.Time     `json:"last_check"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastErrorMessage  string        `json:"last_error_message,omitempty"`
	LastLoad          time.Duration `json:"last_load"`
	StaleServes       int64         `json:"stale_serves"`
}

// Config configures health tracking behavior
type Config struct {
	// ErrorThreshold is the number of consecutive errors before a resource
	// is degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before a
	// resource is unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	Clock types.Clock `yaml:"-" json:"-"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
	}
}

// StateChangeCallback is called when a resource's health state changes
type StateChangeCallback func(resource string, oldState, newState HealthState, err error)

// Tracker derives resource health from load outcomes. It implements
// types.CacheObserver so it can sit directly on the cache read path.
type Tracker struct {
	mu        sync.RWMutex
	resources map[string]*ResourceHealth
	config    Config
	clock     types.Clock
	callbacks []StateChangeCallback
}

// NewTracker creates a new health tracker
func NewTracker(config Config) *Tracker {
	defaults := DefaultConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = defaults.ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = max(defaults.UnavailableThreshold, config.ErrorThreshold)
	}
	return &Tracker{
		resources: make(map[string]*ResourceHealth),
		config:    config,
		clock:     config.Clock.Or(),
	}
}

// Register starts tracking a resource as healthy. Registering twice is a
// no-op.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreate(name)
}

func (t *Tracker) getOrCreate(name string) *ResourceHealth {
	rh, ok := t.resources[name]
	if !ok {
		now := t.clock()
		rh = &ResourceHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastCheck:       now,
		}
		t.resources[name] = rh
	}
	return rh
}

// ObserveLoad implements types.CacheObserver.
func (t *Tracker) ObserveLoad(resourceID string, duration time.Duration, err error) {
	if err != nil {
		t.RecordError(resourceID, err)
		return
	}
	t.RecordSuccess(resourceID)

	t.mu.Lock()
	t.resources[resourceID].LastLoad = duration
	t.mu.Unlock()
}

// ObserveCacheEvent implements types.CacheObserver. Only stale serves are
// counted.
func (t *Tracker) ObserveCacheEvent(resourceID string, event types.CacheEvent) {
	if event != types.CacheStaleHit {
		return
	}
	t.mu.Lock()
	t.getOrCreate(resourceID).StaleServes++
	t.mu.Unlock()
}

// RecordSuccess records a successful fetch. Any success restores a
// resource to healthy.
func (t *Tracker) RecordSuccess(resource string) {
	t.mu.Lock()
	rh := t.getOrCreate(resource)
	rh.LastCheck = t.clock()
	oldState := rh.State
	rh.ConsecutiveErrors = 0
	rh.LastErrorMessage = ""
	if oldState != StateHealthy {
		t.transition(rh, StateHealthy)
	}
	callbacks := t.callbacks
	t.mu.Unlock()

	if oldState != StateHealthy {
		notify(callbacks, resource, oldState, StateHealthy, nil)
	}
}

// RecordError records a failed fetch.
func (t *Tracker) RecordError(resource string, err error) {
	t.mu.Lock()
	rh := t.getOrCreate(resource)
	rh.LastCheck = t.clock()
	rh.ConsecutiveErrors++
	if err != nil {
		rh.LastErrorMessage = err.Error()
	}

	oldState := rh.State
	newState := oldState
	switch {
	case rh.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case rh.ConsecutiveErrors >= t.config.ErrorThreshold:
		newState = StateDegraded
	}
	if newState != oldState {
		t.transition(rh, newState)
	}
	callbacks := t.callbacks
	t.mu.Unlock()

	if newState != oldState {
		notify(callbacks, resource, oldState, newState, err)
	}
}

func (t *Tracker) transition(rh *ResourceHealth, state HealthState) {
	rh.State = state
	rh.LastStateChange = t.clock()
}

func notify(callbacks []StateChangeCallback, resource string, oldState, newState HealthState, err error) {
	for _, cb := range callbacks {
		cb(resource, oldState, newState, err)
	}
}

// OnStateChange registers a callback run synchronously on every state
// change, after the tracker lock is released.
func (t *Tracker) OnStateChange(cb StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks[:len(t.callbacks):len(t.callbacks)], cb)
}

// State returns the state of a resource. Untracked resources are healthy.
func (t *Tracker) State(resource string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if rh, ok := t.resources[resource]; ok {
		return rh.State
	}
	return StateHealthy
}

// Resource returns a copy of one resource's health.
func (t *Tracker) Resource(resource string) (ResourceHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rh, ok := t.resources[resource]
	if !ok {
		return ResourceHealth{}, fmt.Errorf("resource %s not tracked", resource)
	}
	return *rh, nil
}

// Resources returns copies of every tracked resource sorted by name.
func (t *Tracker) Resources() []ResourceHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ResourceHealth, 0, len(t.resources))
	for _, rh := range t.resources {
		out = append(out, *rh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overall returns the worst state across all resources.
func (t *Tracker) Overall() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, rh := range t.resources {
		if rh.State > overall {
			overall = rh.State
		}
	}
	return overall
}

// Ready reports whether no resource is unavailable.
func (t *Tracker) Ready() bool {
	return t.Overall() != StateUnavailable
}
