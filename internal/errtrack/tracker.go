package errtrack

import (
	"sort"
	"sync"

	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// DefaultLogLimit is the number of events retained before the oldest are dropped.
const DefaultLogLimit = 10000

// Event is a single recorded failure.
type Event = types.ErrorEvent

// SampleCounter counts recorded samples of a metric, optionally inside a
// window. The metrics recorder satisfies it.
type SampleCounter interface {
	CountSamples(name string, window *types.TimeWindow) int
}

// Config configures the error tracker
type Config struct {
	LogLimit int `yaml:"log_limit"`

	// Samples supplies the load-time sample counts error rates divide by.
	Samples SampleCounter           `yaml:"-"`
	Forward types.ErrorRecorder     `yaml:"-"`
	Clock   types.Clock             `yaml:"-"`
	Logger  *utils.StructuredLogger `yaml:"-"`
}

// Tracker keeps a bounded log of error events and derives per-resource
// error rates from it.
type Tracker struct {
	mu      sync.RWMutex
	events  []Event
	limit   int
	samples SampleCounter
	forward types.ErrorRecorder
	clock   types.Clock
	logger  *utils.StructuredLogger
}

// New creates an error tracker
func New(config *Config) *Tracker {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.LogLimit <= 0 {
		cfg.LogLimit = DefaultLogLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Tracker{
		limit:   cfg.LogLimit,
		samples: cfg.Samples,
		forward: cfg.Forward,
		clock:   cfg.Clock.Or(),
		logger:  logger.WithComponent("errtrack"),
	}
}

// RecordError appends event to the log, stamping it with the current time
// when it carries none.
func (t *Tracker) RecordError(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = t.clock()
	}
	if event.Severity == "" {
		event.Severity = types.SeverityMedium
	}

	t.mu.Lock()
	t.events = append(t.events, event)
	if over := len(t.events) - t.limit; over > 0 {
		t.events = append(t.events[:0:0], t.events[over:]...)
	}
	t.mu.Unlock()

	fields := map[string]interface{}{
		"resource": event.ResourceID,
		"type":     string(event.Type),
		"severity": string(event.Severity),
	}
	if event.Context.Variant != "" {
		fields["variant"] = event.Context.Variant
	}
	if event.Severity == types.SeverityCritical {
		t.logger.Error(event.Message, fields)
	} else {
		t.logger.Debug(event.Message, fields)
	}

	if t.forward != nil {
		t.forward.RecordError(event)
	}
}

// Record is shorthand for RecordError.
func (t *Tracker) Record(event Event) {
	t.RecordError(event)
}

// ErrorRate returns the errors of resourceID divided by its recorded
// load-time samples, limited to window when one is given. It is 0 when
// there are no samples.
func (t *Tracker) ErrorRate(resourceID string, window *types.TimeWindow) float64 {
	return t.rate(resourceID, "", window)
}

// VariantErrorRate is ErrorRate restricted to events and samples of one
// A/B variant.
func (t *Tracker) VariantErrorRate(resourceID, variant string, window *types.TimeWindow) float64 {
	return t.rate(resourceID, variant, window)
}

func (t *Tracker) rate(resourceID, variant string, window *types.TimeWindow) float64 {
	if t.samples == nil {
		return 0
	}
	n := t.samples.CountSamples(types.LoadTimeMetric(resourceID, variant), window)
	if n == 0 {
		return 0
	}
	return float64(t.count(resourceID, variant, window)) / float64(n)
}

// ErrorCount returns the number of retained events for resourceID, limited
// to window when one is given.
func (t *Tracker) ErrorCount(resourceID string, window *types.TimeWindow) int {
	return t.count(resourceID, "", window)
}

func (t *Tracker) count(resourceID, variant string, window *types.TimeWindow) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for i := range t.events {
		if t.matches(&t.events[i], resourceID, variant, window) {
			n++
		}
	}
	return n
}

func (t *Tracker) matches(e *Event, resourceID, variant string, window *types.TimeWindow) bool {
	if resourceID != "" && e.ResourceID != resourceID {
		return false
	}
	if variant != "" && e.Context.Variant != variant {
		return false
	}
	return window == nil || window.Contains(e.Timestamp)
}

// Breakdown counts the retained events of resourceID by type. An empty
// resourceID counts every event.
func (t *Tracker) Breakdown(resourceID string) map[types.ErrorType]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[types.ErrorType]int)
	for i := range t.events {
		if t.matches(&t.events[i], resourceID, "", nil) {
			out[t.events[i].Type]++
		}
	}
	return out
}

// Events returns the retained events of resourceID, oldest first. An empty
// resourceID selects every resource.
func (t *Tracker) Events(resourceID string, window *types.TimeWindow) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Event
	for i := range t.events {
		if t.matches(&t.events[i], resourceID, "", window) {
			out = append(out, t.events[i])
		}
	}
	return out
}

// Resources returns every resource id with retained events, sorted.
func (t *Tracker) Resources() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{})
	for i := range t.events {
		seen[t.events[i].ResourceID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of retained events.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Reset drops every retained event.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}
