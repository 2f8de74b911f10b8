package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// Default recorder limits.
const (
	DefaultHistoryLimit = 1000
	DefaultAlertLimit   = 100
)

// Sample is one recorded observation. Samples are never mutated.
type Sample struct {
	Name      string         `json:"name"`
	Value     float64        `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Category  types.Category `json:"category"`
}

// Alert is raised when a sample crosses its category threshold.
type Alert struct {
	ID         string         `json:"id"`
	Type       types.Severity `json:"type"`
	Message    string         `json:"message"`
	Metric     string         `json:"metric"`
	Value      float64        `json:"value"`
	Threshold  float64        `json:"threshold"`
	Timestamp  time.Time      `json:"timestamp"`
	Category   types.Category `json:"category"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Thresholds are the per-category alert thresholds. Load and render times
// are in milliseconds, memory in megabytes. Zero disables a category; an
// all-zero Thresholds selects the defaults.
type Thresholds struct {
	LoadTimeMS   float64 `yaml:"load_time_ms"`
	RenderTimeMS float64 `yaml:"render_time_ms"`
	MemoryMB     float64 `yaml:"memory_mb"`
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LoadTimeMS:   100,
		RenderTimeMS: 50,
		MemoryMB:     100,
	}
}

// For returns the threshold of category, 0 when the category has none.
func (t Thresholds) For(category types.Category) float64 {
	switch category {
	case types.CategoryLoadTime:
		return t.LoadTimeMS
	case types.CategoryRenderTime:
		return t.RenderTimeMS
	case types.CategoryMemory:
		return t.MemoryMB
	case types.CategoryCustom:
	}
	return 0
}

// AlertObserver is notified of every new alert.
type AlertObserver interface {
	ObserveAlert(alert Alert)
}

// RecorderConfig configures the metrics recorder
type RecorderConfig struct {
	HistoryLimit int        `yaml:"history_limit"`
	AlertLimit   int        `yaml:"alert_limit"`
	Thresholds   Thresholds `yaml:"thresholds"`

	Clock         types.Clock             `yaml:"-"`
	Logger        *utils.StructuredLogger `yaml:"-"`
	AlertObserver AlertObserver           `yaml:"-"`
}

// Recorder keeps a bounded history of samples per metric name and raises
// threshold alerts as samples arrive.
type Recorder struct {
	mu       sync.RWMutex
	series   map[string]*ring
	alerts   []Alert
	config   RecorderConfig
	clock    types.Clock
	logger   *utils.StructuredLogger
	observer AlertObserver
}

// NewRecorder creates a new metrics recorder
func NewRecorder(config *RecorderConfig) *Recorder {
	cfg := RecorderConfig{Thresholds: DefaultThresholds()}
	if config != nil {
		cfg = *config
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.AlertLimit <= 0 {
		cfg.AlertLimit = DefaultAlertLimit
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Recorder{
		series:   make(map[string]*ring),
		config:   cfg,
		clock:    cfg.Clock.Or(),
		logger:   logger.WithComponent("metrics"),
		observer: cfg.AlertObserver,
	}
}

// Record stores a sample and evaluates it against its category threshold.
func (r *Recorder) Record(name string, value float64, category types.Category) {
	r.record(name, value, category, true)
}

// RecordVariant stores a sample of a variant series without threshold
// evaluation.
func (r *Recorder) RecordVariant(name string, value float64, category types.Category) {
	r.record(name, value, category, false)
}

func (r *Recorder) record(name string, value float64, category types.Category, evaluate bool) {
	now := r.clock()
	sample := Sample{Name: name, Value: value, Timestamp: now, Category: category}

	r.mu.Lock()
	s, ok := r.series[name]
	if !ok {
		s = newRing(r.config.HistoryLimit)
		r.series[name] = s
	}
	s.push(sample)
	var (
		alert  Alert
		raised bool
	)
	if evaluate {
		alert, raised = r.evaluate(sample)
	}
	if raised {
		r.alerts = append(r.alerts, alert)
		if over := len(r.alerts) - r.config.AlertLimit; over > 0 {
			r.alerts = append(r.alerts[:0:0], r.alerts[over:]...)
		}
	}
	r.mu.Unlock()

	if !raised {
		return
	}
	fields := map[string]interface{}{
		"metric":    name,
		"value":     value,
		"threshold": alert.Threshold,
	}
	if alert.Type == types.SeverityCritical {
		r.logger.Error(alert.Message, fields)
	} else {
		r.logger.Warn(alert.Message, fields)
	}
	if r.observer != nil {
		r.observer.ObserveAlert(alert)
	}
}

// evaluate returns the alert a sample raises, if any.
func (r *Recorder) evaluate(s Sample) (Alert, bool) {
	threshold := r.config.Thresholds.For(s.Category)
	if threshold <= 0 || !(s.Value > threshold) {
		return Alert{}, false
	}

	severity := types.SeverityWarning
	if s.Value > 2*threshold {
		severity = types.SeverityCritical
	}
	return Alert{
		ID:        uuid.NewString(),
		Type:      severity,
		Message:   fmt.Sprintf("%s exceeded %s threshold: %.2f > %.2f", s.Name, s.Category, s.Value, threshold),
		Metric:    s.Name,
		Value:     s.Value,
		Threshold: threshold,
		Timestamp: s.Timestamp,
		Category:  s.Category,
	}, true
}

// Stats summarizes every retained sample of name.
func (r *Recorder) Stats(name string) Stats {
	return Summarize(r.values(name, nil))
}

// StatsIn summarizes the samples of name recorded inside window.
func (r *Recorder) StatsIn(name string, window types.TimeWindow) Stats {
	return Summarize(r.values(name, &window))
}

func (r *Recorder) values(name string, window *types.TimeWindow) []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.series[name]
	if !ok {
		return nil
	}
	values := make([]float64, 0, s.len())
	s.each(func(sample Sample) {
		if window == nil || window.Contains(sample.Timestamp) {
			values = append(values, sample.Value)
		}
	})
	return values
}

// Samples returns the retained samples of name, oldest first, limited to
// window when one is given.
func (r *Recorder) Samples(name string, window *types.TimeWindow) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.series[name]
	if !ok {
		return nil
	}
	out := make([]Sample, 0, s.len())
	s.each(func(sample Sample) {
		if window == nil || window.Contains(sample.Timestamp) {
			out = append(out, sample)
		}
	})
	return out
}

// CountSamples returns how many samples of name are retained, limited to
// window when one is given.
func (r *Recorder) CountSamples(name string, window *types.TimeWindow) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.series[name]
	if !ok {
		return 0
	}
	if window == nil {
		return s.len()
	}
	n := 0
	s.each(func(sample Sample) {
		if window.Contains(sample.Timestamp) {
			n++
		}
	})
	return n
}

// Latest returns the most recent sample of name.
func (r *Recorder) Latest(name string) (Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.series[name]
	if !ok || s.len() == 0 {
		return Sample{}, false
	}
	return s.last(), true
}

// LatestInCategory returns the most recent sample of any name in category.
func (r *Recorder) LatestInCategory(category types.Category) (Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest Sample
	found := false
	for _, s := range r.series {
		if s.len() == 0 {
			continue
		}
		last := s.last()
		if last.Category != category {
			continue
		}
		if !found || last.Timestamp.After(latest.Timestamp) {
			latest = last
			found = true
		}
	}
	return latest, found
}

// Names returns every metric name with retained samples, sorted.
func (r *Recorder) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.series))
	for name := range r.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Alerts returns the alert log, oldest first.
func (r *Recorder) Alerts() []Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// ActiveAlerts returns unresolved alerts, oldest first.
func (r *Recorder) ActiveAlerts() []Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Alert
	for _, a := range r.alerts {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	return out
}

// Resolve marks the alert with id resolved. It reports whether an unresolved
// alert was found.
func (r *Recorder) Resolve(id string) bool {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.alerts {
		if r.alerts[i].ID == id && !r.alerts[i].Resolved {
			r.alerts[i].Resolved = true
			r.alerts[i].ResolvedAt = &now
			return true
		}
	}
	return false
}

// Reset drops all samples and alerts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.series = make(map[string]*ring)
	r.alerts = nil
}

// Stats summarizes a set of samples. HasData is false, and every field zero,
// when there were none.
type Stats struct {
	HasData bool    `json:"has_data"`
	Count   int     `json:"count"`
	Total   float64 `json:"total"`
	Avg     float64 `json:"avg"`
	Mean    float64 `json:"mean"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	StdDev  float64 `json:"std_dev"`
	Median  float64 `json:"median"`
	P50     float64 `json:"p50"`
	P75     float64 `json:"p75"`
	P90     float64 `json:"p90"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
}

// Summarize computes Stats over values. NaN values are ignored.
func Summarize(values []float64) Stats {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return Stats{}
	}
	sort.Float64s(clean)

	total := 0.0
	for _, v := range clean {
		total += v
	}
	n := float64(len(clean))
	mean := total / n

	variance := 0.0
	for _, v := range clean {
		variance += (v - mean) * (v - mean)
	}
	variance /= n

	return Stats{
		HasData: true,
		Count:   len(clean),
		Total:   total,
		Avg:     mean,
		Mean:    mean,
		Min:     clean[0],
		Max:     clean[len(clean)-1],
		StdDev:  math.Sqrt(variance),
		Median:  Percentile(clean, 50),
		P50:     Percentile(clean, 50),
		P75:     Percentile(clean, 75),
		P90:     Percentile(clean, 90),
		P95:     Percentile(clean, 95),
		P99:     Percentile(clean, 99),
	}
}

// Percentile returns the nearest-rank percentile p of sorted, 0 when empty.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
