package budget

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dashcache/dashcache/internal/metrics"
	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// Built-in profile names.
const (
	ProfileDevelopment = "development"
	ProfileProduction  = "production"
	ProfileCustom      = "custom"
)

// CriticalFactor is how far past its good threshold a value must be to
// raise a critical alert instead of a warning.
const CriticalFactor = 1.5

var validate = validator.New()

// Threshold grades one metric.
type Threshold struct {
	Good             float64 `json:"good" yaml:"good" validate:"gt=0"`
	NeedsImprovement float64 `json:"needs_improvement" yaml:"needs_improvement" validate:"gtefield=Good"`
	Poor             float64 `json:"poor" yaml:"poor" validate:"gtefield=NeedsImprovement"`
}

// Rating is the grade of an observed value.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Rate grades value against t.
func (t Threshold) Rate(value float64) Rating {
	switch {
	case value <= t.Good:
		return RatingGood
	case value <= t.NeedsImprovement:
		return RatingNeedsImprovement
	}
	return RatingPoor
}

// Profile is a named set of thresholds. Metric keys are either a sample
// category ("load-time", "render-time", "memory"), matched against the
// latest sample of that category, or an exact metric name.
type Profile struct {
	Name       string               `json:"name" yaml:"name" validate:"required"`
	Thresholds map[string]Threshold `json:"thresholds" yaml:"thresholds" validate:"required,min=1,dive"`
}

// DefaultProfiles returns the development and production profiles.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name: ProfileDevelopment,
			Thresholds: map[string]Threshold{
				string(types.CategoryLoadTime):   {Good: 200, NeedsImprovement: 500, Poor: 1000},
				string(types.CategoryRenderTime): {Good: 100, NeedsImprovement: 250, Poor: 500},
				string(types.CategoryMemory):     {Good: 100, NeedsImprovement: 200, Poor: 400},
			},
		},
		{
			Name: ProfileProduction,
			Thresholds: map[string]Threshold{
				string(types.CategoryLoadTime):   {Good: 100, NeedsImprovement: 300, Poor: 600},
				string(types.CategoryRenderTime): {Good: 50, NeedsImprovement: 150, Poor: 300},
				string(types.CategoryMemory):     {Good: 50, NeedsImprovement: 100, Poor: 200},
			},
		},
	}
}

// ProfileFor returns the built-in profile for an environment name.
func ProfileFor(environment string) string {
	if environment == ProfileProduction {
		return ProfileProduction
	}
	return ProfileDevelopment
}

// MetricResult is the grade of one budgeted metric.
type MetricResult struct {
	Metric    string    `json:"metric"`
	Observed  bool      `json:"observed"`
	Value     float64   `json:"value"`
	Threshold Threshold `json:"threshold"`
	Rating    Rating    `json:"rating,omitempty"`
	Passed    bool      `json:"passed"`
}

// Result is the outcome of one validation.
type Result struct {
	Profile        string          `json:"profile"`
	Passed         bool            `json:"passed"`
	PercentageGood float64         `json:"percentage_good"`
	Metrics        []MetricResult  `json:"metrics"`
	Alerts         []metrics.Alert `json:"alerts"`
	ValidatedAt    time.Time       `json:"validated_at"`
}

// Source supplies the latest observed values.
type Source interface {
	Latest(name string) (metrics.Sample, bool)
	LatestInCategory(category types.Category) (metrics.Sample, bool)
}

// Config configures the budget validator
type Config struct {
	Source  Source
	Profile string

	// Custom registers a "custom" profile when not empty.
	Custom map[string]Threshold

	AlertObserver metrics.AlertObserver
	Clock         types.Clock
	Logger        *utils.StructuredLogger
}

// Validator checks the latest metrics against the active budget profile.
type Validator struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	active   string
	last     *Result
	source   Source
	observer metrics.AlertObserver
	clock    types.Clock
	logger   *utils.StructuredLogger
}

// NewValidator creates a budget validator. An unknown or empty profile
// name selects development.
func NewValidator(config *Config) (*Validator, error) {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	v := &Validator{
		profiles: make(map[string]Profile),
		active:   ProfileDevelopment,
		source:   cfg.Source,
		observer: cfg.AlertObserver,
		clock:    cfg.Clock.Or(),
		logger:   logger.WithComponent("budget"),
	}
	for _, p := range DefaultProfiles() {
		v.profiles[p.Name] = p
	}
	if len(cfg.Custom) > 0 {
		if err := v.AddProfile(Profile{Name: ProfileCustom, Thresholds: cfg.Custom}); err != nil {
			return nil, err
		}
	}

	if cfg.Profile != "" {
		if _, ok := v.profiles[cfg.Profile]; ok {
			v.active = cfg.Profile
		} else {
			v.logger.Warn("unknown budget profile, using development", map[string]interface{}{
				"profile": cfg.Profile,
			})
		}
	}
	return v, nil
}

// AddProfile registers or replaces a profile.
func (v *Validator) AddProfile(p Profile) error {
	if err := validate.Struct(p); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid budget profile").
			WithComponent("budget").
			WithContext("profile", p.Name)
	}

	thresholds := make(map[string]Threshold, len(p.Thresholds))
	for k, t := range p.Thresholds {
		thresholds[k] = t
	}

	v.mu.Lock()
	v.profiles[p.Name] = Profile{Name: p.Name, Thresholds: thresholds}
	v.mu.Unlock()
	return nil
}

// Profiles returns the registered profile names, sorted.
func (v *Validator) Profiles() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.profiles))
	for name := range v.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile returns a registered profile.
func (v *Validator) Profile(name string) (Profile, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.profiles[name]
	return p, ok
}

// ActiveProfile returns the name of the active profile.
func (v *Validator) ActiveProfile() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active
}

// SetProfile activates a profile and validates against it immediately.
// Unknown names leave the active profile unchanged, log a warning and
// return false.
func (v *Validator) SetProfile(name string) bool {
	v.mu.Lock()
	if _, ok := v.profiles[name]; !ok {
		v.mu.Unlock()
		v.logger.Warn("unknown budget profile", map[string]interface{}{"profile": name})
		return false
	}
	v.active = name
	v.mu.Unlock()

	v.logger.Info("budget profile switched", map[string]interface{}{"profile": name})
	v.Validate()
	return true
}

// Validate grades the latest value of every metric in the active profile.
// Metrics with no observation are reported but neither pass nor fail the
// budget. Every violation raises an alert.
func (v *Validator) Validate() Result {
	v.mu.RLock()
	profile := v.profiles[v.active]
	v.mu.RUnlock()

	now := v.clock()
	result := Result{
		Profile:     profile.Name,
		Passed:      true,
		Metrics:     make([]MetricResult, 0, len(profile.Thresholds)),
		Alerts:      []metrics.Alert{},
		ValidatedAt: now,
	}

	keys := make([]string, 0, len(profile.Thresholds))
	for k := range profile.Thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	observed, good := 0, 0
	for _, key := range keys {
		threshold := profile.Thresholds[key]
		mr := MetricResult{Metric: key, Threshold: threshold}

		sample, ok := v.latest(key)
		if !ok {
			result.Metrics = append(result.Metrics, mr)
			continue
		}
		observed++
		mr.Observed = true
		mr.Value = sample.Value
		mr.Rating = threshold.Rate(sample.Value)
		mr.Passed = mr.Rating == RatingGood
		if mr.Passed {
			good++
		} else {
			result.Passed = false
			result.Alerts = append(result.Alerts, violation(profile.Name, key, sample, threshold, now))
		}
		result.Metrics = append(result.Metrics, mr)
	}

	result.PercentageGood = 100
	if observed > 0 {
		result.PercentageGood = float64(good) / float64(observed) * 100
	}

	v.mu.Lock()
	v.last = &result
	v.mu.Unlock()

	for _, alert := range result.Alerts {
		fields := map[string]interface{}{
			"profile":   profile.Name,
			"metric":    alert.Metric,
			"value":     alert.Value,
			"threshold": alert.Threshold,
		}
		if alert.Type == types.SeverityCritical {
			v.logger.Error(alert.Message, fields)
		} else {
			v.logger.Warn(alert.Message, fields)
		}
		if v.observer != nil {
			v.observer.ObserveAlert(alert)
		}
	}
	return result
}

// LastResult returns the most recent validation.
func (v *Validator) LastResult() (Result, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.last == nil {
		return Result{}, false
	}
	return *v.last, true
}

func (v *Validator) latest(key string) (metrics.Sample, bool) {
	if v.source == nil {
		return metrics.Sample{}, false
	}
	switch category := types.Category(key); category {
	case types.CategoryLoadTime, types.CategoryRenderTime, types.CategoryMemory, types.CategoryCustom:
		return v.source.LatestInCategory(category)
	}
	return v.source.Latest(key)
}

func violation(profile, key string, sample metrics.Sample, t Threshold, now time.Time) metrics.Alert {
	severity := types.SeverityWarning
	if sample.Value > t.Good*CriticalFactor {
		severity = types.SeverityCritical
	}
	return metrics.Alert{
		ID:        uuid.NewString(),
		Type:      severity,
		Message:   fmt.Sprintf("%s budget exceeded in %s profile: %.2f > %.2f", key, profile, sample.Value, t.Good),
		Metric:    key,
		Value:     sample.Value,
		Threshold: t.Good,
		Timestamp: now,
		Category:  sample.Category,
	}
}
