package abtest

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"

	"github.com/dashcache/dashcache/internal/metrics"
	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// Decision thresholds.
const (
	// WinMargin is the latency improvement, in percent, either arm must
	// exceed to be declared the winner.
	WinMargin = 5.0

	MaxConfidence         = 95.0
	RolloutConfidence     = 90.0
	CollectConfidence     = 80.0
	ErrorRegressionFactor = 1.5
)

// Recommendation texts.
const (
	RecommendRollout     = "Test variant shows significant improvement. Consider rolling out to all users."
	RecommendInvestigate = "Control variant performs better. Review test implementation for issues."
	RecommendContinue    = "Insufficient data for conclusive results. Continue testing."
	RecommendRegression  = "Test variant has higher error rate. Investigate potential bugs."
)

var validate = validator.New()

// Winner is the outcome of a comparison.
type Winner string

const (
	WinnerControl      Winner = "control"
	WinnerTest         Winner = "test"
	WinnerInconclusive Winner = "inconclusive"
)

// Variants names the two arms of a test. The names are the variant tags
// used when recording samples.
type Variants struct {
	Control string `json:"control" yaml:"control" validate:"required"`
	Test    string `json:"test" yaml:"test" validate:"required,nefield=Control"`
}

// Config describes one A/B test.
type Config struct {
	TestID     string     `json:"test_id" yaml:"test_id" validate:"required"`
	ResourceID string     `json:"resource_id" yaml:"resource_id" validate:"required"`
	Variants   Variants   `json:"variants" yaml:"variants"`
	Metrics    []string   `json:"metrics,omitempty" yaml:"metrics"`
	StartDate  time.Time  `json:"start_date" yaml:"start_date" validate:"required"`
	EndDate    *time.Time `json:"end_date,omitempty" yaml:"end_date"`

	// SplitRatio is the share of sessions assigned to the test arm.
	SplitRatio float64 `json:"split_ratio" yaml:"split_ratio" validate:"gte=0,lte=1"`

	// MinSamples is the smallest per-arm sample count that can produce a
	// winner. Zero means 1.
	MinSamples int `json:"min_samples,omitempty" yaml:"min_samples" validate:"gte=0"`
}

// VariantMetrics summarizes one arm over the analysis window.
type VariantMetrics struct {
	Variant    string        `json:"variant"`
	SampleSize int           `json:"sample_size"`
	LoadTime   metrics.Stats `json:"load_time"`
	RenderTime metrics.Stats `json:"render_time"`
	ErrorRate  float64       `json:"error_rate"`
}

// Analysis is the statistical verdict of a test.
type Analysis struct {
	Winner Winner `json:"winner"`

	// Confidence is min(95, smaller arm size / 10). It grows with sample
	// size only and is not a statistical confidence level.
	Confidence float64 `json:"confidence"`

	// Improvement is the test arm's load-time reduction relative to
	// control, in percent.
	Improvement float64 `json:"improvement"`

	// SignificanceLevel is a two-sided p-value from a normal approximation
	// of Welch's t statistic on load time.
	SignificanceLevel float64 `json:"significance_level"`
}

// Results are derived on demand and never stored as truth.
type Results struct {
	TestID          string           `json:"test_id"`
	ResourceID      string           `json:"resource_id"`
	Window          types.TimeWindow `json:"window"`
	Control         VariantMetrics   `json:"control"`
	Test            VariantMetrics   `json:"test"`
	Analysis        Analysis         `json:"analysis"`
	Recommendations []string         `json:"recommendations"`
	AnalyzedAt      time.Time        `json:"analyzed_at"`
}

// StatsSource supplies windowed statistics of a metric.
type StatsSource interface {
	StatsIn(name string, window types.TimeWindow) metrics.Stats
}

// ErrorRateSource supplies per-variant error rates.
type ErrorRateSource interface {
	VariantErrorRate(resourceID, variant string, window *types.TimeWindow) float64
}

// AnalyzerConfig wires the analyzer to its data sources.
type AnalyzerConfig struct {
	Stats  StatsSource
	Errors ErrorRateSource
	Clock  types.Clock
	Logger *utils.StructuredLogger
}

// Analyzer holds configured tests and compares their arms on request.
type Analyzer struct {
	mu      sync.RWMutex
	tests   map[string]Config
	results map[string]*Results
	stats   StatsSource
	errs    ErrorRateSource
	clock   types.Clock
	logger  *utils.StructuredLogger
}

// NewAnalyzer creates an A/B analyzer
func NewAnalyzer(config *AnalyzerConfig) *Analyzer {
	cfg := AnalyzerConfig{}
	if config != nil {
		cfg = *config
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Analyzer{
		tests:   make(map[string]Config),
		results: make(map[string]*Results),
		stats:   cfg.Stats,
		errs:    cfg.Errors,
		clock:   cfg.Clock.Or(),
		logger:  logger.WithComponent("abtest"),
	}
}

// Setup registers a test, replacing any test with the same id.
func (a *Analyzer) Setup(config Config) error {
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid A/B test configuration").
			WithComponent("abtest").
			WithContext("test_id", config.TestID)
	}
	if config.EndDate != nil && config.EndDate.Before(config.StartDate) {
		return errors.NewError(errors.ErrCodeConfigValidation, "A/B test ends before it starts").
			WithComponent("abtest").
			WithContext("test_id", config.TestID)
	}

	a.mu.Lock()
	a.tests[config.TestID] = config
	delete(a.results, config.TestID)
	a.mu.Unlock()

	a.logger.Info("A/B test configured", map[string]interface{}{
		"test_id":  config.TestID,
		"resource": config.ResourceID,
		"control":  config.Variants.Control,
		"test":     config.Variants.Test,
		"split":    config.SplitRatio,
	})
	return nil
}

// Remove drops a test and its cached results.
func (a *Analyzer) Remove(testID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.tests[testID]; !ok {
		return false
	}
	delete(a.tests, testID)
	delete(a.results, testID)
	return true
}

// Tests returns the configured test ids, sorted.
func (a *Analyzer) Tests() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.tests))
	for id := range a.tests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Config returns the configuration of testID.
func (a *Analyzer) Config(testID string) (Config, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cfg, ok := a.tests[testID]
	return cfg, ok
}

// Assign places a session in one arm of testID. The same session always
// lands in the same arm: its hash picks a bucket in [1, 100] and buckets up
// to SplitRatio x 100 go to the test arm.
func (a *Analyzer) Assign(testID, sessionID string) (string, bool) {
	cfg, ok := a.Config(testID)
	if !ok {
		a.logger.Warn("unknown A/B test", map[string]interface{}{"test_id": testID})
		return "", false
	}
	bucket := xxhash.Sum64String(testID+":"+sessionID)%100 + 1
	if float64(bucket) <= cfg.SplitRatio*100 {
		return cfg.Variants.Test, true
	}
	return cfg.Variants.Control, true
}

// Analyze compares both arms of testID over [StartDate, EndDate or now].
// It returns false, and logs a warning, for an unknown test.
func (a *Analyzer) Analyze(testID string) (*Results, bool) {
	cfg, ok := a.Config(testID)
	if !ok {
		a.logger.Warn("unknown A/B test", map[string]interface{}{"test_id": testID})
		return nil, false
	}

	now := a.clock()
	end := now
	if cfg.EndDate != nil {
		end = *cfg.EndDate
	}
	window := types.TimeWindow{Start: cfg.StartDate, End: end}

	control := a.variantMetrics(cfg.ResourceID, cfg.Variants.Control, window)
	test := a.variantMetrics(cfg.ResourceID, cfg.Variants.Test, window)
	analysis := Compare(control, test, cfg.MinSamples)

	results := &Results{
		TestID:          testID,
		ResourceID:      cfg.ResourceID,
		Window:          window,
		Control:         control,
		Test:            test,
		Analysis:        analysis,
		Recommendations: Recommend(analysis, control, test),
		AnalyzedAt:      now,
	}

	a.mu.Lock()
	a.results[testID] = results
	a.mu.Unlock()

	a.logger.Debug("A/B test analyzed", map[string]interface{}{
		"test_id":     testID,
		"winner":      string(analysis.Winner),
		"improvement": fmt.Sprintf("%.1f%%", analysis.Improvement),
		"confidence":  analysis.Confidence,
	})
	return results, true
}

// LastResults returns the most recent analysis of testID.
func (a *Analyzer) LastResults(testID string) (*Results, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.results[testID]
	return r, ok
}

func (a *Analyzer) variantMetrics(resourceID, variant string, window types.TimeWindow) VariantMetrics {
	vm := VariantMetrics{Variant: variant}
	if a.stats != nil {
		vm.LoadTime = a.stats.StatsIn(types.LoadTimeMetric(resourceID, variant), window)
		vm.RenderTime = a.stats.StatsIn(types.RenderTimeMetric(resourceID, variant), window)
		vm.SampleSize = vm.LoadTime.Count
	}
	if a.errs != nil {
		vm.ErrorRate = a.errs.VariantErrorRate(resourceID, variant, &window)
	}
	return vm
}

// Compare decides between two arms on mean load time.
func Compare(control, test VariantMetrics, minSamples int) Analysis {
	if minSamples <= 0 {
		minSamples = 1
	}
	smaller := control.SampleSize
	if test.SampleSize < smaller {
		smaller = test.SampleSize
	}

	analysis := Analysis{
		Winner:            WinnerInconclusive,
		Confidence:        math.Min(MaxConfidence, float64(smaller)/10),
		SignificanceLevel: welchPValue(control.LoadTime, test.LoadTime),
	}
	controlMean := control.LoadTime.Mean
	if smaller < minSamples || controlMean == 0 {
		return analysis
	}

	analysis.Improvement = (controlMean - test.LoadTime.Mean) / controlMean * 100
	switch {
	case analysis.Improvement > WinMargin:
		analysis.Winner = WinnerTest
	case analysis.Improvement < -WinMargin:
		analysis.Winner = WinnerControl
	}
	return analysis
}

// Recommend turns an analysis into advice. At most one of rollout,
// investigate or continue is given; the error regression flag is
// independent of latency.
func Recommend(analysis Analysis, control, test VariantMetrics) []string {
	recs := []string{}
	switch {
	case analysis.Winner == WinnerTest && analysis.Confidence > RolloutConfidence:
		recs = append(recs, RecommendRollout)
	case analysis.Winner == WinnerControl:
		recs = append(recs, RecommendInvestigate)
	case analysis.Confidence < CollectConfidence:
		recs = append(recs, RecommendContinue)
	}
	if test.ErrorRate > control.ErrorRate*ErrorRegressionFactor {
		recs = append(recs, RecommendRegression)
	}
	return recs
}

// welchPValue returns the two-sided p-value of the difference in means,
// treating Welch's t as standard normal. It is 1 when either arm has fewer
// than two samples.
func welchPValue(a, b metrics.Stats) float64 {
	if a.Count < 2 || b.Count < 2 {
		return 1
	}
	// Stats carries the population deviation; rescale to the sample variance.
	va := a.StdDev * a.StdDev * float64(a.Count) / float64(a.Count-1)
	vb := b.StdDev * b.StdDev * float64(b.Count) / float64(b.Count-1)
	se := math.Sqrt(va/float64(a.Count) + vb/float64(b.Count))
	diff := math.Abs(a.Mean - b.Mean)
	if se == 0 {
		if diff == 0 {
			return 1
		}
		return 0
	}
	return math.Erfc(diff / se / math.Sqrt2)
}
