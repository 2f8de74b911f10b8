package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dashcache/dashcache/internal/metrics"
	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// Period selects a report window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodCustom  Period = "custom"
)

// Length returns the window length of p, 0 for custom.
func (p Period) Length() time.Duration {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	case PeriodCustom:
	}
	return 0
}

// ParsePeriod parses a period name.
func ParsePeriod(s string) (Period, bool) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodCustom:
		return p, true
	}
	return "", false
}

// Scoring and issue thresholds.
const (
	TopN = 5

	LoadWeight   = 0.4
	RenderWeight = 0.3
	ErrorWeight  = 0.3

	ErrorRateHigh     = 0.05
	ErrorRateCritical = 0.10
	LoadTimeHigh      = 500.0
	LoadTimeCritical  = 1000.0

	TargetScore        = 70.0
	TargetErrorRate    = 0.02
	EmptyReportScore   = 100.0
	DefaultSensitivity = 2.0
)

// Report recommendation texts.
const (
	RecommendOptimizeSlowest = "Overall performance is below target. Focus on optimizing slowest resources."
	RecommendErrorHandling   = "Error rate exceeds 2%. Implement comprehensive error handling."
	RecommendKeepOptimizing  = "Performance improvements are showing positive results. Continue optimization efforts."
)

// IssueType classifies a performance issue.
type IssueType string

const (
	IssueSlowLoad       IssueType = "slow-load"
	IssueDataFetchDelay IssueType = "data-fetch-delay"
	IssueAnomaly        IssueType = "anomaly"
)

// Issue is a problem found while building a report.
type Issue struct {
	Type           IssueType      `json:"type"`
	Severity       types.Severity `json:"severity"`
	ResourceID     string         `json:"resource_id"`
	Description    string         `json:"description"`
	AffectedCount  int            `json:"affected_count"`
	Recommendation string         `json:"recommendation"`
}

// Trend is the latency direction of one resource against the previous
// window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// ResourcePerformance scores one resource over the report window.
type ResourcePerformance struct {
	ResourceID string  `json:"resource_id"`
	LoadTime   float64 `json:"load_time"`
	RenderTime float64 `json:"render_time"`
	ErrorRate  float64 `json:"error_rate"`
	SampleSize int     `json:"sample_size"`
	Trend      Trend   `json:"trend"`
	Score      int     `json:"score"`
}

// Summary aggregates every scored resource.
type Summary struct {
	TotalResources   int     `json:"total_resources"`
	AvgLoadTime      float64 `json:"avg_load_time"`
	AvgRenderTime    float64 `json:"avg_render_time"`
	OverallErrorRate float64 `json:"overall_error_rate"`
	PerformanceScore float64 `json:"performance_score"`
}

// Report is a point-in-time performance report.
type Report struct {
	ID               string                `json:"id"`
	GeneratedAt      time.Time             `json:"generated_at"`
	Type             Period                `json:"type"`
	Window           types.TimeWindow      `json:"window"`
	Summary          Summary               `json:"summary"`
	Resources        []ResourcePerformance `json:"resources"`
	TopPerformers    []ResourcePerformance `json:"top_performers"`
	BottomPerformers []ResourcePerformance `json:"bottom_performers"`
	CriticalIssues   []Issue               `json:"critical_issues"`
	Trends           []MetricTrend         `json:"trends"`
	Recommendations  []string              `json:"recommendations"`
}

// MetricsSource is the sample store a report reads.
type MetricsSource interface {
	Names() []string
	Stats(name string) metrics.Stats
	StatsIn(name string, window types.TimeWindow) metrics.Stats
}

// ErrorSource supplies per-resource error rates.
type ErrorSource interface {
	ErrorRate(resourceID string, window *types.TimeWindow) float64
}

// GeneratorConfig wires the generator to its data sources.
type GeneratorConfig struct {
	Metrics MetricsSource
	Errors  ErrorSource

	// ExportWindow is the window Export covers. Zero means 30 days.
	ExportWindow time.Duration

	Clock  types.Clock
	Logger *utils.StructuredLogger
}

// Generator builds reports on demand from the recorder and error tracker.
type Generator struct {
	metrics      MetricsSource
	errs         ErrorSource
	exportWindow time.Duration
	clock        types.Clock
	logger       *utils.StructuredLogger
}

// NewGenerator creates a report generator
func NewGenerator(config *GeneratorConfig) *Generator {
	cfg := GeneratorConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.ExportWindow <= 0 {
		cfg.ExportWindow = PeriodMonthly.Length()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Generator{
		metrics:      cfg.Metrics,
		errs:         cfg.Errors,
		exportWindow: cfg.ExportWindow,
		clock:        cfg.Clock.Or(),
		logger:       logger.WithComponent("report"),
	}
}

// Generate builds a report for period. A non-nil custom window overrides
// the period's own window.
func (g *Generator) Generate(period Period, custom *types.TimeWindow) *Report {
	now := g.clock()

	var window types.TimeWindow
	switch {
	case custom != nil:
		window = *custom
	case period.Length() > 0:
		window = types.Last(now, period.Length())
	default:
		window = types.Last(now, PeriodDaily.Length())
	}
	previous := types.TimeWindow{
		Start: window.Start.Add(-window.Duration()),
		End:   window.Start,
	}

	resources := g.scoreResources(window, previous)
	summary := summarize(resources)
	issues := findIssues(resources)
	trends := g.analyzeTrends(period, window, previous)

	sorted := make([]ResourcePerformance, len(resources))
	copy(sorted, resources)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	r := &Report{
		ID:               uuid.NewString(),
		GeneratedAt:      now,
		Type:             period,
		Window:           window,
		Summary:          summary,
		Resources:        sorted,
		TopPerformers:    top(sorted, TopN),
		BottomPerformers: bottom(sorted, TopN),
		CriticalIssues:   issues,
		Trends:           trends,
	}
	r.Recommendations = recommend(r)

	g.logger.Debug("report generated", map[string]interface{}{
		"id":        r.ID,
		"type":      string(period),
		"resources": summary.TotalResources,
		"score":     summary.PerformanceScore,
		"issues":    len(issues),
	})
	return r
}

// Resources returns every resource with load-time samples, sorted. Variant
// series are skipped since each variant sample is also recorded under the
// bare resource name.
func (g *Generator) Resources() []string {
	if g.metrics == nil {
		return nil
	}
	var ids []string
	for _, name := range g.metrics.Names() {
		resourceID, variant, suffix, ok := types.ParseMetricName(name)
		if !ok || variant != "" || suffix != types.LoadTimeSuffix {
			continue
		}
		ids = append(ids, resourceID)
	}
	sort.Strings(ids)
	return ids
}

func (g *Generator) scoreResources(window, previous types.TimeWindow) []ResourcePerformance {
	var out []ResourcePerformance
	for _, id := range g.Resources() {
		load := g.metrics.StatsIn(types.LoadTimeMetric(id, ""), window)
		if !load.HasData {
			continue
		}
		render := g.metrics.StatsIn(types.RenderTimeMetric(id, ""), window)
		errorRate := g.errorRate(id, window)

		before := g.metrics.StatsIn(types.LoadTimeMetric(id, ""), previous)
		out = append(out, ResourcePerformance{
			ResourceID: id,
			LoadTime:   load.Mean,
			RenderTime: render.Mean,
			ErrorRate:  errorRate,
			SampleSize: load.Count,
			Trend:      resourceTrend(load, before),
			Score:      Score(load.Mean, render.Mean, errorRate),
		})
	}
	return out
}

func (g *Generator) errorRate(resourceID string, window types.TimeWindow) float64 {
	if g.errs == nil {
		return 0
	}
	return g.errs.ErrorRate(resourceID, &window)
}

// Score rates a resource from 0 to 100. Load time costs a point per 10ms,
// render time a point per 5ms, and error rate a point per 0.1%.
func Score(loadTimeMS, renderTimeMS, errorRate float64) int {
	loadScore := math.Max(0, 100-loadTimeMS/10)
	renderScore := math.Max(0, 100-renderTimeMS/5)
	errorScore := math.Max(0, 100-errorRate*1000)

	return int(math.Round(loadScore*LoadWeight + renderScore*RenderWeight + errorScore*ErrorWeight))
}

func resourceTrend(current, previous metrics.Stats) Trend {
	if !current.HasData || !previous.HasData || previous.Mean == 0 {
		return TrendStable
	}
	change := (current.Mean - previous.Mean) / previous.Mean * 100
	switch {
	case change < -StableBand:
		return TrendImproving
	case change > StableBand:
		return TrendDegrading
	}
	return TrendStable
}

func summarize(resources []ResourcePerformance) Summary {
	if len(resources) == 0 {
		return Summary{PerformanceScore: EmptyReportScore}
	}

	var s Summary
	var score float64
	for _, r := range resources {
		s.AvgLoadTime += r.LoadTime
		s.AvgRenderTime += r.RenderTime
		s.OverallErrorRate += r.ErrorRate
		score += float64(r.Score)
	}
	n := float64(len(resources))
	s.TotalResources = len(resources)
	s.AvgLoadTime /= n
	s.AvgRenderTime /= n
	s.OverallErrorRate /= n
	s.PerformanceScore = score / n
	return s
}

func top(sorted []ResourcePerformance, n int) []ResourcePerformance {
	if len(sorted) < n {
		n = len(sorted)
	}
	out := make([]ResourcePerformance, n)
	copy(out, sorted[:n])
	return out
}

// bottom returns the n lowest scores, worst first.
func bottom(sorted []ResourcePerformance, n int) []ResourcePerformance {
	if len(sorted) < n {
		n = len(sorted)
	}
	out := make([]ResourcePerformance, 0, n)
	for i := len(sorted) - 1; i >= len(sorted)-n; i-- {
		out = append(out, sorted[i])
	}
	return out
}

func findIssues(resources []ResourcePerformance) []Issue {
	issues := []Issue{}
	for _, r := range resources {
		if r.ErrorRate > ErrorRateHigh {
			severity := types.SeverityHigh
			if r.ErrorRate > ErrorRateCritical {
				severity = types.SeverityCritical
			}
			issues = append(issues, Issue{
				Type:           IssueDataFetchDelay,
				Severity:       severity,
				ResourceID:     r.ResourceID,
				Description:    fmt.Sprintf("Resource %s has %.1f%% error rate", r.ResourceID, r.ErrorRate*100),
				AffectedCount:  int(math.Round(float64(r.SampleSize) * r.ErrorRate)),
				Recommendation: "Review error logs and implement retry logic",
			})
		}
		if r.LoadTime > LoadTimeHigh {
			severity := types.SeverityHigh
			if r.LoadTime > LoadTimeCritical {
				severity = types.SeverityCritical
			}
			issues = append(issues, Issue{
				Type:           IssueSlowLoad,
				Severity:       severity,
				ResourceID:     r.ResourceID,
				Description:    fmt.Sprintf("Resource %s takes %.0fms to load", r.ResourceID, r.LoadTime),
				AffectedCount:  r.SampleSize,
				Recommendation: "Implement lazy loading and optimize bundle size",
			})
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity.Rank() > issues[j].Severity.Rank()
	})
	return issues
}

func recommend(r *Report) []string {
	recs := []string{}
	if r.Summary.PerformanceScore < TargetScore {
		recs = append(recs, RecommendOptimizeSlowest)
	}
	if r.Summary.OverallErrorRate > TargetErrorRate {
		recs = append(recs, RecommendErrorHandling)
	}

	critical := 0
	for _, issue := range r.CriticalIssues {
		if issue.Severity == types.SeverityCritical {
			critical++
		}
	}
	if critical > 0 {
		recs = append(recs, fmt.Sprintf("Address %d critical performance issues immediately.", critical))
	}

	for _, t := range r.Trends {
		if t.Direction == DirectionDown && strings.HasSuffix(t.Metric, "Time") {
			recs = append(recs, RecommendKeepOptimizing)
			break
		}
	}
	return recs
}

// DetectAnomalies flags a resource whose slowest retained load time lies
// more than sensitivity standard deviations above its mean. A sensitivity
// of 0 or less means 2.
func (g *Generator) DetectAnomalies(resourceID string, sensitivity float64) []Issue {
	if g.metrics == nil {
		return nil
	}
	if sensitivity <= 0 {
		sensitivity = DefaultSensitivity
	}

	stats := g.metrics.Stats(types.LoadTimeMetric(resourceID, ""))
	if !stats.HasData {
		return nil
	}
	threshold := stats.Mean + stats.StdDev*sensitivity
	if !(stats.Max > threshold) {
		return nil
	}
	return []Issue{{
		Type:           IssueAnomaly,
		Severity:       types.SeverityMedium,
		ResourceID:     resourceID,
		Description:    fmt.Sprintf("Performance anomaly detected: max load time (%.0fms) exceeds threshold (%.0fms)", stats.Max, threshold),
		AffectedCount:  1,
		Recommendation: "Investigate environmental factors causing performance spikes",
	}}
}
