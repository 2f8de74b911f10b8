package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashcache/dashcache/internal/abtest"
	"github.com/dashcache/dashcache/internal/budget"
	"github.com/dashcache/dashcache/internal/cache"
	"github.com/dashcache/dashcache/internal/config"
	"github.com/dashcache/dashcache/internal/report"
	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/health"
	"github.com/dashcache/dashcache/pkg/memmon"
	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Metrics.MemorySampleInterval = 0
	cfg.Cache.SweepInterval = 0
	return cfg
}

func newMonitor(t *testing.T, cfg *config.Configuration, opts *Options) *Monitor {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return now }
	}
	m, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func request(resourceID, variant string) cache.Request {
	cfg, _ := cache.Preset(cache.StrategyStandard)
	return cache.Request{
		Params:   cache.KeyParams{ResourceID: resourceID},
		Config:   cfg,
		Source:   types.SourceQuery,
		Priority: types.PriorityMedium,
		Variant:  variant,
	}
}

func okFetch(v interface{}) cache.FetchFunc {
	return func(context.Context) (interface{}, error) { return v, nil }
}

func TestNewWiresComponents(t *testing.T) {
	m := newMonitor(t, testConfig(), nil)

	assert.NotNil(t, m.Engine())
	assert.NotNil(t, m.Recorder())
	assert.NotNil(t, m.Collector())
	assert.NotNil(t, m.Errors())
	assert.NotNil(t, m.Health())
	assert.NotNil(t, m.ABTests())
	assert.NotNil(t, m.Reports())
	assert.NotNil(t, m.Scheduler())
	assert.NotNil(t, m.Budget())
	assert.Nil(t, m.Memory(), "memory sampling disabled with a zero interval")
	assert.Equal(t, budget.ProfileDevelopment, m.Budget().ActiveProfile())
	assert.Nil(t, m.Collector().Registry(), "prometheus disabled by default")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Shards = 0

	_, err := New(cfg, &Options{Logger: utils.NewNopLogger()})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigValidation))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.GlobalConfig{LogLevel: "DEBUG", LogFormat: "json", Environment: "test"})
	require.NoError(t, err)
	assert.Equal(t, utils.DEBUG, logger.GetLevel())
	assert.Equal(t, "test", logger.Fields()["environment"])

	_, err = NewLogger(config.GlobalConfig{LogLevel: "LOUD"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func TestGetRecordsSamplesAndHealth(t *testing.T) {
	m := newMonitor(t, testConfig(), nil)

	res, err := m.Get(context.Background(), request("orders", "B"), okFetch([]int{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, cache.SourceFetch, res.Source)

	res, err = m.Get(context.Background(), request("orders", "B"), okFetch(nil))
	require.NoError(t, err)
	assert.Equal(t, cache.SourceCache, res.Source)
	assert.Equal(t, []int{1, 2, 3}, res.Data)

	assert.Equal(t, 1, m.Recorder().CountSamples(types.LoadTimeMetric("orders", ""), nil))
	assert.Equal(t, 1, m.Recorder().CountSamples(types.LoadTimeMetric("orders", "B"), nil))

	status := m.Status()
	assert.Equal(t, health.StateHealthy, status.Health)
	require.Len(t, status.Resources, 1)
	assert.Equal(t, "orders", status.Resources[0].Name)
	assert.Equal(t, 1, status.CacheEntries)
	assert.Equal(t, uint64(1), status.Cache["orders"].Hits)
	assert.Equal(t, now, status.Timestamp)
	assert.Nil(t, status.Budget)
}

func TestSlowVariantFetchRaisesOneAlert(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Prometheus.Enabled = true
	m := newMonitor(t, cfg, nil)

	slow := func(context.Context) (interface{}, error) {
		time.Sleep(120 * time.Millisecond)
		return "rows", nil
	}
	_, err := m.Get(context.Background(), request("slow", "B"), slow)
	require.NoError(t, err)

	alerts := m.Recorder().Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.LoadTimeMetric("slow", ""), alerts[0].Metric)
	assert.Equal(t, 1, m.Recorder().CountSamples(types.LoadTimeMetric("slow", "B"), nil))

	families, err := m.Collector().Registry().Gather()
	require.NoError(t, err)
	var observed uint64
	for _, f := range families {
		if !strings.HasSuffix(f.GetName(), "sample_value") {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "category" && label.GetValue() == string(types.CategoryLoadTime) {
					observed += metric.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	assert.Equal(t, uint64(1), observed, "one load sample exported per fetch")
}

func TestFetchFailuresReachTrackerAndHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Health.ErrorThreshold = 2
	cfg.Health.UnavailableThreshold = 4
	m := newMonitor(t, cfg, nil)

	// one success so the error rate has a denominator
	_, err := m.Get(context.Background(), request("kpis", ""), okFetch(1))
	require.NoError(t, err)
	m.Engine().InvalidateResource("kpis")

	failing := func(context.Context) (interface{}, error) { return nil, fmt.Errorf("upstream 503") }
	for i := 0; i < 2; i++ {
		_, err := m.Get(context.Background(), request("kpis", ""), failing)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeFetchFailed))
	}

	window := types.Last(now, time.Hour)
	assert.Equal(t, 2, m.Errors().ErrorCount("kpis", nil))
	assert.Equal(t, 2.0, m.Errors().ErrorRate("kpis", &window))
	assert.Equal(t, health.StateDegraded, m.Health().State("kpis"))
	assert.Equal(t, map[types.ErrorType]int{types.ErrorTypeDataFetch: 2}, m.Status().Errors)

	_, err = m.Get(context.Background(), request("kpis", ""), okFetch(2))
	require.NoError(t, err)
	assert.Equal(t, health.StateHealthy, m.Health().State("kpis"))
}

func TestRecordRender(t *testing.T) {
	m := newMonitor(t, testConfig(), nil)

	m.RecordRender("orders", "", 40*time.Millisecond)
	m.RecordRender("orders", "A", 80*time.Millisecond)

	overall := m.Recorder().Stats(types.RenderTimeMetric("orders", ""))
	assert.Equal(t, 2, overall.Count)
	assert.Equal(t, 60.0, overall.Avg)

	variant := m.Recorder().Stats(types.RenderTimeMetric("orders", "A"))
	assert.Equal(t, 1, variant.Count)

	alerts := m.Recorder().Alerts()
	require.Len(t, alerts, 1, "the variant series shares the resource series alert")
	assert.Equal(t, types.SeverityWarning, alerts[0].Type)
	assert.Equal(t, types.RenderTimeMetric("orders", ""), alerts[0].Metric)

	m.RecordRenderError("orders", "A", fmt.Errorf("chart crashed"))
	assert.Equal(t, map[types.ErrorType]int{types.ErrorTypeRender: 1}, m.Errors().Breakdown("orders"))
}

func TestBudgetFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Global.Environment = "production"
	m := newMonitor(t, cfg, nil)
	assert.Equal(t, budget.ProfileProduction, m.Budget().ActiveProfile())

	cfg = testConfig()
	cfg.Budget.Profile = "custom"
	cfg.Budget.Custom = map[string]config.BudgetThreshold{
		"orders.load_time": {Good: 100, NeedsImprovement: 200, Poor: 400},
	}
	m = newMonitor(t, cfg, nil)
	assert.Equal(t, budget.ProfileCustom, m.Budget().ActiveProfile())

	m.Recorder().Record(types.LoadTimeMetric("orders", ""), 250, types.CategoryLoadTime)
	result := m.Budget().Validate()
	assert.False(t, result.Passed)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, types.SeverityCritical, result.Alerts[0].Type)

	status := m.Status()
	require.NotNil(t, status.Budget)
	assert.Equal(t, budget.ProfileCustom, status.Budget.Profile)
}

func TestABTestOverMonitor(t *testing.T) {
	m := newMonitor(t, testConfig(), nil)

	for i := 0; i < 20; i++ {
		m.Recorder().Record(types.LoadTimeMetric("orders", "control"), 200, types.CategoryLoadTime)
		m.Recorder().Record(types.LoadTimeMetric("orders", "fast"), 150, types.CategoryLoadTime)
	}
	require.NoError(t, m.ABTests().Setup(abtest.Config{
		TestID:     "checkout",
		ResourceID: "orders",
		Variants:   abtest.Variants{Control: "control", Test: "fast"},
		StartDate:  now.Add(-time.Hour),
		SplitRatio: 0.5,
		MinSamples: 10,
	}))

	results, ok := m.ABTests().Analyze("checkout")
	require.True(t, ok)
	assert.InDelta(t, 25.0, results.Analysis.Improvement, 1e-9)
	assert.Equal(t, abtest.WinnerTest, results.Analysis.Winner)
	assert.Equal(t, 2.0, results.Analysis.Confidence)
}

type reportSink struct {
	mu      sync.Mutex
	reports []*report.Report
}

func (s *reportSink) Notify(_ context.Context, r *report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *reportSink) Name() string { return "sink" }

func (s *reportSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func TestStartRunsScheduledReports(t *testing.T) {
	cfg := testConfig()
	cfg.Reporting.Enabled = true
	cfg.Reporting.DailyInterval = 10 * time.Millisecond
	cfg.Reporting.WeeklyInterval = time.Hour

	sink := &reportSink{}
	m := newMonitor(t, cfg, &Options{Notifiers: []report.Notifier{sink}})

	require.NoError(t, m.Start(context.Background()))
	err := m.Start(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyStarted))

	assert.Eventually(t, func() bool { return sink.Len() > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	last, ok := m.Scheduler().Last(report.PeriodDaily)
	require.True(t, ok)
	assert.Equal(t, report.PeriodDaily, last.Type)
}

func TestMemorySamplerFeedsRecorder(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.MemorySampleInterval = 5 * time.Millisecond

	reader := func() (memmon.MemorySample, error) {
		return memmon.MemorySample{Timestamp: now, RSS: 150 * 1024 * 1024}, nil
	}
	m := newMonitor(t, cfg, &Options{MemoryReader: reader})
	require.NotNil(t, m.Memory())

	require.NoError(t, m.Start(context.Background()))

	assert.Eventually(t, func() bool {
		_, ok := m.Recorder().Latest(memmon.DefaultMetricName)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	sample, _ := m.Recorder().LatestInCategory(types.CategoryMemory)
	assert.Equal(t, 150.0, sample.Value)

	var memoryAlert bool
	for _, a := range m.Recorder().Alerts() {
		if a.Category == types.CategoryMemory {
			memoryAlert = true
		}
	}
	assert.True(t, memoryAlert, "150MB exceeds the 100MB memory threshold")
}

func TestPrometheusCollectsCacheActivity(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Prometheus.Enabled = true
	m := newMonitor(t, cfg, nil)

	_, err := m.Get(context.Background(), request("orders", ""), okFetch(1))
	require.NoError(t, err)
	m.Recorder().Record("orders.render_time", 500, types.CategoryRenderTime)

	families, err := m.Collector().Registry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "dashcache_cache_events_total")
	assert.Contains(t, joined, "dashcache_load_duration_seconds")
	assert.Contains(t, joined, "dashcache_alerts_total")
	assert.Contains(t, joined, "dashcache_cache_entries")
}
