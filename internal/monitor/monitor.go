package monitor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/dashcache/dashcache/internal/abtest"
	"github.com/dashcache/dashcache/internal/budget"
	"github.com/dashcache/dashcache/internal/cache"
	"github.com/dashcache/dashcache/internal/circuit"
	"github.com/dashcache/dashcache/internal/config"
	"github.com/dashcache/dashcache/internal/errtrack"
	"github.com/dashcache/dashcache/internal/metrics"
	"github.com/dashcache/dashcache/internal/report"
	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/health"
	"github.com/dashcache/dashcache/pkg/memmon"
	"github.com/dashcache/dashcache/pkg/retry"
	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// Options carries dependencies that do not come from configuration.
type Options struct {
	Clock  types.Clock
	Logger *utils.StructuredLogger

	// MemoryReader replaces the process memory reader.
	MemoryReader memmon.Reader

	// Notifiers receive scheduled reports in addition to the log notifier
	// and the configured webhook.
	Notifiers []report.Notifier
}

// Monitor owns one instance of every component and the wiring between them.
type Monitor struct {
	config *config.Configuration
	clock  types.Clock
	logger *utils.StructuredLogger

	recorder  *metrics.Recorder
	collector *metrics.Collector
	errors    *errtrack.Tracker
	health    *health.Tracker
	engine    *cache.Engine
	abtests   *abtest.Analyzer
	reports   *report.Generator
	scheduler *report.Scheduler
	budget    *budget.Validator
	memory    *memmon.MemoryMonitor

	mu      sync.Mutex
	started bool
}

// New validates cfg and builds every component from it. A nil cfg uses
// config.NewDefault.
func New(cfg *config.Configuration, opts *Options) (*Monitor, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if opts == nil {
		opts = &Options{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(cfg.Global); err != nil {
			return nil, err
		}
	}

	m := &Monitor{
		config: cfg,
		clock:  opts.Clock.Or(),
		logger: logger.WithComponent("monitor"),
	}

	prom := cfg.Metrics.Prometheus
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   prom.Enabled,
		Port:      prom.Port,
		Path:      prom.Path,
		Namespace: prom.Namespace,
		Labels:    map[string]string{"environment": cfg.Global.Environment},
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	m.collector = collector

	m.recorder = metrics.NewRecorder(&metrics.RecorderConfig{
		HistoryLimit: cfg.Metrics.HistoryLimit,
		AlertLimit:   cfg.Metrics.AlertLimit,
		Thresholds: metrics.Thresholds{
			LoadTimeMS:   cfg.Metrics.Thresholds.LoadTimeMS,
			RenderTimeMS: cfg.Metrics.Thresholds.RenderTimeMS,
			MemoryMB:     cfg.Metrics.Thresholds.MemoryMB,
		},
		Clock:         m.clock,
		Logger:        logger,
		AlertObserver: collector,
	})
	samples := sampleFanout{m.recorder, collector}

	m.errors = errtrack.New(&errtrack.Config{
		LogLimit: cfg.Errors.LogLimit,
		Samples:  m.recorder,
		Forward:  collector,
		Clock:    m.clock,
		Logger:   logger,
	})

	m.health = health.NewTracker(health.Config{
		ErrorThreshold:       cfg.Health.ErrorThreshold,
		UnavailableThreshold: cfg.Health.UnavailableThreshold,
		Clock:                m.clock,
	})
	m.health.OnStateChange(m.logStateChange)

	m.engine = cache.NewEngine(&cache.EngineConfig{
		Store: cache.StoreConfig{
			MaxEntries: cfg.Cache.MaxEntries,
			Shards:     cfg.Cache.Shards,
		},
		PreloadThreshold: cfg.Cache.PreloadThreshold,
		RefreshTimeout:   cfg.Cache.RefreshTimeout,
		SweepInterval:    cfg.Cache.SweepInterval,
		Clock:            m.clock,
		Logger:           logger,
		Samples:          samples,
		Errors:           m.errors,
		Observer:         observerFanout{collector, m.health},
	})

	m.abtests = abtest.NewAnalyzer(&abtest.AnalyzerConfig{
		Stats:  m.recorder,
		Errors: m.errors,
		Clock:  m.clock,
		Logger: logger,
	})

	m.reports = report.NewGenerator(&report.GeneratorConfig{
		Metrics:      m.recorder,
		Errors:       m.errors,
		ExportWindow: cfg.Reporting.ExportWindow,
		Clock:        m.clock,
		Logger:       logger,
	})

	notifiers := []report.Notifier{&report.LogNotifier{Logger: logger.WithComponent("report")}}
	if hook := cfg.Reporting.Webhook; hook.URL != "" {
		breaker := circuit.Config{Timeout: hook.BreakerCooldown, Clock: m.clock}
		if n := hook.BreakerFailures; n > 0 {
			breaker.ReadyToTrip = func(c circuit.Counts) bool { return c.ConsecutiveFailures >= uint32(n) }
		}
		wn, err := report.NewWebhookNotifier(report.WebhookConfig{
			URL:     hook.URL,
			Timeout: hook.Timeout,
			Retry:   retry.Config{MaxAttempts: hook.MaxAttempts, Jitter: true},
			Breaker: breaker,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, wn)
	}
	notifiers = append(notifiers, opts.Notifiers...)

	m.scheduler = report.NewScheduler(m.reports, &report.SchedulerConfig{
		Schedules: []report.Schedule{
			{Period: report.PeriodDaily, Interval: cfg.Reporting.DailyInterval},
			{Period: report.PeriodWeekly, Interval: cfg.Reporting.WeeklyInterval},
		},
		Notifiers: notifiers,
		Logger:    logger,
	})

	var custom map[string]budget.Threshold
	if len(cfg.Budget.Custom) > 0 {
		custom = make(map[string]budget.Threshold, len(cfg.Budget.Custom))
		for name, t := range cfg.Budget.Custom {
			custom[name] = budget.Threshold{Good: t.Good, NeedsImprovement: t.NeedsImprovement, Poor: t.Poor}
		}
	}
	m.budget, err = budget.NewValidator(&budget.Config{
		Source:        m.recorder,
		Profile:       cfg.BudgetProfile(),
		Custom:        custom,
		AlertObserver: collector,
		Clock:         m.clock,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	if interval := cfg.Metrics.MemorySampleInterval; interval > 0 {
		memory, err := memmon.NewMemoryMonitor(memmon.MonitorConfig{
			SampleInterval: interval,
			AlertThreshold: memmon.DefaultMonitorConfig().AlertThreshold,
			Recorder:       samples,
			Reader:         opts.MemoryReader,
			Logger:         logger,
		})
		if err != nil {
			m.logger.Warn("memory sampling disabled", map[string]interface{}{"error": err.Error()})
		} else {
			m.memory = memory
		}
	}

	return m, nil
}

// NewLogger builds the structured logger described by the global config.
func NewLogger(global config.GlobalConfig) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(global.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid log level")
	}
	format, err := utils.ParseLogFormat(global.LogFormat)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid log format")
	}
	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Output: os.Stderr,
		Format: format,
	}).WithField("environment", global.Environment), nil
}

// Start launches the background parts: the cache sweeper, the metrics
// endpoint, scheduled reports and memory sampling. All of them stop when
// ctx is done or Close is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "monitor already started").
			WithComponent("monitor")
	}

	if err := m.engine.Start(ctx); err != nil {
		return err
	}
	if err := m.collector.Start(ctx); err != nil {
		return err
	}
	if m.config.Reporting.Enabled {
		if err := m.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	if m.memory != nil {
		if err := m.memory.Start(ctx); err != nil {
			return err
		}
	}
	m.started = true

	m.logger.Info("monitor started", map[string]interface{}{
		"environment":    m.config.Global.Environment,
		"budget_profile": m.budget.ActiveProfile(),
		"reporting":      m.config.Reporting.Enabled,
		"prometheus":     m.config.Metrics.Prometheus.Enabled,
		"memory_sampler": m.memory != nil,
	})
	return nil
}

// Close stops every background part. It is safe to call more than once.
func (m *Monitor) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scheduler.Stop()
	if m.memory != nil {
		_ = m.memory.Stop()
	}
	m.engine.Close()
	err := m.collector.Stop(ctx)

	if m.started {
		m.logger.Info("monitor stopped", nil)
	}
	m.started = false
	return err
}

// Get reads a resource through the cache.
func (m *Monitor) Get(ctx context.Context, req cache.Request, fetch cache.FetchFunc) (cache.ReadResult, error) {
	res, err := m.engine.Get(ctx, req, fetch)
	m.collector.UpdateCacheEntries(m.engine.Len())
	return res, err
}

// RecordRender records how long a resource took to render, overall and for
// its variant when one is given.
func (m *Monitor) RecordRender(resourceID, variant string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	m.recorder.Record(types.RenderTimeMetric(resourceID, ""), ms, types.CategoryRenderTime)
	m.collector.Record("", ms, types.CategoryRenderTime)
	if variant != "" {
		m.recorder.RecordVariant(types.RenderTimeMetric(resourceID, variant), ms, types.CategoryRenderTime)
	}
}

// RecordRenderError records a failed render.
func (m *Monitor) RecordRenderError(resourceID, variant string, err error) {
	m.errors.RecordError(types.ErrorEvent{
		ResourceID: resourceID,
		Type:       types.ErrorTypeRender,
		Message:    err.Error(),
		Severity:   types.SeverityMedium,
		UserImpact: 1,
		Context:    types.ErrorContext{Variant: variant},
	})
}

// Status is a point-in-time summary of the monitor.
type Status struct {
	Health       health.HealthState       `json:"health"`
	Resources    []health.ResourceHealth  `json:"resources"`
	CacheEntries int                      `json:"cache_entries"`
	Cache        map[string]cache.Metrics `json:"cache"`
	ActiveAlerts int                      `json:"active_alerts"`
	Errors       map[types.ErrorType]int  `json:"errors"`
	Budget       *budget.Result           `json:"budget,omitempty"`
	Preloads     cache.PreloaderStats     `json:"preloads"`
	Timestamp    time.Time                `json:"timestamp"`
}

// Status returns a summary of health, cache, alert and budget state.
func (m *Monitor) Status() Status {
	s := Status{
		Health:       m.health.Overall(),
		Resources:    m.health.Resources(),
		CacheEntries: m.engine.Len(),
		Cache:        m.engine.AllMetrics(),
		ActiveAlerts: len(m.recorder.ActiveAlerts()),
		Errors:       m.errors.Breakdown(""),
		Preloads:     m.engine.Preloader().Stats(),
		Timestamp:    m.clock(),
	}
	if result, ok := m.budget.LastResult(); ok {
		s.Budget = &result
	}
	return s
}

func (m *Monitor) logStateChange(resource string, oldState, newState health.HealthState, err error) {
	fields := map[string]interface{}{
		"resource": resource,
		"from":     oldState.String(),
		"to":       newState.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if newState == health.StateHealthy {
		m.logger.Info("resource recovered", fields)
		return
	}
	m.logger.Warn("resource health changed", fields)
}

// Config returns the configuration the monitor was built from.
func (m *Monitor) Config() *config.Configuration { return m.config }

// Now returns the time on the monitor's clock.
func (m *Monitor) Now() time.Time { return m.clock() }

// Logger returns the monitor's logger.
func (m *Monitor) Logger() *utils.StructuredLogger { return m.logger }

// Engine returns the cache engine.
func (m *Monitor) Engine() *cache.Engine { return m.engine }

// Recorder returns the metrics recorder.
func (m *Monitor) Recorder() *metrics.Recorder { return m.recorder }

// Collector returns the Prometheus collector.
func (m *Monitor) Collector() *metrics.Collector { return m.collector }

// Errors returns the error tracker.
func (m *Monitor) Errors() *errtrack.Tracker { return m.errors }

// Health returns the resource health tracker.
func (m *Monitor) Health() *health.Tracker { return m.health }

// ABTests returns the A/B analyzer.
func (m *Monitor) ABTests() *abtest.Analyzer { return m.abtests }

// Reports returns the report generator.
func (m *Monitor) Reports() *report.Generator { return m.reports }

// Scheduler returns the report scheduler.
func (m *Monitor) Scheduler() *report.Scheduler { return m.scheduler }

// Budget returns the budget validator.
func (m *Monitor) Budget() *budget.Validator { return m.budget }

// Memory returns the memory sampler, nil when sampling is disabled.
func (m *Monitor) Memory() *memmon.MemoryMonitor { return m.memory }
