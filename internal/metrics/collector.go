package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// Collector exports cache, sample, alert and error activity as Prometheus
// metrics and serves them over HTTP.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	// Prometheus metrics
	cacheEvents  *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	sampleValues *prometheus.HistogramVec
	alertCounter *prometheus.CounterVec
	errorCounter *prometheus.CounterVec
	cacheEntries prometheus.Gauge

	// Internal tracking
	loads     map[string]*LoadMetrics
	lastReset time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`

	Logger *utils.StructuredLogger `yaml:"-"`
}

// LoadMetrics tracks fetch activity for one resource
type LoadMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastLoad      time.Time     `json:"last_load"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "dashcache",
			Labels:    make(map[string]string),
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}

	collector := &Collector{
		config:    config,
		registry:  prometheus.NewRegistry(),
		logger:    logger.WithComponent("collector"),
		loads:     make(map[string]*LoadMetrics),
		lastReset: time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to register metrics").
			WithComponent("collector")
	}

	return collector, nil
}

// Registry exposes the Prometheus registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler serving the metrics and debug endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.config.Enabled {
		mux.Handle(c.path(), promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/loads", c.debugLoadsHandler)
	return mux
}

func (c *Collector) path() string {
	if c.config.Path == "" {
		return "/metrics"
	}
	return c.config.Path
}

// Start starts the metrics HTTP server
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.mu.Lock()
	if c.server != nil {
		c.mu.Unlock()
		return errors.NewError(errors.ErrCodeAlreadyStarted, "metrics server already started").
			WithComponent("collector")
	}
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = c.Stop(shutdownCtx)
	}()

	c.logger.Info("metrics server started", map[string]interface{}{
		"port": c.config.Port,
		"path": c.path(),
	})
	return nil
}

// Stop stops the metrics HTTP server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// ObserveCacheEvent counts one cache read-path outcome.
func (c *Collector) ObserveCacheEvent(resourceID string, event types.CacheEvent) {
	if !c.config.Enabled {
		return
	}
	c.cacheEvents.With(prometheus.Labels{
		"resource": resourceID,
		"event":    string(event),
	}).Inc()
}

// ObserveLoad records one fetch with its duration and outcome.
func (c *Collector) ObserveLoad(resourceID string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, ok := c.loads[resourceID]
	if !ok {
		m = &LoadMetrics{}
		c.loads[resourceID] = m
	}
	m.Count++
	m.TotalDuration += duration
	if err != nil {
		m.Errors++
	}
	m.LastLoad = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	c.mu.Unlock()

	status := "success"
	if err != nil {
		status = classifyError(err)
	}
	c.loadDuration.With(prometheus.Labels{
		"resource": resourceID,
		"status":   status,
	}).Observe(duration.Seconds())
}

// Record observes a performance sample by category.
func (c *Collector) Record(_ string, value float64, category types.Category) {
	if !c.config.Enabled {
		return
	}
	c.sampleValues.With(prometheus.Labels{
		"category": string(category),
	}).Observe(value)
}

// ObserveAlert counts a threshold alert.
func (c *Collector) ObserveAlert(alert Alert) {
	if !c.config.Enabled {
		return
	}
	c.alertCounter.With(prometheus.Labels{
		"severity": string(alert.Type),
		"category": string(alert.Category),
	}).Inc()
}

// RecordError counts an error event.
func (c *Collector) RecordError(event types.ErrorEvent) {
	if !c.config.Enabled {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"type":     string(event.Type),
		"severity": string(event.Severity),
	}).Inc()
}

// UpdateCacheEntries sets the stored entry count.
func (c *Collector) UpdateCacheEntries(count int) {
	if !c.config.Enabled {
		return
	}
	c.cacheEntries.Set(float64(count))
}

// GetLoads returns a copy of the per-resource load tracking
func (c *Collector) GetLoads() map[string]LoadMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]LoadMetrics, len(c.loads))
	for k, v := range c.loads {
		out[k] = *v
	}
	return out
}

// ResetLoads resets the per-resource load tracking
func (c *Collector) ResetLoads() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loads = make(map[string]*LoadMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	c.cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_events_total",
			Help:        "Cache read-path outcomes by resource",
			ConstLabels: c.config.Labels,
		},
		[]string{"resource", "event"},
	)

	c.loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "load_duration_seconds",
			Help:        "Duration of resource fetches in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			ConstLabels: c.config.Labels,
		},
		[]string{"resource", "status"},
	)

	c.sampleValues = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "sample_value",
			Help:        "Recorded performance samples (ms for timings, MB for memory)",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 15),
			ConstLabels: c.config.Labels,
		},
		[]string{"category"},
	)

	c.alertCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "alerts_total",
			Help:        "Threshold alerts raised",
			ConstLabels: c.config.Labels,
		},
		[]string{"severity", "category"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Recorded error events",
			ConstLabels: c.config.Labels,
		},
		[]string{"type", "severity"},
	)

	c.cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_entries",
			Help:        "Entries currently stored",
			ConstLabels: c.config.Labels,
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheEvents,
		c.loadDuration,
		c.sampleValues,
		c.alertCounter,
		c.errorCounter,
		c.cacheEntries,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// classifyError maps a fetch error onto a low-cardinality status label.
func classifyError(err error) string {
	switch {
	case errors.HasCode(err, errors.ErrCodeFetchTimeout):
		return "timeout"
	case errors.HasCode(err, errors.ErrCodeFetchCanceled):
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "permission"), strings.Contains(msg, "forbidden"):
		return "permission"
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return "throttling"
	default:
		return "other"
	}
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"dashcache-metrics"}`))
}

type loadEntry struct {
	Resource string `json:"resource"`
	LoadMetrics
}

func (c *Collector) debugLoadsHandler(w http.ResponseWriter, _ *http.Request) {
	loads := c.GetLoads()
	entries := make([]loadEntry, 0, len(loads))
	for name, m := range loads {
		entries = append(entries, loadEntry{Resource: name, LoadMetrics: m})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Resource < entries[j].Resource })

	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":     time.Since(lastReset).String(),
		"last_reset": lastReset,
		"loads":      entries,
	})
}
