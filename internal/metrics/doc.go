/*
Package metrics records performance samples, raises threshold alerts, and
exports read-path activity to Prometheus.

# Overview

Two independent pieces live here:

	┌────────────┐  samples   ┌─────────────────────────────┐
	│   engine   │ ─────────▶ │ Recorder                    │
	│  sampler   │            │  per-name ring buffers      │
	└─────┬──────┘            │  stats, percentiles         │
	      │ events            │  threshold alerts (capped)  │
	      ▼                   └──────────────┬──────────────┘
	┌────────────┐  alerts                   │
	│ Collector  │ ◀─────────────────────────┘
	│ Prometheus │  /metrics  /health  /debug/loads
	└────────────┘

# Recorder

Recorder keeps the most recent HistoryLimit samples (default 1000) for each
metric name. Names follow "<resource>[@<variant>].load_time" so A/B variants
keep separate populations. Variant samples go through RecordVariant, which
stores them without threshold evaluation; the resource series alerts once.

	rec := metrics.NewRecorder(&metrics.RecorderConfig{
		Thresholds: metrics.DefaultThresholds(),
	})
	rec.Record("orders-list.load_time", 142, types.CategoryLoadTime)

	stats := rec.Stats("orders-list.load_time")
	if stats.HasData {
		fmt.Printf("p95=%.1fms\n", stats.P95)
	}

Stats on an unknown or empty name returns the zero Stats with HasData false.

Each sample is checked against its category threshold:

	category      threshold   warning       critical
	load-time     100ms       > 100ms       > 200ms
	render-time   50ms        > 50ms        > 100ms
	memory        100MB       > 100MB       > 200MB
	custom        none

Alerts carry a uuid, are appended to a log capped at AlertLimit (default 100,
oldest dropped first), and can be marked resolved with Resolve.

# Collector

Collector implements types.CacheObserver, types.SampleRecorder,
types.ErrorRecorder and AlertObserver, so the monitor can fan the same events
into it that it feeds the in-memory components.

Counters:
  - dashcache_cache_events_total{resource,event}
  - dashcache_alerts_total{severity,category}
  - dashcache_errors_total{type,severity}

Histograms:
  - dashcache_load_duration_seconds{resource,status}
  - dashcache_sample_value{category}

Gauges:
  - dashcache_cache_entries

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "dashcache",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A disabled collector accepts every call and does nothing.
*/
package metrics
