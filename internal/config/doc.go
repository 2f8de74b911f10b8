/*
Package config provides configuration management for dashcache with multi-source support.

Configuration is resolved in three layers, later layers overriding earlier ones:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (DASHCACHE_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Example

	global:
	  log_level: INFO
	  log_format: json
	  environment: production
	cache:
	  max_entries: 10000
	  shards: 16
	  preload_threshold: 0.7
	metrics:
	  history_limit: 1000
	  alert_limit: 100
	  thresholds:
	    load_time_ms: 100
	    render_time_ms: 50
	    memory_mb: 100
	  prometheus:
	    enabled: true
	    port: 9090
	    path: /metrics
	reporting:
	  enabled: true
	  daily_interval: 24h
	  weekly_interval: 168h
	  webhook:
	    url: https://hooks.example.com/perf
	    max_attempts: 3
	    breaker_failures: 5
	    breaker_cooldown: 1m
	budget:
	  profile: production
	health:
	  error_threshold: 3
	  unavailable_threshold: 10
	api:
	  address: localhost:8080
	  enable_cors: true

# Environment Variables

	DASHCACHE_ENV                     environment name; selects the default budget profile
	DASHCACHE_LOG_LEVEL               DEBUG, INFO, WARN, ERROR
	DASHCACHE_LOG_FORMAT              text, json
	DASHCACHE_CACHE_MAX_ENTRIES       store capacity, 0 for unbounded
	DASHCACHE_CACHE_STRATEGY          default preset name
	DASHCACHE_METRICS_PORT            Prometheus listen port
	DASHCACHE_PROMETHEUS_ENABLED      true, false
	DASHCACHE_REPORTING_ENABLED       true, false
	DASHCACHE_REPORT_DAILY_INTERVAL   e.g. 24h, 1d
	DASHCACHE_REPORT_WEEKLY_INTERVAL  e.g. 7d
	DASHCACHE_EXPORT_WINDOW           e.g. 30d
	DASHCACHE_MEMORY_SAMPLE_INTERVAL  e.g. 30s, 0 to disable
	DASHCACHE_REPORT_WEBHOOK_URL      report delivery endpoint
	DASHCACHE_BUDGET_PROFILE          development, production, custom
	DASHCACHE_API_ADDRESS             status API listen address

Duration overrides accept day and week units ("7d", "2w") in addition to the
standard Go duration syntax.

Validate checks struct tags with go-playground/validator and returns a
CONFIG_VALIDATION error describing the first failing field.
*/
package config
