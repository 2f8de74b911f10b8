package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v2"

	"github.com/dashcache/dashcache/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DASHCACHE_"

var validate = validator.New()

// Configuration represents the complete application configuration
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Cache     CacheConfig     `yaml:"cache"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Errors    ErrorsConfig    `yaml:"errors"`
	Reporting ReportingConfig `yaml:"reporting"`
	Budget    BudgetConfig    `yaml:"budget"`
	Health    HealthConfig    `yaml:"health"`
	API       APIConfig       `yaml:"api"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
	LogFormat   string `yaml:"log_format" validate:"oneof=text json"`
	Environment string `yaml:"environment" validate:"required"`
}

// CacheConfig represents cache engine settings
type CacheConfig struct {
	MaxEntries       int     `yaml:"max_entries" validate:"gte=0"`
	Shards           int     `yaml:"shards" validate:"min=1,max=256"`
	PreloadThreshold float64 `yaml:"preload_threshold" validate:"gte=0,lte=1"`
	DefaultStrategy  string  `yaml:"default_strategy" validate:"oneof=REALTIME DYNAMIC STANDARD STABLE STATIC"`

	// SweepInterval drops expired entries in the background; 0 disables it
	SweepInterval  time.Duration `yaml:"sweep_interval" validate:"gte=0"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" validate:"gte=0"`
}

// MetricsConfig represents metrics recorder and export settings
type MetricsConfig struct {
	HistoryLimit         int              `yaml:"history_limit" validate:"min=1"`
	AlertLimit           int              `yaml:"alert_limit" validate:"min=1"`
	Thresholds           ThresholdsConfig `yaml:"thresholds"`
	MemorySampleInterval time.Duration    `yaml:"memory_sample_interval" validate:"gte=0"`
	Prometheus           PrometheusConfig `yaml:"prometheus"`
}

// ThresholdsConfig holds per-category alert thresholds
type ThresholdsConfig struct {
	LoadTimeMS   float64 `yaml:"load_time_ms" validate:"gt=0"`
	RenderTimeMS float64 `yaml:"render_time_ms" validate:"gt=0"`
	MemoryMB     float64 `yaml:"memory_mb" validate:"gt=0"`
}

// PrometheusConfig represents the /metrics endpoint
type PrometheusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	Path      string `yaml:"path" validate:"required,startswith=/"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// ErrorsConfig represents error tracker settings
type ErrorsConfig struct {
	LogLimit int `yaml:"log_limit" validate:"min=1"`
}

// ReportingConfig represents automated report settings
type ReportingConfig struct {
	Enabled        bool          `yaml:"enabled"`
	DailyInterval  time.Duration `yaml:"daily_interval" validate:"gt=0"`
	WeeklyInterval time.Duration `yaml:"weekly_interval" validate:"gt=0"`
	ExportFormat   string        `yaml:"export_format" validate:"oneof=json csv"`
	ExportWindow   time.Duration `yaml:"export_window" validate:"gt=0"`
	Webhook        WebhookConfig `yaml:"webhook"`
}

// WebhookConfig represents report delivery over HTTP. An empty URL disables
// delivery.
type WebhookConfig struct {
	URL         string        `yaml:"url" validate:"omitempty,url"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=0"`

	// Deliveries pause for BreakerCooldown after BreakerFailures failed
	// notifications in a row. Zero values take the breaker defaults.
	BreakerFailures int           `yaml:"breaker_failures" validate:"gte=0"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" validate:"gte=0"`
}

// BudgetConfig represents performance budget settings
type BudgetConfig struct {
	Profile string                     `yaml:"profile"`
	Custom  map[string]BudgetThreshold `yaml:"custom" validate:"dive"`
}

// HealthConfig represents per-resource health thresholds
type HealthConfig struct {
	ErrorThreshold       int `yaml:"error_threshold" validate:"min=1"`
	UnavailableThreshold int `yaml:"unavailable_threshold" validate:"gtefield=ErrorThreshold"`
}

// APIConfig represents the JSON status API served by "dashcache serve"
type APIConfig struct {
	Address      string        `yaml:"address" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	EnableCORS   bool          `yaml:"enable_cors"`
}

// BudgetThreshold is a good/needs-improvement/poor triple for one metric
type BudgetThreshold struct {
	Good             float64 `yaml:"good" validate:"gt=0"`
	NeedsImprovement float64 `yaml:"needs_improvement" validate:"gtefield=Good"`
	Poor             float64 `yaml:"poor" validate:"gtefield=NeedsImprovement"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			Environment: "development",
		},
		Cache: CacheConfig{
			MaxEntries:       10000,
			Shards:           16,
			PreloadThreshold: 0.7,
			DefaultStrategy:  "STANDARD",
			SweepInterval:    time.Minute,
			RefreshTimeout:   30 * time.Second,
		},
		Metrics: MetricsConfig{
			HistoryLimit: 1000,
			AlertLimit:   100,
			Thresholds: ThresholdsConfig{
				LoadTimeMS:   100,
				RenderTimeMS: 50,
				MemoryMB:     100,
			},
			MemorySampleInterval: 30 * time.Second,
			Prometheus: PrometheusConfig{
				Enabled:   false,
				Port:      9090,
				Path:      "/metrics",
				Namespace: "dashcache",
			},
		},
		Errors: ErrorsConfig{
			LogLimit: 10000,
		},
		Reporting: ReportingConfig{
			Enabled:        false,
			DailyInterval:  24 * time.Hour,
			WeeklyInterval: 7 * 24 * time.Hour,
			ExportFormat:   "json",
			ExportWindow:   30 * 24 * time.Hour,
			Webhook: WebhookConfig{
				Timeout:     10 * time.Second,
				MaxAttempts: 3,
			},
		},
		Budget: BudgetConfig{},
		Health: HealthConfig{
			ErrorThreshold:       3,
			UnavailableThreshold: 10,
		},
		API: APIConfig{
			Address:      "localhost:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			EnableCORS:   true,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := getenv("ENV"); val != "" {
		c.Global.Environment = val
	}
	if val := getenv("LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := getenv("LOG_FORMAT"); val != "" {
		c.Global.LogFormat = strings.ToLower(val)
	}

	// Cache settings
	if val := getenv("CACHE_MAX_ENTRIES"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("CACHE_MAX_ENTRIES", val, err)
		}
		c.Cache.MaxEntries = n
	}
	if val := getenv("CACHE_STRATEGY"); val != "" {
		c.Cache.DefaultStrategy = strings.ToUpper(val)
	}

	// Metrics settings
	if val := getenv("METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return envError("METRICS_PORT", val, err)
		}
		c.Metrics.Prometheus.Port = port
	}
	if val := getenv("PROMETHEUS_ENABLED"); val != "" {
		c.Metrics.Prometheus.Enabled = strings.ToLower(val) == "true"
	}

	// Reporting settings
	if val := getenv("REPORTING_ENABLED"); val != "" {
		c.Reporting.Enabled = strings.ToLower(val) == "true"
	}
	for name, target := range map[string]*time.Duration{
		"REPORT_DAILY_INTERVAL":  &c.Reporting.DailyInterval,
		"REPORT_WEEKLY_INTERVAL": &c.Reporting.WeeklyInterval,
		"EXPORT_WINDOW":          &c.Reporting.ExportWindow,
		"MEMORY_SAMPLE_INTERVAL": &c.Metrics.MemorySampleInterval,
	} {
		if val := getenv(name); val != "" {
			d, err := str2duration.ParseDuration(val)
			if err != nil {
				return envError(name, val, err)
			}
			*target = d
		}
	}

	if val := getenv("REPORT_WEBHOOK_URL"); val != "" {
		c.Reporting.Webhook.URL = val
	}

	// Budget settings
	if val := getenv("BUDGET_PROFILE"); val != "" {
		c.Budget.Profile = strings.ToLower(val)
	}

	// API settings
	if val := getenv("API_ADDRESS"); val != "" {
		c.API.Address = val
	}

	return nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envError(name, value string, cause error) error {
	return errors.Wrap(cause, errors.ErrCodeInvalidConfig, "invalid environment override").
		WithContext("variable", EnvPrefix+name).
		WithContext("value", value)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file")
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "configuration validation failed")
	}

	switch c.Budget.Profile {
	case "", "development", "production":
	case "custom":
		if len(c.Budget.Custom) == 0 {
			return errors.NewError(errors.ErrCodeConfigValidation,
				"budget profile custom requires budget.custom thresholds")
		}
	default:
		return errors.NewError(errors.ErrCodeConfigValidation,
			fmt.Sprintf("invalid budget profile: %s (must be one of: development, production, custom)", c.Budget.Profile))
	}

	return nil
}

// BudgetProfile returns the configured budget profile, falling back to one
// derived from the environment name.
func (c *Configuration) BudgetProfile() string {
	if c.Budget.Profile != "" {
		return c.Budget.Profile
	}
	if strings.EqualFold(c.Global.Environment, "production") {
		return "production"
	}
	return "development"
}

// Load builds a configuration from defaults, an optional file, and the
// environment, then validates it.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
