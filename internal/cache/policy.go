package cache

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
)

// TTL bounds applied after every adjustment.
const (
	MinTTL = 5 * time.Second
	MaxTTL = 24 * time.Hour
)

// historicalSpan is the range length past which a historical range earns the
// additional multiplier.
const historicalSpan = 30 * 24 * time.Hour

var validate = validator.New()

// Strategy names a preset bundle of freshness settings.
type Strategy string

const (
	StrategyRealtime Strategy = "REALTIME"
	StrategyDynamic  Strategy = "DYNAMIC"
	StrategyStandard Strategy = "STANDARD"
	StrategyStable   Strategy = "STABLE"
	StrategyStatic   Strategy = "STATIC"
)

// Config holds the freshness settings bound to a resource class.
type Config struct {
	BaseTTL        time.Duration `json:"base_ttl" yaml:"base_ttl" validate:"gt=0"`
	EnableSWR      bool          `json:"enable_swr" yaml:"enable_swr"`
	SWRWindow      time.Duration `json:"swr_window" yaml:"swr_window" validate:"required_if=EnableSWR true,gte=0"`
	EnablePreload  bool          `json:"enable_preload" yaml:"enable_preload"`
	PreloadTiming  time.Duration `json:"preload_timing" yaml:"preload_timing" validate:"required_if=EnablePreload true,gte=0"`
	DateRangeAware bool          `json:"date_range_aware" yaml:"date_range_aware"`
}

// Validate checks the config invariants.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid cache config").
			WithComponent("cache")
	}
	return nil
}

var presets = map[Strategy]Config{
	StrategyRealtime: {
		BaseTTL:   5 * time.Second,
		EnableSWR: true,
		SWRWindow: 10 * time.Second,
	},
	StrategyDynamic: {
		BaseTTL:        60 * time.Second,
		EnableSWR:      true,
		SWRWindow:      30 * time.Second,
		EnablePreload:  true,
		PreloadTiming:  10 * time.Second,
		DateRangeAware: true,
	},
	StrategyStandard: {
		BaseTTL:        300 * time.Second,
		EnableSWR:      true,
		SWRWindow:      60 * time.Second,
		EnablePreload:  true,
		PreloadTiming:  30 * time.Second,
		DateRangeAware: true,
	},
	StrategyStable: {
		BaseTTL:        1800 * time.Second,
		EnableSWR:      true,
		SWRWindow:      300 * time.Second,
		EnablePreload:  true,
		PreloadTiming:  120 * time.Second,
		DateRangeAware: true,
	},
	StrategyStatic: {
		BaseTTL: 3600 * time.Second,
	},
}

// Preset returns the named preset.
func Preset(s Strategy) (Config, bool) {
	cfg, ok := presets[s]
	return cfg, ok
}

// RecommendStrategy picks a preset from how a resource's data is sourced,
// how it changes, and how urgent it is.
func RecommendStrategy(source types.SourceKind, mode types.DataMode, priority types.Priority) Strategy {
	if mode == types.ModeRealTime || priority == types.PriorityCritical {
		return StrategyRealtime
	}
	if mode == types.ModeWriteOnly {
		return StrategyStatic
	}

	switch source {
	case types.SourceBatch, types.SourceQuery:
		if priority == types.PriorityHigh {
			return StrategyDynamic
		}
		return StrategyStandard
	case types.SourceAction:
		return StrategyDynamic
	case types.SourceREST:
		return StrategyStandard
	}
	return StrategyStandard
}

// ResourceOptions describe a resource when deriving its Config.
type ResourceOptions struct {
	Source   types.SourceKind
	Mode     types.DataMode
	Priority types.Priority
	Override func(*Config)
}

// NewResourceConfig derives a Config from the recommended preset. SWR window
// and preload timing get 60s and 30s defaults when the preset leaves them
// unset, then Override, if any, is applied.
func NewResourceConfig(opts ResourceOptions) Config {
	cfg := presets[RecommendStrategy(opts.Source, opts.Mode, opts.Priority)]
	if cfg.SWRWindow == 0 {
		cfg.SWRWindow = 60 * time.Second
	}
	if cfg.PreloadTiming == 0 {
		cfg.PreloadTiming = 30 * time.Second
	}
	if opts.Override != nil {
		opts.Override(&cfg)
	}
	return cfg
}

// TTLParams are the inputs to ComputeTTL.
type TTLParams struct {
	BaseTTL         time.Duration
	Source          types.SourceKind
	Priority        types.Priority
	DateRange       *types.DateRange
	AccessFrequency *float64
	ErrorRate       *float64
}

// ComputeTTL applies the adaptive multipliers to BaseTTL and clamps the
// result to [MinTTL, MaxTTL].
func ComputeTTL(p TTLParams, now time.Time) time.Duration {
	ttl := p.BaseTTL.Seconds()

	switch p.Priority {
	case types.PriorityCritical:
		ttl *= 0.5
	case types.PriorityHigh:
		ttl *= 0.75
	case types.PriorityLow:
		ttl *= 1.5
	case types.PriorityMedium:
	}

	if p.DateRange != nil {
		if p.DateRange.To.Before(now) {
			ttl *= 2
		}
		if p.DateRange.Span() > historicalSpan {
			ttl *= 1.5
		}
	}

	if p.AccessFrequency != nil {
		switch f := *p.AccessFrequency; {
		case f > 10:
			ttl *= 0.8
		case f < 2:
			ttl *= 1.2
		}
	}

	if p.ErrorRate != nil && *p.ErrorRate > 0.1 {
		ttl *= 0.5
	}

	switch {
	case math.IsNaN(ttl) || ttl < MinTTL.Seconds():
		return MinTTL
	case ttl > MaxTTL.Seconds():
		return MaxTTL
	}
	return time.Duration(ttl * float64(time.Second))
}
