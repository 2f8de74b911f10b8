// Package memmon samples process memory and feeds it to the metrics recorder
// as memory-category samples.
package memmon

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// DefaultMetricName is the sample name process RSS is recorded under.
const DefaultMetricName = "process.memory"

const bytesPerMB = 1024 * 1024

// MonitorConfig configures memory monitoring behavior
type MonitorConfig struct {
	// SampleInterval is how often to collect memory stats
	SampleInterval time.Duration

	// AlertThreshold is the percentage of RSS growth over baseline that
	// triggers an alert
	AlertThreshold float64

	// MaxSamples is the number of samples to keep in history
	MaxSamples int

	// MetricName names the recorded RSS samples
	MetricName string

	// Recorder receives RSS in megabytes on every sample
	Recorder types.SampleRecorder

	// Reader overrides how samples are taken
	Reader Reader

	// Logger for monitoring events
	Logger *utils.StructuredLogger
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval: 30 * time.Second,
		AlertThreshold: 20.0, // Alert on 20% growth
		MaxSamples:     100,
		MetricName:     DefaultMetricName,
	}
}

// MemorySample represents a memory usage sample
type MemorySample struct {
	Timestamp    time.Time `json:"timestamp"`
	RSS          uint64    `json:"rss"`        // resident set size in bytes
	VMS          uint64    `json:"vms"`        // virtual memory size in bytes
	HeapAlloc    uint64    `json:"heap_alloc"` // bytes allocated in heap
	HeapInuse    uint64    `json:"heap_inuse"` // bytes in in-use spans
	Sys          uint64    `json:"sys"`        // bytes obtained from system
	NumGC        uint32    `json:"num_gc"`
	NumGoroutine int       `json:"num_goroutine"`
}

// RSSMB returns the resident set size in megabytes.
func (s MemorySample) RSSMB() float64 {
	return float64(s.RSS) / bytesPerMB
}

// Reader takes one memory sample.
type Reader func() (MemorySample, error)

// ProcessReader returns a Reader for the current process, combining the OS
// view of the process with Go runtime statistics.
func ProcessReader() (Reader, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to open current process").
			WithComponent("memmon")
	}

	return func() (MemorySample, error) {
		info, err := proc.MemoryInfo()
		if err != nil {
			return MemorySample{}, errors.Wrap(err, errors.ErrCodeInternalError, "failed to read process memory").
				WithComponent("memmon")
		}

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		return MemorySample{
			Timestamp:    time.Now(),
			RSS:          info.RSS,
			VMS:          info.VMS,
			HeapAlloc:    memStats.HeapAlloc,
			HeapInuse:    memStats.HeapInuse,
			Sys:          memStats.Sys,
			NumGC:        memStats.NumGC,
			NumGoroutine: runtime.NumGoroutine(),
		}, nil
	}, nil
}

// AlertType represents the type of memory alert
type AlertType int

const (
	AlertTypeMemoryGrowth AlertType = iota
	AlertTypeGoroutineLeak
)

// String returns the string representation of alert type
func (t AlertType) String() string {
	switch t {
	case AlertTypeMemoryGrowth:
		return "memory_growth"
	case AlertTypeGoroutineLeak:
		return "goroutine_leak"
	default:
		return "unknown"
	}
}

// MemoryAlert represents a memory alert
type MemoryAlert struct {
	Timestamp time.Time `json:"timestamp"`
	AlertType AlertType `json:"alert_type"`
	Message   string    `json:"message"`
	Current   uint64    `json:"current"`
	Baseline  uint64    `json:"baseline"`
	GrowthPct float64   `json:"growth_pct"`
}

// MemoryStats provides memory statistics
type MemoryStats struct {
	CurrentSample       MemorySample `json:"current_sample"`
	BaselineSample      MemorySample `json:"baseline_sample"`
	SampleCount         int          `json:"sample_count"`
	AlertCount          int          `json:"alert_count"`
	GrowthSinceBaseline float64      `json:"growth_since_baseline"`
}

// MemoryMonitor samples memory on an interval, forwards RSS to a recorder,
// and flags growth over the first sample.
type MemoryMonitor struct {
	config MonitorConfig
	logger *utils.StructuredLogger
	read   Reader

	mu             sync.RWMutex
	samples        []MemorySample
	baselineSet    bool
	baselineSample MemorySample
	currentSample  MemorySample
	alerts         []MemoryAlert

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewMemoryMonitor creates a new memory monitor
func NewMemoryMonitor(config MonitorConfig) (*MemoryMonitor, error) {
	defaults := DefaultMonitorConfig()
	if config.SampleInterval <= 0 {
		config.SampleInterval = defaults.SampleInterval
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = defaults.MaxSamples
	}
	if config.MetricName == "" {
		config.MetricName = defaults.MetricName
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	read := config.Reader
	if read == nil {
		var err error
		if read, err = ProcessReader(); err != nil {
			return nil, err
		}
	}

	return &MemoryMonitor{
		config:  config,
		logger:  logger.WithComponent("memmon"),
		read:    read,
		samples: make([]MemorySample, 0, config.MaxSamples),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins memory monitoring
func (mm *MemoryMonitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&mm.active, 0, 1) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "memory monitor already running").
			WithComponent("memmon")
	}

	mm.logger.Info("Starting memory monitor", map[string]interface{}{
		"sample_interval": mm.config.SampleInterval.String(),
		"alert_threshold": mm.config.AlertThreshold,
	})

	mm.wg.Add(1)
	go mm.monitorLoop(ctx)

	return nil
}

// Stop stops memory monitoring
func (mm *MemoryMonitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&mm.active, 1, 0) {
		return nil // Already stopped
	}

	mm.logger.Info("Stopping memory monitor", nil)
	close(mm.stopCh)
	mm.wg.Wait()

	return nil
}

func (mm *MemoryMonitor) monitorLoop(ctx context.Context) {
	defer mm.wg.Done()

	ticker := time.NewTicker(mm.config.SampleInterval)
	defer ticker.Stop()

	mm.sampleAndLog()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mm.stopCh:
			return
		case <-ticker.C:
			mm.sampleAndLog()
		}
	}
}

func (mm *MemoryMonitor) sampleAndLog() {
	if _, err := mm.Sample(); err != nil {
		mm.logger.Warn("memory sample failed", map[string]interface{}{"error": err.Error()})
	}
}

// Sample takes one sample now, records it, and checks it against the
// baseline.
func (mm *MemoryMonitor) Sample() (MemorySample, error) {
	sample, err := mm.read()
	if err != nil {
		return MemorySample{}, err
	}

	mm.mu.Lock()
	if !mm.baselineSet {
		mm.baselineSample = sample
		mm.baselineSet = true
	}
	mm.currentSample = sample
	mm.samples = append(mm.samples, sample)
	if len(mm.samples) > mm.config.MaxSamples {
		mm.samples = mm.samples[1:]
	}
	alerts := mm.analyzeLocked()
	mm.alerts = append(mm.alerts, alerts...)
	mm.mu.Unlock()

	if mm.config.Recorder != nil {
		mm.config.Recorder.Record(mm.config.MetricName, sample.RSSMB(), types.CategoryMemory)
	}
	for _, alert := range alerts {
		mm.logger.Warn("Memory alert", map[string]interface{}{
			"type":       alert.AlertType.String(),
			"message":    alert.Message,
			"current":    alert.Current,
			"baseline":   alert.Baseline,
			"growth_pct": alert.GrowthPct,
		})
	}
	return sample, nil
}

// analyzeLocked compares the current sample to the baseline
func (mm *MemoryMonitor) analyzeLocked() []MemoryAlert {
	if len(mm.samples) < 2 {
		return nil
	}
	baseline := mm.baselineSample
	current := mm.currentSample

	var alerts []MemoryAlert
	if baseline.RSS > 0 && mm.config.AlertThreshold > 0 {
		growthPct := (float64(current.RSS) - float64(baseline.RSS)) / float64(baseline.RSS) * 100
		if growthPct > mm.config.AlertThreshold {
			alerts = append(alerts, MemoryAlert{
				Timestamp: current.Timestamp,
				AlertType: AlertTypeMemoryGrowth,
				Message: fmt.Sprintf("RSS increased by %.2f%% (from %d to %d bytes)",
					growthPct, baseline.RSS, current.RSS),
				Current:   current.RSS,
				Baseline:  baseline.RSS,
				GrowthPct: growthPct,
			})
		}
	}

	// goroutine leak: >50% increase from baseline
	if baseline.NumGoroutine > 0 {
		growthPct := (float64(current.NumGoroutine) - float64(baseline.NumGoroutine)) / float64(baseline.NumGoroutine) * 100
		if growthPct > 50 {
			alerts = append(alerts, MemoryAlert{
				Timestamp: current.Timestamp,
				AlertType: AlertTypeGoroutineLeak,
				Message: fmt.Sprintf("Goroutine count increased by %.2f%% (from %d to %d)",
					growthPct, baseline.NumGoroutine, current.NumGoroutine),
				Current:   uint64(current.NumGoroutine),
				Baseline:  uint64(baseline.NumGoroutine),
				GrowthPct: growthPct,
			})
		}
	}
	return alerts
}

// GetStats returns current memory statistics
func (mm *MemoryMonitor) GetStats() MemoryStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	stats := MemoryStats{
		CurrentSample:  mm.currentSample,
		BaselineSample: mm.baselineSample,
		SampleCount:    len(mm.samples),
		AlertCount:     len(mm.alerts),
	}
	if mm.baselineSet && mm.baselineSample.RSS > 0 {
		stats.GrowthSinceBaseline = (float64(mm.currentSample.RSS) - float64(mm.baselineSample.RSS)) / float64(mm.baselineSample.RSS) * 100
	}
	return stats
}

// GetAlerts returns all memory alerts
func (mm *MemoryMonitor) GetAlerts() []MemoryAlert {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	alerts := make([]MemoryAlert, len(mm.alerts))
	copy(alerts, mm.alerts)
	return alerts
}

// GetSamples returns memory sample history
func (mm *MemoryMonitor) GetSamples() []MemorySample {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	samples := make([]MemorySample, len(mm.samples))
	copy(samples, mm.samples)
	return samples
}

// ResetBaseline resets the baseline to current memory usage
func (mm *MemoryMonitor) ResetBaseline() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.baselineSample = mm.currentSample
	mm.logger.Info("Baseline reset", map[string]interface{}{
		"rss":           mm.baselineSample.RSS,
		"num_goroutine": mm.baselineSample.NumGoroutine,
	})
}

// ClearAlerts clears all alerts
func (mm *MemoryMonitor) ClearAlerts() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.alerts = nil
}
