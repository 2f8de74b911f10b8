package memmon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
)

type recordedSample struct {
	name     string
	value    float64
	category types.Category
}

type fakeRecorder struct {
	mu      sync.Mutex
	samples []recordedSample
}

func (f *fakeRecorder) Record(name string, value float64, category types.Category) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, recordedSample{name, value, category})
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

// scriptedReader returns the given samples in order, repeating the last.
func scriptedReader(samples ...MemorySample) Reader {
	var mu sync.Mutex
	i := 0
	return func() (MemorySample, error) {
		mu.Lock()
		defer mu.Unlock()
		s := samples[i]
		if i < len(samples)-1 {
			i++
		}
		s.Timestamp = time.Now()
		return s, nil
	}
}

func TestNewMemoryMonitorDefaults(t *testing.T) {
	monitor, err := NewMemoryMonitor(MonitorConfig{Reader: scriptedReader(MemorySample{RSS: 1})})
	if err != nil {
		t.Fatalf("NewMemoryMonitor() error = %v", err)
	}
	if monitor.config.SampleInterval != 30*time.Second {
		t.Errorf("SampleInterval = %v, want 30s", monitor.config.SampleInterval)
	}
	if monitor.config.MetricName != DefaultMetricName {
		t.Errorf("MetricName = %q, want %q", monitor.config.MetricName, DefaultMetricName)
	}
}

func TestProcessReader(t *testing.T) {
	read, err := ProcessReader()
	if err != nil {
		t.Fatalf("ProcessReader() error = %v", err)
	}
	sample, err := read()
	if err != nil {
		t.Fatalf("read() error = %v", err)
	}
	if sample.RSS == 0 {
		t.Error("expected non-zero RSS")
	}
	if sample.NumGoroutine == 0 {
		t.Error("expected goroutine count")
	}
}

func TestSampleRecordsMegabytes(t *testing.T) {
	rec := &fakeRecorder{}
	monitor, err := NewMemoryMonitor(MonitorConfig{
		Recorder: rec,
		Reader:   scriptedReader(MemorySample{RSS: 64 * bytesPerMB, NumGoroutine: 4}),
	})
	if err != nil {
		t.Fatalf("NewMemoryMonitor() error = %v", err)
	}

	if _, err := monitor.Sample(); err != nil {
		t.Fatalf("Sample() error = %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("recorded %d samples, want 1", rec.count())
	}
	got := rec.samples[0]
	if got.name != DefaultMetricName || got.value != 64 || got.category != types.CategoryMemory {
		t.Errorf("recorded %+v, want %s=64 memory", got, DefaultMetricName)
	}
}

func TestGrowthAndGoroutineAlerts(t *testing.T) {
	monitor, err := NewMemoryMonitor(MonitorConfig{
		AlertThreshold: 10,
		Reader: scriptedReader(
			MemorySample{RSS: 100 * bytesPerMB, NumGoroutine: 10},
			MemorySample{RSS: 105 * bytesPerMB, NumGoroutine: 12},
			MemorySample{RSS: 150 * bytesPerMB, NumGoroutine: 20},
		),
	})
	if err != nil {
		t.Fatalf("NewMemoryMonitor() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := monitor.Sample(); err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
	}
	if n := len(monitor.GetAlerts()); n != 0 {
		t.Fatalf("alerts after small growth = %d, want 0", n)
	}

	if _, err := monitor.Sample(); err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	alerts := monitor.GetAlerts()
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	if alerts[0].AlertType != AlertTypeMemoryGrowth || alerts[1].AlertType != AlertTypeGoroutineLeak {
		t.Errorf("alert types = %v, %v", alerts[0].AlertType, alerts[1].AlertType)
	}

	stats := monitor.GetStats()
	if stats.SampleCount != 3 || stats.GrowthSinceBaseline != 50 {
		t.Errorf("stats = %+v", stats)
	}

	monitor.ResetBaseline()
	if got := monitor.GetStats().GrowthSinceBaseline; got != 0 {
		t.Errorf("growth after reset = %v, want 0", got)
	}
	monitor.ClearAlerts()
	if len(monitor.GetAlerts()) != 0 {
		t.Error("ClearAlerts should drop alerts")
	}
}

func TestSampleHistoryIsCapped(t *testing.T) {
	monitor, err := NewMemoryMonitor(MonitorConfig{
		MaxSamples: 3,
		Reader:     scriptedReader(MemorySample{RSS: bytesPerMB, NumGoroutine: 1}),
	})
	if err != nil {
		t.Fatalf("NewMemoryMonitor() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		_, _ = monitor.Sample()
	}
	if n := len(monitor.GetSamples()); n != 3 {
		t.Errorf("samples = %d, want 3", n)
	}
}

func TestSampleError(t *testing.T) {
	monitor, err := NewMemoryMonitor(MonitorConfig{
		Reader: func() (MemorySample, error) { return MemorySample{}, fmt.Errorf("proc unavailable") },
	})
	if err != nil {
		t.Fatalf("NewMemoryMonitor() error = %v", err)
	}
	if _, err := monitor.Sample(); err == nil {
		t.Error("Sample() should surface reader errors")
	}
	if monitor.GetStats().SampleCount != 0 {
		t.Error("failed sample must not be stored")
	}
}

func TestMemoryMonitorStartStop(t *testing.T) {
	rec := &fakeRecorder{}
	monitor, err := NewMemoryMonitor(MonitorConfig{
		SampleInterval: 10 * time.Millisecond,
		Recorder:       rec,
		Reader:         scriptedReader(MemorySample{RSS: bytesPerMB, NumGoroutine: 1}),
	})
	if err != nil {
		t.Fatalf("NewMemoryMonitor() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := monitor.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := monitor.Start(ctx); !errors.HasCode(err, errors.ErrCodeAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ALREADY_STARTED", err)
	}

	deadline := time.Now().Add(time.Second)
	for rec.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() < 3 {
		t.Errorf("recorded %d samples, want at least 3", rec.count())
	}

	if err := monitor.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := monitor.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
