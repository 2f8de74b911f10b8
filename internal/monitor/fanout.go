package monitor

import (
	"time"

	"github.com/dashcache/dashcache/pkg/types"
)

// sampleFanout sends every sample to each recorder in order.
type sampleFanout []types.SampleRecorder

func (f sampleFanout) Record(name string, value float64, category types.Category) {
	for _, r := range f {
		r.Record(name, value, category)
	}
}

// RecordVariant sends a variant sample to the recorders that keep variant
// series.
func (f sampleFanout) RecordVariant(name string, value float64, category types.Category) {
	for _, r := range f {
		if vr, ok := r.(types.VariantRecorder); ok {
			vr.RecordVariant(name, value, category)
		}
	}
}

// observerFanout sends every cache event to each observer in order.
type observerFanout []types.CacheObserver

func (f observerFanout) ObserveCacheEvent(resourceID string, event types.CacheEvent) {
	for _, o := range f {
		o.ObserveCacheEvent(resourceID, event)
	}
}

func (f observerFanout) ObserveLoad(resourceID string, duration time.Duration, err error) {
	for _, o := range f {
		o.ObserveLoad(resourceID, duration, err)
	}
}
