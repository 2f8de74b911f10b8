package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerCounters(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.RecordMiss("orders")
	tr.RecordHit("orders", false)
	tr.RecordHit("orders", true)
	tr.RecordHit("orders", false)
	tr.RecordPreload("orders")
	tr.RecordEviction("orders")
	tr.RecordLoad("orders", 100*time.Millisecond)
	tr.RecordLoad("orders", 300*time.Millisecond)
	tr.RecordError("orders")

	m := tr.Snapshot("orders")
	assert.Equal(t, uint64(3), m.Hits)
	assert.Equal(t, uint64(1), m.StaleHits)
	assert.Equal(t, uint64(1), m.Misses)
	assert.Equal(t, uint64(1), m.Preloads)
	assert.Equal(t, uint64(1), m.Evictions)
	assert.Equal(t, uint64(2), m.Loads)
	assert.InDelta(t, 200.0, m.AvgLoadTime, 1e-9)
	assert.InDelta(t, 0.75, m.HitRate(), 1e-9)
	assert.InDelta(t, 1.0/3.0, m.ErrorRate(), 1e-9)
}

func TestTrackerEmpty(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	m := tr.Snapshot("unknown")
	assert.Zero(t, m.HitRate())
	assert.Zero(t, m.ErrorRate())
	assert.Empty(t, tr.Resources())
}

func TestTrackerConcurrent(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordHit("a", j%2 == 0)
				tr.RecordMiss("b")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(5000), tr.Snapshot("a").Hits)
	assert.Equal(t, uint64(2500), tr.Snapshot("a").StaleHits)
	assert.Equal(t, uint64(5000), tr.Snapshot("b").Misses)
	assert.Equal(t, []string{"a", "b"}, tr.Resources())
	assert.Len(t, tr.All(), 2)

	tr.Reset()
	assert.Empty(t, tr.All())
}
