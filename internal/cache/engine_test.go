package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sampleSink struct {
	mu       sync.Mutex
	names    []string
	variants []string
}

func (s *sampleSink) Record(name string, _ float64, _ types.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
}

func (s *sampleSink) RecordVariant(name string, _ float64, _ types.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants = append(s.variants, name)
}

func (s *sampleSink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

func (s *sampleSink) Variants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.variants...)
}

type errorSink struct {
	mu     sync.Mutex
	events []types.ErrorEvent
}

func (s *errorSink) RecordError(ev types.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *errorSink) Events() []types.ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ErrorEvent(nil), s.events...)
}

type eventCounter struct {
	mu     sync.Mutex
	counts map[types.CacheEvent]int
}

func (c *eventCounter) ObserveCacheEvent(_ string, ev types.CacheEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[types.CacheEvent]int)
	}
	c.counts[ev]++
}

func (c *eventCounter) ObserveLoad(string, time.Duration, error) {}

func (c *eventCounter) Count(ev types.CacheEvent) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ev]
}

type engineFixture struct {
	engine   *Engine
	clock    *fakeClock
	samples  *sampleSink
	errs     *errorSink
	observer *eventCounter
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		clock:    newFakeClock(),
		samples:  &sampleSink{},
		errs:     &errorSink{},
		observer: &eventCounter{},
	}
	f.engine = NewEngine(&EngineConfig{
		Store:    StoreConfig{MaxEntries: 100, Shards: 4},
		Clock:    f.clock.Now,
		Samples:  f.samples,
		Errors:   f.errs,
		Observer: f.observer,
	})
	t.Cleanup(f.engine.Close)
	return f
}

func standardRequest(resourceID string) Request {
	cfg, _ := Preset(StrategyStandard)
	return Request{
		Params:   KeyParams{ResourceID: resourceID},
		Config:   cfg,
		Source:   types.SourceQuery,
		Priority: types.PriorityMedium,
	}
}

func constFetch(v interface{}, calls *atomic.Int32) FetchFunc {
	return func(context.Context) (interface{}, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestEngineMissThenHit(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	req := standardRequest("orders-list")

	var calls atomic.Int32
	res, err := f.engine.Get(ctx, req, constFetch("rows", &calls))
	require.NoError(t, err)
	assert.Equal(t, SourceFetch, res.Source)
	assert.Equal(t, "rows", res.Data)
	assert.False(t, res.IsStale)
	assert.Equal(t, "widget:orders-list", res.Key)

	f.clock.Advance(10 * time.Second)
	res, err = f.engine.Get(ctx, req, constFetch("other", &calls))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "rows", res.Data)
	assert.Equal(t, 10*time.Second, res.Age)

	assert.Equal(t, int32(1), calls.Load())
	m := f.engine.Metrics("orders-list")
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
	assert.Equal(t, uint64(1), m.Loads)
	assert.Equal(t, 1, f.observer.Count(types.CacheHit))
	assert.Equal(t, 1, f.observer.Count(types.CacheMiss))
}

func TestEngineServesStaleAndRefreshes(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	req := standardRequest("revenue")

	var calls atomic.Int32
	_, err := f.engine.Get(ctx, req, constFetch("v1", &calls))
	require.NoError(t, err)

	entry, ok := f.engine.Peek(req.Params)
	require.True(t, ok)
	assert.Equal(t, 300*time.Second, entry.TTL)

	f.clock.Advance(330 * time.Second)
	res, err := f.engine.Get(ctx, req, constFetch("v2", &calls))
	require.NoError(t, err)
	assert.True(t, res.IsStale)
	assert.Equal(t, SourceStale, res.Source)
	assert.Equal(t, "v1", res.Data)

	require.Eventually(t, func() bool {
		e, ok := f.engine.Peek(req.Params)
		return ok && e.Data == "v2"
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.engine.Metrics("revenue").Preloads == 1
	}, time.Second, 5*time.Millisecond)

	m := f.engine.Metrics("revenue")
	assert.Equal(t, uint64(1), m.StaleHits)
	assert.Equal(t, uint64(1), m.Hits)
}

func TestEnginePastSWRWindowIsMiss(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	req := standardRequest("revenue")

	var calls atomic.Int32
	_, err := f.engine.Get(ctx, req, constFetch("v1", &calls))
	require.NoError(t, err)

	f.clock.Advance(361 * time.Second)
	res, err := f.engine.Get(ctx, req, constFetch("v2", &calls))
	require.NoError(t, err)
	assert.Equal(t, SourceFetch, res.Source)
	assert.Equal(t, "v2", res.Data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEnginePreloadPointTriggersRefresh(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	req := standardRequest("kpis")

	var calls atomic.Int32
	_, err := f.engine.Get(ctx, req, constFetch("v1", &calls))
	require.NoError(t, err)

	f.clock.Advance(280 * time.Second)
	res, err := f.engine.Get(ctx, req, constFetch("v2", &calls))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "v1", res.Data)

	require.Eventually(t, func() bool {
		e, ok := f.engine.Peek(req.Params)
		return ok && e.Data == "v2"
	}, time.Second, 5*time.Millisecond)
}

func TestEngineFetchErrorKeepsEntry(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	req := standardRequest("orders-list")
	req.Priority = types.PriorityHigh
	req.Variant = "B"
	req.Params.UserID = "u7"

	var calls atomic.Int32
	_, err := f.engine.Get(ctx, req, constFetch("v1", &calls))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.engine.Get(ctx, req, func(context.Context) (interface{}, error) {
		return nil, fmt.Errorf("upstream 503")
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFetchFailed))
	assert.Contains(t, err.Error(), "upstream 503")

	entry, ok := f.engine.Peek(req.Params)
	require.True(t, ok)
	assert.Equal(t, "v1", entry.Data)

	events := f.errs.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "orders-list", events[0].ResourceID)
	assert.Equal(t, types.ErrorTypeDataFetch, events[0].Type)
	assert.Equal(t, types.SeverityHigh, events[0].Severity)
	assert.Equal(t, "B", events[0].Context.Variant)
	assert.Equal(t, "u7", events[0].Context.UserID)
	assert.Equal(t, uint64(1), f.engine.Metrics("orders-list").Errors)
}

func TestEngineCanceledReadNotRecorded(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	req := standardRequest("slow")

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, err := f.engine.Get(ctx, req, func(context.Context) (interface{}, error) {
		close(started)
		<-release
		return "rows", nil
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFetchCanceled))
	assert.Empty(t, f.errs.Events())
	assert.Zero(t, f.engine.Metrics("slow").Errors)

	// the detached fetch still completes and warms the entry
	close(release)
	require.Eventually(t, func() bool { return f.engine.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEngineWaiterSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	req := standardRequest("shared")

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (interface{}, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "rows", nil
	}

	type outcome struct {
		res ReadResult
		err error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		res, err := f.engine.Get(ctx, req, fetch)
		first <- outcome{res, err}
	}()
	<-started

	go func() {
		res, err := f.engine.Get(context.Background(), req, fetch)
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	a := <-first
	require.Error(t, a.err)
	assert.True(t, errors.HasCode(a.err, errors.ErrCodeFetchCanceled))

	close(release)
	b := <-second
	require.NoError(t, b.err)
	assert.Equal(t, "rows", b.res.Data)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, f.errs.Events())
}

func TestEngineCloseDuringStaleReads(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	req := standardRequest("revenue")

	var calls atomic.Int32
	_, err := f.engine.Get(context.Background(), req, constFetch("v1", &calls))
	require.NoError(t, err)

	// stale inside the SWR window, so every read tries to start a refresh
	f.clock.Advance(330 * time.Second)

	var readers sync.WaitGroup
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < 50; j++ {
				_, _ = f.engine.Get(context.Background(), req, constFetch("v2", &calls))
			}
		}()
	}
	f.engine.Close()
	readers.Wait()

	before := calls.Load()
	res, err := f.engine.Get(context.Background(), req, constFetch("v3", &calls))
	require.NoError(t, err)
	assert.NotEqual(t, SourceFetch, res.Source)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, calls.Load(), "no refresh starts after Close")

	err = f.engine.Start(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentStopped))
}

func TestEngineCoalescesConcurrentMisses(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	req := standardRequest("heavy")

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return "done", nil
	}

	const readers = 10
	var started, finished sync.WaitGroup
	results := make([]ReadResult, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		started.Add(1)
		finished.Add(1)
		go func(i int) {
			defer finished.Done()
			started.Done()
			results[i], errs[i] = f.engine.Get(context.Background(), req, fetch)
		}(i)
	}
	started.Wait()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	finished.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "done", results[i].Data)
	}
	assert.Equal(t, 1, f.engine.Len())
}

func TestEngineRecordsVariantSamples(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	req := standardRequest("checkout")
	req.Variant = "B"

	var calls atomic.Int32
	_, err := f.engine.Get(context.Background(), req, constFetch(1, &calls))
	require.NoError(t, err)

	assert.Equal(t, []string{"checkout.load_time"}, f.samples.Names())
	assert.Equal(t, []string{"checkout@B.load_time"}, f.samples.Variants())
}

func TestEngineRejectsEmptyResource(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	_, err := f.engine.Get(context.Background(), Request{}, func(context.Context) (interface{}, error) {
		t.Fatal("fetch must not run")
		return nil, nil
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeCacheKey))
}

func TestEngineInvalidation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC) }

	var calls atomic.Int32
	for _, p := range []KeyParams{
		{ResourceID: "orders", DateRange: &types.DateRange{From: day(1), To: day(7)}},
		{ResourceID: "orders", DateRange: &types.DateRange{From: day(20), To: day(27)}},
		{ResourceID: "orders", UserID: "u1"},
		{ResourceID: "revenue"},
	} {
		req := standardRequest(p.ResourceID)
		req.Params = p
		_, err := f.engine.Get(ctx, req, constFetch("x", &calls))
		require.NoError(t, err)
	}
	require.Equal(t, 4, f.engine.Len())

	assert.True(t, f.engine.Invalidate(KeyParams{ResourceID: "revenue"}))
	assert.Equal(t, 2, f.engine.InvalidateRange("orders", types.DateRange{From: day(5), To: day(6)}))
	assert.Equal(t, 1, f.engine.InvalidateResource("orders"))
	assert.Equal(t, 0, f.engine.Len())
}

func TestEngineHistoricalRangeStretchesTTL(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	req := standardRequest("archive")
	req.Params.DateRange = &types.DateRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC),
	}

	var calls atomic.Int32
	_, err := f.engine.Get(context.Background(), req, constFetch("x", &calls))
	require.NoError(t, err)

	entry, ok := f.engine.Peek(req.Params)
	require.True(t, ok)
	assert.Equal(t, 600*time.Second, entry.TTL)
	require.NotNil(t, entry.DateRange)
	assert.Equal(t, 23, entry.DateRange.To.Hour())
}

func TestEngineSchedulePreload(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	req := standardRequest("forecast")

	var calls atomic.Int32
	assert.Nil(t, f.engine.SchedulePreload(req, constFetch("x", &calls), Prediction{Probability: 0.1}))

	task := f.engine.SchedulePreload(req, constFetch("warm", &calls), Prediction{
		Probability:     0.95,
		TimeUntilNeeded: 10 * time.Millisecond,
	})
	require.NotNil(t, task)

	require.Eventually(t, func() bool {
		e, ok := f.engine.Peek(req.Params)
		return ok && e.Data == "warm"
	}, time.Second, 5*time.Millisecond)
	assert.False(t, f.engine.Preloader().IsPending("forecast"))

	res, err := f.engine.Get(context.Background(), req, constFetch("cold", &calls))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "warm", res.Data)
}

func TestEngineStartTwice(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.engine.Start(ctx))
	err := f.engine.Start(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyStarted))
}

func TestFetchTyped(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	req := standardRequest("typed")

	rows, res, err := Fetch(context.Background(), f.engine, req, func(context.Context) ([]int, error) {
		return []int{1, 2, 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, rows)
	assert.Equal(t, SourceFetch, res.Source)

	_, _, err = Fetch(context.Background(), f.engine, req, func(context.Context) (string, error) {
		return "unused", nil
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeCacheKey))
}
