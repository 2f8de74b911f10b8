package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// FetchFunc loads fresh data for a resource.
type FetchFunc func(ctx context.Context) (interface{}, error)

// ReadSource says where a read result came from.
type ReadSource string

const (
	SourceCache ReadSource = "cache"
	SourceStale ReadSource = "stale"
	SourceFetch ReadSource = "fetch"
)

// Request describes one read of a resource.
type Request struct {
	Params   KeyParams
	Config   Config
	Source   types.SourceKind
	Priority types.Priority
	// Variant tags samples and errors for A/B analysis.
	Variant string
	// AccessFrequency and ErrorRate feed the TTL policy. A nil ErrorRate is
	// derived from the resource's own cache counters.
	AccessFrequency *float64
	ErrorRate       *float64
}

// ReadResult is the outcome of a read.
type ReadResult struct {
	Data    interface{}   `json:"data"`
	IsStale bool          `json:"is_stale"`
	Source  ReadSource    `json:"source"`
	Key     string        `json:"key"`
	Age     time.Duration `json:"age"`
}

// EngineConfig configures the cache engine
type EngineConfig struct {
	Store            StoreConfig   `yaml:"store"`
	PreloadThreshold float64       `yaml:"preload_threshold"`
	RefreshTimeout   time.Duration `yaml:"refresh_timeout"` // bounds background refreshes only
	SweepInterval    time.Duration `yaml:"sweep_interval"`

	Clock    types.Clock             `yaml:"-"`
	Logger   *utils.StructuredLogger `yaml:"-"`
	Samples  types.SampleRecorder    `yaml:"-"`
	Errors   types.ErrorRecorder     `yaml:"-"`
	Observer types.CacheObserver     `yaml:"-"`
}

// Engine is the cache read path: lookups, stale-while-revalidate, background
// refresh, and scheduled preloads over a Store.
type Engine struct {
	store     *Store
	tracker   *Tracker
	preloader *Preloader
	group     singleflight.Group

	// refreshing holds keys with a background refresh in flight
	refreshing sync.Map

	config   *EngineConfig
	clock    types.Clock
	logger   *utils.StructuredLogger
	samples  types.SampleRecorder
	errors   types.ErrorRecorder
	observer types.CacheObserver

	// mu orders wg.Add in refreshAsync against the wg.Wait in Close
	mu      sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEngine creates a new cache engine
func NewEngine(config *EngineConfig) *Engine {
	if config == nil {
		config = &EngineConfig{
			Store: StoreConfig{MaxEntries: 10000, Shards: 16},
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Engine{
		store:   NewStore(&config.Store),
		tracker: NewTracker(),
		preloader: NewPreloader(&PreloaderConfig{
			ConfidenceThreshold: config.PreloadThreshold,
			LoadTimeout:         config.RefreshTimeout,
			Logger:              logger,
		}),
		config:   config,
		clock:    config.Clock.Or(),
		logger:   logger.WithComponent("cache"),
		samples:  config.Samples,
		errors:   config.Errors,
		observer: config.Observer,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the expiry sweeper when a sweep interval is configured.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.NewError(errors.ErrCodeComponentStopped, "cache engine is closed").
			WithComponent("cache")
	}
	if e.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "cache engine already started").
			WithComponent("cache")
	}
	e.started = true

	if e.config.SweepInterval > 0 {
		e.wg.Add(1)
		go e.sweepLoop(ctx, e.config.SweepInterval)
	}
	return nil
}

func (e *Engine) sweepLoop(ctx context.Context, interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if n := e.store.Sweep(e.clock()); n > 0 {
				e.logger.Debug("swept expired entries", map[string]interface{}{"count": n})
			}
		}
	}
}

// Close stops the sweeper, cancels pending preloads, and waits for
// background refreshes to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.stopCh)
	e.mu.Unlock()

	e.preloader.Close()
	e.wg.Wait()
}

// Get reads a resource through the cache. Fresh entries are returned
// directly, starting a background refresh once the preload point has passed.
// Stale entries inside the SWR window are returned with IsStale set while a
// refresh runs. Anything else is a miss that calls fetch and stores the result.
// Fetch errors are recorded and returned; an existing entry is left as is.
func (e *Engine) Get(ctx context.Context, req Request, fetch FetchFunc) (ReadResult, error) {
	resourceID := req.Params.ResourceID
	if resourceID == "" {
		return ReadResult{}, errors.NewError(errors.ErrCodeCacheKey, "resource id is required").
			WithComponent("cache").WithOperation("get")
	}

	key := GenerateKey(req.Params)
	now := e.clock()

	if entry, ok := e.store.Get(key); ok {
		switch {
		case IsFresh(entry, now):
			e.recordHit(resourceID, false)
			if ShouldPreload(entry, req.Config, now) {
				e.refreshAsync(ctx, key, req, fetch)
			}
			return resultFrom(entry, SourceCache, now), nil

		case IsStaleButUsable(entry, req.Config, now):
			e.recordHit(resourceID, true)
			e.refreshAsync(ctx, key, req, fetch)
			return resultFrom(entry, SourceStale, now), nil
		}
	}

	e.tracker.RecordMiss(resourceID)
	e.observe(resourceID, types.CacheMiss)

	entry, err := e.load(ctx, key, req, fetch)
	if err != nil {
		return ReadResult{}, err
	}
	return resultFrom(entry, SourceFetch, e.clock()), nil
}

func resultFrom(entry *Entry, source ReadSource, now time.Time) ReadResult {
	return ReadResult{
		Data:    entry.Data,
		IsStale: source == SourceStale,
		Source:  source,
		Key:     entry.Key,
		Age:     entry.Age(now),
	}
}

// load coalesces concurrent misses for key into one fetch. The shared fetch
// is detached from the caller that started it, so one waiter leaving does not
// fail the others. Each waiter can abandon the wait through its own context.
func (e *Engine) load(ctx context.Context, key string, req Request, fetch FetchFunc) (*Entry, error) {
	fctx := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key, func() (interface{}, error) {
		return e.fetchAndStore(fctx, key, req, fetch)
	})

	select {
	case <-ctx.Done():
		return nil, fetchError(ctx, ctx.Err(), req.Params.ResourceID)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	}
}

// fetchAndStore runs fetch, and on success stores a new entry in one step.
func (e *Engine) fetchAndStore(ctx context.Context, key string, req Request, fetch FetchFunc) (*Entry, error) {
	resourceID := req.Params.ResourceID

	start := time.Now()
	data, err := fetch(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != context.Canceled {
			e.recordFailure(req, err, elapsed)
		}
		return nil, fetchError(ctx, err, resourceID)
	}

	now := e.clock()
	ttl := ComputeTTL(e.ttlParams(req), now)

	var dr *types.DateRange
	if req.Params.DateRange != nil {
		n := req.Params.DateRange.Normalize()
		dr = &n
	}

	entry := NewEntry(key, resourceID, data, now, ttl, req.Config, dr)
	for _, evicted := range e.store.Set(entry) {
		e.tracker.RecordEviction(evicted.ResourceID)
		e.observe(evicted.ResourceID, types.CacheEviction)
	}

	e.recordLoad(req, elapsed)
	e.logger.Debug("entry stored", map[string]interface{}{
		"resource": resourceID,
		"key":      key,
		"ttl":      ttl.String(),
	})
	return entry, nil
}

func fetchError(ctx context.Context, err error, resourceID string) error {
	code := errors.ErrCodeFetchFailed
	switch ctx.Err() {
	case context.Canceled:
		code = errors.ErrCodeFetchCanceled
	case context.DeadlineExceeded:
		code = errors.ErrCodeFetchTimeout
	}
	if errors.HasCode(err, code) {
		return err
	}
	return errors.Wrap(err, code, "fetch failed").
		WithComponent("cache").
		WithOperation("fetch").
		WithResource(resourceID)
}

func (e *Engine) ttlParams(req Request) TTLParams {
	p := TTLParams{
		BaseTTL:         req.Config.BaseTTL,
		Source:          req.Source,
		Priority:        req.Priority,
		AccessFrequency: req.AccessFrequency,
		ErrorRate:       req.ErrorRate,
	}
	if req.Config.DateRangeAware {
		p.DateRange = req.Params.DateRange
	}
	if p.ErrorRate == nil {
		m := e.tracker.Snapshot(req.Params.ResourceID)
		if m.Loads+m.Errors > 0 {
			rate := m.ErrorRate()
			p.ErrorRate = &rate
		}
	}
	return p
}

// refreshAsync starts one background refresh per key. Readers never wait on
// it; a failure keeps the current entry.
func (e *Engine) refreshAsync(ctx context.Context, key string, req Request, fetch FetchFunc) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, busy := e.refreshing.LoadOrStore(key, struct{}{}); busy {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.refreshing.Delete(key)

		rctx := context.WithoutCancel(ctx)
		if e.config.RefreshTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(rctx, e.config.RefreshTimeout)
			defer cancel()
		}

		if err := e.refresh(rctx, key, req, fetch); err != nil {
			e.logger.Warn("background refresh failed", map[string]interface{}{
				"resource": req.Params.ResourceID,
				"key":      key,
				"error":    err.Error(),
			})
		}
	}()
}

func (e *Engine) refresh(ctx context.Context, key string, req Request, fetch FetchFunc) error {
	_, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.fetchAndStore(ctx, key, req, fetch)
	})
	if err != nil {
		return err
	}
	e.tracker.RecordPreload(req.Params.ResourceID)
	e.observe(req.Params.ResourceID, types.CachePreload)
	return nil
}

// SchedulePreload asks the preloader to warm the entry for req ahead of the
// predicted need. It returns nil when the prediction is too weak.
func (e *Engine) SchedulePreload(req Request, fetch FetchFunc, prediction Prediction) *Task {
	key := GenerateKey(req.Params)
	return e.preloader.Schedule(req.Params.ResourceID, func(ctx context.Context) error {
		return e.refresh(ctx, key, req, fetch)
	}, prediction)
}

// CancelPreload cancels the pending preload of resourceID.
func (e *Engine) CancelPreload(resourceID string) bool {
	return e.preloader.Cancel(resourceID)
}

// ClearPreloads cancels every pending preload.
func (e *Engine) ClearPreloads() {
	e.preloader.ClearAll()
}

// Preloader exposes the preload scheduler.
func (e *Engine) Preloader() *Preloader {
	return e.preloader
}

// Peek returns the stored entry for params without affecting recency.
func (e *Engine) Peek(params KeyParams) (*Entry, bool) {
	return e.store.Peek(GenerateKey(params))
}

// Invalidate removes the entry for params.
func (e *Engine) Invalidate(params KeyParams) bool {
	return e.store.Delete(GenerateKey(params))
}

// InvalidateResource removes every entry of resourceID.
func (e *Engine) InvalidateResource(resourceID string) int {
	return e.store.DeleteResource(resourceID)
}

// InvalidateRange removes entries of resourceID overlapping dr.
func (e *Engine) InvalidateRange(resourceID string, dr types.DateRange) int {
	return e.store.DeleteOverlapping(resourceID, dr)
}

// Len returns the number of stored entries.
func (e *Engine) Len() int {
	return e.store.Len()
}

// Metrics returns the cache counters of resourceID.
func (e *Engine) Metrics(resourceID string) Metrics {
	return e.tracker.Snapshot(resourceID)
}

// AllMetrics returns the cache counters of every resource.
func (e *Engine) AllMetrics() map[string]Metrics {
	return e.tracker.All()
}

func (e *Engine) recordHit(resourceID string, stale bool) {
	e.tracker.RecordHit(resourceID, stale)
	if stale {
		e.observe(resourceID, types.CacheStaleHit)
		return
	}
	e.observe(resourceID, types.CacheHit)
}

func (e *Engine) recordLoad(req Request, elapsed time.Duration) {
	resourceID := req.Params.ResourceID
	e.tracker.RecordLoad(resourceID, elapsed)

	if e.samples != nil {
		ms := float64(elapsed) / float64(time.Millisecond)
		e.samples.Record(types.LoadTimeMetric(resourceID, ""), ms, types.CategoryLoadTime)
		if req.Variant != "" {
			name := types.LoadTimeMetric(resourceID, req.Variant)
			if vr, ok := e.samples.(types.VariantRecorder); ok {
				vr.RecordVariant(name, ms, types.CategoryLoadTime)
			} else {
				e.samples.Record(name, ms, types.CategoryLoadTime)
			}
		}
	}
	if e.observer != nil {
		e.observer.ObserveLoad(resourceID, elapsed, nil)
	}
}

func (e *Engine) recordFailure(req Request, err error, elapsed time.Duration) {
	resourceID := req.Params.ResourceID
	e.tracker.RecordError(resourceID)
	e.observe(resourceID, types.CacheError)
	if e.observer != nil {
		e.observer.ObserveLoad(resourceID, elapsed, err)
	}

	if e.errors != nil {
		e.errors.RecordError(types.ErrorEvent{
			ResourceID: resourceID,
			Timestamp:  e.clock(),
			Type:       types.ErrorTypeDataFetch,
			Message:    err.Error(),
			Severity:   severityFor(req.Priority),
			UserImpact: 1,
			Context:    types.ErrorContext{Variant: req.Variant, UserID: req.Params.UserID},
		})
	}
}

func severityFor(p types.Priority) types.Severity {
	switch p {
	case types.PriorityCritical:
		return types.SeverityCritical
	case types.PriorityHigh:
		return types.SeverityHigh
	case types.PriorityLow:
		return types.SeverityLow
	case types.PriorityMedium:
	}
	return types.SeverityMedium
}

func (e *Engine) observe(resourceID string, event types.CacheEvent) {
	if e.observer != nil {
		e.observer.ObserveCacheEvent(resourceID, event)
	}
}

// Fetch is the typed form of Engine.Get.
func Fetch[T any](ctx context.Context, e *Engine, req Request, fetch func(context.Context) (T, error)) (T, ReadResult, error) {
	var zero T
	res, err := e.Get(ctx, req, func(ctx context.Context) (interface{}, error) {
		v, err := fetch(ctx)
		return v, err
	})
	if err != nil {
		return zero, res, err
	}

	data, ok := res.Data.(T)
	if !ok {
		return zero, res, errors.NewError(errors.ErrCodeCacheKey, "cached value has unexpected type").
			WithComponent("cache").
			WithResource(req.Params.ResourceID).
			WithContext("key", res.Key)
	}
	return data, res, nil
}
