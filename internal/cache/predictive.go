package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// LoadFunc warms or refreshes one resource.
type LoadFunc func(ctx context.Context) error

// Prediction is an external estimate that a resource will be needed soon.
type Prediction struct {
	Probability     float64        `json:"probability"`
	TimeUntilNeeded time.Duration  `json:"time_until_needed"`
	Priority        types.Priority `json:"priority"`
}

// PreloaderConfig configures the preload scheduler
type PreloaderConfig struct {
	ConfidenceThreshold float64                 `yaml:"confidence_threshold"` // Min probability to schedule
	LoadTimeout         time.Duration           `yaml:"load_timeout"`         // 0 leaves loads unbounded
	Logger              *utils.StructuredLogger `yaml:"-"`
}

// PreloaderStats tracks scheduler activity
type PreloaderStats struct {
	Scheduled uint64 `json:"scheduled"`
	Skipped   uint64 `json:"skipped"`
	Replaced  uint64 `json:"replaced"`
	Canceled  uint64 `json:"canceled"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

// Task is a handle to one pending preload.
type Task struct {
	ResourceID string     `json:"resource_id"`
	Prediction Prediction `json:"prediction"`
	CreatedAt  time.Time  `json:"created_at"`
	FireAt     time.Time  `json:"fire_at"`

	owner  *Preloader
	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
}

// Cancel stops the task if it is still pending. It reports whether the task
// was pending.
func (t *Task) Cancel() bool {
	return t.owner.cancelTask(t)
}

// Preloader schedules at most one pending preload per resource id. Scheduling
// again for the same id replaces the pending task.
type Preloader struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	stats  PreloaderStats
	config *PreloaderConfig
	logger *utils.StructuredLogger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewPreloader creates a new preload scheduler
func NewPreloader(config *PreloaderConfig) *Preloader {
	if config == nil {
		config = &PreloaderConfig{}
	}
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = 0.7
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Preloader{
		tasks:   make(map[string]*Task),
		config:  config,
		logger:  logger.WithComponent("preloader"),
		baseCtx: ctx,
		stop:    stop,
	}
}

// PreloadDelay scales the predicted lead time by priority.
func PreloadDelay(p Prediction) time.Duration {
	delay := p.TimeUntilNeeded
	switch p.Priority {
	case types.PriorityCritical:
		delay = delay / 2
	case types.PriorityLow:
		delay = delay * 3 / 2
	case types.PriorityHigh, types.PriorityMedium:
	}
	if delay < 0 {
		return 0
	}
	return delay
}

// Schedule arranges for load to run ahead of when resourceID is needed. It is
// a no-op, returning nil, when the prediction is below the confidence
// threshold.
func (p *Preloader) Schedule(resourceID string, load LoadFunc, prediction Prediction) *Task {
	if prediction.Probability < p.config.ConfidenceThreshold {
		p.mu.Lock()
		p.stats.Skipped++
		p.mu.Unlock()
		p.logger.Debug("preload skipped below threshold", map[string]interface{}{
			"resource":    resourceID,
			"probability": prediction.Probability,
		})
		return nil
	}

	delay := PreloadDelay(prediction)
	now := time.Now()
	ctx, cancel := context.WithCancel(p.baseCtx)
	task := &Task{
		ResourceID: resourceID,
		Prediction: prediction,
		CreatedAt:  now,
		FireAt:     now.Add(delay),
		owner:      p,
		ctx:        ctx,
		cancel:     cancel,
	}

	p.mu.Lock()
	if prev, ok := p.tasks[resourceID]; ok {
		prev.timer.Stop()
		prev.cancel()
		p.stats.Replaced++
	}
	p.tasks[resourceID] = task
	p.stats.Scheduled++
	// timer is assigned under the lock so replace and cancel always see it
	task.timer = time.AfterFunc(delay, func() { p.fire(task, load) })
	p.mu.Unlock()

	p.logger.Debug("preload scheduled", map[string]interface{}{
		"resource": resourceID,
		"delay":    delay.String(),
	})
	return task
}

func (p *Preloader) fire(task *Task, load LoadFunc) {
	p.mu.Lock()
	if p.tasks[task.ResourceID] != task || task.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	// a running load is no longer pending; rescheduling only replaces timers
	delete(p.tasks, task.ResourceID)
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	ctx := task.ctx
	if p.config.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.LoadTimeout)
		defer cancel()
	}

	start := time.Now()
	err := load(ctx)

	p.mu.Lock()
	if err != nil {
		p.stats.Failed++
	} else {
		p.stats.Succeeded++
	}
	p.mu.Unlock()
	task.cancel()

	fields := map[string]interface{}{
		"resource": task.ResourceID,
		"duration": time.Since(start).String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		p.logger.Warn("preload failed", fields)
		return
	}
	p.logger.Info("preload completed", fields)
}

func (p *Preloader) cancelTask(task *Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tasks[task.ResourceID] != task {
		return false
	}
	task.timer.Stop()
	task.cancel()
	delete(p.tasks, task.ResourceID)
	p.stats.Canceled++
	return true
}

// Cancel cancels the pending preload for resourceID.
func (p *Preloader) Cancel(resourceID string) bool {
	p.mu.Lock()
	task, ok := p.tasks[resourceID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return p.cancelTask(task)
}

// ClearAll cancels every pending preload.
func (p *Preloader) ClearAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, task := range p.tasks {
		task.timer.Stop()
		task.cancel()
		delete(p.tasks, id)
		p.stats.Canceled++
	}
}

// IsPending reports whether resourceID has a pending preload.
func (p *Preloader) IsPending(resourceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[resourceID]
	return ok
}

// Pending returns the resource ids with pending preloads, sorted.
func (p *Preloader) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.tasks))
	for id := range p.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns a copy of the scheduler counters.
func (p *Preloader) Stats() PreloaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close cancels pending preloads and waits for running ones to return.
func (p *Preloader) Close() {
	p.ClearAll()
	p.stop()
	p.wg.Wait()
}
