package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/utils"
)

// Notifier receives every scheduled report.
type Notifier interface {
	Notify(ctx context.Context, r *Report) error
	Name() string
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r *Report) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, r *Report) error {
	return f(ctx, r)
}

// Name implements Notifier.
func (f NotifierFunc) Name() string {
	return "func"
}

// LogNotifier writes a one-line summary of each report to a logger.
type LogNotifier struct {
	Logger *utils.StructuredLogger
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, r *Report) error {
	n.Logger.Info("performance report generated", map[string]interface{}{
		"id":              r.ID,
		"type":            string(r.Type),
		"score":           r.Summary.PerformanceScore,
		"resources":       r.Summary.TotalResources,
		"critical_issues": len(r.CriticalIssues),
	})
	return nil
}

// Name implements Notifier.
func (n *LogNotifier) Name() string {
	return "log"
}

// Schedule runs a report of Period every Interval.
type Schedule struct {
	Period   Period
	Interval time.Duration
}

// DefaultSchedules returns the daily and weekly schedules.
func DefaultSchedules() []Schedule {
	return []Schedule{
		{Period: PeriodDaily, Interval: PeriodDaily.Length()},
		{Period: PeriodWeekly, Interval: PeriodWeekly.Length()},
	}
}

// SchedulerConfig configures automated reporting
type SchedulerConfig struct {
	Schedules []Schedule
	Notifiers []Notifier
	Logger    *utils.StructuredLogger
}

// Scheduler generates reports on fixed intervals and hands them to its
// notifiers.
type Scheduler struct {
	mu        sync.RWMutex
	generator *Generator
	schedules []Schedule
	notifiers []Notifier
	last      map[Period]*Report
	logger    *utils.StructuredLogger

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a report scheduler. Nil config uses the default
// schedules and no notifiers.
func NewScheduler(generator *Generator, config *SchedulerConfig) *Scheduler {
	cfg := SchedulerConfig{}
	if config != nil {
		cfg = *config
	}
	if len(cfg.Schedules) == 0 {
		cfg.Schedules = DefaultSchedules()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Scheduler{
		generator: generator,
		schedules: cfg.Schedules,
		notifiers: cfg.Notifiers,
		last:      make(map[Period]*Report),
		logger:    logger.WithComponent("report-scheduler"),
	}
}

// AddNotifier registers another notifier.
func (s *Scheduler) AddNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

// Start launches one loop per schedule. The loops stop when ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "report scheduler already started").
			WithComponent("report-scheduler")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, sched := range s.schedules {
		if sched.Interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, sched)
	}

	s.logger.Info("report scheduler started", map[string]interface{}{
		"schedules": len(s.schedules),
	})
	return nil
}

// Stop cancels every loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, sched Schedule) {
	defer s.wg.Done()

	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, sched.Period); err != nil {
				s.logger.Warn("scheduled report delivery failed", map[string]interface{}{
					"period": string(sched.Period),
					"error":  err.Error(),
				})
			}
		}
	}
}

// RunOnce generates a report for period and delivers it to every notifier.
// Every notifier is tried; the first failure is returned.
func (s *Scheduler) RunOnce(ctx context.Context, period Period) (*Report, error) {
	r := s.generator.Generate(period, nil)

	s.mu.Lock()
	s.last[period] = r
	notifiers := make([]Notifier, len(s.notifiers))
	copy(notifiers, s.notifiers)
	s.mu.Unlock()

	var first error
	failed := 0
	for _, n := range notifiers {
		if err := n.Notify(ctx, r); err != nil {
			failed++
			s.logger.Error("report notification failed", map[string]interface{}{
				"notifier": n.Name(),
				"report":   r.ID,
				"error":    err.Error(),
			})
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return r, errors.Wrap(first, errors.ErrCodeNotificationFailed, "report notification failed").
			WithComponent("report-scheduler").
			WithContext("report", r.ID).
			WithContext("failed", fmt.Sprintf("%d/%d", failed, len(notifiers)))
	}
	return r, nil
}

// Last returns the most recent scheduled report of period.
func (s *Scheduler) Last(period Period) (*Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.last[period]
	return r, ok
}
