// Package circuit pauses calls to a failing dependency. A breaker opens
// after too many failures, rejects calls for a cooldown, then lets a probe
// through to decide whether to close again.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - calls pass through
	StateClosed State = iota
	// StateOpen - calls are rejected until the cooldown passes
	StateOpen
	// StateHalfOpen - a limited number of probe calls decide the next state
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config contains circuit breaker configuration
type Config struct {
	// Maximum number of probe calls allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period after which the closed state forgets its counts
	Interval time.Duration `yaml:"interval"`

	// Cooldown of the open state before a probe is allowed
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip decides, after a failure, whether to open
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange is called with the lock released
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful decides which errors count as failures
	IsSuccessful func(err error) bool `yaml:"-"`

	Clock types.Clock `yaml:"-"`
}

// DefaultConsecutiveFailures trips the default ReadyToTrip.
const DefaultConsecutiveFailures = 5

// Counts holds the numbers of calls and their outcomes since the last reset
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name   string
	config Config
	clock  types.Clock

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a breaker. Zero fields of config take defaults: one probe, a
// one minute interval and cooldown, and tripping after
// DefaultConsecutiveFailures failures in a row.
func New(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	clock := config.Clock.Or()
	return &Breaker{
		name:   name,
		config: config,
		clock:  clock,
		state:  StateClosed,
		expiry: clock().Add(config.Interval),
	}
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.ConsecutiveFailures >= DefaultConsecutiveFailures
}

func defaultIsSuccessful(err error) bool {
	return err == nil
}

// Execute runs fn unless the breaker rejects the call. A rejected call
// returns a CIRCUIT_OPEN error without running fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	now := b.clock()
	state, change := b.currentState(now)

	var err error
	switch {
	case state == StateOpen:
		err = b.rejected("circuit breaker is open", now)
	case state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests:
		err = b.rejected("too many probe requests while half-open", now)
	default:
		b.counts.onRequest(now)
	}
	b.mu.Unlock()

	b.notify(change)
	return err
}

func (b *Breaker) rejected(msg string, now time.Time) error {
	de := errors.NewError(errors.ErrCodeCircuitOpen, msg).
		WithComponent("circuit").
		WithContext("breaker", b.name)
	if b.state == StateOpen {
		de = de.WithDetail("retry_after", b.expiry.Sub(now).String())
	}
	return de
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	now := b.clock()
	state, change := b.currentState(now)

	var next *stateChange
	if b.config.IsSuccessful(err) {
		b.counts.onSuccess()
		if state == StateHalfOpen {
			next = b.setState(StateClosed, now)
		}
	} else {
		b.counts.onFailure()
		switch state {
		case StateClosed:
			if b.config.ReadyToTrip(b.counts) {
				next = b.setState(StateOpen, now)
			}
		case StateHalfOpen:
			next = b.setState(StateOpen, now)
		case StateOpen:
		}
	}
	b.mu.Unlock()

	b.notify(change)
	b.notify(next)
}

type stateChange struct {
	from, to State
}

// currentState advances time-based transitions. Callers hold b.mu.
func (b *Breaker) currentState(now time.Time) (State, *stateChange) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			return StateHalfOpen, b.setState(StateHalfOpen, now)
		}
	case StateHalfOpen:
	}
	return b.state, nil
}

// setState changes state and returns the change to report. Callers hold
// b.mu.
func (b *Breaker) setState(state State, now time.Time) *stateChange {
	if b.state == state {
		return nil
	}
	prev := b.state

	b.state = state
	b.counts.clear()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}
	return &stateChange{from: prev, to: state}
}

func (b *Breaker) notify(c *stateChange) {
	if c != nil && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, c.from, c.to)
	}
}

// State returns the current state of the breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	state, change := b.currentState(b.clock())
	b.mu.Unlock()

	b.notify(change)
	return state
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.counts.clear()
	change := b.setState(StateClosed, b.clock())
	b.mu.Unlock()

	b.notify(change)
}

// Name returns the name of the breaker
func (b *Breaker) Name() string {
	return b.name
}

// Methods for Counts struct

func (c *Counts) onRequest(now time.Time) {
	c.Requests++
	c.LastActivity = now
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}
