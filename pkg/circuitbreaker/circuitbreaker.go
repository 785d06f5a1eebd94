// Package circuitbreaker stops calling a failing dependency for a while
// instead of paying its timeout on every call.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// ErrOpen is returned without calling the dependency while the breaker is
// open, or while the half-open probe is already in flight.
var ErrOpen = errors.New("circuitbreaker: open")

// Config configures a Breaker.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before a probe.
	Cooldown time.Duration

	// OnStateChange is called with the lock held; keep it short.
	OnStateChange func(name string, from, to State)

	// IsFailure decides which errors count. Default: any non-nil error
	// except context cancellation by the caller.
	IsFailure func(error) bool

	Now func() time.Time
}

// Option mutates Config.
type Option func(*Config)

func WithFailureThreshold(n int) Option        { return func(c *Config) { c.FailureThreshold = n } }
func WithCooldown(d time.Duration) Option      { return func(c *Config) { c.Cooldown = d } }
func WithIsFailure(fn func(error) bool) Option { return func(c *Config) { c.IsFailure = fn } }
func WithClock(now func() time.Time) Option    { return func(c *Config) { c.Now = now } }

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	config Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	rejected int64
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	cfg := Config{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	return &Breaker{config: cfg}
}

// Execute calls fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(probe, err)
	return err
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.config.Now().Sub(b.openedAt) < b.config.Cooldown {
			b.rejected++
			return false, ErrOpen
		}
		b.transition(StateHalfOpen)
	}

	// half-open: exactly one probe at a time
	if b.probing {
		b.rejected++
		return false, ErrOpen
	}
	b.probing = true
	return true, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	if !b.config.IsFailure(err) {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.config.FailureThreshold {
		b.openedAt = b.config.Now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has
// passed still reports open until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Rejected returns how many calls were refused while open.
func (b *Breaker) Rejected() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.config.Name }
