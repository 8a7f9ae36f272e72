// Package resilience provides a circuit breaker for calls to remote
// dependencies.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected
	StateHalfOpen              // limited probes allowed
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

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// FailThreshold consecutive failures open the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// HalfOpenMax probes are let through while half-open.
	HalfOpenMax int
	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(from, to State)
}

var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Cooldown:      30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker is a consecutive-failure circuit breaker. Context cancellation by
// the caller is not counted as a failure.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time
}

// NewBreaker returns a closed Breaker. Zero fields take their defaults.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, changed := b.advance()
	b.mu.Unlock()
	b.notify(changed, StateOpen, st)
	return st
}

// advance moves open to half-open once the cooldown has passed. Must hold mu.
func (b *Breaker) advance() (State, bool) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probes = 0
		return b.state, true
	}
	return b.state, false
}

// Call runs f unless the breaker is open.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.record(ctx, err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	st, changed := b.advance()
	var err error
	switch st {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			b.probes++
		}
	}
	b.mu.Unlock()
	b.notify(changed, StateOpen, StateHalfOpen)
	return err
}

func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	from := b.state
	switch {
	case err != nil && ctx.Err() != nil:
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
	case err != nil:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.probes = 0
		}
	default:
		b.state = StateClosed
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from != to, from, to)
}

func (b *Breaker) notify(changed bool, from, to State) {
	if changed && b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}
