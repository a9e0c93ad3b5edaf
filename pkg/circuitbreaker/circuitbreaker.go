// Package circuitbreaker stops hammering a failing notification endpoint.
// After a run of consecutive failures the breaker opens and calls fail fast
// until a cool-down passes; one half-open trial call then decides whether to close.
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
	}
	return "unknown"
}

var (
	// ErrCircuitOpen is returned without calling fn while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTrialInFlight is returned while the half-open trial call is still running.
	ErrTrialInFlight = errors.New("circuit breaker trial call in flight")
)

// Settings tune a Breaker. Zero values take the defaults noted per field.
type Settings struct {
	Name string

	// Trip opens the breaker after this many consecutive failures (5).
	Trip int

	// CoolDown is how long the breaker stays open before probing (30s).
	CoolDown time.Duration

	// Counts decides which errors are failures; nil counts every error.
	Counts func(error) bool

	OnStateChange func(name string, from, to State)

	Now func() time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	s Settings

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(s Settings) *Breaker {
	if s.Trip <= 0 {
		s.Trip = 5
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{s: s}
}

// Execute runs fn unless the breaker rejects the call, then records the result.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.s.Now().Sub(b.openedAt) < b.s.CoolDown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return ErrTrialInFlight
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && (b.s.Counts == nil || b.s.Counts(err))
	wasTrial := b.state == StateHalfOpen
	b.probing = false

	switch {
	case failed && (wasTrial || b.failures+1 >= b.s.Trip):
		b.openedAt = b.s.Now()
		b.transition(StateOpen)
	case failed:
		b.failures++
	case wasTrial:
		b.transition(StateClosed)
	default:
		b.failures = 0
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	if b.s.OnStateChange != nil {
		b.s.OnStateChange(b.s.Name, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// WebhookBreaker returns the breaker guarding notification webhook delivery.
func WebhookBreaker(trip int, coolDown time.Duration, onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:          "notification-webhook",
		Trip:          trip,
		CoolDown:      coolDown,
		OnStateChange: onStateChange,
	})
}
