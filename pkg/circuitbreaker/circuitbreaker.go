// Package circuitbreaker protects the progress engine from a misbehaving LMS
// backend. When the backend of record keeps failing, auto-saves and completion
// attempts trip the breaker and fail fast locally instead of piling up HTTP
// timeouts behind the session timers.
// No external dependencies - uses only standard library.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	// StateClosed - calls pass through normally.
	StateClosed State = iota
	// StateOpen - calls are rejected immediately.
	StateOpen
	// StateHalfOpen - a single probe call is allowed to test recovery.
	StateHalfOpen
)

// String returns the state name.
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

var (
	// ErrOpen is returned while the breaker rejects calls.
	ErrOpen = errors.New("circuit breaker open")

	// ErrProbeInFlight is returned in half-open state when the probe slot is taken.
	ErrProbeInFlight = errors.New("circuit breaker probe already in flight")
)

// Settings configures a Breaker.
type Settings struct {
	// Name identifies the breaker in logs and state-change callbacks.
	Name string

	// FailureThreshold is how many consecutive failures open the breaker.
	FailureThreshold int

	// SuccessThreshold is how many consecutive half-open successes close it.
	SuccessThreshold int

	// CoolDown is how long the breaker stays open before probing.
	CoolDown time.Duration

	// IsFailure decides whether an error counts against the breaker.
	// When nil every non-nil error counts. Classified business refusals
	// (requirements not met, already completed) should not count.
	IsFailure func(error) bool

	// OnStateChange is invoked after every transition.
	OnStateChange func(name string, from, to State)
}

// LMSSettings returns the settings used for the LMS backend of record.
// Opens quickly so session timers stop burning 30 s timeouts, probes after
// a short cool-down because autosaves retry every 10 s anyway.
func LMSSettings(onStateChange func(name string, from, to State)) Settings {
	return Settings{
		Name:             "lms-api",
		FailureThreshold: 4,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		OnStateChange:    onStateChange,
	}
}

// Breaker is a mutex-guarded three-state circuit breaker.
type Breaker struct {
	settings Settings

	mu            sync.Mutex
	state         State
	consecFails   int
	consecOKs     int
	openedAt      time.Time
	probeInFlight bool
}

// New creates a Breaker from the settings, applying defaults for zero values.
func New(settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.CoolDown <= 0 {
		settings.CoolDown = 30 * time.Second
	}
	return &Breaker{settings: settings, state: StateClosed}
}

// Do executes fn if the breaker allows it and records the outcome.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// acquire decides whether a call may proceed.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.openedAt) < b.settings.CoolDown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrProbeInFlight
		}
		b.probeInFlight = true
		return nil
	default:
		return ErrOpen
	}
}

// record applies the call outcome to the breaker state.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false

	failed := err != nil
	if failed && b.settings.IsFailure != nil {
		failed = b.settings.IsFailure(err)
	}

	if failed {
		b.consecFails++
		b.consecOKs = 0
		switch b.state {
		case StateClosed:
			if b.consecFails >= b.settings.FailureThreshold {
				b.openedAt = time.Now()
				b.transition(StateOpen)
			}
		case StateHalfOpen:
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
		return
	}

	b.consecOKs++
	b.consecFails = 0
	if b.state == StateHalfOpen && b.consecOKs >= b.settings.SuccessThreshold {
		b.transition(StateClosed)
	}
}

// transition switches state and fires the callback. Caller holds the lock.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.consecFails = 0
	b.consecOKs = 0

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed. Used on lesson switch so one
// lesson's backend trouble does not punish the next lesson view.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecFails = 0
	b.consecOKs = 0
	b.probeInFlight = false
}
