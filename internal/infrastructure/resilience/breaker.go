package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when a breaker declines to run an operation. It never
// counts as a failure against any breaker, including an outer one in a
// nested guard.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Observer receives every state transition. It is called synchronously with
// the breaker lock held, so it must return quickly, must not block and must
// not call back into the same breaker.
type Observer func(name string, from, to State, failures int)

// Settings configures the circuit breaker behavior
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens a
	// closed breaker.
	FailureThreshold int
	// ResetTimeout is how long an open breaker rejects calls before letting
	// a single trial through.
	ResetTimeout time.Duration
	// IsFailure decides whether an operation error counts against the
	// breaker. Defaults to every non-nil error. Cancellation by the caller
	// is never counted, whatever IsFailure says.
	IsFailure func(err error) bool
	// OnStateChange is called whenever the state changes
	OnStateChange Observer
}

// OpenError is the rejection returned while a breaker is open. It matches
// ErrOpen with errors.Is.
type OpenError struct {
	Name  string
	Until time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Breaker implements the circuit breaker pattern for one named resource
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probing    bool
	generation uint64
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 60 * time.Second
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool { return err != nil }
	}

	return &Breaker{
		name:     name,
		settings: settings,
		now:      time.Now,
		state:    StateClosed,
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// Settings returns the effective settings.
func (b *Breaker) Settings() Settings {
	return b.settings
}

// State reports the state the next call would see. Reading it never changes
// the breaker: an open breaker past its cooldown reports half-open, but only
// a call moves it there.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stateAt(b.now())
}

// Failures returns the current consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failures
}

// Status is a point-in-time view of a breaker.
type Status struct {
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	OpenedAt     time.Time `json:"opened_at,omitzero"`
}

// Status returns state and failure count read under a single lock. Like
// State, it has no side effects.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{State: b.stateAt(b.now()), FailureCount: b.failures}
	if st.State != StateClosed {
		st.OpenedAt = b.openedAt
	}
	return st
}

// Execute runs op if the breaker accepts it. The op's own error is returned
// unchanged after it has been recorded; a rejection returns an *OpenError.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			b.afterRequest(generation, fmt.Errorf("panic: %v", e), false)
			panic(e)
		}
	}()

	err = op(ctx)
	b.afterRequest(generation, err, ctx.Err() != nil && errors.Is(err, context.Canceled))
	return err
}

// beforeRequest is called before a request is executed
func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.advance(now) {
	case StateOpen:
		return b.generation, &OpenError{Name: b.name, Until: b.openedAt.Add(b.settings.ResetTimeout)}
	case StateHalfOpen:
		if b.probing {
			return b.generation, &OpenError{Name: b.name, Until: now}
		}
		b.probing = true
	}
	return b.generation, nil
}

// afterRequest is called after a request is executed. A cancelled caller
// leaves the counts untouched and frees the half-open slot.
func (b *Breaker) afterRequest(before uint64, err error, cancelled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.generation != before {
		// The outcome belongs to a state the breaker has already left.
		return
	}
	now := b.now()
	state := b.state
	if state == StateHalfOpen {
		b.probing = false
	}

	switch {
	case errors.Is(err, ErrOpen):
		// A nested guard refused; nothing was attempted.
		return
	case cancelled:
		return
	case err != nil && b.settings.IsFailure(err):
		b.onFailure(state, now)
	default:
		b.onSuccess(state, now)
	}
}

// onSuccess handles successful requests
func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.failures = 0
		b.setState(StateClosed, now)
	}
}

// onFailure handles failed requests
func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.failures++
		b.setState(StateOpen, now)
	}
}

// stateAt reports the state at now without changing anything.
func (b *Breaker) stateAt(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.settings.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// advance moves an open breaker whose cooldown has elapsed to half-open and
// returns the resulting state. Only beforeRequest calls it.
func (b *Breaker) advance(now time.Time) State {
	if b.stateAt(now) != b.state {
		b.setState(StateHalfOpen, now)
	}
	return b.state
}

// setState changes the state of the circuit breaker
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.generation++

	switch state {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.openedAt = time.Time{}
	}
	b.probing = false

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state, b.failures)
	}
}
