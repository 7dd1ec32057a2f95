package errors

import (
	"context"
	stderrors "errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the protected function while
// the breaker is open.
var ErrCircuitOpen = New(ErrCodeCircuitOpen, "circuit breaker is open", nil)

// State is a circuit breaker state. The numeric values are exported as a
// gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	// StateHalfOpen admits one probe call once the reset timeout passed.
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreaker stops calling a provider after consecutive failures and
// probes it again after a cool-down.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	onChange     func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the consecutive failures that open the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the circuit stays open before a probe.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithStateChange registers fn to be called on every transition, outside
// the breaker's lock.
func WithStateChange(fn func(name string, from, to State)) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker opens after 5 consecutive failures and probes again
// after 30s unless options say otherwise.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the state as a caller would see it now; an open circuit
// past its timeout reports half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.observed()
}

func (cb *CircuitBreaker) observed() State {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// transition sets the state under mu and returns the notification to run
// after unlocking, or nil.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	cb.state = to
	if from == to || cb.onChange == nil {
		return nil
	}
	return func() { cb.onChange(cb.name, from, to) }
}

// admit reports whether a call may proceed. In half-open only one probe
// is in flight at a time.
func (cb *CircuitBreaker) admit() (bool, func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.observed() {
	case StateClosed:
		return true, nil
	case StateHalfOpen:
		if cb.probing {
			return false, nil
		}
		cb.probing = true
		return true, cb.transition(StateHalfOpen)
	}
	return false, nil
}

func (cb *CircuitBreaker) settle(ctx context.Context, err error) func() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	probe := cb.probing
	cb.probing = false
	switch {
	case err == nil:
		cb.failures = 0
		return cb.transition(StateClosed)
	case callerEnded(ctx, err):
		return nil
	}
	cb.failures++
	if probe || cb.failures >= cb.maxFailures {
		cb.openedAt = cb.now()
		return cb.transition(StateOpen)
	}
	return nil
}

// callerEnded reports whether err came from the caller giving up rather
// than from the protected dependency. A deadline counts as the caller's
// only when ctx itself has expired.
func callerEnded(ctx context.Context, err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return true
	}
	return stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}

// Execute runs fn through the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := CircuitExecute(context.Background(), cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// CircuitExecute runs a value-returning fn through the breaker, returning
// ErrCircuitOpen when the call is not admitted. Failures caused by ctx
// ending are not counted against the dependency.
func CircuitExecute[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	ok, changed := cb.admit()
	notify(changed)
	if !ok {
		return zero, ErrCircuitOpen
	}
	out, err := fn()
	notify(cb.settle(ctx, err))
	if err != nil {
		return zero, err
	}
	return out, nil
}
