package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a failing dependency for ResetTimeout after
// FailureThreshold consecutive failures, then lets HalfOpenMaxCalls trial calls through.
type CircuitBreaker struct {
	name             string
	failureThreshold int64
	resetTimeout     time.Duration
	halfOpenMaxCalls int64

	mu              sync.Mutex
	state           State
	failureCount    int64
	halfOpenCalls   int64
	lastStateChange time.Time
	now             func() time.Time
}

// CircuitBreakerConfig configures a CircuitBreaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int64
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		now:              time.Now,
	}
}

// Name identifies the protected dependency in metrics and logs.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	default:
		return false
	}
}

// Success reports a successful operation
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateClosed)
	case StateClosed:
		cb.failureCount = 0
	}
}

// Failure reports a failed operation
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// Execute runs fn when the breaker allows it and records the outcome.
// Errors for which countable returns false do not trip the breaker.
func (cb *CircuitBreaker) Execute(fn func() error, countable func(error) bool) error {
	if !cb.Allow() {
		return ErrOpen
	}

	err := fn()

	if err != nil && (countable == nil || countable(err)) {
		cb.Failure()
		return err
	}

	cb.Success()
	return err
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	cb.lastStateChange = cb.now()
	cb.failureCount = 0
	cb.halfOpenCalls = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// GetMetrics returns a snapshot for the admin endpoint.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.state.String(),
		"failure_count":     cb.failureCount,
		"failure_threshold": cb.failureThreshold,
		"half_open_calls":   cb.halfOpenCalls,
		"reset_timeout":     cb.resetTimeout.String(),
		"last_state_change": cb.lastStateChange,
		"time_in_state":     cb.now().Sub(cb.lastStateChange).String(),
	}
}
