package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "gateway",
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
	})
	cb.now = func() time.Time { return *clock }
	cb.lastStateChange = *clock
	return cb
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)

	cb.Failure()
	assert.Equal(t, StateClosed, cb.GetState())

	cb.Failure()
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.Allow())
}

func TestBreakerHalfOpenTrialCall(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	cb.Failure()
	cb.Failure()

	clock = clock.Add(2 * time.Minute)

	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.False(t, cb.Allow(), "only one trial call allowed")

	cb.Success()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	cb.Failure()
	cb.Failure()
	clock = clock.Add(2 * time.Minute)

	assert.True(t, cb.Allow())
	cb.Failure()

	assert.Equal(t, StateOpen, cb.GetState())
}

func TestExecuteIgnoresUncountableErrors(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	declined := errors.New("card declined")

	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error { return declined }, func(err error) bool { return false })
		assert.ErrorIs(t, err, declined)
	}

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecuteRejectsWhenOpen(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	boom := errors.New("503")

	_ = cb.Execute(func() error { return boom }, nil)
	_ = cb.Execute(func() error { return boom }, nil)

	called := false
	err := cb.Execute(func() error { called = true; return nil }, nil)

	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}
