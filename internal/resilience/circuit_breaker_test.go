package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestCircuitBreaker_TripsAfterThresholdWithinWindow(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 2, 3, time.Minute, 200*time.Millisecond, WithClock(clk))

	require.Equal(t, StateClosed, cb.State())

	// One failure among two attempts: below threshold, stays closed.
	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	// Second failure reaches threshold (2) with minAttempts (3) satisfied.
	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_OpenRejectsUntilResetTimeout(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 1, 1, time.Minute, 100*time.Millisecond, WithClock(clk))

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clk.Advance(150 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 1, 1, time.Minute, 50*time.Millisecond, WithClock(clk))

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	clk.Advance(75 * time.Millisecond)

	err := cb.Execute(func() error { return errors.New("still failing") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRequiresConfiguredSuccesses(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 1, 1, time.Minute, 50*time.Millisecond, WithClock(clk), WithHalfOpenSuccessThreshold(2))

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	clk.Advance(75 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State(), "one success short of threshold stays half-open")

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_EventsOutsideWindowDoNotCount(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 2, 2, 100*time.Millisecond, time.Second, WithClock(clk))

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	clk.Advance(150 * time.Millisecond)
	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))

	assert.Equal(t, StateClosed, cb.State(), "first failure aged out of the window before the second arrived")
}
