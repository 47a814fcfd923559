package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance breaker time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func TestBreaker_InitialState(t *testing.T) {
	b := New("test")
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "test", b.Name())
	assert.NoError(t, b.Allow())
}

func TestBreaker_OpensOnFailureRate(t *testing.T) {
	b := New("test",
		WithSlidingWindowSize(10),
		WithMinimumCalls(4),
		WithFailureRateThreshold(0.5),
	)

	// Three failures: below minimum call volume, stays closed.
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())

	// Fourth call reaches minimum volume with 100% failures: opens.
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_SuccessesKeepRateBelowThreshold(t *testing.T) {
	b := New("test",
		WithSlidingWindowSize(10),
		WithMinimumCalls(4),
		WithFailureRateThreshold(0.5),
	)

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	// 3 failures over 6 calls = exactly 0.5: trips at >= threshold.
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenAfterOpenDuration(t *testing.T) {
	clock := newFakeClock()
	b := New("test",
		WithMinimumCalls(1),
		WithFailureRateThreshold(0.1),
		WithOpenDuration(10*time.Second),
		WithClock(clock.Now),
	)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	require.ErrorIs(t, b.Allow(), ErrOpen)

	// Before the open duration elapses, calls are still rejected.
	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	// After the open duration the next Allow admits one trial only.
	clock.Advance(time.Second)
	assert.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := New("test",
		WithMinimumCalls(1),
		WithFailureRateThreshold(0.1),
		WithOpenDuration(10*time.Second),
		WithClock(clock.Now),
	)

	b.RecordFailure()
	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())

	// Closing reset the window; the pre-open failure is gone.
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("test",
		WithMinimumCalls(1),
		WithFailureRateThreshold(0.1),
		WithOpenDuration(10*time.Second),
		WithClock(clock.Now),
	)

	b.RecordFailure()
	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	// The reopen restarts the cooldown clock.
	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrOpen)
	clock.Advance(time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreaker_Reset(t *testing.T) {
	b := New("test", WithMinimumCalls(1), WithFailureRateThreshold(0.1))

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_SlidingWindowEvictsOldResults(t *testing.T) {
	b := New("test",
		WithSlidingWindowSize(4),
		WithMinimumCalls(4),
		WithFailureRateThreshold(0.75),
	)

	// Two old failures...
	b.RecordFailure()
	b.RecordFailure()
	// ...pushed out by four successes filling the window.
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordSuccess()
	require.Equal(t, StateClosed, b.State())

	// Three fresh failures: window holds [success, failure, failure, failure],
	// rate 0.75 trips the breaker.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}
