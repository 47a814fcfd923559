// Package circuit implements a sliding-window circuit breaker for guarding
// outbound dependencies.
//
// States: Closed → Open when the failure rate over the trailing window
// crosses the threshold; Open → HalfOpen lazily once the open duration has
// elapsed (evaluated on the next Allow call, never by a background timer);
// HalfOpen admits a single trial call, closing on success and reopening on
// failure.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State identifies the breaker state.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow while the breaker rejects calls.
var ErrOpen = errors.New("circuit open")

// Breaker tracks call results over a sliding window of recent calls.
// All methods are safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	name                 string
	failureRateThreshold float64
	windowSize           int
	minimumCalls         int
	openDuration         time.Duration
	now                  func() time.Time

	state         State
	window        []bool // true = failure; ring buffer of recent results
	windowPos     int
	windowCount   int
	openedAt      time.Time
	trialInFlight bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureRateThreshold sets the failure rate (0..1] that opens the
// breaker. Default 0.5.
func WithFailureRateThreshold(rate float64) Option {
	return func(b *Breaker) {
		if rate > 0 && rate <= 1 {
			b.failureRateThreshold = rate
		}
	}
}

// WithSlidingWindowSize sets how many trailing calls the failure rate is
// computed over. Default 20.
func WithSlidingWindowSize(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.windowSize = n
		}
	}
}

// WithMinimumCalls sets how many calls must be observed before the rate can
// trip the breaker. Default 5.
func WithMinimumCalls(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.minimumCalls = n
		}
	}
}

// WithOpenDuration sets how long the breaker rejects calls before allowing
// a half-open trial. Default 30s.
func WithOpenDuration(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openDuration = d
		}
	}
}

// WithClock sets the time source for testability.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New constructs a closed Breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:                 name,
		failureRateThreshold: 0.5,
		windowSize:           20,
		minimumCalls:         5,
		openDuration:         30 * time.Second,
		now:                  time.Now,
		state:                StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.window = make([]bool, b.windowSize)
	return b
}

func (b *Breaker) Name() string { return b.name }

// State reports the current state, applying the lazy Open→HalfOpen
// transition if the open duration has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Allow reports whether a call may proceed. It returns ErrOpen while the
// breaker is open, and admits exactly one trial call in half-open state.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return ErrOpen
	}
}

// RecordSuccess records a successful call. A half-open trial success closes
// the breaker and resets the window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.reset()
		return
	}
	b.observe(false)
}

// RecordFailure records a failed call. A half-open trial failure reopens the
// breaker; in closed state the sliding-window rate decides.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.open()
		return
	}
	b.observe(true)
	if b.shouldTrip() {
		b.open()
	}
}

// Reset forces the breaker closed and clears the window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// maybeHalfOpen applies the time-gated Open→HalfOpen transition.
// Caller must hold the lock.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.openDuration {
		b.state = StateHalfOpen
		b.trialInFlight = false
	}
}

func (b *Breaker) observe(failure bool) {
	b.window[b.windowPos] = failure
	b.windowPos = (b.windowPos + 1) % b.windowSize
	if b.windowCount < b.windowSize {
		b.windowCount++
	}
}

func (b *Breaker) shouldTrip() bool {
	if b.windowCount < b.minimumCalls {
		return false
	}
	failures := 0
	for i := 0; i < b.windowCount; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures)/float64(b.windowCount) >= b.failureRateThreshold
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trialInFlight = false
}

func (b *Breaker) reset() {
	b.state = StateClosed
	b.window = make([]bool, b.windowSize)
	b.windowPos = 0
	b.windowCount = 0
	b.trialInFlight = false
}
