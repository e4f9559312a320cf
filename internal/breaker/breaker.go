// Package breaker implements a per-dependency circuit breaker. Each remote
// dependency (provisioner, publisher, media source) gets one Breaker; after a
// run of consecutive failures the breaker opens and rejects calls without
// invoking the dependency until a cooldown elapses, then allows a single
// trial call (half-open) before fully closing or reopening.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker is open. Callers must not
// consume a retry budget on it.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Options holds per-dependency tunables.
type Options struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	OpenTimeout      time.Duration // cooldown before a half-open trial
}

// Stats is a read-only snapshot of breaker state.
type Stats struct {
	Name              string
	State             State
	ConsecFailures    int
	ConsecSuccesses   int
	LastFailure       time.Time
	NextRetryEligible time.Time
}

// Breaker gates calls to a single named dependency. Safe for concurrent use.
type Breaker struct {
	name string
	opts Options

	mu              sync.Mutex
	state           State
	consecFailures  int
	consecSuccesses int
	lastFailure     time.Time
	nextRetry       time.Time
	probing         bool // a half-open trial call is in flight
}

// New creates a Breaker with the given name and options. Zero option fields
// get sensible defaults.
func New(name string, opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 2
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 5 * time.Minute
	}
	return &Breaker{name: name, opts: opts, state: Closed}
}

// Execute runs op if the breaker permits it. While open, it fails fast with
// ErrOpen unless the cooldown has elapsed, in which case exactly one trial
// call is allowed through.
func (b *Breaker) Execute(op func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := op()
	b.after(err)
	return err
}

// before decides whether a call may proceed, transitioning Open→HalfOpen
// when the cooldown has elapsed.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if time.Now().Before(b.nextRetry) {
			return fmt.Errorf("breaker %s: %w", b.name, ErrOpen)
		}
		b.state = HalfOpen
		b.consecSuccesses = 0
		b.probing = true
		return nil
	case HalfOpen:
		// Only one trial call at a time.
		if b.probing {
			return fmt.Errorf("breaker %s: %w", b.name, ErrOpen)
		}
		b.probing = true
		return nil
	}
	return nil
}

// after records the outcome of a permitted call.
func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.probing = false
	}

	if err != nil {
		b.consecFailures++
		b.consecSuccesses = 0
		b.lastFailure = time.Now()
		// Any failure while half-open reopens immediately.
		if b.state == HalfOpen || b.consecFailures >= b.opts.FailureThreshold {
			b.trip()
		}
		return
	}

	switch b.state {
	case Closed:
		b.consecFailures = 0
	case HalfOpen:
		b.consecSuccesses++
		if b.consecSuccesses >= b.opts.SuccessThreshold {
			b.state = Closed
			b.consecFailures = 0
			b.consecSuccesses = 0
		}
	}
}

// trip moves the breaker to Open and arms the cooldown. Caller holds mu.
func (b *Breaker) trip() {
	b.state = Open
	b.nextRetry = time.Now().Add(b.opts.OpenTimeout)
	b.probing = false
}

// ForceOpen opens the breaker for maintenance until ForceClose or the
// cooldown elapses.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip()
}

// ForceClose resets the breaker to Closed, clearing counters.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecFailures = 0
	b.consecSuccesses = 0
	b.probing = false
}

// Stats returns a snapshot of the breaker state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:              b.name,
		State:             b.state,
		ConsecFailures:    b.consecFailures,
		ConsecSuccesses:   b.consecSuccesses,
		LastFailure:       b.lastFailure,
		NextRetryEligible: b.nextRetry,
	}
}
