// Package breaker is the per-process circuit breaker guarding ERP calls.
// It samples outcomes over a sliding window and short-circuits while the
// failure rate is above threshold.
package breaker

import (
	"sync"
	"time"
)

// State of the breaker.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config mirrors the ERP_CIRCUIT_* settings.
type Config struct {
	Enabled            bool
	ErrorRateThreshold float64
	MinSamples         int
	Window             time.Duration
	OpenFor            time.Duration
	HalfOpenMaxCalls   int
}

type sample struct {
	at time.Time
	ok bool
}

// Breaker is safe for concurrent use. The window is a small ring buffer.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state         State
	samples       []sample
	head, count   int
	openedAt      time.Time
	halfOpenInUse int
	halfOpenFails int
	clock         func() time.Time
}

// New builds a breaker in the closed state. A disabled breaker always
// allows and never records.
func New(cfg Config) *Breaker {
	size := cfg.MinSamples * 4
	if size < 64 {
		size = 64
	}
	return &Breaker{
		cfg:     cfg,
		state:   Closed,
		samples: make([]sample, size),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for tests.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	return b
}

// State returns the current state, promoting open → half_open when the
// cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked()
	return b.state
}

// Allow reports whether a call may proceed now. In half-open it admits up
// to HalfOpenMaxCalls probes.
func (b *Breaker) Allow() bool {
	if !b.cfg.Enabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked()

	switch b.state {
	case Open:
		return false
	case HalfOpen:
		max := b.cfg.HalfOpenMaxCalls
		if max <= 0 {
			max = 1
		}
		if b.halfOpenInUse >= max {
			return false
		}
		b.halfOpenInUse++
		return true
	default:
		return true
	}
}

// Record feeds one call outcome into the window and applies the state
// transition rules. Short-circuited calls must NOT be recorded, or the
// breaker could never close.
func (b *Breaker) Record(ok bool) {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()

	if b.state == HalfOpen {
		if !ok {
			// Any probe failure reopens immediately.
			b.state = Open
			b.openedAt = now
			b.halfOpenInUse = 0
			return
		}
		max := b.cfg.HalfOpenMaxCalls
		if max <= 0 {
			max = 1
		}
		b.halfOpenFails = 0
		b.halfOpenInUse--
		if b.halfOpenInUse <= 0 {
			// All admitted probes succeeded: close and reset the window.
			b.state = Closed
			b.head, b.count = 0, 0
			b.halfOpenInUse = 0
		}
		return
	}

	b.push(sample{at: now, ok: ok})

	if b.state == Closed && b.shouldOpenLocked(now) {
		b.state = Open
		b.openedAt = now
	}
}

// Reset returns the breaker to a fresh closed state (test hook).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.head, b.count = 0, 0
	b.halfOpenInUse = 0
	b.halfOpenFails = 0
}

func (b *Breaker) push(s sample) {
	idx := (b.head + b.count) % len(b.samples)
	b.samples[idx] = s
	if b.count < len(b.samples) {
		b.count++
	} else {
		b.head = (b.head + 1) % len(b.samples)
	}
}

func (b *Breaker) shouldOpenLocked(now time.Time) bool {
	cutoff := now.Add(-b.cfg.Window)
	total, failures := 0, 0
	for i := 0; i < b.count; i++ {
		s := b.samples[(b.head+i)%len(b.samples)]
		if s.at.Before(cutoff) {
			continue
		}
		total++
		if !s.ok {
			failures++
		}
	}
	if total < b.cfg.MinSamples || total == 0 {
		return false
	}
	return float64(failures)/float64(total) >= b.cfg.ErrorRateThreshold
}

func (b *Breaker) promoteLocked() {
	if b.state == Open && b.clock().Sub(b.openedAt) >= b.cfg.OpenFor {
		b.state = HalfOpen
		b.halfOpenInUse = 0
	}
}
