package authz

import (
	"sync"
	"time"
)

type breakerState string

const (
	stateClosed   breakerState = "closed"
	stateOpen     breakerState = "open"
	stateHalfOpen breakerState = "half_open"
)

// CircuitBreaker is a process-wide, mutex-guarded failure streak counter.
// Consecutive failures trip it open; after resetTimeout elapses it
// allows one half-open probe; success closes it and resets the streak.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold    int
	resetTimeout time.Duration

	state        breakerState
	failureCount int
	lastFailure  time.Time
}

// NewCircuitBreaker builds a breaker that opens after threshold
// consecutive failures and stays open for resetTimeout.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, resetTimeout: resetTimeout, state: stateClosed}
}

// Allow reports whether a call may proceed. An open breaker within its
// reset window denies; once the window elapses it transitions to
// half-open and allows exactly one probe through.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.lastFailure) > b.resetTimeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		return false
	default:
		return true
	}
}

// Success resets the failure streak and closes the breaker.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = stateClosed
}

// Failure records a failed call; reaching the threshold (or failing the
// half-open probe) opens the breaker.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	if b.state == stateHalfOpen {
		b.state = stateOpen
		return
	}
	b.failureCount++
	if b.failureCount >= b.threshold {
		b.state = stateOpen
	}
}
