package backingstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState mirrors the open/half-open/closed states a breaker cycles
// through while protecting a caller from a backing store that has started
// failing.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakingObjectStore wraps an ObjectStore and trips open after a
// run of consecutive failures, shedding load onto the backing store while
// it recovers rather than letting every fetch worker hammer it with
// retries. It is a fetch-call-failure-rate breaker rather than the
// queue-depth breaker the scheduler used it for, since a cache node has no
// equivalent notion of queue depth against a durable store.
type CircuitBreakingObjectStore struct {
	inner ObjectStore

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	failureLimit    int
	cooldownPeriod  time.Duration
	openedAt        time.Time
	halfOpenSuccess int
	halfOpenLimit   int
}

// NewCircuitBreakingObjectStore wraps inner with a breaker that opens after
// failureLimit consecutive failures and tries a half-open probe after
// cooldown.
func NewCircuitBreakingObjectStore(inner ObjectStore, failureLimit int, cooldown time.Duration) *CircuitBreakingObjectStore {
	return &CircuitBreakingObjectStore{
		inner:          inner,
		state:          CircuitClosed,
		failureLimit:   failureLimit,
		cooldownPeriod: cooldown,
		halfOpenLimit:  3,
	}
}

// ErrCircuitOpen is returned by Fetch/Flush while the breaker is open.
var ErrCircuitOpen = errors.New("backingstore: circuit open, backing store call shed")

func (b *CircuitBreakingObjectStore) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && time.Since(b.openedAt) > b.cooldownPeriod {
		b.state = CircuitHalfOpen
		b.halfOpenSuccess = 0
	}
	return b.state != CircuitOpen
}

func (b *CircuitBreakingObjectStore) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failureCount = 0
		if b.state == CircuitHalfOpen {
			b.halfOpenSuccess++
			if b.halfOpenSuccess >= b.halfOpenLimit {
				b.state = CircuitClosed
			}
		}
		return
	}

	if b.state == CircuitHalfOpen {
		b.state = CircuitOpen
		b.openedAt = time.Now()
		return
	}

	b.failureCount++
	if b.failureCount >= b.failureLimit {
		b.state = CircuitOpen
		b.openedAt = time.Now()
	}
}

// State reports the current breaker state.
func (b *CircuitBreakingObjectStore) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreakingObjectStore) Fetch(ctx context.Context, id string) (*ObjectRecord, error) {
	if !b.admit() {
		return nil, ErrCircuitOpen
	}
	rec, err := b.inner.Fetch(ctx, id)
	b.recordResult(err)
	return rec, err
}

func (b *CircuitBreakingObjectStore) Flush(ctx context.Context, id string, rec *ObjectRecord) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := b.inner.Flush(ctx, id, rec)
	b.recordResult(err)
	return err
}
