package backingstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyObjectStore struct {
	failNext int
}

func (f *flakyObjectStore) Fetch(ctx context.Context, id string) (*ObjectRecord, error) {
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("simulated backend failure")
	}
	return &ObjectRecord{Payload: []byte("ok")}, nil
}

func (f *flakyObjectStore) Flush(ctx context.Context, id string, rec *ObjectRecord) error {
	return nil
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyObjectStore{failNext: 10}
	cb := NewCircuitBreakingObjectStore(inner, 3, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := cb.Fetch(context.Background(), "k"); err == nil {
			t.Fatalf("expected failure %d from inner store", i)
		}
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open after %d consecutive failures", cb.State(), 3)
	}

	if _, err := cb.Fetch(context.Background(), "k"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen once breaker trips, got %v", err)
	}
}

func TestCircuitBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	inner := &flakyObjectStore{failNext: 3}
	cb := NewCircuitBreakingObjectStore(inner, 3, time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.Fetch(context.Background(), "k")
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	time.Sleep(5 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if _, err := cb.Fetch(context.Background(), "k"); err != nil {
			t.Fatalf("half-open probe %d failed: %v", i, err)
		}
	}

	if cb.State() != CircuitClosed {
		t.Fatalf("state = %s, want closed after successful half-open probes", cb.State())
	}
}

func TestCircuitBreakerStaysClosedOnIsolatedFailures(t *testing.T) {
	inner := &flakyObjectStore{failNext: 1}
	cb := NewCircuitBreakingObjectStore(inner, 3, time.Hour)

	cb.Fetch(context.Background(), "k") // one failure, below threshold
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %s, want closed after a single isolated failure", cb.State())
	}

	if _, err := cb.Fetch(context.Background(), "k"); err != nil {
		t.Fatalf("expected subsequent call to succeed, got %v", err)
	}
}
