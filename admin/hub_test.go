package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTransitionHubPublishDoesNotBlockWithNoClients(t *testing.T) {
	hub := NewTransitionHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(Transition{Key: "k", Family: "object", Op: "SetCachedRead", At: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no registered clients")
	}
}

func TestTransitionHubPublishDropsWhenBufferFull(t *testing.T) {
	hub := NewTransitionHub()
	// Do not run the hub's loop, so the event channel never drains.
	for i := 0; i < 1024; i++ {
		hub.Publish(Transition{Key: "k"})
	}
	// The 1025th publish must not block even though nothing is draining.
	done := make(chan struct{})
	go func() {
		hub.Publish(Transition{Key: "overflow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked once the event buffer was full")
	}
}

func TestClientCountStartsAtZero(t *testing.T) {
	hub := NewTransitionHub()
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount = %d, want 0", got)
	}
}

func TestHealthzEndpointReturnsOK(t *testing.T) {
	hub := NewTransitionHub()
	mux := NewServeMux(hub, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q, want ok", rec.Body.String())
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	hub := NewTransitionHub()
	mux := NewServeMux(hub, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics body")
	}
}
