// Package admin exposes operational surfaces for a running cache node: a
// WebSocket feed of state transitions for live debugging, plus the
// Prometheus scrape endpoint and a liveness probe. It never touches the
// cache state machine directly — it only broadcasts the Transition events
// handed to TransitionHub.Publish. No worker or executor in this tree calls
// Publish, so the feed carries only events a caller publishes explicitly.
package admin

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxFeedConnections = 200

// Transition is one observed state-machine move, as passed to Publish.
type Transition struct {
	Key    string    `json:"key"`
	Family string    `json:"family"`
	Op     string    `json:"op"`
	At     time.Time `json:"at"`
}

// TransitionHub fans Transition events out to connected WebSocket clients.
// The single-broadcaster-goroutine pattern avoids a per-connection ticker
// and keeps all client bookkeeping behind one lock.
type TransitionHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	events     chan Transition
	mu         sync.RWMutex
}

// NewTransitionHub builds an idle hub; call Run to start its loop.
func NewTransitionHub() *TransitionHub {
	return &TransitionHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		events:     make(chan Transition, 1024),
	}
}

// Publish enqueues a transition for broadcast. It never blocks the caller
// beyond the event buffer; a full buffer drops the event rather than
// stalling the cache's own transition path.
func (h *TransitionHub) Publish(t Transition) {
	select {
	case h.events <- t:
	default:
		log.Printf("admin: transition feed buffer full, dropping event for %s", t.Key)
	}
}

// Run starts the hub's main loop until ctx is done.
func (h *TransitionHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxFeedConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("admin: transition feed connection rejected, at capacity (%d)", maxFeedConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case t := <-h.events:
			h.broadcast(t)
		}
	}
}

func (h *TransitionHub) broadcast(t Transition) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(t); err != nil {
			log.Printf("admin: transition feed write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *TransitionHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a client connection to the hub.
func (h *TransitionHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection from the hub.
func (h *TransitionHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount reports the number of connected feed clients.
func (h *TransitionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeFeed upgrades the request to a WebSocket and registers it with hub
// until the client disconnects.
func ServeFeed(hub *TransitionHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("admin: websocket upgrade failed: %v", err)
			return
		}
		hub.Register(conn)

		// Drain and discard reads so gorilla's control-frame handling keeps
		// running; the feed is server-to-client only.
		go func() {
			defer hub.Unregister(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// NewServeMux builds the admin HTTP surface: the WebSocket feed, the
// Prometheus scrape endpoint, and a liveness probe. authToken gates the
// feed and metrics endpoints behind AuthMiddleware; an empty token leaves
// them open, which is the expected local-development setting. /healthz is
// never gated, since orchestrators probing it rarely carry credentials.
func NewServeMux(hub *TransitionHub, authToken string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/admin/feed", CORSMiddleware(AuthMiddleware(authToken, ServeFeed(hub))))
	mux.Handle("/metrics", CORSMiddleware(AuthMiddleware(authToken, promhttp.Handler())))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
