// Command nodecached runs one node-local cache process: it owns the
// object and binding containers, the Postgres and Redis backing stores,
// the fetch/evict/downgrade worker pools, and the admin HTTP surface
// (transition feed, metrics, health).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverdb/nodecache/admin"
	"github.com/riverdb/nodecache/backingstore"
	"github.com/riverdb/nodecache/config"
	"github.com/riverdb/nodecache/container"
	"github.com/riverdb/nodecache/workers"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := backingstore.NewPostgresObjectStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("nodecached: failed to connect to Postgres: %v", err)
	}
	defer pg.Close()
	log.Printf("nodecached: connected to Postgres object store")

	objects := backingstore.NewCircuitBreakingObjectStore(pg, 5, 30*time.Second)

	bindings, err := backingstore.NewRedisBindingStore(cfg.RedisAddr, "", cfg.RedisDB)
	if err != nil {
		log.Fatalf("nodecached: failed to connect to Redis: %v", err)
	}
	defer bindings.Close()
	log.Printf("nodecached: connected to Redis binding store at %s", cfg.RedisAddr)

	objectCache := container.New[string, []byte](cfg.ObjectCacheCapacity)
	_ = container.New[string, []byte](cfg.BindingCacheCapacity) // binding family's own container, wired once a name resolver exists

	fetchWorker := workers.NewFetchWorker(objectCache, objects, cfg.FetchRatePerSec, cfg.FetchBurst)
	evictWorker := workers.NewEvictWorker(objectCache, objects, cfg.EvictionInterval, cfg.EvictionSweepSize, nil)
	downgradeWorker := workers.NewDowngradeWorker(objectCache, objects)

	go fetchWorker.Run(ctx)
	go evictWorker.Run(ctx)
	go downgradeWorker.Run(ctx)

	bindingUpdates, err := bindings.Subscribe(ctx)
	if err != nil {
		log.Fatalf("nodecached: failed to subscribe to binding transitions: %v", err)
	}
	go func() {
		for name := range bindingUpdates {
			log.Printf("nodecached: observed remote binding rewrite for %s", name)
		}
	}()

	hub := admin.NewTransitionHub()
	go hub.Run(ctx)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: admin.NewServeMux(hub, cfg.AdminToken),
	}
	go func() {
		log.Printf("nodecached: admin server listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("nodecached: admin server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("nodecached: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.EvictionInterval)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("nodecached: admin server shutdown error: %v", err)
	}
}
