// Package metrics exposes the Prometheus instrumentation for the cache
// node: transition counts, wait latencies, container occupancy, and worker
// throughput. Everything here is registered at package init through
// promauto, the same way the rest of the fleet's services do it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts every successful state-machine transition, keyed
	// by the setter name that was called and the family the entry belongs
	// to (object or binding).
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodecache_transitions_total",
		Help: "Total number of successful entry state transitions",
	}, []string{"transition", "family"})

	// InvalidTransitions counts rejected transition attempts, keyed by the
	// setter name and the state the entry was actually in.
	InvalidTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodecache_invalid_transitions_total",
		Help: "Total number of transition attempts rejected by the state machine",
	}, []string{"transition", "actual_state"})

	// WaitDuration tracks how long callers spend blocked in Await/AwaitNot
	// derived operations, keyed by which wait operation was used and how
	// it resolved.
	WaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodecache_wait_duration_seconds",
		Help:    "Time spent blocked in a wait operation before it resolved",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"}) // outcome: satisfied, timeout, interrupted, error

	// EntriesByState is the gauge for the current population of entries per
	// state. It is registered but nothing in this tree sets it: there is no
	// sampler, and transitions do not update it inline.
	EntriesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nodecache_entries_by_state",
		Help: "Current number of cached entries in each state",
	}, []string{"state", "family"})

	// ContainerSize tracks the indexed entry count per lock family.
	ContainerSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nodecache_container_size",
		Help: "Current number of indexed entries per lock family",
	}, []string{"family"})

	// EvictionSweeps counts eviction worker passes that found the family at
	// capacity. EvictedEntries counts entries driven to Decached, either by
	// an eviction sweep (reason idle) or by the fetch worker abandoning a
	// sentinel fetch (reason abandoned).
	EvictionSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodecache_eviction_sweeps_total",
		Help: "Total number of eviction worker sweeps",
	})
	EvictedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodecache_evicted_entries_total",
		Help: "Total number of entries driven to Decached by eviction or fetch abandonment",
	}, []string{"family", "reason"}) // reason: idle, abandoned

	// FetchDuration tracks backing-store fetch latency, keyed by store
	// kind (object, binding) and outcome.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodecache_fetch_duration_seconds",
		Help:    "Backing store fetch latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"store", "outcome"})

	// FlushDuration tracks writeback latency for dirty entries.
	FlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodecache_flush_duration_seconds",
		Help:    "Backing store writeback latency for modified entries",
		Buckets: prometheus.DefBuckets,
	}, []string{"store", "outcome"})

	// WatchdogTrips counts times AwaitWritable's 1000-iteration watchdog
	// fired, which should be zero in a healthy node.
	WatchdogTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodecache_await_writable_watchdog_trips_total",
		Help: "Total number of AwaitWritable oscillation-watchdog panics recovered by the caller",
	})
)
