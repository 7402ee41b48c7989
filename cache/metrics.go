package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_cache_hits_total",
		Help: "Lookups that returned a usable stored response",
	})

	misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_cache_misses_total",
		Help: "Lookups that found no entry for the canonical URL",
	})

	expired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_cache_expired_total",
		Help: "Lookups that found the stored response stale",
	})

	evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_cache_evictions_total",
		Help: "Entries removed by LRU eviction or the expiry sweep",
	})

	entriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_cache_entries",
		Help: "Current number of stored responses",
	})
)
