package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (file, redis, slot)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_hits_total",
			Help: "Total number of CRM cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses by layer
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_misses_total",
			Help: "Total number of CRM cache misses",
		},
		[]string{"layer"},
	)

	// CacheSize tracks the size of the last written entry by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_cache_size_bytes",
			Help: "Size in bytes of the last CRM cache entry written",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear"
	)

	// CacheEvictions tracks entries removed outside of normal expiry
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_evictions_total",
			Help: "Total number of CRM cache entries evicted",
		},
		[]string{"reason"}, // "corrupt", "empty", "expired", "quota"
	)
)

// Layer labels.
const (
	layerFile  = "file"
	layerRedis = "redis"
	layerSlot  = "slot"
)
