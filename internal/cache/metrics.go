package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagecache_cache_lookups_total",
		Help: "Cache lookups by tier and result (hit, miss, expired).",
	}, []string{"tier", "result"})

	durableErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagecache_durable_errors_total",
		Help: "Durable tier operations that failed and were absorbed.",
	}, []string{"op"})
)

const (
	tierFast    = "fast"
	tierDurable = "durable"

	resultHit     = "hit"
	resultMiss    = "miss"
	resultExpired = "expired"
)
