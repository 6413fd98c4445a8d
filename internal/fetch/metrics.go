package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagecache_fetches_total",
		Help: "Upstream fetches issued by controllers, by outcome.",
	}, []string{"controller", "outcome"})

	supersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagecache_superseded_total",
		Help: "Fetch results dropped because a newer request replaced them.",
	})
)

const (
	controllerResource = "resource"
	controllerPager    = "pager"

	outcomeSuccess  = "success"
	outcomeError    = "error"
	outcomeCanceled = "canceled"
)
