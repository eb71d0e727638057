package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var retriesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "llm_call_retries_total",
		Help: "Transient model call failures that were retried",
	},
)
