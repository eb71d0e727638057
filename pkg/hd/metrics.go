package hd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	detectionItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hd_detection_items_total",
			Help: "Detection items sent to the model",
		},
		[]string{"detection_round"},
	)

	modelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hd_model_calls_total",
			Help: "Batched model calls issued",
		},
		[]string{"detection_round", "status"},
	)

	parseErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hd_parse_errors_total",
			Help: "Batch items whose model output could not be sliced",
		},
	)

	findingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hd_findings_total",
			Help: "Hallucination findings produced",
		},
		[]string{"detection_type"},
	)

	roundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "hd_round_duration_seconds",
			Help: "Wall time per detection round per document",
		},
		[]string{"detection_round"},
	)
)
