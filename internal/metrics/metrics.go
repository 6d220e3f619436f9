package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showweather_provider_api_calls_total",
			Help: "Total forecast provider API calls",
		},
		[]string{"provider", "status"},
	)

	ProviderAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "showweather_provider_api_latency_seconds",
			Help:    "Forecast provider API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showweather_ingestions_total",
			Help: "Total ingestion attempts by outcome",
		},
		[]string{"outcome"},
	)

	RecordVersionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showweather_record_versions_total",
			Help: "Total weather record versions persisted",
		},
	)
)
