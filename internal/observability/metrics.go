package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchQueriesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleetopia", Name: "match_queries_total", Help: "Total match suggestion queries"})
	MatchQueryLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "fleetopia", Name: "match_query_latency_seconds", Help: "Match computation latency"})
	CandidatesEvaluated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleetopia", Name: "match_candidates_evaluated_total", Help: "Total cargo/vehicle pairs scored"})

	AssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleetopia", Name: "assignments_total", Help: "Total successful assignments committed"})
	AssignConflicts  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleetopia", Name: "assignment_conflicts_total", Help: "Assignments rejected by the status guard"},
		[]string{"side"}, // cargo or vehicle
	)

	VehiclesTracked = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleetopia", Name: "vehicles_tracked", Help: "Vehicles with a recent position sample"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleetopia", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleetopia",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
