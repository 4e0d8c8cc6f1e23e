// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts completed submissions by outcome (success/failure).
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eduguard_scans_total",
		Help: "Completed scan submissions by outcome.",
	}, []string{"outcome"})

	// ScansInFlight counts submissions currently pending across all
	// operator sessions.
	ScansInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eduguard_scans_in_flight",
		Help: "Scan submissions currently pending.",
	})

	// DetectionsDropped counts codes discarded because a submission was
	// already in flight.
	DetectionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eduguard_detections_dropped_total",
		Help: "Detected codes dropped while a submission was pending.",
	})
)
