// Package metrics defines the Prometheus instruments for the pipeline.
// Everything is registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "domainalert"

var (
	// LookupResults counts per-name lookup outcomes by source (rdap, whois,
	// synthesized-miss) and outcome (registered, available, error).
	LookupResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lookup",
		Name:      "results_total",
		Help:      "Lookup results by source and outcome.",
	}, []string{"source", "outcome"})

	// BatchesProcessed counts claim-lookup-flush cycles by job kind.
	BatchesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "batches_total",
		Help:      "Processed batches by job kind.",
	}, []string{"kind"})

	// BatchDuration observes the wall time of one claim-lookup-flush cycle.
	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "batch_duration_seconds",
		Help:      "Duration of one claim-lookup-flush cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})

	// NotificationSends counts delivery attempts by channel (ntfy, email)
	// and outcome (ok, error, dropped).
	NotificationSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifier",
		Name:      "sends_total",
		Help:      "Notification delivery attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	// ScansEnqueued counts whois_check jobs created by the scheduler.
	ScansEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "scans_total",
		Help:      "Scheduler-created whois_check jobs.",
	})

	// WSClients tracks currently connected websocket feed clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected websocket clients.",
	})
)

// Outcome labels for LookupResults.
const (
	OutcomeRegistered = "registered"
	OutcomeAvailable  = "available"
	OutcomeError      = "error"
)
