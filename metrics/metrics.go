// Package metrics holds the Prometheus collectors shared by the treasury
// services and the HTTP handler that exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "b0ase_treasury"

var (
	// TransfersTotal counts transfer outcomes by result (success, no_key, no_utxos,
	// insufficient_funds, rejected, error).
	TransfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Token transfers from the treasury, by result.",
	}, []string{"result"})

	// BroadcastRetries counts rebuild-and-rebroadcast attempts after double-spend rejections.
	BroadcastRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_retries_total",
		Help:      "Transfer rebroadcasts after inputs were already spent.",
	})

	// IndexerRequests counts indexer calls by endpoint and status (ok or error).
	IndexerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "indexer_requests_total",
		Help:      "Requests to the ordinals indexer.",
	}, []string{"endpoint", "status"})

	// ReconcileDiscrepancies is the discrepancy count of the latest reconciliation.
	ReconcileDiscrepancies = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconcile_discrepancies",
		Help:      "Discrepancies found by the most recent ledger reconciliation.",
	})

	// ReconcileRuns counts reconciliation runs by result (in_sync, drift, error).
	ReconcileRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_runs_total",
		Help:      "Ledger reconciliation runs, by result.",
	}, []string{"result"})

	// APIRequestDuration observes HTTP API latency by route, method and status.
	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Duration of API requests.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"route", "method", "status"})
)

func init() {
	prometheus.MustRegister(TransfersTotal)
	prometheus.MustRegister(BroadcastRetries)
	prometheus.MustRegister(IndexerRequests)
	prometheus.MustRegister(ReconcileDiscrepancies)
	prometheus.MustRegister(ReconcileRuns)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
