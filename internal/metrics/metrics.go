// Package metrics provides Prometheus instrumentation for assetwatch.
package metrics

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetwatch"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ReadingsIngestedTotal counts sensor samples appended per asset.
	ReadingsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Sensor readings appended to the reading store, by asset.",
		},
		[]string{"asset"},
	)

	// IngestSkippedTotal counts ingestion cycles that produced no reading.
	IngestSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_skipped_total",
			Help:      "Ingestion cycles skipped, by reason.",
		},
		[]string{"reason"},
	)

	// DetectorDecisionsTotal counts anomaly detector outcomes.
	DetectorDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_decisions_total",
			Help:      "Anomaly detector decisions (normal, escalating, trigger).",
		},
		[]string{"decision"},
	)

	// FaultReportsTotal counts fault reports by source and result.
	FaultReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fault_reports_total",
			Help:      "Fault reports by source (detector, user) and result.",
		},
		[]string{"source", "result"},
	)

	// FaultCancellationsTotal counts admin cancellations by result.
	FaultCancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fault_cancellations_total",
			Help:      "Fault cancellations by result.",
		},
		[]string{"result"},
	)

	// IntegrityCommitsTotal counts integrity commitment cycles by result.
	IntegrityCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_commits_total",
			Help:      "Integrity commitment cycles (committed, skipped, failed).",
		},
		[]string{"result"},
	)

	// SettlementsTotal counts settlement attempts by result.
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts (settled, already_settled, failed).",
		},
		[]string{"result"},
	)

	// SettlementDegradedTotal counts settlements that used the snapshot price.
	SettlementDegradedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_degraded_total",
		Help:      "Settlements that fell back to the snapshot price.",
	})

	// PriceFetchesTotal counts upstream price quote requests.
	PriceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_fetches_total",
			Help:      "Upstream POL/USD quote requests by result (ok, cached, error, circuit_open).",
		},
		[]string{"result"},
	)

	// LastPOLPrice tracks the most recent fetched POL/USD quote.
	LastPOLPrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pol_usd_price",
		Help:      "Most recent POL/USD quote.",
	})

	// BanChecksTotal counts eligibility checks by outcome.
	BanChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ban_checks_total",
			Help:      "Reporting eligibility checks (eligible, banned, fail_open).",
		},
		[]string{"result"},
	)

	// SnapshotOpsTotal counts cost snapshot store operations.
	SnapshotOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_snapshot_ops_total",
			Help:      "Cost snapshot operations (upsert, delete, delete_miss, delete_failed).",
		},
		[]string{"op"},
	)

	// LedgerCallDuration observes ledger call latency by method.
	LedgerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_call_duration_seconds",
			Help:      "Ledger call latency including confirmation wait.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"method"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of connected WebSocket clients.",
		},
	)

	// TrackedAssets is the number of assets with running monitor loops.
	TrackedAssets = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_assets",
		Help:      "Assets with active ingestion and commitment loops.",
	})

	// RateLimitedTotal counts requests rejected by the limiter, by route class.
	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected with 429.",
		},
		[]string{"class"},
	)

	ReconcileStaleSnapshots = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "stale_snapshots",
		Help:      "Stale cost snapshots found in the last reconciliation run.",
	})
	ReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	ReconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Snapshots that could not be checked against the ledger.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ReadingsIngestedTotal,
		IngestSkippedTotal,
		DetectorDecisionsTotal,
		FaultReportsTotal,
		FaultCancellationsTotal,
		IntegrityCommitsTotal,
		SettlementsTotal,
		SettlementDegradedTotal,
		PriceFetchesTotal,
		LastPOLPrice,
		BanChecksTotal,
		SnapshotOpsTotal,
		LedgerCallDuration,
		ActiveWebSocketClients,
		TrackedAssets,
		RateLimitedTotal,
		ReconcileStaleSnapshots,
		ReconcileDuration,
		ReconcileErrors,
	)
}

// ObserveLedgerCall records how long a ledger method took.
func ObserveLedgerCall(method string, start time.Time) {
	LedgerCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// RegisterDB exports the pool statistics of db under the
// assetwatch_db_* prefix. Registering the same pool twice is not an error.
func RegisterDB(db *sql.DB) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, namespace))
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		return nil
	}
	return err
}

// Middleware returns a gin middleware that records request metrics. Requests
// that match no route share the "unmatched" path label.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
