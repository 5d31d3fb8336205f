package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the wallet.
// It is passed explicitly to every component that records metrics;
// components treat a nil *Metrics as "metrics disabled".
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Transfer Metrics
	transferSubmissionsTotal *prometheus.CounterVec
	transferRebuildsTotal    prometheus.Counter
	transfersTotal           *prometheus.CounterVec
	transferDuration         *prometheus.HistogramVec
	transferLamportsTotal    prometheus.Counter

	// Confirmation Metrics
	confirmationPollsTotal *prometheus.CounterVec
	confirmationDuration   *prometheus.HistogramVec

	// Ledger / mirror Metrics
	ledgerWritesTotal *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Transfer Metrics
		transferSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_submissions_total",
				Help: "Total number of sendTransaction attempts by result",
			},
			[]string{"result"},
		),
		transferRebuildsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "transfer_rebuilds_total",
				Help: "Total number of times a transfer was rebuilt with a fresh blockhash",
			},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_total",
				Help: "Total number of transfers by final outcome",
			},
			[]string{"outcome"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_duration_seconds",
				Help:    "End to end transfer duration from build to finalized",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		transferLamportsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "transfer_lamports_total",
				Help: "Total lamports moved by finalized transfers",
			},
		),

		// Confirmation Metrics
		confirmationPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirmation_polls_total",
				Help: "Total number of signature status polls by observed commitment",
			},
			[]string{"commitment"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirmation_duration_seconds",
				Help:    "Time from submission until the confirmation loop terminated",
				Buckets: []float64{1, 5, 10, 15, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		// Ledger / mirror Metrics
		ledgerWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_writes_total",
				Help: "Total number of transfer record writes by sink and status",
			},
			[]string{"sink", "status"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Transfer metric helpers

// RecordSubmission records one sendTransaction attempt.
func (m *Metrics) RecordSubmission(result string) {
	m.transferSubmissionsTotal.WithLabelValues(result).Inc()
}

// RecordRebuild records a rebuild with a fresh blockhash.
func (m *Metrics) RecordRebuild() {
	m.transferRebuildsTotal.Inc()
}

// RecordTransfer records the final outcome of a transfer.
func (m *Metrics) RecordTransfer(outcome string, lamports uint64, duration float64) {
	m.transfersTotal.WithLabelValues(outcome).Inc()
	m.transferDuration.WithLabelValues(outcome).Observe(duration)
	if outcome == "finalized" {
		m.transferLamportsTotal.Add(float64(lamports))
	}
}

// Confirmation metric helpers

// RecordConfirmationPoll records one status poll and the commitment it observed.
func (m *Metrics) RecordConfirmationPoll(commitment string) {
	m.confirmationPollsTotal.WithLabelValues(commitment).Inc()
}

// RecordConfirmation records how a confirmation loop ended.
func (m *Metrics) RecordConfirmation(outcome string, duration float64) {
	m.confirmationDuration.WithLabelValues(outcome).Observe(duration)
}

// Ledger metric helpers

// RecordLedgerWrite records a transfer record write to a sink ("file", "postgres").
func (m *Metrics) RecordLedgerWrite(sink string, err error) {
	m.ledgerWritesTotal.WithLabelValues(sink, statusOf(err)).Inc()
}

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, statusOf(err)).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
