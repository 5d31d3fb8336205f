package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTransfer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTransfer("finalized", 2_500_000_000, 12.5)
	m.RecordTransfer("failed", 1_000, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transfersTotal.WithLabelValues("finalized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transfersTotal.WithLabelValues("failed")))
	// Only finalized transfers count toward moved lamports.
	assert.Equal(t, 2_500_000_000.0, testutil.ToFloat64(m.transferLamportsTotal))
}

func TestRecordLedgerWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordLedgerWrite("file", nil)
	m.RecordLedgerWrite("file", errors.New("disk full"))
	m.RecordLedgerWrite("postgres", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerWritesTotal.WithLabelValues("file", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerWritesTotal.WithLabelValues("file", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerWritesTotal.WithLabelValues("postgres", "success")))
}

func TestRecordConfirmationPoll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordConfirmationPoll("processed")
	m.RecordConfirmationPoll("processed")
	m.RecordConfirmationPoll("finalized")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.confirmationPollsTotal.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.confirmationPollsTotal.WithLabelValues("finalized")))
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic.
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
