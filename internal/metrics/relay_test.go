package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxpoynt/platform/internal/events"
)

func newTestRelay(t *testing.T) (*Metrics, *events.Bus) {
	t.Helper()
	m := New(prometheus.NewRegistry())
	bus := events.NewBus()
	relay := NewRelay(m, bus)
	t.Cleanup(relay.Stop)
	return m, bus
}

// settle waits until the relay has drained everything published so far.
func settle(bus *events.Bus) {
	probe := bus.Subscribe()
	defer bus.Unsubscribe(probe)
	time.Sleep(20 * time.Millisecond)
}

func TestRelayCountsTransactions(t *testing.T) {
	m, bus := newTestRelay(t)

	bus.Emit(events.TypeTransactionCompleted, "pipeline", "tx1", map[string]interface{}{
		"connector":  "erp",
		"status":     "completed",
		"confidence": 0.92,
		"stage_latencies": map[string]interface{}{
			"validation": 0.004,
			"enrichment": 0.120,
		},
	})
	bus.Emit(events.TypeTransactionFailed, "pipeline", "tx2", map[string]interface{}{
		"connector": "pos",
		"status":    "failed",
	})
	settle(bus)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("erp", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("pos", "failed")))
	require.Equal(t, 1, testutil.CollectAndCount(m.ConfidenceScore))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDuration))
}

func TestRelayCountsStageFailures(t *testing.T) {
	m, bus := newTestRelay(t)

	bus.Emit(events.TypeStageFailed, "pipeline", "tx1", map[string]interface{}{
		"stage":  "amount_validation",
		"action": "manual_review",
	})
	settle(bus)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("amount_validation", "manual_review")))
}

func TestRelayCountsMatchOutcomes(t *testing.T) {
	m, bus := newTestRelay(t)

	bus.Emit(events.TypeCustomerResolved, "matching", "uid1", map[string]interface{}{"outcome": "created"})
	bus.Emit(events.TypeCustomerResolved, "matching", "uid2", map[string]interface{}{"outcome": "merged"})
	bus.Emit(events.TypeCustomerMerged, "matching", "uid2", map[string]interface{}{"absorbed": "uid3"})
	settle(bus)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchResults.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MatchResults.WithLabelValues("merged")))
}

func TestRelayCountsQuotaAndBackups(t *testing.T) {
	m, bus := newTestRelay(t)

	bus.Emit(events.TypeQuotaRejected, "pipeline", "org1", map[string]interface{}{"reason": "invoice_quota"})
	bus.Emit(events.TypeBackupCompleted, "backup", "job1", map[string]interface{}{
		"type":             "full",
		"status":           "completed",
		"duration_seconds": 12.5,
	})
	settle(bus)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaRejections.WithLabelValues("org1", "invoice_quota")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackupJobs.WithLabelValues("full", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BackupDuration))
}

func TestRelayStopDrainsCleanly(t *testing.T) {
	m := New(prometheus.NewRegistry())
	bus := events.NewBus()
	relay := NewRelay(m, bus)

	bus.Emit(events.TypeTransactionCompleted, "pipeline", "tx1", map[string]interface{}{
		"connector": "erp", "status": "completed",
	})
	relay.Stop()

	// Publishing after Stop is a no-op for the relay.
	bus.Emit(events.TypeTransactionCompleted, "pipeline", "tx2", map[string]interface{}{
		"connector": "erp", "status": "completed",
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("erp", "completed")))
}
