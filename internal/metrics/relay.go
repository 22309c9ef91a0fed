package metrics

import (
	"github.com/taxpoynt/platform/internal/events"
)

// Relay drains platform events from the bus into the Prometheus collectors.
// It is the only coupling point between the event taxonomy and the metric
// names; the emitting packages stay metrics-free.
type Relay struct {
	metrics *Metrics
	bus     *events.Bus
	ch      chan *events.Event
	done    chan struct{}
}

// NewRelay subscribes to the bus and starts draining in the background.
func NewRelay(m *Metrics, bus *events.Bus) *Relay {
	r := &Relay{
		metrics: m,
		bus:     bus,
		ch:      bus.Subscribe(),
		done:    make(chan struct{}),
	}
	go r.drain()
	return r
}

// Stop unsubscribes and waits for the drain loop to exit.
func (r *Relay) Stop() {
	r.bus.Unsubscribe(r.ch)
	<-r.done
}

func (r *Relay) drain() {
	defer close(r.done)
	for event := range r.ch {
		r.record(event)
	}
}

func (r *Relay) record(event *events.Event) {
	switch event.Type {
	case events.TypeTransactionCompleted, events.TypeTransactionFailed:
		connector := str(event.Data, "connector")
		r.metrics.TransactionsTotal.WithLabelValues(connector, str(event.Data, "status")).Inc()
		if c, ok := event.Data["confidence"].(float64); ok {
			r.metrics.ConfidenceScore.WithLabelValues(connector).Observe(c)
		}
		if latencies, ok := event.Data["stage_latencies"].(map[string]interface{}); ok {
			for stage, v := range latencies {
				if seconds, ok := v.(float64); ok {
					r.metrics.StageDuration.WithLabelValues(stage).Observe(seconds)
				}
			}
		}

	case events.TypeStageFailed:
		r.metrics.StageFailures.WithLabelValues(str(event.Data, "stage"), str(event.Data, "action")).Inc()

	case events.TypeCustomerResolved:
		r.metrics.MatchResults.WithLabelValues(str(event.Data, "outcome")).Inc()

	case events.TypeCustomerMerged:
		r.metrics.MatchResults.WithLabelValues("merged").Inc()

	case events.TypeQuotaRejected:
		r.metrics.QuotaRejections.WithLabelValues(event.Subject, str(event.Data, "reason")).Inc()

	case events.TypeBackupCompleted, events.TypeBackupFailed:
		backupType := str(event.Data, "type")
		r.metrics.BackupJobs.WithLabelValues(backupType, str(event.Data, "status")).Inc()
		if seconds, ok := event.Data["duration_seconds"].(float64); ok && seconds >= 0 {
			r.metrics.BackupDuration.WithLabelValues(backupType).Observe(seconds)
		}
	}
}

func str(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}
