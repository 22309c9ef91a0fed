package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventEnvelope(t *testing.T) {
	e := NewEvent(TypeBackupCompleted, "backup-orchestrator", "job-1", map[string]interface{}{"bytes": 42})
	assert.Equal(t, "1.0", e.SpecVersion)
	assert.Equal(t, "backup.completed", e.Type)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Time.IsZero())

	blob, err := e.JSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(blob, &decoded))
	assert.Equal(t, "1.0", decoded["specversion"])
	assert.Equal(t, "job-1", decoded["subject"])
}

func TestSubscribeByType(t *testing.T) {
	bus := NewBus()
	backups := bus.Subscribe(TypeBackupCompleted, TypeBackupFailed)
	all := bus.Subscribe()

	bus.Emit(TypeBackupCompleted, "backup", "job-1", nil)
	bus.Emit(TypeTransactionCompleted, "pipeline", "tx-1", nil)

	got := <-backups
	assert.Equal(t, TypeBackupCompleted, got.Type)
	select {
	case unexpected := <-backups:
		t.Fatalf("typed subscriber received %s", unexpected.Type)
	default:
	}

	// The wildcard subscriber sees both.
	assert.Equal(t, TypeBackupCompleted, (<-all).Type)
	assert.Equal(t, TypeTransactionCompleted, (<-all).Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypeCustomerMerged)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe delivers nowhere and does not panic.
	bus.Emit(TypeCustomerMerged, "matching", "cust-1", nil)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 2
	slow := bus.Subscribe(TypeQuotaWarning)

	// Overfill the backlog; the third publish is dropped, not deadlocked.
	for i := 0; i < 3; i++ {
		bus.Emit(TypeQuotaWarning, "tenant-manager", "org1", map[string]interface{}{"n": i})
	}
	assert.Len(t, slow, 2)
}

func TestSubscriberCount(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(TypeMigrationApplied)
	b := bus.Subscribe(TypeMigrationApplied, TypeBackupCompleted)
	c := bus.Subscribe()
	// b counts once per subscribed type.
	assert.Equal(t, 4, bus.SubscriberCount())

	bus.Unsubscribe(b)
	assert.Equal(t, 2, bus.SubscriberCount())
	bus.Unsubscribe(a)
	bus.Unsubscribe(c)
	assert.Equal(t, 0, bus.SubscriberCount())
}
