package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// DuplicateIndex is the persisted processed-transaction index the duplicate
// stage probes. Record is called by the orchestrator only after finalization
// commits, so probes reflect completed transactions.
type DuplicateIndex interface {
	// SeenExact returns the prior transaction id for an exact dedupe key.
	SeenExact(ctx context.Context, tenantID, key string) (string, bool, error)
	// SeenFuzzy returns the prior transaction id for a fuzzy fingerprint.
	SeenFuzzy(ctx context.Context, tenantID, fingerprint string) (string, bool, error)
	// Record registers a completed transaction under both keys.
	Record(ctx context.Context, tenantID, key, fingerprint, id string) error
}

// MemoryDuplicateIndex is the in-process index used in tests and as the
// write-through front for the SQL-backed index.
type MemoryDuplicateIndex struct {
	mu    sync.RWMutex
	exact map[string]string // tenant|key -> id
	fuzzy map[string]string // tenant|fingerprint -> id
}

func NewMemoryDuplicateIndex() *MemoryDuplicateIndex {
	return &MemoryDuplicateIndex{
		exact: make(map[string]string),
		fuzzy: make(map[string]string),
	}
}

func (m *MemoryDuplicateIndex) SeenExact(_ context.Context, tenantID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.exact[tenantID+"|"+key]
	return id, ok, nil
}

func (m *MemoryDuplicateIndex) SeenFuzzy(_ context.Context, tenantID, fingerprint string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.fuzzy[tenantID+"|"+fingerprint]
	return id, ok, nil
}

func (m *MemoryDuplicateIndex) Record(_ context.Context, tenantID, key, fingerprint, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exact[tenantID+"|"+key] = id
	m.fuzzy[tenantID+"|"+fingerprint] = id
	return nil
}

// DuplicateStage checks the transaction against the processed index: exact
// on (source-system, id), fuzzy on (rounded amount, counterparty, timestamp
// bucket) within the profile's window.
type DuplicateStage struct {
	Index DuplicateIndex
}

func NewDuplicateStage(index DuplicateIndex) *DuplicateStage {
	return &DuplicateStage{Index: index}
}

func (s *DuplicateStage) Stage() Stage { return StageDuplicate }

func (s *DuplicateStage) Execute(ctx context.Context, run *Run) (Result, error) {
	res := Result{Stage: StageDuplicate, Outcome: OutcomePassed}
	tx := run.Tx

	priorID, hit, err := s.Index.SeenExact(ctx, run.TenantID, tx.DedupeKey())
	if err != nil {
		return res, err
	}
	if !hit {
		// Probe the current bucket and its predecessor so near-boundary
		// timestamps still collide within the window.
		for _, fp := range FuzzyFingerprints(tx, run.Profile.FuzzyWindow) {
			priorID, hit, err = s.Index.SeenFuzzy(ctx, run.TenantID, fp)
			if err != nil {
				return res, err
			}
			if hit {
				break
			}
		}
	}
	if !hit {
		return res, nil
	}

	res.DuplicateOf = priorID
	res.Outcome = OutcomeFailed
	res.Violations = append(res.Violations, transaction.Violation{
		RuleID: "DUPLICATE_TRANSACTION", Category: "data-quality",
		Severity: transaction.SeverityError, Field: "id",
		Current: tx.ID, Expected: "not previously processed",
		Hint: "prior transaction " + priorID,
	})
	return res, nil
}

// FuzzyFingerprints returns the fingerprints to probe: the transaction's own
// bucket plus the adjacent earlier bucket.
func FuzzyFingerprints(tx *transaction.UniversalTransaction, window time.Duration) []string {
	if window <= 0 {
		window = 24 * time.Hour
	}
	current := transaction.Fingerprint(tx, window)
	shifted := *tx
	shifted.Timestamp = tx.Timestamp.Add(-window)
	return []string{current, transaction.Fingerprint(&shifted, window)}
}
