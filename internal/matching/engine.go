package matching

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/taxpoynt/platform/internal/events"
	"github.com/taxpoynt/platform/internal/transaction"
)

// Strategy selects the confidence thresholds.
type Strategy string

const (
	StrategyStrict     Strategy = "strict"
	StrategyBalanced   Strategy = "balanced"
	StrategyPermissive Strategy = "permissive"
)

// MatchConfidence grades a candidate score.
type MatchConfidence string

const (
	ConfidenceExact  MatchConfidence = "exact"
	ConfidenceHigh   MatchConfidence = "high"
	ConfidenceMedium MatchConfidence = "medium"
	ConfidenceLow    MatchConfidence = "low"
	ConfidenceNone   MatchConfidence = "none"
)

// thresholds per strategy: exact, high, medium, low.
var strategyThresholds = map[Strategy][4]float64{
	StrategyStrict:     {0.95, 0.85, 0.75, 0.65},
	StrategyBalanced:   {0.95, 0.80, 0.60, 0.40},
	StrategyPermissive: {0.90, 0.70, 0.50, 0.30},
}

// factor weights.
const (
	weightName  = 0.30
	weightPhone = 0.25
	weightEmail = 0.25
	weightBizID = 0.20
)

// Store persists identities; the engine rebuilds its indexes from it on
// startup and writes through on every change.
type Store interface {
	ListIdentities(ctx context.Context, tenantID string) ([]*Identity, error)
	SaveIdentity(ctx context.Context, identity *Identity) error
}

// MatchResult is the outcome of resolving a customer payload.
type MatchResult struct {
	Identity     *Identity
	Confidence   MatchConfidence
	Score        float64
	Created      bool
	ManualReview bool
	Candidates   []string // candidate ids when confidence is medium
}

// Engine is the cross-connector customer matching engine. Identity writes
// within a tenant are serialized by a per-tenant mutex so two concurrent
// transactions producing the same new customer cannot race into duplicates.
type Engine struct {
	strategy Strategy
	store    Store

	// Emitter, when set, publishes customer.resolved and customer.merged
	// events.
	Emitter events.Emitter

	mu         sync.RWMutex
	identities map[string]*Identity // universal id -> identity
	byTenant   map[string]*indexes
	classes    *unionFind

	tenantMu sync.Mutex
	tenantLk map[string]*sync.Mutex

	logger *log.Logger
	now    func() time.Time
}

// NewEngine creates a matching engine with the given strategy.
func NewEngine(strategy Strategy, store Store) *Engine {
	if _, ok := strategyThresholds[strategy]; !ok {
		strategy = StrategyBalanced
	}
	return &Engine{
		strategy:   strategy,
		store:      store,
		identities: make(map[string]*Identity),
		byTenant:   make(map[string]*indexes),
		classes:    newUnionFind(),
		tenantLk:   make(map[string]*sync.Mutex),
		logger:     log.New(log.Writer(), "[MATCH] ", log.LstdFlags),
		now:        time.Now,
	}
}

// Rebuild loads every identity for a tenant from the store and rebuilds the
// inverted indexes. Called once per tenant at startup.
func (e *Engine) Rebuild(ctx context.Context, tenantID string) error {
	if e.store == nil {
		return nil
	}
	identities, err := e.store.ListIdentities(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("rebuild identity index for %s: %w", tenantID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ix := newIndexes()
	e.byTenant[tenantID] = ix
	for _, identity := range identities {
		e.identities[identity.UniversalID] = identity
		ix.index(identity)
	}
	e.logger.Printf("rebuilt index for tenant %s: %d identities", tenantID, len(identities))
	return nil
}

// normalizeProbe converts a raw customer payload into normalized identity
// attributes.
func normalizeProbe(tenantID string, payload transaction.CustomerPayload, source transaction.SourceInfo, localID string) *Identity {
	probe := &Identity{
		TenantID:    tenantID,
		PrimaryName: payload.Name,
		BusinessIDs: make(map[string]string),
		Sources:     map[string]string{source.SourceSystem: localID},
		Verified:    make(map[string]bool),
	}
	if n := NormalizeName(payload.Name); n != "" {
		probe.Names = addUnique(probe.Names, n)
	}
	if p := NormalizePhone(payload.Phone); p != "" {
		probe.Phones = addUnique(probe.Phones, p)
	}
	if m := NormalizeEmail(payload.Email); m != "" {
		probe.Emails = addUnique(probe.Emails, m)
	}
	if a := NormalizeAddress(payload.Address); a != "" {
		probe.Addresses = addUnique(probe.Addresses, a)
	}
	for kind, v := range payload.BusinessIDs {
		if norm := NormalizeBusinessID(kind, v); norm != "" {
			probe.BusinessIDs[kind] = norm
		}
	}
	return probe
}

// score computes the weighted similarity between a probe and a candidate,
// with the multi-factor boost when at least two factors contribute.
func score(probe, candidate *Identity) float64 {
	name := nameSimilarity(probe.Names, candidate.Names)
	phone := phoneSimilarity(probe.Phones, candidate.Phones)
	email := emailSimilarity(probe.Emails, candidate.Emails)
	biz := businessIDSimilarity(probe.BusinessIDs, candidate.BusinessIDs)

	total := weightName*name + weightPhone*phone + weightEmail*email + weightBizID*biz

	contributing := 0
	for _, f := range []float64{name, phone, email, biz} {
		if f > 0 {
			contributing++
		}
	}
	if contributing >= 2 {
		total *= 1.1
	}
	if total > 1.0 {
		total = 1.0
	}
	return total
}

// grade buckets a score under the engine's strategy.
func (e *Engine) grade(s float64) MatchConfidence {
	t := strategyThresholds[e.strategy]
	switch {
	case s >= t[0]:
		return ConfidenceExact
	case s >= t[1]:
		return ConfidenceHigh
	case s >= t[2]:
		return ConfidenceMedium
	case s >= t[3]:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// Resolve matches a transaction's customer payload against the tenant's
// identities. exact/high merges into the best candidate; medium returns the
// candidates for manual review without merging; low or below creates a new
// identity.
func (e *Engine) Resolve(ctx context.Context, tenantID string, tx *transaction.UniversalTransaction) (*MatchResult, error) {
	if tx.Customer.Empty() {
		return nil, nil
	}

	lk := e.tenantLock(tenantID)
	lk.Lock()
	defer lk.Unlock()

	probe := normalizeProbe(tenantID, tx.Customer, tx.Source, tx.ID)

	ix := e.tenantIndexes(tenantID)
	candidateIDs := ix.candidates(probe)

	var best *Identity
	bestScore := 0.0
	e.mu.RLock()
	for id := range candidateIDs {
		candidate := e.identities[e.classes.find(id)]
		if candidate == nil || candidate.TenantID != tenantID {
			continue
		}
		if s := score(probe, candidate); s > bestScore {
			bestScore = s
			best = candidate
		}
	}
	e.mu.RUnlock()

	confidence := e.grade(bestScore)

	switch confidence {
	case ConfidenceExact, ConfidenceHigh:
		result, err := e.merge(ctx, best, probe, bestScore, confidence)
		if err != nil {
			return nil, err
		}
		e.emitResolved(tenantID, result.Identity.UniversalID, "merged", bestScore)
		return result, nil
	case ConfidenceMedium:
		ids := make([]string, 0, len(candidateIDs))
		for id := range candidateIDs {
			ids = append(ids, e.classes.find(id))
		}
		e.emitResolved(tenantID, "", "manual_review", bestScore)
		return &MatchResult{
			Identity:     best,
			Confidence:   confidence,
			Score:        bestScore,
			ManualReview: true,
			Candidates:   ids,
		}, nil
	default:
		result, err := e.create(ctx, probe, tx.Source.IngestedAt)
		if err != nil {
			return nil, err
		}
		e.emitResolved(tenantID, result.Identity.UniversalID, "created", bestScore)
		return result, nil
	}
}

func (e *Engine) emitResolved(tenantID, universalID, outcome string, score float64) {
	if e.Emitter == nil {
		return
	}
	e.Emitter.Emit(events.TypeCustomerResolved, "matching", universalID, map[string]interface{}{
		"tenant_id": tenantID,
		"outcome":   outcome,
		"score":     score,
	})
}

// merge absorbs the probe into an existing identity and updates the indexes
// incrementally.
func (e *Engine) merge(ctx context.Context, target *Identity, probe *Identity, s float64, confidence MatchConfidence) (*MatchResult, error) {
	e.mu.Lock()
	target.absorb(probe)
	target.UpdatedAt = e.now()
	e.byTenant[target.TenantID].index(target)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveIdentity(ctx, target); err != nil {
			return nil, fmt.Errorf("persist merged identity %s: %w", target.UniversalID, err)
		}
	}
	return &MatchResult{Identity: target, Confidence: confidence, Score: s}, nil
}

// create mints a new identity for an unmatched customer.
func (e *Engine) create(ctx context.Context, probe *Identity, ingestedAt time.Time) (*MatchResult, error) {
	probe.UniversalID = NewUniversalID(probe.PrimaryName, ingestedAt)
	probe.Confidence = 1.0
	probe.UpdatedAt = e.now()

	e.mu.Lock()
	e.identities[probe.UniversalID] = probe
	e.tenantIndexesLocked(probe.TenantID).index(probe)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveIdentity(ctx, probe); err != nil {
			return nil, fmt.Errorf("persist new identity %s: %w", probe.UniversalID, err)
		}
	}
	return &MatchResult{Identity: probe, Confidence: ConfidenceNone, Score: 0, Created: true}, nil
}

// MergeIdentities unions two existing identities (operator-confirmed manual
// review outcome). The first id becomes the representative; the second's
// record is absorbed but never mutated away — the union-find redirects
// lookups.
func (e *Engine) MergeIdentities(ctx context.Context, tenantID, keepID, absorbID string) error {
	lk := e.tenantLock(tenantID)
	lk.Lock()
	defer lk.Unlock()

	e.mu.Lock()
	keep := e.identities[e.classes.find(keepID)]
	absorb := e.identities[e.classes.find(absorbID)]
	if keep == nil || absorb == nil || keep.TenantID != tenantID || absorb.TenantID != tenantID {
		e.mu.Unlock()
		return fmt.Errorf("merge %s <- %s: identity not found in tenant %s", keepID, absorbID, tenantID)
	}
	if keep.UniversalID == absorb.UniversalID {
		e.mu.Unlock()
		return nil
	}
	keep.absorb(absorb)
	keep.UpdatedAt = e.now()
	e.classes.union(keep.UniversalID, absorb.UniversalID)
	e.byTenant[tenantID].index(keep)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveIdentity(ctx, keep); err != nil {
			return err
		}
	}
	if e.Emitter != nil {
		e.Emitter.Emit(events.TypeCustomerMerged, "matching", keep.UniversalID, map[string]interface{}{
			"tenant_id": tenantID,
			"absorbed":  absorbID,
		})
	}
	return nil
}

// Lookup returns the current representative identity for an id.
func (e *Engine) Lookup(id string) (*Identity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	identity, ok := e.identities[e.classes.find(id)]
	return identity, ok
}

func (e *Engine) tenantLock(tenantID string) *sync.Mutex {
	e.tenantMu.Lock()
	defer e.tenantMu.Unlock()
	lk, ok := e.tenantLk[tenantID]
	if !ok {
		lk = &sync.Mutex{}
		e.tenantLk[tenantID] = lk
	}
	return lk
}

func (e *Engine) tenantIndexes(tenantID string) *indexes {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tenantIndexesLocked(tenantID)
}

func (e *Engine) tenantIndexesLocked(tenantID string) *indexes {
	ix, ok := e.byTenant[tenantID]
	if !ok {
		ix = newIndexes()
		e.byTenant[tenantID] = ix
	}
	return ix
}
