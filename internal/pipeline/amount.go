package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxpoynt/platform/internal/transaction"
)

// TenantStats supplies the rolling aggregates the amount stage scores
// against, and records observations from completed transactions.
type TenantStats interface {
	// AmountStats returns the tenant's rolling mean and stddev of amounts,
	// and how many observations back them.
	AmountStats(ctx context.Context, tenantID string) (mean, stddev float64, n int, err error)
	// HourlyVelocity returns the count of same-account transactions in the
	// hour before now and the historic hourly mean.
	HourlyVelocity(ctx context.Context, tenantID, accountID string, now time.Time) (lastHour int, historicMean float64, err error)
	// Observe records a completed transaction.
	Observe(ctx context.Context, tenantID, accountID string, amount float64, ts time.Time) error
}

// MemoryStats keeps Welford running aggregates per tenant and a recent
// timestamp window per account.
type MemoryStats struct {
	mu       sync.RWMutex
	agg      map[string]*welford
	accounts map[string][]time.Time // tenant|account -> recent timestamps
}

type welford struct {
	n    int
	mean float64
	m2   float64
	// firstSeen anchors the historic hourly mean.
	firstSeen time.Time
	total     int
}

func NewMemoryStats() *MemoryStats {
	return &MemoryStats{
		agg:      make(map[string]*welford),
		accounts: make(map[string][]time.Time),
	}
}

func (s *MemoryStats) AmountStats(_ context.Context, tenantID string) (float64, float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.agg[tenantID]
	if !ok || w.n < 2 {
		return 0, 0, 0, nil
	}
	return w.mean, math.Sqrt(w.m2 / float64(w.n-1)), w.n, nil
}

func (s *MemoryStats) HourlyVelocity(_ context.Context, tenantID, accountID string, now time.Time) (int, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recent := 0
	cutoff := now.Add(-time.Hour)
	for _, ts := range s.accounts[tenantID+"|"+accountID] {
		if ts.After(cutoff) {
			recent++
		}
	}
	w, ok := s.agg[tenantID]
	if !ok || w.total == 0 || w.firstSeen.IsZero() {
		return recent, 0, nil
	}
	hours := math.Max(now.Sub(w.firstSeen).Hours(), 1)
	return recent, float64(w.total) / hours, nil
}

func (s *MemoryStats) Observe(_ context.Context, tenantID, accountID string, amount float64, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.agg[tenantID]
	if !ok {
		w = &welford{firstSeen: ts}
		s.agg[tenantID] = w
	}
	w.n++
	w.total++
	delta := amount - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (amount - w.mean)

	if accountID != "" {
		key := tenantID + "|" + accountID
		kept := s.accounts[key][:0]
		cutoff := ts.Add(-24 * time.Hour)
		for _, t := range s.accounts[key] {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		s.accounts[key] = append(kept, ts)
	}
	return nil
}

// signal weights; the score is their sum, clamped to [0,1].
const (
	weightZScore    = 0.40
	weightRoundness = 0.20
	weightVelocity  = 0.20
	weightTimeOfDay = 0.10
	weightCurrency  = 0.10
)

// roundnessFloor marks fully-round amounts worth flagging.
var roundnessFloor = decimal.NewFromInt(1_000_000)

// AmountStage computes the fraud risk score from amount, velocity and timing
// signals. No network calls; everything reads from TenantStats.
type AmountStage struct {
	Stats TenantStats
	Now   func() time.Time
}

func NewAmountStage(stats TenantStats) *AmountStage {
	return &AmountStage{Stats: stats, Now: time.Now}
}

func (s *AmountStage) Stage() Stage { return StageAmount }

func (s *AmountStage) Execute(ctx context.Context, run *Run) (Result, error) {
	res := Result{Stage: StageAmount, Outcome: OutcomePassed}
	tx := run.Tx

	if tx.Amount.LessThan(run.Profile.LowValueFloor) {
		res.Risk = &transaction.RiskAssessment{Score: 0, Level: transaction.RiskLow,
			Reasons: []string{"below low-value floor"}}
		return res, nil
	}

	score := 0.0
	var reasons []string
	amount, _ := tx.Amount.Float64()

	mean, stddev, n, err := s.Stats.AmountStats(ctx, run.TenantID)
	if err != nil {
		return res, err
	}
	if n >= 10 && stddev > 0 {
		z := math.Abs(amount-mean) / stddev
		if z > 1 {
			contribution := math.Min(z/4, 1) * weightZScore
			score += contribution
			reasons = append(reasons, fmt.Sprintf("amount z-score %.1f vs tenant mean", z))
		}
	}

	if isFullyRound(tx.Amount) && tx.Amount.GreaterThanOrEqual(roundnessFloor) {
		score += weightRoundness
		reasons = append(reasons, "fully round amount above 1M")
	}

	if tx.AccountID != "" {
		lastHour, historic, err := s.Stats.HourlyVelocity(ctx, run.TenantID, tx.AccountID, s.Now())
		if err != nil {
			return res, err
		}
		baseline := math.Max(historic, 1)
		if float64(lastHour) > 3*baseline {
			score += weightVelocity
			reasons = append(reasons, fmt.Sprintf("velocity %d/h vs baseline %.1f", lastHour, baseline))
		}
	}

	if h := tx.Timestamp.UTC().Hour(); h >= 0 && h < 5 {
		score += weightTimeOfDay
		reasons = append(reasons, "off-hours transaction")
	}

	if tx.Currency != transaction.DefaultCurrency {
		score += weightCurrency
		reasons = append(reasons, "currency differs from tenant default")
	}

	if score > 1 {
		score = 1
	}
	level := transaction.RiskLevelFromScore(score)
	res.Risk = &transaction.RiskAssessment{Score: score, Level: level, Reasons: reasons}

	switch level {
	case transaction.RiskHigh, transaction.RiskCritical:
		res.Outcome = OutcomeFailed
	case transaction.RiskMedium:
		res.Outcome = OutcomeWarning
	}
	return res, nil
}

// isFullyRound reports whether the amount is an integer multiple of 100,000.
func isFullyRound(amount decimal.Decimal) bool {
	if !amount.Equal(amount.Truncate(0)) {
		return false
	}
	return amount.Mod(decimal.NewFromInt(100_000)).IsZero()
}
