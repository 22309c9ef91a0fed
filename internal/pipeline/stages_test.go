package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxpoynt/platform/internal/transaction"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRun(t *testing.T, profileName string, tx *transaction.UniversalTransaction) *Run {
	t.Helper()
	p, err := ProfileByName(profileName)
	require.NoError(t, err)
	return &Run{
		TenantID:    "org1",
		Profile:     p,
		Tx:          tx,
		Out:         &transaction.ProcessedTransaction{UniversalTransaction: *tx, TenantID: "org1"},
		Results:     make(map[Stage]Result),
		SubmittedAt: fixedNow,
	}
}

func erpTx() *transaction.UniversalTransaction {
	return &transaction.UniversalTransaction{
		ID:          "INV-2024-001",
		Amount:      decimal.NewFromFloat(107_500.00),
		Currency:    "NGN",
		Timestamp:   fixedNow.Add(-2 * time.Hour),
		Description: "June invoice for manufacturing supplies",
		Kind:        transaction.KindERP,
		ERP: &transaction.ERPMetadata{
			InvoiceNumber: "INV-2024-001",
			Subtotal:      decimal.NewFromFloat(100_000.00),
			VATAmount:     decimal.NewFromFloat(7_500.00),
		},
		Customer: transaction.CustomerPayload{
			Name:        "ABC Manufacturing Ltd",
			BusinessIDs: map[string]string{"TIN": "1234567890"},
		},
		Source: transaction.SourceInfo{SourceSystem: "erp-sap", IngestedAt: fixedNow},
	}
}

func TestValidationClean(t *testing.T) {
	s := NewValidationStage()
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileEnterpriseERP, erpTx()))
	require.NoError(t, err)
	assert.Equal(t, OutcomePassed, res.Outcome)
	assert.Empty(t, res.Violations)
}

func TestValidationZeroAmount(t *testing.T) {
	tx := erpTx()
	tx.Amount = decimal.Zero
	s := NewValidationStage()
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileEnterpriseERP, tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "TXN_AMOUNT_POSITIVE", res.Violations[0].RuleID)
}

func TestValidationFutureTimestampBoundary(t *testing.T) {
	s := NewValidationStage()
	s.Now = func() time.Time { return fixedNow }

	tx := erpTx()
	tx.Timestamp = fixedNow.Add(25 * time.Hour)
	res, err := s.Execute(context.Background(), newRun(t, ProfileEnterpriseERP, tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	tx = erpTx()
	tx.Timestamp = fixedNow.Add(23*time.Hour + 59*time.Minute)
	res, err = s.Execute(context.Background(), newRun(t, ProfileEnterpriseERP, tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeWarning, res.Outcome)
	assert.Equal(t, "TXN_TIMESTAMP_AHEAD", res.Violations[0].RuleID)
}

func TestValidationFinancialDataBankingFields(t *testing.T) {
	tx := &transaction.UniversalTransaction{
		ID:          "TXN1",
		Amount:      decimal.NewFromInt(50_000),
		Currency:    "NGN",
		Timestamp:   fixedNow.Add(-time.Hour),
		Description: "transfer",
		Kind:        transaction.KindBanking,
		Banking:     &transaction.BankingMetadata{AccountNumber: "12345"},
		Source:      transaction.SourceInfo{SourceSystem: "bank-feed", IngestedAt: fixedNow},
	}
	s := NewValidationStage()
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileFinancialData, tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	ids := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		ids = append(ids, v.RuleID)
	}
	assert.Contains(t, ids, "BANK_REFERENCE_REQUIRED")
	assert.Contains(t, ids, "BANK_ACCOUNT_FORMAT")
}

func TestVATScheduleRates(t *testing.T) {
	sched := DefaultVATSchedule()
	assert.True(t, decimal.NewFromFloat(0.05).Equal(
		sched.RateAt(time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC))))
	assert.True(t, decimal.NewFromFloat(0.075).Equal(
		sched.RateAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))))
}

func TestRulesVATMismatch(t *testing.T) {
	tx := erpTx()
	tx.ERP.VATAmount = decimal.NewFromFloat(7_499.00)
	s := NewRulesStage(nil)
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileEnterpriseERP, tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.NotEmpty(t, res.Violations)
	assert.Equal(t, "VAT_RATE_VALIDATION", res.Violations[0].RuleID)
	assert.Equal(t, transaction.SeverityError, res.Violations[0].Severity)
}

func TestRulesTINRequired(t *testing.T) {
	tx := erpTx()
	tx.Customer.BusinessIDs = nil
	s := NewRulesStage(nil)
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileEnterpriseERP, tx))
	require.NoError(t, err)

	var tin *transaction.Violation
	for i := range res.Violations {
		if res.Violations[i].RuleID == "TIN_REQUIRED" {
			tin = &res.Violations[i]
		}
	}
	require.NotNil(t, tin)
	assert.Equal(t, transaction.SeverityCritical, tin.Severity)
}

func TestRulesTINNotRequiredBelowFloor(t *testing.T) {
	tx := erpTx()
	tx.Amount = decimal.NewFromInt(9_999)
	tx.ERP.Subtotal = decimal.Zero
	tx.ERP.VATAmount = decimal.Zero
	tx.Customer.BusinessIDs = nil
	s := NewRulesStage(nil)
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileEnterpriseERP, tx))
	require.NoError(t, err)
	for _, v := range res.Violations {
		assert.NotEqual(t, "TIN_REQUIRED", v.RuleID)
	}
}

func TestRulesPOSMissingReceiptAndTerminal(t *testing.T) {
	tx := &transaction.UniversalTransaction{
		ID:          "POS-001",
		Amount:      decimal.NewFromInt(5_000),
		Currency:    "NGN",
		Timestamp:   fixedNow.Add(-time.Hour),
		Description: "retail sale",
		Kind:        transaction.KindPOS,
		POS:         &transaction.POSMetadata{},
		Source:      transaction.SourceInfo{SourceSystem: "pos-retail", IngestedAt: fixedNow},
	}
	s := NewRulesStage(nil)
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileCustomerFacing, tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	ids := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		ids = append(ids, v.RuleID)
		assert.True(t, v.Severity.AtLeastError() || v.Severity == transaction.SeverityWarning)
	}
	assert.Contains(t, ids, "POS_RECEIPT_REQUIRED")
	assert.Contains(t, ids, "POS_TERMINAL_ID_REQUIRED")
}

func TestRulesLargeCashWarning(t *testing.T) {
	tx := erpTx()
	tx.Amount = decimal.NewFromInt(600_000)
	tx.ERP.Subtotal = decimal.Zero
	tx.ERP.VATAmount = decimal.Zero
	s := NewRulesStage(nil)
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileEnterpriseERP, tx))
	require.NoError(t, err)

	found := false
	for _, v := range res.Violations {
		if v.RuleID == "LARGE_CASH_TRANSACTION" {
			found = true
			assert.Equal(t, transaction.SeverityWarning, v.Severity)
		}
	}
	assert.True(t, found)
}

func TestPatternClassifiesFuelPurchase(t *testing.T) {
	tx := erpTx()
	tx.Description = "diesel purchase for generator"
	run := newRun(t, ProfileEnterpriseERP, tx)
	res, err := NewPatternStage().Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, OutcomePassed, res.Outcome)
	assert.Equal(t, "transport", res.Category)
	assert.NotEmpty(t, res.BusinessPurpose)
}

func TestPatternAmbiguousStaysUnclassified(t *testing.T) {
	tx := erpTx()
	tx.Description = "miscellaneous general payment reference 44812"
	res, err := NewPatternStage().Execute(context.Background(), newRun(t, ProfileEnterpriseERP, tx))
	require.NoError(t, err)
	assert.Empty(t, res.Category)
	assert.Equal(t, OutcomePassed, res.Outcome)
}

func TestAmountLowValueShortCircuit(t *testing.T) {
	tx := erpTx()
	tx.Amount = decimal.NewFromInt(500)
	s := NewAmountStage(NewMemoryStats())
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileSmallBusiness, tx))
	require.NoError(t, err)
	require.NotNil(t, res.Risk)
	assert.Equal(t, transaction.RiskLow, res.Risk.Level)
	assert.Zero(t, res.Risk.Score)
}

func TestAmountRoundnessAndOffHours(t *testing.T) {
	stats := NewMemoryStats()
	tx := erpTx()
	tx.Amount = decimal.NewFromInt(2_000_000)
	tx.Timestamp = time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)
	tx.Currency = "USD"
	s := NewAmountStage(stats)
	s.Now = func() time.Time { return fixedNow }
	res, err := s.Execute(context.Background(), newRun(t, ProfileFinancialData, tx))
	require.NoError(t, err)
	require.NotNil(t, res.Risk)
	// roundness 0.2 + off-hours 0.1 + currency 0.1
	assert.InDelta(t, 0.4, res.Risk.Score, 0.001)
	assert.Equal(t, transaction.RiskMedium, res.Risk.Level)
	assert.Equal(t, OutcomeWarning, res.Outcome)
}

func TestRiskLevelBuckets(t *testing.T) {
	assert.Equal(t, transaction.RiskLow, transaction.RiskLevelFromScore(0.29))
	assert.Equal(t, transaction.RiskMedium, transaction.RiskLevelFromScore(0.3))
	assert.Equal(t, transaction.RiskHigh, transaction.RiskLevelFromScore(0.6))
	assert.Equal(t, transaction.RiskCritical, transaction.RiskLevelFromScore(0.85))
}

func TestFuzzyFingerprintsAdjacentBucket(t *testing.T) {
	tx := erpTx()
	fps := FuzzyFingerprints(tx, 24*time.Hour)
	require.Len(t, fps, 2)
	assert.NotEqual(t, fps[0], fps[1])
}
