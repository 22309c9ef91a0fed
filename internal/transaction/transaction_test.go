package transaction

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func validTx() *UniversalTransaction {
	return &UniversalTransaction{
		ID:          "TXN-001",
		Amount:      decimal.NewFromInt(5000),
		Currency:    "NGN",
		Timestamp:   testNow.Add(-time.Hour),
		Description: "fuel purchase",
		Kind:        KindPOS,
		Source:      SourceInfo{SourceSystem: "pos-moniepoint", IngestedAt: testNow},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*UniversalTransaction)
		wantErr error
	}{
		{"valid", func(*UniversalTransaction) {}, nil},
		{"empty id", func(tx *UniversalTransaction) { tx.ID = "  " }, ErrEmptyID},
		{"lowercase currency", func(tx *UniversalTransaction) { tx.Currency = "ngn" }, ErrBadCurrency},
		{"short currency", func(tx *UniversalTransaction) { tx.Currency = "NG" }, ErrBadCurrency},
		{"far future timestamp", func(tx *UniversalTransaction) { tx.Timestamp = testNow.Add(25 * time.Hour) }, ErrFutureTimestamp},
		{"within clock skew", func(tx *UniversalTransaction) { tx.Timestamp = testNow.Add(23 * time.Hour) }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTx()
			tt.mutate(tx)
			err := tx.Validate(testNow)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDedupeKey(t *testing.T) {
	tx := validTx()
	assert.Equal(t, "pos-moniepoint|TXN-001", tx.DedupeKey())
}

func TestFingerprintBuckets(t *testing.T) {
	tx := validTx()
	tx.Amount = decimal.RequireFromString("107500.005")
	tx.AccountID = "ACCT-9"

	fp := Fingerprint(tx, 12*time.Hour)
	// Amount is rounded to two places (banker's rounding) before keying.
	assert.Contains(t, fp, "107500")
	assert.Contains(t, fp, "ACCT-9")

	// Same bucket, slightly different time: same fingerprint.
	shifted := *tx
	shifted.Timestamp = tx.Timestamp.Add(10 * time.Minute)
	assert.Equal(t, fp, Fingerprint(&shifted, 12*time.Hour))

	// A different bucket changes the fingerprint.
	farAway := *tx
	farAway.Timestamp = tx.Timestamp.Add(13 * time.Hour)
	assert.NotEqual(t, fp, Fingerprint(&farAway, 12*time.Hour))
}

func TestFingerprintCounterpartyFallback(t *testing.T) {
	tx := validTx()
	tx.AccountID = ""
	tx.Banking = &BankingMetadata{Counterparty: "GTBank Plc"}
	assert.Contains(t, Fingerprint(tx, time.Hour), "GTBank Plc")

	tx.Banking = nil
	tx.Customer.Name = "Adebayo Stores"
	assert.Contains(t, Fingerprint(tx, time.Hour), "Adebayo Stores")
}

func TestSerializationRoundTrip(t *testing.T) {
	tx := validTx()
	tx.ERP = &ERPMetadata{
		InvoiceNumber: "INV-2024-001",
		Subtotal:      decimal.NewFromInt(100000),
		VATAmount:     decimal.RequireFromString("7500.00"),
	}
	tx.Customer = CustomerPayload{Name: "Adebayo Stores", Phone: "+2348012345678"}
	tx.Source.RawPayload = json.RawMessage(`{"vendor":"sap","doc":42}`)

	blob, err := json.Marshal(tx)
	require.NoError(t, err)

	var back UniversalTransaction
	require.NoError(t, json.Unmarshal(blob, &back))
	assert.True(t, back.Amount.Equal(tx.Amount))
	assert.True(t, back.ERP.VATAmount.Equal(tx.ERP.VATAmount))
	assert.Equal(t, "Adebayo Stores", back.Customer.Name)
	// The vendor payload survives verbatim.
	assert.JSONEq(t, `{"vendor":"sap","doc":42}`, string(back.Source.RawPayload))
}

func TestRiskLevelBuckets(t *testing.T) {
	assert.Equal(t, RiskLow, RiskLevelFromScore(0.0))
	assert.Equal(t, RiskLow, RiskLevelFromScore(0.29))
	assert.Equal(t, RiskMedium, RiskLevelFromScore(0.3))
	assert.Equal(t, RiskHigh, RiskLevelFromScore(0.6))
	assert.Equal(t, RiskCritical, RiskLevelFromScore(0.85))
	assert.Equal(t, RiskCritical, RiskLevelFromScore(1.0))
}

func TestRiskLevelMax(t *testing.T) {
	assert.Equal(t, RiskHigh, RiskLow.Max(RiskHigh))
	assert.Equal(t, RiskCritical, RiskCritical.Max(RiskMedium))
	assert.Equal(t, RiskMedium, RiskMedium.Max(RiskMedium))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Violation{
		{RuleID: "a", Severity: SeverityInfo},
		{RuleID: "b", Severity: SeverityWarning},
		{RuleID: "c", Severity: SeverityWarning},
	})
	assert.True(t, s.Valid)
	assert.Equal(t, 2, s.Warnings)

	s = Summarize([]Violation{{RuleID: "d", Severity: SeverityError}})
	assert.False(t, s.Valid)
	assert.Equal(t, 1, s.Errors)

	assert.True(t, Summarize(nil).Valid)
}

func TestHasCriticalViolation(t *testing.T) {
	p := &ProcessedTransaction{}
	assert.False(t, p.HasCriticalViolation())
	p.Violations = append(p.Violations, Violation{Severity: SeverityError})
	assert.False(t, p.HasCriticalViolation())
	p.Violations = append(p.Violations, Violation{Severity: SeverityCritical})
	assert.True(t, p.HasCriticalViolation())
}
