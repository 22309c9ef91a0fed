package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// recognizedCurrencies is the set the validation stage accepts. NGN is the
// platform default; the rest cover common cross-border settlement.
var recognizedCurrencies = map[string]bool{
	"NGN": true, "USD": true, "EUR": true, "GBP": true,
	"GHS": true, "KES": true, "ZAR": true, "XOF": true,
	"CAD": true, "CNY": true, "AED": true,
}

const maxTransactionAge = 10 * 365 * 24 * time.Hour

// ValidationStage runs the structural checks every transaction must pass
// before the rest of the pipeline sees it.
type ValidationStage struct {
	Now func() time.Time
}

func NewValidationStage() *ValidationStage {
	return &ValidationStage{Now: time.Now}
}

func (s *ValidationStage) Stage() Stage { return StageValidation }

func (s *ValidationStage) Execute(_ context.Context, run *Run) (Result, error) {
	res := Result{Stage: StageValidation, Outcome: OutcomePassed}
	tx := run.Tx
	now := s.Now()

	fail := func(v transaction.Violation) {
		res.Violations = append(res.Violations, v)
		if v.Severity.AtLeastError() {
			res.Outcome = OutcomeFailed
		} else if res.Outcome == OutcomePassed {
			res.Outcome = OutcomeWarning
		}
	}

	if strings.TrimSpace(tx.ID) == "" {
		fail(transaction.Violation{
			RuleID: "TXN_ID_REQUIRED", Category: "data-quality",
			Severity: transaction.SeverityError, Field: "id",
			Hint: "source payload must carry a stable transaction identifier",
		})
	}
	if !tx.Amount.IsPositive() {
		fail(transaction.Violation{
			RuleID: "TXN_AMOUNT_POSITIVE", Category: "data-quality",
			Severity: transaction.SeverityError, Field: "amount",
			Current: tx.Amount.String(), Expected: "> 0",
		})
	}
	if !recognizedCurrencies[tx.Currency] {
		fail(transaction.Violation{
			RuleID: "TXN_CURRENCY_RECOGNIZED", Category: "data-quality",
			Severity: transaction.SeverityError, Field: "currency",
			Current: tx.Currency,
		})
	}

	switch {
	case tx.Timestamp.IsZero():
		fail(transaction.Violation{
			RuleID: "TXN_TIMESTAMP_REQUIRED", Category: "data-quality",
			Severity: transaction.SeverityError, Field: "timestamp",
		})
	case tx.Timestamp.After(now.Add(transaction.MaxFutureSkew)):
		fail(transaction.Violation{
			RuleID: "TXN_TIMESTAMP_FUTURE", Category: "data-quality",
			Severity: transaction.SeverityError, Field: "timestamp",
			Current: tx.Timestamp.Format(time.RFC3339), Expected: "within 24h of now",
		})
	case tx.Timestamp.After(now):
		// Inside the clock-skew allowance: accepted, flagged.
		fail(transaction.Violation{
			RuleID: "TXN_TIMESTAMP_AHEAD", Category: "data-quality",
			Severity: transaction.SeverityWarning, Field: "timestamp",
			Current: tx.Timestamp.Format(time.RFC3339),
		})
	case tx.Timestamp.Before(now.Add(-maxTransactionAge)):
		fail(transaction.Violation{
			RuleID: "TXN_TIMESTAMP_STALE", Category: "data-quality",
			Severity: transaction.SeverityError, Field: "timestamp",
			Expected: "within the last 10 years",
		})
	}

	if strings.TrimSpace(tx.Description) == "" {
		fail(transaction.Violation{
			RuleID: "TXN_DESCRIPTION_REQUIRED", Category: "data-quality",
			Severity: transaction.SeverityWarning, Field: "description",
		})
	}
	if !metadataMatchesKind(tx) {
		fail(transaction.Violation{
			RuleID: "TXN_METADATA_KIND", Category: "data-quality",
			Severity: transaction.SeverityWarning, Field: "connector_kind",
			Current: string(tx.Kind),
			Hint:    "metadata bag does not match the connector kind",
		})
	}

	if run.Profile.Name == ProfileFinancialData {
		s.checkBankingFields(tx, fail)
	}

	return res, nil
}

// checkBankingFields enforces the financial-data extras: bank reference and
// a 10-digit Nigerian account number.
func (s *ValidationStage) checkBankingFields(tx *transaction.UniversalTransaction, fail func(transaction.Violation)) {
	if tx.Banking == nil {
		return
	}
	if strings.TrimSpace(tx.Banking.BankReference) == "" {
		fail(transaction.Violation{
			RuleID: "BANK_REFERENCE_REQUIRED", Category: "financial-regs",
			Severity: transaction.SeverityError, Field: "bank_reference",
		})
	}
	if !isTenDigit(tx.Banking.AccountNumber) {
		fail(transaction.Violation{
			RuleID: "BANK_ACCOUNT_FORMAT", Category: "financial-regs",
			Severity: transaction.SeverityError, Field: "account_number",
			Current: tx.Banking.AccountNumber, Expected: "exactly 10 digits",
		})
	}
}

// ApplyDefaults fills missing fields before a retry-with-defaults re-run.
func (s *ValidationStage) ApplyDefaults(run *Run) {
	tx := run.Tx
	if tx.Currency == "" {
		tx.Currency = transaction.DefaultCurrency
	}
	if strings.TrimSpace(tx.Description) == "" {
		tx.Description = fmt.Sprintf("%s %s", tx.Kind, tx.ID)
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = s.Now().UTC()
		run.Out.AddNote("timestamp defaulted to processing time")
	}
}

func metadataMatchesKind(tx *transaction.UniversalTransaction) bool {
	switch tx.Kind {
	case transaction.KindERP:
		return tx.ERP != nil
	case transaction.KindCRM:
		return tx.CRM != nil
	case transaction.KindPOS:
		return tx.POS != nil
	case transaction.KindEcommerce:
		return tx.Ecommerce != nil
	case transaction.KindAccounting:
		return tx.Accounting != nil
	case transaction.KindBanking:
		return tx.Banking != nil
	}
	return true
}

func isTenDigit(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
