package pipeline

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxpoynt/platform/internal/transaction"
)

// VATWindow is one effective-dated VAT rate.
type VATWindow struct {
	Rate          decimal.Decimal
	EffectiveFrom time.Time
}

// VATSchedule resolves the statutory VAT rate at a point in time. The
// Nigerian rate moved from 5% to 7.5% on 2020-02-01; future changes are
// added as new windows.
type VATSchedule struct {
	windows []VATWindow // sorted ascending by EffectiveFrom
}

// NewVATSchedule builds a schedule from windows in any order.
func NewVATSchedule(windows ...VATWindow) *VATSchedule {
	sorted := make([]VATWindow, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFrom.Before(sorted[j].EffectiveFrom)
	})
	return &VATSchedule{windows: sorted}
}

// DefaultVATSchedule is the statutory Nigerian schedule.
func DefaultVATSchedule() *VATSchedule {
	return NewVATSchedule(
		VATWindow{Rate: decimal.NewFromFloat(0.05), EffectiveFrom: time.Time{}},
		VATWindow{Rate: decimal.NewFromFloat(0.075), EffectiveFrom: time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)},
	)
}

// RateAt returns the rate in force at t.
func (s *VATSchedule) RateAt(t time.Time) decimal.Decimal {
	rate := decimal.NewFromFloat(0.075)
	for _, w := range s.windows {
		if !w.EffectiveFrom.After(t) {
			rate = w.Rate
		}
	}
	return rate
}

// Rule thresholds.
var (
	tinRequiredFloor = decimal.NewFromInt(10_000)
	largeCashFloor   = decimal.NewFromInt(500_000)
	vatTolerance     = decimal.NewFromFloat(0.01)
)

var erpInvoicePattern = regexp.MustCompile(`^[A-Z]*-?\d{4}[-/]?\d{3,6}$`)

// Rule is one static compliance check. Check returns nil when the rule
// passes or does not apply.
type Rule struct {
	ID       string
	Category string
	Severity transaction.Severity
	Applies  func(kind transaction.ConnectorKind) bool
	Check    func(tx *transaction.UniversalTransaction, rc *ruleContext) *transaction.Violation
}

type ruleContext struct {
	vat *VATSchedule
	now time.Time
}

func anyKind(transaction.ConnectorKind) bool { return true }

func onlyKind(k transaction.ConnectorKind) func(transaction.ConnectorKind) bool {
	return func(kind transaction.ConnectorKind) bool { return kind == k }
}

// nigerianRules is the static FIRS/CBN compliance rule set, keyed by rule id
// through the slice order for deterministic violation ordering.
var nigerianRules = []Rule{
	{
		ID: "VAT_RATE_VALIDATION", Category: "tax", Severity: transaction.SeverityError,
		Applies: func(k transaction.ConnectorKind) bool {
			return k == transaction.KindERP || k == transaction.KindAccounting
		},
		Check: func(tx *transaction.UniversalTransaction, rc *ruleContext) *transaction.Violation {
			var subtotal, vat decimal.Decimal
			switch {
			case tx.ERP != nil:
				subtotal, vat = tx.ERP.Subtotal, tx.ERP.VATAmount
			default:
				return nil
			}
			if subtotal.IsZero() || vat.IsZero() {
				return nil
			}
			expected := subtotal.Mul(rc.vat.RateAt(tx.Timestamp))
			if vat.Sub(expected).Abs().GreaterThan(vatTolerance) {
				return &transaction.Violation{
					Field:    "vat_amount",
					Current:  vat.String(),
					Expected: expected.Round(2).String(),
					Hint:     "VAT must equal subtotal x statutory rate",
				}
			}
			return nil
		},
	},
	{
		ID: "TIN_REQUIRED", Category: "tax", Severity: transaction.SeverityCritical,
		Applies: anyKind,
		Check: func(tx *transaction.UniversalTransaction, _ *ruleContext) *transaction.Violation {
			if tx.Amount.LessThan(tinRequiredFloor) {
				return nil
			}
			if tx.Customer.BusinessIDs["TIN"] != "" {
				return nil
			}
			return &transaction.Violation{
				Field:    "customer.business_ids.TIN",
				Expected: "present for amounts >= NGN 10,000",
				Hint:     "FIRS requires a TIN on invoices at or above the threshold",
			}
		},
	},
	{
		ID: "ERP_INVOICE_NUMBER_FORMAT", Category: "accounting", Severity: transaction.SeverityError,
		Applies: onlyKind(transaction.KindERP),
		Check: func(tx *transaction.UniversalTransaction, _ *ruleContext) *transaction.Violation {
			number := tx.ID
			if tx.ERP != nil && tx.ERP.InvoiceNumber != "" {
				number = tx.ERP.InvoiceNumber
			}
			if erpInvoicePattern.MatchString(number) {
				return nil
			}
			return &transaction.Violation{
				Field: "invoice_number", Current: number,
				Expected: "pattern like INV-2024-001",
			}
		},
	},
	{
		ID: "POS_RECEIPT_REQUIRED", Category: "consumer-protection", Severity: transaction.SeverityError,
		Applies: onlyKind(transaction.KindPOS),
		Check: func(tx *transaction.UniversalTransaction, _ *ruleContext) *transaction.Violation {
			if tx.POS != nil && strings.TrimSpace(tx.POS.ReceiptNumber) != "" {
				return nil
			}
			return &transaction.Violation{Field: "receipt_number", Expected: "present"}
		},
	},
	{
		ID: "POS_TERMINAL_ID_REQUIRED", Category: "consumer-protection", Severity: transaction.SeverityError,
		Applies: onlyKind(transaction.KindPOS),
		Check: func(tx *transaction.UniversalTransaction, _ *ruleContext) *transaction.Violation {
			if tx.POS != nil && strings.TrimSpace(tx.POS.TerminalID) != "" {
				return nil
			}
			return &transaction.Violation{Field: "terminal_id", Expected: "present"}
		},
	},
	{
		ID: "ECOMMERCE_SHIPPING_ADDRESS", Category: "consumer-protection", Severity: transaction.SeverityError,
		Applies: onlyKind(transaction.KindEcommerce),
		Check: func(tx *transaction.UniversalTransaction, _ *ruleContext) *transaction.Violation {
			if tx.Ecommerce == nil || !tx.Ecommerce.PhysicalGoods {
				return nil
			}
			if strings.TrimSpace(tx.Ecommerce.ShippingAddress) != "" {
				return nil
			}
			return &transaction.Violation{
				Field: "shipping_address", Expected: "present for physical goods",
			}
		},
	},
	{
		ID: "ACCOUNTING_DOUBLE_ENTRY", Category: "accounting", Severity: transaction.SeverityError,
		Applies: onlyKind(transaction.KindAccounting),
		Check: func(tx *transaction.UniversalTransaction, _ *ruleContext) *transaction.Violation {
			if tx.Accounting != nil && tx.Accounting.DebitAccount != "" && tx.Accounting.CreditAccount != "" {
				return nil
			}
			return &transaction.Violation{
				Field: "debit_account,credit_account", Expected: "both set",
			}
		},
	},
	{
		ID: "BANK_TRANSACTION_REFERENCE", Category: "financial-regs", Severity: transaction.SeverityError,
		Applies: onlyKind(transaction.KindBanking),
		Check: func(tx *transaction.UniversalTransaction, _ *ruleContext) *transaction.Violation {
			if tx.Banking != nil && tx.Banking.BankReference != "" && isTenDigit(tx.Banking.AccountNumber) {
				return nil
			}
			return &transaction.Violation{
				Field: "bank_reference,account_number", Expected: "reference set and 10-digit account",
			}
		},
	},
	{
		ID: "FUTURE_TRANSACTION_DATE", Category: "data-quality", Severity: transaction.SeverityError,
		Applies: anyKind,
		Check: func(tx *transaction.UniversalTransaction, rc *ruleContext) *transaction.Violation {
			if !tx.Timestamp.After(rc.now.Add(transaction.MaxFutureSkew)) {
				return nil
			}
			return &transaction.Violation{
				Field: "timestamp", Current: tx.Timestamp.Format(time.RFC3339),
			}
		},
	},
	{
		ID: "FOREIGN_CURRENCY_REVIEW", Category: "financial-regs", Severity: transaction.SeverityWarning,
		Applies: anyKind,
		Check: func(tx *transaction.UniversalTransaction, _ *ruleContext) *transaction.Violation {
			if tx.Currency == transaction.DefaultCurrency {
				return nil
			}
			return &transaction.Violation{
				Field: "currency", Current: tx.Currency,
				Hint: "mark for CBN compliance review",
			}
		},
	},
	{
		ID: "LARGE_CASH_TRANSACTION", Category: "anti-fraud", Severity: transaction.SeverityWarning,
		Applies: anyKind,
		Check: func(tx *transaction.UniversalTransaction, _ *ruleContext) *transaction.Violation {
			if !tx.Amount.GreaterThan(largeCashFloor) {
				return nil
			}
			if tx.POS != nil && tx.POS.PaymentMethod != "" && !strings.EqualFold(tx.POS.PaymentMethod, "cash") {
				return nil
			}
			return &transaction.Violation{
				Field: "amount", Current: tx.Amount.String(),
				Hint: "cash transaction above NGN 500,000",
			}
		},
	},
}

// RulesStage evaluates the Nigerian compliance rule set. Any violation of
// severity error or above fails the stage; the configured failure action
// decides what the orchestrator does with that.
type RulesStage struct {
	VAT *VATSchedule
	Now func() time.Time
}

func NewRulesStage(vat *VATSchedule) *RulesStage {
	if vat == nil {
		vat = DefaultVATSchedule()
	}
	return &RulesStage{VAT: vat, Now: time.Now}
}

func (s *RulesStage) Stage() Stage { return StageRules }

func (s *RulesStage) Execute(_ context.Context, run *Run) (Result, error) {
	res := Result{Stage: StageRules, Outcome: OutcomePassed}
	rc := &ruleContext{vat: s.VAT, now: s.Now()}

	for _, rule := range nigerianRules {
		if !rule.Applies(run.Tx.Kind) {
			continue
		}
		v := rule.Check(run.Tx, rc)
		if v == nil {
			continue
		}
		v.RuleID = rule.ID
		v.Category = rule.Category
		v.Severity = rule.Severity
		res.Violations = append(res.Violations, *v)
		if rule.Severity.AtLeastError() {
			res.Outcome = OutcomeFailed
		} else if res.Outcome == OutcomePassed {
			res.Outcome = OutcomeWarning
		}
	}
	return res, nil
}
