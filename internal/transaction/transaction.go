// Package transaction defines the universal transaction model shared by every
// connector adapter and pipeline stage. A UniversalTransaction is the
// normalized form of a vendor payload; a ProcessedTransaction is what the
// pipeline emits for downstream invoice generation.
package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConnectorKind identifies the class of external system a transaction came from.
type ConnectorKind string

const (
	KindERP        ConnectorKind = "erp"
	KindCRM        ConnectorKind = "crm"
	KindPOS        ConnectorKind = "pos"
	KindEcommerce  ConnectorKind = "ecommerce"
	KindAccounting ConnectorKind = "accounting"
	KindBanking    ConnectorKind = "banking"
	KindPayment    ConnectorKind = "payment"
)

// Kinds lists every connector kind in canonical order.
func Kinds() []ConnectorKind {
	return []ConnectorKind{KindERP, KindCRM, KindPOS, KindEcommerce, KindAccounting, KindBanking, KindPayment}
}

// DefaultCurrency is applied when a source payload carries no currency.
const DefaultCurrency = "NGN"

// MaxFutureSkew is how far into the future a transaction timestamp may lie
// before it violates the model invariants (clock skew allowance).
const MaxFutureSkew = 24 * time.Hour

// SourceInfo records where a transaction came from. RawPayload is the vendor
// payload verbatim, preserved for round-trip and audit.
type SourceInfo struct {
	SourceSystem      string          `json:"source_system"`
	ConnectorInstance string          `json:"connector_instance,omitempty"`
	IngestedAt        time.Time       `json:"ingested_at"`
	RawPayload        json.RawMessage `json:"raw_payload,omitempty"`
}

// ERPMetadata carries fields only ERP connectors produce.
type ERPMetadata struct {
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	PONumber      string          `json:"po_number,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	VATAmount     decimal.Decimal `json:"vat_amount"`
	CostCenter    string          `json:"cost_center,omitempty"`
	FiscalYear    string          `json:"fiscal_year,omitempty"`
}

// CRMMetadata carries fields only CRM connectors produce.
type CRMMetadata struct {
	DealID       string `json:"deal_id,omitempty"`
	DealStage    string `json:"deal_stage,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
}

// POSMetadata carries fields only point-of-sale connectors produce.
type POSMetadata struct {
	ReceiptNumber string `json:"receipt_number,omitempty"`
	TerminalID    string `json:"terminal_id,omitempty"`
	CashierID     string `json:"cashier_id,omitempty"`
	StoreLocation string `json:"store_location,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	ItemCount     int    `json:"item_count,omitempty"`
}

// EcommerceMetadata carries fields only e-commerce connectors produce.
type EcommerceMetadata struct {
	OrderID         string `json:"order_id,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	ShippingAddress string `json:"shipping_address,omitempty"`
	PhysicalGoods   bool   `json:"physical_goods"`
	FulfilmentState string `json:"fulfilment_state,omitempty"`
}

// AccountingMetadata carries double-entry fields from accounting connectors.
type AccountingMetadata struct {
	JournalID     string `json:"journal_id,omitempty"`
	DebitAccount  string `json:"debit_account,omitempty"`
	CreditAccount string `json:"credit_account,omitempty"`
	Memo          string `json:"memo,omitempty"`
}

// BankingMetadata carries fields only banking connectors produce.
type BankingMetadata struct {
	BankReference string `json:"bank_reference,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	Counterparty  string `json:"counterparty,omitempty"`
	Narration     string `json:"narration,omitempty"`
}

// CustomerPayload is the customer-identifying slice of a transaction, fed to
// the matching engine during enrichment.
type CustomerPayload struct {
	Name        string            `json:"name,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Email       string            `json:"email,omitempty"`
	Address     string            `json:"address,omitempty"`
	BusinessIDs map[string]string `json:"business_ids,omitempty"`
}

// Empty reports whether the payload carries nothing the matcher can use.
func (c CustomerPayload) Empty() bool {
	return c.Name == "" && c.Phone == "" && c.Email == "" && c.Address == "" && len(c.BusinessIDs) == 0
}

// UniversalTransaction is the canonical in-memory record consumed by every
// pipeline stage. Exactly one of the per-kind metadata bags is set, matching
// the connector kind in Source.
type UniversalTransaction struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description"`

	AccountID    string `json:"account_id,omitempty"`
	ExternalRef  string `json:"external_ref,omitempty"`
	Category     string `json:"category,omitempty"`

	Kind       ConnectorKind       `json:"connector_kind"`
	ERP        *ERPMetadata        `json:"erp_metadata,omitempty"`
	CRM        *CRMMetadata        `json:"crm_metadata,omitempty"`
	POS        *POSMetadata        `json:"pos_metadata,omitempty"`
	Ecommerce  *EcommerceMetadata  `json:"ecommerce_metadata,omitempty"`
	Accounting *AccountingMetadata `json:"accounting_metadata,omitempty"`
	Banking    *BankingMetadata    `json:"banking_metadata,omitempty"`

	Customer CustomerPayload `json:"customer,omitempty"`

	Source SourceInfo        `json:"source"`
	Hints  map[string]string `json:"processing_hints,omitempty"`
}

// Model invariant errors.
var (
	ErrEmptyID         = errors.New("transaction id is empty")
	ErrFutureTimestamp = errors.New("transaction timestamp is more than 24h in the future")
	ErrBadCurrency     = errors.New("currency must be an uppercase ISO 4217 code")
)

// Validate enforces the model invariants: non-empty id, uppercase 3-letter
// currency, timestamp not more than 24h ahead of now. Business-level checks
// (amount > 0, currency recognized) belong to the validation stage.
func (t *UniversalTransaction) Validate(now time.Time) error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if len(t.Currency) != 3 || t.Currency != strings.ToUpper(t.Currency) {
		return fmt.Errorf("%w: %q", ErrBadCurrency, t.Currency)
	}
	if t.Timestamp.After(now.Add(MaxFutureSkew)) {
		return ErrFutureTimestamp
	}
	return nil
}

// DedupeKey is the exact-match duplicate key within a tenant.
func (t *UniversalTransaction) DedupeKey() string {
	return t.Source.SourceSystem + "|" + t.ID
}
