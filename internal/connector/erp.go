package connector

import (
	"context"
	"errors"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// FetchFunc is the vendor connection an adapter pulls pages through. Tests
// and offline runs inject fixtures; production wires the real client.
type FetchFunc func(ctx context.Context, filters FetchFilters, page Page) ([]Native, error)

// ErrNoFetcher is returned when an adapter without a vendor connection is
// asked to fetch.
var ErrNoFetcher = errors.New("connector has no vendor connection configured")

// ERPAdapter converts ERP documents (SAP-style field names first) into
// universal transactions.
type ERPAdapter struct {
	Instance string
	Fetcher  FetchFunc
	Now      func() time.Time
}

// NewERPAdapter creates an ERP adapter for a named connector instance.
func NewERPAdapter(instance string, fetcher FetchFunc) *ERPAdapter {
	return &ERPAdapter{Instance: instance, Fetcher: fetcher, Now: time.Now}
}

func (a *ERPAdapter) Kind() transaction.ConnectorKind { return transaction.KindERP }

func (a *ERPAdapter) Fetch(ctx context.Context, filters FetchFilters, page Page) ([]Native, error) {
	if a.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	return a.Fetcher(ctx, filters, page)
}

// ToUniversal maps an ERP document. Probe order: SAP document number, then
// generic invoice fields, then a bare id.
func (a *ERPAdapter) ToUniversal(native Native) (*transaction.UniversalTransaction, error) {
	f := native.Fields

	id := probeString(f, "BELNR", "invoice_number", "document_number", "id")
	if id == "" {
		return nil, errors.New("erp payload has no document identifier")
	}

	amount, ok := probeAmount(f, "WRBTR", "amount_kobo", "amount_cents", "total_amount", "amount")
	if !ok {
		return nil, errors.New("erp payload has no amount")
	}

	ts, fellBack := probeTimestamp(f, a.Now, "BUDAT", "posting_date", "invoice_date", "timestamp", "created_at")

	desc := probeString(f, "SGTXT", "description", "narrative")
	if desc == "" {
		desc = fallbackDescription(transaction.KindERP, id)
	}

	subtotal, _ := probeAmount(f, "subtotal", "net_amount")
	vat, _ := probeAmount(f, "vat", "vat_amount", "tax_amount")

	tx := &transaction.UniversalTransaction{
		ID:          id,
		Amount:      amount,
		Currency:    probeCurrency(f, "WAERS", "currency"),
		Timestamp:   ts,
		Description: desc,
		AccountID:   probeString(f, "KUNNR", "account_id", "customer_account"),
		ExternalRef: probeString(f, "XBLNR", "external_ref", "reference"),
		Kind:        transaction.KindERP,
		ERP: &transaction.ERPMetadata{
			InvoiceNumber: id,
			PONumber:      probeString(f, "EBELN", "po_number"),
			Subtotal:      subtotal,
			VATAmount:     vat,
			CostCenter:    probeString(f, "KOSTL", "cost_center"),
			FiscalYear:    probeString(f, "GJAHR", "fiscal_year"),
		},
		Customer: transaction.CustomerPayload{
			Name:        probeString(f, "customer_name", "NAME1"),
			Email:       probeString(f, "customer_email"),
			Phone:       probeString(f, "customer_phone"),
			BusinessIDs: probeBusinessIDs(f),
		},
		Source: transaction.SourceInfo{
			SourceSystem:      "erp-" + a.Instance,
			ConnectorInstance: a.Instance,
			IngestedAt:        a.Now().UTC(),
			RawPayload:        native.Raw,
		},
		Hints: map[string]string{},
	}
	if fellBack {
		tx.Hints["timestamp_fallback"] = "source timestamp unparseable, defaulted to ingestion time"
	}
	return tx, nil
}

// EnhanceResult attaches ERP insight: whether the document carried a
// consistent VAT split.
func (a *ERPAdapter) EnhanceResult(processed *transaction.ProcessedTransaction, native Native) (*EnrichedResult, error) {
	insights := map[string]string{}
	if m := processed.ERP; m != nil && !m.Subtotal.IsZero() {
		insights["vat_split"] = m.Subtotal.String() + "+" + m.VATAmount.String()
	}
	return &EnrichedResult{
		Processed: processed,
		VendorRef: probeString(native.Fields, "BELNR", "invoice_number", "id"),
		Insights:  insights,
	}, nil
}

// probeBusinessIDs collects TIN/CAC style identifiers when the vendor exposes
// them.
func probeBusinessIDs(f map[string]interface{}) map[string]string {
	ids := map[string]string{}
	if tin := probeString(f, "tin", "tax_id", "STCD1"); tin != "" {
		ids["TIN"] = tin
	}
	if cac := probeString(f, "cac", "rc_number", "registration_number"); cac != "" {
		ids["CAC"] = cac
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}
