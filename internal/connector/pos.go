package connector

import (
	"context"
	"errors"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// POSAdapter converts point-of-sale tickets into universal transactions.
type POSAdapter struct {
	Instance string
	Fetcher  FetchFunc
	Now      func() time.Time
}

func NewPOSAdapter(instance string, fetcher FetchFunc) *POSAdapter {
	return &POSAdapter{Instance: instance, Fetcher: fetcher, Now: time.Now}
}

func (a *POSAdapter) Kind() transaction.ConnectorKind { return transaction.KindPOS }

func (a *POSAdapter) Fetch(ctx context.Context, filters FetchFilters, page Page) ([]Native, error) {
	if a.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	return a.Fetcher(ctx, filters, page)
}

func (a *POSAdapter) ToUniversal(native Native) (*transaction.UniversalTransaction, error) {
	f := native.Fields

	id := probeString(f, "transaction_id", "ticket_id", "id")
	if id == "" {
		return nil, errors.New("pos payload has no transaction identifier")
	}

	amount, ok := probeAmount(f, "amount_kobo", "amount_cents", "total", "amount")
	if !ok {
		return nil, errors.New("pos payload has no amount")
	}

	ts, fellBack := probeTimestamp(f, a.Now, "sold_at", "transaction_time", "timestamp")

	desc := probeString(f, "description", "items_summary")
	if desc == "" {
		desc = fallbackDescription(transaction.KindPOS, id)
	}

	itemCount := 0
	if n, ok := f["item_count"].(float64); ok {
		itemCount = int(n)
	}

	tx := &transaction.UniversalTransaction{
		ID:          id,
		Amount:      amount,
		Currency:    probeCurrency(f, "currency"),
		Timestamp:   ts,
		Description: desc,
		AccountID:   probeString(f, "loyalty_id", "account_id"),
		Kind:        transaction.KindPOS,
		POS: &transaction.POSMetadata{
			ReceiptNumber: probeString(f, "receipt_number", "receipt_no"),
			TerminalID:    probeString(f, "terminal_id", "till_id"),
			CashierID:     probeString(f, "cashier_id"),
			StoreLocation: probeString(f, "store", "location"),
			PaymentMethod: probeString(f, "payment_method", "tender"),
			ItemCount:     itemCount,
		},
		Customer: transaction.CustomerPayload{
			Name:  probeString(f, "customer_name"),
			Phone: probeString(f, "customer_phone"),
			Email: probeString(f, "customer_email"),
		},
		Source: transaction.SourceInfo{
			SourceSystem:      "pos-" + a.Instance,
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

func (a *POSAdapter) EnhanceResult(processed *transaction.ProcessedTransaction, native Native) (*EnrichedResult, error) {
	insights := map[string]string{}
	if m := processed.POS; m != nil && m.PaymentMethod != "" {
		insights["payment_method"] = m.PaymentMethod
	}
	return &EnrichedResult{
		Processed: processed,
		VendorRef: probeString(native.Fields, "receipt_number", "transaction_id", "id"),
		Insights:  insights,
	}, nil
}
