package connector

import (
	"context"
	"errors"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// EcommerceAdapter converts storefront orders into universal transactions.
type EcommerceAdapter struct {
	Instance string
	Fetcher  FetchFunc
	Now      func() time.Time
}

func NewEcommerceAdapter(instance string, fetcher FetchFunc) *EcommerceAdapter {
	return &EcommerceAdapter{Instance: instance, Fetcher: fetcher, Now: time.Now}
}

func (a *EcommerceAdapter) Kind() transaction.ConnectorKind { return transaction.KindEcommerce }

func (a *EcommerceAdapter) Fetch(ctx context.Context, filters FetchFilters, page Page) ([]Native, error) {
	if a.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	return a.Fetcher(ctx, filters, page)
}

func (a *EcommerceAdapter) ToUniversal(native Native) (*transaction.UniversalTransaction, error) {
	f := native.Fields

	id := probeString(f, "order_id", "order_number", "id")
	if id == "" {
		return nil, errors.New("ecommerce payload has no order identifier")
	}

	amount, ok := probeAmount(f, "total_kobo", "total_cents", "order_total", "total", "amount")
	if !ok {
		return nil, errors.New("ecommerce payload has no order total")
	}

	ts, fellBack := probeTimestamp(f, a.Now, "placed_at", "order_date", "created_at", "timestamp")

	desc := probeString(f, "description", "items_summary")
	if desc == "" {
		desc = fallbackDescription(transaction.KindEcommerce, id)
	}

	physical := probeBool(f, "physical_goods", "requires_shipping")

	tx := &transaction.UniversalTransaction{
		ID:          id,
		Amount:      amount,
		Currency:    probeCurrency(f, "currency"),
		Timestamp:   ts,
		Description: desc,
		AccountID:   probeString(f, "customer_id", "account_id"),
		ExternalRef: probeString(f, "payment_ref", "external_ref"),
		Kind:        transaction.KindEcommerce,
		Ecommerce: &transaction.EcommerceMetadata{
			OrderID:         id,
			CustomerEmail:   probeString(f, "customer_email", "email"),
			ShippingAddress: probeString(f, "shipping_address"),
			PhysicalGoods:   physical,
			FulfilmentState: probeString(f, "fulfilment_state", "fulfillment_status"),
		},
		Customer: transaction.CustomerPayload{
			Name:    probeString(f, "customer_name"),
			Email:   probeString(f, "customer_email", "email"),
			Phone:   probeString(f, "customer_phone", "phone"),
			Address: probeString(f, "billing_address", "shipping_address"),
		},
		Source: transaction.SourceInfo{
			SourceSystem:      "ecommerce-" + a.Instance,
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

func (a *EcommerceAdapter) EnhanceResult(processed *transaction.ProcessedTransaction, native Native) (*EnrichedResult, error) {
	insights := map[string]string{}
	if m := processed.Ecommerce; m != nil && m.FulfilmentState != "" {
		insights["fulfilment_state"] = m.FulfilmentState
	}
	return &EnrichedResult{
		Processed: processed,
		VendorRef: probeString(native.Fields, "order_id", "id"),
		Insights:  insights,
	}, nil
}
