package connector

import (
	"context"
	"errors"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// CRMAdapter converts closed-won CRM deals into universal transactions.
type CRMAdapter struct {
	Instance string
	Fetcher  FetchFunc
	Now      func() time.Time
}

func NewCRMAdapter(instance string, fetcher FetchFunc) *CRMAdapter {
	return &CRMAdapter{Instance: instance, Fetcher: fetcher, Now: time.Now}
}

func (a *CRMAdapter) Kind() transaction.ConnectorKind { return transaction.KindCRM }

func (a *CRMAdapter) Fetch(ctx context.Context, filters FetchFilters, page Page) ([]Native, error) {
	if a.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	return a.Fetcher(ctx, filters, page)
}

func (a *CRMAdapter) ToUniversal(native Native) (*transaction.UniversalTransaction, error) {
	f := native.Fields

	id := probeString(f, "deal_id", "opportunity_id", "id")
	if id == "" {
		return nil, errors.New("crm payload has no deal identifier")
	}

	amount, ok := probeAmount(f, "deal_value_kobo", "deal_value", "amount")
	if !ok {
		return nil, errors.New("crm payload has no deal value")
	}

	ts, fellBack := probeTimestamp(f, a.Now, "closed_at", "close_date", "timestamp")

	desc := probeString(f, "deal_name", "description")
	if desc == "" {
		desc = fallbackDescription(transaction.KindCRM, id)
	}

	tx := &transaction.UniversalTransaction{
		ID:          id,
		Amount:      amount,
		Currency:    probeCurrency(f, "currency"),
		Timestamp:   ts,
		Description: desc,
		ExternalRef: probeString(f, "quote_id", "external_ref"),
		Kind:        transaction.KindCRM,
		CRM: &transaction.CRMMetadata{
			DealID:       id,
			DealStage:    probeString(f, "stage", "deal_stage"),
			CustomerName: probeString(f, "company_name", "customer_name", "contact_name"),
			ContactEmail: probeString(f, "contact_email", "email"),
			ContactPhone: probeString(f, "contact_phone", "phone"),
			OwnerID:      probeString(f, "owner_id"),
		},
		Customer: transaction.CustomerPayload{
			Name:        probeString(f, "company_name", "customer_name", "contact_name"),
			Email:       probeString(f, "contact_email", "email"),
			Phone:       probeString(f, "contact_phone", "phone"),
			Address:     probeString(f, "billing_address", "address"),
			BusinessIDs: probeBusinessIDs(f),
		},
		Source: transaction.SourceInfo{
			SourceSystem:      "crm-" + a.Instance,
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

func (a *CRMAdapter) EnhanceResult(processed *transaction.ProcessedTransaction, native Native) (*EnrichedResult, error) {
	insights := map[string]string{}
	if m := processed.CRM; m != nil && m.DealStage != "" {
		insights["deal_stage"] = m.DealStage
	}
	return &EnrichedResult{
		Processed: processed,
		VendorRef: probeString(native.Fields, "deal_id", "id"),
		Insights:  insights,
	}, nil
}
