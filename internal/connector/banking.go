package connector

import (
	"context"
	"errors"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// BankingAdapter converts bank statement lines into universal transactions.
type BankingAdapter struct {
	Instance string
	Fetcher  FetchFunc
	Now      func() time.Time
}

func NewBankingAdapter(instance string, fetcher FetchFunc) *BankingAdapter {
	return &BankingAdapter{Instance: instance, Fetcher: fetcher, Now: time.Now}
}

func (a *BankingAdapter) Kind() transaction.ConnectorKind { return transaction.KindBanking }

func (a *BankingAdapter) Fetch(ctx context.Context, filters FetchFilters, page Page) ([]Native, error) {
	if a.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	return a.Fetcher(ctx, filters, page)
}

func (a *BankingAdapter) ToUniversal(native Native) (*transaction.UniversalTransaction, error) {
	f := native.Fields

	id := probeString(f, "transaction_id", "statement_ref", "id")
	if id == "" {
		return nil, errors.New("banking payload has no transaction identifier")
	}

	amount, ok := probeAmount(f, "amount_kobo", "amount_minor", "amount")
	if !ok {
		return nil, errors.New("banking payload has no amount")
	}

	ts, fellBack := probeTimestamp(f, a.Now, "value_date", "transaction_date", "timestamp")

	desc := probeString(f, "narration", "description")
	if desc == "" {
		desc = fallbackDescription(transaction.KindBanking, id)
	}

	tx := &transaction.UniversalTransaction{
		ID:          id,
		Amount:      amount,
		Currency:    probeCurrency(f, "currency"),
		Timestamp:   ts,
		Description: desc,
		AccountID:   probeString(f, "account_number", "account_id"),
		ExternalRef: probeString(f, "bank_reference", "reference"),
		Kind:        transaction.KindBanking,
		Banking: &transaction.BankingMetadata{
			BankReference: probeString(f, "bank_reference", "reference"),
			AccountNumber: probeString(f, "account_number"),
			BankCode:      probeString(f, "bank_code"),
			Counterparty:  probeString(f, "counterparty", "beneficiary"),
			Narration:     probeString(f, "narration"),
		},
		Customer: transaction.CustomerPayload{
			Name:  probeString(f, "counterparty", "beneficiary"),
			Phone: probeString(f, "counterparty_phone"),
		},
		Source: transaction.SourceInfo{
			SourceSystem:      "banking-" + a.Instance,
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

func (a *BankingAdapter) EnhanceResult(processed *transaction.ProcessedTransaction, native Native) (*EnrichedResult, error) {
	insights := map[string]string{}
	if m := processed.Banking; m != nil && m.BankCode != "" {
		insights["bank_code"] = m.BankCode
	}
	return &EnrichedResult{
		Processed: processed,
		VendorRef: probeString(native.Fields, "bank_reference", "transaction_id", "id"),
		Insights:  insights,
	}, nil
}
