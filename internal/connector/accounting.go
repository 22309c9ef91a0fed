package connector

import (
	"context"
	"errors"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// AccountingAdapter converts journal entries into universal transactions.
type AccountingAdapter struct {
	Instance string
	Fetcher  FetchFunc
	Now      func() time.Time
}

func NewAccountingAdapter(instance string, fetcher FetchFunc) *AccountingAdapter {
	return &AccountingAdapter{Instance: instance, Fetcher: fetcher, Now: time.Now}
}

func (a *AccountingAdapter) Kind() transaction.ConnectorKind { return transaction.KindAccounting }

func (a *AccountingAdapter) Fetch(ctx context.Context, filters FetchFilters, page Page) ([]Native, error) {
	if a.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	return a.Fetcher(ctx, filters, page)
}

func (a *AccountingAdapter) ToUniversal(native Native) (*transaction.UniversalTransaction, error) {
	f := native.Fields

	id := probeString(f, "journal_id", "entry_id", "id")
	if id == "" {
		return nil, errors.New("accounting payload has no journal identifier")
	}

	amount, ok := probeAmount(f, "amount_kobo", "amount_cents", "amount")
	if !ok {
		return nil, errors.New("accounting payload has no amount")
	}

	ts, fellBack := probeTimestamp(f, a.Now, "entry_date", "posted_at", "timestamp")

	desc := probeString(f, "memo", "description")
	if desc == "" {
		desc = fallbackDescription(transaction.KindAccounting, id)
	}

	tx := &transaction.UniversalTransaction{
		ID:          id,
		Amount:      amount,
		Currency:    probeCurrency(f, "currency"),
		Timestamp:   ts,
		Description: desc,
		Kind:        transaction.KindAccounting,
		Accounting: &transaction.AccountingMetadata{
			JournalID:     id,
			DebitAccount:  probeString(f, "debit_account", "dr_account"),
			CreditAccount: probeString(f, "credit_account", "cr_account"),
			Memo:          probeString(f, "memo"),
		},
		Customer: transaction.CustomerPayload{
			Name:        probeString(f, "customer_name", "party"),
			BusinessIDs: probeBusinessIDs(f),
		},
		Source: transaction.SourceInfo{
			SourceSystem:      "accounting-" + a.Instance,
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

func (a *AccountingAdapter) EnhanceResult(processed *transaction.ProcessedTransaction, native Native) (*EnrichedResult, error) {
	insights := map[string]string{}
	if m := processed.Accounting; m != nil && m.DebitAccount != "" && m.CreditAccount != "" {
		insights["double_entry"] = m.DebitAccount + "/" + m.CreditAccount
	}
	return &EnrichedResult{
		Processed: processed,
		VendorRef: probeString(native.Fields, "journal_id", "id"),
		Insights:  insights,
	}, nil
}
