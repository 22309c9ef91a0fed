package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// Native is a decoded vendor payload. Adapters probe it by field name; the
// undecoded bytes travel alongside so the raw payload survives verbatim.
type Native struct {
	Fields map[string]interface{}
	Raw    json.RawMessage
}

// DecodeNative parses raw vendor bytes into a Native payload.
func DecodeNative(raw []byte) (Native, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Native{}, fmt.Errorf("decode native payload: %w", err)
	}
	return Native{Fields: fields, Raw: json.RawMessage(raw)}, nil
}

// FetchFilters narrows what an adapter pulls from the vendor.
type FetchFilters struct {
	Since   time.Time
	Until   time.Time
	Account string
}

// Page is connector-neutral paging.
type Page struct {
	Offset int
	Limit  int
}

// EnrichedResult merges pipeline output with vendor-specific insight.
type EnrichedResult struct {
	Processed *transaction.ProcessedTransaction `json:"processed"`
	VendorRef string                            `json:"vendor_ref,omitempty"`
	Insights  map[string]string                 `json:"insights,omitempty"`
}

// Adapter is the contract every connector implements. ToUniversal must be a
// pure function of the native payload; Fetch is the only place vendor I/O may
// happen.
type Adapter interface {
	Kind() transaction.ConnectorKind
	Fetch(ctx context.Context, filters FetchFilters, page Page) ([]Native, error)
	ToUniversal(native Native) (*transaction.UniversalTransaction, error)
	EnhanceResult(processed *transaction.ProcessedTransaction, native Native) (*EnrichedResult, error)
}

// Processor is the pipeline surface an adapter drives. Satisfied by
// pipeline.Processor.
type Processor interface {
	Process(ctx context.Context, tx *transaction.UniversalTransaction) (*transaction.ProcessedTransaction, error)
}

// BatchStats summarizes a FetchAndProcess run.
type BatchStats struct {
	Fetched   int `json:"fetched"`
	Converted int `json:"converted"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// BatchOutput is the collaborator contract for fetchAndProcess.
type BatchOutput struct {
	Raw       []Native         `json:"-"`
	Processed []*EnrichedResult `json:"processed"`
	Errors    []string         `json:"errors,omitempty"`
	Stats     BatchStats       `json:"stats"`
}

// FetchAndProcess pulls a page of vendor payloads, converts each to the
// universal model, runs it through the pipeline, and re-attaches vendor
// insight. Conversion and processing failures are collected per item; the
// batch never aborts as a whole.
func FetchAndProcess(ctx context.Context, a Adapter, proc Processor, filters FetchFilters, page Page) (*BatchOutput, error) {
	natives, err := a.Fetch(ctx, filters, page)
	if err != nil {
		return nil, fmt.Errorf("connector %s fetch: %w", a.Kind(), err)
	}

	out := &BatchOutput{Raw: natives}
	out.Stats.Fetched = len(natives)

	for _, native := range natives {
		tx, err := a.ToUniversal(native)
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
			out.Stats.Failed++
			continue
		}
		out.Stats.Converted++

		processed, err := proc.Process(ctx, tx)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", tx.ID, err))
			out.Stats.Failed++
			continue
		}

		enriched, err := a.EnhanceResult(processed, native)
		if err != nil {
			// Enhancement is best-effort; the processed result stands.
			log.Printf("[CONNECTOR] enhance failed for %s: %v", tx.ID, err)
			enriched = &EnrichedResult{Processed: processed}
		}
		out.Processed = append(out.Processed, enriched)
		out.Stats.Processed++
	}

	return out, nil
}
