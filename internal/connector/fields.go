package connector

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxpoynt/platform/internal/transaction"
)

// probeString returns the first non-empty string among the candidate fields,
// in priority order.
func probeString(fields map[string]interface{}, candidates ...string) string {
	for _, key := range candidates {
		if v, ok := fields[key]; ok {
			switch s := v.(type) {
			case string:
				if strings.TrimSpace(s) != "" {
					return s
				}
			case float64:
				return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", s), "0"), ".")
			}
		}
	}
	return ""
}

// probeBool returns the first boolean among the candidate fields.
func probeBool(fields map[string]interface{}, candidates ...string) bool {
	for _, key := range candidates {
		if v, ok := fields[key].(bool); ok {
			return v
		}
	}
	return false
}

// probeAmount resolves a money value. Candidates suffixed with "_cents" or
// "_kobo" (or listed in minorUnit) are integer minor units and are divided by
// 100 with banker's rounding; everything else is taken at face value and
// bank-rounded to two places.
func probeAmount(fields map[string]interface{}, candidates ...string) (decimal.Decimal, bool) {
	for _, key := range candidates {
		v, ok := fields[key]
		if !ok {
			continue
		}
		minor := strings.HasSuffix(key, "_cents") || strings.HasSuffix(key, "_kobo") || strings.HasSuffix(key, "_minor")
		var d decimal.Decimal
		switch n := v.(type) {
		case float64:
			d = decimal.NewFromFloat(n)
		case string:
			parsed, err := decimal.NewFromString(strings.ReplaceAll(n, ",", ""))
			if err != nil {
				continue
			}
			d = parsed
		default:
			continue
		}
		if minor {
			d = d.DivRound(decimal.NewFromInt(100), 4)
		}
		return d.RoundBank(2), true
	}
	return decimal.Zero, false
}

// timestampFormats are tried in order; all are ISO-8601 shapes with and
// without timezone.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// probeTimestamp parses the first parseable timestamp among the candidates.
// When nothing parses it falls back to now-UTC and reports fallback=true so
// the adapter can record a processing hint.
func probeTimestamp(fields map[string]interface{}, now func() time.Time, candidates ...string) (ts time.Time, fallback bool) {
	for _, key := range candidates {
		s, ok := fields[key].(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range timestampFormats {
			if t, err := time.Parse(layout, s); err == nil {
				return t, false
			}
		}
	}
	return now().UTC(), true
}

// probeCurrency returns an uppercased currency code, defaulting to NGN.
func probeCurrency(fields map[string]interface{}, candidates ...string) string {
	if c := probeString(fields, candidates...); c != "" {
		return strings.ToUpper(strings.TrimSpace(c))
	}
	return transaction.DefaultCurrency
}

// fallbackDescription builds the "<kind> <identifier>" default description.
func fallbackDescription(kind transaction.ConnectorKind, id string) string {
	return string(kind) + " " + id
}
