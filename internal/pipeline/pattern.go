package pipeline

import (
	"context"
	"strings"
	"unicode"
)

// phraseEntry maps a description token to a category with a weight, plus an
// optional business purpose and merchant identity.
type phraseEntry struct {
	category string
	purpose  string
	merchant string
	weight   float64
}

// phraseIndex is the static classifier vocabulary: common Nigerian business
// transaction terms. Purely in-memory, no network or model calls.
var phraseIndex = map[string][]phraseEntry{
	"fuel":        {{category: "transport", purpose: "fleet fuelling", weight: 1.0}},
	"diesel":      {{category: "transport", purpose: "generator fuelling", weight: 1.0}},
	"petrol":      {{category: "transport", purpose: "fleet fuelling", weight: 1.0}},
	"transport":   {{category: "transport", purpose: "logistics", weight: 0.9}},
	"logistics":   {{category: "transport", purpose: "logistics", weight: 0.9}},
	"haulage":     {{category: "transport", purpose: "logistics", weight: 0.9}},
	"rent":        {{category: "facilities", purpose: "office rent", weight: 1.0}},
	"lease":       {{category: "facilities", purpose: "office rent", weight: 0.8}},
	"electricity": {{category: "utilities", purpose: "power", weight: 1.0}},
	"nepa":        {{category: "utilities", purpose: "power", weight: 1.0}},
	"phcn":        {{category: "utilities", purpose: "power", weight: 1.0}},
	"water":       {{category: "utilities", purpose: "water supply", weight: 0.8}},
	"airtime":     {{category: "telecoms", purpose: "communications", weight: 1.0}},
	"data":        {{category: "telecoms", purpose: "communications", weight: 0.7}},
	"mtn":         {{category: "telecoms", purpose: "communications", merchant: "MTN Nigeria", weight: 1.0}},
	"glo":         {{category: "telecoms", purpose: "communications", merchant: "Globacom", weight: 1.0}},
	"airtel":      {{category: "telecoms", purpose: "communications", merchant: "Airtel Nigeria", weight: 1.0}},
	"salary":      {{category: "payroll", purpose: "staff salaries", weight: 1.0}},
	"salaries":    {{category: "payroll", purpose: "staff salaries", weight: 1.0}},
	"wages":       {{category: "payroll", purpose: "staff salaries", weight: 1.0}},
	"pension":     {{category: "payroll", purpose: "pension remittance", weight: 0.9}},
	"paye":        {{category: "statutory", purpose: "PAYE remittance", weight: 1.0}},
	"vat":         {{category: "statutory", purpose: "VAT remittance", weight: 0.9}},
	"firs":        {{category: "statutory", purpose: "tax remittance", weight: 1.0}},
	"invoice":     {{category: "sales", purpose: "customer invoice", weight: 0.8}},
	"sales":       {{category: "sales", purpose: "goods sold", weight: 0.9}},
	"pos":         {{category: "sales", purpose: "retail sale", weight: 0.7}},
	"transfer":    {{category: "banking", purpose: "funds transfer", weight: 0.6}},
	"withdrawal":  {{category: "banking", purpose: "cash withdrawal", weight: 0.8}},
	"deposit":     {{category: "banking", purpose: "cash deposit", weight: 0.8}},
	"hotel":       {{category: "travel", purpose: "accommodation", weight: 1.0}},
	"flight":      {{category: "travel", purpose: "air travel", weight: 1.0}},
	"restaurant":  {{category: "entertainment", purpose: "meals", weight: 0.9}},
	"stationery":  {{category: "supplies", purpose: "office supplies", weight: 1.0}},
	"equipment":   {{category: "capital", purpose: "equipment purchase", weight: 0.8}},
	"maintenance": {{category: "facilities", purpose: "repairs", weight: 0.8}},
	"insurance":   {{category: "insurance", purpose: "premium", weight: 1.0}},
	"consulting":  {{category: "services", purpose: "professional services", weight: 0.9}},
	"legal":       {{category: "services", purpose: "legal fees", weight: 0.9}},
	"audit":       {{category: "services", purpose: "audit fees", weight: 0.9}},
}

// Category assignment thresholds: top weight share must reach topThreshold
// and beat the runner-up by at least marginThreshold.
const (
	topThreshold    = 0.4
	marginThreshold = 0.15
)

// PatternStage classifies the transaction description against the static
// phrase index. Deterministic; an unclassified description is still a clean
// pass.
type PatternStage struct{}

func NewPatternStage() *PatternStage { return &PatternStage{} }

func (s *PatternStage) Stage() Stage { return StagePattern }

func (s *PatternStage) Execute(_ context.Context, run *Run) (Result, error) {
	res := Result{Stage: StagePattern, Outcome: OutcomePassed}

	tokens := tokenize(run.Tx.Description)
	if len(tokens) == 0 {
		return res, nil
	}

	type tally struct {
		weight   float64
		purpose  string
		merchant string
	}
	byCategory := make(map[string]*tally)
	for _, tok := range tokens {
		for _, entry := range phraseIndex[tok] {
			t, ok := byCategory[entry.category]
			if !ok {
				t = &tally{}
				byCategory[entry.category] = t
			}
			t.weight += entry.weight
			if t.purpose == "" {
				t.purpose = entry.purpose
			}
			if entry.merchant != "" && t.merchant == "" {
				t.merchant = entry.merchant
			}
		}
	}
	if len(byCategory) == 0 {
		return res, nil
	}

	var top, runnerUp string
	var topW, runnerW float64
	for cat, t := range byCategory {
		share := t.weight / float64(len(tokens))
		switch {
		case share > topW:
			runnerUp, runnerW = top, topW
			top, topW = cat, share
		case share > runnerW:
			runnerUp, runnerW = cat, share
		}
	}
	_ = runnerUp

	if topW >= topThreshold && topW-runnerW >= marginThreshold {
		res.Category = top
		res.BusinessPurpose = byCategory[top].purpose
		res.Merchant = byCategory[top].merchant
	}
	return res, nil
}

// tokenize lowercases, strips punctuation, and splits on whitespace.
func tokenize(description string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(description) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}
