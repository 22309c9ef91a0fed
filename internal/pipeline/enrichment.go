package pipeline

import (
	"context"

	"github.com/taxpoynt/platform/internal/connector"
	"github.com/taxpoynt/platform/internal/matching"
	"github.com/taxpoynt/platform/internal/transaction"
)

// Matcher is the customer-resolution surface the enrichment stage calls.
// Satisfied by *matching.Engine.
type Matcher interface {
	Resolve(ctx context.Context, tenantID string, tx *transaction.UniversalTransaction) (*matching.MatchResult, error)
}

// EnrichmentStage populates the resolved customer identity, merchant from
// the pattern stage, the aggregated Nigerian-compliance level, and the
// regulatory flag set.
type EnrichmentStage struct {
	Matcher Matcher
}

func NewEnrichmentStage(matcher Matcher) *EnrichmentStage {
	return &EnrichmentStage{Matcher: matcher}
}

func (s *EnrichmentStage) Stage() Stage { return StageEnrichment }

func (s *EnrichmentStage) Execute(ctx context.Context, run *Run) (Result, error) {
	res := Result{Stage: StageEnrichment, Outcome: OutcomePassed}
	enrichment := &run.Out.Enrichment

	if s.Matcher != nil && !run.Tx.Customer.Empty() {
		match, err := s.Matcher.Resolve(ctx, run.TenantID, run.Tx)
		if err != nil {
			return res, err
		}
		if match != nil {
			enrichment.CustomerID = match.Identity.UniversalID
			enrichment.CustomerName = match.Identity.PrimaryName
			if match.ManualReview {
				res.Outcome = OutcomeManualReview
				res.Notes = append(res.Notes, "customer match requires manual review")
			}
		}
	}

	pattern := run.result(StagePattern)
	enrichment.PrimaryCategory = pattern.Category
	enrichment.BusinessPurpose = pattern.BusinessPurpose
	enrichment.MerchantName = pattern.Merchant

	rules := run.result(StageRules)
	enrichment.Compliance = complianceLevel(rules.Violations)

	enrichment.RegulatoryFlags = regulatoryFlags(run.Tx.Kind, rules.Violations)

	return res, nil
}

// complianceLevel aggregates the rule outcome: compliant with no violations,
// partial with warnings only, non-compliant otherwise.
func complianceLevel(violations []transaction.Violation) transaction.ComplianceLevel {
	if len(violations) == 0 {
		return transaction.CompliantFull
	}
	for _, v := range violations {
		if v.Severity.AtLeastError() {
			return transaction.NonCompliant
		}
	}
	return transaction.CompliantPartial
}

// regulatoryFlags is the union of the connector's required regimes and any
// violation-triggered flags.
func regulatoryFlags(kind transaction.ConnectorKind, violations []transaction.Violation) []string {
	seen := make(map[string]bool)
	var flags []string
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			flags = append(flags, f)
		}
	}
	for _, regime := range connector.CharacteristicsFor(kind).ComplianceRegimes {
		add(regime)
	}
	for _, v := range violations {
		switch v.RuleID {
		case "FOREIGN_CURRENCY_REVIEW":
			add("CBN_REVIEW")
		case "LARGE_CASH_TRANSACTION":
			add("AML_REVIEW")
		case "TIN_REQUIRED", "VAT_RATE_VALIDATION":
			add("FIRS_REVIEW")
		}
	}
	return flags
}
