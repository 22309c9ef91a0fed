package pipeline

import (
	"context"
	"time"

	"github.com/taxpoynt/platform/internal/transaction"
)

// Outcome is a stage's verdict. Business issues are carried in the result;
// stages return an error only for infrastructure failures.
type Outcome string

const (
	OutcomePassed       Outcome = "passed"
	OutcomeWarning      Outcome = "warning"
	OutcomeFailed       Outcome = "failed"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeManualReview Outcome = "manual_review"
)

// Result is the per-stage output collected by the orchestrator.
type Result struct {
	Stage      Stage
	Outcome    Outcome
	Violations []transaction.Violation
	Notes      []string
	Elapsed    time.Duration

	// DuplicateOf carries the prior transaction id on a duplicate hit.
	DuplicateOf string

	// Risk is set by the amount stage.
	Risk *transaction.RiskAssessment

	// Category, BusinessPurpose and Merchant are set by the pattern stage.
	Category        string
	BusinessPurpose string
	Merchant        string
}

// Score maps the outcome to the finalization sub-score: 1 for clean, 0.5
// for warnings, 0 for skipped or failed.
func (r Result) Score() float64 {
	switch r.Outcome {
	case OutcomePassed:
		return 1.0
	case OutcomeWarning, OutcomeManualReview:
		return 0.5
	default:
		return 0.0
	}
}

// Run is the mutable state threaded through one transaction's pipeline run.
type Run struct {
	TenantID string
	Profile  *Profile
	Tx       *transaction.UniversalTransaction
	Out      *transaction.ProcessedTransaction

	// Results of completed stages, keyed by stage.
	Results map[Stage]Result

	// SubmittedAt anchors the per-transaction deadline.
	SubmittedAt time.Time
}

// result returns a completed stage's result; absent stages read as skipped.
func (r *Run) result(s Stage) Result {
	if res, ok := r.Results[s]; ok {
		return res
	}
	return Result{Stage: s, Outcome: OutcomeSkipped}
}

// Executor is the common stage contract. Execute returns a Result for
// business outcomes and an error only for infrastructure failures, which the
// orchestrator converts into a failed Result.
type Executor interface {
	Stage() Stage
	Execute(ctx context.Context, run *Run) (Result, error)
}

// defaulter is implemented by executors that can fill stage-specific
// defaults before a retry-with-defaults re-run.
type defaulter interface {
	ApplyDefaults(run *Run)
}
