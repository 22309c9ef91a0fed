package pipeline

import (
	"context"

	"github.com/taxpoynt/platform/internal/transaction"
)

// FinalizeStage computes the aggregate confidence, the terminal risk level,
// and the ready-for-invoice flag, then seals the processed transaction.
type FinalizeStage struct{}

func NewFinalizeStage() *FinalizeStage { return &FinalizeStage{} }

func (s *FinalizeStage) Stage() Stage { return StageFinalize }

func (s *FinalizeStage) Execute(_ context.Context, run *Run) (Result, error) {
	res := Result{Stage: StageFinalize, Outcome: OutcomePassed}
	p := run.Profile
	out := run.Out

	confidence := p.WeightValidation*run.result(StageValidation).Score() +
		p.WeightAmount*run.result(StageAmount).Score() +
		p.WeightPattern*run.result(StagePattern).Score()
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	out.Meta.Confidence = confidence

	// Risk = max of the amount-stage level and the rule-derived level.
	level := transaction.RiskLow
	if amount := run.result(StageAmount); amount.Risk != nil {
		level = amount.Risk.Level
		out.Risk = *amount.Risk
	} else {
		out.Risk = transaction.RiskAssessment{Level: transaction.RiskLow}
	}
	if out.HasCriticalViolation() {
		level = level.Max(transaction.RiskHigh)
	}
	out.Risk.Level = level
	out.Meta.RiskLevel = level

	out.Validation = transaction.Summarize(out.Violations)
	out.ReadyForInvoice = confidence >= p.MinConfidence && !out.HasCriticalViolation() && out.Validation.Errors == 0

	return res, nil
}
