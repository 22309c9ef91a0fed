// Package pipeline runs universal transactions through the staged processing
// DAG: validation, duplicate detection, fraud scoring, Nigerian business
// rules, pattern classification, enrichment, and finalization.
package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Stage enumerates the processing stages in canonical order. The order is
// also the tie-break for the topological sort.
type Stage int

const (
	StageRawInput Stage = iota
	StageValidation
	StageDuplicate
	StageAmount
	StageRules
	StagePattern
	StageEnrichment
	StageFinalize
)

var stageNames = map[Stage]string{
	StageRawInput:   "raw_input",
	StageValidation: "validation",
	StageDuplicate:  "duplicate_detection",
	StageAmount:     "amount_validation",
	StageRules:      "business_rules",
	StagePattern:    "pattern_matching",
	StageEnrichment: "enrichment",
	StageFinalize:   "finalization",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Requirement says whether a profile runs a stage at all.
type Requirement string

const (
	Required Requirement = "required"
	Optional Requirement = "optional"
	// Conditional stages are scheduled like Required ones; the admitting
	// predicate belongs to the profile that sets them. None of the canonical
	// profiles do.
	Conditional Requirement = "conditional"
	Skip        Requirement = "skip"
)

// FailureAction is what the orchestrator does when a stage fails.
type FailureAction string

const (
	ActionFailPipeline FailureAction = "fail_pipeline"
	ActionWarn         FailureAction = "continue_with_warning"
	ActionRetry        FailureAction = "retry_with_defaults"
	ActionManualReview FailureAction = "manual_review"
)

// StageConfig is a single stage's settings within a profile.
type StageConfig struct {
	Requirement Requirement
	OnFailure   FailureAction
	Retries     int // extra attempts for ActionRetry
	Timeout     time.Duration
}

// defaultStageTimeout bounds any single stage when the profile does not
// override it.
const defaultStageTimeout = 30 * time.Second

// Profile is a named tuple of pipeline settings tuned for a connector
// category.
type Profile struct {
	Name   string
	Stages map[Stage]StageConfig

	// Confidence weights for validation, amount, pattern sub-scores.
	WeightValidation float64
	WeightAmount     float64
	WeightPattern    float64

	// MaxWallTime is the per-transaction deadline from submission.
	MaxWallTime time.Duration

	// FuzzyWindow is the duplicate-detection timestamp bucket width.
	FuzzyWindow time.Duration

	// MinConfidence gates ready-for-invoice.
	MinConfidence float64

	// LowValueFloor short-circuits the amount stage: below it, risk is low
	// without further scoring.
	LowValueFloor decimal.Decimal
}

// ConfigError is an invalid pipeline configuration, surfaced at startup.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "pipeline config: " + e.Msg }

// stageDeps is the canonical dependency set over the stage enumeration.
// Enrichment needs both the rule outcome and the pattern classification;
// finalization needs everything that feeds the confidence score.
var stageDeps = map[Stage][]Stage{
	StageRawInput:   {},
	StageValidation: {StageRawInput},
	StageDuplicate:  {StageValidation},
	StageAmount:     {StageValidation},
	StageRules:      {StageValidation},
	StagePattern:    {StageValidation},
	StageEnrichment: {StageRules, StagePattern},
	StageFinalize:   {StageDuplicate, StageAmount, StageEnrichment},
}

// Canonical profile names.
const (
	ProfileEnterpriseERP  = "enterprise-erp"
	ProfileSmallBusiness  = "small-business"
	ProfileCustomerFacing = "customer-facing"
	ProfileFinancialData  = "financial-data"
)

func baseStages() map[Stage]StageConfig {
	return map[Stage]StageConfig{
		StageRawInput:   {Requirement: Required, OnFailure: ActionFailPipeline, Timeout: defaultStageTimeout},
		StagePattern:    {Requirement: Required, OnFailure: ActionWarn, Timeout: defaultStageTimeout},
		StageEnrichment: {Requirement: Required, OnFailure: ActionWarn, Timeout: defaultStageTimeout},
		StageFinalize:   {Requirement: Required, OnFailure: ActionFailPipeline, Timeout: defaultStageTimeout},
	}
}

// NewEnterpriseERPProfile is tuned for high-structure ERP feeds: duplicate
// checks optional, no fraud scoring, strict business rules.
func NewEnterpriseERPProfile() (*Profile, error) {
	stages := baseStages()
	stages[StageValidation] = StageConfig{Requirement: Required, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	stages[StageDuplicate] = StageConfig{Requirement: Optional, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	stages[StageAmount] = StageConfig{Requirement: Skip}
	stages[StageRules] = StageConfig{Requirement: Required, OnFailure: ActionFailPipeline, Timeout: defaultStageTimeout}
	return newProfile(ProfileEnterpriseERP, stages, 0.3, 0.1, 0.6, 180*time.Second, 24*time.Hour, decimal.NewFromInt(10_000))
}

// NewSmallBusinessProfile is the forgiving default for SME accounting feeds.
func NewSmallBusinessProfile() (*Profile, error) {
	stages := baseStages()
	stages[StageValidation] = StageConfig{Requirement: Required, OnFailure: ActionRetry, Retries: 1, Timeout: defaultStageTimeout}
	stages[StageDuplicate] = StageConfig{Requirement: Required, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	stages[StageAmount] = StageConfig{Requirement: Optional, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	stages[StageRules] = StageConfig{Requirement: Required, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	return newProfile(ProfileSmallBusiness, stages, 0.4, 0.2, 0.4, 90*time.Second, 12*time.Hour, decimal.NewFromInt(5_000))
}

// NewCustomerFacingProfile is tuned for POS and e-commerce volume: tight
// deadline, fraud scoring routed to manual review.
func NewCustomerFacingProfile() (*Profile, error) {
	stages := baseStages()
	stages[StageValidation] = StageConfig{Requirement: Required, OnFailure: ActionRetry, Retries: 2, Timeout: defaultStageTimeout}
	stages[StageDuplicate] = StageConfig{Requirement: Required, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	stages[StageAmount] = StageConfig{Requirement: Required, OnFailure: ActionManualReview, Timeout: defaultStageTimeout}
	stages[StageRules] = StageConfig{Requirement: Required, OnFailure: ActionWarn, Timeout: defaultStageTimeout}
	return newProfile(ProfileCustomerFacing, stages, 0.4, 0.4, 0.2, 60*time.Second, 4*time.Hour, decimal.NewFromInt(1_000))
}

// NewFinancialDataProfile is the strictest profile: duplicates fail the
// pipeline, fraud scoring always runs.
func NewFinancialDataProfile() (*Profile, error) {
	stages := baseStages()
	stages[StageValidation] = StageConfig{Requirement: Required, OnFailure: ActionRetry, Retries: 2, Timeout: defaultStageTimeout}
	stages[StageDuplicate] = StageConfig{Requirement: Required, OnFailure: ActionFailPipeline, Timeout: defaultStageTimeout}
	stages[StageAmount] = StageConfig{Requirement: Required, OnFailure: ActionManualReview, Timeout: defaultStageTimeout}
	stages[StageRules] = StageConfig{Requirement: Required, OnFailure: ActionFailPipeline, Timeout: defaultStageTimeout}
	return newProfile(ProfileFinancialData, stages, 0.3, 0.5, 0.2, 150*time.Second, 72*time.Hour, decimal.Zero)
}

// ProfileByName builds one of the four canonical profiles.
func ProfileByName(name string) (*Profile, error) {
	switch name {
	case ProfileEnterpriseERP:
		return NewEnterpriseERPProfile()
	case ProfileSmallBusiness:
		return NewSmallBusinessProfile()
	case ProfileCustomerFacing:
		return NewCustomerFacingProfile()
	case ProfileFinancialData:
		return NewFinancialDataProfile()
	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown profile %q", name)}
	}
}

func newProfile(name string, stages map[Stage]StageConfig, wv, wa, wp float64, wall, fuzzy time.Duration, lowValue decimal.Decimal) (*Profile, error) {
	p := &Profile{
		Name:             name,
		Stages:           stages,
		WeightValidation: wv,
		WeightAmount:     wa,
		WeightPattern:    wp,
		MaxWallTime:      wall,
		FuzzyWindow:      fuzzy,
		MinConfidence:    0.7,
		LowValueFloor:    lowValue,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// validate enforces the profile invariants: weight sum 1 ± 0.01, every
// non-skipped stage configured, acyclic dependency set.
func (p *Profile) validate() error {
	sum := p.WeightValidation + p.WeightAmount + p.WeightPattern
	if math.Abs(sum-1.0) > 0.01 {
		return &ConfigError{Msg: fmt.Sprintf("profile %s: confidence weights sum to %.3f, want 1.0", p.Name, sum)}
	}
	for stage := range stageDeps {
		cfg, ok := p.Stages[stage]
		if !ok {
			return &ConfigError{Msg: fmt.Sprintf("profile %s: stage %s not configured", p.Name, stage)}
		}
		if cfg.Requirement != Skip && cfg.Timeout <= 0 && stage != StageRawInput {
			return &ConfigError{Msg: fmt.Sprintf("profile %s: stage %s has no timeout", p.Name, stage)}
		}
	}
	if _, err := topoSort(stageDeps); err != nil {
		return err
	}
	return nil
}

// ExecutionOrder is the topologically sorted stage list for this profile,
// with skipped stages removed.
func (p *Profile) ExecutionOrder() ([]Stage, error) {
	order, err := topoSort(stageDeps)
	if err != nil {
		return nil, err
	}
	out := order[:0]
	for _, s := range order {
		if p.Stages[s].Requirement != Skip {
			out = append(out, s)
		}
	}
	return out, nil
}
