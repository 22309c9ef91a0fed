package transaction

import (
	"strconv"
	"time"
)

// Status is the terminal state of a pipeline run.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusRequiresReview Status = "requires_review"
)

// RiskLevel buckets a fraud score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelFromScore buckets a score in [0,1] into a risk level.
// Thresholds: low <0.3, medium <0.6, high <0.85, critical >=0.85.
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score < 0.3:
		return RiskLow
	case score < 0.6:
		return RiskMedium
	case score < 0.85:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// rank orders risk levels for max() comparisons.
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 0
}

// Max returns the higher of two risk levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

// ComplianceLevel is the aggregated Nigerian-compliance verdict.
type ComplianceLevel string

const (
	CompliantFull    ComplianceLevel = "compliant"
	CompliantPartial ComplianceLevel = "partial"
	NonCompliant     ComplianceLevel = "non_compliant"
)

// Severity grades a rule violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AtLeastError reports whether the severity is error or critical.
func (s Severity) AtLeastError() bool {
	return s == SeverityError || s == SeverityCritical
}

// Violation is a single business-rule or validation finding.
type Violation struct {
	RuleID   string   `json:"rule_id"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
	Current  string   `json:"current_value,omitempty"`
	Expected string   `json:"expected_value,omitempty"`
	Hint     string   `json:"remediation_hint,omitempty"`
}

// ValidationSummary counts validation issues by severity.
type ValidationSummary struct {
	Valid     bool `json:"valid"`
	Infos     int  `json:"infos"`
	Warnings  int  `json:"warnings"`
	Errors    int  `json:"errors"`
	Criticals int  `json:"criticals"`
}

// Summarize builds a ValidationSummary from a violation list.
func Summarize(violations []Violation) ValidationSummary {
	s := ValidationSummary{Valid: true}
	for _, v := range violations {
		switch v.Severity {
		case SeverityInfo:
			s.Infos++
		case SeverityWarning:
			s.Warnings++
		case SeverityError:
			s.Errors++
			s.Valid = false
		case SeverityCritical:
			s.Criticals++
			s.Valid = false
		}
	}
	return s
}

// RiskAssessment is the amount-validation stage output.
type RiskAssessment struct {
	Score   float64   `json:"score"`
	Level   RiskLevel `json:"level"`
	Reasons []string  `json:"reasons,omitempty"`
}

// Enrichment is populated by the enrichment stage.
type Enrichment struct {
	CustomerID      string          `json:"customer_id,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	MerchantName    string          `json:"merchant_name,omitempty"`
	PrimaryCategory string          `json:"primary_category,omitempty"`
	BusinessPurpose string          `json:"business_purpose,omitempty"`
	Compliance      ComplianceLevel `json:"nigerian_compliance,omitempty"`
	RegulatoryFlags []string        `json:"regulatory_flags,omitempty"`

	RegistrationVerified  bool `json:"company_registration_verified"`
	TaxComplianceVerified bool `json:"tax_compliance_verified"`
}

// ProcessingMeta records how the pipeline run went.
type ProcessingMeta struct {
	PipelineVersion string                   `json:"pipeline_version"`
	Profile         string                   `json:"profile"`
	StartedAt       time.Time                `json:"started_at"`
	CompletedAt     time.Time                `json:"completed_at"`
	StageLatencies  map[string]time.Duration `json:"stage_latencies"`
	Confidence      float64                  `json:"confidence"`
	RiskLevel       RiskLevel                `json:"risk_level"`
	Notes           []string                 `json:"notes,omitempty"`
	FraudIndicators []string                 `json:"fraud_indicators,omitempty"`
}

// ProcessedTransaction is the pipeline output. It embeds the input transaction
// and becomes immutable once Status reaches completed or failed.
type ProcessedTransaction struct {
	UniversalTransaction

	TenantID string `json:"tenant_id"`
	Status   Status `json:"status"`

	Meta        ProcessingMeta    `json:"processing_meta"`
	Enrichment  Enrichment        `json:"enrichment"`
	Validation  ValidationSummary `json:"validation"`
	Violations  []Violation       `json:"violations,omitempty"`
	DuplicateOf string            `json:"duplicate_of,omitempty"`
	Risk        RiskAssessment    `json:"risk_assessment"`

	ReadyForInvoice bool   `json:"ready_for_invoice"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// HasCriticalViolation reports whether any recorded violation is critical.
func (p *ProcessedTransaction) HasCriticalViolation() bool {
	for _, v := range p.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// AddNote appends a processing note.
func (p *ProcessedTransaction) AddNote(note string) {
	p.Meta.Notes = append(p.Meta.Notes, note)
}

// Fingerprint is the fuzzy duplicate key: amount rounded to two places,
// counterparty, and a timestamp bucket of the given width aligned to the Unix
// epoch.
func Fingerprint(t *UniversalTransaction, bucket time.Duration) string {
	counterparty := t.AccountID
	if counterparty == "" && t.Banking != nil {
		counterparty = t.Banking.Counterparty
	}
	if counterparty == "" {
		counterparty = t.Customer.Name
	}
	b := t.Timestamp.Unix() / int64(bucket.Seconds())
	return t.Amount.Round(2).String() + "|" + counterparty + "|" + strconv.FormatInt(b, 10)
}
