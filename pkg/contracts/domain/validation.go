package domain

import (
	"github.com/shopspring/decimal"
)

// IssueSeverity grades a validation finding. Severities are fixed
// categories; each contributes a deduction to the quality score but never
// alters the security data itself.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
)

// Issue types recorded by the validator and quality gate.
const (
	IssueTotalMismatch       = "total_mismatch"
	IssueUnverifiedID        = "unverified_identifier"
	IssuePriceInconsistency  = "price_inconsistency"
	IssueFxMismatch          = "fx_mismatch"
	IssueEngineUnavailable   = "engine_unavailable"
	IssueNoExpectedTotal     = "no_expected_total"
	IssueFusionConflict      = "fusion_conflict"
	IssueAccuracyBelowTarget = "accuracy_below_threshold"
)

// Issue is one validation finding attached to a run.
type Issue struct {
	Severity   IssueSeverity `json:"severity"`
	Type       string        `json:"type"`
	Message    string        `json:"message"`
	Identifier string        `json:"identifier,omitempty"`
}

// SecurityCheck holds the per-security outcomes of mathematical validation.
type SecurityCheck struct {
	Identifier       string `json:"identifier"`
	ChecksumPassed   bool   `json:"checksum_passed"`
	PriceConsistent  *bool  `json:"price_consistent,omitempty"`
	FxConsistent     *bool  `json:"fx_consistent,omitempty"`
}

// ValidationReport is the mathematical validator's output, consumed by the
// quality gate and then serialized to the caller.
type ValidationReport struct {
	ExtractedTotal decimal.Decimal  `json:"extracted_total"`
	ExpectedTotal  *decimal.Decimal `json:"expected_total,omitempty"`
	// AccuracyScore is nil when no expected total is known; the check is
	// then excluded from aggregate scoring, not treated as failing.
	AccuracyScore     *float64        `json:"accuracy_score,omitempty"`
	PerSecurityChecks []SecurityCheck `json:"per_security_checks"`
	Issues            []Issue         `json:"issues"`
}

// CriticalCount returns the number of critical issues in the report.
func (r *ValidationReport) CriticalCount() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// GateState is the quality gate's terminal decision for a run.
type GateState string

const (
	GatePending   GateState = "PENDING"
	GatePassed    GateState = "PASSED"
	GateEscalated GateState = "ESCALATED"
)

// QualityGrade is the human-readable letter grade derived from severity
// deductions.
type QualityGrade string

const (
	GradeAPlus  QualityGrade = "A+"
	GradeA      QualityGrade = "A"
	GradeAMinus QualityGrade = "A-"
	GradeB      QualityGrade = "B"
	GradeC      QualityGrade = "C"
	GradeF      QualityGrade = "F"
)
