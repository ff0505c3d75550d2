package quality

import (
	"context"
	"fmt"
	"log/slog"

	"portex/pkg/contracts/domain"
)

// GateConfig holds the quality gate thresholds.
type GateConfig struct {
	// AccuracyThreshold is the minimum accuracy score a run must reach
	// to pass without review. Callers may raise or lower it per request.
	AccuracyThreshold float64 `envconfig:"ACCURACY_THRESHOLD" default:"0.999"`
}

// DefaultGateConfig returns the production gate thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{AccuracyThreshold: 0.999}
}

// Decision is the gate's terminal outcome for one run.
type Decision struct {
	State  domain.GateState
	Grade  domain.QualityGrade
	Issues []domain.Issue
}

// RequiresHumanReview reports whether the run must go to manual review.
func (d *Decision) RequiresHumanReview() bool {
	return d.State == domain.GateEscalated
}

// Gate decides whether a validated run is accepted or escalated for
// manual review. The gate has exactly one transition per run: PENDING
// moves to PASSED or ESCALATED and stays there; there are no retries
// inside the gate itself.
type Gate struct {
	config GateConfig
	logger *slog.Logger
}

// NewGate creates a gate with the given thresholds.
func NewGate(config GateConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		config: config,
		logger: logger.With(slog.String("component", "quality_gate")),
	}
}

// Evaluate applies the transition rule to a validation report. A run
// passes iff the accuracy score, when known, meets the threshold and no
// critical issues were recorded; anything else escalates, carrying the
// full issue list. An unknown accuracy score does not block passing on
// its own.
//
// threshold overrides the configured accuracy threshold when positive.
func (g *Gate) Evaluate(ctx context.Context, report *domain.ValidationReport, threshold float64) *Decision {
	if threshold <= 0 {
		threshold = g.config.AccuracyThreshold
	}

	issues := make([]domain.Issue, len(report.Issues))
	copy(issues, report.Issues)

	accuracyKnown := report.AccuracyScore != nil
	accuracyMet := !accuracyKnown || *report.AccuracyScore >= threshold
	if accuracyKnown && !accuracyMet {
		issues = append(issues, domain.Issue{
			Severity: domain.SeverityCritical,
			Type:     domain.IssueAccuracyBelowTarget,
			Message:  fmt.Sprintf("accuracy %.4f below required %.4f", *report.AccuracyScore, threshold),
		})
	}

	state := domain.GatePassed
	if !accuracyMet || criticalCount(issues) > 0 {
		state = domain.GateEscalated
	}

	decision := &Decision{
		State:  state,
		Grade:  grade(issues),
		Issues: issues,
	}

	g.logger.InfoContext(ctx, "gate decision",
		slog.String("state", string(state)),
		slog.String("grade", string(decision.Grade)),
		slog.Float64("threshold", threshold),
		slog.Int("issues", len(issues)))
	return decision
}

func criticalCount(issues []domain.Issue) int {
	n := 0
	for _, is := range issues {
		if is.Severity == domain.SeverityCritical {
			n++
		}
	}
	return n
}

// Severity deductions from a 100-point score. The grade is advisory; it
// never alters the security data or the gate state.
const (
	deductCritical = 30
	deductHigh     = 10
	deductMedium   = 5
	deductLow      = 2
)

func grade(issues []domain.Issue) domain.QualityGrade {
	points := 100
	for _, is := range issues {
		switch is.Severity {
		case domain.SeverityCritical:
			points -= deductCritical
		case domain.SeverityHigh:
			points -= deductHigh
		case domain.SeverityMedium:
			points -= deductMedium
		case domain.SeverityLow:
			points -= deductLow
		}
	}

	switch {
	case points >= 97:
		return domain.GradeAPlus
	case points >= 93:
		return domain.GradeA
	case points >= 90:
		return domain.GradeAMinus
	case points >= 80:
		return domain.GradeB
	case points >= 65:
		return domain.GradeC
	default:
		return domain.GradeF
	}
}
