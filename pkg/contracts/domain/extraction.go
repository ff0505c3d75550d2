package domain

import (
	"github.com/shopspring/decimal"
)

// ExtractionRequest is the core-facing request shape submitted by the
// transport layer. Exactly one of DocumentBytes or DocumentText must be
// set.
type ExtractionRequest struct {
	DocumentBytes []byte           `json:"document_bytes,omitempty"`
	DocumentText  string           `json:"document_text,omitempty"`
	Filename      string           `json:"filename" validate:"required,max=255"`
	Options       ExtractionOptions `json:"options"`
}

// ExtractionOptions tunes one extraction run.
type ExtractionOptions struct {
	PreferredEngines  []string `json:"preferred_engines,omitempty" validate:"omitempty,dive,oneof=table window assisted"`
	AccuracyThreshold *float64 `json:"accuracy_threshold,omitempty" validate:"omitempty,min=0,max=1"`
}

// ExtractionMetadata summarizes how a run was processed.
type ExtractionMetadata struct {
	Institution      string       `json:"institution"`
	DocumentType     DocumentType `json:"document_type"`
	EnginesUsed      []string     `json:"engines_used"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
}

// ExtractionResponse is the complete result handed back to the caller:
// best-effort securities plus a trust signal, never a bare failure when
// any partial data exists.
type ExtractionResponse struct {
	Success             bool               `json:"success"`
	DocumentID          string             `json:"document_id"`
	Securities          []Security         `json:"securities"`
	PortfolioTotal      decimal.Decimal    `json:"portfolio_total"`
	AccuracyScore       *float64           `json:"accuracy_score"`
	QualityGrade        QualityGrade       `json:"quality_grade"`
	GateState           GateState          `json:"gate_state"`
	RequiresHumanReview bool               `json:"requires_human_review"`
	Issues              []Issue            `json:"issues"`
	Metadata            ExtractionMetadata `json:"metadata"`
}
