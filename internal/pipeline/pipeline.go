package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"portex/internal/engines"
	apperrors "portex/internal/errors"
	"portex/internal/extract"
	"portex/internal/fusion"
	"portex/internal/institution"
	"portex/internal/quality"
	"portex/pkg/contracts/domain"
)

// xlsxMagic is the ZIP local-file header; XLSX statements are ZIP
// containers.
var xlsxMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// Config tunes the orchestration of one run.
type Config struct {
	// StrategyTimeout bounds each extraction strategy. A strategy that
	// exceeds it is excluded from fusion, not fatal.
	StrategyTimeout time.Duration `envconfig:"STRATEGY_TIMEOUT" default:"30s"`
}

// DefaultConfig returns the production orchestration settings.
func DefaultConfig() Config {
	return Config{StrategyTimeout: 30 * time.Second}
}

// Deps wires the pipeline stages together. Classifier, Strategies,
// Merger, Validator and Gate are required; the rest are optional.
type Deps struct {
	Classifier *institution.Classifier
	Strategies []extract.Strategy
	Merger     *fusion.Merger
	Enhancer   *engines.Enhancer
	Validator  *quality.Validator
	Gate       *quality.Gate

	// Text serves requests that arrive with pre-extracted text.
	Text engines.ExtractionEngine
	// Spreadsheet serves XLSX documents.
	Spreadsheet engines.ExtractionEngine
	// OCR serves everything else (PDFs, scans) via a remote engine.
	// When nil, such documents are rejected as unreadable.
	OCR engines.ExtractionEngine

	Publisher Publisher
	Logger    *slog.Logger
}

// Pipeline runs one document through classification, candidate
// extraction, fusion, enhancement, validation and the quality gate.
type Pipeline struct {
	config Config
	deps   Deps
	logger *slog.Logger
}

// New creates a pipeline from its dependencies.
func New(config Config, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if config.StrategyTimeout <= 0 {
		config.StrategyTimeout = DefaultConfig().StrategyTimeout
	}
	return &Pipeline{
		config: config,
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "pipeline")),
	}
}

// Process runs one document end to end. Input errors are the only hard
// failures; everything downstream degrades into issues on a best-effort
// response.
func (p *Pipeline) Process(ctx context.Context, documentID string, req *domain.ExtractionRequest) (*domain.ExtractionResponse, error) {
	start := time.Now()
	logger := p.logger.With(slog.String("document_id", documentID))

	if len(req.DocumentBytes) == 0 && req.DocumentText == "" {
		return nil, apperrors.NewInputError("request carries neither document bytes nor text", nil)
	}

	result, engineName, err := p.resolveEngine(ctx, req)
	if err != nil {
		return nil, err
	}

	p.publish(documentID, StageClassify, "started", "")
	pc := p.deps.Classifier.Classify(ctx, documentID, req.Filename, result.Text)
	p.publish(documentID, StageClassify, "completed", pc.Institution)

	p.publish(documentID, StageExtract, "started", "")
	sets, enginesUsed, runIssues := p.runStrategies(ctx, result, &pc, req.Options.PreferredEngines)
	p.publish(documentID, StageExtract, "completed", fmt.Sprintf("%d candidate sets", len(sets)))

	if len(sets) == 0 {
		return nil, apperrors.NewEngineError("every extraction strategy failed", nil).
			WithContext("document_id", documentID)
	}

	p.publish(documentID, StageFusion, "started", "")
	merged, fusionIssues := p.deps.Merger.Merge(ctx, sets)
	runIssues = append(runIssues, fusionIssues...)
	p.publish(documentID, StageFusion, "completed", fmt.Sprintf("%d securities", len(merged)))

	if p.deps.Enhancer != nil && len(merged) > 0 {
		p.publish(documentID, StageEnhance, "started", "")
		var enhanceIssues []domain.Issue
		merged, enhanceIssues = p.deps.Enhancer.Enhance(ctx, merged, &pc)
		runIssues = append(runIssues, enhanceIssues...)
		p.publish(documentID, StageEnhance, "completed", "")
	}

	p.publish(documentID, StageValidate, "started", "")
	report := p.deps.Validator.Validate(ctx, merged, &pc)
	report.Issues = append(report.Issues, runIssues...)
	p.publish(documentID, StageValidate, "completed", "")

	threshold := 0.0
	if req.Options.AccuracyThreshold != nil {
		threshold = *req.Options.AccuracyThreshold
	}
	p.publish(documentID, StageGate, "started", "")
	decision := p.deps.Gate.Evaluate(ctx, report, threshold)
	p.publish(documentID, StageGate, "completed", string(decision.State))

	resp := &domain.ExtractionResponse{
		Success:             true,
		DocumentID:          documentID,
		Securities:          merged,
		PortfolioTotal:      report.ExtractedTotal,
		AccuracyScore:       report.AccuracyScore,
		QualityGrade:        decision.Grade,
		GateState:           decision.State,
		RequiresHumanReview: decision.RequiresHumanReview(),
		Issues:              decision.Issues,
		Metadata: domain.ExtractionMetadata{
			Institution:      pc.Institution,
			DocumentType:     pc.DocumentType,
			EnginesUsed:      enginesUsed,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		},
	}
	if resp.Securities == nil {
		resp.Securities = []domain.Security{}
	}

	logger.InfoContext(ctx, "run complete",
		slog.String("institution", pc.Institution),
		slog.String("source_engine", engineName),
		slog.Int("securities", len(resp.Securities)),
		slog.String("gate_state", string(resp.GateState)),
		slog.Int64("duration_ms", resp.Metadata.ProcessingTimeMs))
	return resp, nil
}

// resolveEngine picks the engine that can read this document and runs it.
// A failure here is fatal: with no text there is no partial result to
// degrade to.
func (p *Pipeline) resolveEngine(ctx context.Context, req *domain.ExtractionRequest) (*domain.EngineResult, string, error) {
	var engine engines.ExtractionEngine
	switch {
	case req.DocumentText != "" && p.deps.Text != nil:
		engine = p.deps.Text
	case bytes.HasPrefix(req.DocumentBytes, xlsxMagic) && p.deps.Spreadsheet != nil:
		engine = p.deps.Spreadsheet
	case p.deps.OCR != nil:
		engine = p.deps.OCR
	default:
		return nil, "", apperrors.NewInputError(
			fmt.Sprintf("no engine can read %s", req.Filename), nil)
	}

	result, err := engine.Extract(ctx, req.DocumentBytes, req.DocumentText)
	if err != nil {
		return nil, "", apperrors.NewEngineError(
			fmt.Sprintf("engine %s could not read the document", engine.Name()), err)
	}
	if result.Text == "" && len(result.Tables) == 0 {
		return nil, "", apperrors.NewInputError("document produced no readable content", nil)
	}
	return result, engine.Name(), nil
}

// runStrategies executes the selected strategies concurrently, each under
// its own timeout. A failed or timed-out strategy is excluded and
// recorded as an issue; it never fails the run.
func (p *Pipeline) runStrategies(ctx context.Context, result *domain.EngineResult, pc *domain.PortfolioContext, preferred []string) ([]*domain.CandidateSet, []string, []domain.Issue) {
	strategies := p.selectStrategies(preferred)

	type outcome struct {
		set *domain.CandidateSet
		err error
	}
	outcomes := make([]outcome, len(strategies))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range strategies {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, p.config.StrategyTimeout)
			defer cancel()
			set, err := s.Extract(sctx, result, pc)
			outcomes[i] = outcome{set: set, err: err}
			// Strategy failures degrade by exclusion, never cancel peers.
			return nil
		})
	}
	g.Wait()

	var sets []*domain.CandidateSet
	var used []string
	var issues []domain.Issue
	for i, s := range strategies {
		o := outcomes[i]
		if o.err != nil {
			p.logger.WarnContext(ctx, "strategy excluded",
				slog.String("strategy", s.Name()),
				slog.String("error", o.err.Error()))
			issues = append(issues, domain.Issue{
				Severity: domain.SeverityMedium,
				Type:     domain.IssueEngineUnavailable,
				Message:  fmt.Sprintf("strategy %s excluded: %v", s.Name(), o.err),
			})
			continue
		}
		if o.set == nil {
			continue
		}
		sets = append(sets, o.set)
		used = append(used, s.Name())
	}
	return sets, used, issues
}

// selectStrategies applies the caller's engine preference, falling back
// to the full configured list.
func (p *Pipeline) selectStrategies(preferred []string) []extract.Strategy {
	if len(preferred) == 0 {
		return p.deps.Strategies
	}
	wanted := make(map[string]bool, len(preferred))
	for _, name := range preferred {
		wanted[name] = true
	}
	var out []extract.Strategy
	for _, s := range p.deps.Strategies {
		if wanted[s.Name()] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return p.deps.Strategies
	}
	return out
}

func (p *Pipeline) publish(runID, stage, status, message string) {
	p.deps.Publisher.Publish(ProgressEvent{
		RunID:     runID,
		Stage:     stage,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
