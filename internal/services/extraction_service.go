package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "portex/internal/errors"
	"portex/internal/infrastructure"
	"portex/internal/pipeline"
	"portex/internal/validation"
	"portex/pkg/contracts/domain"
)

// ExtractionService owns the run lifecycle: it validates the upload,
// creates the run record, drives the pipeline and persists the outcome.
// Handlers never touch the pipeline directly.
type ExtractionService struct {
	pipeline   *pipeline.Pipeline
	store      pipeline.RunStore
	validator  *validation.DocumentValidator
	metrics    *infrastructure.BusinessMetrics
	runTimeout time.Duration
	retention  time.Duration
	logger     *slog.Logger
}

// ExtractionServiceConfig bundles the tunables the service needs.
type ExtractionServiceConfig struct {
	// RunTimeout bounds one whole extraction run.
	RunTimeout time.Duration
	// Retention is how long finished runs stay queryable.
	Retention time.Duration
}

// NewExtractionService creates the extraction service. The metrics
// recorder may be nil; recording then becomes a no-op.
func NewExtractionService(p *pipeline.Pipeline, store pipeline.RunStore, validator *validation.DocumentValidator, metrics *infrastructure.BusinessMetrics, cfg ExtractionServiceConfig, logger *slog.Logger) *ExtractionService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &ExtractionService{
		pipeline:   p,
		store:      store,
		validator:  validator,
		metrics:    metrics,
		runTimeout: cfg.RunTimeout,
		retention:  cfg.Retention,
		logger:     logger.With(slog.String("component", "extraction_service")),
	}
}

// Extract runs one document synchronously and returns the response. The
// run is recorded in the store either way so callers can re-fetch it.
// Re-uploading a document that already completed returns the stored
// response; one still in flight is a conflict.
func (s *ExtractionService) Extract(ctx context.Context, req *domain.ExtractionRequest) (*domain.ExtractionResponse, error) {
	run, existing, err := s.createRun(req)
	if err != nil {
		return nil, err
	}
	if existing {
		if run.Status == pipeline.RunStatusCompleted && run.Response != nil {
			return run.Response, nil
		}
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("run %s for this document is already %s", run.ID, run.Status))
	}
	return s.execute(ctx, run, req)
}

// Submit starts one document asynchronously and returns the pending run.
// The caller polls GetRun (or subscribes to progress events) for the
// outcome. Execution is detached from the request context; only the run
// timeout bounds it. Re-submitting a known document returns its existing
// run instead of starting a duplicate.
func (s *ExtractionService) Submit(ctx context.Context, req *domain.ExtractionRequest) (*pipeline.Run, error) {
	run, existing, err := s.createRun(req)
	if err != nil {
		return nil, err
	}
	if existing {
		return run, nil
	}

	// Snapshot before the goroutine starts mutating the run.
	snapshot := *run
	runCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.execute(runCtx, run, req); err != nil {
			s.logger.Error("async run failed",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()))
		}
	}()

	return &snapshot, nil
}

// GetRun returns one run by ID.
func (s *ExtractionService) GetRun(ctx context.Context, id string) (*pipeline.Run, error) {
	run, err := s.store.GetRun(id)
	if err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %s", id))
	}
	return run, nil
}

// ListRuns returns runs matching the filter.
func (s *ExtractionService) ListRuns(ctx context.Context, filter pipeline.RunFilter) ([]*pipeline.Run, error) {
	return s.store.ListRuns(filter)
}

// DeleteRun removes a run record.
func (s *ExtractionService) DeleteRun(ctx context.Context, id string) error {
	if err := s.store.DeleteRun(id); err != nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("run %s", id))
	}
	return nil
}

// StartCleanup launches the retention sweep. It returns once the context
// is cancelled.
func (s *ExtractionService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.store.CleanupOldRuns(s.retention)
			if err != nil {
				s.logger.Error("run cleanup failed", slog.String("error", err.Error()))
				continue
			}
			if deleted > 0 {
				s.logger.Info("run cleanup", slog.Int("deleted", deleted))
			}
		}
	}
}

// createRun validates the upload and registers a pending run. Runs are
// keyed by the document's BLAKE2b fingerprint: identical content maps to
// one run, so a re-upload finds the existing record (existing=true)
// instead of starting a duplicate. A failed run is dropped first so the
// same document can be retried.
func (s *ExtractionService) createRun(req *domain.ExtractionRequest) (*pipeline.Run, bool, error) {
	if req == nil {
		return nil, false, apperrors.NewInputError("request is nil", nil)
	}
	if len(req.DocumentBytes) == 0 && req.DocumentText == "" {
		return nil, false, apperrors.NewInputError("request carries neither document bytes nor text", nil)
	}

	if s.validator != nil && len(req.DocumentBytes) > 0 {
		if _, err := s.validator.Validate(req.DocumentBytes, req.Filename); err != nil {
			return nil, false, err
		}
	}

	content := req.DocumentBytes
	if len(content) == 0 {
		content = []byte(req.DocumentText)
	}
	fingerprint := validation.Fingerprint(content)

	if prior, err := s.store.GetRun(fingerprint); err == nil {
		if prior.Status != pipeline.RunStatusFailed {
			s.logger.Info("run deduplicated",
				slog.String("run_id", prior.ID),
				slog.String("filename", req.Filename))
			return prior, true, nil
		}
		if derr := s.store.DeleteRun(fingerprint); derr != nil {
			s.logger.Warn("failed to drop failed run for retry",
				slog.String("run_id", fingerprint), slog.String("error", derr.Error()))
		}
	}

	run := pipeline.NewRun(fingerprint, req.Filename)
	run.Fingerprint = fingerprint
	if err := s.store.CreateRun(run); err != nil {
		// Lost a create race with a concurrent upload of the same bytes.
		if prior, gerr := s.store.GetRun(fingerprint); gerr == nil {
			return prior, true, nil
		}
		return nil, false, fmt.Errorf("create run: %w", err)
	}

	s.logger.Info("run created",
		slog.String("run_id", run.ID),
		slog.String("filename", req.Filename),
		slog.Int("document_bytes", len(req.DocumentBytes)))
	return run, false, nil
}

// execute drives the pipeline for one run and persists the outcome.
func (s *ExtractionService) execute(ctx context.Context, run *pipeline.Run, req *domain.ExtractionRequest) (*domain.ExtractionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	run.Start()
	if err := s.store.UpdateRun(run); err != nil {
		s.logger.Warn("failed to mark run running",
			slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}

	infrastructure.RecordActiveRunChange(ctx, s.metrics, 1, "")
	start := time.Now()

	resp, err := s.pipeline.Process(ctx, run.ID, req)
	duration := time.Since(start)

	institution := ""
	if resp != nil {
		institution = resp.Metadata.Institution
	}
	infrastructure.RecordActiveRunChange(ctx, s.metrics, -1, institution)
	infrastructure.RecordRunMetrics(ctx, s.metrics, run.ID, institution, duration, err == nil, err)

	if err != nil {
		if ctx.Err() != nil {
			infrastructure.RecordRunCancellation(ctx, s.metrics, run.ID, ctx.Err().Error())
		}
		run.Fail(err)
		if uerr := s.store.UpdateRun(run); uerr != nil {
			s.logger.Warn("failed to persist failed run",
				slog.String("run_id", run.ID), slog.String("error", uerr.Error()))
		}
		return nil, err
	}

	infrastructure.RecordGateDecision(ctx, s.metrics, run.ID,
		string(resp.GateState), resp.AccuracyScore, int64(len(resp.Securities)))

	var conflicts int64
	for _, issue := range resp.Issues {
		if issue.Type == domain.IssueFusionConflict {
			conflicts++
		}
	}
	infrastructure.RecordFusionConflicts(ctx, s.metrics, run.ID, conflicts)

	run.Complete(resp)
	if uerr := s.store.UpdateRun(run); uerr != nil {
		s.logger.Warn("failed to persist completed run",
			slog.String("run_id", run.ID), slog.String("error", uerr.Error()))
	}
	return resp, nil
}
