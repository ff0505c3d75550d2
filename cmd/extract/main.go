package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"portex/internal/app"
	"portex/internal/config"
	"portex/internal/infrastructure"
	"portex/internal/validation"
	"portex/pkg/contracts/domain"
)

func main() {
	filePath := flag.String("file", "", "statement document to extract (xlsx, csv, txt, or pdf/scan when OCR is configured)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall run timeout")
	pretty := flag.Bool("pretty", false, "indent the JSON output")
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: extract -file <statement> [-timeout 5m] [-pretty]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("Failed to load config, using defaults", "error", err)
		cfg = config.Default()
	}

	// One-shot runs log to stderr so stdout stays pure JSON.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: infrastructure.ParseLogLevel(cfg.Logging.Level),
	}))

	if err := run(cfg, logger, *filePath, *timeout, *pretty); err != nil {
		logger.Error("Extraction failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, filePath string, timeout time.Duration, pretty bool) error {
	fileValidator := validation.NewStatementFileValidator(cfg.Extraction.MaxUploadBytes, logger)
	if err := fileValidator.ValidateStatementFile(filePath); err != nil {
		return err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	p, err := app.AssemblePipeline(cfg, nil, logger)
	if err != nil {
		return err
	}

	req := &domain.ExtractionRequest{
		Filename: filepath.Base(filePath),
	}
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".txt", ".csv":
		req.DocumentText = string(data)
	default:
		req.DocumentBytes = data
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	documentID := uuid.New().String()
	logger.Info("Starting extraction",
		slog.String("document_id", documentID),
		slog.String("filename", req.Filename),
		slog.Int("size_bytes", len(data)))

	resp, err := p.Process(ctx, documentID, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	logger.Info("Extraction complete",
		slog.String("document_id", documentID),
		slog.Int("securities", len(resp.Securities)),
		slog.String("gate_state", string(resp.GateState)),
		slog.Bool("requires_human_review", resp.RequiresHumanReview))

	return nil
}
