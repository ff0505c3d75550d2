package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	"portex/internal/infrastructure"
	"portex/pkg/contracts/domain"
)

// ExtractionEngine turns a raw document into an EngineResult. Engines
// must be safe for concurrent use; one instance serves all documents.
type ExtractionEngine interface {
	Name() string
	Extract(ctx context.Context, documentBytes []byte, documentText string) (*domain.EngineResult, error)
}

// TextEngine passes caller-supplied text through unchanged. It backs
// requests that arrive with pre-extracted text instead of document bytes.
type TextEngine struct{}

// Name implements ExtractionEngine.
func (TextEngine) Name() string { return "text" }

// Extract implements ExtractionEngine.
func (TextEngine) Extract(_ context.Context, _ []byte, documentText string) (*domain.EngineResult, error) {
	if documentText == "" {
		return nil, fmt.Errorf("text engine: no document text supplied")
	}
	return &domain.EngineResult{Text: documentText}, nil
}

// SpreadsheetEngine reads XLSX statement files into table grids. Some
// institutions deliver holdings as spreadsheets rather than PDFs; those
// feed the table strategy directly.
type SpreadsheetEngine struct {
	logger *slog.Logger
}

// NewSpreadsheetEngine creates a spreadsheet engine.
func NewSpreadsheetEngine(logger *slog.Logger) *SpreadsheetEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpreadsheetEngine{logger: logger.With(slog.String("component", "spreadsheet_engine"))}
}

// Name implements ExtractionEngine.
func (e *SpreadsheetEngine) Name() string { return "spreadsheet" }

// Extract implements ExtractionEngine. Every sheet becomes one table; the
// flattened cell text doubles as the raw text stream so the classifier
// and window strategy can run over spreadsheets too.
func (e *SpreadsheetEngine) Extract(ctx context.Context, documentBytes []byte, _ string) (*domain.EngineResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(documentBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	result := &domain.EngineResult{}
	var text bytes.Buffer

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping unreadable sheet",
				slog.String("sheet", sheet), slog.String("error", err.Error()))
			continue
		}
		var table domain.Table
		for ri, row := range rows {
			for ci, cell := range row {
				if cell == "" {
					continue
				}
				table.Cells = append(table.Cells, domain.TableCell{
					RowIndex:    ri,
					ColumnIndex: ci,
					Content:     cell,
				})
				text.WriteString(cell)
				text.WriteByte(' ')
			}
			text.WriteByte('\n')
		}
		if len(table.Cells) > 0 {
			result.Tables = append(result.Tables, table)
		}
	}

	if len(result.Tables) == 0 {
		return nil, fmt.Errorf("spreadsheet contains no data cells")
	}
	result.Text = text.String()
	return result, nil
}

// HTTPEngineConfig configures a remote extraction engine client.
type HTTPEngineConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPEngine calls a remote OCR/vision extraction service that honors the
// EngineResult contract: POST the document, receive text plus optional
// table grids and a confidence number.
type HTTPEngine struct {
	cfg    HTTPEngineConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPEngine creates a client for one remote extraction engine.
func NewHTTPEngine(cfg HTTPEngineConfig, logger *slog.Logger) *HTTPEngine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPEngine{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(slog.String("component", "http_engine"), slog.String("engine", cfg.Name)),
	}
}

// Name implements ExtractionEngine.
func (e *HTTPEngine) Name() string { return e.cfg.Name }

// Extract implements ExtractionEngine.
func (e *HTTPEngine) Extract(ctx context.Context, documentBytes []byte, _ string) (result *domain.EngineResult, err error) {
	start := time.Now()
	defer func() {
		infrastructure.RecordEngineCall(ctx, e.cfg.Name, time.Since(start), err == nil)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/extract", bytes.NewReader(documentBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.ErrorContext(ctx, "engine.extract.http_error",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, fmt.Errorf("engine %s: %w", e.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("engine %s: status %d: %s", e.cfg.Name, resp.StatusCode, body)
	}

	var out domain.EngineResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("engine %s: decode response: %w", e.cfg.Name, err)
	}

	e.logger.InfoContext(ctx, "engine.extract.ok",
		slog.Int("text_len", len(out.Text)),
		slog.Int("tables", len(out.Tables)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return &out, nil
}
