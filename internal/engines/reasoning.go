package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"portex/internal/infrastructure"
	"portex/pkg/contracts/domain"
)

// ReasoningConfig configures the external reasoning/validation service
// client.
type ReasoningConfig struct {
	APIKey      string        // falls back to env REASONING_API_KEY
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // e.g. "gpt-4o-mini"
	Temperature float32       // 0 keeps extraction deterministic
	Timeout     time.Duration // per-call HTTP timeout
	// DefaultConfidence is assigned when the service reports no certainty
	// of its own. It sits below the table and window strategies so an
	// unqualified assisted answer never outranks a corroborated one.
	DefaultConfidence float64
}

// ReasoningClient wraps a chat-completions style reasoning service with a
// constrained output schema. The core treats the service as a black box
// returning schema-valid JSON.
type ReasoningClient struct {
	cfg    ReasoningConfig
	client *http.Client
	logger *slog.Logger
}

// NewReasoningClient creates a reasoning service client.
func NewReasoningClient(cfg ReasoningConfig, logger *slog.Logger) *ReasoningClient {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("REASONING_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = 0.55
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReasoningClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(slog.String("component", "reasoning_client")),
	}
}

// DefaultConfidence exposes the configured fallback confidence.
func (c *ReasoningClient) DefaultConfidence() float64 { return c.cfg.DefaultConfidence }

// AssistedSecurity is one holding as reported by the reasoning service.
type AssistedSecurity struct {
	Identifier  string   `json:"identifier"`
	Name        string   `json:"name"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	MarketValue float64  `json:"market_value"`
	Currency    string   `json:"currency,omitempty"`
}

// AssistedExtraction is the parsed, schema-validated extraction response.
type AssistedExtraction struct {
	Securities []AssistedSecurity `json:"securities"`
	Confidence *float64           `json:"confidence,omitempty"`
}

// ExtractHoldings asks the service to read holdings out of the given
// document text, constrained to the holdings schema.
func (c *ReasoningClient) ExtractHoldings(ctx context.Context, text string, pc *domain.PortfolioContext) (*AssistedExtraction, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.InfoContext(ctx, "reasoning.extract.start",
		slog.String("req_id", rid),
		slog.String("model", c.cfg.Model),
		slog.Int("text_len", len(text)),
		slog.String("institution", pc.Institution))

	schema := holdingsSchema()
	sys := "You extract security holdings from bank portfolio statements. " +
		"Report each position's ISIN, name, quantity, unit price, market value and currency. " +
		"Use plain numbers without thousands separators. " +
		fmt.Sprintf("The statement is from %q with base currency %s. ", pc.Institution, pc.BaseCurrency) +
		"Return ONLY JSON matching the provided schema."

	raw, err := c.complete(ctx, sys, text, schema)
	if err != nil {
		c.logger.ErrorContext(ctx, "reasoning.extract.failed",
			slog.String("req_id", rid),
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	var out AssistedExtraction
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal holdings: %w", err)
	}

	c.logger.InfoContext(ctx, "reasoning.extract.ok",
		slog.String("req_id", rid),
		slog.Int("securities", len(out.Securities)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return &out, nil
}

// CorrectionSuggestion is one correction proposed by the reasoning
// service. Field names follow the collaborator contract.
type CorrectionSuggestion struct {
	Identifier string `json:"identifier"`
	Field      string `json:"field"`
	NewValue   string `json:"newValue"`
	Reason     string `json:"reason"`
}

// correctionPayload is the bounded JSON payload sent for validation.
type correctionPayload struct {
	Institution  string             `json:"institution"`
	BaseCurrency string             `json:"base_currency"`
	Securities   []AssistedSecurity `json:"securities"`
}

// SuggestCorrections submits a bounded batch of candidate securities and
// returns field-level corrections. Corrections apply only to the named
// field and callers must record them in the correction history.
func (c *ReasoningClient) SuggestCorrections(ctx context.Context, securities []AssistedSecurity, pc *domain.PortfolioContext) ([]CorrectionSuggestion, error) {
	rid := uuid.New().String()
	start := time.Now()

	payload, err := json.Marshal(correctionPayload{
		Institution:  pc.Institution,
		BaseCurrency: pc.BaseCurrency,
		Securities:   securities,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal correction payload: %w", err)
	}

	c.logger.InfoContext(ctx, "reasoning.corrections.start",
		slog.String("req_id", rid),
		slog.Int("securities", len(securities)))

	sys := "You review extracted security holdings for obvious errors: " +
		"truncated names, misplaced decimal points, wrong currency codes. " +
		"Propose corrections only where you are confident; an empty list is a valid answer. " +
		"Return ONLY JSON matching the provided schema."

	raw, err := c.complete(ctx, sys, string(payload), correctionsSchema())
	if err != nil {
		c.logger.ErrorContext(ctx, "reasoning.corrections.failed",
			slog.String("req_id", rid),
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	var out struct {
		Corrections []CorrectionSuggestion `json:"corrections"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal corrections: %w", err)
	}

	c.logger.InfoContext(ctx, "reasoning.corrections.ok",
		slog.String("req_id", rid),
		slog.Int("corrections", len(out.Corrections)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return out.Corrections, nil
}

// complete runs one schema-constrained chat completion and returns the
// validated JSON content.
func (c *ReasoningClient) complete(ctx context.Context, system, user string, schema map[string]any) ([]byte, error) {
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	callStart := time.Now()
	raw, err := c.post(ctx, endpoint, body)
	infrastructure.RecordEngineCall(ctx, "reasoning", time.Since(callStart), err == nil)
	if err != nil {
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode reasoning response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, fmt.Errorf("no choices in reasoning response")
	}

	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))
	if err := validateAgainstSchema(schema, content); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return content, nil
}

func (c *ReasoningClient) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reasoning http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read reasoning response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("reasoning status %d: %s", resp.StatusCode, data)
	}
	return data, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
