package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"portex/pkg/contracts/domain"
)

func TestTextEngine(t *testing.T) {
	e := TextEngine{}

	result, err := e.Extract(context.Background(), nil, "some statement text")
	require.NoError(t, err)
	assert.Equal(t, "some statement text", result.Text)
	assert.Empty(t, result.Tables)

	_, err = e.Extract(context.Background(), nil, "")
	assert.Error(t, err)
}

func buildWorkbook(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	for ri, row := range rows {
		for ci, cell := range row {
			axis, err := excelize.CoordinatesToCellName(ci+1, ri+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", axis, cell))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestSpreadsheetEngine(t *testing.T) {
	data := buildWorkbook(t, [][]string{
		{"ISIN", "Description", "Market Value"},
		{"CH0012032048", "ROCHE HOLDING AG", "25'000.00"},
	})

	e := NewSpreadsheetEngine(nil)
	result, err := e.Extract(context.Background(), data, "")
	require.NoError(t, err)

	require.Len(t, result.Tables, 1)
	assert.Len(t, result.Tables[0].Cells, 6)
	assert.Contains(t, result.Text, "ROCHE HOLDING AG")

	_, err = e.Extract(context.Background(), []byte("not a workbook"), "")
	assert.Error(t, err)
}

func TestHTTPEngine(t *testing.T) {
	conf := 0.91
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(domain.EngineResult{
			Text:             "CH0012032048 ROCHE",
			EngineConfidence: &conf,
		})
	}))
	defer srv.Close()

	e := NewHTTPEngine(HTTPEngineConfig{Name: "ocr", BaseURL: srv.URL, APIKey: "test-key"}, nil)
	result, err := e.Extract(context.Background(), []byte("%PDF-"), "")
	require.NoError(t, err)
	assert.Equal(t, "CH0012032048 ROCHE", result.Text)
	require.NotNil(t, result.EngineConfidence)
	assert.InDelta(t, 0.91, *result.EngineConfidence, 1e-9)
}

func TestHTTPEngineErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPEngine(HTTPEngineConfig{Name: "ocr", BaseURL: srv.URL}, nil)
	_, err := e.Extract(context.Background(), []byte("%PDF-"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

// completionsStub serves a canned chat-completions answer.
func completionsStub(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testContext() *domain.PortfolioContext {
	return &domain.PortfolioContext{
		DocumentID:   "doc-1",
		Institution:  "ubs",
		BaseCurrency: "CHF",
	}
}

func TestReasoningExtractHoldings(t *testing.T) {
	srv := completionsStub(t, `{"securities":[{"identifier":"CH0012032048","name":"ROCHE HOLDING AG","market_value":25000,"currency":"CHF"}],"confidence":0.8}`)
	defer srv.Close()

	c := NewReasoningClient(ReasoningConfig{BaseURL: srv.URL, APIKey: "k"}, nil)
	out, err := c.ExtractHoldings(context.Background(), "statement text", testContext())
	require.NoError(t, err)
	require.Len(t, out.Securities, 1)
	assert.Equal(t, "CH0012032048", out.Securities[0].Identifier)
	require.NotNil(t, out.Confidence)
	assert.InDelta(t, 0.8, *out.Confidence, 1e-9)
}

func TestReasoningRejectsSchemaViolations(t *testing.T) {
	// market_value is required; the stub omits it.
	srv := completionsStub(t, `{"securities":[{"identifier":"CH0012032048","name":"ROCHE"}]}`)
	defer srv.Close()

	c := NewReasoningClient(ReasoningConfig{BaseURL: srv.URL, APIKey: "k"}, nil)
	_, err := c.ExtractHoldings(context.Background(), "text", testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestEnhancerAppliesCorrections(t *testing.T) {
	srv := completionsStub(t, `{"corrections":[{"identifier":"CH0012032048","field":"name","newValue":"ROCHE HOLDING AG","reason":"expanded truncated name"}]}`)
	defer srv.Close()

	c := NewReasoningClient(ReasoningConfig{BaseURL: srv.URL, APIKey: "k"}, nil)
	e := NewEnhancer(c, EnhancerConfig{ChunkSize: 8, RequestsPerSecond: 1000}, nil)

	in := []domain.Security{{
		Identifier:  "CH0012032048",
		Name:        "ROCHE HOLD",
		MarketValue: decimal.NewFromInt(25000),
		Currency:    "CHF",
	}}

	out, issues := e.Enhance(context.Background(), in, testContext())
	assert.Empty(t, issues)
	require.Len(t, out, 1)
	assert.Equal(t, "ROCHE HOLDING AG", out[0].Name)
	require.Len(t, out[0].CorrectionHistory, 1)
	assert.Equal(t, "name", out[0].CorrectionHistory[0].Field)
	assert.Equal(t, "ROCHE HOLD", out[0].CorrectionHistory[0].OldValue)

	// Input must stay untouched.
	assert.Equal(t, "ROCHE HOLD", in[0].Name)
}

func TestEnhancerChunkFailureIsIsolated(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"corrections":[{"identifier":"US0378331005","field":"currency","newValue":"usd","reason":"normalized"}]}`}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewReasoningClient(ReasoningConfig{BaseURL: srv.URL, APIKey: "k"}, nil)
	e := NewEnhancer(c, EnhancerConfig{ChunkSize: 1, RequestsPerSecond: 1000}, nil)

	in := []domain.Security{
		{Identifier: "CH0012032048", Name: "ROCHE", MarketValue: decimal.NewFromInt(25000), Currency: "CHF"},
		{Identifier: "US0378331005", Name: "APPLE", MarketValue: decimal.NewFromInt(10000), Currency: ""},
	}

	out, issues := e.Enhance(context.Background(), in, testContext())
	require.Len(t, out, 2)

	// First chunk failed: pre-enhancement values survive, issue recorded.
	assert.Equal(t, "ROCHE", out[0].Name)
	assert.Empty(t, out[0].CorrectionHistory)
	require.Len(t, issues, 1)
	assert.Equal(t, domain.IssueEngineUnavailable, issues[0].Type)
	assert.Equal(t, domain.SeverityMedium, issues[0].Severity)

	// Second chunk succeeded and the currency was normalized.
	assert.Equal(t, "USD", out[1].Currency)
	require.Len(t, out[1].CorrectionHistory, 1)
}

func TestEnhancerDropsBadCorrections(t *testing.T) {
	srv := completionsStub(t, `{"corrections":[`+
		`{"identifier":"CH0012032048","field":"market_value","newValue":"not-a-number","reason":"x"},`+
		`{"identifier":"CH0012032048","field":"currency","newValue":"FRANCS","reason":"x"},`+
		`{"identifier":"ZZ9999999999","field":"name","newValue":"GHOST","reason":"x"}]}`)
	defer srv.Close()

	c := NewReasoningClient(ReasoningConfig{BaseURL: srv.URL, APIKey: "k"}, nil)
	e := NewEnhancer(c, EnhancerConfig{ChunkSize: 8, RequestsPerSecond: 1000}, nil)

	in := []domain.Security{{
		Identifier:  "CH0012032048",
		Name:        "ROCHE",
		MarketValue: decimal.NewFromInt(25000),
		Currency:    "CHF",
	}}

	out, issues := e.Enhance(context.Background(), in, testContext())
	assert.Empty(t, issues)
	require.Len(t, out, 1)
	assert.True(t, decimal.NewFromInt(25000).Equal(out[0].MarketValue))
	assert.Equal(t, "CHF", out[0].Currency)
	assert.Empty(t, out[0].CorrectionHistory)
}

func TestEnhancerNilClientPassesThrough(t *testing.T) {
	e := NewEnhancer(nil, DefaultEnhancerConfig(), nil)
	in := []domain.Security{{Identifier: "CH0012032048", MarketValue: decimal.NewFromInt(1)}}
	out, issues := e.Enhance(context.Background(), in, testContext())
	assert.Equal(t, in, out)
	assert.Nil(t, issues)
}
