package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "portex/internal/errors"
	"portex/internal/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestContentTypeValidator(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		wantStatus  int
	}{
		{
			name:       "GET skips validation",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "DELETE skips validation",
			method:     http.MethodDelete,
			wantStatus: http.StatusOK,
		},
		{
			name:        "POST with JSON passes",
			method:      http.MethodPost,
			contentType: "application/json",
			wantStatus:  http.StatusOK,
		},
		{
			name:        "POST with JSON and charset passes",
			method:      http.MethodPost,
			contentType: "application/json; charset=utf-8",
			wantStatus:  http.StatusOK,
		},
		{
			name:       "POST without content type rejected",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "POST with XML rejected",
			method:      http.MethodPost,
			contentType: "application/xml",
			wantStatus:  http.StatusUnsupportedMediaType,
		},
	}

	handler := ContentTypeValidator("application/json")(okHandler())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	m := NewValidationMiddleware(logger, apierrors.NewErrorHandler(logger, false))
	handler := m.ValidateRequest(okHandler())

	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
	}{
		{
			name:        "valid JSON passes",
			contentType: "application/json",
			body:        `{"filename":"a.txt"}`,
			wantStatus:  http.StatusOK,
		},
		{
			name:        "broken JSON rejected",
			contentType: "application/json",
			body:        `{"filename":`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "multipart body is not JSON-checked",
			contentType: "multipart/form-data; boundary=xyz",
			body:        "--xyz--\r\n",
			wantStatus:  http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestValidateRequestSizeCap(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	m := NewValidationMiddleware(logger, apierrors.NewErrorHandler(logger, false))
	m.SetMaxBodySize(8)
	handler := m.ValidateRequest(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"k":"too large"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestValidateStruct(t *testing.T) {
	type holding struct {
		Identifier string `json:"identifier" validate:"required,isin"`
		Filename   string `json:"filename" validate:"required,filename"`
		ReportDate string `json:"report_date" validate:"omitempty,iso8601"`
	}

	logger, _ := testutil.NewTestLogger(t)
	m := NewValidationMiddleware(logger, apierrors.NewErrorHandler(logger, false))

	tests := []struct {
		name    string
		input   holding
		wantErr bool
	}{
		{
			name: "valid holding",
			input: holding{
				Identifier: "CH0012032048",
				Filename:   "statement.xlsx",
				ReportDate: "2024-12-31",
			},
			wantErr: false,
		},
		{
			name: "isin too short",
			input: holding{
				Identifier: "CH00120",
				Filename:   "statement.xlsx",
			},
			wantErr: true,
		},
		{
			name: "isin with lowercase country code",
			input: holding{
				Identifier: "ch0012032048",
				Filename:   "statement.xlsx",
			},
			wantErr: true,
		},
		{
			name: "filename with traversal",
			input: holding{
				Identifier: "CH0012032048",
				Filename:   "../etc/passwd",
			},
			wantErr: true,
		},
		{
			name: "bad date format",
			input: holding{
				Identifier: "CH0012032048",
				Filename:   "statement.xlsx",
				ReportDate: "31.12.2024",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateStruct(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQueryParamValidator(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	v := NewQueryParamValidator(logger, apierrors.NewErrorHandler(logger, false))

	t.Run("int default when absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs", nil)
		w := httptest.NewRecorder()

		got, ok := v.ValidateInt(w, req, "limit", 1, 500, 50)
		require.True(t, ok)
		assert.Equal(t, 50, got)
	})

	t.Run("int within range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs?limit=100", nil)
		w := httptest.NewRecorder()

		got, ok := v.ValidateInt(w, req, "limit", 1, 500, 50)
		require.True(t, ok)
		assert.Equal(t, 100, got)
	})

	t.Run("int out of range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs?limit=10000", nil)
		w := httptest.NewRecorder()

		_, ok := v.ValidateInt(w, req, "limit", 1, 500, 50)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("enum valid value", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs?status=completed", nil)
		w := httptest.NewRecorder()

		got, ok := v.ValidateEnum(w, req, "status", []string{"pending", "running", "completed", "failed"}, "")
		require.True(t, ok)
		assert.Equal(t, "completed", got)
	})

	t.Run("enum invalid value", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs?status=bogus", nil)
		w := httptest.NewRecorder()

		_, ok := v.ValidateEnum(w, req, "status", []string{"pending", "running", "completed", "failed"}, "")
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
