package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postClientLog(t *testing.T, handler *ClientLogHandler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/logs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	return rec
}

func TestClientLogHandlerWritesEntry(t *testing.T) {
	var buf bytes.Buffer
	handler := NewClientLogHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

	body, err := json.Marshal(LogRequest{
		Level:   "warn",
		Message: "chart render slow",
		Source:  "dashboard",
		Data:    map[string]interface{}{"elapsed_ms": 812},
	})
	require.NoError(t, err)

	rec := postClientLog(t, handler, body)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, "chart render slow")
	assert.Contains(t, out, `"client_source":"dashboard"`)
	assert.Contains(t, out, "elapsed_ms")
}

func TestClientLogHandlerLevelMapping(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"debug", `"level":"DEBUG"`},
		{"info", `"level":"INFO"`},
		{"warn", `"level":"WARN"`},
		{"error", `"level":"ERROR"`},
		{"fatal", `"level":"INFO"`}, // unknown levels degrade to info
		{"", `"level":"INFO"`},
	}

	for _, tt := range tests {
		t.Run("level_"+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewClientLogHandler(slog.New(slog.NewJSONHandler(&buf,
				&slog.HandlerOptions{Level: slog.LevelDebug})))

			body, err := json.Marshal(LogRequest{Level: tt.level, Message: "entry"})
			require.NoError(t, err)

			rec := postClientLog(t, handler, body)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestClientLogHandlerRejectsBadJSON(t *testing.T) {
	handler := NewClientLogHandler(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	for _, body := range [][]byte{nil, []byte("not json")} {
		rec := postClientLog(t, handler, body)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, false, resp["success"])
	}
}

func TestClientLogHandlerMessageEscaping(t *testing.T) {
	messages := []string{
		"unicode: 你好世界 🌍",
		`quotes "and" 'apostrophes'`,
		"newlines\nand\ttabs",
		"<html>tags</html>",
	}

	for _, msg := range messages {
		var buf bytes.Buffer
		handler := NewClientLogHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

		body, err := json.Marshal(LogRequest{Level: "info", Message: msg})
		require.NoError(t, err)

		rec := postClientLog(t, handler, body)

		require.Equal(t, http.StatusOK, rec.Code)
		// The logged line must survive a JSON round trip intact.
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
		assert.Equal(t, msg, entry["msg"])
	}
}
