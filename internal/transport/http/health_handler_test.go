package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portex/internal/config"
	"portex/internal/pipeline"
	"portex/internal/services"
)

type staticCounter struct{ n int }

func (c staticCounter) ClientCount() int { return c.n }

func newTestHealthHandler(t *testing.T) *HealthHandler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	healthService := services.NewHealthService(
		"v1.0.0-test", "", "",
		config.PathsConfig{DataDir: t.TempDir(), ExportsDir: t.TempDir()},
		pipeline.NewMemoryRunStore(),
		staticCounter{},
		nil,
		logger,
	)
	return NewHealthHandler(healthService, logger)
}

func getJSON(t *testing.T, fn http.HandlerFunc, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthCheck(t *testing.T) {
	handler := newTestHealthHandler(t)

	code, body := getJSON(t, handler.HealthCheck, "/api/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "v1.0.0-test", body["version"])
	assert.Contains(t, body, "timestamp")
}

func TestReadinessCheck(t *testing.T) {
	handler := newTestHealthHandler(t)

	code, body := getJSON(t, handler.ReadinessCheck, "/api/health/ready")

	// No remote engines configured, so nothing can be down.
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
	assert.Contains(t, body, "services")
}

func TestLivenessCheck(t *testing.T) {
	handler := newTestHealthHandler(t)
	time.Sleep(10 * time.Millisecond)

	code, body := getJSON(t, handler.LivenessCheck, "/api/health/live")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	rt, ok := body["runtime"].(map[string]interface{})
	require.True(t, ok, "runtime should be an object")
	uptime, ok := rt["uptime"].(float64)
	require.True(t, ok, "uptime should be numeric")
	assert.Greater(t, uptime, 0.0)
}

func TestVersionEndpoint(t *testing.T) {
	handler := newTestHealthHandler(t)
	time.Sleep(10 * time.Millisecond)

	code, body := getJSON(t, handler.Version, "/api/version")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1.0.0-test", body["version"])
	assert.Contains(t, body, "go_version")
	assert.Contains(t, body, "os")
	assert.Contains(t, body, "arch")

	uptime, ok := body["uptime"].(float64)
	require.True(t, ok, "uptime should be numeric")
	assert.Greater(t, uptime, 0.0)
}

func TestSystemStatsEndpoint(t *testing.T) {
	handler := newTestHealthHandler(t)

	code, body := getJSON(t, handler.SystemStats, "/api/health/stats")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "runs")
	assert.Contains(t, body, "go_version")
}
