package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

// mockHealthChecker is a mock implementation of EngineHealthChecker for testing
type mockHealthChecker struct {
	readyFunc func() (bool, error)
}

func (m *mockHealthChecker) Ready() (bool, error) {
	if m.readyFunc != nil {
		return m.readyFunc()
	}
	return true, nil
}

// TestReadinessGate tests the readiness gate middleware
func TestReadinessGate(t *testing.T) {
	// Create a test logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tests := []struct {
		name           string
		path           string
		readyFunc      func() (bool, error)
		wantStatusCode int
		wantNextCalled bool
	}{
		{
			name: "excluded path - root",
			path: "/",
			readyFunc: func() (bool, error) {
				t.Error("Ready should not be called for excluded paths")
				return false, nil
			},
			wantStatusCode: http.StatusOK,
			wantNextCalled: true,
		},
		{
			name: "excluded path - health check",
			path: "/api/health",
			readyFunc: func() (bool, error) {
				t.Error("Ready should not be called for excluded paths")
				return false, nil
			},
			wantStatusCode: http.StatusOK,
			wantNextCalled: true,
		},
		{
			name: "excluded path - metrics",
			path: "/metrics",
			readyFunc: func() (bool, error) {
				t.Error("Ready should not be called for excluded paths")
				return false, nil
			},
			wantStatusCode: http.StatusOK,
			wantNextCalled: true,
		},
		{
			name: "excluded prefix - export",
			path: "/api/export/holdings.csv",
			readyFunc: func() (bool, error) {
				t.Error("Ready should not be called for excluded paths")
				return false, nil
			},
			wantStatusCode: http.StatusOK,
			wantNextCalled: true,
		},
		{
			name: "engines ready",
			path: "/api/extraction",
			readyFunc: func() (bool, error) {
				return true, nil
			},
			wantStatusCode: http.StatusOK,
			wantNextCalled: true,
		},
		{
			name: "engines not ready",
			path: "/api/extraction",
			readyFunc: func() (bool, error) {
				return false, nil
			},
			wantStatusCode: http.StatusServiceUnavailable,
			wantNextCalled: false,
		},
		{
			name: "probe error without prior success",
			path: "/api/extraction",
			readyFunc: func() (bool, error) {
				return false, errors.New("network error")
			},
			wantStatusCode: http.StatusServiceUnavailable,
			wantNextCalled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create mock checker
			mockChecker := &mockHealthChecker{
				readyFunc: tt.readyFunc,
			}

			// Create gate
			gate := NewReadinessGate(mockChecker, logger)

			// Create test handler
			nextCalled := false
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			})

			// Create request
			req := httptest.NewRequest("POST", tt.path, nil)
			rec := httptest.NewRecorder()

			// Execute middleware
			handler := gate.Handler(nextHandler)
			handler.ServeHTTP(rec, req)

			// Check results
			if rec.Code != tt.wantStatusCode {
				t.Errorf("Response code = %v, want %v", rec.Code, tt.wantStatusCode)
			}

			if nextCalled != tt.wantNextCalled {
				t.Errorf("Next handler called = %v, want %v", nextCalled, tt.wantNextCalled)
			}
		})
	}
}

// TestReadinessGateCache tests the caching functionality
func TestReadinessGateCache(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	probeCount := 0

	mockChecker := &mockHealthChecker{
		readyFunc: func() (bool, error) {
			probeCount++
			return true, nil
		},
	}

	gate := NewReadinessGate(mockChecker, logger)
	gate.SetCacheTTL(1 * time.Minute)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := gate.Handler(nextHandler)

	// Multiple requests within the TTL should probe once
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/api/extraction", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: response code = %v, want %v", i, rec.Code, http.StatusOK)
		}
	}

	if probeCount != 1 {
		t.Errorf("Ready call count = %d, want 1 (cached)", probeCount)
	}
}

// TestReadinessGateInvalidateCache tests cache invalidation
func TestReadinessGateInvalidateCache(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	probeCount := 0

	mockChecker := &mockHealthChecker{
		readyFunc: func() (bool, error) {
			probeCount++
			return true, nil
		},
	}

	gate := NewReadinessGate(mockChecker, logger)
	gate.SetCacheTTL(1 * time.Minute)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := gate.Handler(nextHandler)

	req := httptest.NewRequest("POST", "/api/extraction", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if probeCount != 1 {
		t.Fatalf("Ready call count = %d, want 1", probeCount)
	}

	// Invalidation should force a fresh probe
	gate.InvalidateCache()
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if probeCount != 2 {
		t.Errorf("Ready call count after invalidation = %d, want 2", probeCount)
	}
}

// TestReadinessGateGracefulDegradation tests network-error tolerance after a
// recent successful probe
func TestReadinessGateGracefulDegradation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	probeResult := struct {
		ready bool
		err   error
	}{true, nil}

	mockChecker := &mockHealthChecker{
		readyFunc: func() (bool, error) {
			return probeResult.ready, probeResult.err
		},
	}

	gate := NewReadinessGate(mockChecker, logger)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := gate.Handler(nextHandler)

	// Seed a successful probe
	req := httptest.NewRequest("POST", "/api/extraction", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed request code = %v, want %v", rec.Code, http.StatusOK)
	}

	// Expire the cache and make the probe fail with a network error
	gate.SetCacheTTL(0)
	probeResult.ready = false
	probeResult.err = errors.New("connection refused")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Within the grace period the request must still pass
	if rec.Code != http.StatusOK {
		t.Errorf("degraded request code = %v, want %v", rec.Code, http.StatusOK)
	}

	// Outside the grace period the gate must reject
	gate.SetGracePeriod(0)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("post-grace request code = %v, want %v", rec.Code, http.StatusServiceUnavailable)
	}
}

// TestReadinessGateCustomExcludes tests custom path exclusions
func TestReadinessGateCustomExcludes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mockChecker := &mockHealthChecker{
		readyFunc: func() (bool, error) {
			t.Error("Ready should not be called for excluded paths")
			return false, nil
		},
	}

	gate := NewReadinessGate(mockChecker, logger)
	gate.AddExcludePath("/api/custom")
	gate.AddExcludePrefix("/internal/")

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := gate.Handler(nextHandler)

	for _, path := range []string{"/api/custom", "/internal/debug/vars"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("path %s: response code = %v, want %v", path, rec.Code, http.StatusOK)
		}
	}
}

// TestReadinessGateDisabled tests that a disabled gate passes everything
func TestReadinessGateDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mockChecker := &mockHealthChecker{
		readyFunc: func() (bool, error) {
			t.Error("Ready should not be called when gate is disabled")
			return false, nil
		},
	}

	gate := NewReadinessGate(mockChecker, logger)
	gate.SetEnabled(false)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := gate.Handler(nextHandler)

	req := httptest.NewRequest("POST", "/api/extraction", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Response code = %v, want %v", rec.Code, http.StatusOK)
	}
}
