package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"portex/internal/errors"
	"portex/internal/infrastructure"
)

// ReadinessGate rejects extraction requests while the downstream engines are
// unavailable, with cached health results to avoid probing on every request.
type ReadinessGate struct {
	checker         EngineHealthChecker
	logger          *slog.Logger
	cache           *healthCache
	excludePaths    []string
	excludePrefixes []string
	enabled         bool
	gracePeriod     time.Duration
	// OpenTelemetry metrics
	metrics *MiddlewareMetrics
	// Check mutex to prevent concurrent probes
	checkMu sync.Mutex
}

// healthCache stores recent health check results with metadata
type healthCache struct {
	mu          sync.RWMutex
	ready       bool
	checkedAt   time.Time
	ttl         time.Duration
	lastError   error
	errorCount  int
	lastSuccess time.Time
	checkID     string
}

// MiddlewareMetrics holds OpenTelemetry metrics for the readiness gate
type MiddlewareMetrics struct {
	RequestsTotal  metric.Int64Counter
	CheckAttempts  metric.Int64Counter
	CheckSuccess   metric.Int64Counter
	CheckFailures  metric.Int64Counter
	CheckDuration  metric.Float64Histogram
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	PathExclusions metric.Int64Counter
}

// NewReadinessGate creates a new readiness gate middleware
func NewReadinessGate(checker EngineHealthChecker, logger *slog.Logger) *ReadinessGate {
	return &ReadinessGate{
		checker:     checker,
		logger:      logger.With(slog.String("component", "readiness_gate")),
		enabled:     true,
		gracePeriod: 24 * time.Hour,
		cache: &healthCache{
			ttl: 5 * time.Minute,
		},
		excludePaths: []string{
			"/",
			"/api/health",
			"/api/health/ready",
			"/api/health/live",
			"/api/version",
			"/ws",
			"/metrics",
			"/favicon.ico",
			"/robots.txt",
		},
		excludePrefixes: []string{
			"/api/export/",
			"/static/",
		},
	}
}

// Handler returns the middleware handler function
func (rg *ReadinessGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tracer := otel.Tracer("portex.readiness")

		// Start OpenTelemetry span for the health check
		ctx, span := tracer.Start(ctx, "readiness_gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("component", "readiness_gate"),
			),
		)
		defer span.End()

		// Get request ID and trace ID for logging
		reqID := middleware.GetReqID(ctx)
		traceID := infrastructure.TraceIDFromContext(ctx)
		if traceID == "" {
			traceID = reqID
		}

		// Record request metric
		if rg.metrics != nil {
			rg.metrics.RequestsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("path", r.URL.Path),
				attribute.String("method", r.Method),
			))
		}

		// Check if the gate is enabled
		if !rg.enabled {
			rg.logger.DebugContext(ctx, "readiness gate disabled",
				slog.String("path", r.URL.Path),
				slog.String("trace_id", traceID))
			next.ServeHTTP(w, r)
			return
		}

		// Check if path should be excluded from gating
		if rg.shouldExcludePath(r.URL.Path) {
			span.SetAttributes(
				attribute.String("readiness.check", "excluded"),
				attribute.String("exclusion_reason", "path_excluded"),
			)

			// Record path exclusion metric
			if rg.metrics != nil {
				rg.metrics.PathExclusions.Add(ctx, 1, metric.WithAttributes(
					attribute.String("path", r.URL.Path),
					attribute.String("reason", "excluded_path"),
				))
			}

			rg.logger.DebugContext(ctx, "skipping readiness check for excluded path",
				slog.String("path", r.URL.Path),
				slog.String("trace_id", traceID))
			next.ServeHTTP(w, r)
			return
		}

		// Check cached health result
		if rg.isCacheValid() {
			span.SetAttributes(
				attribute.String("readiness.check", "cached"),
				attribute.Bool("cache.hit", true),
				attribute.Int64("cache.age_seconds", int64(time.Since(rg.cache.checkedAt).Seconds())),
			)

			// Record cache hit metric
			if rg.metrics != nil {
				rg.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(
					attribute.String("component", "readiness_gate"),
				))
			}

			rg.logger.DebugContext(ctx, "using cached engine health result",
				slog.String("trace_id", traceID),
				slog.String("cache_age", time.Since(rg.cache.checkedAt).String()))
			next.ServeHTTP(w, r)
			return
		}

		// Record cache miss metric
		if rg.metrics != nil {
			rg.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(
				attribute.String("component", "readiness_gate"),
			))
		}

		// Acquire check lock to prevent concurrent probes
		rg.checkMu.Lock()
		defer rg.checkMu.Unlock()

		// Double-check cache after acquiring lock - another goroutine might have probed
		if rg.isCacheValid() {
			span.SetAttributes(
				attribute.String("readiness.check", "cached_after_lock"),
				attribute.Bool("cache.hit", true),
			)

			if rg.metrics != nil {
				rg.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(
					attribute.String("component", "readiness_gate"),
				))
			}

			rg.logger.DebugContext(ctx, "using cached engine health result after lock acquisition",
				slog.String("trace_id", traceID))
			next.ServeHTTP(w, r)
			return
		}

		// Probe engine health with timeout
		start := time.Now()
		ready, err := rg.checkHealth(ctx)
		checkDuration := time.Since(start)

		// Record check metrics
		if rg.metrics != nil {
			rg.metrics.CheckAttempts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("component", "readiness_gate"),
			))
			rg.metrics.CheckDuration.Record(ctx, checkDuration.Seconds(), metric.WithAttributes(
				attribute.String("component", "readiness_gate"),
			))

			if err == nil && ready {
				rg.metrics.CheckSuccess.Add(ctx, 1)
			} else {
				rg.metrics.CheckFailures.Add(ctx, 1)
			}
		}

		// Add span attributes for check result
		span.SetAttributes(
			attribute.String("readiness.check", "performed"),
			attribute.Bool("readiness.ready", ready),
			attribute.Bool("readiness.has_error", err != nil),
			attribute.Float64("readiness.duration_ms", float64(checkDuration.Milliseconds())),
		)

		rg.logger.InfoContext(ctx, "engine health check performed",
			slog.String("trace_id", traceID),
			slog.String("path", r.URL.Path),
			slog.Duration("check_duration", checkDuration),
			slog.Bool("ready", ready),
			slog.Bool("has_error", err != nil))

		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.type", classifyCheckError(err)))

			rg.logger.ErrorContext(ctx, "engine health check error",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path),
				slog.String("trace_id", traceID),
				slog.Duration("check_duration", checkDuration))

			// Update cache with error state
			rg.updateCacheWithError(err)

			// Transient probe failures after a recent success degrade gracefully
			if rg.handleCheckError(w, r, err, traceID) {
				next.ServeHTTP(w, r)
			}
			return
		}

		if !ready {
			rg.logger.WarnContext(ctx, "engines not ready",
				slog.String("path", r.URL.Path),
				slog.String("trace_id", traceID),
				slog.Duration("check_duration", checkDuration))

			// Update cache with not-ready state
			rg.updateCache(false)

			rg.respondUnavailable(w, r, traceID, "Extraction engines are not ready. Please retry shortly.")
			return
		}

		// Update cache with successful check
		rg.updateCache(true)

		// Continue to next handler
		next.ServeHTTP(w, r)
	})
}

// shouldExcludePath checks if a path should be excluded from gating
func (rg *ReadinessGate) shouldExcludePath(path string) bool {
	// Check exact matches
	for _, excluded := range rg.excludePaths {
		if path == excluded {
			return true
		}
	}

	// Check prefix matches
	for _, prefix := range rg.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

// isCacheValid checks if the cached health result is still fresh
func (rg *ReadinessGate) isCacheValid() bool {
	rg.cache.mu.RLock()
	defer rg.cache.mu.RUnlock()

	// Check if cache has expired
	if time.Since(rg.cache.checkedAt) > rg.cache.ttl {
		return false
	}

	// Not-ready results should trigger re-probing more frequently
	if !rg.cache.ready {
		shortTTL := 1 * time.Minute
		if time.Since(rg.cache.checkedAt) > shortTTL {
			return false
		}
	}

	return true
}

// updateCache updates the cached health result
func (rg *ReadinessGate) updateCache(ready bool) {
	rg.cache.mu.Lock()
	defer rg.cache.mu.Unlock()

	now := time.Now()
	rg.cache.ready = ready
	rg.cache.checkedAt = now
	rg.cache.lastError = nil
	rg.cache.checkID = fmt.Sprintf("chk-%d", now.UnixNano())

	if ready {
		rg.cache.lastSuccess = now
		rg.cache.errorCount = 0
	}
}

// updateCacheWithError updates the cache when the probe fails with an error
func (rg *ReadinessGate) updateCacheWithError(err error) {
	rg.cache.mu.Lock()
	defer rg.cache.mu.Unlock()

	now := time.Now()
	rg.cache.ready = false
	rg.cache.checkedAt = now
	rg.cache.lastError = err
	rg.cache.errorCount++
	rg.cache.checkID = fmt.Sprintf("err-%d", now.UnixNano())
}

// checkHealth performs the actual engine health probe
func (rg *ReadinessGate) checkHealth(ctx context.Context) (bool, error) {
	// Add timeout to prevent hanging
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Create a channel for the result
	resultCh := make(chan struct {
		ready bool
		err   error
	}, 1)

	// Run probe in goroutine to respect context
	go func() {
		ready, err := rg.checker.Ready()
		resultCh <- struct {
			ready bool
			err   error
		}{ready, err}
	}()

	// Wait for result or timeout
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case result := <-resultCh:
		return result.ready, result.err
	}
}

// AddExcludePath adds a path to be excluded from readiness gating
func (rg *ReadinessGate) AddExcludePath(path string) {
	rg.excludePaths = append(rg.excludePaths, path)
}

// AddExcludePrefix adds a path prefix to be excluded from readiness gating
func (rg *ReadinessGate) AddExcludePrefix(prefix string) {
	rg.excludePrefixes = append(rg.excludePrefixes, prefix)
}

// SetCacheTTL sets the cache time-to-live duration
func (rg *ReadinessGate) SetCacheTTL(ttl time.Duration) {
	rg.cache.mu.Lock()
	defer rg.cache.mu.Unlock()
	rg.cache.ttl = ttl
}

// InvalidateCache invalidates the cached health result
func (rg *ReadinessGate) InvalidateCache() {
	rg.cache.mu.Lock()
	defer rg.cache.mu.Unlock()
	rg.cache.checkedAt = time.Time{}
	rg.cache.ready = false
	rg.cache.lastError = nil
	rg.cache.errorCount = 0
}

// handleCheckError handles probe errors. Returns true when the request may
// continue under graceful degradation.
func (rg *ReadinessGate) handleCheckError(w http.ResponseWriter, r *http.Request, err error, traceID string) bool {
	ctx := r.Context()

	// For network errors, allow continued access within the grace period if we
	// had a recent successful probe
	if isNetworkError(err) || isTimeoutError(err) {
		rg.cache.mu.RLock()
		hasRecentSuccess := !rg.cache.lastSuccess.IsZero() && time.Since(rg.cache.lastSuccess) < rg.gracePeriod
		rg.cache.mu.RUnlock()

		if hasRecentSuccess {
			rg.logger.WarnContext(ctx, "engine health probe network error, allowing graceful degradation",
				slog.String("error", err.Error()),
				slog.String("trace_id", traceID),
				slog.Duration("time_since_last_success", time.Since(rg.cache.lastSuccess)))
			return true
		}
	}

	rg.respondUnavailable(w, r, traceID, "Unable to verify extraction engine availability. Please retry shortly.")
	return false
}

// respondUnavailable writes an RFC 7807 engine-unavailable response
func (rg *ReadinessGate) respondUnavailable(w http.ResponseWriter, r *http.Request, traceID, detail string) {
	problem := errors.NewProblemDetails(
		http.StatusServiceUnavailable,
		errors.TypeEngineUnavailable,
		"Extraction Engine Unavailable",
		detail,
		fmt.Sprintf("%s#%s", r.URL.Path, traceID),
	).WithExtension("trace_id", traceID).
		WithExtension("error_type", "engine_unavailable")

	w.Header().Set("Retry-After", "30")
	render.Render(w, r, problem)
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "unreachable")
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	return err == context.DeadlineExceeded || strings.Contains(err.Error(), "timeout")
}

// SetEnabled enables or disables the readiness gate
func (rg *ReadinessGate) SetEnabled(enabled bool) {
	rg.enabled = enabled
}

// SetGracePeriod sets how long after a successful probe transient failures
// are tolerated
func (rg *ReadinessGate) SetGracePeriod(d time.Duration) {
	rg.gracePeriod = d
}

// GetCacheStats returns cache statistics for monitoring
func (rg *ReadinessGate) GetCacheStats() map[string]interface{} {
	rg.cache.mu.RLock()
	defer rg.cache.mu.RUnlock()

	return map[string]interface{}{
		"ready":             rg.cache.ready,
		"last_checked":      rg.cache.checkedAt,
		"ttl_seconds":       int(rg.cache.ttl.Seconds()),
		"error_count":       rg.cache.errorCount,
		"last_success":      rg.cache.lastSuccess,
		"last_error":        rg.cache.lastError,
		"check_id":          rg.cache.checkID,
		"cache_age_seconds": int(time.Since(rg.cache.checkedAt).Seconds()),
	}
}

// SetMetrics sets the OpenTelemetry metrics for the middleware
func (rg *ReadinessGate) SetMetrics(metrics *MiddlewareMetrics) {
	rg.metrics = metrics
}

// classifyCheckError categorizes probe errors for observability
func classifyCheckError(err error) string {
	if err == nil {
		return ""
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"):
		return "network_error"
	case strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "forbidden"):
		return "auth_error"
	default:
		return "unknown_error"
	}
}
