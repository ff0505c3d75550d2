package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "portex-statement-extractor"
	ServiceVersion = "v1.2.0"
	MeterName      = "portex"
)

// OTelConfig selects which exporters the process wires up. Exporter values
// of "none" disable the corresponding signal even when the Enable flag is set.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout" or "none"
	MetricExporter string // "prometheus" or "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
	PrometheusPort string
}

// DefaultOTelConfig samples everything and serves metrics over Prometheus,
// which is what we want everywhere except load tests.
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return &OTelConfig{
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    env,
		TraceExporter:  "stdout",
		MetricExporter: "prometheus",
		EnableMetrics:  true,
		EnableTracing:  true,
		SampleRatio:    1.0,
		PrometheusPort: "9090",
	}
}

// OTelProviders bundles the SDK providers plus the instruments a caller
// actually needs: a tracer, a meter, and the scrape handler for /metrics.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel builds tracer and meter providers per cfg and installs them
// as the process-global defaults. A nil cfg means DefaultOTelConfig.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", instanceID()),
	)

	p := &OTelProviders{Logger: logger}

	if cfg.EnableTracing && cfg.TraceExporter != "none" {
		tp, err := newTracerProvider(cfg, res)
		if err != nil {
			return nil, fmt.Errorf("tracing setup: %w", err)
		}
		p.TracerProvider = tp
		p.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
		otel.SetTracerProvider(tp)
	}

	if cfg.EnableMetrics && cfg.MetricExporter != "none" {
		mp, scrape, err := newMeterProvider(cfg, res)
		if err != nil {
			return nil, fmt.Errorf("metrics setup: %w", err)
		}
		p.MeterProvider = mp
		p.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
		p.PrometheusHTTP = scrape
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing", p.TracerProvider != nil),
		slog.Bool("metrics", p.MeterProvider != nil))

	return p, nil
}

func newTracerProvider(cfg *OTelConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	if cfg.TraceExporter != "stdout" {
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.TraceExporter)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	), nil
}

// newMeterProvider uses a dedicated Prometheus registry so repeated
// initialization (tests, restarts under supervision) never trips
// duplicate-collector registration on the global one.
func newMeterProvider(cfg *OTelConfig, res *resource.Resource) (*sdkmetric.MeterProvider, http.Handler, error) {
	if cfg.MetricExporter != "prometheus" {
		return nil, nil, fmt.Errorf("unsupported metric exporter %q", cfg.MetricExporter)
	}
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Shutdown flushes and stops both providers, joining any errors.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		errs = append(errs, p.TracerProvider.Shutdown(ctx))
	}
	if p.MeterProvider != nil {
		errs = append(errs, p.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func instanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// BusinessMetrics holds the instruments the extraction service and HTTP
// layer record against. Create once per process via CreateBusinessMetrics.
type BusinessMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	RunExecutionsTotal metric.Int64Counter
	RunDuration        metric.Float64Histogram
	RunStagesTotal     metric.Int64Counter
	RunStageDuration   metric.Float64Histogram
	ActiveRuns         metric.Int64UpDownCounter
	RunErrors          metric.Int64Counter
	RunCancellations   metric.Int64Counter
	BytesProcessed     metric.Int64Counter

	EngineRequests metric.Int64Counter
	EngineFailures metric.Int64Counter
	EngineDuration metric.Float64Histogram

	SecuritiesExtracted metric.Int64Histogram
	FusionConflicts     metric.Int64Counter
	AccuracyScore       metric.Float64Histogram
	GateDecisions       metric.Int64Counter

	SystemErrors metric.Int64Counter
	SystemUptime metric.Float64UpDownCounter
}

// instrumentSet accumulates the first creation error so CreateBusinessMetrics
// stays a flat list of declarations instead of twenty err checks.
type instrumentSet struct {
	meter metric.Meter
	err   error
}

func (s *instrumentSet) counter(name, desc string) metric.Int64Counter {
	c, err := s.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("instrument %s: %w", name, err)
	}
	return c
}

func (s *instrumentSet) counterBytes(name, desc string) metric.Int64Counter {
	c, err := s.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("By"))
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("instrument %s: %w", name, err)
	}
	return c
}

func (s *instrumentSet) seconds(name, desc string) metric.Float64Histogram {
	h, err := s.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("instrument %s: %w", name, err)
	}
	return h
}

func (s *instrumentSet) histogram(name, desc string) metric.Int64Histogram {
	h, err := s.meter.Int64Histogram(name, metric.WithDescription(desc))
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("instrument %s: %w", name, err)
	}
	return h
}

func (s *instrumentSet) floatHistogram(name, desc string) metric.Float64Histogram {
	h, err := s.meter.Float64Histogram(name, metric.WithDescription(desc))
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("instrument %s: %w", name, err)
	}
	return h
}

func (s *instrumentSet) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := s.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("instrument %s: %w", name, err)
	}
	return c
}

func (s *instrumentSet) floatUpDown(name, desc string) metric.Float64UpDownCounter {
	c, err := s.meter.Float64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit("s"))
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("instrument %s: %w", name, err)
	}
	return c
}

// CreateBusinessMetrics registers every application instrument on the meter.
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	set := &instrumentSet{meter: meter}

	m := &BusinessMetrics{
		HTTPRequestsTotal:   set.counter("http_requests_total", "Total number of HTTP requests"),
		HTTPRequestDuration: set.seconds("http_request_duration_seconds", "HTTP request duration in seconds"),
		HTTPActiveRequests:  set.upDown("http_active_requests", "Number of in-flight HTTP requests"),

		RunExecutionsTotal: set.counter("extraction_runs_total", "Total number of extraction runs"),
		RunDuration:        set.seconds("extraction_run_duration_seconds", "Extraction run duration in seconds"),
		RunStagesTotal:     set.counter("extraction_stages_total", "Total number of pipeline stages executed"),
		RunStageDuration:   set.seconds("extraction_stage_duration_seconds", "Pipeline stage duration in seconds"),
		ActiveRuns:         set.upDown("extraction_active_runs", "Number of extraction runs in flight"),
		RunErrors:          set.counter("extraction_errors_total", "Total number of failed extraction runs"),
		RunCancellations:   set.counter("extraction_cancellations_total", "Total number of cancelled extraction runs"),
		BytesProcessed:     set.counterBytes("extraction_bytes_processed", "Total bytes of document content processed"),

		EngineRequests: set.counter("engine_requests_total", "Total number of extraction engine invocations"),
		EngineFailures: set.counter("engine_failures_total", "Total number of extraction engine failures"),
		EngineDuration: set.seconds("engine_request_duration_seconds", "Extraction engine invocation duration in seconds"),

		SecuritiesExtracted: set.histogram("securities_extracted", "Number of securities extracted per run"),
		FusionConflicts:     set.counter("fusion_conflicts_total", "Cross-strategy value conflicts recorded during fusion"),
		AccuracyScore:       set.floatHistogram("extraction_accuracy_score", "Accuracy score of completed extraction runs"),
		GateDecisions:       set.counter("gate_decisions_total", "Quality gate decisions by state"),

		SystemErrors: set.counter("system_errors_total", "Total number of system errors"),
		SystemUptime: set.floatUpDown("system_uptime_seconds", "System uptime in seconds"),
	}

	if set.err != nil {
		return nil, set.err
	}
	return m, nil
}

type metricsContextKey struct{}

// ContextWithMetrics stashes the instruments on the context so layers
// below the HTTP stack can record without holding a reference.
func ContextWithMetrics(ctx context.Context, metrics *BusinessMetrics) context.Context {
	return context.WithValue(ctx, metricsContextKey{}, metrics)
}

// MetricsFromContext returns the instruments stored by ContextWithMetrics,
// or nil when none are attached.
func MetricsFromContext(ctx context.Context) *BusinessMetrics {
	m, _ := ctx.Value(metricsContextKey{}).(*BusinessMetrics)
	return m
}

// RecordEngineCall records one extraction-engine invocation against the
// context's instruments. Safe to call when no metrics are attached.
func RecordEngineCall(ctx context.Context, engine string, duration time.Duration, success bool) {
	metrics := MetricsFromContext(ctx)
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("engine", engine))
	metrics.EngineRequests.Add(ctx, 1, attrs)
	metrics.EngineDuration.Record(ctx, duration.Seconds(), attrs)
	if !success {
		metrics.EngineFailures.Add(ctx, 1, attrs)
	}
}

// RecordFusionConflicts counts cross-strategy conflicts surfaced by a run.
func RecordFusionConflicts(ctx context.Context, metrics *BusinessMetrics, runID string, conflicts int64) {
	if metrics == nil || conflicts == 0 {
		return
	}
	metrics.FusionConflicts.Add(ctx, conflicts,
		metric.WithAttributes(attribute.String("run.id", runID)))
}

// TraceIDFromContext returns the active span's trace ID, or "" when no
// valid span is attached. Used for log correlation.
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

func toAttributes(fields map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}

// AddSpanEvent attaches a named event to the current span if it is recording.
func AddSpanEvent(ctx context.Context, name string, fields map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(toAttributes(fields)...))
}

// SetSpanAttributes sets attributes on the current span if it is recording.
func SetSpanAttributes(ctx context.Context, fields map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(toAttributes(fields)...)
}

// RecordError marks the current span failed and records err on it.
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

func statusAttr(success bool) attribute.KeyValue {
	if success {
		return attribute.String("status", "success")
	}
	return attribute.String("status", "failure")
}

// RecordRunMetrics records counters and duration for a finished run.
// All Record* helpers tolerate a nil metrics receiver.
func RecordRunMetrics(ctx context.Context, metrics *BusinessMetrics, runID, institution string, duration time.Duration, success bool, err error) {
	if metrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("run.id", runID),
		attribute.String("run.institution", institution),
	}
	metrics.RunExecutionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RunDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(append(attrs, statusAttr(success))...))

	if err != nil {
		metrics.RunErrors.Add(ctx, 1,
			metric.WithAttributes(append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))...))
	}

	AddSpanEvent(ctx, "run.metrics_recorded", map[string]interface{}{
		"run.id":           runID,
		"success":          success,
		"duration_seconds": duration.Seconds(),
	})
}

// RecordStageMetrics records execution count and duration for one pipeline stage.
func RecordStageMetrics(ctx context.Context, metrics *BusinessMetrics, runID, stage string, duration time.Duration, success bool) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("run.id", runID),
		attribute.String("stage", stage),
	}
	metrics.RunStagesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RunStageDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(append(attrs, statusAttr(success))...))
}

// RecordActiveRunChange adjusts the in-flight run gauge by delta.
func RecordActiveRunChange(ctx context.Context, metrics *BusinessMetrics, delta int64, institution string) {
	if metrics == nil {
		return
	}
	metrics.ActiveRuns.Add(ctx, delta,
		metric.WithAttributes(attribute.String("run.institution", institution)))
}

// RecordRunCancellation counts a cancelled run with its reason.
func RecordRunCancellation(ctx context.Context, metrics *BusinessMetrics, runID, reason string) {
	if metrics == nil {
		return
	}
	metrics.RunCancellations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("reason", reason),
	))
}

// RecordEngineFailure counts a failed engine invocation.
func RecordEngineFailure(ctx context.Context, metrics *BusinessMetrics, engine, reason string) {
	if metrics == nil {
		return
	}
	metrics.EngineFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("reason", reason),
	))
}

// RecordGateDecision records a quality gate outcome plus the per-run
// securities count and, when computable, the accuracy score.
func RecordGateDecision(ctx context.Context, metrics *BusinessMetrics, runID, state string, accuracy *float64, securities int64) {
	if metrics == nil {
		return
	}
	metrics.GateDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)))

	runAttrs := metric.WithAttributes(attribute.String("run.id", runID))
	metrics.SecuritiesExtracted.Record(ctx, securities, runAttrs)
	if accuracy != nil {
		metrics.AccuracyScore.Record(ctx, *accuracy, runAttrs)
	}
}
