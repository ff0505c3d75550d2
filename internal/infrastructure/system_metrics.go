package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// runtimeGauges are the Go runtime instruments sampled on a ticker.
type runtimeGauges struct {
	goroutines  metric.Int64Gauge
	heapAlloc   metric.Int64Gauge
	heapSys     metric.Int64Gauge
	totalAlloc  metric.Int64Gauge
	gcCycles    metric.Int64Gauge
	gcPause     metric.Float64Histogram
	uptime      metric.Float64Gauge
}

func newRuntimeGauges(meter metric.Meter) (*runtimeGauges, error) {
	g := &runtimeGauges{}
	var err error

	if g.goroutines, err = meter.Int64Gauge("runtime_goroutines",
		metric.WithDescription("Active goroutines")); err != nil {
		return nil, err
	}
	if g.heapAlloc, err = meter.Int64Gauge("runtime_heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if g.heapSys, err = meter.Int64Gauge("runtime_sys_bytes",
		metric.WithDescription("Bytes obtained from the OS"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if g.totalAlloc, err = meter.Int64Gauge("runtime_total_alloc_bytes",
		metric.WithDescription("Cumulative bytes allocated"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if g.gcCycles, err = meter.Int64Gauge("runtime_gc_cycles",
		metric.WithDescription("Completed GC cycles")); err != nil {
		return nil, err
	}
	if g.gcPause, err = meter.Float64Histogram("runtime_gc_pause_seconds",
		metric.WithDescription("Most recent GC pause"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if g.uptime, err = meter.Float64Gauge("process_uptime_seconds",
		metric.WithDescription("Seconds since process start"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return g, nil
}

// SystemStats is one sample of runtime state, also served by the stats
// endpoint.
type SystemStats struct {
	GoRoutines  int64
	HeapAlloc   int64
	HeapSys     int64
	TotalAlloc  int64
	GCCycles    uint32
	LastGCPause time.Duration
	Uptime      time.Duration
	Timestamp   time.Time
}

// SystemMetricsCollector samples the Go runtime on a fixed interval and
// records the values as OTel gauges.
type SystemMetricsCollector struct {
	gauges    *runtimeGauges
	startTime time.Time
	interval  time.Duration
	stop      chan struct{}
}

// NewSystemMetricsCollector registers the runtime instruments.
func NewSystemMetricsCollector(meter metric.Meter, interval time.Duration) (*SystemMetricsCollector, error) {
	gauges, err := newRuntimeGauges(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register runtime gauges: %w", err)
	}
	return &SystemMetricsCollector{
		gauges:    gauges,
		startTime: time.Now(),
		interval:  interval,
		stop:      make(chan struct{}),
	}, nil
}

// Start samples immediately and then on every tick until Stop or
// context cancellation. Run it on its own goroutine.
func (c *SystemMetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample(ctx)
	for {
		select {
		case <-ticker.C:
			c.sample(ctx)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the sampling loop.
func (c *SystemMetricsCollector) Stop() {
	close(c.stop)
}

// GetCurrentStats takes a fresh sample for the stats endpoint.
func (c *SystemMetricsCollector) GetCurrentStats(ctx context.Context) *SystemStats {
	return c.sample(ctx)
}

func (c *SystemMetricsCollector) sample(ctx context.Context) *SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := &SystemStats{
		GoRoutines:  int64(runtime.NumGoroutine()),
		HeapAlloc:   int64(mem.Alloc),
		HeapSys:     int64(mem.Sys),
		TotalAlloc:  int64(mem.TotalAlloc),
		GCCycles:    mem.NumGC,
		LastGCPause: time.Duration(mem.PauseNs[(mem.NumGC+255)%256]),
		Uptime:      time.Since(c.startTime),
		Timestamp:   time.Now(),
	}

	c.gauges.goroutines.Record(ctx, stats.GoRoutines)
	c.gauges.heapAlloc.Record(ctx, stats.HeapAlloc)
	c.gauges.heapSys.Record(ctx, stats.HeapSys)
	c.gauges.totalAlloc.Record(ctx, stats.TotalAlloc)
	c.gauges.gcCycles.Record(ctx, int64(stats.GCCycles))
	c.gauges.uptime.Record(ctx, stats.Uptime.Seconds())
	if stats.LastGCPause > 0 {
		c.gauges.gcPause.Record(ctx, stats.LastGCPause.Seconds())
	}
	return stats
}
