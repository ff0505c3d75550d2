package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"portex/internal/config"
	"portex/internal/pipeline"
)

// Probe checks one external dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// ClientCounter reports connected progress subscribers.
type ClientCounter interface {
	ClientCount() int
}

// HealthService answers the health, readiness and version endpoints and
// backs the readiness gate in front of the extraction routes.
type HealthService struct {
	version   string
	buildTime string
	buildID   string
	paths     config.PathsConfig
	store     *pipeline.MemoryRunStore
	hub       ClientCounter
	probes    map[string]Probe
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SystemStats represents system statistics
type SystemStats struct {
	UptimeSeconds    float64        `json:"uptime_seconds"`
	Runs             map[string]int `json:"runs"`
	ProgressClients  int            `json:"progress_clients"`
	ExportFiles      int            `json:"export_files"`
	ExportSizeBytes  int64          `json:"export_size_bytes"`
	GoVersion        string         `json:"go_version"`
	OS               string         `json:"os"`
	Arch             string         `json:"arch"`
}

// NewHealthService creates a health service. probes maps a dependency
// name (e.g. "ocr", "reasoning") to its check; pass nil entries for
// dependencies that are not configured.
func NewHealthService(version, buildTime, buildID string, paths config.PathsConfig, store *pipeline.MemoryRunStore, hub ClientCounter, probes map[string]Probe, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	if probes == nil {
		probes = map[string]Probe{}
	}

	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime),
		slog.String("build_id", buildID),
		slog.Int("probes", len(probes)))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		buildID:   buildID,
		paths:     paths,
		store:     store,
		hub:       hub,
		probes:    probes,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.Debug("HealthCheck: performing health check",
		slog.String("version", hs.version),
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]interface{}),
	}

	for name, probe := range hs.probes {
		status.Services[name] = hs.checkProbe(ctx, name, probe)
	}
	status.Services["runs"] = hs.checkRunStore()
	status.Services["exports"] = hs.checkExportsHealth()

	allReady := true
	for _, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status != "ready" {
			allReady = false
			break
		}
	}
	if !allReady {
		status.Status = "not_ready"
	}

	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Ready reports whether every configured engine probe passes. It backs
// the readiness gate guarding the extraction routes; with no probes
// configured the service is always ready (local-only setups).
func (hs *HealthService) Ready() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for name, probe := range hs.probes {
		if probe == nil {
			continue
		}
		if err := probe(ctx); err != nil {
			return false, fmt.Errorf("%s: %w", name, err)
		}
	}
	return true, nil
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":      hs.version,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}

	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	if hs.buildID != "" {
		result["build_id"] = hs.buildID
	}

	return result
}

// SystemStats returns system statistics
func (hs *HealthService) SystemStats(ctx context.Context) (SystemStats, error) {
	var exportFiles int
	var exportSize int64

	filepath.Walk(hs.paths.ExportsDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			exportFiles++
			exportSize += info.Size()
		}
		return nil
	})

	stats := SystemStats{
		UptimeSeconds:   time.Since(hs.startTime).Seconds(),
		ExportFiles:     exportFiles,
		ExportSizeBytes: exportSize,
		GoVersion:       runtime.Version(),
		OS:              runtime.GOOS,
		Arch:            runtime.GOARCH,
	}
	if hs.store != nil {
		stats.Runs = hs.store.Stats()
	}
	if hs.hub != nil {
		stats.ProgressClients = hs.hub.ClientCount()
	}

	return stats, nil
}

// checkProbe runs one dependency probe with a short deadline.
func (hs *HealthService) checkProbe(ctx context.Context, name string, probe Probe) ServiceHealth {
	if probe == nil {
		return ServiceHealth{
			Status:  "ready",
			Message: fmt.Sprintf("%s not configured", name),
		}
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := probe(pctx); err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("%s unavailable: %v", name, err),
		}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%s is healthy", name),
	}
}

// checkRunStore checks that the run store is serving.
func (hs *HealthService) checkRunStore() ServiceHealth {
	if hs.store == nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: "run store not initialized",
		}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d runs tracked", hs.store.Stats()["total"]),
		Uptime:  time.Since(hs.startTime).String(),
	}
}

// checkExportsHealth checks the exports directory is writable.
func (hs *HealthService) checkExportsHealth() ServiceHealth {
	dir := hs.paths.ExportsDir
	if dir == "" {
		return ServiceHealth{Status: "ready", Message: "exports disabled"}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("Cannot write to exports directory: %v", err),
		}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: "Exports directory is healthy",
	}
}

// GetDetailedHealth returns comprehensive health information
func (hs *HealthService) GetDetailedHealth(ctx context.Context) map[string]interface{} {
	stats, _ := hs.SystemStats(ctx)

	return map[string]interface{}{
		"health":    hs.HealthCheck(ctx),
		"readiness": hs.ReadinessCheck(ctx),
		"liveness":  hs.LivenessCheck(ctx),
		"stats":     stats,
	}
}
