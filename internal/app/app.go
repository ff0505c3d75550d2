package app

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"portex/internal/config"
	"portex/internal/engines"
	apierrors "portex/internal/errors"
	"portex/internal/extract"
	"portex/internal/fusion"
	"portex/internal/infrastructure"
	"portex/internal/institution"
	customMiddleware "portex/internal/middleware"
	"portex/internal/numeric"
	"portex/internal/pipeline"
	"portex/internal/quality"
	"portex/internal/services"
	handlers "portex/internal/transport/http"
	"portex/internal/validation"
	ws "portex/internal/websocket"
)

const (
	VERSION = "1.0.0"
	AppName = "portex statement extraction service"
)

var (
	// BuildTime is set at compile time
	BuildTime = time.Now().Format(time.RFC3339)
	// BuildID is a unique identifier for this build
	BuildID = generateBuildID()
)

func generateBuildID() string {
	h := sha256.New()
	h.Write([]byte(VERSION))
	h.Write([]byte(time.Now().Format("2006-01-02")))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Application represents the main application container
type Application struct {
	Config            *config.Config
	Router            *chi.Mux
	Server            *http.Server
	WebSocketHub      *ws.Hub
	Registry          *institution.Registry
	Pipeline          *pipeline.Pipeline
	RunStore          *pipeline.MemoryRunStore
	ExtractionService *services.ExtractionService
	ExportService     *services.ExportService
	HealthService     *services.HealthService
	Logger            *slog.Logger
	OTelProviders     *infrastructure.OTelProviders
	BusinessMetrics   *infrastructure.BusinessMetrics
	SystemMetrics     *infrastructure.SystemMetricsCollector
}

// NewApplication creates a new application instance with dependency injection
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig wires the application on top of an already
// loaded configuration.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.String("build_id", BuildID))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	if err := ws.InitOTelMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize WebSocket OpenTelemetry metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices() error {
	cfg := a.Config

	// WebSocket hub broadcasts pipeline stage transitions to clients.
	hub := ws.NewHub(a.Logger)
	hub.Start()
	a.WebSocketHub = hub

	businessMetrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		a.Logger.Warn("business metrics unavailable", slog.String("error", err.Error()))
	}
	a.BusinessMetrics = businessMetrics

	systemMetrics, err := infrastructure.NewSystemMetricsCollector(a.OTelProviders.Meter, 30*time.Second)
	if err != nil {
		a.Logger.Warn("system metrics unavailable", slog.String("error", err.Error()))
	}
	a.SystemMetrics = systemMetrics

	registry, err := institution.LoadRegistry(cfg.Paths.RegistryFile)
	if err != nil {
		return fmt.Errorf("failed to load institution registry: %w", err)
	}
	a.Registry = registry

	a.Pipeline = AssemblePipelineWithRegistry(cfg, registry, ws.NewProgressPublisher(hub, a.Logger), a.Logger)

	a.RunStore = pipeline.NewMemoryRunStore()

	docValidator := validation.NewDocumentValidator(cfg.Extraction.MaxUploadBytes, a.Logger)

	a.ExtractionService = services.NewExtractionService(
		a.Pipeline,
		a.RunStore,
		docValidator,
		businessMetrics,
		services.ExtractionServiceConfig{
			RunTimeout: cfg.Server.RunTimeout,
			Retention:  cfg.Extraction.RunRetention,
		},
		a.Logger,
	)

	a.ExportService = services.NewExportService(a.RunStore, cfg.GetExportsDir(), a.Logger)

	a.HealthService = services.NewHealthService(
		VERSION,
		BuildTime,
		BuildID,
		cfg.Paths,
		a.RunStore,
		hub,
		a.engineProbes(),
		a.Logger,
	)

	return nil
}

// AssemblePipeline builds the extraction pipeline from configuration.
// The remote engines and the assisted strategy are wired only when their
// endpoints are configured; the pipeline degrades by exclusion otherwise.
// A nil publisher disables progress events.
func AssemblePipeline(cfg *config.Config, publisher pipeline.Publisher, logger *slog.Logger) (*pipeline.Pipeline, error) {
	registry, err := institution.LoadRegistry(cfg.Paths.RegistryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load institution registry: %w", err)
	}
	return AssemblePipelineWithRegistry(cfg, registry, publisher, logger), nil
}

// AssemblePipelineWithRegistry builds the pipeline against an already
// loaded signature registry.
func AssemblePipelineWithRegistry(cfg *config.Config, registry *institution.Registry, publisher pipeline.Publisher, logger *slog.Logger) *pipeline.Pipeline {
	normalizer := numeric.NewNormalizer(numeric.Window{
		Min: decimal.NewFromFloat(cfg.Extraction.PlausibleValueMin),
		Max: decimal.NewFromFloat(cfg.Extraction.PlausibleValueMax),
	})

	windowConfig := extract.DefaultWindowStrategyConfig()
	if cfg.Extraction.WindowSize > 0 {
		windowConfig.WindowSize = cfg.Extraction.WindowSize
	}

	strategies := []extract.Strategy{
		extract.NewTableStrategy(registry, normalizer, extract.DefaultTableStrategyConfig(), logger),
		extract.NewWindowStrategy(normalizer, windowConfig, logger),
	}

	var enhancer *engines.Enhancer
	if cfg.Engines.ReasoningBaseURL != "" {
		reasoning := engines.NewReasoningClient(engines.ReasoningConfig{
			APIKey:  cfg.Engines.ReasoningAPIKey,
			BaseURL: cfg.Engines.ReasoningBaseURL,
			Model:   cfg.Engines.ReasoningModel,
			Timeout: cfg.Engines.ReasoningTimeout,
		}, logger)

		strategies = append(strategies,
			extract.NewAssistedStrategy(reasoning, extract.DefaultAssistedStrategyConfig(), logger))

		enhancer = engines.NewEnhancer(reasoning, engines.EnhancerConfig{
			ChunkSize:         cfg.Engines.EnhancementChunkSize,
			RequestsPerSecond: cfg.Engines.EnhancementRPS,
		}, logger)
	} else {
		logger.Info("reasoning service not configured; assisted strategy and enhancement disabled")
	}

	var ocr engines.ExtractionEngine
	if cfg.Engines.OCRBaseURL != "" {
		ocr = engines.NewHTTPEngine(engines.HTTPEngineConfig{
			Name:    "ocr",
			BaseURL: cfg.Engines.OCRBaseURL,
			APIKey:  cfg.Engines.OCRAPIKey,
			Timeout: cfg.Engines.OCRTimeout,
		}, logger)
	} else {
		logger.Info("OCR engine not configured; PDF and scan documents will be rejected")
	}

	gateConfig := quality.DefaultGateConfig()
	gateConfig.AccuracyThreshold = cfg.Extraction.AccuracyThreshold

	deps := pipeline.Deps{
		Classifier:  institution.NewClassifier(registry, institution.DefaultClassifierConfig(), logger),
		Strategies:  strategies,
		Merger:      fusion.NewMerger(fusion.DefaultMergerConfig(), logger),
		Enhancer:    enhancer,
		Validator:   quality.NewValidator(quality.DefaultValidatorConfig(), logger),
		Gate:        quality.NewGate(gateConfig, logger),
		Text:        engines.TextEngine{},
		Spreadsheet: engines.NewSpreadsheetEngine(logger),
		OCR:         ocr,
		Publisher:   publisher,
		Logger:      logger,
	}

	return pipeline.New(pipeline.Config{StrategyTimeout: cfg.Extraction.StrategyTimeout}, deps)
}

// engineProbes builds readiness probes for the configured remote engines.
// A local-only deployment has no probes and is always ready.
func (a *Application) engineProbes() map[string]services.Probe {
	probes := make(map[string]services.Probe)

	if url := a.Config.Engines.OCRBaseURL; url != "" {
		probes["ocr"] = httpProbe(url)
	}
	if url := a.Config.Engines.ReasoningBaseURL; url != "" {
		probes["reasoning"] = httpProbe(url)
	}

	return probes
}

// httpProbe reports whether the remote endpoint accepts connections.
// Any HTTP response counts as reachable; auth failures still prove the
// service is up.
func httpProbe(url string) services.Probe {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Minimal middleware that won't interfere with WebSocket upgrades.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// WebSocket route with minimal middleware and tracing.
	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).HandleFunc("/ws", a.handleWebSocket)

	// Everything else gets the full middleware stack.
	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("OpenTelemetry middleware unavailable", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		if a.BusinessMetrics != nil {
			r.Use(customMiddleware.BusinessMetricsMiddleware(a.BusinessMetrics))
		}

		r.Use(customMiddleware.StripSlashes)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.Compress(5))

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.getCORSConfig()))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		// Runs cannot start while a configured remote engine is down;
		// health and metrics endpoints stay reachable.
		readinessGate := customMiddleware.NewReadinessGate(a.HealthService, a.Logger)
		r.Use(readinessGate.Handler)

		a.setupAPIRoutes(r)
	})

	// Prometheus metrics endpoint outside the middleware group.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	errHandler := apierrors.NewErrorHandler(a.Logger, false)
	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.ContentTypeValidator("application/json", "multipart/form-data"))

		requestValidator := customMiddleware.NewValidationMiddleware(
			a.Logger, apierrors.NewErrorHandler(a.Logger, false))
		requestValidator.SetMaxBodySize(a.Config.Extraction.MaxUploadBytes)
		r.Use(requestValidator.ValidateRequest)

		// Standard timeout for control-plane endpoints.
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

			healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
			r.Get("/health", healthHandler.HealthCheck)
			r.Get("/health/ready", healthHandler.ReadinessCheck)
			r.Get("/health/live", healthHandler.LivenessCheck)
			r.Get("/health/stats", healthHandler.SystemStats)
			r.Get("/version", healthHandler.Version)

			r.Get("/institutions", handlers.NewInstitutionHandler(a.Registry, a.Logger).List)

			exportHandler := handlers.NewExportHandler(a.ExportService, a.Logger)
			r.Mount("/exports", exportHandler.Routes())

			r.Post("/logs", handlers.NewClientLogHandler(a.Logger).Handle)
		})

		// Extraction runs get the longer run timeout.
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.RunTimeout, a.Logger))

			extractionHandler := handlers.NewExtractionHandler(
				a.ExtractionService, a.Config.Server.RunTimeout, a.Logger)
			extractionHandler.SetMetrics(a.BusinessMetrics)
			extractionHandler.SetExportHandler(handlers.NewExportHandler(a.ExportService, a.Logger))
			r.Mount("/extraction", extractionHandler.Routes())
		})
	})
}

// getCORSConfig returns CORS configuration based on the security settings.
func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
		},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the application
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	// Hub loop is started during wiring; here we start the retention
	// sweeper that drops finished runs past their retention window.
	go a.ExtractionService.StartCleanup(ctx, time.Hour)

	if a.SystemMetrics != nil {
		go a.SystemMetrics.Start(ctx)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "HTTP server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))

	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.WebSocketHub.Stop()

	if a.SystemMetrics != nil {
		a.SystemMetrics.Stop()
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}

// handleWebSocket upgrades the connection and hands it to the hub. Each
// client runs its read and write pumps on their own goroutines; a panic
// in either tears down only that client.
func (a *Application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = fmt.Sprintf("ws-%d", time.Now().UnixNano())
	}
	ctx := infrastructure.WithTraceID(r.Context(), reqID)

	conn, err := a.wsUpgrader(ctx).Upgrade(w, r, nil)
	if err != nil {
		a.Logger.ErrorContext(ctx, "WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := ws.NewClientWithTrace(a.WebSocketHub, conn, reqID, a.Logger)
	a.WebSocketHub.Register(client)
	a.Logger.InfoContext(ctx, "WebSocket client connected",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("request_id", reqID))

	runPump := func(name string, pump func()) {
		defer func() {
			if rec := recover(); rec != nil {
				a.Logger.ErrorContext(ctx, "WebSocket pump panic",
					slog.String("pump", name),
					slog.Any("panic", rec),
					slog.String("request_id", reqID))
			}
		}()
		pump()
	}
	go runPump("write", client.WritePump)
	go runPump("read", client.ReadPump)
}

// wsUpgrader enforces the configured origin allow-list; requests with no
// Origin header (CLI clients, tests) are always admitted.
func (a *Application) wsUpgrader(ctx context.Context) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
		WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range a.Config.Security.AllowedOrigins {
				if origin == allowed {
					return true
				}
			}
			a.Logger.WarnContext(ctx, "WebSocket origin rejected", slog.String("origin", origin))
			return false
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			a.Logger.ErrorContext(ctx, "WebSocket upgrade rejected",
				slog.Int("status", status),
				slog.String("reason", reason.Error()))
		},
	}
}
