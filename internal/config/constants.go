package config

import "time"

// Application constants shared across the portex binaries.
const (
	// Application Info
	AppName    = "Portex"
	AppVersion = "1.2.0"

	// Identifier validation
	IdentifierLength = 12

	// Extraction defaults
	DefaultAccuracyThreshold = 0.999
	DefaultPlausibleValueMin = 1000
	DefaultPlausibleValueMax = 50000000
	DefaultWindowSize        = 800
	DefaultEnhancementChunk  = 8

	// Rate Limiting
	DefaultRateLimit = 100 // requests per second
	DefaultBurstSize = 50

	// Network Timeouts
	DefaultHTTPTimeout  = 30 * time.Second
	OCRRequestTimeout   = 60 * time.Second
	ReasoningTimeout    = 45 * time.Second
	WebSocketPingPeriod = 30 * time.Second
	WebSocketPongWait   = 60 * time.Second

	// WebSocket Buffer Sizes
	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024

	// File Paths (relative to working directory)
	DefaultDataDir    = "data"
	DefaultExportsDir = "data/exports"
	DefaultLogsDir    = "logs"

	// Upload limits
	DefaultMaxUploadBytes = 50 << 20 // 50MB

	// Log Settings
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
	MaxLogFileSize    = 100 * 1024 * 1024 // 100MB
	MaxLogFileAge     = 30                // days
	MaxLogFileBackups = 10
)

// API Endpoints (internal)
const (
	APIBasePath        = "/api"
	ExtractionEndpoint = "/api/extraction"
	ExportEndpoint     = "/api/export"
	HealthEndpoint     = "/api/health"
	MetricsEndpoint    = "/metrics"

	// WebSocket Endpoints
	WebSocketEndpoint = "/ws"
)
