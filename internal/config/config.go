package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the root of the service configuration tree.
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Security   SecurityConfig   `yaml:"security" envconfig:"SECURITY"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Paths      PathsConfig      `yaml:"paths" envconfig:"PATHS"`
	WebSocket  WebSocketConfig  `yaml:"websocket" envconfig:"WEBSOCKET"`
	Extraction ExtractionConfig `yaml:"extraction" envconfig:"EXTRACTION"`
	Engines    EnginesConfig    `yaml:"engines" envconfig:"ENGINES"`
}

// ServerConfig tunes the HTTP listener and per-run timeouts.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	// RunTimeout bounds one whole extraction run; a caller that needs
	// longer re-issues at a coarser grain.
	RunTimeout time.Duration `yaml:"run_timeout" envconfig:"RUN_TIMEOUT" default:"5m"`
}

// SecurityConfig governs CORS and rate limiting.
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig bounds request throughput per instance.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig selects log level and destinations.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// PathsConfig names the directories the service writes to.
type PathsConfig struct {
	DataDir    string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	ExportsDir string `yaml:"exports_dir" envconfig:"EXPORTS_DIR" default:"data/exports"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
	// RegistryFile points at an institution signature table overriding
	// the embedded one. Empty means use the embedded table.
	RegistryFile string `yaml:"registry_file" envconfig:"REGISTRY_FILE"`
}

// WebSocketConfig tunes the progress-event socket.
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" default:"30s"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
}

// ExtractionConfig tunes the extraction pipeline.
type ExtractionConfig struct {
	// AccuracyThreshold is the minimum total-reconciliation accuracy a
	// run must reach to pass the quality gate.
	AccuracyThreshold float64 `yaml:"accuracy_threshold" envconfig:"ACCURACY_THRESHOLD" default:"0.999"`
	// PlausibleValueMin and PlausibleValueMax bound what counts as a
	// position value; they reject page numbers and percentages.
	PlausibleValueMin float64 `yaml:"plausible_value_min" envconfig:"PLAUSIBLE_VALUE_MIN" default:"1000"`
	PlausibleValueMax float64 `yaml:"plausible_value_max" envconfig:"PLAUSIBLE_VALUE_MAX" default:"50000000"`
	// WindowSize is the context window around an identifier, in characters.
	WindowSize int `yaml:"window_size" envconfig:"WINDOW_SIZE" default:"800"`
	// StrategyTimeout bounds each extraction strategy per run.
	StrategyTimeout time.Duration `yaml:"strategy_timeout" envconfig:"STRATEGY_TIMEOUT" default:"30s"`
	// MaxUploadBytes bounds accepted document uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" default:"52428800"`
	// RunRetention is how long finished runs stay queryable.
	RunRetention time.Duration `yaml:"run_retention" envconfig:"RUN_RETENTION" default:"24h"`
}

// EnginesConfig configures the external extraction and reasoning services.
type EnginesConfig struct {
	// OCRBaseURL is the remote OCR/vision engine endpoint; empty disables
	// PDF/scan support.
	OCRBaseURL string        `yaml:"ocr_base_url" envconfig:"OCR_BASE_URL"`
	OCRAPIKey  string        `yaml:"ocr_api_key" envconfig:"OCR_API_KEY"`
	OCRTimeout time.Duration `yaml:"ocr_timeout" envconfig:"OCR_TIMEOUT" default:"60s"`

	// ReasoningBaseURL is the OpenAI-compatible reasoning service; empty
	// disables the assisted strategy and post-fusion enhancement.
	ReasoningBaseURL string        `yaml:"reasoning_base_url" envconfig:"REASONING_BASE_URL"`
	ReasoningAPIKey  string        `yaml:"reasoning_api_key" envconfig:"REASONING_API_KEY"`
	ReasoningModel   string        `yaml:"reasoning_model" envconfig:"REASONING_MODEL" default:"gpt-4o-mini"`
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout" envconfig:"REASONING_TIMEOUT" default:"45s"`

	// EnhancementChunkSize batches securities sent for reasoning review.
	EnhancementChunkSize int `yaml:"enhancement_chunk_size" envconfig:"ENHANCEMENT_CHUNK_SIZE" default:"8"`
	// EnhancementRPS rate-limits chunks to respect the service's limits.
	EnhancementRPS float64 `yaml:"enhancement_rps" envconfig:"ENHANCEMENT_RPS" default:"0.5"`
}

// Load resolves the configuration from the environment, an optional YAML
// file, and struct-tag defaults, then validates the result. Environment
// variables win over the file.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("PORTEX", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path := getConfigFilePath(); path != "" {
		fileConfig, err := loadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.ensureDirectories(); err != nil {
		return nil, fmt.Errorf("path validation failed: %w", err)
	}
	return &cfg, nil
}

func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs overlays the env config onto the file config. Only fields
// the environment left at their zero value fall back to the file; the
// endpoints and registry path are the ones operators actually set per
// deployment.
func mergeConfigs(fileConfig, envConfig Config) Config {
	merged := envConfig
	if merged.Server.Port == 0 {
		merged.Server.Port = fileConfig.Server.Port
	}
	if merged.Server.ReadTimeout == 0 {
		merged.Server.ReadTimeout = fileConfig.Server.ReadTimeout
	}
	if merged.Engines.OCRBaseURL == "" {
		merged.Engines.OCRBaseURL = fileConfig.Engines.OCRBaseURL
	}
	if merged.Engines.ReasoningBaseURL == "" {
		merged.Engines.ReasoningBaseURL = fileConfig.Engines.ReasoningBaseURL
	}
	if merged.Paths.RegistryFile == "" {
		merged.Paths.RegistryFile = fileConfig.Paths.RegistryFile
	}
	return merged
}

// ensureDirectories creates the configured directories when missing.
func (c *Config) ensureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ExportsDir, c.Paths.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// GetDataDir resolves the data directory against the working directory.
func (c *Config) GetDataDir() string {
	return absOrJoinCwd(c.Paths.DataDir)
}

// GetExportsDir resolves the exports directory against the working directory.
func (c *Config) GetExportsDir() string {
	return absOrJoinCwd(c.Paths.ExportsDir)
}

// GetLogsDir resolves the logs directory against the working directory.
func (c *Config) GetLogsDir() string {
	return absOrJoinCwd(c.Paths.LogsDir)
}

func absOrJoinCwd(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return dir
	}
	return filepath.Join(cwd, dir)
}

// validate checks ranges and normalizes the logging block. Logging
// fields are corrected rather than rejected: a bad log setting should
// not keep the service down.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d, must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %s", c.Server.WriteTimeout)
	}
	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed origins list is empty, configure at least one allowed origin")
	}

	if c.Extraction.AccuracyThreshold <= 0 || c.Extraction.AccuracyThreshold > 1 {
		return fmt.Errorf("accuracy threshold must be in (0,1]: %f", c.Extraction.AccuracyThreshold)
	}

	if c.Extraction.PlausibleValueMin >= c.Extraction.PlausibleValueMax {
		return fmt.Errorf("plausible value window is empty: [%f, %f]",
			c.Extraction.PlausibleValueMin, c.Extraction.PlausibleValueMax)
	}

	// Structured logs only; text output breaks log shipping.
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	switch c.Logging.Output {
	case "both", "file", "console":
	default:
		c.Logging.Output = "both"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}

// getConfigFilePath probes the conventional file locations; empty means
// env-only configuration.
func getConfigFilePath() string {
	for _, location := range []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns the built-in configuration used by tests and local runs.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RunTimeout:      5 * time.Minute,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/app.log",
		},
		Paths: PathsConfig{
			DataDir:    "data",
			ExportsDir: "data/exports",
			LogsDir:    "logs",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Extraction: ExtractionConfig{
			AccuracyThreshold: 0.999,
			PlausibleValueMin: 1000,
			PlausibleValueMax: 50000000,
			WindowSize:        800,
			StrategyTimeout:   30 * time.Second,
			MaxUploadBytes:    50 << 20,
			RunRetention:      24 * time.Hour,
		},
		Engines: EnginesConfig{
			OCRTimeout:           60 * time.Second,
			ReasoningModel:       "gpt-4o-mini",
			ReasoningTimeout:     45 * time.Second,
			EnhancementChunkSize: 8,
			EnhancementRPS:       0.5,
		},
	}
}
