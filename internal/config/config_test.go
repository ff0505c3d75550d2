package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.RunTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 0.999, cfg.Extraction.AccuracyThreshold)
	assert.Equal(t, float64(1000), cfg.Extraction.PlausibleValueMin)
	assert.Equal(t, float64(50000000), cfg.Extraction.PlausibleValueMax)
	assert.Equal(t, 800, cfg.Extraction.WindowSize)
	assert.Equal(t, 8, cfg.Engines.EnhancementChunkSize)
	assert.True(t, cfg.Security.RateLimit.Enabled)

	require.NoError(t, cfg.validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero read timeout",
			mutate:  func(c *Config) { c.Server.ReadTimeout = 0 },
			wantErr: "read timeout must be positive",
		},
		{
			name:    "no allowed origins",
			mutate:  func(c *Config) { c.Security.AllowedOrigins = nil },
			wantErr: "allowed origin",
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Extraction.AccuracyThreshold = 1.5 },
			wantErr: "accuracy threshold",
		},
		{
			name: "empty plausibility window",
			mutate: func(c *Config) {
				c.Extraction.PlausibleValueMin = 100
				c.Extraction.PlausibleValueMax = 50
			},
			wantErr: "plausible value window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "syslog"
	cfg.Logging.FilePath = ""

	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "both", cfg.Logging.Output)
	assert.Equal(t, "logs/app.log", cfg.Logging.FilePath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
  read_timeout: 20s
extraction:
  accuracy_threshold: 0.995
engines:
  reasoning_base_url: https://reasoning.example.com/v1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 0.995, cfg.Extraction.AccuracyThreshold)
	assert.Equal(t, "https://reasoning.example.com/v1", cfg.Engines.ReasoningBaseURL)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := loadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: ["), 0o644))
	_, err = loadFromFile(bad)
	assert.Error(t, err)
}

func TestMergeConfigsEnvWins(t *testing.T) {
	fileCfg := Config{}
	fileCfg.Server.Port = 9090
	fileCfg.Engines.OCRBaseURL = "https://ocr.example.com"

	envCfg := Config{}
	envCfg.Server.Port = 8081

	merged := mergeConfigs(fileCfg, envCfg)
	assert.Equal(t, 8081, merged.Server.Port)
	// Unset env fields fall back to the file.
	assert.Equal(t, "https://ocr.example.com", merged.Engines.OCRBaseURL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORTEX_SERVER_PORT", "9191")
	t.Setenv("PORTEX_EXTRACTION_ACCURACY_THRESHOLD", "0.99")
	t.Setenv("PORTEX_ENGINES_REASONING_MODEL", "gpt-4o")

	// Run from a temp dir so no stray config.yaml interferes and the
	// directory creation happens in a scratch location.
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 0.99, cfg.Extraction.AccuracyThreshold)
	assert.Equal(t, "gpt-4o", cfg.Engines.ReasoningModel)
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.ExportsDir = filepath.Join(dir, "data", "exports")
	cfg.Paths.LogsDir = filepath.Join(dir, "logs")

	require.NoError(t, cfg.ensureDirectories())
	for _, d := range []string{cfg.Paths.DataDir, cfg.Paths.ExportsDir, cfg.Paths.LogsDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestGetDirHelpers(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = "/abs/data"
	assert.Equal(t, "/abs/data", cfg.GetDataDir())

	cfg.Paths.LogsDir = "logs"
	assert.True(t, filepath.IsAbs(cfg.GetLogsDir()))
}
