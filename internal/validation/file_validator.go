package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// StatementFileValidator checks statement documents on disk before they
// enter the pipeline. It is used by the one-shot CLI; uploads over HTTP
// go through DocumentValidator instead.
type StatementFileValidator struct {
	maxBytes int64
	logger   *slog.Logger
}

// statementExtensions are the document formats a run can consume. PDF
// and image scans still need a configured OCR engine to succeed.
var statementExtensions = map[string]bool{
	".txt":  true,
	".csv":  true,
	".xlsx": true,
	".xls":  true,
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// NewStatementFileValidator creates a statement file validator. maxBytes
// caps the accepted file size; zero disables the cap.
func NewStatementFileValidator(maxBytes int64, logger *slog.Logger) *StatementFileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatementFileValidator{
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("component", "file_validator")),
	}
}

// ValidateFile checks that a file exists, is a regular file, and is
// readable.
func (v *StatementFileValidator) ValidateFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("file %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file %s is not readable: %w", path, err)
	}
	file.Close()

	v.logger.Debug("File validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}

// ValidateStatementFile checks that a file can be fed to the pipeline:
// readable, a supported document format, not an editor temp file, and
// within the size cap.
func (v *StatementFileValidator) ValidateStatementFile(path string) error {
	if err := v.ValidateFile(path); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !statementExtensions[ext] {
		return fmt.Errorf("file %s is not a supported statement format (extension: %s)", path, ext)
	}

	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") {
		return fmt.Errorf("file %s is a temporary spreadsheet lock file", path)
	}

	if v.maxBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat file %s: %w", path, err)
		}
		if info.Size() > v.maxBytes {
			return fmt.Errorf("file %s exceeds the %d byte size limit", path, v.maxBytes)
		}
	}

	return nil
}

// ValidateOutputDirectory checks that a directory exists and is
// writable, creating it when missing.
func (v *StatementFileValidator) ValidateOutputDirectory(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
		v.logger.Info("Created output directory", slog.String("directory", dir))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat output directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe := filepath.Join(dir, ".write_probe")
	file, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	file.Close()
	os.Remove(probe)

	return nil
}
