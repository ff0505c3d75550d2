package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// utf8BOM makes Excel open exported files as UTF-8 instead of the
// locale's legacy codepage.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVWriter writes CSV files rooted at the exports directory. Absolute
// paths bypass the root.
type CSVWriter struct {
	exportsDir string
}

func NewCSVWriter(exportsDir string) *CSVWriter {
	return &CSVWriter{exportsDir: exportsDir}
}

// WriteOptions configures one WriteCSV call.
type WriteOptions struct {
	Headers   []string
	Records   [][]string
	Append    bool
	BOMPrefix bool
}

// openTarget resolves filePath under the exports root, creates parent
// directories, opens the file, and writes the BOM when asked. Append
// mode never truncates or re-emits the BOM.
func (w *CSVWriter) openTarget(filePath string, appendMode, bom bool) (*os.File, string, error) {
	full := w.resolvePath(filePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, full, fmt.Errorf("create export directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return nil, full, fmt.Errorf("open export file: %w", err)
	}

	if bom && !appendMode {
		if _, err := file.Write(utf8BOM); err != nil {
			file.Close()
			return nil, full, fmt.Errorf("write BOM: %w", err)
		}
	}
	return file, full, nil
}

// WriteCSV writes records to filePath, creating parent directories as
// needed. Headers and the BOM are skipped in append mode.
func (w *CSVWriter) WriteCSV(filePath string, options WriteOptions) error {
	file, full, err := w.openTarget(filePath, options.Append, options.BOMPrefix)
	if err != nil {
		return err
	}
	defer file.Close()

	slog.Info("Writing CSV file",
		slog.String("path", full),
		slog.Int("record_count", len(options.Records)),
		slog.Bool("append", options.Append))

	cw := csv.NewWriter(file)
	defer cw.Flush()

	if len(options.Headers) > 0 && !options.Append {
		if err := cw.Write(options.Headers); err != nil {
			return fmt.Errorf("write headers: %w", err)
		}
	}
	for i, record := range options.Records {
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	return cw.Error()
}

// WriteSimpleCSV writes a BOM-prefixed file with headers in one shot.
func (w *CSVWriter) WriteSimpleCSV(filePath string, headers []string, records [][]string) error {
	return w.WriteCSV(filePath, WriteOptions{Headers: headers, Records: records, BOMPrefix: true})
}

// AppendToCSV adds records to an existing file without touching headers.
func (w *CSVWriter) AppendToCSV(filePath string, records [][]string) error {
	return w.WriteCSV(filePath, WriteOptions{Records: records, Append: true})
}

// StreamWriter emits one record at a time; used when a result set is too
// large to hold as a [][]string.
type StreamWriter struct {
	file   *os.File
	writer *csv.Writer
}

// CreateStreamWriter opens filePath, writes the BOM and headers, and
// returns a writer the caller must Close.
func (w *CSVWriter) CreateStreamWriter(filePath string, headers []string) (*StreamWriter, error) {
	file, full, err := w.openTarget(filePath, false, true)
	if err != nil {
		return nil, err
	}

	slog.Info("Creating CSV stream writer",
		slog.String("path", full),
		slog.Int("header_count", len(headers)))

	cw := csv.NewWriter(file)
	if len(headers) > 0 {
		if err := cw.Write(headers); err != nil {
			file.Close()
			return nil, fmt.Errorf("write headers: %w", err)
		}
	}
	return &StreamWriter{file: file, writer: cw}, nil
}

func (s *StreamWriter) WriteRecord(record []string) error {
	return s.writer.Write(record)
}

// Close flushes buffered records and closes the file.
func (s *StreamWriter) Close() error {
	s.writer.Flush()
	flushErr := s.writer.Error()
	closeErr := s.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (w *CSVWriter) resolvePath(filePath string) string {
	if filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(w.exportsDir, filePath)
}
