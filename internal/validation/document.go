package validation

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	apperrors "portex/internal/errors"
)

// DocumentFormat identifies the on-disk format of an uploaded statement.
type DocumentFormat string

const (
	FormatPDF     DocumentFormat = "pdf"
	FormatXLSX    DocumentFormat = "xlsx"
	FormatText    DocumentFormat = "text"
	FormatUnknown DocumentFormat = "unknown"
)

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}
)

// DocumentInfo describes a validated upload.
type DocumentInfo struct {
	Format      DocumentFormat
	Fingerprint string
	SizeBytes   int64
}

// DocumentValidator sniffs and fingerprints uploaded statement documents
// before they enter the pipeline.
type DocumentValidator struct {
	logger   *slog.Logger
	maxBytes int64
}

// NewDocumentValidator creates a document validator. maxBytes caps the
// accepted upload size; zero or negative disables the cap.
func NewDocumentValidator(maxBytes int64, logger *slog.Logger) *DocumentValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentValidator{
		logger:   logger.With(slog.String("component", "document_validator")),
		maxBytes: maxBytes,
	}
}

// Validate checks an uploaded document and returns its sniffed format and
// content fingerprint. Unreadable or oversized uploads are input errors.
func (v *DocumentValidator) Validate(content []byte, filename string) (*DocumentInfo, error) {
	if len(content) == 0 {
		return nil, apperrors.NewInputError("document is empty", nil)
	}

	if v.maxBytes > 0 && int64(len(content)) > v.maxBytes {
		return nil, apperrors.NewInputError(
			fmt.Sprintf("document exceeds maximum size of %d bytes", v.maxBytes), nil).
			WithContext("size_bytes", len(content)).
			WithContext("max_bytes", v.maxBytes)
	}

	format := SniffFormat(content)
	if format == FormatUnknown {
		v.logger.Warn("unrecognized document format",
			slog.String("filename", filename),
			slog.Int("size_bytes", len(content)))
		return nil, apperrors.NewInputError("document format not recognized", nil).
			WithContext("filename", filename)
	}

	info := &DocumentInfo{
		Format:      format,
		Fingerprint: Fingerprint(content),
		SizeBytes:   int64(len(content)),
	}

	v.logger.Debug("document validated",
		slog.String("filename", filename),
		slog.String("format", string(format)),
		slog.String("fingerprint", info.Fingerprint),
		slog.Int64("size_bytes", info.SizeBytes))

	return info, nil
}

// SniffFormat detects the document format from its leading bytes. Extension
// hints are deliberately ignored; only content counts.
func SniffFormat(content []byte) DocumentFormat {
	switch {
	case bytes.HasPrefix(content, pdfMagic):
		return FormatPDF
	case bytes.HasPrefix(content, zipMagic):
		return FormatXLSX
	case utf8.Valid(content) && !bytes.ContainsRune(content, 0):
		return FormatText
	default:
		return FormatUnknown
	}
}

// Fingerprint returns the BLAKE2b-256 hex digest of the document content.
// Identical uploads produce identical fingerprints, which lets callers
// deduplicate runs.
func Fingerprint(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}
