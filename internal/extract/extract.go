// Package extract converts uploaded document bytes into plain UTF-8 text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions outside {pdf, docx, txt}.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrFileTooLarge is returned when the uploaded file exceeds the configured cap.
var ErrFileTooLarge = errors.New("file exceeds maximum allowed size")

// ErrExtraction wraps parse failures (corrupt file, encrypted PDF, ...).
// It is permanent: the document is marked failed and never retried.
var ErrExtraction = errors.New("text extraction failed")

// DefaultMaxFileSize caps uploads at 10 MB unless configured otherwise.
const DefaultMaxFileSize = 10 * 1024 * 1024

// Extractor converts raw file bytes into plain text.
type Extractor struct {
	maxSize int64
}

// New creates an Extractor. maxSize <= 0 falls back to DefaultMaxFileSize.
func New(maxSize int64) *Extractor {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Extractor{maxSize: maxSize}
}

// Extract converts the file contents to UTF-8 text based on the filename's
// extension. Unsupported extensions and oversized files are rejected before
// any parsing happens.
func (e *Extractor) Extract(filename string, data []byte) (string, error) {
	if int64(len(data)) > e.maxSize {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, len(data), e.maxSize)
	}

	switch ext(filename) {
	case "txt":
		return extractText(data), nil
	case "pdf":
		return extractPDF(data)
	case "docx":
		return extractDOCX(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext(filename))
	}
}

// Supported reports whether the filename's extension can be extracted.
func Supported(filename string) bool {
	switch ext(filename) {
	case "txt", "pdf", "docx":
		return true
	}
	return false
}

// SanitizeFilename strips path separators and shell-hostile characters from
// an uploaded filename before it is stored.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	replacer := strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", `"`, "_",
		"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
	)
	name = strings.TrimSpace(replacer.Replace(name))
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}

func ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// extractText normalizes a plain-text upload: strips a UTF-8 BOM and
// replaces invalid byte sequences.
func extractText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	return strings.ToValidUTF8(string(data), "�")
}
