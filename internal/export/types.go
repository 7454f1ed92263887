// Package export renders a reviewed essay, with its live annotations drawn
// inline, to PDF, DOCX or standalone HTML.
package export

import (
	"errors"
	"time"

	"pingin/api/internal/annotation"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatPDF, FormatDOCX, FormatHTML:
		return f, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Input is everything an export needs. Text is the canonical text the
// annotations anchor into.
type Input struct {
	DocumentID      string
	Title           string
	Author          string
	Version         string
	UpdatedAt       time.Time
	Text            string
	Annotations     []annotation.Annotation
	IncludeComments bool
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// ArchiveURL is a time-limited link to the archived copy, when archiving
	// is configured.
	ArchiveURL string
}

var (
	ErrUnsupportedFormat     = errors.New("unsupported export format")
	ErrPDFDependencyMissing  = errors.New("export pdf dependency missing")
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
