// Package export renders the printable answer sheet of one assignment as HTML,
// PDF or DOCX.
package export

import (
	"errors"
	"html/template"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a query value to a Format; empty means HTML.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	AssignmentID string
	Variant      string
	Format       Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// UnknownStudent is printed when no identity is stored.
const UnknownStudent = "Unbekannter Schüler"

// PrintData is the template model of one answer sheet.
type PrintData struct {
	AssignmentTitle string
	Student         string
	Subs            []PrintSub
}

type PrintSub struct {
	ID      string
	Title   string
	LawCase bool
	// quill
	Questions []string
	Answer    template.HTML
	Empty     bool
	// law_case
	CaseText string
	Steps    []PrintStep
}

type PrintStep struct {
	Title       string
	Description string
	Answer      template.HTML
	Empty       bool
}

var (
	// ErrMissingAssignment indicates the request named no assignment.
	ErrMissingAssignment = errors.New("assignment id is required")
	// ErrUnsupportedFormat indicates an unknown output format.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
