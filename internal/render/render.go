// Package render merges session state into a template context and produces
// format-specific output. Rendering is read-only: it works from a session
// snapshot and never touches session state.
package render

import (
	"context"
	"errors"
	"fmt"

	"foliate/api/internal/catalog"
	"foliate/api/internal/session"
)

// Format is the requested output format.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "md"
	FormatPDF      Format = "pdf"
)

// ErrUnsupportedFormat indicates a format outside {html, md, pdf}.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ParseFormat validates a wire-level format value.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatHTML, FormatMarkdown, FormatPDF:
		return Format(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
}

// Input is everything a render needs: the template descriptor, a consistent
// snapshot of globals and ledger, and the resolved style sheet.
type Input struct {
	Template  catalog.Template
	Globals   map[string]any
	Fragments []session.Fragment
	CSS       string
	Format    Format
}

// Result is the rendered document.
type Result struct {
	Data        []byte
	ContentType string
}

// Renderer drives the three output paths.
type Renderer struct {
	pdf pdfEngine
}

// pdfEngine converts an HTML document to PDF bytes. Swapped for a fake in
// tests so they do not need a browser.
type pdfEngine interface {
	HTMLToPDF(ctx context.Context, html string) ([]byte, error)
}

// New returns a Renderer backed by headless Chrome for PDF output.
func New(engine pdfEngine) *Renderer {
	return &Renderer{pdf: engine}
}

// Render produces the document bytes for in.Format.
func (r *Renderer) Render(ctx context.Context, in Input) (Result, error) {
	switch in.Format {
	case FormatHTML:
		html, err := renderHTML(in)
		if err != nil {
			return Result{}, fmt.Errorf("render html: %w", err)
		}
		return Result{Data: []byte(html), ContentType: "text/html; charset=utf-8"}, nil
	case FormatMarkdown:
		md := renderMarkdown(in)
		return Result{Data: []byte(md), ContentType: "text/markdown; charset=utf-8"}, nil
	case FormatPDF:
		html, err := renderHTML(in)
		if err != nil {
			return Result{}, fmt.Errorf("render html: %w", err)
		}
		data, err := r.pdf.HTMLToPDF(ctx, html)
		if err != nil {
			return Result{}, fmt.Errorf("render pdf: %w", err)
		}
		return Result{Data: data, ContentType: "application/pdf"}, nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, in.Format)
	}
}

// imageSource picks the rendering source for an image fragment. HTML and PDF
// prefer the embedded data URI; Markdown always links the original URL.
func imageSource(frag session.Fragment, format Format) string {
	if format != FormatMarkdown && frag.DataURI != "" {
		return frag.DataURI
	}
	return frag.ImageURL
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return value
}

func intParam(params map[string]any, key string) (int, bool) {
	switch value := params[key].(type) {
	case int:
		return value, true
	case float64:
		return int(value), true
	}
	return 0, false
}
