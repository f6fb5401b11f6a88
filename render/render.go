package render

import (
	"context"
	"fmt"
)

// Renderer dispatches a document to the requested format. It never returns
// partial output: on error the byte slice is nil.
type Renderer struct {
	pdf PDFConverter
}

// NewRenderer creates a renderer. pdf may be nil, in which case PDF output is
// reported as unsupported.
func NewRenderer(pdf PDFConverter) *Renderer {
	return &Renderer{pdf: pdf}
}

// Render produces format output for doc. Options are validated for every
// format but used only by the PDF step.
func (r *Renderer) Render(ctx context.Context, doc *Document, format Format, opts Options) ([]byte, error) {
	if _, err := opts.Normalize(); err != nil {
		return nil, err
	}

	switch format {
	case FormatHTML:
		return RenderHTML(doc)

	case FormatDOCX:
		return RenderDOCX(doc)

	case FormatPDF:
		if r.pdf == nil {
			return nil, fmt.Errorf("%w: pdf conversion is not configured", ErrUnsupportedFormat)
		}
		html, err := RenderHTML(doc)
		if err != nil {
			return nil, err
		}
		out, err := r.pdf.ConvertHTML(ctx, html, opts)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}
