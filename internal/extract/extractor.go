// Package extract decodes document renditions into lazy sequences of text segments.
package extract

import (
	"context"
	"iter"
	"slices"

	"github.com/hyperjump/damgrep/internal/models"
)

// Extractor decodes one document format. Segments yields text units in
// document order and stops decoding as soon as the consumer stops pulling.
// A decode failure is yielded once as a non-nil error, after which the
// sequence ends. The context is checked between segments.
type Extractor interface {
	Segments(ctx context.Context, content []byte) iter.Seq2[models.TextSegment, error]
}

var registry = map[models.Format]Extractor{
	models.FormatPDF:  PDF{},
	models.FormatXLSX: Spreadsheet{},
	models.FormatDOCX: Document{},
	models.FormatPPTX: Presentation{},
}

// ForFormat returns the extractor registered for f.
func ForFormat(f models.Format) (Extractor, bool) {
	e, ok := registry[f]
	return e, ok
}

// Formats lists the formats with a registered extractor, sorted by name.
func Formats() []models.Format {
	out := make([]models.Format, 0, len(registry))
	for f := range registry {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// fail yields a single error.
func fail(yield func(models.TextSegment, error) bool, err error) {
	yield(models.TextSegment{}, err)
}
