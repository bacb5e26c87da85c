package extract

import (
	"bytes"
	"context"
	"fmt"
	"iter"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/damgrep/internal/models"
)

// PDF yields one segment per page. Pages without a page object are skipped.
type PDF struct{}

// Segments implements Extractor.
func (PDF) Segments(ctx context.Context, content []byte) iter.Seq2[models.TextSegment, error] {
	return func(yield func(models.TextSegment, error) bool) {
		r, err := openPDF(content)
		if err != nil {
			fail(yield, err)
			return
		}
		numPages := r.NumPage()
		for i := 1; i <= numPages; i++ {
			if err := ctx.Err(); err != nil {
				fail(yield, err)
				return
			}
			text, ok, err := pageText(r, i)
			if err != nil {
				fail(yield, err)
				return
			}
			if !ok {
				continue
			}
			seg := models.TextSegment{
				Kind:    models.SegmentPage,
				Index:   i,
				Locator: fmt.Sprintf("page %d", i),
				Text:    text,
			}
			if !yield(seg, nil) {
				return
			}
		}
	}
}

// openPDF parses the cross-reference table. The parser panics on some
// malformed inputs, so panics are turned into errors.
func openPDF(content []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("open PDF: %v", p)
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	return r, nil
}

func pageText(r *pdf.Reader, num int) (text string, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, ok, err = "", false, fmt.Errorf("extract page %d: %v", num, p)
		}
	}()
	page := r.Page(num)
	if page.V.IsNull() {
		return "", false, nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", false, fmt.Errorf("extract page %d: %w", num, err)
	}
	return text, true, nil
}
