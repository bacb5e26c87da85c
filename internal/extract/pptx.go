package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/damgrep/internal/models"
)

// pptxSlidePathPrefix is the path prefix for slide XML files inside a .pptx zip.
const pptxSlidePathPrefix = "ppt/slides/slide"

// Presentation yields one segment per slide of a .pptx, ordered by slide
// number. Text runs of a paragraph are concatenated; paragraphs are separated
// by newlines.
type Presentation struct{}

type slidePart struct {
	num  int
	file *zip.File
}

// Segments implements Extractor.
func (Presentation) Segments(ctx context.Context, content []byte) iter.Seq2[models.TextSegment, error] {
	return func(yield func(models.TextSegment, error) bool) {
		zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
		if err != nil {
			fail(yield, fmt.Errorf("open PPTX: not a zip: %w", err))
			return
		}
		var slides []slidePart
		for _, f := range zr.File {
			if !strings.HasPrefix(f.Name, pptxSlidePathPrefix) || !strings.HasSuffix(f.Name, ".xml") {
				continue
			}
			num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(f.Name, pptxSlidePathPrefix), ".xml"))
			if err != nil {
				continue
			}
			slides = append(slides, slidePart{num: num, file: f})
		}
		sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

		for _, s := range slides {
			if err := ctx.Err(); err != nil {
				fail(yield, err)
				return
			}
			text, err := slideText(s.file)
			if err != nil {
				fail(yield, err)
				return
			}
			if text == "" {
				continue
			}
			seg := models.TextSegment{
				Kind:    models.SegmentSlide,
				Index:   s.num,
				Locator: fmt.Sprintf("slide %d", s.num),
				Text:    text,
			}
			if !yield(seg, nil) {
				return
			}
		}
	}
}

func slideText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open PPTX: open %s: %w", f.Name, err)
	}
	defer rc.Close()

	var (
		b    strings.Builder
		para strings.Builder
		inT  bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read PPTX %s: %w", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inT = true
			}
		case xml.CharData:
			if inT {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if para.Len() == 0 {
					continue
				}
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(para.String())
				para.Reset()
			}
		}
	}
	return b.String(), nil
}
