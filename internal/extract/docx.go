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
	"regexp"
	"strings"

	"github.com/hyperjump/damgrep/internal/models"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

const wordprocessingNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// partNameRe extracts PartName from Override elements in [Content_Types].xml.
var partNameRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)

// partNameRe2 handles the case where ContentType appears before PartName.
var partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	data, err := readZipPart(zr, contentTypesPath)
	if err != nil {
		return ""
	}
	content := string(data)
	if m := partNameRe.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	if m := partNameRe2.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	return ""
}

// Document yields one segment per w:p paragraph of a .docx in document
// order, table cell paragraphs included. Paragraphs nested in text boxes are
// yielded before the paragraph that anchors them. Empty paragraphs are counted
// but not yielded.
type Document struct{}

// Segments implements Extractor.
func (Document) Segments(ctx context.Context, content []byte) iter.Seq2[models.TextSegment, error] {
	return func(yield func(models.TextSegment, error) bool) {
		zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
		if err != nil {
			fail(yield, fmt.Errorf("open DOCX: not a zip: %w", err))
			return
		}
		docPath := findDocxMainDocumentPath(zr)
		if docPath == "" {
			docPath = docxDocumentXMLPath
		}
		rc, err := openZipPart(zr, docPath)
		if err != nil {
			fail(yield, fmt.Errorf("open DOCX: %w", err))
			return
		}
		defer rc.Close()

		dec := xml.NewDecoder(rc)
		var (
			open  []*strings.Builder
			inT   bool
			index int
		)
		for {
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				if len(open) > 0 {
					fail(yield, fmt.Errorf("read DOCX: unterminated paragraph"))
				}
				return
			}
			if err != nil {
				fail(yield, fmt.Errorf("read DOCX: %w", err))
				return
			}
			switch t := tok.(type) {
			case xml.StartElement:
				if !isWordElement(t.Name) {
					continue
				}
				switch t.Name.Local {
				case "p":
					open = append(open, &strings.Builder{})
				case "t":
					inT = true
				case "tab":
					if len(open) > 0 {
						open[len(open)-1].WriteByte('\t')
					}
				case "br", "cr":
					if len(open) > 0 {
						open[len(open)-1].WriteByte('\n')
					}
				}
			case xml.CharData:
				if inT && len(open) > 0 {
					open[len(open)-1].Write(t)
				}
			case xml.EndElement:
				if !isWordElement(t.Name) {
					continue
				}
				switch t.Name.Local {
				case "t":
					inT = false
				case "p":
					if len(open) == 0 {
						continue
					}
					text := open[len(open)-1].String()
					open = open[:len(open)-1]
					index++
					if text == "" {
						continue
					}
					if err := ctx.Err(); err != nil {
						fail(yield, err)
						return
					}
					seg := models.TextSegment{
						Kind:    models.SegmentParagraph,
						Index:   index,
						Locator: fmt.Sprintf("paragraph %d", index),
						Text:    text,
					}
					if !yield(seg, nil) {
						return
					}
				}
			}
		}
	}
}

// isWordElement accepts WordprocessingML names, including documents that use
// the w prefix without declaring it.
func isWordElement(n xml.Name) bool {
	return n.Space == wordprocessingNS || n.Space == "w"
}

func openZipPart(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", name, err)
			}
			return rc, nil
		}
	}
	return nil, fmt.Errorf("%s not found", name)
}

func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	rc, err := openZipPart(zr, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
