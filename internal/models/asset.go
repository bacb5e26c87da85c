// Package models defines core data structures for assets, search terms, and scan results.
package models

import "time"

// Format is the document format tag an asset is scanned as.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
	FormatDOCX Format = "docx"
	FormatPPTX Format = "pptx"
)

// Well-known content types, as declared in the repository's dc:format metadata.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// Metadata keys stored alongside assets.
const (
	MetaFormat      = "dc:format"
	MetaTitle       = "dc:title"
	MetaSourcePath  = "source_path"
	MetaSourceMtime = "source_mtime"
	MetaSourceSize  = "source_size"
)

// Asset is a stored document. ID is the repository path and is unique within a store.
type Asset struct {
	ID          string            `json:"id"`
	UUID        string            `json:"uuid,omitempty"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Size        int64             `json:"size"`
	Modified    time.Time         `json:"modified"`
}

// SegmentKind names the unit a TextSegment was cut from.
type SegmentKind string

const (
	SegmentPage      SegmentKind = "page"
	SegmentCell      SegmentKind = "cell"
	SegmentParagraph SegmentKind = "paragraph"
	SegmentSlide     SegmentKind = "slide"
)

// TextSegment is one decoded unit of text. Index is 1-based within the asset.
type TextSegment struct {
	Kind    SegmentKind
	Index   int
	Locator string
	Text    string
}
