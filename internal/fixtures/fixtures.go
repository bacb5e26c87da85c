// Package fixtures builds small, valid PDF, XLSX, DOCX and PPTX documents in
// memory for tests and local demos.
package fixtures

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Cell is one spreadsheet value placed at Axis (e.g. "B3") on Sheet.
// Value keeps its Go type so numeric cells are stored as numbers.
type Cell struct {
	Sheet string
	Axis  string
	Value any
}

// PDF returns a single-font PDF with one page per argument. Each page holds
// its text as one line shown with Helvetica.
func PDF(pages ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	// 1 catalog, 2 page tree, 3 font, then a page and content object per page.
	nObjs := 3 + 2*len(pages)
	offsets := make([]int, nObjs+1)
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, text := range pages {
		pageNum, contentNum := 4+2*i, 5+2*i
		writeObj(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentNum))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", pdfEscape(text))
		writeObj(contentNum, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", nObjs+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= nObjs; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", nObjs+1, xref)
	return buf.Bytes()
}

func pdfEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

// XLSX returns a workbook holding cells. Sheets other than the default
// "Sheet1" are created on first use, in order of appearance.
func XLSX(cells ...Cell) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	for _, c := range cells {
		sheet := c.Sheet
		if sheet == "" {
			sheet = "Sheet1"
		}
		if idx, _ := f.GetSheetIndex(sheet); idx == -1 {
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, fmt.Errorf("new sheet %q: %w", sheet, err)
			}
		}
		if err := f.SetCellValue(sheet, c.Axis, c.Value); err != nil {
			return nil, fmt.Errorf("set %s!%s: %w", sheet, c.Axis, err)
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// StreamedXLSX writes rows to "Sheet1" through excelize's stream writer, the
// way large generated workbooks are produced. Row i starts at column A.
// An excelize.Cell value carries a formula with its cached result.
func StreamedXLSX(rows ...[]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sw, err := f.NewStreamWriter("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("new stream writer: %w", err)
	}
	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(axis, row); err != nil {
			return nil, fmt.Errorf("set row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush rows: %w", err)
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// DOCX returns a document with one paragraph per argument.
func DOCX(paragraphs ...string) []byte {
	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		body.WriteString(html.EscapeString(p))
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	return DOCXBody(body.String())
}

// DOCXBody wraps raw WordprocessingML body markup into a document package.
func DOCXBody(bodyXML string) []byte {
	return zipParts(map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
			`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
			`</Types>`,
		"word/document.xml": `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			bodyXML + `</w:body></w:document>`,
	})
}

// PPTX returns a presentation with one text box per slide.
func PPTX(slides ...string) []byte {
	parts := make(map[string]string, len(slides))
	for i, s := range slides {
		parts[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] =
			`<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">` +
				`<p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + html.EscapeString(s) +
				`</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	return zipParts(parts)
}

func zipParts(parts map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range parts {
		fw, _ := w.Create(name)
		_, _ = fw.Write([]byte(content))
	}
	_ = w.Close()
	return buf.Bytes()
}
