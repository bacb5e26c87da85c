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
	"path"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/damgrep/internal/models"
)

// Spreadsheet yields one segment per string-typed cell, sheet by sheet, then
// row by row, then column by column. Shared, inline and plain "str" strings
// count; numeric, boolean, date, error and formula cells are never yielded.
type Spreadsheet struct{}

// Segments implements Extractor.
func (Spreadsheet) Segments(ctx context.Context, content []byte) iter.Seq2[models.TextSegment, error] {
	return func(yield func(models.TextSegment, error) bool) {
		f, err := excelize.OpenReader(bytes.NewReader(content))
		if err != nil {
			fail(yield, fmt.Errorf("open Excel: %w", err))
			return
		}
		defer f.Close()
		parts, err := newWorkbookParts(content)
		if err != nil {
			fail(yield, fmt.Errorf("open Excel: %w", err))
			return
		}

		index := 0
		for _, sheet := range f.GetSheetList() {
			strs, err := parts.stringCells(ctx, sheet)
			if err != nil {
				fail(yield, err)
				return
			}
			more, err := sheetCells(ctx, f, sheet, strs, &index, yield)
			if err != nil {
				fail(yield, err)
				return
			}
			if !more {
				return
			}
		}
	}
}

// sheetCells walks one sheet. It returns false when the consumer stopped.
func sheetCells(ctx context.Context, f *excelize.File, sheet string, strs map[cellRef]struct{}, index *int, yield func(models.TextSegment, error) bool) (bool, error) {
	rows, err := f.Rows(sheet)
	if err != nil {
		return false, fmt.Errorf("read rows of sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	// Next steps through missing rows too, so the counter tracks the row number.
	rowNum := 0
	for rows.Next() {
		rowNum++
		if err := ctx.Err(); err != nil {
			return false, err
		}
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return false, fmt.Errorf("read row %d of sheet %q: %w", rowNum, sheet, err)
		}
		for c, value := range cols {
			if value == "" {
				continue
			}
			if _, ok := strs[cellRef{col: c + 1, row: rowNum}]; !ok {
				continue
			}
			axis, err := excelize.CoordinatesToCellName(c+1, rowNum)
			if err != nil {
				return false, err
			}
			*index++
			seg := models.TextSegment{
				Kind:    models.SegmentCell,
				Index:   *index,
				Locator: sheet + "!" + axis,
				Text:    value,
			}
			if !yield(seg, nil) {
				return false, nil
			}
		}
	}
	if err := rows.Error(); err != nil {
		return false, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return true, nil
}

// cellRef is a 1-based column and row.
type cellRef struct {
	col, row int
}

// workbookParts maps sheet names to their worksheet parts in the package.
// excelize resolves cell types only against a fully loaded sheet, so string
// cells are collected from the worksheet XML in one streaming pass instead.
type workbookParts struct {
	zr     *zip.Reader
	sheets map[string]string
}

func newWorkbookParts(content []byte) (*workbookParts, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip: %w", err)
	}
	wbPath := officeDocumentPath(zr)
	targets, err := relationshipTargets(zr, wbPath)
	if err != nil {
		return nil, err
	}
	rc, err := openZipPart(zr, wbPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sheets := make(map[string]string)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", wbPath, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "sheet" {
			continue
		}
		if target, ok := targets[xmlAttr(se, "id")]; ok {
			sheets[xmlAttr(se, "name")] = target
		}
	}
	return &workbookParts{zr: zr, sheets: sheets}, nil
}

// officeDocumentPath returns the workbook part named by the package
// relationships, falling back to the conventional location.
func officeDocumentPath(zr *zip.Reader) string {
	const fallback = "xl/workbook.xml"
	data, err := readZipPart(zr, "_rels/.rels")
	if err != nil {
		return fallback
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return fallback
		}
		se, ok := tok.(xml.StartElement)
		if ok && se.Name.Local == "Relationship" && strings.HasSuffix(xmlAttr(se, "Type"), "/officeDocument") {
			return resolvePart("", xmlAttr(se, "Target"))
		}
	}
}

// relationshipTargets reads the relationships of part, keyed by id, with
// targets resolved to package paths.
func relationshipTargets(zr *zip.Reader, part string) (map[string]string, error) {
	dir, name := path.Split(part)
	relsPath := dir + "_rels/" + name + ".rels"
	data, err := readZipPart(zr, relsPath)
	if err != nil {
		return nil, err
	}
	targets := make(map[string]string)
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return targets, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", relsPath, err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "Relationship" {
			targets[xmlAttr(se, "Id")] = resolvePart(dir, xmlAttr(se, "Target"))
		}
	}
}

func resolvePart(dir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Join(dir, target)
}

// stringCells returns the shared and inline string cells of sheet.
func (w *workbookParts) stringCells(ctx context.Context, sheet string) (map[cellRef]struct{}, error) {
	part, ok := w.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("sheet %q has no worksheet part", sheet)
	}
	rc, err := openZipPart(w.zr, part)
	if err != nil {
		return nil, fmt.Errorf("open sheet %q: %w", sheet, err)
	}
	defer rc.Close()

	cells := make(map[cellRef]struct{})
	var (
		row, col int
		// str cells are strings unless they carry a formula.
		pendingStr bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return cells, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if ee, ok := tok.(xml.EndElement); ok && ee.Name.Local == "c" && pendingStr {
			cells[cellRef{col: col, row: row}] = struct{}{}
			pendingStr = false
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "row":
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			row++
			if r, err := strconv.Atoi(xmlAttr(se, "r")); err == nil {
				row = r
			}
			col = 0
		case "c":
			col++
			if ref := xmlAttr(se, "r"); ref != "" {
				c, r, err := excelize.CellNameToCoordinates(ref)
				if err != nil {
					return nil, fmt.Errorf("sheet %q: %w", sheet, err)
				}
				col, row = c, r
			}
			switch xmlAttr(se, "t") {
			case "s", "inlineStr":
				cells[cellRef{col: col, row: row}] = struct{}{}
			case "str":
				pendingStr = true
			}
		case "f":
			pendingStr = false
		}
	}
}

// xmlAttr returns the value of the attribute with the given local name.
func xmlAttr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
