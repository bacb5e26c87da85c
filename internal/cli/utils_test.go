package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/damgrep/internal/models"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		RequestID: "req-1",
		Terms:     models.Terms{"contract", "invoice"},
		Hits:      []string{"/content/dam/a.pdf", "/content/dam/b&c.xlsx"},
		Total:     2,
		Formats: []models.FormatReport{
			{Format: models.FormatPDF, Candidates: 3, Scanned: 3, Failed: 1, Hits: []string{"/content/dam/a.pdf"}},
			{Format: models.FormatXLSX, Candidates: 1, Scanned: 1, Hits: []string{"/content/dam/b&c.xlsx"}},
			{Format: models.FormatDOCX, Error: "database is locked"},
		},
		QueryTime: 42,
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.RequestID != "req-1" || decoded.Total != 2 || len(decoded.Formats) != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Failures() != 2 {
		t.Errorf("Failures() = %d, want 2", decoded.Failures())
	}
}

func TestWriteSearchResults_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Found 2 assets for contract, invoice in 42ms",
		"  /content/dam/a.pdf\n",
		"pdf   candidates=3 scanned=3 hits=1 skipped=0 failed=1",
		"query failed: database is locked",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSearchResults_TextNoTerms(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, &models.SearchResponse{}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No search terms") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteSearchResults_Compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	want := "/content/dam/a.pdf\n/content/dam/b&c.xlsx\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteSearchResults_HTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputHTML); err != nil {
		t.Fatal(err)
	}
	want := `<a href="/content/dam/a.pdf">/content/dam/a.pdf</a><br>` +
		`<a href="/content/dam/b&amp;c.xlsx">/content/dam/b&amp;c.xlsx</a><br>` + "\n"
	if buf.String() != want {
		t.Errorf("got %q", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]SearchOutputFormat{
		"":        OutputText,
		"JSON":    OutputJSON,
		" html ":  OutputHTML,
		"compact": OutputCompact,
	} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
