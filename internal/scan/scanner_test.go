package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hyperjump/damgrep/internal/fixtures"
	"github.com/hyperjump/damgrep/internal/match"
	"github.com/hyperjump/damgrep/internal/metrics"
	"github.com/hyperjump/damgrep/internal/models"
)

// memStore is an in-memory AssetStore. A nil content means the asset has no
// primary rendition.
type memStore struct {
	mu      sync.Mutex
	assets  []models.Asset
	content map[string][]byte
	findErr map[string]error
	finds   int
	open    atomic.Int64
	closed  atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{content: map[string][]byte{}, findErr: map[string]error{}}
}

func (m *memStore) put(id, contentType string, content []byte) {
	m.assets = append(m.assets, models.Asset{ID: id, ContentType: contentType})
	m.content[id] = content
}

func (m *memStore) Find(_ context.Context, contentType, underPath string) ([]models.Asset, error) {
	m.mu.Lock()
	m.finds++
	m.mu.Unlock()
	if err := m.findErr[contentType]; err != nil {
		return nil, err
	}
	var out []models.Asset
	for _, a := range m.assets {
		if a.ContentType == contentType {
			out = append(out, a)
		}
	}
	return out, nil
}

type trackedReader struct {
	io.Reader
	closed *atomic.Int64
}

func (r trackedReader) Close() error {
	r.closed.Add(1)
	return nil
}

func (m *memStore) OpenPrimaryRendition(_ context.Context, a models.Asset) (io.ReadCloser, error) {
	data := m.content[a.ID]
	if data == nil {
		return nil, fmt.Errorf("%s: %w", a.ID, models.ErrNotFound)
	}
	m.open.Add(1)
	return trackedReader{Reader: bytes.NewReader(data), closed: &m.closed}, nil
}

func mustFormat(t *testing.T, name models.Format, ct string, p match.Policy) Format {
	t.Helper()
	f, err := NewFormat(name, ct, p)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func defaultFormats(t *testing.T) []Format {
	return []Format{
		mustFormat(t, models.FormatPDF, models.ContentTypePDF, match.Substring),
		mustFormat(t, models.FormatXLSX, models.ContentTypeXLSX, match.Exact),
		mustFormat(t, models.FormatDOCX, models.ContentTypeDOCX, match.Substring),
	}
}

func newTestScanner(t *testing.T, store *memStore, formats []Format, opts ...Option) *Scanner {
	t.Helper()
	s, err := NewScanner(store, "/content/dam", formats, 4, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Release)
	return s
}

func xlsx(t *testing.T, cells ...fixtures.Cell) []byte {
	t.Helper()
	b, err := fixtures.XLSX(cells...)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func reportFor(t *testing.T, reports []models.FormatReport, f models.Format) models.FormatReport {
	t.Helper()
	for _, r := range reports {
		if r.Format == f {
			return r
		}
	}
	t.Fatalf("no report for %s", f)
	return models.FormatReport{}
}

func TestScan_mixedFormats(t *testing.T) {
	store := newMemStore()
	store.put("/content/dam/contract.pdf", models.ContentTypePDF,
		fixtures.PDF("cover page", "...please see the attached contract for details..."))
	store.put("/content/dam/broken.pdf", models.ContentTypePDF, []byte("%PDF-1.4 garbage"))
	store.put("/content/dam/nothing.pdf", models.ContentTypePDF, fixtures.PDF("quarterly numbers"))
	store.put("/content/dam/norendition.pdf", models.ContentTypePDF, nil)
	store.put("/content/dam/exact.xlsx", models.ContentTypeXLSX, xlsx(t, fixtures.Cell{Axis: "A1", Value: "Contract"}))
	store.put("/content/dam/prefix.xlsx", models.ContentTypeXLSX, xlsx(t, fixtures.Cell{Axis: "A1", Value: "Contractor"}))
	store.put("/content/dam/memo.docx", models.ContentTypeDOCX, fixtures.DOCX("Heading", "The Contract was signed."))

	s := newTestScanner(t, store, defaultFormats(t))
	reports := s.Scan(context.Background(), models.NewTerms("CONTRACT"))
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}

	pdf := reportFor(t, reports, models.FormatPDF)
	if !reflect.DeepEqual(pdf.Hits, []string{"/content/dam/contract.pdf"}) {
		t.Errorf("pdf hits = %v", pdf.Hits)
	}
	if pdf.Candidates != 4 || pdf.Scanned != 2 || pdf.Skipped != 1 || pdf.Failed != 1 {
		t.Errorf("pdf report = %+v", pdf)
	}

	xl := reportFor(t, reports, models.FormatXLSX)
	if !reflect.DeepEqual(xl.Hits, []string{"/content/dam/exact.xlsx"}) {
		t.Errorf("xlsx hits = %v", xl.Hits)
	}

	doc := reportFor(t, reports, models.FormatDOCX)
	if !reflect.DeepEqual(doc.Hits, []string{"/content/dam/memo.docx"}) {
		t.Errorf("docx hits = %v", doc.Hits)
	}

	if opened, closed := store.open.Load(), store.closed.Load(); opened != closed || opened != 6 {
		t.Errorf("opened %d renditions, closed %d", opened, closed)
	}
}

func TestScan_exactPolicyRejectsSubstring(t *testing.T) {
	store := newMemStore()
	store.put("/content/dam/a.xlsx", models.ContentTypeXLSX, xlsx(t, fixtures.Cell{Axis: "A1", Value: "Contract"}))
	s := newTestScanner(t, store, defaultFormats(t)[1:2])

	if got := s.Scan(context.Background(), models.NewTerms("con")); len(got[0].Hits) != 0 {
		t.Errorf("term con should not hit an exact cell: %v", got[0].Hits)
	}
	if got := s.Scan(context.Background(), models.NewTerms("contract")); len(got[0].Hits) != 1 {
		t.Errorf("term contract should hit: %+v", got[0])
	}
}

func TestScan_storeFailureIsContained(t *testing.T) {
	store := newMemStore()
	store.findErr[models.ContentTypePDF] = errors.New("repository offline")
	store.put("/content/dam/memo.docx", models.ContentTypeDOCX, fixtures.DOCX("contract"))

	s := newTestScanner(t, store, defaultFormats(t))
	reports := s.Scan(context.Background(), models.NewTerms("contract"))

	pdf := reportFor(t, reports, models.FormatPDF)
	if !pdf.QueryFailed() || len(pdf.Hits) != 0 {
		t.Errorf("pdf report = %+v", pdf)
	}
	if doc := reportFor(t, reports, models.FormatDOCX); len(doc.Hits) != 1 {
		t.Errorf("docx report = %+v", doc)
	}
}

func TestScan_emptyTerms(t *testing.T) {
	store := newMemStore()
	store.put("/content/dam/a.pdf", models.ContentTypePDF, fixtures.PDF("anything"))
	s := newTestScanner(t, store, defaultFormats(t))

	if got := s.Scan(context.Background(), models.NewTerms("  ", "")); got != nil {
		t.Errorf("Scan with no terms = %+v, want nil", got)
	}
	if store.finds != 0 {
		t.Errorf("store queried %d times with no terms", store.finds)
	}
}

func TestScan_canceled(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 20; i++ {
		store.put(fmt.Sprintf("/content/dam/%02d.pdf", i), models.ContentTypePDF, fixtures.PDF("contract"))
	}
	s := newTestScanner(t, store, defaultFormats(t)[:1])
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports := s.Scan(ctx, models.NewTerms("contract"))
	if len(reports[0].Hits) != 0 {
		t.Errorf("canceled scan produced hits: %v", reports[0].Hits)
	}
	if store.open.Load() != store.closed.Load() {
		t.Errorf("leaked renditions: opened %d closed %d", store.open.Load(), store.closed.Load())
	}
}

func TestScan_sizeLimit(t *testing.T) {
	store := newMemStore()
	store.put("/content/dam/big.pdf", models.ContentTypePDF, fixtures.PDF("contract"))
	s := newTestScanner(t, store, defaultFormats(t)[:1], WithMaxAssetBytes(64))

	r := s.Scan(context.Background(), models.NewTerms("contract"))[0]
	if r.Failed != 1 || len(r.Hits) != 0 {
		t.Errorf("report = %+v", r)
	}
	if store.open.Load() != store.closed.Load() {
		t.Error("oversized rendition was not closed")
	}
}

// countingExtractor yields fixed segments and records how many were pulled.
type countingExtractor struct {
	segments []string
	pulled   int
}

func (c *countingExtractor) Segments(_ context.Context, _ []byte) iter.Seq2[models.TextSegment, error] {
	return func(yield func(models.TextSegment, error) bool) {
		for i, text := range c.segments {
			c.pulled++
			if !yield(models.TextSegment{Kind: models.SegmentParagraph, Index: i + 1, Text: text}, nil) {
				return
			}
		}
	}
}

func TestMatchAsset_stopsAtFirstMatch(t *testing.T) {
	ex := &countingExtractor{segments: []string{"preamble", "overdue invoice", "contract", "appendix"}}
	seg, ok, err := MatchAsset(context.Background(), ex, match.Substring, nil, models.NewTerms("invoice", "contract"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || seg.Index != 2 {
		t.Errorf("match = %+v, %v", seg, ok)
	}
	if ex.pulled != 2 {
		t.Errorf("pulled %d segments, want 2", ex.pulled)
	}
}

func TestMatchAsset_noMatchReadsEverything(t *testing.T) {
	ex := &countingExtractor{segments: []string{"a", "b", "c"}}
	_, ok, err := MatchAsset(context.Background(), ex, match.Substring, nil, models.NewTerms("zzz"))
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if ex.pulled != 3 {
		t.Errorf("pulled %d segments, want 3", ex.pulled)
	}
}

// panickingExtractor crashes on the first segment, like a parser hitting an
// unchecked index in malformed input.
type panickingExtractor struct{}

func (panickingExtractor) Segments(_ context.Context, _ []byte) iter.Seq2[models.TextSegment, error] {
	return func(yield func(models.TextSegment, error) bool) {
		panic("sheet index out of range")
	}
}

func TestScan_extractorPanicCountsAsFailed(t *testing.T) {
	store := newMemStore()
	store.put("/content/dam/crash.xlsx", models.ContentTypeXLSX, []byte("PK"))
	store.put("/content/dam/memo.docx", models.ContentTypeDOCX, fixtures.DOCX("contract"))
	formats := []Format{
		{Name: models.FormatXLSX, ContentType: models.ContentTypeXLSX, Policy: match.Exact, Extractor: panickingExtractor{}},
		mustFormat(t, models.FormatDOCX, models.ContentTypeDOCX, match.Substring),
	}
	failedBefore := testutil.ToFloat64(metrics.AssetsScannedTotal.WithLabelValues(string(models.FormatXLSX), metrics.OutcomeFailed))

	s := newTestScanner(t, store, formats)
	reports := s.Scan(context.Background(), models.NewTerms("contract"))

	xl := reportFor(t, reports, models.FormatXLSX)
	if xl.Candidates != 1 || xl.Failed != 1 || xl.Scanned != 0 || len(xl.Hits) != 0 {
		t.Errorf("xlsx report = %+v", xl)
	}
	if doc := reportFor(t, reports, models.FormatDOCX); len(doc.Hits) != 1 {
		t.Errorf("docx report = %+v", doc)
	}
	failedAfter := testutil.ToFloat64(metrics.AssetsScannedTotal.WithLabelValues(string(models.FormatXLSX), metrics.OutcomeFailed))
	if failedAfter-failedBefore != 1 {
		t.Errorf("failed outcome counter moved by %v, want 1", failedAfter-failedBefore)
	}
	resp := &models.SearchResponse{Formats: reports}
	if resp.Failures() != 1 {
		t.Errorf("Failures = %d, want 1", resp.Failures())
	}
	if store.open.Load() != store.closed.Load() {
		t.Error("rendition of crashed asset was not closed")
	}
}

// multiStore lists all content types in one call.
type multiStore struct {
	*memStore
	calls atomic.Int64
	err   error
}

func (m *multiStore) FindTypes(ctx context.Context, contentTypes []string, underPath string) (map[string][]models.Asset, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string][]models.Asset)
	for _, ct := range contentTypes {
		assets, err := m.memStore.Find(ctx, ct, underPath)
		if err != nil {
			return nil, err
		}
		out[ct] = assets
	}
	return out, nil
}

func (m *multiStore) Find(context.Context, string, string) ([]models.Asset, error) {
	return nil, errors.New("Find called on a store listed in one pass")
}

func TestScan_listsAllFormatsInOnePass(t *testing.T) {
	mem := newMemStore()
	mem.put("/content/dam/contract.pdf", models.ContentTypePDF, fixtures.PDF("the contract"))
	mem.put("/content/dam/a.xlsx", models.ContentTypeXLSX, xlsx(t, fixtures.Cell{Axis: "A1", Value: "contract"}))
	store := &multiStore{memStore: mem}

	s, err := NewScanner(store, "/content/dam", defaultFormats(t), 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Release)

	reports := s.Scan(context.Background(), models.NewTerms("contract"))
	if n := store.calls.Load(); n != 1 {
		t.Errorf("FindTypes called %d times, want 1", n)
	}
	for _, r := range reports {
		if r.QueryFailed() {
			t.Errorf("%s query failed: %s", r.Format, r.Error)
		}
	}
	if got := Aggregate(HitLists(reports)...).Sorted(); !reflect.DeepEqual(got, []string{"/content/dam/a.xlsx", "/content/dam/contract.pdf"}) {
		t.Errorf("hits = %v", got)
	}

	store.err = errors.New("tree unreadable")
	for _, r := range s.Scan(context.Background(), models.NewTerms("contract")) {
		if !r.QueryFailed() {
			t.Errorf("%s should report the listing failure: %+v", r.Format, r)
		}
	}
}

func TestNewFormat_unknown(t *testing.T) {
	if _, err := NewFormat("odt", "application/vnd.oasis.opendocument.text", match.Substring); err == nil {
		t.Error("expected error for format without extractor")
	}
}

func TestAggregate(t *testing.T) {
	pdf := []string{"/content/dam/a.pdf", "/content/dam/dup"}
	xl := []string{"/content/dam/b.xlsx", "/content/dam/dup"}
	doc := []string{"/content/dam/dup", "/content/dam/c.docx", "/content/dam/c.docx"}

	want := []string{"/content/dam/a.pdf", "/content/dam/b.xlsx", "/content/dam/c.docx", "/content/dam/dup"}
	orders := [][][]string{{pdf, xl, doc}, {doc, xl, pdf}, {xl, doc, pdf, xl}}
	for _, lists := range orders {
		if got := Aggregate(lists...).Sorted(); !reflect.DeepEqual(got, want) {
			t.Errorf("Aggregate = %v, want %v", got, want)
		}
	}

	once := Aggregate(pdf, xl).Sorted()
	twice := Aggregate(once, pdf, xl).Sorted()
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("not idempotent: %v vs %v", once, twice)
	}
	if Aggregate().Len() != 0 {
		t.Error("empty aggregate should be empty")
	}
}

func TestHitLists(t *testing.T) {
	reports := []models.FormatReport{{Hits: []string{"b", "a"}}, {Hits: nil}}
	lists := HitLists(reports)
	if len(lists) != 2 {
		t.Fatalf("len = %d", len(lists))
	}
	got := append([]string(nil), lists[0]...)
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("lists[0] = %v", got)
	}
}
