// Package scan runs full-text scans of asset store contents: per format it
// lists candidate assets, decodes each primary rendition and matches the
// decoded segments against the request's terms.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/assetpath"
	"github.com/hyperjump/damgrep/internal/extract"
	"github.com/hyperjump/damgrep/internal/match"
	"github.com/hyperjump/damgrep/internal/metrics"
	"github.com/hyperjump/damgrep/internal/models"
	"github.com/hyperjump/damgrep/internal/storage"
)

// Format binds a document format to the content type it is stored under,
// its match policy and its extractor.
type Format struct {
	Name        models.Format
	ContentType string
	Policy      match.Policy
	Extractor   extract.Extractor
}

// NewFormat resolves the registered extractor for name.
func NewFormat(name models.Format, contentType string, policy match.Policy) (Format, error) {
	ex, ok := extract.ForFormat(name)
	if !ok {
		return Format{}, fmt.Errorf("no extractor for format %q", name)
	}
	if contentType == "" {
		return Format{}, fmt.Errorf("format %q: empty content type", name)
	}
	return Format{Name: name, ContentType: contentType, Policy: policy, Extractor: ex}, nil
}

// Scanner scans every configured format below a content root. Assets are
// processed by a worker pool shared across requests; each worker owns one
// rendition at a time. A Scanner is safe for concurrent use.
type Scanner struct {
	store    storage.AssetStore
	root     string
	formats  []Format
	pool     *ants.Pool
	maxBytes int64
	logger   *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxAssetBytes limits how many bytes of a rendition are read. Larger
// assets count as failed. Zero or less means no limit.
func WithMaxAssetBytes(n int64) Option {
	return func(s *Scanner) {
		s.maxBytes = n
	}
}

// NewScanner creates a Scanner with a pool of workers goroutines.
// workers <= 0 uses runtime.NumCPU().
func NewScanner(store storage.AssetStore, root string, formats []Format, workers int, opts ...Option) (*Scanner, error) {
	if store == nil {
		return nil, errors.New("scanner: nil asset store")
	}
	for _, f := range formats {
		if f.Extractor == nil {
			return nil, fmt.Errorf("scanner: format %q has no extractor", f.Name)
		}
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := &Scanner{
		store:   store,
		root:    assetpath.Clean(root),
		formats: formats,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p any) {
		s.logger.Error("scan worker panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("scanner: create worker pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Root returns the content root scanned.
func (s *Scanner) Root() string { return s.root }

// Formats returns the configured formats.
func (s *Scanner) Formats() []Format { return s.formats }

// Workers returns the worker pool capacity.
func (s *Scanner) Workers() int { return s.pool.Cap() }

// Release stops the worker pool.
func (s *Scanner) Release() {
	s.pool.Release()
}

// Scan scans all formats concurrently and returns one report per format, in
// configuration order. An empty term set scans nothing and returns nil.
// Failures are contained per asset and per format and only show up in the
// reports.
func (s *Scanner) Scan(ctx context.Context, terms models.Terms) []models.FormatReport {
	if terms.Empty() {
		return nil
	}
	listed := s.prefetch(ctx)
	reports := make([]models.FormatReport, len(s.formats))
	var wg sync.WaitGroup
	for i, f := range s.formats {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = s.scanFormat(ctx, f, terms, listed)
		}()
	}
	wg.Wait()
	return reports
}

type candidates struct {
	assets []models.Asset
	err    error
}

// prefetch lists the candidates of every format in one pass when the store
// implements storage.MultiFinder. It returns nil otherwise.
func (s *Scanner) prefetch(ctx context.Context) map[string]candidates {
	mf, ok := s.store.(storage.MultiFinder)
	if !ok {
		return nil
	}
	types := make([]string, 0, len(s.formats))
	for _, f := range s.formats {
		types = append(types, f.ContentType)
	}
	byType, err := mf.FindTypes(ctx, types, s.root)
	listed := make(map[string]candidates, len(types))
	for _, ct := range types {
		listed[ct] = candidates{assets: byType[ct], err: err}
	}
	return listed
}

type outcome int

const (
	notStarted outcome = iota
	hit
	miss
	skipped
	failed
	canceled
)

func (o outcome) label() string {
	switch o {
	case hit:
		return metrics.OutcomeHit
	case miss:
		return metrics.OutcomeMiss
	case skipped:
		return metrics.OutcomeSkipped
	case failed:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeCanceled
	}
}

func (s *Scanner) scanFormat(ctx context.Context, f Format, terms models.Terms, listed map[string]candidates) models.FormatReport {
	start := time.Now()
	defer func() {
		metrics.ScanDuration.WithLabelValues(string(f.Name)).Observe(time.Since(start).Seconds())
	}()

	report := models.FormatReport{Format: f.Name, ContentType: f.ContentType, Hits: []string{}}
	var (
		assets []models.Asset
		err    error
	)
	if c, ok := listed[f.ContentType]; ok {
		assets, err = c.assets, c.err
	} else {
		assets, err = s.store.Find(ctx, f.ContentType, s.root)
	}
	if err != nil {
		serr := &models.StoreError{ContentType: f.ContentType, Err: err}
		s.logger.Warn("format scan failed",
			zap.String("format", string(f.Name)),
			zap.Error(serr))
		report.Error = serr.Error()
		return report
	}
	report.Candidates = len(assets)

	// Each slot is written by exactly one task.
	outcomes := make([]outcome, len(assets))
	var wg sync.WaitGroup
	for i, a := range assets {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = s.scanAsset(ctx, f, a, terms)
		})
		if err != nil {
			wg.Done()
			s.logger.Error("submit scan task", zap.String("asset", a.ID), zap.Error(err))
			outcomes[i] = failed
		}
	}
	wg.Wait()

	for i, o := range outcomes {
		switch o {
		case hit:
			report.Scanned++
			report.Hits = append(report.Hits, assets[i].ID)
		case miss:
			report.Scanned++
		case skipped:
			report.Skipped++
		case failed:
			report.Failed++
		}
	}
	s.logger.Debug("format scanned",
		zap.String("format", string(f.Name)),
		zap.Int("candidates", report.Candidates),
		zap.Int("hits", len(report.Hits)),
		zap.Duration("duration", time.Since(start)))
	return report
}

func (s *Scanner) scanAsset(ctx context.Context, f Format, a models.Asset, terms models.Terms) (o outcome) {
	if ctx.Err() != nil {
		return canceled
	}
	defer func() {
		metrics.AssetsScannedTotal.WithLabelValues(string(f.Name), o.label()).Inc()
	}()
	defer func() {
		if p := recover(); p != nil {
			derr := &models.DecodeError{AssetID: a.ID, Format: f.Name, Err: fmt.Errorf("extractor panic: %v", p)}
			s.logger.Error("skipping asset that crashed the extractor",
				zap.String("asset", a.ID),
				zap.String("format", string(f.Name)),
				zap.Error(derr),
				zap.Stack("stack"))
			o = failed
		}
	}()

	content, err := s.readRendition(ctx, a)
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.logger.Debug("asset has no primary rendition", zap.String("asset", a.ID))
		return skipped
	case err != nil && ctx.Err() != nil:
		return canceled
	case err != nil:
		s.logger.Warn("skipping unreadable asset",
			zap.String("asset", a.ID),
			zap.String("format", string(f.Name)),
			zap.Error(err))
		return failed
	}

	seg, matched, err := MatchAsset(ctx, f.Extractor, f.Policy, content, terms)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return canceled
		}
		derr := &models.DecodeError{AssetID: a.ID, Format: f.Name, Err: err}
		s.logger.Warn("skipping undecodable asset",
			zap.String("asset", a.ID),
			zap.String("format", string(f.Name)),
			zap.Error(derr))
		return failed
	}
	if !matched {
		return miss
	}
	s.logger.Debug("asset matched",
		zap.String("asset", a.ID),
		zap.String("segment", seg.Locator))
	return hit
}

// readRendition reads the primary rendition and releases it on every path.
func (s *Scanner) readRendition(ctx context.Context, a models.Asset) ([]byte, error) {
	rc, err := s.store.OpenPrimaryRendition(ctx, a)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if s.maxBytes > 0 {
		r = io.LimitReader(rc, s.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rendition of %s: %w", a.ID, err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", a.ID, models.ErrAssetTooLarge, s.maxBytes)
	}
	return data, nil
}

// MatchAsset pulls segments from ex until one matches a term under policy.
// It returns the matching segment. Decoding stops at the first match.
func MatchAsset(ctx context.Context, ex extract.Extractor, policy match.Policy, content []byte, terms models.Terms) (models.TextSegment, bool, error) {
	if terms.Empty() {
		return models.TextSegment{}, false, nil
	}
	for seg, err := range ex.Segments(ctx, content) {
		if err != nil {
			return models.TextSegment{}, false, err
		}
		if policy.Matches(seg.Text, terms) {
			return seg, true, nil
		}
	}
	return models.TextSegment{}, false, nil
}
