// Package search orchestrates one full-text search request: term
// normalization, the per-format scan, the metadata query and aggregation.
package search

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/metaquery"
	"github.com/hyperjump/damgrep/internal/metrics"
	"github.com/hyperjump/damgrep/internal/models"
	"github.com/hyperjump/damgrep/internal/scan"
)

// Scanner is the per-format full-text scan used by the engine.
type Scanner interface {
	Scan(ctx context.Context, terms models.Terms) []models.FormatReport
}

// Engine runs full-text searches. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	scanner    Scanner
	meta       metaquery.Querier
	predicates map[string]string
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetadataQuery merges the results of a predicate query into every
// search. An empty predicate set leaves the querier unused.
func WithMetadataQuery(q metaquery.Querier, predicates map[string]string) Option {
	return func(e *Engine) {
		e.meta = q
		e.predicates = maps.Clone(predicates)
	}
}

// NewEngine creates a search engine over scanner.
func NewEngine(scanner Scanner, opts ...Option) *Engine {
	e := &Engine{scanner: scanner, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search normalizes raw terms, scans all formats and runs the metadata query
// concurrently, and merges everything into a deduplicated, sorted hit list.
// With no usable terms it returns an empty response without scanning.
// Failures never abort the request; they are reported in the response.
func (e *Engine) Search(ctx context.Context, raw []string) *models.SearchResponse {
	start := time.Now()
	terms := models.NewTerms(raw...)
	resp := &models.SearchResponse{
		RequestID: uuid.NewString(),
		Terms:     terms,
		Hits:      []string{},
		Formats:   []models.FormatReport{},
	}
	if terms.Empty() {
		e.logger.Debug("empty term set, nothing to scan", zap.String("request_id", resp.RequestID))
		return resp
	}

	var (
		wg        sync.WaitGroup
		reports   []models.FormatReport
		metaHits  []string
		metaErr   error
		runsQuery = e.meta != nil && len(e.predicates) > 0
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports = e.scanner.Scan(ctx, terms)
	}()
	if runsQuery {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metaHits, metaErr = e.meta.Query(ctx, e.predicates)
		}()
	}
	wg.Wait()

	if metaErr != nil {
		e.logger.Warn("metadata query failed",
			zap.String("request_id", resp.RequestID),
			zap.Error(metaErr))
		resp.MetadataError = metaErr.Error()
		metaHits = nil
	}

	lists := append(scan.HitLists(reports), metaHits)
	hits := scan.Aggregate(lists...)

	resp.Hits = hits.Sorted()
	resp.Total = len(resp.Hits)
	if reports != nil {
		resp.Formats = reports
	}
	resp.MetadataHits = len(metaHits)
	resp.Canceled = ctx.Err() != nil
	resp.QueryTime = time.Since(start).Milliseconds()
	metrics.SearchHits.Observe(float64(resp.Total))

	e.logger.Info("search completed",
		zap.String("request_id", resp.RequestID),
		zap.Strings("terms", terms),
		zap.Int("hits", resp.Total),
		zap.Int("failures", resp.Failures()),
		zap.Bool("canceled", resp.Canceled),
		zap.Duration("duration", time.Since(start)))
	return resp
}
