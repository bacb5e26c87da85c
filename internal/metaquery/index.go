// Package metaquery answers predicate queries over asset metadata using a
// Bleve index. It plays the role of the repository's structured query
// builder: predicates are configured, and an empty predicate set is inert.
package metaquery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/assetpath"
	"github.com/hyperjump/damgrep/internal/models"
	"github.com/hyperjump/damgrep/internal/storage"
)

// Reserved predicate names. Any other name matches the metadata property of
// that name.
const (
	PredicatePath     = "path"
	PredicateType     = "type"
	PredicateFulltext = "fulltext"
)

// Querier runs a predicate query and returns matching asset paths.
type Querier interface {
	Query(ctx context.Context, predicates map[string]string) ([]string, error)
}

// Index is a Bleve index of asset metadata keyed by asset path.
type Index struct {
	index      bleve.Index
	maxResults int
	logger     *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	keyword := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt(PredicatePath, keyword)
	doc.AddFieldMappingsAt(PredicateType, keyword)
	doc.AddFieldMappingsAt("uuid", keyword)
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// NewIndex opens the index at path, creating it if needed. An empty path
// keeps the index in memory. maxResults caps query results (0 means 1000).
func NewIndex(path string, maxResults int, opts ...Option) (*Index, error) {
	if maxResults <= 0 {
		maxResults = 1000
	}
	var (
		index bleve.Index
		err   error
	)
	switch {
	case path == "":
		index, err = bleve.NewMemOnly(newMapping())
	default:
		if _, statErr := os.Stat(path); statErr == nil {
			index, err = bleve.Open(path)
		} else {
			index, err = bleve.New(path, newMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata index: %w", err)
	}
	ix := &Index{index: index, maxResults: maxResults, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

func assetDoc(a models.Asset) map[string]any {
	doc := make(map[string]any, len(a.Metadata)+3)
	for k, v := range a.Metadata {
		doc[k] = v
	}
	doc[PredicatePath] = a.ID
	doc[PredicateType] = a.ContentType
	if a.UUID != "" {
		doc["uuid"] = a.UUID
	}
	return doc
}

// IndexAsset adds or replaces one asset.
func (ix *Index) IndexAsset(_ context.Context, a models.Asset) error {
	if err := ix.index.Index(a.ID, assetDoc(a)); err != nil {
		return fmt.Errorf("index asset %s: %w", a.ID, err)
	}
	return nil
}

// Delete removes an asset by path.
func (ix *Index) Delete(_ context.Context, id string) error {
	return ix.index.Delete(id)
}

// DocCount returns the number of indexed assets.
func (ix *Index) DocCount() (uint64, error) {
	return ix.index.DocCount()
}

// Rebuild indexes every asset the lister returns below root and removes
// indexed assets that no longer exist. It returns the number indexed.
func (ix *Index) Rebuild(ctx context.Context, lister storage.Lister, root string) (int, error) {
	assets, err := lister.List(ctx, root)
	if err != nil {
		return 0, fmt.Errorf("list assets: %w", err)
	}
	live := make(map[string]struct{}, len(assets))
	batch := ix.index.NewBatch()
	for _, a := range assets {
		live[a.ID] = struct{}{}
		if err := batch.Index(a.ID, assetDoc(a)); err != nil {
			return 0, fmt.Errorf("index asset %s: %w", a.ID, err)
		}
	}

	existing, err := ix.allIDs(ctx)
	if err != nil {
		return 0, err
	}
	stale := 0
	for _, id := range existing {
		if _, ok := live[id]; !ok {
			batch.Delete(id)
			stale++
		}
	}
	if err := ix.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("apply index batch: %w", err)
	}
	ix.logger.Info("metadata index rebuilt",
		zap.String("root", root),
		zap.Int("indexed", len(assets)),
		zap.Int("removed", stale))
	return len(assets), nil
}

func (ix *Index) allIDs(ctx context.Context) ([]string, error) {
	n, err := ix.index.DocCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false)
	res, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list indexed assets: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids, nil
}

// Query implements Querier. All predicates must hold. "path" restricts to
// descendants of the given path, "type" to an exact content type and
// "fulltext" matches all words against every field. Results are sorted by
// path. An empty predicate set returns nil without touching the index.
func (ix *Index) Query(ctx context.Context, predicates map[string]string) ([]string, error) {
	if len(predicates) == 0 {
		return nil, nil
	}
	q, err := buildQuery(predicates)
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(q, ix.maxResults, 0, false)
	req.SortBy([]string{"_id"})
	res, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("metadata query: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids, nil
}

func buildQuery(predicates map[string]string) (blevequery.Query, error) {
	names := make([]string, 0, len(predicates))
	for k := range predicates {
		names = append(names, k)
	}
	sort.Strings(names)

	queries := make([]blevequery.Query, 0, len(names))
	for _, name := range names {
		value := strings.TrimSpace(predicates[name])
		if value == "" {
			return nil, fmt.Errorf("predicate %q has no value", name)
		}
		switch name {
		case PredicatePath:
			root := strings.TrimSuffix(assetpath.Clean(value), "/")
			pq := bleve.NewPrefixQuery(root + "/")
			pq.SetField(PredicatePath)
			queries = append(queries, pq)
		case PredicateType:
			tq := bleve.NewTermQuery(value)
			tq.SetField(PredicateType)
			queries = append(queries, tq)
		case PredicateFulltext:
			mq := bleve.NewMatchQuery(value)
			mq.SetOperator(blevequery.MatchQueryOperatorAnd)
			queries = append(queries, mq)
		default:
			mq := bleve.NewMatchQuery(value)
			mq.SetField(name)
			mq.SetOperator(blevequery.MatchQueryOperatorAnd)
			queries = append(queries, mq)
		}
	}
	if len(queries) == 0 {
		return nil, errors.New("no predicates")
	}
	return bleve.NewConjunctionQuery(queries...), nil
}

// Close closes the index.
func (ix *Index) Close() error {
	return ix.index.Close()
}
