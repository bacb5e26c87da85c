// Package importer copies files from disk into the asset catalog, keeping
// their primary rendition and source metadata, and keeps the metadata index
// in step.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/assetpath"
	"github.com/hyperjump/damgrep/internal/models"
	"github.com/hyperjump/damgrep/internal/storage"
)

// MetadataIndex receives catalog changes.
type MetadataIndex interface {
	IndexAsset(ctx context.Context, a models.Asset) error
	Delete(ctx context.Context, id string) error
}

// Result is the outcome of importing one file.
type Result int

const (
	Imported Result = iota
	Unchanged
	Unsupported
	TooLarge
)

func (r Result) String() string {
	switch r {
	case Imported:
		return "imported"
	case Unchanged:
		return "unchanged"
	case Unsupported:
		return "unsupported"
	case TooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// Stats counts the results of a directory import.
type Stats struct {
	Imported    int `json:"imported"`
	Unchanged   int `json:"unchanged"`
	Unsupported int `json:"unsupported"`
	TooLarge    int `json:"too_large"`
}

func (s *Stats) add(r Result) {
	switch r {
	case Imported:
		s.Imported++
	case Unchanged:
		s.Unchanged++
	case Unsupported:
		s.Unsupported++
	case TooLarge:
		s.TooLarge++
	}
}

// Importer writes files into a catalog below a target asset path.
type Importer struct {
	catalog  storage.Catalog
	index    MetadataIndex
	target   string
	types    map[string]string
	maxBytes int64
	logger   *zap.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) {
		if l != nil {
			im.logger = l
		}
	}
}

// WithMetadataIndex indexes every imported asset and drops removed ones.
func WithMetadataIndex(ix MetadataIndex) Option {
	return func(im *Importer) { im.index = ix }
}

// WithMaxBytes skips files larger than n bytes. Zero means no limit.
func WithMaxBytes(n int64) Option {
	return func(im *Importer) { im.maxBytes = n }
}

// NewImporter creates an importer storing assets below target, an absolute
// asset path such as /content/dam/legal. extTypes maps lower-case file
// extensions to the content type declared for them; files with other
// extensions are accepted when their sniffed type is one of those content types.
func NewImporter(catalog storage.Catalog, target string, extTypes map[string]string, opts ...Option) *Importer {
	im := &Importer{
		catalog: catalog,
		target:  assetpath.Clean(target),
		types:   extTypes,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Target returns the asset path files are imported below.
func (im *Importer) Target() string { return im.target }

// contentType returns the declared content type for path, or "" when the
// file is not one of the configured formats.
func (im *Importer) contentType(path string) string {
	if ct, ok := im.types[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	for _, ct := range im.types {
		if mt.Is(ct) {
			return ct
		}
	}
	return ""
}

// ImportFile stores the file at path, which must lie inside dir, as the
// asset target/<path relative to dir>. A file already imported with the same
// source path, mtime and size is left alone.
func (im *Importer) ImportFile(ctx context.Context, dir, path string) (Result, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Unsupported, fmt.Errorf("absolute path: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Unsupported, fmt.Errorf("absolute path: %w", err)
	}
	id, err := assetpath.FromFile(absDir, im.target, absPath)
	if err != nil {
		return Unsupported, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return Unsupported, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Unsupported, fmt.Errorf("not a regular file: %s", absPath)
	}
	ct := im.contentType(absPath)
	if ct == "" {
		im.logger.Debug("importer skipping unsupported file", zap.String("path", absPath))
		return Unsupported, nil
	}
	if im.maxBytes > 0 && info.Size() > im.maxBytes {
		im.logger.Warn("importer skipping large file",
			zap.String("path", absPath),
			zap.Int64("size", info.Size()),
			zap.Int64("max_bytes", im.maxBytes))
		return TooLarge, nil
	}

	if existing, ok := im.unchanged(ctx, id, absPath, info); ok {
		// Re-index so an index opened empty catches up with the catalog.
		im.indexAsset(ctx, *existing)
		im.logger.Debug("importer skipping unchanged file", zap.String("path", absPath))
		return Unchanged, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return Unsupported, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	asset := &models.Asset{
		ID:          id,
		ContentType: ct,
		Metadata: map[string]string{
			models.MetaFormat:      ct,
			models.MetaTitle:       filepath.Base(absPath),
			models.MetaSourcePath:  absPath,
			models.MetaSourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			models.MetaSourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	}
	if err := im.catalog.PutAsset(ctx, asset, f); err != nil {
		return Unsupported, err
	}
	im.indexAsset(ctx, *asset)
	im.logger.Debug("importer file imported",
		zap.String("path", absPath),
		zap.String("asset", id),
		zap.String("content_type", ct))
	return Imported, nil
}

func (im *Importer) unchanged(ctx context.Context, id, absPath string, info os.FileInfo) (*models.Asset, bool) {
	a, err := im.catalog.GetAsset(ctx, id)
	if err != nil || a.Metadata == nil {
		return nil, false
	}
	m := a.Metadata
	if m[models.MetaSourcePath] != absPath {
		return nil, false
	}
	if m[models.MetaSourceMtime] != strconv.FormatInt(info.ModTime().UnixNano(), 10) ||
		m[models.MetaSourceSize] != strconv.FormatInt(info.Size(), 10) {
		return nil, false
	}
	return a, true
}

func (im *Importer) indexAsset(ctx context.Context, a models.Asset) {
	if im.index == nil {
		return
	}
	if err := im.index.IndexAsset(ctx, a); err != nil {
		im.logger.Warn("metadata index update failed", zap.String("asset", a.ID), zap.Error(err))
	}
}

// ImportDirectory walks dir recursively and imports each regular file.
// Hidden files and directories are skipped. It stops at the first error.
func (im *Importer) ImportDirectory(ctx context.Context, dir string) (Stats, error) {
	var stats Stats
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return stats, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return stats, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != absDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		r, err := im.ImportFile(ctx, absDir, path)
		if err != nil {
			return err
		}
		stats.add(r)
		return nil
	})
	im.logger.Info("import finished",
		zap.String("dir", absDir),
		zap.String("target", im.target),
		zap.Int("imported", stats.Imported),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("unsupported", stats.Unsupported),
		zap.Int("too_large", stats.TooLarge))
	return stats, err
}

// RemoveFile deletes the asset imported from path. A file that was never
// imported is not an error.
func (im *Importer) RemoveFile(ctx context.Context, dir, path string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	id, err := assetpath.FromFile(absDir, im.target, absPath)
	if err != nil {
		return err
	}
	if err := im.catalog.DeleteAsset(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if im.index != nil {
		if err := im.index.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete %s from metadata index: %w", id, err)
		}
	}
	im.logger.Debug("importer asset removed", zap.String("asset", id))
	return nil
}
