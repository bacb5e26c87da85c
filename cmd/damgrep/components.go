package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/assetpath"
	"github.com/hyperjump/damgrep/internal/config"
	"github.com/hyperjump/damgrep/internal/importer"
	"github.com/hyperjump/damgrep/internal/match"
	"github.com/hyperjump/damgrep/internal/metaquery"
	"github.com/hyperjump/damgrep/internal/models"
	"github.com/hyperjump/damgrep/internal/scan"
	"github.com/hyperjump/damgrep/internal/search"
	"github.com/hyperjump/damgrep/internal/storage"
)

// assetSource is what a configured store driver provides.
type assetSource interface {
	storage.AssetStore
	storage.Lister
}

// Components holds initialized services.
type Components struct {
	Store   assetSource
	Catalog *storage.SQLiteStore // nil unless store.driver is sqlite
	Meta    *metaquery.Index     // nil when no predicates are configured and no index path is set
	Scanner *scan.Scanner
	Engine  *search.Engine
}

// Close releases the worker pool, the catalog and the metadata index.
func (c *Components) Close() {
	if c.Scanner != nil {
		c.Scanner.Release()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Meta != nil {
		_ = c.Meta.Close()
	}
}

// buildFormats turns the enabled format configs into scan formats.
func buildFormats(cfg *config.Config) ([]scan.Format, error) {
	var formats []scan.Format
	for _, fc := range cfg.EnabledFormats() {
		policy, err := match.ParsePolicy(fc.Match)
		if err != nil {
			return nil, fmt.Errorf("format %s: %w", fc.Name, err)
		}
		f, err := scan.NewFormat(models.Format(fc.Name), fc.ContentType, policy)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (assetSource, *storage.SQLiteStore, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		catalog, err := storage.NewSQLiteStore(cfg.Store.SQLite.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize catalog: %w", err)
		}
		return catalog, catalog, nil
	default:
		dir, err := storage.NewDirStore(cfg.Store.Disk.RootDir, cfg.Store.ContentRoot, cfg.ExtensionTypes(),
			storage.WithDirLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize asset directory: %w", err)
		}
		return dir, nil, nil
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	store, catalog, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Store, c.Catalog = store, catalog

	formats, err := buildFormats(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Scanner, err = scan.NewScanner(store, cfg.Store.ContentRoot, formats, cfg.Scan.Workers,
		scan.WithLogger(logger),
		scan.WithMaxAssetBytes(cfg.Scan.MaxAssetBytes))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize scanner: %w", err)
	}

	opts := []search.Option{search.WithLogger(logger)}
	if len(cfg.Metadata.Predicates) > 0 || cfg.Metadata.IndexPath != "" {
		c.Meta, err = metaquery.NewIndex(cfg.Metadata.IndexPath, cfg.Metadata.MaxResults, metaquery.WithLogger(logger))
		if err != nil {
			c.Close()
			return nil, err
		}
		n, err := c.Meta.Rebuild(ctx, store, cfg.Store.ContentRoot)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to build metadata index: %w", err)
		}
		logger.Info("metadata index ready",
			zap.Int("assets", n),
			zap.Int("predicates", len(cfg.Metadata.Predicates)))
		opts = append(opts, search.WithMetadataQuery(c.Meta, cfg.Metadata.Predicates))
	}
	c.Engine = search.NewEngine(c.Scanner, opts...)

	logger.Info("components initialized",
		zap.String("driver", cfg.Store.Driver),
		zap.String("content_root", cfg.Store.ContentRoot),
		zap.Int("formats", len(formats)),
		zap.Int("workers", c.Scanner.Workers()))
	return c, nil
}

// mountTarget returns the asset path a watched or imported directory is
// stored under: the content root joined with under, or with the directory's
// base name when under is empty.
func mountTarget(contentRoot, dir, under string) string {
	if under == "" {
		under = filepath.Base(filepath.Clean(dir))
	}
	return assetpath.Join(contentRoot, under)
}

// newImporter creates an importer writing below target into the catalog.
func (c *Components) newImporter(cfg *config.Config, target string, logger *zap.Logger) (*importer.Importer, error) {
	if c.Catalog == nil {
		return nil, fmt.Errorf("import needs store.driver %q, configured %q", config.DriverSQLite, cfg.Store.Driver)
	}
	opts := []importer.Option{
		importer.WithLogger(logger),
		importer.WithMaxBytes(cfg.Scan.MaxAssetBytes),
	}
	if c.Meta != nil {
		opts = append(opts, importer.WithMetadataIndex(c.Meta))
	}
	return importer.NewImporter(c.Catalog, target, cfg.ExtensionTypes(), opts...), nil
}
