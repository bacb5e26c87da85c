// Package storage provides the asset stores searched by the scanner: a
// directory tree mounted at the content root and a SQLite asset catalog.
package storage

import (
	"context"
	"io"

	"github.com/hyperjump/damgrep/internal/models"
)

// PrimaryRendition is the rendition name holding an asset's original bytes.
const PrimaryRendition = "original"

// AssetStore locates assets and opens their primary rendition.
type AssetStore interface {
	// Find returns the assets below underPath whose declared content type
	// equals contentType, ordered by path.
	Find(ctx context.Context, contentType, underPath string) ([]models.Asset, error)
	// OpenPrimaryRendition opens the asset's original bytes. It returns an
	// error wrapping models.ErrNotFound when the rendition is absent.
	OpenPrimaryRendition(ctx context.Context, asset models.Asset) (io.ReadCloser, error)
}

// Lister enumerates every asset below a path regardless of content type.
type Lister interface {
	List(ctx context.Context, underPath string) ([]models.Asset, error)
}

// MultiFinder lists the assets of several content types in one pass over
// the store. The result is keyed by content type; each list is ordered by
// path. Types without assets may be absent from the map.
type MultiFinder interface {
	FindTypes(ctx context.Context, contentTypes []string, underPath string) (map[string][]models.Asset, error)
}

// Catalog is a writable asset store.
type Catalog interface {
	AssetStore
	Lister
	PutAsset(ctx context.Context, asset *models.Asset, content io.Reader) error
	GetAsset(ctx context.Context, path string) (*models.Asset, error)
	DeleteAsset(ctx context.Context, path string) error
	CountAssets(ctx context.Context) (int64, error)
	Close() error
}
