package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/assetpath"
	"github.com/hyperjump/damgrep/internal/models"
)

// DirStore serves a directory tree as if it were mounted at the content
// root. Each file is an asset whose primary rendition is the file itself.
type DirStore struct {
	root        string
	contentRoot string
	types       map[string]string
	logger      *zap.Logger
	detect      func(path string) (*mimetype.MIME, error)

	mu      sync.Mutex
	sniffed map[string]sniffedType
}

// sniffedType is a detected content type, valid while the file keeps the
// size and mtime it had when it was sniffed.
type sniffedType struct {
	size        int64
	mtime       int64
	contentType string
}

// DirOption configures a DirStore.
type DirOption func(*DirStore)

// WithDirLogger sets the logger.
func WithDirLogger(l *zap.Logger) DirOption {
	return func(s *DirStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewDirStore serves root at contentRoot. extTypes maps lower-case file
// extensions (with the dot) to declared content types; files with other
// extensions have their content type sniffed.
func NewDirStore(root, contentRoot string, extTypes map[string]string, opts ...DirOption) (*DirStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("asset root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset root %s is not a directory", root)
	}
	types := make(map[string]string, len(extTypes))
	for ext, ct := range extTypes {
		types[strings.ToLower(ext)] = ct
	}
	s := &DirStore{
		root:        filepath.Clean(root),
		contentRoot: assetpath.Clean(contentRoot),
		types:       types,
		logger:      zap.NewNop(),
		detect:      mimetype.DetectFile,
		sniffed:     make(map[string]sniffedType),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ContentType returns the declared content type of the file at path.
func (s *DirStore) ContentType(path string) string {
	if ct, ok := s.types[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return s.sniff(path, nil)
}

// contentType is ContentType for a walked file. Sniffed types are cached
// per path until the file's size or mtime changes.
func (s *DirStore) contentType(path string, info fs.FileInfo) string {
	if ct, ok := s.types[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return s.sniff(path, info)
}

func (s *DirStore) sniff(path string, info fs.FileInfo) string {
	if info != nil {
		s.mu.Lock()
		c, ok := s.sniffed[path]
		s.mu.Unlock()
		if ok && c.size == info.Size() && c.mtime == info.ModTime().UnixNano() {
			return c.contentType
		}
	}
	m, err := s.detect(path)
	if err != nil {
		s.logger.Debug("content type detection failed", zap.String("path", path), zap.Error(err))
		return "application/octet-stream"
	}
	ct, _, _ := strings.Cut(m.String(), ";")
	if info != nil {
		s.mu.Lock()
		s.sniffed[path] = sniffedType{size: info.Size(), mtime: info.ModTime().UnixNano(), contentType: ct}
		s.mu.Unlock()
	}
	return ct
}

// List implements Lister. Hidden files and directories are ignored.
func (s *DirStore) List(ctx context.Context, underPath string) ([]models.Asset, error) {
	var assets []models.Asset
	err := s.walk(ctx, underPath, func(a models.Asset) {
		assets = append(assets, a)
	})
	return assets, err
}

// Find implements AssetStore.
func (s *DirStore) Find(ctx context.Context, contentType, underPath string) ([]models.Asset, error) {
	var assets []models.Asset
	err := s.walk(ctx, underPath, func(a models.Asset) {
		if a.ContentType == contentType {
			assets = append(assets, a)
		}
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// FindTypes implements MultiFinder with a single walk of the tree.
func (s *DirStore) FindTypes(ctx context.Context, contentTypes []string, underPath string) (map[string][]models.Asset, error) {
	byType := make(map[string][]models.Asset, len(contentTypes))
	wanted := make(map[string]struct{}, len(contentTypes))
	for _, ct := range contentTypes {
		wanted[ct] = struct{}{}
	}
	err := s.walk(ctx, underPath, func(a models.Asset) {
		if _, ok := wanted[a.ContentType]; ok {
			byType[a.ContentType] = append(byType[a.ContentType], a)
		}
	})
	if err != nil {
		return nil, err
	}
	return byType, nil
}

// walk visits the regular, non-hidden files below underPath in lexical order.
func (s *DirStore) walk(ctx context.Context, underPath string, visit func(models.Asset)) error {
	start, ok, err := s.startDir(underPath)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == start && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != start {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		asset, err := s.asset(path, info)
		if err != nil {
			return err
		}
		visit(asset)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", start, err)
	}
	return nil
}

// startDir resolves the directory to walk for underPath. ok is false when
// underPath is disjoint from the content root.
func (s *DirStore) startDir(underPath string) (dir string, ok bool, err error) {
	under := assetpath.Clean(underPath)
	if under == s.contentRoot || assetpath.IsDescendant(under, s.contentRoot) {
		return s.root, true, nil
	}
	if !assetpath.IsDescendant(s.contentRoot, under) {
		return "", false, nil
	}
	dir, err = assetpath.ToFile(s.root, s.contentRoot, under)
	if err != nil {
		return "", false, err
	}
	return dir, true, nil
}

func (s *DirStore) asset(path string, info fs.FileInfo) (models.Asset, error) {
	contentType := s.contentType(path, info)
	id, err := assetpath.FromFile(s.root, s.contentRoot, path)
	if err != nil {
		return models.Asset{}, err
	}
	return models.Asset{
		ID:          id,
		ContentType: contentType,
		Size:        info.Size(),
		Modified:    info.ModTime(),
		Metadata: map[string]string{
			models.MetaFormat:      contentType,
			models.MetaTitle:       info.Name(),
			models.MetaSourcePath:  path,
			models.MetaSourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			models.MetaSourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	}, nil
}

// OpenPrimaryRendition implements AssetStore.
func (s *DirStore) OpenPrimaryRendition(_ context.Context, asset models.Asset) (io.ReadCloser, error) {
	path, err := assetpath.ToFile(s.root, s.contentRoot, asset.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", asset.ID, models.ErrNotFound)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", asset.ID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", asset.ID, err)
	}
	return f, nil
}
