package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/damgrep/internal/assetpath"
	"github.com/hyperjump/damgrep/internal/models"
)

// SQLiteStore is an asset catalog in SQLite. Asset rows carry the declared
// content type and metadata; rendition rows carry the bytes.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		path TEXT PRIMARY KEY,
		uuid TEXT NOT NULL,
		content_type TEXT NOT NULL,
		metadata TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_assets_content_type ON assets(content_type, path);

	CREATE TABLE IF NOT EXISTS renditions (
		asset_path TEXT NOT NULL,
		name TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (asset_path, name)
	);
	`
	_, err := db.Exec(schema)
	return err
}

const assetColumns = `path, uuid, content_type, metadata, size, updated_at`

// descendantRange returns bounds such that lo < path < hi holds exactly for
// paths strictly below under. '0' is the byte after '/'.
func descendantRange(under string) (lo, hi string) {
	root := strings.TrimSuffix(assetpath.Clean(under), "/")
	return root + "/", root + "0"
}

// Find implements AssetStore.
func (s *SQLiteStore) Find(ctx context.Context, contentType, underPath string) ([]models.Asset, error) {
	lo, hi := descendantRange(underPath)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE content_type = ? AND path > ? AND path < ?
		 ORDER BY path`,
		contentType, lo, hi,
	)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	return scanAssets(rows)
}

// List implements Lister.
func (s *SQLiteStore) List(ctx context.Context, underPath string) ([]models.Asset, error) {
	lo, hi := descendantRange(underPath)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE path > ? AND path < ?
		 ORDER BY path`,
		lo, hi,
	)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	return scanAssets(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (models.Asset, error) {
	var (
		a            models.Asset
		metadataJSON sql.NullString
	)
	if err := row.Scan(&a.ID, &a.UUID, &a.ContentType, &metadataJSON, &a.Size, &a.Modified); err != nil {
		return models.Asset{}, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &a.Metadata); err != nil {
			return models.Asset{}, fmt.Errorf("failed to unmarshal metadata of %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func scanAssets(rows *sql.Rows) ([]models.Asset, error) {
	defer rows.Close()
	var assets []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// OpenPrimaryRendition implements AssetStore. The blob is read into memory;
// the driver offers no incremental blob reader through database/sql.
func (s *SQLiteStore) OpenPrimaryRendition(ctx context.Context, asset models.Asset) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM renditions WHERE asset_path = ? AND name = ?`,
		asset.ID, PrimaryRendition,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", asset.ID, PrimaryRendition, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read rendition of %s: %w", asset.ID, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// PutAsset inserts or replaces an asset. A nil content leaves any existing
// primary rendition untouched. Existing assets keep their UUID.
func (s *SQLiteStore) PutAsset(ctx context.Context, asset *models.Asset, content io.Reader) error {
	asset.ID = assetpath.Clean(asset.ID)
	metadataJSON, err := json.Marshal(asset.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var data []byte
	if content != nil {
		if data, err = io.ReadAll(content); err != nil {
			return fmt.Errorf("read content of %s: %w", asset.ID, err)
		}
		asset.Size = int64(len(data))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT uuid FROM assets WHERE path = ?`, asset.ID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if asset.UUID == "" {
			asset.UUID = uuid.NewString()
		}
	case err != nil:
		return err
	default:
		asset.UUID = existing
	}

	asset.Modified = time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assets (path, uuid, content_type, metadata, size, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   content_type = excluded.content_type,
		   metadata = excluded.metadata,
		   size = excluded.size,
		   updated_at = excluded.updated_at`,
		asset.ID, asset.UUID, asset.ContentType, string(metadataJSON), asset.Size, asset.Modified, asset.Modified,
	); err != nil {
		return fmt.Errorf("upsert asset %s: %w", asset.ID, err)
	}

	if content != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO renditions (asset_path, name, data) VALUES (?, ?, ?)
			 ON CONFLICT(asset_path, name) DO UPDATE SET data = excluded.data`,
			asset.ID, PrimaryRendition, data,
		); err != nil {
			return fmt.Errorf("upsert rendition of %s: %w", asset.ID, err)
		}
	}
	return tx.Commit()
}

// GetAsset returns an asset by path.
func (s *SQLiteStore) GetAsset(ctx context.Context, path string) (*models.Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE path = ?`, assetpath.Clean(path)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", path, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAsset removes an asset and its renditions.
func (s *SQLiteStore) DeleteAsset(ctx context.Context, path string) error {
	path = assetpath.Clean(path)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM renditions WHERE asset_path = ?`, path); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE path = ?`, path)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("asset %s: %w", path, models.ErrNotFound)
	}
	return tx.Commit()
}

// CountAssets returns the total number of assets.
func (s *SQLiteStore) CountAssets(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&count)
	return count, err
}

// CountByContentType returns asset counts keyed by content type.
func (s *SQLiteStore) CountByContentType(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_type, COUNT(*) FROM assets GROUP BY content_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var ct string
		var n int64
		if err := rows.Scan(&ct, &n); err != nil {
			return nil, err
		}
		counts[ct] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
