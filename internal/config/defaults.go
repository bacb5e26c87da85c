package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/hyperjump/damgrep/internal/match"
	"github.com/hyperjump/damgrep/internal/models"
)

// BuiltinFormats are the formats known without configuration. pptx is
// available but disabled unless listed in scan.formats.
var BuiltinFormats = map[string]FormatConfig{
	string(models.FormatPDF):  {Name: "pdf", ContentType: models.ContentTypePDF, Match: string(match.Substring), Extensions: []string{".pdf"}},
	string(models.FormatXLSX): {Name: "xlsx", ContentType: models.ContentTypeXLSX, Match: string(match.Exact), Extensions: []string{".xlsx"}},
	string(models.FormatDOCX): {Name: "docx", ContentType: models.ContentTypeDOCX, Match: string(match.Substring), Extensions: []string{".docx"}},
	string(models.FormatPPTX): {Name: "pptx", ContentType: models.ContentTypePPTX, Match: string(match.Substring), Extensions: []string{".pptx"}},
}

var defaultFormatNames = []string{"pdf", "xlsx", "docx"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.SearchPath == "" {
		cfg.Server.SearchPath = "/bin/search/pdfutility"
	}
	if cfg.Server.RequestTimeoutSec == 0 {
		cfg.Server.RequestTimeoutSec = 60
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverDisk
	}
	if cfg.Store.ContentRoot == "" {
		cfg.Store.ContentRoot = "/content/dam"
	}
	if cfg.Store.Disk.RootDir == "" {
		cfg.Store.Disk.RootDir = "/usr/local/var/damgrep/dam"
	}
	if cfg.Store.SQLite.DatabasePath == "" {
		cfg.Store.SQLite.DatabasePath = "/usr/local/var/damgrep/data/catalog.db"
	}
	if cfg.Scan.Workers == 0 {
		cfg.Scan.Workers = runtime.NumCPU()
	}
	if cfg.Scan.MaxAssetBytes == 0 {
		cfg.Scan.MaxAssetBytes = 64 << 20
	}
	if cfg.Scan.Formats == nil {
		for _, name := range defaultFormatNames {
			cfg.Scan.Formats = append(cfg.Scan.Formats, FormatConfig{Name: name})
		}
	}
	for i := range cfg.Scan.Formats {
		f := &cfg.Scan.Formats[i]
		f.Name = strings.ToLower(strings.TrimSpace(f.Name))
		builtin, ok := BuiltinFormats[f.Name]
		if !ok {
			continue
		}
		if f.ContentType == "" {
			f.ContentType = builtin.ContentType
		}
		if f.Match == "" {
			f.Match = builtin.Match
		}
		if f.Extensions == nil {
			f.Extensions = builtin.Extensions
		}
	}
	if cfg.Metadata.MaxResults == 0 {
		cfg.Metadata.MaxResults = 1000
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.SearchPath, "/") {
		errs = append(errs, fmt.Errorf("server.search_path %q must start with /", c.Server.SearchPath))
	}
	if c.Server.RequestTimeoutSec < 0 {
		errs = append(errs, errors.New("server.request_timeout_sec must not be negative"))
	}
	switch c.Store.Driver {
	case DriverDisk, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want %s or %s", c.Store.Driver, DriverDisk, DriverSQLite))
	}
	if !strings.HasPrefix(c.Store.ContentRoot, "/") {
		errs = append(errs, fmt.Errorf("store.content_root %q must be absolute", c.Store.ContentRoot))
	}
	if c.Scan.Workers < 0 {
		errs = append(errs, errors.New("scan.workers must not be negative"))
	}
	seen := make(map[string]bool)
	for _, f := range c.Scan.Formats {
		if _, ok := BuiltinFormats[f.Name]; !ok {
			errs = append(errs, fmt.Errorf("scan.formats: unknown format %q", f.Name))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("scan.formats: %q listed twice", f.Name))
		}
		seen[f.Name] = true
		if _, err := match.ParsePolicy(f.Match); err != nil {
			errs = append(errs, fmt.Errorf("scan.formats[%s]: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

// EnabledFormats returns the formats to scan, in configuration order.
func (c *Config) EnabledFormats() []FormatConfig {
	var out []FormatConfig
	for _, f := range c.Scan.Formats {
		if f.IsEnabled() {
			out = append(out, f)
		}
	}
	return out
}

// ExtensionTypes maps file extensions of enabled formats to content types.
func (c *Config) ExtensionTypes() map[string]string {
	types := make(map[string]string)
	for _, f := range c.EnabledFormats() {
		for _, ext := range f.Extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			types[ext] = f.ContentType
		}
	}
	return types
}
