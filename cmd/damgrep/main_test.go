package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/config"
	"github.com/hyperjump/damgrep/internal/fixtures"
	"github.com/hyperjump/damgrep/internal/importer"
	"github.com/hyperjump/damgrep/internal/match"
	"github.com/hyperjump/damgrep/internal/models"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{"flags after terms are moved first", []string{"contract", "invoice", "--output", "json"}, []string{"--output", "json", "contract", "invoice"}},
		{"flags first returns unchanged", []string{"--output", "json", "contract"}, []string{"--output", "json", "contract"}},
		{"terms only returns unchanged", []string{"annual report"}, []string{"annual report"}},
		{"empty args returns unchanged", []string{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSearchURL(t *testing.T) {
	got := searchURL("http://localhost:8080/", []string{"annual report", "R&D"})
	want := "http://localhost:8080/api/v1/search?fulltext=annual+report&fulltext=R%26D"
	if got != want {
		t.Errorf("searchURL() = %s, want %s", got, want)
	}
}

func TestSearchViaHTTP(t *testing.T) {
	var gotTerms []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" {
			http.NotFound(w, r)
			return
		}
		gotTerms = r.URL.Query()["fulltext"]
		_ = json.NewEncoder(w).Encode(models.SearchResponse{
			Terms: models.Terms{"contract"},
			Hits:  []string{"/content/dam/a.pdf"},
			Total: 1,
		})
	}))
	defer ts.Close()

	resp, err := searchViaHTTP(ts.URL, []string{"Contract", "invoice"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(gotTerms, []string{"Contract", "invoice"}) {
		t.Errorf("server saw terms %v", gotTerms)
	}
	if resp.Total != 1 || resp.Hits[0] != "/content/dam/a.pdf" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSearchViaHTTP_serverError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()
	if _, err := searchViaHTTP(ts.URL, []string{"x"}); err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected 500 error, got %v", err)
	}
}

func TestMountTarget(t *testing.T) {
	tests := []struct {
		dir, under, want string
	}{
		{"/srv/import/contracts", "", "/content/dam/contracts"},
		{"/srv/import/contracts/", "", "/content/dam/contracts"},
		{"/srv/import/contracts", "legal/2024", "/content/dam/legal/2024"},
		{"/srv/import/contracts", "/legal/", "/content/dam/legal"},
	}
	for _, tt := range tests {
		if got := mountTarget("/content/dam", tt.dir, tt.under); got != tt.want {
			t.Errorf("mountTarget(%q, %q) = %q, want %q", tt.dir, tt.under, got, tt.want)
		}
	}
}

func TestBuildFormats(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	formats, err := buildFormats(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(formats) != 3 {
		t.Fatalf("formats = %+v", formats)
	}
	if formats[1].Name != models.FormatXLSX || formats[1].Policy != match.Exact {
		t.Errorf("xlsx format = %+v", formats[1])
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitializeComponents_diskStore(t *testing.T) {
	dir := t.TempDir()
	dam := filepath.Join(dir, "dam")
	if err := os.MkdirAll(filepath.Join(dam, "legal"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dam, "legal", "terms.pdf"), fixtures.PDF("the contract"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dam, "memo.docx"), fixtures.DOCX("an invoice"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(writeConfig(t, dir, `
store:
  driver: disk
  disk:
    root_dir: ./dam
scan:
  workers: 2
metadata:
  predicates:
    path: /content/dam/legal
`))
	if err != nil {
		t.Fatal(err)
	}

	c, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Catalog != nil || c.Meta == nil {
		t.Fatalf("components = %+v", c)
	}

	resp := c.Engine.Search(context.Background(), []string{"invoice"})
	want := []string{"/content/dam/legal/terms.pdf", "/content/dam/memo.docx"}
	if !reflect.DeepEqual(resp.Hits, want) {
		t.Errorf("hits = %v, want %v (metadata hits merged)", resp.Hits, want)
	}
	if resp.MetadataHits != 1 {
		t.Errorf("metadata hits = %d", resp.MetadataHits)
	}

	if _, err := c.newImporter(cfg, "/content/dam/x", zap.NewNop()); err == nil {
		t.Error("import with the disk driver should fail")
	}
}

func TestInitializeComponents_sqliteImportThenSearch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "contracts")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	sheet, err := fixtures.XLSX(fixtures.Cell{Axis: "B2", Value: "Contract"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "ledger.xlsx"), sheet, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(writeConfig(t, dir, `
store:
  driver: sqlite
  sqlite:
    database_path: ./data/catalog.db
`))
	if err != nil {
		t.Fatal(err)
	}

	c, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	im, err := c.newImporter(cfg, mountTarget(cfg.Store.ContentRoot, src, ""), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	stats, err := im.ImportDirectory(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if stats != (importer.Stats{Imported: 1}) {
		t.Errorf("stats = %+v", stats)
	}

	resp := c.Engine.Search(context.Background(), []string{"contract"})
	if !reflect.DeepEqual(resp.Hits, []string{"/content/dam/contracts/ledger.xlsx"}) {
		t.Errorf("hits = %v", resp.Hits)
	}

	status, err := localStatus(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Assets == nil || *status.Assets != 1 {
		t.Errorf("status assets = %v", status.Assets)
	}
}

func TestWriteStatus(t *testing.T) {
	n := int64(4)
	s := &statusResponse{Driver: "sqlite", ContentRoot: "/content/dam", Assets: &n,
		Formats: []map[string]string{{"name": "pdf", "match": "substring", "content_type": "application/pdf"}}}
	var buf bytes.Buffer
	if err := writeStatus(&buf, s, "text"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "assets:            4") || !strings.Contains(buf.String(), "pdf") {
		t.Errorf("text status:\n%s", buf.String())
	}
	if err := writeStatus(&buf, s, "yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "debug: true\n")
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), "server:\n  host: \"127.0.0.1\"\n  port: 9000\n")
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}
