// Package main is the damgrep CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/cli"
	"github.com/hyperjump/damgrep/internal/config"
	"github.com/hyperjump/damgrep/internal/importer"
	"github.com/hyperjump/damgrep/internal/models"
	"github.com/hyperjump/damgrep/internal/server"
	"github.com/hyperjump/damgrep/internal/storage"
	"github.com/hyperjump/damgrep/internal/watcher"
	"github.com/hyperjump/damgrep/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/damgrep/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "import":
		runImport()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("damgrep version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads the config and creates the logger; it exits on failure.
func setup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *debug))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if len(cfg.Watch.Directories) > 0 {
		w, err := startWatch(ctx, cfg, components, logger)
		if err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		if w != nil {
			defer w.Stop()
		}
	}

	opts := []server.Option{server.WithVersion(version)}
	if components.Catalog != nil {
		opts = append(opts, server.WithCatalog(components.Catalog))
	}
	srv := server.NewServer(components.Engine, cfg, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// startWatch keeps the catalog in sync with the watched directories. Each
// directory is stored below the content root under its base name. With the
// disk driver the directories are ignored.
func startWatch(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) (*watcher.Watcher, error) {
	if c.Catalog == nil {
		logger.Warn("watch.directories needs the sqlite store driver; ignoring",
			zap.Strings("directories", cfg.Watch.Directories))
		return nil, nil
	}
	importers := make(map[string]*importer.Importer, len(cfg.Watch.Directories))
	for _, dir := range cfg.Watch.Directories {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		im, err := c.newImporter(cfg, mountTarget(cfg.Store.ContentRoot, abs, ""), logger)
		if err != nil {
			return nil, err
		}
		importers[abs] = im
	}

	var exts []string
	for ext := range cfg.ExtensionTypes() {
		exts = append(exts, ext)
	}
	w := watcher.NewWatcher(
		cfg.Watch.Directories,
		exts,
		cfg.Watch.RecursiveOrDefault(),
		func(root, path string) {
			if _, err := importers[root].ImportFile(ctx, root, path); err != nil {
				logger.Warn("watch import failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(root, path string) {
			if err := importers[root].RemoveFile(ctx, root, path); err != nil {
				logger.Warn("watch remove failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
	)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	go w.SyncExistingFiles()
	return w, nil
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: damgrep search [flags] <term> [term...]\n\n")
	fmt.Fprintf(fs.Output(), "Each argument is one term; quote a term that contains spaces. An asset matches\nwhen any term matches.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  damgrep search contract invoice
  damgrep search "annual report"
  damgrep search --server "" --output json contract   # scan the store directly
`)
}

// searchArgsReorder moves flags given after the terms to the front so the
// flag package sees them.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = scan the configured store directly)")
	outputFormat := fs.String("output", "text", "output format: text, compact (one path per line), json or html")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if models.NewTerms(fs.Args()...).Empty() {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = searchViaHTTP(*serverURL, fs.Args())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		components, err := initializeComponents(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		response = components.Engine.Search(ctx, fs.Args())
	}

	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// searchURL builds the JSON search request for terms.
func searchURL(serverURL string, terms []string) string {
	q := url.Values{"fulltext": terms}
	return strings.TrimSuffix(serverURL, "/") + "/api/v1/search?" + q.Encode()
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func searchViaHTTP(serverURL string, terms []string) (*models.SearchResponse, error) {
	resp, err := httpClient.Get(searchURL(serverURL, terms))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	under := fs.String("under", "", "asset path below the content root (default: the directory's base name)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: damgrep import [--under path] <file-or-directory>")
		os.Exit(1)
	}
	path, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid path: %v\n", err)
		os.Exit(1)
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
		os.Exit(1)
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	im, err := components.newImporter(cfg, mountTarget(cfg.Store.ContentRoot, dir, *under), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if info.IsDir() {
		stats, err := im.ImportDirectory(ctx, dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Imported %d, unchanged %d, unsupported %d, too large %d (below %s)\n",
			stats.Imported, stats.Unchanged, stats.Unsupported, stats.TooLarge, im.Target())
		return
	}
	r, err := im.ImportFile(ctx, dir, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %s\n", path, r)
}

type statusResponse struct {
	Version        string              `json:"version,omitempty"`
	Driver         string              `json:"driver"`
	ContentRoot    string              `json:"content_root"`
	SearchPath     string              `json:"search_path"`
	Workers        int                 `json:"workers"`
	Predicates     int                 `json:"predicates"`
	Assets         *int64              `json:"assets,omitempty"`
	DiskUsageBytes *int64              `json:"disk_usage_bytes,omitempty"`
	Formats        []map[string]string `json:"formats"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = read the configuration directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status *statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = res
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		var err error
		status, err = localStatus(context.Background(), cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}

	if err := writeStatus(os.Stdout, status, *outputFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// localStatus reports the configuration and, for the sqlite driver, the catalog size.
func localStatus(ctx context.Context, cfg *config.Config) (*statusResponse, error) {
	s := &statusResponse{
		Version:     version,
		Driver:      cfg.Store.Driver,
		ContentRoot: cfg.Store.ContentRoot,
		SearchPath:  cfg.Server.SearchPath,
		Workers:     cfg.Scan.Workers,
		Predicates:  len(cfg.Metadata.Predicates),
	}
	for _, f := range cfg.EnabledFormats() {
		s.Formats = append(s.Formats, map[string]string{"name": f.Name, "content_type": f.ContentType, "match": f.Match})
	}
	paths := []string{cfg.Metadata.IndexPath, cfg.Store.Disk.RootDir}
	if cfg.Store.Driver == config.DriverSQLite {
		paths[1] = cfg.Store.SQLite.DatabasePath
		catalog, err := storage.NewSQLiteStore(cfg.Store.SQLite.DatabasePath)
		if err != nil {
			return nil, err
		}
		defer catalog.Close()
		n, err := catalog.CountAssets(ctx)
		if err != nil {
			return nil, fmt.Errorf("count assets: %w", err)
		}
		s.Assets = &n
	}
	if n, err := storage.DiskUsageBytes(paths...); err == nil {
		s.DiskUsageBytes = &n
	}
	return s, nil
}

func writeStatus(w io.Writer, s *statusResponse, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "text":
		fmt.Fprintf(w, "driver:            %s\n", s.Driver)
		fmt.Fprintf(w, "content_root:      %s\n", s.ContentRoot)
		fmt.Fprintf(w, "search_path:       %s\n", s.SearchPath)
		fmt.Fprintf(w, "workers:           %d\n", s.Workers)
		fmt.Fprintf(w, "predicates:        %d   # 0 = metadata query disabled\n", s.Predicates)
		if s.Assets != nil {
			fmt.Fprintf(w, "assets:            %d\n", *s.Assets)
		}
		if s.DiskUsageBytes != nil {
			fmt.Fprintf(w, "disk_usage_bytes:  %d\n", *s.DiskUsageBytes)
		}
		for _, f := range s.Formats {
			fmt.Fprintf(w, "format:            %-5s %-9s %s\n", f["name"], f["match"], f["content_type"])
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q; use text or json", format)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := httpClient.Get(strings.TrimSuffix(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func printUsage() {
	fmt.Println(`damgrep - full-text search over PDF, XLSX and DOCX assets

Usage:
  damgrep server [flags]                 Start the HTTP server
  damgrep search [flags] <term>...       Search assets
  damgrep import [flags] <file-or-dir>   Import files into the sqlite catalog
  damgrep status [flags]                 Show store and configuration status
  damgrep version                        Show version
  damgrep help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/damgrep/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to scan the store directly.
  --output string    text, compact, json or html (default: text)

Import Flags:
  --config string    Config file path
  --under string     Asset path below the content root (default: directory base name)

Status Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to read the config directly.
  --output string    text or json (default: text)

Examples:
  damgrep server
  damgrep search contract invoice
  damgrep search --output html "annual report"
  damgrep import --under legal ./contracts
  damgrep status --output json`)
}
