package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/damgrep/internal/config"
	"github.com/hyperjump/damgrep/internal/render"
	"github.com/hyperjump/damgrep/internal/storage"
)

// FailuresHeader carries the number of failed formats and assets of a search.
const FailuresHeader = "X-Damgrep-Failures"

// termParam is the repeatable query parameter holding search terms.
const termParam = "fulltext"

func (s *Server) handleSearchHTML(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query()[termParam]
	s.logger.Debug("search request", zap.Strings("fulltext", raw))
	resp := s.searcher.Search(r.Context(), raw)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set(FailuresHeader, strconv.Itoa(resp.Failures()))
	w.WriteHeader(http.StatusOK)
	if err := render.HTML(w, resp.Hits); err != nil {
		s.logger.Warn("write search response failed",
			zap.String("request_id", resp.RequestID),
			zap.Error(err))
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query()[termParam]
	s.logger.Debug("search request", zap.Strings("fulltext", raw))
	resp := s.searcher.Search(r.Context(), raw)
	w.Header().Set(FailuresHeader, strconv.Itoa(resp.Failures()))
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.config
	formats := make([]map[string]string, 0, len(cfg.Scan.Formats))
	for _, f := range cfg.EnabledFormats() {
		formats = append(formats, map[string]string{
			"name":         f.Name,
			"content_type": f.ContentType,
			"match":        f.Match,
		})
	}
	resp := map[string]interface{}{
		"version":      s.version,
		"driver":       cfg.Store.Driver,
		"content_root": cfg.Store.ContentRoot,
		"search_path":  cfg.Server.SearchPath,
		"formats":      formats,
		"workers":      cfg.Scan.Workers,
		"predicates":   len(cfg.Metadata.Predicates),
	}

	if s.catalog != nil {
		n, err := s.catalog.CountAssets(r.Context())
		if err != nil {
			s.logger.Error("status: count assets failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["assets"] = n
	}

	paths := []string{cfg.Metadata.IndexPath}
	if cfg.Store.Driver == config.DriverSQLite {
		paths = append(paths, cfg.Store.SQLite.DatabasePath)
	} else {
		paths = append(paths, cfg.Store.Disk.RootDir)
	}
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
