// Package cli provides CLI utilities for damgrep.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/damgrep/internal/models"
	"github.com/hyperjump/damgrep/internal/render"
	"github.com/hyperjump/damgrep/pkg/utils"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text with a per-format summary (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact prints one asset path per line.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
	// OutputHTML is the anchor list served by the HTML search endpoint.
	OutputHTML SearchOutputFormat = "html"
)

// ParseOutputFormat validates an --output value.
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return OutputText, nil
	case OutputText, OutputCompact, OutputJSON, OutputHTML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, compact, json or html)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	case OutputHTML:
		if err := render.HTML(w, response.Hits); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w)
		return err
	case OutputCompact:
		for _, id := range response.Hits {
			if _, err := fmt.Fprintln(w, id); err != nil {
				return err
			}
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

// maxErrorLen bounds error strings in the text summary.
const maxErrorLen = 120

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	if response.Terms.Empty() {
		fmt.Fprintln(w, "\nNo search terms given.")
		return
	}
	fmt.Fprintf(w, "\nFound %d assets for %s in %dms\n\n",
		response.Total, strings.Join(response.Terms, ", "), response.QueryTime)
	for _, id := range response.Hits {
		fmt.Fprintf(w, "  %s\n", id)
	}
	if len(response.Formats) > 0 {
		fmt.Fprintln(w, "\n--- Formats ---")
		for _, r := range response.Formats {
			fmt.Fprintf(w, "%-5s candidates=%d scanned=%d hits=%d skipped=%d failed=%d\n",
				r.Format, r.Candidates, r.Scanned, len(r.Hits), r.Skipped, r.Failed)
			if r.QueryFailed() {
				fmt.Fprintf(w, "      query failed: %s\n", utils.Truncate(r.Error, maxErrorLen))
			}
		}
	}
	if response.MetadataHits > 0 || response.MetadataError != "" {
		fmt.Fprintf(w, "metadata hits=%d", response.MetadataHits)
		if response.MetadataError != "" {
			fmt.Fprintf(w, " error: %s", utils.Truncate(response.MetadataError, maxErrorLen))
		}
		fmt.Fprintln(w)
	}
	if response.Canceled {
		fmt.Fprintln(w, "search canceled; results are partial")
	}
}
