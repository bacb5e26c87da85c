package models

// FormatReport summarizes one format's scan within a request.
type FormatReport struct {
	Format      Format `json:"format"`
	ContentType string `json:"content_type"`
	// Candidates is the number of assets the store returned for the content type.
	Candidates int `json:"candidates"`
	Scanned    int `json:"scanned"`
	// Skipped counts assets without a primary rendition.
	Skipped int `json:"skipped"`
	// Failed counts assets that could not be read or decoded.
	Failed int      `json:"failed"`
	Hits   []string `json:"hits"`
	// Error is set when the store query itself failed; the format then contributes no hits.
	Error string `json:"error,omitempty"`
}

// QueryFailed reports whether the format's store query failed.
func (r *FormatReport) QueryFailed() bool {
	return r.Error != ""
}

// SearchResponse is the outcome of one full-text search request.
type SearchResponse struct {
	RequestID     string         `json:"request_id"`
	Terms         Terms          `json:"terms"`
	Hits          []string       `json:"hits"`
	Total         int            `json:"total"`
	Formats       []FormatReport `json:"formats"`
	MetadataHits  int            `json:"metadata_hits"`
	MetadataError string         `json:"metadata_error,omitempty"`
	Canceled      bool           `json:"canceled,omitempty"`
	QueryTime     int64          `json:"query_time_ms"`
}

// Failures counts failed store queries and unreadable assets, plus one for
// a failed metadata query.
func (r *SearchResponse) Failures() int {
	n := 0
	for i := range r.Formats {
		if r.Formats[i].QueryFailed() {
			n++
		}
		n += r.Formats[i].Failed
	}
	if r.MetadataError != "" {
		n++
	}
	return n
}
