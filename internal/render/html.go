// Package render writes search hits in the HTML fragment format served by
// the legacy search path.
package render

import (
	"bufio"
	"html"
	"io"
)

// HTML writes one anchor per hit, each followed by <br>. IDs are escaped in
// both the href and the link text; no newlines are emitted.
func HTML(w io.Writer, hits []string) error {
	bw := bufio.NewWriter(w)
	for _, id := range hits {
		esc := html.EscapeString(id)
		bw.WriteString(`<a href="`)
		bw.WriteString(esc)
		bw.WriteString(`">`)
		bw.WriteString(esc)
		bw.WriteString(`</a><br>`)
	}
	return bw.Flush()
}
