package scan

import "github.com/hyperjump/damgrep/internal/models"

// Aggregate merges hit lists into one deduplicated set. The result does not
// depend on the order of lists or of their elements.
func Aggregate(lists ...[]string) *models.HitSet {
	set := models.NewHitSet()
	for _, l := range lists {
		set.Add(l...)
	}
	return set
}

// HitLists returns the hit list of every report.
func HitLists(reports []models.FormatReport) [][]string {
	out := make([][]string, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.Hits)
	}
	return out
}
