package models

import (
	"sort"
	"sync"
)

// HitSet is a set of asset IDs safe for concurrent use.
// Iteration order is unspecified; use Sorted for stable output.
type HitSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewHitSet returns an empty set.
func NewHitSet() *HitSet {
	return &HitSet{ids: make(map[string]struct{})}
}

// Add inserts ids, ignoring empty strings and duplicates.
func (h *HitSet) Add(ids ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		h.ids[id] = struct{}{}
	}
}

// Contains reports whether id is in the set.
func (h *HitSet) Contains(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.ids[id]
	return ok
}

// Len returns the number of distinct IDs.
func (h *HitSet) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ids)
}

// Sorted returns the IDs in lexical order.
func (h *HitSet) Sorted() []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.ids))
	for id := range h.ids {
		out = append(out, id)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}
