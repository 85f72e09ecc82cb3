// Package gallery holds the reference set of labeled face embeddings and the
// builder that extracts it from sample videos.
package gallery

import "github.com/andresmejia3/gatekeeper/internal/types"

// Entry is one reference embedding. Several entries usually share a label.
type Entry struct {
	Vec    types.Embedding
	Label  string
	Source string // video the embedding was sampled from
}

// LabelCount summarizes how many entries a label contributed.
type LabelCount struct {
	Label string
	Count int
}

// Gallery is an ordered, read-only set of entries. Index order never changes
// after construction, so it is safe for concurrent readers.
type Gallery struct {
	entries []Entry
}

// New copies entries into a gallery, preserving order.
func New(entries []Entry) *Gallery {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Gallery{entries: cp}
}

// Len returns the number of entries.
func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// At returns the entry at index i.
func (g *Gallery) At(i int) Entry { return g.entries[i] }

// Entries returns a copy of all entries in index order.
func (g *Gallery) Entries() []Entry {
	if g == nil {
		return nil
	}
	cp := make([]Entry, len(g.entries))
	copy(cp, g.entries)
	return cp
}

// Labels returns per-label entry counts in order of first appearance.
func (g *Gallery) Labels() []LabelCount {
	if g == nil {
		return nil
	}
	var out []LabelCount
	pos := make(map[string]int)
	for _, e := range g.entries {
		i, ok := pos[e.Label]
		if !ok {
			i = len(out)
			pos[e.Label] = i
			out = append(out, LabelCount{Label: e.Label})
		}
		out[i].Count++
	}
	return out
}
