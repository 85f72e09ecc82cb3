// Package matcher resolves face detections to gallery labels by nearest-neighbour
// search with a distance tolerance.
package matcher

import (
	"context"
	"fmt"
	"math"

	"github.com/andresmejia3/gatekeeper/internal/gallery"
	"github.com/andresmejia3/gatekeeper/internal/types"
)

// DefaultTolerance is the face_recognition default for Euclidean distance.
const DefaultTolerance = 0.6

// Index finds the nearest gallery entry. ok is false for an empty gallery.
// Ties must resolve to the lowest gallery index.
type Index interface {
	Nearest(vec types.Embedding) (idx int, dist float64, ok bool)
}

// Matcher is safe for concurrent use; the gallery and index are read-only.
type Matcher struct {
	gallery   *gallery.Gallery
	index     Index
	tolerance float64
	extractor types.Extractor
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithIndex replaces the default linear scan.
func WithIndex(idx Index) Option {
	return func(m *Matcher) { m.index = idx }
}

// WithExtractor sets the extractor used by MatchFrame.
func WithExtractor(ex types.Extractor) Option {
	return func(m *Matcher) { m.extractor = ex }
}

// New returns a matcher over g. tolerance is the maximum distance still considered a match.
func New(g *gallery.Gallery, tolerance float64, opts ...Option) *Matcher {
	m := &Matcher{gallery: g, tolerance: tolerance}
	for _, opt := range opts {
		opt(m)
	}
	if m.index == nil {
		m.index = NewLinearIndex(g)
	}
	return m
}

// Gallery returns the gallery the matcher searches.
func (m *Matcher) Gallery() *gallery.Gallery { return m.gallery }

// Tolerance returns the match threshold.
func (m *Matcher) Tolerance() float64 { return m.tolerance }

// Match resolves every detection, one result per detection, order preserved.
func (m *Matcher) Match(dets []types.Detection) []types.MatchResult {
	results := make([]types.MatchResult, len(dets))
	for i, d := range dets {
		results[i] = m.matchOne(d)
	}
	return results
}

func (m *Matcher) matchOne(d types.Detection) types.MatchResult {
	res := types.MatchResult{
		Detection: d,
		Label:     types.Unrecognized,
		Distance:  math.Inf(1),
		Index:     -1,
	}
	idx, dist, ok := m.index.Nearest(d.Vec)
	if !ok {
		// Empty gallery: nothing can match.
		return res
	}
	res.Index = idx
	res.Distance = dist
	if dist <= m.tolerance {
		res.Matched = true
		res.Label = m.gallery.At(idx).Label
	}
	return res
}

// MatchFrame extracts detections from one JPEG frame and matches them.
func (m *Matcher) MatchFrame(ctx context.Context, frame []byte) ([]types.MatchResult, error) {
	if m.extractor == nil {
		return nil, fmt.Errorf("matcher has no extractor")
	}
	dets, err := m.extractor.Extract(ctx, frame)
	if err != nil {
		return nil, err
	}
	return m.Match(dets), nil
}
