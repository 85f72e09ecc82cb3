package matcher

import (
	"math"

	"github.com/andresmejia3/gatekeeper/internal/gallery"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
)

// LinearIndex is an exact scan over every entry.
type LinearIndex struct {
	g *gallery.Gallery
}

func NewLinearIndex(g *gallery.Gallery) *LinearIndex {
	return &LinearIndex{g: g}
}

func (l *LinearIndex) Nearest(vec types.Embedding) (int, float64, bool) {
	n := l.g.Len()
	if n == 0 {
		return -1, math.Inf(1), false
	}
	best, bestDist := 0, math.Inf(1)
	for i := 0; i < n; i++ {
		// Strict less-than keeps the first index on ties.
		if d := utils.EuclideanDist(vec, l.g.At(i).Vec); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist, true
}
