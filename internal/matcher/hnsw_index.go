package matcher

import (
	"math"
	"math/rand"
	"sync"

	"github.com/andresmejia3/gatekeeper/internal/gallery"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/coder/hnsw"
)

const (
	// HNSWMaxNeighbors is the M parameter of the graph.
	HNSWMaxNeighbors = 16
	// DefaultCandidates is how many approximate neighbours are re-ranked exactly.
	DefaultCandidates = 8
)

// HNSWIndex narrows the search with an approximate graph, then re-ranks the
// candidates with exact Euclidean distance. Ties among candidates go to the
// lowest gallery index; entries outside the candidate set are never considered.
type HNSWIndex struct {
	g          *gallery.Gallery
	graph      *hnsw.Graph[int]
	candidates int
	mu         sync.Mutex // hnsw.Graph.Search is not documented as safe for concurrent use
}

// NewHNSWIndex builds the graph keyed by gallery index. Entries whose dimension
// differs from the first entry are left out of the graph.
func NewHNSWIndex(g *gallery.Gallery, candidates int) *HNSWIndex {
	if candidates < 1 {
		candidates = DefaultCandidates
	}
	h := &HNSWIndex{g: g, candidates: candidates}
	if g.Len() == 0 {
		return h
	}

	graph := hnsw.NewGraph[int]()
	graph.M = HNSWMaxNeighbors
	graph.Ml = 1.0 / float64(HNSWMaxNeighbors)
	graph.EfSearch = max(20, candidates*2)
	graph.Distance = hnsw.EuclideanDistance
	// Fixed seed so the same gallery always yields the same graph.
	graph.Rng = rand.New(rand.NewSource(1))

	dim := len(g.At(0).Vec)
	nodes := make([]hnsw.Node[int], 0, g.Len())
	for i := 0; i < g.Len(); i++ {
		vec := g.At(i).Vec
		if len(vec) != dim || dim == 0 {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(i, toFloat32(vec)))
	}
	if len(nodes) > 0 {
		graph.Add(nodes...)
		h.graph = graph
	}
	return h
}

func (h *HNSWIndex) Nearest(vec types.Embedding) (int, float64, bool) {
	if h.graph == nil {
		return -1, math.Inf(1), false
	}
	if len(vec) != len(h.g.At(0).Vec) {
		return 0, math.Inf(1), true
	}

	h.mu.Lock()
	neighbors := h.graph.Search(toFloat32(vec), h.candidates)
	h.mu.Unlock()
	if len(neighbors) == 0 {
		return -1, math.Inf(1), false
	}

	best, bestDist := -1, math.Inf(1)
	for _, n := range neighbors {
		d := utils.EuclideanDist(vec, h.g.At(n.Key).Vec)
		if d < bestDist || (d == bestDist && n.Key < best) {
			best, bestDist = n.Key, d
		}
	}
	return best, bestDist, true
}

func toFloat32(v types.Embedding) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
