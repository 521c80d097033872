package hybridsearch

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
)

// annCandidate pairs a docId with its distance from the current query,
// during graph traversal.
type annCandidate struct {
	id       uint64
	distance float32
}

// annMinHeap is a min-heap of candidates (closest first); used as the
// traversal frontier during searchLayer.
type annMinHeap []annCandidate

func (h annMinHeap) Len() int            { return len(h) }
func (h annMinHeap) Less(i, j int) bool  { return h[i].distance < h[j].distance }
func (h annMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *annMinHeap) Push(x interface{}) { *h = append(*h, x.(annCandidate)) }
func (h *annMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// annMaxHeap is a max-heap of candidates (farthest on top); used to track
// the best ef results found so far, so the worst can be evicted in O(log ef).
type annMaxHeap []annCandidate

func (h annMaxHeap) Len() int            { return len(h) }
func (h annMaxHeap) Less(i, j int) bool  { return h[i].distance > h[j].distance }
func (h annMaxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *annMaxHeap) Push(x interface{}) { *h = append(*h, x.(annCandidate)) }
func (h *annMaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

var annMinHeapPool = sync.Pool{
	New: func() interface{} {
		h := &annMinHeap{}
		heap.Init(h)
		return h
	},
}

var annMaxHeapPool = sync.Pool{
	New: func() interface{} {
		h := &annMaxHeap{}
		heap.Init(h)
		return h
	},
}

func newAnnMinHeap() *annMinHeap {
	return annMinHeapPool.Get().(*annMinHeap)
}

func putAnnMinHeap(h *annMinHeap) {
	*h = (*h)[:0]
	annMinHeapPool.Put(h)
}

func newAnnMaxHeap() *annMaxHeap {
	return annMaxHeapPool.Get().(*annMaxHeap)
}

func putAnnMaxHeap(h *annMaxHeap) {
	*h = (*h)[:0]
	annMaxHeapPool.Put(h)
}

// VectorResult is a single match from a vector search, ranked ascending by
// Distance (lower is more similar for every DistanceKind in this package).
type VectorResult struct {
	DocID    uint64
	Distance float32
	Score    float32 // 1/(1+Distance); convenience for callers that want "higher is better"
}

// annSearchOptions configures a single Search call on annEngine.
type annSearchOptions struct {
	k         int
	efSearch  int
	threshold float32
	hasThresh bool
	allowed   *candidateSet // non-nil restricts results to this docId set
}

// candidateSet is a plain membership set used to restrict ANN search to a
// pre-filtered list of docIds (the "overfetch, then filter" protocol used by
// searchVector when a metadata filter is present).
type candidateSet struct {
	ids map[uint64]struct{}
}

func newCandidateSet(ids []uint64) *candidateSet {
	s := &candidateSet{ids: make(map[uint64]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *candidateSet) contains(id uint64) bool {
	if s == nil {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

// Search finds the k nearest neighbors of query. If opts.allowed is set,
// only docIds present in that set are eligible, and efSearch should already
// have been widened by the caller to compensate for the restriction.
func (e *annEngine) Search(query []float32, opts annSearchOptions) ([]VectorResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(query) != e.dim {
		return nil, fmt.Errorf("hybridsearch: query dimension mismatch: expected %d, got %d", e.dim, len(query))
	}
	if len(e.nodes) == 0 || e.maxLevel == -1 {
		return []VectorResult{}, nil
	}

	preprocessed, err := e.distance.Preprocess(query)
	if err != nil {
		return nil, err
	}

	curr := e.entryPoint
	currDist := e.distance.Calculate(preprocessed, e.nodes[curr].Vector())

	for lc := e.maxLevel; lc > 0; lc-- {
		changed := true
		for changed {
			changed = false
			n := e.nodes[curr]
			if lc < len(n.edges) {
				for _, neighborID := range n.edges[lc] {
					if e.deleted.Contains(neighborID) {
						continue
					}
					d := e.distance.Calculate(preprocessed, e.nodes[neighborID].Vector())
					if d < currDist {
						currDist = d
						curr = neighborID
						changed = true
					}
				}
			}
		}
	}

	efSearch := opts.efSearch
	if efSearch <= 0 {
		efSearch = e.efSearch
	}
	candidates := e.searchLayerFiltered(preprocessed, curr, efSearch, 0, opts.allowed)

	results := make([]VectorResult, 0, len(candidates))
	for _, c := range candidates {
		if opts.hasThresh && c.distance > opts.threshold {
			continue
		}
		results = append(results, VectorResult{
			DocID:    c.id,
			Distance: c.distance,
			Score:    1 / (1 + c.distance),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].DocID < results[j].DocID
	})

	k := opts.k
	if k <= 0 || k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// searchLayerFiltered is searchLayer with an optional allow-set applied to
// which nodes may enter the result heap (but not to graph traversal, so the
// walk can still pass through excluded nodes to reach included ones).
func (e *annEngine) searchLayerFiltered(query []float32, entryPoint uint64, ef int, layer int, allowed *candidateSet) []annCandidate {
	if allowed == nil {
		return e.searchLayer(query, entryPoint, ef, layer)
	}

	visited := make(map[uint64]struct{})

	frontier := newAnnMinHeap()
	defer putAnnMinHeap(frontier)
	best := newAnnMaxHeap()
	defer putAnnMaxHeap(best)

	if !e.deleted.Contains(entryPoint) {
		d := e.distance.Calculate(query, e.nodes[entryPoint].Vector())
		heap.Push(frontier, annCandidate{id: entryPoint, distance: d})
		if allowed.contains(entryPoint) {
			heap.Push(best, annCandidate{id: entryPoint, distance: d})
		}
	}
	visited[entryPoint] = struct{}{}

	for frontier.Len() > 0 {
		current := heap.Pop(frontier).(annCandidate)
		if best.Len() >= ef && current.distance > (*best)[0].distance {
			break
		}

		n := e.nodes[current.id]
		if layer >= len(n.edges) {
			continue
		}
		for _, neighborID := range n.edges[layer] {
			if e.deleted.Contains(neighborID) {
				continue
			}
			if _, seen := visited[neighborID]; seen {
				continue
			}
			visited[neighborID] = struct{}{}

			d := e.distance.Calculate(query, e.nodes[neighborID].Vector())
			heap.Push(frontier, annCandidate{id: neighborID, distance: d})

			if !allowed.contains(neighborID) {
				continue
			}
			if best.Len() < ef || d < (*best)[0].distance {
				heap.Push(best, annCandidate{id: neighborID, distance: d})
				if best.Len() > ef {
					heap.Pop(best)
				}
			}
		}
	}

	results := make([]annCandidate, best.Len())
	for i := best.Len() - 1; i >= 0; i-- {
		results[i] = heap.Pop(best).(annCandidate)
	}
	return results
}
