// Package hybridsearch implements a hybrid lexical+vector document search
// engine: a BM25 lexical index and an HNSW approximate nearest neighbor
// index, joined on a shared uint64 docId and fused with Reciprocal Rank
// Fusion.
//
// The ANN engine in this file is HNSW (Hierarchical Navigable Small World),
// a graph-based approximate nearest neighbor index. It builds a
// multi-layered graph where search descends from sparse upper layers to the
// dense base layer, giving O(log n)-ish search with high recall.
package hybridsearch

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"sync"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
)

const annDataMagic = "HSAD"
const annGraphMagic = "HSAG"
const annFormatVersion = uint32(1)

// annNode is a vertex in the HNSW graph, keyed by docId.
type annNode struct {
	node

	// level is the highest layer this node participates in.
	level int

	// edges[l] holds neighbor docIds at layer l. edges[0] holds 2*M
	// neighbors; every other layer holds M.
	edges [][]uint64
}

func newAnnNode(n node, level int) *annNode {
	edges := make([][]uint64, level+1)
	for i := range edges {
		edges[i] = make([]uint64, 0)
	}
	return &annNode{node: n, level: level, edges: edges}
}

// annConfig holds the tunable HNSW construction/search parameters.
type annConfig struct {
	MaxConnections int `json:"maxConnections"` // M: edges per node above layer 0 (layer 0 uses 2*M)
	MaxElements    int `json:"maxElements"`    // advisory capacity hint, not enforced as a hard cap
	MaxLayers      int `json:"maxLayers"`      // cap on random level assignment
	EfConstruction int `json:"efConstruction"` // candidate list size while inserting
}

// DefaultANNConfig returns the recommended HNSW parameters.
func DefaultANNConfig() annConfig {
	return annConfig{
		MaxConnections: 16,
		MaxElements:    0,
		MaxLayers:      16,
		EfConstruction: 200,
	}
}

// annEngine is the HNSW-backed vector index used by HybridIndex. All docIds
// are internal uint64 identifiers assigned by the hybrid facade; the engine
// itself never invents an id.
type annEngine struct {
	mu sync.RWMutex

	dim          int
	distanceKind DistanceKind
	distance     Distance

	m              int
	efConstruction int
	efSearch       int
	maxLayers      int
	levelMult      float64

	maxLevel   int
	entryPoint uint64

	nodes   map[uint64]*annNode
	deleted *roaring.Bitmap

	// searching, when true, forbids Insert/InsertBatch. The hybrid facade
	// turns it on at Commit and before each vector search, and off again at
	// the start of each Add/AddBatch; HNSW inserts can otherwise interleave
	// with searchLayer traversals in ways that are safe but make result
	// order nondeterministic.
	searching bool
}

// newANNEngine constructs an empty HNSW graph for dim-dimensional vectors.
func newANNEngine(dim int, distanceKind DistanceKind, cfg annConfig) (*annEngine, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hybridsearch: ann dimension must be positive, got %d", dim)
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.MaxLayers <= 0 {
		cfg.MaxLayers = 16
	}

	distance, err := NewDistance(distanceKind)
	if err != nil {
		return nil, err
	}

	return &annEngine{
		dim:            dim,
		distanceKind:   distanceKind,
		distance:       distance,
		m:              cfg.MaxConnections,
		efConstruction: cfg.EfConstruction,
		efSearch:       cfg.EfConstruction,
		maxLayers:      cfg.MaxLayers,
		levelMult:      1.0 / math.Log(float64(cfg.MaxConnections)),
		maxLevel:       -1,
		nodes:          make(map[uint64]*annNode),
		deleted:        roaring.New(),
	}, nil
}

// SetSearchingMode toggles the graph between insert-allowed and search-only.
// Insert and InsertBatch return an error while searching mode is active.
func (e *annEngine) SetSearchingMode(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.searching = on
}

// SetEfSearch adjusts the default search-time candidate list size.
func (e *annEngine) SetEfSearch(ef int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ef > 0 {
		e.efSearch = ef
	}
}

// Dimensions returns the configured vector dimensionality.
func (e *annEngine) Dimensions() int { return e.dim }

// DistanceKind returns the configured distance metric.
func (e *annEngine) DistanceKind() DistanceKind { return e.distanceKind }

// Len returns the number of live (non soft-deleted) nodes.
func (e *annEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.nodes) - int(e.deleted.GetCardinality())
}

// Insert adds a vector under docId to the graph. The vector is preprocessed
// in place (e.g. normalized for cosine distance) before insertion.
func (e *annEngine) Insert(docID uint64, vector []float32) error {
	if len(vector) != e.dim {
		return fmt.Errorf("hybridsearch: vector dimension mismatch: expected %d, got %d", e.dim, len(vector))
	}
	if err := e.distance.PreprocessInPlace(vector); err != nil {
		return err
	}

	level := e.randomLevel()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.searching {
		return fmt.Errorf("hybridsearch: cannot insert while index is in searching mode")
	}

	n := newAnnNode(*newNode(docID, vector), level)
	if level > e.maxLevel {
		e.maxLevel = level
	}

	if len(e.nodes) == 0 {
		e.entryPoint = docID
		e.nodes[docID] = n
		return nil
	}

	e.insertNode(n)
	e.nodes[docID] = n
	return nil
}

// InsertBatch inserts many vectors, stopping at the first error.
func (e *annEngine) InsertBatch(docIDs []uint64, vectors [][]float32) error {
	if len(docIDs) != len(vectors) {
		return fmt.Errorf("hybridsearch: docIDs/vectors length mismatch: %d vs %d", len(docIDs), len(vectors))
	}
	for i := range docIDs {
		if err := e.Insert(docIDs[i], vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

// Delete soft-deletes docID. It is skipped by subsequent searches and
// removed from the graph on the next Compact.
func (e *annEngine) Delete(docID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.nodes[docID]; !ok {
		return fmt.Errorf("hybridsearch: docId %d not found in ann engine", docID)
	}
	e.deleted.Add(docID)
	return nil
}

// Contains reports whether docID is present and not soft-deleted.
func (e *annEngine) Contains(docID uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.nodes[docID]
	return ok && !e.deleted.Contains(docID)
}

// Compact hard-deletes all soft-deleted nodes: it strips dangling edges,
// repairs the entry point if needed, and frees the node storage. It is
// O(n x M x L) so callers should batch deletes before calling it.
func (e *annEngine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted.GetCardinality() == 0 {
		return nil
	}

	for _, other := range e.nodes {
		if e.deleted.Contains(other.ID()) {
			continue
		}
		for lc := range other.edges {
			filtered := other.edges[lc][:0]
			for _, nid := range other.edges[lc] {
				if !e.deleted.Contains(nid) {
					filtered = append(filtered, nid)
				}
			}
			other.edges[lc] = filtered
		}
	}

	if e.deleted.Contains(e.entryPoint) {
		found := false
		for _, n := range e.nodes {
			if !e.deleted.Contains(n.ID()) && n.level == e.maxLevel {
				e.entryPoint = n.ID()
				found = true
				break
			}
		}
		if !found {
			maxFound := -1
			for _, n := range e.nodes {
				if !e.deleted.Contains(n.ID()) && n.level > maxFound {
					maxFound = n.level
					e.entryPoint = n.ID()
				}
			}
			if maxFound >= 0 {
				e.maxLevel = maxFound
			} else {
				e.entryPoint = 0
				e.maxLevel = -1
			}
		}
	}

	it := e.deleted.Iterator()
	for it.HasNext() {
		delete(e.nodes, it.Next())
	}
	e.deleted.Clear()
	return nil
}

// Clear removes all nodes and resets the graph to empty.
func (e *annEngine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes = make(map[uint64]*annNode)
	e.deleted = roaring.New()
	e.maxLevel = -1
	e.entryPoint = 0
}

// randomLevel assigns a level via geometric distribution, capped at maxLayers.
func (e *annEngine) randomLevel() int {
	probability := 1.0 / float64(e.m)
	level := 0
	for level < e.maxLayers && rand.Float64() < probability {
		level++
	}
	return level
}

// insertNode splices n into the graph. Caller must hold the write lock.
func (e *annEngine) insertNode(n *annNode) {
	curr := e.entryPoint
	currDist := e.distance.Calculate(n.Vector(), e.nodes[curr].Vector())

	for lc := e.maxLevel; lc > n.level; lc-- {
		changed := true
		for changed {
			changed = false
			currNode := e.nodes[curr]
			if lc < len(currNode.edges) {
				for _, neighborID := range currNode.edges[lc] {
					if e.deleted.Contains(neighborID) {
						continue
					}
					d := e.distance.Calculate(n.Vector(), e.nodes[neighborID].Vector())
					if d < currDist {
						currDist = d
						curr = neighborID
						changed = true
					}
				}
			}
		}
	}

	for lc := n.level; lc >= 0; lc-- {
		candidates := e.searchLayer(n.Vector(), curr, e.efConstruction, lc)

		M := e.m
		if lc == 0 {
			M *= 2
		}
		neighbors := e.selectNeighbors(candidates, M)

		for _, neighborID := range neighbors {
			n.edges[lc] = append(n.edges[lc], neighborID)

			neighbor := e.nodes[neighborID]
			if lc <= neighbor.level {
				neighbor.edges[lc] = append(neighbor.edges[lc], n.ID())
				if len(neighbor.edges[lc]) > M {
					e.pruneConnections(neighborID, lc, M)
				}
			}
		}

		if len(candidates) > 0 {
			curr = candidates[0].id
		}
	}
}

// searchLayer performs a greedy best-first search at a single layer, using a
// min-heap of frontier candidates and a max-heap holding the best ef results
// seen so far. Caller must hold at least a read lock.
func (e *annEngine) searchLayer(query []float32, entryPoint uint64, ef int, layer int) []annCandidate {
	visited := roaring.New()

	frontier := newAnnMinHeap()
	defer putAnnMinHeap(frontier)

	best := newAnnMaxHeap()
	defer putAnnMaxHeap(best)

	if !e.deleted.Contains(entryPoint) {
		d := e.distance.Calculate(query, e.nodes[entryPoint].Vector())
		heap.Push(frontier, annCandidate{id: entryPoint, distance: d})
		heap.Push(best, annCandidate{id: entryPoint, distance: d})
	}
	visited.Add(entryPoint)

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
			if e.deleted.Contains(neighborID) || visited.Contains(neighborID) {
				continue
			}
			visited.Add(neighborID)

			d := e.distance.Calculate(query, e.nodes[neighborID].Vector())
			if best.Len() < ef || d < (*best)[0].distance {
				heap.Push(frontier, annCandidate{id: neighborID, distance: d})
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

// selectNeighbors keeps the M closest candidates by distance.
func (e *annEngine) selectNeighbors(candidates []annCandidate, M int) []uint64 {
	if len(candidates) <= M {
		result := make([]uint64, len(candidates))
		for i, c := range candidates {
			result[i] = c.id
		}
		return result
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	result := make([]uint64, M)
	for i := 0; i < M; i++ {
		result[i] = candidates[i].id
	}
	return result
}

// pruneConnections trims docID's edges at layer to its M nearest.
func (e *annEngine) pruneConnections(docID uint64, layer, M int) {
	n := e.nodes[docID]

	candidates := make([]annCandidate, 0, len(n.edges[layer]))
	for _, nid := range n.edges[layer] {
		other, ok := e.nodes[nid]
		if !ok {
			continue
		}
		d := e.distance.Calculate(n.Vector(), other.Vector())
		candidates = append(candidates, annCandidate{id: nid, distance: d})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	keep := M
	if len(candidates) < M {
		keep = len(candidates)
	}
	n.edges[layer] = make([]uint64, keep)
	for i := 0; i < keep; i++ {
		n.edges[layer][i] = candidates[i].id
	}
}

// ============================================================================
// PERSISTENCE
//
// The graph is split across two files so that vector data and graph
// topology can be regenerated independently: <basename>.data holds the
// raw vectors, <basename>.graph holds edges, levels and the soft-delete
// bitmap.
// ============================================================================

func writeUint32(w io.Writer, v uint32) error { return binary.Write(w, binary.LittleEndian, v) }
func readUint32(r io.Reader, v *uint32) error { return binary.Read(r, binary.LittleEndian, v) }

// WriteData serializes dim, distance kind and every (docId, vector) pair.
// It does not call Compact; callers that want soft-deleted nodes dropped
// from the persisted form should call Compact first.
func (e *annEngine) WriteData(w io.Writer) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var n int64
	if _, err := w.Write([]byte(annDataMagic)); err != nil {
		return n, err
	}
	n += 4

	if err := writeUint32(w, annFormatVersion); err != nil {
		return n, err
	}
	n += 4

	if err := writeUint32(w, uint32(e.dim)); err != nil {
		return n, err
	}
	n += 4

	kindBytes := []byte(e.distanceKind)
	if err := writeUint32(w, uint32(len(kindBytes))); err != nil {
		return n, err
	}
	n += 4
	if _, err := w.Write(kindBytes); err != nil {
		return n, err
	}
	n += int64(len(kindBytes))

	if err := writeUint32(w, uint32(len(e.nodes))); err != nil {
		return n, err
	}
	n += 4

	for docID, node := range e.nodes {
		if err := binary.Write(w, binary.LittleEndian, docID); err != nil {
			return n, err
		}
		n += 8
		vec := node.Vector()
		if err := writeUint32(w, uint32(len(vec))); err != nil {
			return n, err
		}
		n += 4
		if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
			return n, err
		}
		n += int64(len(vec)) * 4
	}

	return n, nil
}

// ReadData deserializes a .data stream produced by WriteData, validating
// that dim and distance kind match the engine's own configuration.
func (e *annEngine) ReadData(r io.Reader) (int64, map[uint64][]float32, error) {
	var n int64

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return n, nil, fmt.Errorf("hybridsearch: read ann data magic: %w", err)
	}
	n += 4
	if string(magic) != annDataMagic {
		return n, nil, fmt.Errorf("hybridsearch: invalid ann data magic %q", magic)
	}

	var version uint32
	if err := readUint32(r, &version); err != nil {
		return n, nil, err
	}
	n += 4
	if version != annFormatVersion {
		return n, nil, fmt.Errorf("hybridsearch: unsupported ann data version %d", version)
	}

	var dim uint32
	if err := readUint32(r, &dim); err != nil {
		return n, nil, err
	}
	n += 4
	if int(dim) != e.dim {
		return n, nil, fmt.Errorf("hybridsearch: ann dim mismatch: engine=%d, data=%d", e.dim, dim)
	}

	var kindLen uint32
	if err := readUint32(r, &kindLen); err != nil {
		return n, nil, err
	}
	n += 4
	kindBytes := make([]byte, kindLen)
	if _, err := io.ReadFull(r, kindBytes); err != nil {
		return n, nil, err
	}
	n += int64(kindLen)
	if DistanceKind(kindBytes) != e.distanceKind {
		return n, nil, fmt.Errorf("hybridsearch: ann distance kind mismatch: engine=%s, data=%s", e.distanceKind, kindBytes)
	}

	var count uint32
	if err := readUint32(r, &count); err != nil {
		return n, nil, err
	}
	n += 4

	vectors := make(map[uint64][]float32, count)
	for i := uint32(0); i < count; i++ {
		var docID uint64
		if err := binary.Read(r, binary.LittleEndian, &docID); err != nil {
			return n, nil, err
		}
		n += 8
		var vecLen uint32
		if err := readUint32(r, &vecLen); err != nil {
			return n, nil, err
		}
		n += 4
		vec := make([]float32, vecLen)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return n, nil, err
		}
		n += int64(vecLen) * 4
		vectors[docID] = vec
	}

	return n, vectors, nil
}

// WriteGraph serializes construction parameters and graph topology: levels,
// edges, entry point and the soft-delete bitmap. It must be paired with a
// .data file written by WriteData from the same engine state.
func (e *annEngine) WriteGraph(w io.Writer) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var n int64
	if _, err := w.Write([]byte(annGraphMagic)); err != nil {
		return n, err
	}
	n += 4
	if err := writeUint32(w, annFormatVersion); err != nil {
		return n, err
	}
	n += 4

	for _, v := range []uint32{uint32(e.m), uint32(e.efConstruction), uint32(e.efSearch), uint32(e.maxLayers)} {
		if err := writeUint32(w, v); err != nil {
			return n, err
		}
		n += 4
	}
	if err := binary.Write(w, binary.LittleEndian, e.levelMult); err != nil {
		return n, err
	}
	n += 8
	if err := binary.Write(w, binary.LittleEndian, int32(e.maxLevel)); err != nil {
		return n, err
	}
	n += 4
	if err := binary.Write(w, binary.LittleEndian, e.entryPoint); err != nil {
		return n, err
	}
	n += 8

	if err := writeUint32(w, uint32(len(e.nodes))); err != nil {
		return n, err
	}
	n += 4

	for docID, node := range e.nodes {
		if err := binary.Write(w, binary.LittleEndian, docID); err != nil {
			return n, err
		}
		n += 8
		if err := binary.Write(w, binary.LittleEndian, int32(node.level)); err != nil {
			return n, err
		}
		n += 4
		if err := writeUint32(w, uint32(len(node.edges))); err != nil {
			return n, err
		}
		n += 4
		for _, layerEdges := range node.edges {
			if err := writeUint32(w, uint32(len(layerEdges))); err != nil {
				return n, err
			}
			n += 4
			for _, edgeID := range layerEdges {
				if err := binary.Write(w, binary.LittleEndian, edgeID); err != nil {
					return n, err
				}
				n += 8
			}
		}
	}

	bitmapBytes, err := e.deleted.ToBytes()
	if err != nil {
		return n, err
	}
	if err := writeUint32(w, uint32(len(bitmapBytes))); err != nil {
		return n, err
	}
	n += 4
	if _, err := w.Write(bitmapBytes); err != nil {
		return n, err
	}
	n += int64(len(bitmapBytes))

	return n, nil
}

// ReadGraph deserializes a .graph stream and, combined with the vectors
// produced by ReadData, rebuilds the engine state in place.
func (e *annEngine) ReadGraph(r io.Reader, vectors map[uint64][]float32) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int64
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return n, fmt.Errorf("hybridsearch: read ann graph magic: %w", err)
	}
	n += 4
	if string(magic) != annGraphMagic {
		return n, fmt.Errorf("hybridsearch: invalid ann graph magic %q", magic)
	}

	var version uint32
	if err := readUint32(r, &version); err != nil {
		return n, err
	}
	n += 4
	if version != annFormatVersion {
		return n, fmt.Errorf("hybridsearch: unsupported ann graph version %d", version)
	}

	var m, efConstruction, efSearch, maxLayers uint32
	for _, v := range []*uint32{&m, &efConstruction, &efSearch, &maxLayers} {
		if err := readUint32(r, v); err != nil {
			return n, err
		}
		n += 4
	}

	var levelMult float64
	if err := binary.Read(r, binary.LittleEndian, &levelMult); err != nil {
		return n, err
	}
	n += 8

	var maxLevel int32
	if err := binary.Read(r, binary.LittleEndian, &maxLevel); err != nil {
		return n, err
	}
	n += 4

	var entryPoint uint64
	if err := binary.Read(r, binary.LittleEndian, &entryPoint); err != nil {
		return n, err
	}
	n += 8

	var nodeCount uint32
	if err := readUint32(r, &nodeCount); err != nil {
		return n, err
	}
	n += 4

	nodes := make(map[uint64]*annNode, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		var docID uint64
		if err := binary.Read(r, binary.LittleEndian, &docID); err != nil {
			return n, err
		}
		n += 8

		var level int32
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			return n, err
		}
		n += 4

		var layerCount uint32
		if err := readUint32(r, &layerCount); err != nil {
			return n, err
		}
		n += 4

		edges := make([][]uint64, layerCount)
		for lc := uint32(0); lc < layerCount; lc++ {
			var edgeCount uint32
			if err := readUint32(r, &edgeCount); err != nil {
				return n, err
			}
			n += 4
			edges[lc] = make([]uint64, edgeCount)
			for j := uint32(0); j < edgeCount; j++ {
				if err := binary.Read(r, binary.LittleEndian, &edges[lc][j]); err != nil {
					return n, err
				}
				n += 8
			}
		}

		vec, ok := vectors[docID]
		if !ok {
			return n, fmt.Errorf("hybridsearch: ann graph references docId %d missing from data file", docID)
		}
		nodes[docID] = &annNode{node: *newNode(docID, vec), level: int(level), edges: edges}
	}

	var bitmapSize uint32
	if err := readUint32(r, &bitmapSize); err != nil {
		return n, err
	}
	n += 4
	bitmapBytes := make([]byte, bitmapSize)
	if _, err := io.ReadFull(r, bitmapBytes); err != nil {
		return n, err
	}
	n += int64(bitmapSize)

	deleted := roaring.New()
	if _, err := deleted.FromUnsafeBytes(bitmapBytes); err != nil {
		return n, fmt.Errorf("hybridsearch: decode ann deleted bitmap: %w", err)
	}

	e.m = int(m)
	e.efConstruction = int(efConstruction)
	e.efSearch = int(efSearch)
	e.maxLayers = int(maxLayers)
	e.levelMult = levelMult
	e.maxLevel = int(maxLevel)
	e.entryPoint = entryPoint
	e.nodes = nodes
	e.deleted = deleted

	return n, nil
}

// annDataFile and annGraphFile name the two files a Save/loadANNEngine pair
// writes and reads under an index directory, e.g. "hnsw.data"/"hnsw.graph"
// for basename "hnsw".
func annDataFile(basename string) string  { return basename + ".data" }
func annGraphFile(basename string) string { return basename + ".graph" }

// Save persists the engine to <dir>/<basename>.data and
// <dir>/<basename>.graph, each written atomically via a temp-file rename so
// a crash mid-write never leaves a torn file for loadANNEngine to trip over.
// It does not call Compact; callers that want soft-deleted nodes dropped
// from the persisted graph should call Compact first.
func (e *annEngine) Save(dir, basename string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, annDataFile(basename)), e.WriteData); err != nil {
		return fmt.Errorf("hybridsearch: write ann data: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, annGraphFile(basename)), e.WriteGraph); err != nil {
		return fmt.Errorf("hybridsearch: write ann graph: %w", err)
	}
	return nil
}

// writeAtomic writes the output of write to a temp file in path's directory
// and renames it into place.
func writeAtomic(path string, write func(io.Writer) (int64, error)) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// loadANNEngine constructs a fresh engine for (dim, distanceKind, cfg) and,
// if <dir>/<basename>.data exists, repopulates it from the persisted data
// and graph files. A missing data file is not an error: it means the index
// was never committed with vectors and the caller gets an empty engine.
func loadANNEngine(dir, basename string, dim int, distanceKind DistanceKind, cfg annConfig) (*annEngine, error) {
	e, err := newANNEngine(dim, distanceKind, cfg)
	if err != nil {
		return nil, err
	}

	dataPath := filepath.Join(dir, annDataFile(basename))
	dataFile, err := os.Open(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return e, nil
		}
		return nil, err
	}
	_, vectors, err := e.ReadData(dataFile)
	closeErr := dataFile.Close()
	if err != nil {
		return nil, fmt.Errorf("hybridsearch: read ann data: %w", err)
	}
	if closeErr != nil {
		return nil, closeErr
	}

	graphPath := filepath.Join(dir, annGraphFile(basename))
	graphFile, err := os.Open(graphPath)
	if err != nil {
		return nil, fmt.Errorf("hybridsearch: open ann graph: %w", err)
	}
	_, err = e.ReadGraph(graphFile, vectors)
	closeErr = graphFile.Close()
	if err != nil {
		return nil, fmt.Errorf("hybridsearch: read ann graph: %w", err)
	}
	if closeErr != nil {
		return nil, closeErr
	}

	return e, nil
}
