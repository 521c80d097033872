package hybridsearch

import (
	"container/heap"
	"math"
	"sort"
)

// TextResult is one hit from a lexical search.
type TextResult struct {
	DocID uint64
	Score float32
}

// TextFieldWeight scales a field's contribution to a multi-field text query;
// fields not listed default to weight 1.0.
type TextFieldWeight struct {
	Field  string
	Weight float64
}

// textSearchOptions configures one lexicalEngine.Search call.
type textSearchOptions struct {
	query   string
	fields  []TextFieldWeight // empty means "every FieldText field, weight 1"
	k       int
	allowed *candidateSet // nil means every document is eligible
}

// textResultHeap is a min-heap over TextResult, used to keep the top-k
// scores without sorting the full candidate set.
type textResultHeap []TextResult

func (h textResultHeap) Len() int { return len(h) }
func (h textResultHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].DocID > h[j].DocID // reverse so the heap min matches final ascending-docId tie-break
}
func (h textResultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *textResultHeap) Push(x any)   { *h = append(*h, x.(TextResult)) }
func (h *textResultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Search runs a BM25 query across opts.fields (or every text field, if
// unspecified), combining per-field scores by weighted sum, and returns the
// top opts.k hits sorted by descending score with ties broken by ascending
// docId for determinism.
func (e *lexicalEngine) Search(opts textSearchOptions) ([]TextResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	fields := opts.fields
	if len(fields) == 0 {
		fields = make([]TextFieldWeight, len(e.textFields))
		for i, f := range e.textFields {
			fields[i] = TextFieldWeight{Field: f, Weight: 1.0}
		}
	}

	qtokens := tokenizeText(normalizeText(opts.query))
	if len(qtokens) == 0 {
		return nil, nil
	}

	N := float64(e.numDocs.Load())
	if N == 0 {
		return nil, nil
	}

	scores := make(map[uint64]float64)

	for _, fw := range fields {
		postings, ok := e.postings[fw.Field]
		if !ok {
			continue
		}
		avgLen := e.avgDocLen[fw.Field]
		if avgLen == 0 {
			continue
		}
		lengths := e.docLengths[fw.Field]
		tfTable := e.tf[fw.Field]

		for _, tok := range qtokens {
			bitmap := postings[tok]
			if bitmap == nil {
				continue
			}
			df := float64(bitmap.GetCardinality())
			idf := math.Log((N-df+0.5)/(df+0.5) + 1.0)

			for it := bitmap.Iterator(); it.HasNext(); {
				docID := it.Next()
				if opts.allowed != nil && !opts.allowed.contains(docID) {
					continue
				}
				tfVal := float64(tfTable[tok][docID])
				docLen := float64(lengths[docID])
				score := idf * (tfVal * (bm25K1 + 1)) / (tfVal + bm25K1*(1-bm25B+bm25B*(docLen/avgLen)))
				scores[docID] += score * fw.Weight
			}
		}
	}

	if len(scores) == 0 {
		return nil, nil
	}

	k := opts.k
	if k <= 0 || k >= len(scores) {
		results := make([]TextResult, 0, len(scores))
		for docID, score := range scores {
			results = append(results, TextResult{DocID: docID, Score: float32(score)})
		}
		sortTextResults(results)
		return results, nil
	}

	h := make(textResultHeap, 0, k)
	heap.Init(&h)
	for docID, score := range scores {
		r := TextResult{DocID: docID, Score: float32(score)}
		if h.Len() < k {
			heap.Push(&h, r)
			continue
		}
		if r.Score > h[0].Score || (r.Score == h[0].Score && r.DocID < h[0].DocID) {
			heap.Pop(&h)
			heap.Push(&h, r)
		}
	}

	results := make([]TextResult, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(&h).(TextResult)
	}
	sortTextResults(results)
	return results, nil
}

func sortTextResults(results []TextResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
}
