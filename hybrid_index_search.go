package hybridsearch

import (
	"context"
	"sort"

	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
)

// defaultOverfetchMultiplier is how far past (limit+offset) searchVector and
// searchHybrid cast their ANN net before filtering and offsetting, to leave
// enough headroom that a metadata filter or RRF merge doesn't starve the
// final page of results.
const defaultOverfetchMultiplier = 3

// TextQuery configures SearchText.
type TextQuery struct {
	Query         string
	DefaultFields []string
	FuzzyFields   []FuzzyFieldSpec
	Filter        FilterNode
	Limit         int
	Offset        int
}

// TextHit is one SearchText result, hydrated back into the caller's
// document type. Score is the BM25 score (0 for a MATCH_ALL query with no
// text component).
type TextHit[D any] struct {
	DocID    uint64
	Score    float32
	Document D
}

// VectorQuery configures SearchVector.
type VectorQuery struct {
	Vector              []float32
	Filter              FilterNode
	Limit               int
	Offset              int
	EfSearch            int
	OverfetchMultiplier int

	// Autocut, when > 0, trims the overfetched result list at the Autocut'th
	// score-distribution extremum instead of (or in addition to) a hard
	// Limit, useful when the caller wants "everything clearly relevant"
	// rather than a fixed page size. 0 disables it.
	Autocut int
}

// VectorHit is one SearchVector result. Score is 1/(1+Distance).
type VectorHit[D any] struct {
	DocID    uint64
	Distance float32
	Score    float32
	Document D
}

// HybridQuery configures SearchHybrid: a text component, a vector
// component, a shared filter, and a fusion strategy to merge the two.
type HybridQuery struct {
	Query               string
	DefaultFields       []string
	FuzzyFields         []FuzzyFieldSpec
	Vector              []float32
	Filter              FilterNode
	Limit               int
	Offset              int
	EfSearch            int
	RRFK                float64
	Weights             RRFWeight
	OverfetchMultiplier int

	// Fusion selects how the text and vector result lists are combined.
	// The zero value is ReciprocalRankFusion. WeightedSumFusion/MaxFusion/
	// MinFusion instead combine the two modalities' raw scores through
	// FusionConfig, for callers whose vector and text scores are already
	// on comparable scales.
	Fusion       FusionKind
	FusionConfig *FusionConfig
}

// HybridHit is one SearchHybrid result, carrying its fused score (the RRF
// score, or the score of the FusionKind selected in HybridQuery.Fusion).
type HybridHit[D any] struct {
	DocID    uint64
	Score    float64
	Document D
}

// decodeLocked hydrates docID into D. Caller must hold idx.mu. A document
// that can't be decoded is reported as ok=false rather than an error, so a
// search drops that hit instead of failing outright, per §7's "search and
// get never create data" user-visible failure policy.
func (idx *HybridIndex[D]) decodeLocked(docID uint64) (D, bool) {
	var zero D
	fields, ok := idx.lexical.Get(docID)
	if !ok {
		return zero, false
	}
	doc, err := idx.codec.Decode(fields)
	if err != nil {
		return zero, false
	}
	return doc, true
}

// resolveFilterLocked validates and evaluates filter against the metadata
// engine, returning a candidateSet usable as an admission filter. A nil
// filter returns a nil set, meaning every document is eligible.
func (idx *HybridIndex[D]) resolveFilterLocked(filter FilterNode) (*candidateSet, error) {
	if filter == nil {
		return nil, nil
	}
	if err := validateFilterNode(filter, idx.schema); err != nil {
		return nil, err
	}
	bitmap, err := idx.metadata.Evaluate(filter)
	if err != nil {
		return nil, err
	}
	return bitmapToCandidateSet(bitmap), nil
}

func bitmapToCandidateSet(b *roaring.Bitmap) *candidateSet {
	ids := make([]uint64, 0, b.GetCardinality())
	for it := b.Iterator(); it.HasNext(); {
		ids = append(ids, it.Next())
	}
	return newCandidateSet(ids)
}

// allowedDocIDsLocked lists every docId in allowed (or every live document,
// if allowed is nil), ascending, for use as a MATCH_ALL result set.
func (idx *HybridIndex[D]) allowedDocIDsLocked(allowed *candidateSet) []uint64 {
	var ids []uint64
	if allowed != nil {
		ids = make([]uint64, 0, len(allowed.ids))
		for id := range allowed.ids {
			ids = append(ids, id)
		}
	} else {
		ids = idx.lexical.AllDocIDs()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SearchText runs a BM25 lexical search, optionally restricted by filter.
// Per §4.4's filter composition rule, a query that trims to empty (MATCH_ALL)
// with a filter present returns the filter's matches alone, each with score 0.
func (idx *HybridIndex[D]) SearchText(ctx context.Context, q TextQuery) ([]TextHit[D], error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	allowed, err := idx.resolveFilterLocked(q.Filter)
	if err != nil {
		idx.logger.LogSearch(ctx, "text", q.Limit, 0, err)
		return nil, err
	}

	translated := translateTextQuery(HybridTextQuery{
		Query:         q.Query,
		DefaultFields: q.DefaultFields,
		FuzzyFields:   q.FuzzyFields,
	}, idx.schema)

	fetchK := max(1, q.Limit+q.Offset)

	var ordered []uint64
	var scores map[uint64]float32

	if translated.matchAll {
		ordered = idx.allowedDocIDsLocked(allowed)
	} else {
		results, err := idx.lexical.Search(textSearchOptions{
			query:   translated.query,
			fields:  translated.fields,
			k:       fetchK,
			allowed: allowed,
		})
		if err != nil {
			idx.logger.LogSearch(ctx, "text", q.Limit, 0, err)
			return nil, err
		}
		ordered = make([]uint64, len(results))
		scores = make(map[uint64]float32, len(results))
		for i, r := range results {
			ordered[i] = r.DocID
			scores[r.DocID] = r.Score
		}
	}

	ordered = dropAndTake(ordered, q.Offset, q.Limit)

	hits := make([]TextHit[D], 0, len(ordered))
	for _, docID := range ordered {
		doc, ok := idx.decodeLocked(docID)
		if !ok {
			continue
		}
		hits = append(hits, TextHit[D]{DocID: docID, Score: scores[docID], Document: doc})
	}

	idx.logger.LogSearch(ctx, "text", q.Limit, len(hits), nil)
	return hits, nil
}

// SearchVector runs an HNSW approximate nearest-neighbor search, optionally
// restricted by filter. Because the ANN engine's allowed-set admission
// already restricts which docIds can reach the result heap, there is no
// separate post-search "intersect with candidate set" step: that step's
// effect is achieved by construction during the single ANN search call.
func (idx *HybridIndex[D]) SearchVector(ctx context.Context, q VectorQuery) ([]VectorHit[D], error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(q.Vector) != idx.dim {
		err := &DimensionMismatchError{Expected: idx.dim, Got: len(q.Vector)}
		idx.logger.LogSearch(ctx, "vector", q.Limit, 0, err)
		return nil, err
	}

	allowed, err := idx.resolveFilterLocked(q.Filter)
	if err != nil {
		idx.logger.LogSearch(ctx, "vector", q.Limit, 0, err)
		return nil, err
	}

	overfetch := q.OverfetchMultiplier
	if overfetch <= 0 {
		overfetch = defaultOverfetchMultiplier
	}
	desired := max(1, q.Limit+q.Offset)
	fetchLimit := max(1, desired*overfetch)
	effectiveEf := max(q.EfSearch, fetchLimit)

	idx.ann.SetSearchingMode(true)

	results, err := idx.ann.Search(q.Vector, annSearchOptions{
		k:        fetchLimit,
		efSearch: effectiveEf,
		allowed:  allowed,
	})
	if err != nil {
		idx.logger.LogSearch(ctx, "vector", q.Limit, 0, err)
		return nil, err
	}

	if q.Autocut > 0 {
		results = trimToScoreElbow(results, q.Autocut)
	}
	results = dropAndTakeResults(results, q.Offset, q.Limit)

	hits := make([]VectorHit[D], 0, len(results))
	for _, r := range results {
		doc, ok := idx.decodeLocked(r.DocID)
		if !ok {
			continue
		}
		hits = append(hits, VectorHit[D]{DocID: r.DocID, Distance: r.Distance, Score: r.Score, Document: doc})
	}

	idx.logger.LogSearch(ctx, "vector", q.Limit, len(hits), nil)
	return hits, nil
}

// SearchHybrid runs both the lexical and vector searches against the same
// overfetched limit and filter, then fuses their ranked docId lists with
// reciprocal rank fusion (§4.5).
func (idx *HybridIndex[D]) SearchHybrid(ctx context.Context, q HybridQuery) ([]HybridHit[D], error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(q.Vector) != idx.dim {
		err := &DimensionMismatchError{Expected: idx.dim, Got: len(q.Vector)}
		idx.logger.LogSearch(ctx, "hybrid", q.Limit, 0, err)
		return nil, err
	}

	allowed, err := idx.resolveFilterLocked(q.Filter)
	if err != nil {
		idx.logger.LogSearch(ctx, "hybrid", q.Limit, 0, err)
		return nil, err
	}

	overfetch := q.OverfetchMultiplier
	if overfetch <= 0 {
		overfetch = defaultOverfetchMultiplier
	}
	fetchLimit := max(1, max(1, q.Limit+q.Offset)*overfetch)

	translated := translateTextQuery(HybridTextQuery{
		Query:         q.Query,
		DefaultFields: q.DefaultFields,
		FuzzyFields:   q.FuzzyFields,
	}, idx.schema)

	var textRanked []uint64
	textScores := make(map[uint64]float64)
	if translated.matchAll {
		textRanked = idx.allowedDocIDsLocked(allowed)
		if len(textRanked) > fetchLimit {
			textRanked = textRanked[:fetchLimit]
		}
	} else {
		textResults, err := idx.lexical.Search(textSearchOptions{
			query:   translated.query,
			fields:  translated.fields,
			k:       fetchLimit,
			allowed: allowed,
		})
		if err != nil {
			idx.logger.LogSearch(ctx, "hybrid", q.Limit, 0, err)
			return nil, err
		}
		textRanked = make([]uint64, len(textResults))
		for i, r := range textResults {
			textRanked[i] = r.DocID
			textScores[r.DocID] = float64(r.Score)
		}
	}

	idx.ann.SetSearchingMode(true)
	effectiveEf := max(q.EfSearch, fetchLimit)
	vectorResults, err := idx.ann.Search(q.Vector, annSearchOptions{
		k:        fetchLimit,
		efSearch: effectiveEf,
		allowed:  allowed,
	})
	if err != nil {
		idx.logger.LogSearch(ctx, "hybrid", q.Limit, 0, err)
		return nil, err
	}
	vectorRanked := make([]uint64, len(vectorResults))
	vectorScores := make(map[uint64]float64, len(vectorResults))
	for i, r := range vectorResults {
		vectorRanked[i] = r.DocID
		vectorScores[r.DocID] = float64(r.Score)
	}

	var scores map[uint64]float64
	switch q.Fusion {
	case "", ReciprocalRankFusion:
		weights := q.Weights
		if weights.Vector == 0 && weights.Text == 0 {
			weights = DefaultRRFWeight()
		}
		rrfK := q.RRFK
		if rrfK <= 0 {
			rrfK = idx.rrfK
		}
		scores = fuseRRF(vectorRanked, textRanked, weights, rrfK)
	default:
		strategy, err := NewFusion(q.Fusion, q.FusionConfig)
		if err != nil {
			idx.logger.LogSearch(ctx, "hybrid", q.Limit, 0, err)
			return nil, err
		}
		scores = strategy.Combine(vectorScores, textScores)
	}

	fused := make([]uint64, 0, len(scores))
	for docID := range scores {
		fused = append(fused, docID)
	}
	sort.Slice(fused, func(i, j int) bool {
		if scores[fused[i]] != scores[fused[j]] {
			return scores[fused[i]] > scores[fused[j]]
		}
		return fused[i] < fused[j]
	})

	fused = dropAndTake(fused, q.Offset, q.Limit)

	hits := make([]HybridHit[D], 0, len(fused))
	for _, docID := range fused {
		doc, ok := idx.decodeLocked(docID)
		if !ok {
			continue
		}
		hits = append(hits, HybridHit[D]{DocID: docID, Score: scores[docID], Document: doc})
	}

	idx.logger.LogSearch(ctx, "hybrid", q.Limit, len(hits), nil)
	return hits, nil
}

// dropAndTake applies offset/limit to an ordered docId slice; limit <= 0
// means "no limit" (take the rest after offset).
func dropAndTake(ids []uint64, offset, limit int) []uint64 {
	if offset > 0 {
		if offset >= len(ids) {
			return nil
		}
		ids = ids[offset:]
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}

func dropAndTakeResults(results []VectorResult, offset, limit int) []VectorResult {
	if offset > 0 {
		if offset >= len(results) {
			return nil
		}
		results = results[offset:]
	}
	if limit <= 0 || limit > len(results) {
		return results
	}
	return results[:limit]
}

// trimToScoreElbow truncates results at the cutoff'th elbow in their score
// curve: the point where the score stops tracking a straight line from the
// best to the worst result and bends away from it. A query whose top hits
// are clearly separated from a long tail produces one sharp elbow right
// after the good hits; cutoff selects which elbow (1st, 2nd, ...) to stop
// at. cutoff <= 0 or fewer than two results is a no-op.
func trimToScoreElbow(results []VectorResult, cutoff int) []VectorResult {
	if cutoff <= 0 || len(results) < 2 {
		return results
	}
	scores := make([]float32, len(results))
	for i, r := range results {
		scores[i] = r.Score
	}
	return results[:scoreElbowIndex(scores, cutoff)]
}

// scoreElbowIndex walks scores (best first) and returns the index of its
// cutoff'th elbow (n if there are fewer elbows), so scores[:index] keeps
// every point before that elbow.
//
// It normalizes scores onto the line connecting the first and last point,
// then tracks how far each point deviates from that line. A local peak in
// that deviation curve is an elbow: the score briefly pulled ahead of (or
// fell behind) the straight-line trend before rejoining it. The count of
// elbows seen so far is compared against cutoff as the walk proceeds.
func scoreElbowIndex(scores []float32, cutoff int) int {
	n := len(scores)
	if n <= 1 {
		return n
	}

	span := scores[n-1] - scores[0]
	step := 1.0 / (float32(n) - 1.0)
	deviation := make([]float32, n)
	for i, s := range scores {
		normalized := (s - scores[0]) / span
		deviation[i] = normalized - float32(i)*step
	}

	elbows := 0
	for i := 1; i < n; i++ {
		var atElbow bool
		switch {
		case i < n-1:
			atElbow = deviation[i] > deviation[i-1] && deviation[i] > deviation[i+1]
		case i >= 2:
			// Last point has no successor to compare against; fall back to
			// its two predecessors.
			atElbow = deviation[i] > deviation[i-1] && deviation[i] > deviation[i-2]
		default:
			// n == 2: only one predecessor exists.
			atElbow = deviation[i] > deviation[i-1]
		}
		if atElbow {
			elbows++
			if elbows >= cutoff {
				return i
			}
		}
	}
	return n
}
