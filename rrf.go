package hybridsearch

import "fmt"

// FusionKind selects how vector and lexical result lists are combined into
// one ranked list for a hybrid search.
type FusionKind string

const (
	// ReciprocalRankFusion combines result lists by rank rather than raw
	// score, so it needs no cross-modality score normalization. This is the
	// default and the only fusion kind HybridIndex.SearchHybrid requires.
	ReciprocalRankFusion FusionKind = "reciprocal_rank"

	// WeightedSumFusion combines raw scores directly:
	// finalScore = vectorScore*vectorWeight + textScore*textWeight. Kept
	// from the teacher's fusion model as an alternate knob; it assumes the
	// two score scales are already comparable, which callers must ensure.
	WeightedSumFusion FusionKind = "weighted_sum"

	// MaxFusion takes the best score a document achieved in either modality.
	MaxFusion FusionKind = "max"

	// MinFusion takes the worst score a document achieved in either
	// modality, keeping only documents present in both result lists.
	MinFusion FusionKind = "min"
)

// RRFWeight scales each modality's contribution to a reciprocal-rank-fusion
// score. The zero value is invalid; use DefaultRRFWeight.
type RRFWeight struct {
	Vector float64
	Text   float64
}

// DefaultRRFWeight weighs both modalities equally.
func DefaultRRFWeight() RRFWeight { return RRFWeight{Vector: 1, Text: 1} }

// defaultRRFK is the RRF smoothing constant; lower values favor top-ranked
// items more strongly. 60 is the value used by the reference TREC paper and
// by most production hybrid search systems.
const defaultRRFK = 60.0

// fuseRRF combines two already-ranked docId lists (best match first) into a
// single score map using reciprocal rank fusion:
//
//	score(doc) = sum over lists containing doc of weight / (k + (rank+1))
//
// where rank is the document's 0-based position in that list. A document
// absent from a list simply contributes nothing from it. k defaults to
// defaultRRFK when <= 0.
func fuseRRF(vectorRanked, textRanked []uint64, weight RRFWeight, k float64) map[uint64]float64 {
	if k <= 0 {
		k = defaultRRFK
	}

	scores := make(map[uint64]float64, len(vectorRanked)+len(textRanked))
	for i, docID := range vectorRanked {
		scores[docID] += weight.Vector / (k + float64(i+1))
	}
	for i, docID := range textRanked {
		scores[docID] += weight.Text / (k + float64(i+1))
	}
	return scores
}

// Fusion combines per-modality score maps (not ranks) into one ranking; it
// exists to give callers the teacher's weighted-sum/max/min knobs as an
// alternative to RRF when they already have comparable score scales.
type Fusion interface {
	Kind() FusionKind
	Combine(vectorScores, textScores map[uint64]float64) map[uint64]float64
}

// FusionConfig configures a non-RRF Fusion strategy.
type FusionConfig struct {
	VectorWeight float64
	TextWeight   float64
}

// DefaultFusionConfig weighs both modalities equally.
func DefaultFusionConfig() *FusionConfig {
	return &FusionConfig{VectorWeight: 1.0, TextWeight: 1.0}
}

// NewFusion builds a Fusion strategy. ReciprocalRankFusion is not available
// through this constructor since it operates on ranked lists, not score
// maps; use fuseRRF directly for it.
func NewFusion(kind FusionKind, config *FusionConfig) (Fusion, error) {
	if config == nil {
		config = DefaultFusionConfig()
	}
	switch kind {
	case WeightedSumFusion:
		return &weightedSumFusion{config: config}, nil
	case MaxFusion:
		return &maxFusion{}, nil
	case MinFusion:
		return &minFusion{}, nil
	default:
		return nil, fmt.Errorf("hybridsearch: fusion kind %q is not score-map based", kind)
	}
}

type weightedSumFusion struct{ config *FusionConfig }

func (f *weightedSumFusion) Kind() FusionKind { return WeightedSumFusion }

func (f *weightedSumFusion) Combine(vectorScores, textScores map[uint64]float64) map[uint64]float64 {
	combined := make(map[uint64]float64, len(vectorScores)+len(textScores))
	for docID, score := range vectorScores {
		combined[docID] = score * f.config.VectorWeight
	}
	for docID, score := range textScores {
		combined[docID] += score * f.config.TextWeight
	}
	return combined
}

type maxFusion struct{}

func (f *maxFusion) Kind() FusionKind { return MaxFusion }

func (f *maxFusion) Combine(vectorScores, textScores map[uint64]float64) map[uint64]float64 {
	combined := make(map[uint64]float64, len(vectorScores)+len(textScores))
	for docID, score := range vectorScores {
		combined[docID] = score
	}
	for docID, score := range textScores {
		if existing, ok := combined[docID]; !ok || score > existing {
			combined[docID] = score
		}
	}
	return combined
}

type minFusion struct{}

func (f *minFusion) Kind() FusionKind { return MinFusion }

func (f *minFusion) Combine(vectorScores, textScores map[uint64]float64) map[uint64]float64 {
	combined := make(map[uint64]float64, len(vectorScores))
	for docID, vScore := range vectorScores {
		if tScore, ok := textScores[docID]; ok {
			if vScore < tScore {
				combined[docID] = vScore
			} else {
				combined[docID] = tScore
			}
		}
	}
	return combined
}
