package hybridsearch

import "testing"

func TestFuseRRF(t *testing.T) {
	vectorRanked := []uint64{1, 2, 3}
	textRanked := []uint64{2, 1, 4}

	scores := fuseRRF(vectorRanked, textRanked, DefaultRRFWeight(), 60)

	want := map[uint64]float64{
		1: 1.0/(60+1) + 1.0/(60+2),
		2: 1.0/(60+2) + 1.0/(60+1),
		3: 1.0 / (60 + 3),
		4: 1.0 / (60 + 3),
	}
	if len(scores) != len(want) {
		t.Fatalf("fuseRRF returned %d docs, want %d", len(scores), len(want))
	}
	for docID, w := range want {
		got, ok := scores[docID]
		if !ok {
			t.Fatalf("fuseRRF missing docId %d", docID)
		}
		if !almostEqual(float32(got), float32(w)) {
			t.Fatalf("fuseRRF[%d] = %v, want %v", docID, got, w)
		}
	}

	if scores[1] != scores[2] {
		t.Fatalf("doc 1 and doc 2 should score identically by symmetry: %v vs %v", scores[1], scores[2])
	}
	if scores[1] <= scores[3] {
		t.Fatalf("doc ranked in both lists (1) should outscore a doc ranked in only one (3): %v vs %v", scores[1], scores[3])
	}
}

func TestFuseRRFDefaultsKWhenNonPositive(t *testing.T) {
	a := fuseRRF([]uint64{1}, nil, DefaultRRFWeight(), 0)
	b := fuseRRF([]uint64{1}, nil, DefaultRRFWeight(), defaultRRFK)
	if a[1] != b[1] {
		t.Fatalf("fuseRRF with k<=0 = %v, want default-k result %v", a[1], b[1])
	}
}

func TestFuseRRFWeighting(t *testing.T) {
	scores := fuseRRF([]uint64{1}, []uint64{1}, RRFWeight{Vector: 2, Text: 0}, 60)
	want := 2.0 / 61
	if !almostEqual(float32(scores[1]), float32(want)) {
		t.Fatalf("fuseRRF with Text weight 0 = %v, want %v", scores[1], want)
	}
}

func TestWeightedSumFusion(t *testing.T) {
	f, err := NewFusion(WeightedSumFusion, &FusionConfig{VectorWeight: 2, TextWeight: 1})
	if err != nil {
		t.Fatalf("NewFusion: %v", err)
	}
	combined := f.Combine(map[uint64]float64{1: 0.5}, map[uint64]float64{1: 0.5, 2: 1.0})
	if !almostEqual(float32(combined[1]), 1.5) {
		t.Fatalf("weightedSumFusion[1] = %v, want 1.5", combined[1])
	}
	if !almostEqual(float32(combined[2]), 1.0) {
		t.Fatalf("weightedSumFusion[2] = %v, want 1.0", combined[2])
	}
}

func TestMaxFusion(t *testing.T) {
	f, err := NewFusion(MaxFusion, nil)
	if err != nil {
		t.Fatalf("NewFusion: %v", err)
	}
	combined := f.Combine(map[uint64]float64{1: 0.2}, map[uint64]float64{1: 0.9})
	if combined[1] != 0.9 {
		t.Fatalf("maxFusion[1] = %v, want 0.9", combined[1])
	}
}

func TestMinFusionRequiresBothModalities(t *testing.T) {
	f, err := NewFusion(MinFusion, nil)
	if err != nil {
		t.Fatalf("NewFusion: %v", err)
	}
	combined := f.Combine(map[uint64]float64{1: 0.2, 2: 0.7}, map[uint64]float64{1: 0.9})
	if _, ok := combined[2]; ok {
		t.Fatal("minFusion should drop a doc present in only one modality")
	}
	if combined[1] != 0.2 {
		t.Fatalf("minFusion[1] = %v, want 0.2", combined[1])
	}
}

func TestNewFusionRejectsReciprocalRank(t *testing.T) {
	if _, err := NewFusion(ReciprocalRankFusion, nil); err == nil {
		t.Fatal("NewFusion(ReciprocalRankFusion) should fail: RRF operates on ranked lists, not score maps")
	}
}
