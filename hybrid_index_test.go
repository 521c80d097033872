package hybridsearch

import (
	"context"
	"testing"
)

// article is the test document type used across the end-to-end scenarios,
// modeled on spec.md §8's S1-S6 corpus (swift/rust/vector/tantivy articles).
type article struct {
	ID          string
	Title       string
	Body        string
	IsPublished bool
}

func articleCodec() CodecFunc[article] {
	return CodecFunc[article]{
		SchemaFn: func() Schema {
			return Schema{
				{Name: "id", Kind: FieldID},
				{Name: "title", Kind: FieldText},
				{Name: "body", Kind: FieldText},
				{Name: "is_published", Kind: FieldBool},
			}
		},
		EncodeFn: func(a article) (map[string]FieldValue, error) {
			return map[string]FieldValue{
				"id":           TextValue(a.ID),
				"title":        TextValue(a.Title),
				"body":         TextValue(a.Body),
				"is_published": BoolValue(a.IsPublished),
			}, nil
		},
		DecodeFn: func(fields map[string]FieldValue) (article, error) {
			return article{
				ID:          fields["id"].Text,
				Title:       fields["title"].Text,
				Body:        fields["body"].Text,
				IsPublished: fields["is_published"].Bool,
			}, nil
		},
	}
}

// testCorpus returns the four S1 documents alongside orthogonal unit
// embeddings, so cosine distance unambiguously ranks each article closest to
// its own axis-aligned query vector.
func testCorpus() ([]article, [][]float32) {
	docs := []article{
		{ID: "swift-1", Title: "Swift Concurrency", Body: "Swift actors serialize access to mutable state across concurrent tasks.", IsPublished: true},
		{ID: "rust-1", Title: "Rust Ownership", Body: "Rust's borrow checker enforces memory safety without a garbage collector.", IsPublished: true},
		{ID: "vector-1", Title: "Vector Databases", Body: "Approximate nearest neighbor search trades recall for speed.", IsPublished: false},
		{ID: "tantivy-1", Title: "Tantivy Search", Body: "Tantivy is a full text search engine library written in Rust.", IsPublished: true},
	}
	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	return docs, embeddings
}

func newTestIndex(t *testing.T) *HybridIndex[article] {
	t.Helper()
	dir := t.TempDir()
	idx, err := Create[article](dir, articleCodec(), HybridIndexConfig{
		EmbeddingDimension: 4,
		Distance:           DistanceCosine,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return idx
}

// TestEndToEndScenarios runs spec.md §8's S1-S6 concrete scenarios against
// one shared corpus, in sequence, matching the spec's "with S1's corpus"
// phrasing for S2-S5.
func TestEndToEndScenarios(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	docs, embeddings := testCorpus()

	t.Run("S1_IndexAndFetch", func(t *testing.T) {
		for i := range docs {
			docID, err := idx.Add(ctx, docs[i], embeddings[i])
			if err != nil {
				t.Fatalf("Add(%s): %v", docs[i].ID, err)
			}
			if docID != uint64(i) {
				t.Fatalf("Add(%s): docId = %d, want %d", docs[i].ID, docID, i)
			}
		}
		if err := idx.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		got, ok := idx.GetByID("id", "swift-1")
		if !ok {
			t.Fatal("GetByID(id, swift-1) not found")
		}
		if got.Title != "Swift Concurrency" {
			t.Fatalf("GetByID(id, swift-1).Title = %q, want %q", got.Title, "Swift Concurrency")
		}

		byDocID, ok := idx.Get(0)
		if !ok {
			t.Fatal("Get(0) not found")
		}
		if byDocID.ID != "swift-1" {
			t.Fatalf("Get(0).ID = %q, want %q", byDocID.ID, "swift-1")
		}
	})

	t.Run("S2_TextSearch", func(t *testing.T) {
		hits, err := idx.SearchText(ctx, TextQuery{
			Query:         "swift actors",
			DefaultFields: []string{"title", "body"},
			Limit:         3,
		})
		if err != nil {
			t.Fatalf("SearchText: %v", err)
		}
		if len(hits) == 0 {
			t.Fatal("SearchText returned no hits")
		}
		if hits[0].Document.ID != "swift-1" {
			t.Fatalf("SearchText top hit = %q, want %q", hits[0].Document.ID, "swift-1")
		}
	})

	t.Run("S3_FilteredVectorSearch", func(t *testing.T) {
		hits, err := idx.SearchVector(ctx, VectorQuery{
			Vector: []float32{0, 0, 1, 0}, // closest, by construction, to vector-1
			Filter: Term{Field: "is_published", Value: "true"},
			Limit:  3,
		})
		if err != nil {
			t.Fatalf("SearchVector: %v", err)
		}
		if len(hits) == 0 {
			t.Fatal("SearchVector returned no hits")
		}
		for _, h := range hits {
			if !h.Document.IsPublished {
				t.Fatalf("SearchVector with filter returned unpublished document %q", h.Document.ID)
			}
		}
		if hits[0].Document.ID == "vector-1" {
			t.Fatal("SearchVector with is_published=true filter should not rank vector-1 first")
		}
	})

	t.Run("S4_HybridRRF", func(t *testing.T) {
		hits, err := idx.SearchHybrid(ctx, HybridQuery{
			Query:         "swift concurrency actors",
			DefaultFields: []string{"title", "body"},
			Vector:        []float32{1, 0, 0, 0},
			Limit:         3,
		})
		if err != nil {
			t.Fatalf("SearchHybrid: %v", err)
		}
		if len(hits) == 0 {
			t.Fatal("SearchHybrid returned no hits")
		}
		if hits[0].Document.ID != "swift-1" {
			t.Fatalf("SearchHybrid top hit = %q, want %q", hits[0].Document.ID, "swift-1")
		}
	})

	t.Run("S4b_HybridWeightedSumFusion", func(t *testing.T) {
		hits, err := idx.SearchHybrid(ctx, HybridQuery{
			Query:         "swift concurrency actors",
			DefaultFields: []string{"title", "body"},
			Vector:        []float32{1, 0, 0, 0},
			Fusion:        WeightedSumFusion,
			Limit:         3,
		})
		if err != nil {
			t.Fatalf("SearchHybrid(WeightedSumFusion): %v", err)
		}
		if len(hits) == 0 {
			t.Fatal("SearchHybrid(WeightedSumFusion) returned no hits")
		}
		if hits[0].Document.ID != "swift-1" {
			t.Fatalf("SearchHybrid(WeightedSumFusion) top hit = %q, want %q", hits[0].Document.ID, "swift-1")
		}
	})

	t.Run("S5_Delete", func(t *testing.T) {
		if err := idx.DeleteByID(ctx, "id", "rust-1", true); err != nil {
			t.Fatalf("DeleteByID: %v", err)
		}

		if _, ok := idx.GetByID("id", "rust-1"); ok {
			t.Fatal("GetByID(id, rust-1) found after delete")
		}

		hits, err := idx.SearchText(ctx, TextQuery{Query: "Rust", DefaultFields: []string{"title", "body"}, Limit: 5})
		if err != nil {
			t.Fatalf("SearchText: %v", err)
		}
		for _, h := range hits {
			if h.Document.ID == "rust-1" {
				t.Fatal("SearchText returned deleted document rust-1")
			}
		}
	})

	t.Run("S6_DimensionMismatch", func(t *testing.T) {
		before := idx.Len()
		_, err := idx.Add(ctx, article{ID: "bad-dim"}, make([]float32, 2))
		if err == nil {
			t.Fatal("Add with wrong-dimension embedding did not fail")
		}
		var dimErr *DimensionMismatchError
		if !asDimensionMismatch(err, &dimErr) {
			t.Fatalf("Add error = %v, want *DimensionMismatchError", err)
		}
		if dimErr.Expected != 4 || dimErr.Got != 2 {
			t.Fatalf("DimensionMismatchError = %+v, want Expected=4 Got=2", dimErr)
		}
		if idx.Len() != before {
			t.Fatalf("Len() = %d after failed Add, want unchanged %d", idx.Len(), before)
		}
	})
}

func asDimensionMismatch(err error, target **DimensionMismatchError) bool {
	de, ok := err.(*DimensionMismatchError)
	if !ok {
		return false
	}
	*target = de
	return true
}

func TestCreateRejectsExistingIndex(t *testing.T) {
	dir := t.TempDir()
	codec := articleCodec()
	cfg := HybridIndexConfig{EmbeddingDimension: 4, Distance: DistanceCosine}

	if _, err := Create[article](dir, codec, cfg); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := Create[article](dir, codec, cfg); err != ErrIndexAlreadyExists {
		t.Fatalf("second Create err = %v, want ErrIndexAlreadyExists", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	codec := articleCodec()
	cfg := HybridIndexConfig{EmbeddingDimension: 4, Distance: DistanceCosine}

	idx, err := Create[article](dir, codec, cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	docs, embeddings := testCorpus()
	if _, err := idx.AddBatch(ctx, docs, embeddings); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if err := idx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wantLen := idx.Len()

	reloaded, err := Load[article](dir, codec)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.Len(); got != wantLen {
		t.Fatalf("reloaded Len() = %d, want %d", got, wantLen)
	}
	got, ok := reloaded.GetByID("id", "swift-1")
	if !ok {
		t.Fatal("reloaded GetByID(id, swift-1) not found")
	}
	if got.Title != "Swift Concurrency" {
		t.Fatalf("reloaded GetByID(id, swift-1).Title = %q, want %q", got.Title, "Swift Concurrency")
	}
}

func TestLoadRejectsSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create[article](dir, articleCodec(), HybridIndexConfig{EmbeddingDimension: 4, Distance: DistanceCosine}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	drifted := CodecFunc[article]{
		SchemaFn: func() Schema {
			return Schema{
				{Name: "id", Kind: FieldID},
				{Name: "title", Kind: FieldText},
			}
		},
		EncodeFn: articleCodec().EncodeFn,
		DecodeFn: articleCodec().DecodeFn,
	}

	_, err := Load[article](dir, drifted)
	if _, ok := err.(*SchemaMismatchError); !ok {
		t.Fatalf("Load err = %v, want *SchemaMismatchError", err)
	}
}

func TestAddBatchEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	ids, err := idx.AddBatch(ctx, nil, nil)
	if err != nil {
		t.Fatalf("AddBatch(empty): %v", err)
	}
	if ids != nil {
		t.Fatalf("AddBatch(empty) ids = %v, want nil", ids)
	}
}

func TestAddBatchLengthMismatch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	docs, embeddings := testCorpus()
	_, err := idx.AddBatch(ctx, docs, embeddings[:2])
	if err == nil {
		t.Fatal("AddBatch with mismatched lengths did not fail")
	}
}

func TestClearResetsDocIDsAndPersists(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	docs, embeddings := testCorpus()
	if _, err := idx.AddBatch(ctx, docs, embeddings); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if err := idx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if idx.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", idx.Len())
	}

	docID, err := idx.Add(ctx, docs[0], embeddings[0])
	if err != nil {
		t.Fatalf("Add after Clear: %v", err)
	}
	if docID != 0 {
		t.Fatalf("Add after Clear docId = %d, want 0", docID)
	}
}

func TestMatchAllTextSearchWithFilter(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	docs, embeddings := testCorpus()
	if _, err := idx.AddBatch(ctx, docs, embeddings); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if err := idx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	hits, err := idx.SearchText(ctx, TextQuery{
		Query:  "   ", // trims to empty -> MATCH_ALL
		Filter: Term{Field: "is_published", Value: "false"},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("SearchText(MATCH_ALL+filter): %v", err)
	}
	if len(hits) != 1 || hits[0].Document.ID != "vector-1" {
		t.Fatalf("SearchText(MATCH_ALL+filter) = %+v, want exactly vector-1", hits)
	}
	if hits[0].Score != 0 {
		t.Fatalf("SearchText(MATCH_ALL) score = %v, want 0", hits[0].Score)
	}
}
