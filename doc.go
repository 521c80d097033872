/*
Package hybridsearch implements a generic hybrid document search engine.

It fuses a BM25 lexical index with an HNSW approximate-nearest-neighbor
vector index using Reciprocal Rank Fusion (RRF), and lets callers filter
either modality through a small query DSL. Documents are modeled generically:
callers supply a document type D plus a DocumentCodec[D] that maps it to and
from a fixed Schema of typed fields.

# Quick Start

	type Article struct {
	    ID        string
	    Title     string
	    Body      string
	    Category  string
	    Embedding []float32
	}

	codec := hybridsearch.CodecFunc[Article]{
	    SchemaFn: func() hybridsearch.Schema {
	        return hybridsearch.Schema{
	            {Name: "id", Kind: hybridsearch.FieldID},
	            {Name: "title", Kind: hybridsearch.FieldText},
	            {Name: "body", Kind: hybridsearch.FieldText},
	            {Name: "category", Kind: hybridsearch.FieldFacet},
	        }
	    },
	    EncodeFn: func(a Article) (map[string]hybridsearch.FieldValue, error) {
	        return map[string]hybridsearch.FieldValue{
	            "id":       hybridsearch.TextValue(a.ID),
	            "title":    hybridsearch.TextValue(a.Title),
	            "body":     hybridsearch.TextValue(a.Body),
	            "category": hybridsearch.FacetValue(a.Category),
	        }, nil
	    },
	    DecodeFn: func(fields map[string]hybridsearch.FieldValue) (Article, error) {
	        return Article{
	            ID:       fields["id"].Text,
	            Title:    fields["title"].Text,
	            Body:     fields["body"].Text,
	            Category: fields["category"].Text,
	        }, nil
	    },
	}

	idx, err := hybridsearch.Create[Article]("./data/articles", codec, hybridsearch.HybridIndexConfig{
	    EmbeddingDimension: 128,
	    Distance:           hybridsearch.DistanceCosine,
	})

# Add and commit

	_, err = idx.Add(ctx, Article{ID: "a1", Title: "...", Embedding: vec}, vec)
	err = idx.Commit(ctx)

Add inserts the document into both engines at once, so it is searchable
right away, but it is not durable until Commit, which persists the lexical
documents, the ANN graph, the filter index and the metadata sidecar.

# Search

	textHits, err := idx.SearchText(ctx, hybridsearch.TextQuery{Query: "machine learning"})
	vecHits, err := idx.SearchVector(ctx, hybridsearch.VectorQuery{Vector: queryEmbedding, Limit: 10})
	hybridHits, err := idx.SearchHybrid(ctx, hybridsearch.HybridQuery{
	    Query:   "machine learning",
	    Vector:  queryEmbedding,
	    Weights: hybridsearch.RRFWeight{Text: 1, Vector: 1},
	})

SearchHybrid fuses the two ranked lists with RRF: for each list, a hit at
0-based rank i contributes weight/(rrfK+i+1) to its docId's combined score,
and ties are broken by ascending internal docId for determinism.

# Filtering

A small filter DSL (Term, TermSet, Boolean, QueryString, All) narrows either
search modality by field value, independent of the ranking algorithm:

	hits, err := idx.SearchVector(ctx, hybridsearch.VectorQuery{
	    Vector: queryEmbedding,
	    Filter: hybridsearch.Boolean{Clauses: hybridsearch.BooleanClauses{
	        Must: []hybridsearch.FilterNode{hybridsearch.Term{Field: "category", Value: "education"}},
	    }},
	})

# Persistence

An index directory contains four things: tantivy/ (lexical engine
documents), hnsw.data + hnsw.graph (vector engine), metadata_filter.bin
(the filter index), and hybrid.meta.json (a JSON sidecar recording
embedding dimension, distance kind, HNSW parameters and the schema
fingerprint). Load reopens all four, rebuilding the filter index from the
lexical documents when metadata_filter.bin is absent, and verifies the
caller's codec still matches the persisted schema fingerprint.

# Concurrency

A HybridIndex serializes every public method behind a single mutex: reads
and writes both touch the ANN engine's searching-mode flag and the shared
nextDocId counter, so there is no benefit to a reader/writer split here.

# Non-goals

This package does not do embedding generation, learned/ML-based fusion,
query planning across multiple indexes, or distributed/sharded indexing.
*/
package hybridsearch
