package hybridsearch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

const annBasename = "hnsw"
const lexicalDir = "tantivy"

// HybridIndexConfig configures a new index at Create time. Load re-derives
// everything it can from the persisted sidecar and only checks the schema
// fingerprint against the caller's codec.
type HybridIndexConfig struct {
	// EmbeddingDimension is the fixed length every Add call's vector must have.
	EmbeddingDimension int

	// Distance selects the ANN engine's distance metric. Defaults to DistanceCosine.
	Distance DistanceKind

	// ANN holds the HNSW construction parameters. Defaults to DefaultANNConfig().
	ANN annConfig

	// PrimaryIDField disambiguates which FieldID field is the document's
	// external identifier, when the schema declares more than one. Required
	// only when the schema has more than one FieldID field.
	PrimaryIDField string

	// Logger receives structured logs for Add/Commit/Delete/Search/Compact.
	// Defaults to NoopLogger().
	Logger *Logger

	// RRFK is the reciprocal rank fusion smoothing constant used by
	// SearchHybrid when a call doesn't override it. Defaults to defaultRRFK.
	RRFK float64
}

// HybridIndex is a generic hybrid lexical+vector document index over caller
// document type D. It serializes every public method behind a single mutex:
// both reads and writes touch the ANN engine's searching-mode flag and the
// shared docId counter, so a reader/writer split buys nothing here and would
// only make the searching-mode toggle race.
//
// Grounded on the teacher's top-level engine type that owned both a BM25 and
// an ANN index behind one lock; generalized to a caller document type D via
// DocumentCodec and to the persisted directory layout (lexical documents,
// ANN files, filter index, metadata sidecar).
type HybridIndex[D any] struct {
	mu sync.Mutex

	dir    string
	codec  DocumentCodec[D]
	schema Schema
	logger *Logger

	dim            int
	distanceKind   DistanceKind
	annCfg         annConfig
	primaryIDField string
	rrfK           float64

	ann      *annEngine
	lexical  *lexicalEngine
	metadata *metadataFilterIndex

	nextDocID uint64

	// pending holds docIds Added since the last Commit; Commit flushes them
	// to durable storage and resets the set, and Delete drops the deleted
	// docId from it.
	pending map[uint64]struct{}
}

// resolvePrimaryIDField picks the schema's sole FieldID field, or the one
// named by cfg.PrimaryIDField when the schema declares several.
func resolvePrimaryIDField(schema Schema, cfg HybridIndexConfig) (string, error) {
	idFields := schema.IDFields()
	if len(idFields) == 0 {
		return "", ErrMissingIDField
	}
	if len(idFields) == 1 {
		return idFields[0], nil
	}
	if cfg.PrimaryIDField == "" {
		return "", &AmbiguousIDFieldError{Candidates: idFields}
	}
	for _, f := range idFields {
		if f == cfg.PrimaryIDField {
			return f, nil
		}
	}
	return "", &InvalidPrimaryIDFieldError{Name: cfg.PrimaryIDField}
}

func normalizeConfig(cfg HybridIndexConfig) HybridIndexConfig {
	if cfg.Distance == "" {
		cfg.Distance = DistanceCosine
	}
	if cfg.ANN.MaxConnections == 0 && cfg.ANN.EfConstruction == 0 && cfg.ANN.MaxLayers == 0 {
		cfg.ANN = DefaultANNConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger()
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaultRRFK
	}
	return cfg
}

// Create initializes a brand new index at dir. It fails with
// ErrIndexAlreadyExists if a metadata sidecar is already present there.
func Create[D any](dir string, codec DocumentCodec[D], cfg HybridIndexConfig) (*HybridIndex[D], error) {
	if metadataExists(dir) {
		return nil, ErrIndexAlreadyExists
	}
	if cfg.EmbeddingDimension <= 0 {
		return nil, fmt.Errorf("hybridsearch: embedding dimension must be positive, got %d", cfg.EmbeddingDimension)
	}

	schema := codec.Schema()
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	cfg = normalizeConfig(cfg)
	primaryIDField, err := resolvePrimaryIDField(schema, cfg)
	if err != nil {
		return nil, err
	}

	ann, err := newANNEngine(cfg.EmbeddingDimension, cfg.Distance, cfg.ANN)
	if err != nil {
		return nil, err
	}

	idx := &HybridIndex[D]{
		dir:            dir,
		codec:          codec,
		schema:         schema,
		logger:         cfg.Logger,
		dim:            cfg.EmbeddingDimension,
		distanceKind:   cfg.Distance,
		annCfg:         cfg.ANN,
		primaryIDField: primaryIDField,
		rrfK:           cfg.RRFK,
		ann:            ann,
		lexical:        newLexicalEngine(schema),
		metadata:       newMetadataFilterIndex(),
		pending:        make(map[uint64]struct{}),
	}

	if err := writeMetadata(dir, idx.toMetadata()); err != nil {
		return nil, err
	}
	return idx, nil
}

// Load reopens an existing index at dir. It returns SchemaMismatchError if
// codec's schema fingerprint doesn't match what was persisted.
func Load[D any](dir string, codec DocumentCodec[D], opts ...LoadOption) (*HybridIndex[D], error) {
	meta, err := readMetadata(dir)
	if err != nil {
		return nil, err
	}

	schema := codec.Schema()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if got := schema.Fingerprint(); got != meta.SchemaFingerprint {
		return nil, &SchemaMismatchError{Expected: meta.SchemaFingerprint, Got: got}
	}

	cfg := loadOptions{logger: NoopLogger(), rrfK: defaultRRFK}
	for _, o := range opts {
		o(&cfg)
	}

	ann, err := loadANNEngine(dir, annBasename, meta.EmbeddingDimension, DistanceKind(meta.DistanceKind), meta.ANNConfig)
	if err != nil {
		return nil, err
	}

	lexical := newLexicalEngine(schema)
	if err := lexical.Load(lexicalPath(dir)); err != nil {
		return nil, err
	}

	metadata, found, err := loadMetadataFilterIndex(dir)
	if err != nil {
		return nil, err
	}
	if !found {
		metadata = rebuildMetadataFilterIndex(lexical)
	}

	idx := &HybridIndex[D]{
		dir:            dir,
		codec:          codec,
		schema:         schema,
		logger:         cfg.logger,
		dim:            meta.EmbeddingDimension,
		distanceKind:   DistanceKind(meta.DistanceKind),
		annCfg:         meta.ANNConfig,
		primaryIDField: meta.PrimaryIDField,
		rrfK:           cfg.rrfK,
		ann:            ann,
		lexical:        lexical,
		metadata:       metadata,
		nextDocID:      meta.NextDocID,
		pending:        make(map[uint64]struct{}),
	}
	return idx, nil
}

// LoadOption configures Load. Unlike Create, most of an index's shape is
// fixed by the persisted sidecar, so the option surface here is narrow.
type LoadOption func(*loadOptions)

type loadOptions struct {
	logger *Logger
	rrfK   float64
}

// WithLoadLogger overrides the logger a loaded index uses.
func WithLoadLogger(l *Logger) LoadOption {
	return func(o *loadOptions) { o.logger = l }
}

// WithLoadRRFK overrides the default RRF smoothing constant a loaded index uses.
func WithLoadRRFK(k float64) LoadOption {
	return func(o *loadOptions) { o.rrfK = k }
}

func lexicalPath(dir string) string { return dir + "/" + lexicalDir }

func (idx *HybridIndex[D]) toMetadata() indexMetadata {
	return indexMetadata{
		EmbeddingDimension: idx.dim,
		DistanceKind:       string(idx.distanceKind),
		ANNConfig:          idx.annCfg,
		NextDocID:          idx.nextDocID,
		PrimaryIDField:     idx.primaryIDField,
		SchemaFingerprint:  idx.schema.Fingerprint(),
	}
}

// Add encodes doc via the codec, assigns it a fresh internal docId, and
// inserts it into both engines. The document is searchable as soon as Add
// returns but is not durable until Commit runs. embedding must have exactly
// the index's configured dimension.
func (idx *HybridIndex[D]) Add(ctx context.Context, doc D, embedding []float32) (uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	docID, err := idx.addLocked(doc, embedding)
	idx.logger.LogAdd(ctx, docID, err)
	return docID, err
}

func (idx *HybridIndex[D]) addLocked(doc D, embedding []float32) (uint64, error) {
	if len(embedding) != idx.dim {
		return 0, &DimensionMismatchError{Expected: idx.dim, Got: len(embedding)}
	}

	fields, err := idx.codec.Encode(doc)
	if err != nil {
		return 0, fmt.Errorf("hybridsearch: encode document: %w", err)
	}
	if _, reserved := fields[reservedDocIDField]; reserved {
		return 0, fmt.Errorf("hybridsearch: encoded document may not set reserved field %q", reservedDocIDField)
	}

	idx.ann.SetSearchingMode(false)

	docID := idx.nextDocID
	idx.nextDocID++

	if err := idx.ann.Insert(docID, embedding); err != nil {
		idx.nextDocID--
		return 0, fmt.Errorf("hybridsearch: ann insert: %w", err)
	}

	stored := make(map[string]FieldValue, len(fields)+1)
	for k, v := range fields {
		stored[k] = v
	}
	stored[reservedDocIDField] = U64Value(docID)

	if err := idx.lexical.Add(docID, stored); err != nil {
		// Compensate: the ANN insert already happened and HNSW has no
		// single-node rollback, so soft-delete the node we just added
		// instead of leaving it dangling and unindexed lexically.
		_ = idx.ann.Delete(docID)
		idx.nextDocID--
		return 0, fmt.Errorf("hybridsearch: lexical add: %w", err)
	}

	idx.metadata.Add(docID, stored)
	idx.pending[docID] = struct{}{}

	return docID, nil
}

// AddBatch allocates a contiguous docId range, batch-inserts into the ANN
// engine, then inserts each document into the lexical engine; if any
// lexical insert fails, every docId in the batch is deleted from the ANN
// engine (batch-level compensation, not per-document). Empty input is a
// no-op. Per §9's open question, nextDocId advances for the whole batch
// before insertion is attempted and is never rewound, so a failure can
// leave a gap in the docId sequence.
func (idx *HybridIndex[D]) AddBatch(ctx context.Context, docs []D, embeddings [][]float32) ([]uint64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if len(docs) != len(embeddings) {
		return nil, fmt.Errorf("hybridsearch: docs/embeddings length mismatch: %d vs %d", len(docs), len(embeddings))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, e := range embeddings {
		if len(e) != idx.dim {
			return nil, &DimensionMismatchError{Expected: idx.dim, Got: len(e)}
		}
	}

	fieldsList := make([]map[string]FieldValue, len(docs))
	for i, d := range docs {
		fields, err := idx.codec.Encode(d)
		if err != nil {
			return nil, fmt.Errorf("hybridsearch: encode document %d: %w", i, err)
		}
		if _, reserved := fields[reservedDocIDField]; reserved {
			return nil, fmt.Errorf("hybridsearch: encoded document may not set reserved field %q", reservedDocIDField)
		}
		fieldsList[i] = fields
	}

	idx.ann.SetSearchingMode(false)

	docIDs := make([]uint64, len(docs))
	startID := idx.nextDocID
	for i := range docIDs {
		docIDs[i] = startID + uint64(i)
	}
	idx.nextDocID += uint64(len(docs))

	var batchErr error
	docID0 := docIDs[0]
	if err := idx.ann.InsertBatch(docIDs, embeddings); err != nil {
		idx.logger.LogAdd(ctx, docID0, err)
		return nil, fmt.Errorf("hybridsearch: ann insert batch: %w", err)
	}

	for i, docID := range docIDs {
		stored := make(map[string]FieldValue, len(fieldsList[i])+1)
		for k, v := range fieldsList[i] {
			stored[k] = v
		}
		stored[reservedDocIDField] = U64Value(docID)

		if err := idx.lexical.Add(docID, stored); err != nil {
			for _, id := range docIDs {
				_ = idx.ann.Delete(id)
			}
			batchErr = fmt.Errorf("hybridsearch: lexical add for docId %d: %w", docID, err)
			break
		}
		idx.metadata.Add(docID, stored)
		idx.pending[docID] = struct{}{}
	}

	idx.logger.LogAdd(ctx, docID0, batchErr)
	if batchErr != nil {
		return nil, batchErr
	}
	return docIDs, nil
}

// Index is a convenience for Add followed immediately by Commit.
func (idx *HybridIndex[D]) Index(ctx context.Context, doc D, embedding []float32) (uint64, error) {
	docID, err := idx.Add(ctx, doc, embedding)
	if err != nil {
		return 0, err
	}
	if err := idx.Commit(ctx); err != nil {
		return docID, err
	}
	return docID, nil
}

// Commit flushes buffered adds to durable storage: the ANN graph and vector
// data, the lexical documents, the filter index, and the metadata sidecar.
// The first three are independent disk writes and run concurrently via
// errgroup; the sidecar is written after all three succeed;
// insert/rollback ordering above in Add is never parallelized, only this
// final flush step.
func (idx *HybridIndex[D]) Commit(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	pending := len(idx.pending)
	err := idx.commitLocked()
	idx.logger.LogCommit(ctx, pending, err)
	return err
}

func (idx *HybridIndex[D]) commitLocked() error {
	idx.ann.SetSearchingMode(true)

	g := new(errgroup.Group)
	g.Go(func() error { return idx.ann.Save(idx.dir, annBasename) })
	g.Go(func() error { return idx.lexical.Persist(lexicalPath(idx.dir)) })
	g.Go(func() error { return saveMetadataFilterIndex(idx.dir, idx.metadata) })
	if err := g.Wait(); err != nil {
		return err
	}

	if err := writeMetadata(idx.dir, idx.toMetadata()); err != nil {
		return err
	}

	idx.pending = make(map[uint64]struct{})
	return nil
}

// Delete removes docID from every engine. If persist is true it also
// re-flushes durable storage before returning, matching Commit's semantics;
// otherwise the deletion is buffered like Add until the next Commit.
func (idx *HybridIndex[D]) Delete(ctx context.Context, docID uint64, persist bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	err := idx.deleteLocked(docID, persist)
	idx.logger.LogDelete(ctx, docID, err)
	return err
}

func (idx *HybridIndex[D]) deleteLocked(docID uint64, persist bool) error {
	if !idx.lexical.Contains(docID) {
		return fmt.Errorf("hybridsearch: docId %d not found", docID)
	}

	if err := idx.ann.Delete(docID); err != nil {
		return err
	}
	idx.lexical.Remove(docID)
	idx.metadata.Remove(docID)
	delete(idx.pending, docID)

	if persist {
		return idx.commitLocked()
	}
	return nil
}

// DeleteByID resolves idValue against idField (an external identifier field
// per the schema) and deletes the matching document.
func (idx *HybridIndex[D]) DeleteByID(ctx context.Context, idField, idValue string, persist bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	docID, ok := idx.lexical.FindByID(idField, idValue)
	if !ok {
		err := fmt.Errorf("hybridsearch: no document with %s=%q", idField, idValue)
		idx.logger.LogDelete(ctx, 0, err)
		return err
	}
	err := idx.deleteLocked(docID, persist)
	idx.logger.LogDelete(ctx, docID, err)
	return err
}

// Get decodes and returns the document stored under docID.
func (idx *HybridIndex[D]) Get(docID uint64) (D, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

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

// GetByID resolves idValue against idField and decodes the matching document.
func (idx *HybridIndex[D]) GetByID(idField, idValue string) (D, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var zero D
	docID, ok := idx.lexical.FindByID(idField, idValue)
	if !ok {
		return zero, false
	}
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

// Compact hard-deletes every soft-deleted ANN node and persists the result.
// It's O(n x M x L) in the ANN graph so callers should batch deletes first.
func (idx *HybridIndex[D]) Compact(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	err := idx.ann.Compact()
	if err == nil {
		err = idx.commitLocked()
	}
	idx.logger.LogCompact(ctx, err)
	return err
}

// Clear empties every engine, resets the docId counter, and commits, so the
// on-disk index files are overwritten with the empty state before it returns.
func (idx *HybridIndex[D]) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.ann.Clear()
	idx.lexical.Clear()
	idx.metadata = newMetadataFilterIndex()
	idx.nextDocID = 0
	idx.pending = make(map[uint64]struct{})
	return idx.commitLocked()
}

// Len returns the number of live documents in the index.
func (idx *HybridIndex[D]) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.lexical.Len()
}

// Schema returns the codec's declared schema.
func (idx *HybridIndex[D]) Schema() Schema { return idx.schema }
