package hybridsearch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	bsi "github.com/RoaringBitmap/roaring/BitSliceIndexing"
	roaringv1 "github.com/RoaringBitmap/roaring"
	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
)

// The BitSliceIndexing package predates roaring64 and exchanges its
// existence/comparison bitmaps as v1 (uint32-container) *roaring.Bitmap
// values, even though SetValue itself already accepts a uint64 column id.
// toV1Singleton and fromV1Bitmap bridge that boundary so the rest of this
// file can work exclusively in roaring64.
func toV1Singleton(id uint64) *roaringv1.Bitmap {
	b := roaringv1.New()
	b.AddInt(int(id))
	return b
}

func fromV1Bitmap(v1 *roaringv1.Bitmap) *roaring.Bitmap {
	out := roaring.New()
	it := v1.Iterator()
	for it.HasNext() {
		out.Add(uint64(it.Next()))
	}
	return out
}

const metadataFilterMagic = "HSMX"

// metadataFilterIndex evaluates FilterNode trees against the field values
// stored alongside each document, restricting a search to the matching
// docId set. Categorical fields (FieldBool, FieldFacet) are indexed with one
// roaring64 bitmap per "field:value" pair; numeric and date fields are
// indexed with a bit-sliced index (BSI) per field, which answers range
// comparisons without scanning every stored value.
//
// Grounded on the teacher's RoaringMetadataIndex, adapted to uint64 docIds
// and restructured to evaluate the closed FilterNode DSL instead of an
// open Operator/Filter pair.
type metadataFilterIndex struct {
	mu          sync.RWMutex
	categorical map[string]*roaring.Bitmap
	numeric     map[string]*bsi.BSI
	allDocs     *roaring.Bitmap
}

func newMetadataFilterIndex() *metadataFilterIndex {
	return &metadataFilterIndex{
		categorical: make(map[string]*roaring.Bitmap),
		numeric:     make(map[string]*bsi.BSI),
		allDocs:     roaring.New(),
	}
}

// Add indexes the filterable fields of one document. fields must be the same
// map passed to the lexical engine for this docId.
func (idx *metadataFilterIndex) Add(docID uint64, fields map[string]FieldValue) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.allDocs.Add(docID)
	for name, v := range fields {
		switch v.Kind {
		case FieldBool:
			idx.addCategorical(name, fmt.Sprintf("%t", v.Bool), docID)
		case FieldFacet:
			idx.addCategorical(name, v.Text, docID)
		case FieldU64, FieldI64, FieldF64, FieldDate:
			n, _ := v.asInt64Range()
			idx.addNumeric(name, docID, n)
		}
	}
}

func (idx *metadataFilterIndex) addCategorical(field, value string, docID uint64) {
	key := field + ":" + value
	b, ok := idx.categorical[key]
	if !ok {
		b = roaring.New()
		idx.categorical[key] = b
	}
	b.Add(docID)
}

// addNumeric indexes a numeric value under the BSI for field. Note that
// ClearValues/CompareValue on the underlying BSI exchange column ids through
// a v1 (uint32-container) roaring.Bitmap, so docIds above 2^32-1 are outside
// what numeric range filters can address even though SetValue itself takes
// a uint64 column id; this only affects Range filters, not Term/TermSet.
func (idx *metadataFilterIndex) addNumeric(field string, docID uint64, value int64) {
	b, ok := idx.numeric[field]
	if !ok {
		b = bsi.NewBSI(bsi.Min64BitSigned, bsi.Max64BitSigned)
		idx.numeric[field] = b
	}
	b.SetValue(docID, value)
}

// Remove removes docID from every categorical and numeric index.
func (idx *metadataFilterIndex) Remove(docID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.allDocs.Remove(docID)
	for _, b := range idx.categorical {
		b.Remove(docID)
	}
	toClear := toV1Singleton(docID)
	for _, b := range idx.numeric {
		b.ClearValues(toClear)
	}
}

// Evaluate returns the set of docIds matching node.
func (idx *metadataFilterIndex) Evaluate(node FilterNode) (*roaring.Bitmap, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.evaluate(node)
}

func (idx *metadataFilterIndex) evaluate(node FilterNode) (*roaring.Bitmap, error) {
	switch n := node.(type) {
	case All:
		return idx.allDocs.Clone(), nil

	case Term:
		return idx.evaluateTerm(n)

	case TermSet:
		result := roaring.New()
		for _, v := range n.Values {
			key := n.Field + ":" + v
			if b, ok := idx.categorical[key]; ok {
				result.Or(b)
			}
		}
		return result, nil

	case Range:
		return idx.evaluateRange(n)

	case QueryString:
		return idx.evaluateQueryString(n)

	case Boolean:
		return idx.evaluateBoolean(n)

	default:
		return nil, fmt.Errorf("hybridsearch: unknown filter node type %T", node)
	}
}

func (idx *metadataFilterIndex) evaluateTerm(t Term) (*roaring.Bitmap, error) {
	key := t.Field + ":" + t.Value
	if b, ok := idx.categorical[key]; ok {
		return b.Clone(), nil
	}
	return roaring.New(), nil
}

func (idx *metadataFilterIndex) evaluateRange(r Range) (*roaring.Bitmap, error) {
	b, ok := idx.numeric[r.Field]
	if !ok {
		return roaring.New(), nil
	}
	min := int64(bsi.Min64BitSigned)
	max := int64(bsi.Max64BitSigned)
	if r.Min != nil {
		min = int64(*r.Min)
	}
	if r.Max != nil {
		max = int64(*r.Max)
	}
	result := b.CompareValue(0, bsi.RANGE, min, max, nil)
	return fromV1Bitmap(result), nil
}

// evaluateQueryString interprets "field:value" as an exact-match Term; any
// other shape is rejected rather than guessed at.
func (idx *metadataFilterIndex) evaluateQueryString(q QueryString) (*roaring.Bitmap, error) {
	for i := 0; i < len(q.Expression); i++ {
		if q.Expression[i] == ':' {
			return idx.evaluateTerm(Term{Field: q.Expression[:i], Value: q.Expression[i+1:]})
		}
	}
	return nil, fmt.Errorf("hybridsearch: query_string expression %q is not field:value", q.Expression)
}

func (idx *metadataFilterIndex) evaluateBoolean(b Boolean) (*roaring.Bitmap, error) {
	result := idx.allDocs.Clone()

	for _, clause := range b.Clauses.Must {
		sub, err := idx.evaluate(clause)
		if err != nil {
			return nil, err
		}
		result.And(sub)
	}

	if len(b.Clauses.Should) > 0 {
		union := roaring.New()
		for _, clause := range b.Clauses.Should {
			sub, err := idx.evaluate(clause)
			if err != nil {
				return nil, err
			}
			union.Or(sub)
		}
		result.And(union)
	}

	for _, clause := range b.Clauses.MustNot {
		sub, err := idx.evaluate(clause)
		if err != nil {
			return nil, err
		}
		result.AndNot(sub)
	}

	return result, nil
}

// WriteTo persists the filter index to w.
func (idx *metadataFilterIndex) WriteTo(w io.Writer) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var total int64

	n, err := bw.WriteString(metadataFilterMagic)
	total += int64(n)
	if err != nil {
		return total, err
	}

	allBytes, err := idx.allDocs.ToBytes()
	if err != nil {
		return total, err
	}
	n64, err := writeLenPrefixed(bw, allBytes)
	total += n64
	if err != nil {
		return total, err
	}

	if err := writeUint32(bw, uint32(len(idx.categorical))); err != nil {
		return total, err
	}
	total += 4
	for key, b := range idx.categorical {
		n64, err = writeLenPrefixed(bw, []byte(key))
		total += n64
		if err != nil {
			return total, err
		}
		data, err := b.ToBytes()
		if err != nil {
			return total, err
		}
		n64, err = writeLenPrefixed(bw, data)
		total += n64
		if err != nil {
			return total, err
		}
	}

	if err := writeUint32(bw, uint32(len(idx.numeric))); err != nil {
		return total, err
	}
	total += 4
	for field, b := range idx.numeric {
		n64, err = writeLenPrefixed(bw, []byte(field))
		total += n64
		if err != nil {
			return total, err
		}
		data, err := b.MarshalBinary()
		if err != nil {
			return total, err
		}
		n64, err = writeLenPrefixedChunks(bw, data)
		total += n64
		if err != nil {
			return total, err
		}
	}

	return total, bw.Flush()
}

// ReadFrom replaces idx's contents with what r encodes.
func (idx *metadataFilterIndex) ReadFrom(r io.Reader) (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	br := bufio.NewReader(r)
	var total int64

	magic := make([]byte, len(metadataFilterMagic))
	n, err := io.ReadFull(br, magic)
	total += int64(n)
	if err != nil {
		return total, err
	}
	if string(magic) != metadataFilterMagic {
		return total, fmt.Errorf("hybridsearch: bad metadata filter magic %q", magic)
	}

	allBytes, n64, err := readLenPrefixed(br)
	total += n64
	if err != nil {
		return total, err
	}
	idx.allDocs = roaring.New()
	if _, err := idx.allDocs.FromUnsafeBytes(allBytes); err != nil {
		return total, err
	}

	var catCount uint32
	if err := readUint32(br, &catCount); err != nil {
		return total, err
	}
	total += 4
	idx.categorical = make(map[string]*roaring.Bitmap, catCount)
	for i := uint32(0); i < catCount; i++ {
		keyBytes, n64, err := readLenPrefixed(br)
		total += n64
		if err != nil {
			return total, err
		}
		data, n64, err := readLenPrefixed(br)
		total += n64
		if err != nil {
			return total, err
		}
		b := roaring.New()
		if _, err := b.FromUnsafeBytes(data); err != nil {
			return total, err
		}
		idx.categorical[string(keyBytes)] = b
	}

	var numCount uint32
	if err := readUint32(br, &numCount); err != nil {
		return total, err
	}
	total += 4
	idx.numeric = make(map[string]*bsi.BSI, numCount)
	for i := uint32(0); i < numCount; i++ {
		fieldBytes, n64, err := readLenPrefixed(br)
		total += n64
		if err != nil {
			return total, err
		}
		data, n64, err := readLenPrefixedChunks(br)
		total += n64
		if err != nil {
			return total, err
		}
		b := bsi.NewBSI(bsi.Min64BitSigned, bsi.Max64BitSigned)
		if err := b.UnmarshalBinary(data); err != nil {
			return total, err
		}
		idx.numeric[string(fieldBytes)] = b
	}

	return total, nil
}

const metadataFilterFile = "metadata_filter.bin"

// saveMetadataFilterIndex persists idx to <dir>/metadata_filter.bin, written
// atomically so a crash mid-write never leaves loadMetadataFilterIndex a torn
// file to trip over.
func saveMetadataFilterIndex(dir string, idx *metadataFilterIndex) error {
	path := dir + "/" + metadataFilterFile
	if err := writeAtomic(path, idx.WriteTo); err != nil {
		return fmt.Errorf("hybridsearch: write metadata filter index: %w", err)
	}
	return nil
}

// loadMetadataFilterIndex reads <dir>/metadata_filter.bin if present. A
// missing file means the index was created but never committed with a
// persisted filter index, in which case the caller should fall back to
// rebuildMetadataFilterIndex.
func loadMetadataFilterIndex(dir string) (*metadataFilterIndex, bool, error) {
	path := dir + "/" + metadataFilterFile
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	idx := newMetadataFilterIndex()
	if _, err := idx.ReadFrom(f); err != nil {
		return nil, false, fmt.Errorf("hybridsearch: read metadata filter index: %w", err)
	}
	return idx, true, nil
}

// rebuildMetadataFilterIndex replays every stored document out of lexical to
// reconstruct a metadataFilterIndex from scratch. It is the fallback path for
// an index directory with no persisted metadata_filter.bin, e.g. one created
// before this index type gained dedicated persistence, or one whose sidecar
// exists but was never followed by a Commit.
func rebuildMetadataFilterIndex(lexical *lexicalEngine) *metadataFilterIndex {
	idx := newMetadataFilterIndex()
	for _, docID := range lexical.AllDocIDs() {
		fields, ok := lexical.Get(docID)
		if !ok {
			continue
		}
		idx.Add(docID, fields)
	}
	return idx
}

func writeLenPrefixed(w io.Writer, data []byte) (int64, error) {
	if err := writeUint32(w, uint32(len(data))); err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(4 + n), err
}

func readLenPrefixed(r io.Reader) ([]byte, int64, error) {
	var size uint32
	if err := readUint32(r, &size); err != nil {
		return nil, 4, err
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	return buf, int64(4 + n), err
}

// writeLenPrefixedChunks writes a count-prefixed sequence of length-prefixed
// byte slices, matching the [][]byte shape bsi.BSI.MarshalBinary produces.
func writeLenPrefixedChunks(w io.Writer, chunks [][]byte) (int64, error) {
	var total int64
	if err := writeUint32(w, uint32(len(chunks))); err != nil {
		return total, err
	}
	total += 4
	for _, chunk := range chunks {
		n, err := writeLenPrefixed(w, chunk)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readLenPrefixedChunks reads back what writeLenPrefixedChunks wrote.
func readLenPrefixedChunks(r io.Reader) ([][]byte, int64, error) {
	var total int64
	var count uint32
	if err := readUint32(r, &count); err != nil {
		return nil, total, err
	}
	total += 4
	chunks := make([][]byte, count)
	for i := uint32(0); i < count; i++ {
		chunk, n, err := readLenPrefixed(r)
		total += n
		if err != nil {
			return nil, total, err
		}
		chunks[i] = chunk
	}
	return chunks, total, nil
}
