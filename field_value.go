package hybridsearch

import "time"

// FieldKind is the closed set of field roles a Schema entry can declare.
// Kind drives how a field is stored, indexed and filtered; it never varies
// per-document, only per-schema-field.
type FieldKind int

const (
	// FieldID marks the field that supplies a document's external,
	// caller-facing identifier. At least one field per schema must use it;
	// with several, HybridIndexConfig.PrimaryIDField picks the primary one.
	FieldID FieldKind = iota
	// FieldText marks free text indexed for BM25 lexical search.
	FieldText
	// FieldBool marks a boolean value, filterable by equality.
	FieldBool
	// FieldU64 marks an unsigned 64-bit integer, filterable by range.
	FieldU64
	// FieldI64 marks a signed 64-bit integer, filterable by range.
	FieldI64
	// FieldF64 marks a 64-bit float, filterable by range.
	FieldF64
	// FieldDate marks a timestamp, filterable by range (stored as Unix nanos).
	FieldDate
	// FieldBytes marks an opaque byte payload, stored but not filterable.
	FieldBytes
	// FieldFacet marks a categorical string, filterable by exact-match term sets.
	FieldFacet
)

// String renders the field kind the way Schema.Fingerprint hashes it.
func (k FieldKind) String() string {
	switch k {
	case FieldID:
		return "id"
	case FieldText:
		return "text"
	case FieldBool:
		return "bool"
	case FieldU64:
		return "u64"
	case FieldI64:
		return "i64"
	case FieldF64:
		return "f64"
	case FieldDate:
		return "date"
	case FieldBytes:
		return "bytes"
	case FieldFacet:
		return "facet"
	default:
		return "unknown"
	}
}

// FieldValue is a tagged union carrying one typed value per the FieldKind
// closed set. Exactly one of the value fields is meaningful, selected by
// Kind; this avoids reflection over `any` at the cost of some unused fields
// per value, which is a deliberate trade against reflection-based codecs.
type FieldValue struct {
	Kind  FieldKind
	Text  string
	Bool  bool
	U64   uint64
	I64   int64
	F64   float64
	Date  time.Time
	Bytes []byte
}

// TextValue constructs a FieldValue for a FieldText or FieldID field.
func TextValue(s string) FieldValue { return FieldValue{Kind: FieldText, Text: s} }

// FacetValue constructs a FieldValue for a FieldFacet field.
func FacetValue(s string) FieldValue { return FieldValue{Kind: FieldFacet, Text: s} }

// BoolValue constructs a FieldValue for a FieldBool field.
func BoolValue(b bool) FieldValue { return FieldValue{Kind: FieldBool, Bool: b} }

// U64Value constructs a FieldValue for a FieldU64 field.
func U64Value(v uint64) FieldValue { return FieldValue{Kind: FieldU64, U64: v} }

// I64Value constructs a FieldValue for a FieldI64 field.
func I64Value(v int64) FieldValue { return FieldValue{Kind: FieldI64, I64: v} }

// F64Value constructs a FieldValue for a FieldF64 field.
func F64Value(v float64) FieldValue { return FieldValue{Kind: FieldF64, F64: v} }

// DateValue constructs a FieldValue for a FieldDate field.
func DateValue(t time.Time) FieldValue { return FieldValue{Kind: FieldDate, Date: t} }

// BytesValue constructs a FieldValue for a FieldBytes field.
func BytesValue(b []byte) FieldValue { return FieldValue{Kind: FieldBytes, Bytes: b} }

// asInt64Range returns a field value as an int64, for BSI-backed range
// filters; it handles every numeric/date kind uniformly. ok is false for
// non-numeric kinds.
func (v FieldValue) asInt64Range() (int64, bool) {
	switch v.Kind {
	case FieldU64:
		return int64(v.U64), true
	case FieldI64:
		return v.I64, true
	case FieldF64:
		return int64(v.F64 * 1e6), true // fixed-point: 6 decimal digits of precision
	case FieldDate:
		return v.Date.UnixNano(), true
	default:
		return 0, false
	}
}

// DocumentCodec maps a caller's document type D to and from the fixed field
// set a HybridIndex persists. Implementations must return the same Schema
// on every call.
type DocumentCodec[D any] interface {
	Schema() Schema
	Encode(doc D) (map[string]FieldValue, error)
	Decode(fields map[string]FieldValue) (D, error)
}

// CodecFunc is a function-based DocumentCodec, convenient when a type's
// encode/decode logic is small enough to inline at the call site instead of
// declaring a named type.
type CodecFunc[D any] struct {
	SchemaFn func() Schema
	EncodeFn func(D) (map[string]FieldValue, error)
	DecodeFn func(map[string]FieldValue) (D, error)
}

func (c CodecFunc[D]) Schema() Schema { return c.SchemaFn() }
func (c CodecFunc[D]) Encode(doc D) (map[string]FieldValue, error) {
	return c.EncodeFn(doc)
}
func (c CodecFunc[D]) Decode(fields map[string]FieldValue) (D, error) {
	return c.DecodeFn(fields)
}
