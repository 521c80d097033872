package hybridsearch

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by Create/Load/Add. Wrap with fmt.Errorf("%w", ...)
// at call sites that add context, matching the rest of the package's error
// wrapping style.
var (
	// ErrMetadataMissing is returned by Load when the sidecar file does not exist.
	ErrMetadataMissing = errors.New("hybridsearch: metadata sidecar missing")

	// ErrMetadataCorrupt is returned by Load when the sidecar exists but fails
	// to parse or has an unsupported version.
	ErrMetadataCorrupt = errors.New("hybridsearch: metadata sidecar corrupt")

	// ErrIndexAlreadyExists is returned by Create when the target directory
	// already has a metadata sidecar.
	ErrIndexAlreadyExists = errors.New("hybridsearch: index already exists at this path")

	// ErrMissingIDField is returned by Create when the schema declares no FieldID field.
	ErrMissingIDField = errors.New("hybridsearch: schema declares no id field")

	// ErrMissingDocID names the case of a lexical document without a
	// __doc_id join key. The lexical engine here keys every document by its
	// docId directly, so no operation in this package returns it.
	ErrMissingDocID = errors.New("hybridsearch: lexical result missing __doc_id field")
)

// AmbiguousIDFieldError is returned by Create when the schema declares
// more than one FieldID field and the caller didn't disambiguate with
// HybridIndexConfig.PrimaryIDField.
type AmbiguousIDFieldError struct {
	Candidates []string
}

func (e *AmbiguousIDFieldError) Error() string {
	return fmt.Sprintf("hybridsearch: ambiguous id field, candidates: %s", strings.Join(e.Candidates, ", "))
}

// InvalidPrimaryIDFieldError is returned when HybridIndexConfig.PrimaryIDField
// names a field the schema doesn't declare as FieldID.
type InvalidPrimaryIDFieldError struct {
	Name string
}

func (e *InvalidPrimaryIDFieldError) Error() string {
	return fmt.Sprintf("hybridsearch: invalid primary id field %q", e.Name)
}

// DimensionMismatchError is returned when a document's vector doesn't match
// the index's configured embedding dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("hybridsearch: dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// SchemaMismatchError is returned by Load when the codec's schema
// fingerprint doesn't match the persisted one.
type SchemaMismatchError struct {
	Expected string
	Got      string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("hybridsearch: schema fingerprint mismatch: index has %q, codec has %q", e.Expected, e.Got)
}
