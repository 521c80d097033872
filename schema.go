package hybridsearch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// FieldSpec names one field of a Schema and the role it plays.
type FieldSpec struct {
	Name string
	Kind FieldKind
}

// Schema is the caller-declared, ordered set of fields a document type
// encodes to. It is supplied explicitly by the caller's DocumentCodec
// rather than derived via reflection or codegen, so that FieldValue stays a
// closed tagged union instead of an `any`-typed map.
type Schema []FieldSpec

// Get returns the FieldSpec named name, if present.
func (s Schema) Get(name string) (FieldSpec, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// IDFields returns the names of every FieldID-kind field in the schema.
func (s Schema) IDFields() []string {
	var names []string
	for _, f := range s {
		if f.Kind == FieldID {
			names = append(names, f.Name)
		}
	}
	return names
}

// Validate checks that field names are unique and that __doc_id, the
// reserved internal join key, is not declared by the caller's schema.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		if f.Name == reservedDocIDField {
			return fmt.Errorf("hybridsearch: schema may not declare reserved field %q", reservedDocIDField)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("hybridsearch: duplicate field name %q in schema", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// reservedDocIDField is the lexical engine's sole join key back to the ANN
// engine and document store: every encoded document gets an extra
// indexed+stored term field under this name holding its internal docId.
const reservedDocIDField = "__doc_id"

// Fingerprint is a deterministic, order-independent digest of the schema's
// (name, kind) pairs. Two schemas with the same fields in different
// declaration order produce the same fingerprint; this lets Load reject a
// codec whose schema has drifted from what was persisted, independent of
// how the caller happens to order its FieldSpec slice.
func (s Schema) Fingerprint() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = f.Name + "|" + f.Kind.String()
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
