package hybridsearch

import "strings"

// FuzzyFieldSpec requests edit-distance-tolerant matching on one field.
// Carried through for API completeness with the external query compiler's
// contract; this core does not itself implement fuzzy matching; the
// tokenization/analysis and DSL query compiler are out-of-scope external
// collaborators per the package's non-goals.
type FuzzyFieldSpec struct {
	Field            string
	Prefix           bool
	Distance         uint8
	TransposeCostOne bool
}

// HybridTextQuery is the user-facing shape of a text search request, before
// it's translated into the lexical engine's own query representation.
type HybridTextQuery struct {
	Query         string
	DefaultFields []string
	FuzzyFields   []FuzzyFieldSpec
}

// translatedQuery is what HybridTextQuery becomes once resolved against a
// schema: either MatchAll (no text relevance component at all, so a filter
// alone determines the result set) or a set of weighted fields to run BM25
// scoring against.
type translatedQuery struct {
	matchAll bool
	query    string
	fields   []TextFieldWeight
}

// translateTextQuery implements the §4.4 Query Translator algorithm: an
// empty (post-trim) query string becomes MatchAll; otherwise DefaultFields
// picks which schema text fields participate, falling back to every
// FieldText field in schema when DefaultFields is empty.
func translateTextQuery(q HybridTextQuery, schema Schema) translatedQuery {
	trimmed := strings.TrimSpace(q.Query)
	if trimmed == "" {
		return translatedQuery{matchAll: true}
	}

	fieldNames := q.DefaultFields
	if len(fieldNames) == 0 {
		for _, f := range schema {
			if f.Kind == FieldText {
				fieldNames = append(fieldNames, f.Name)
			}
		}
	}

	fields := make([]TextFieldWeight, len(fieldNames))
	for i, name := range fieldNames {
		fields[i] = TextFieldWeight{Field: name, Weight: 1.0}
	}

	return translatedQuery{query: trimmed, fields: fields}
}
