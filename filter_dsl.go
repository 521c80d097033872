package hybridsearch

import "fmt"

// FilterNode is one node of the filter DSL tree evaluated by the metadata
// engine to restrict a lexical or vector search to documents matching
// structured field constraints. The DSL is intentionally small: exact-match
// terms, term sets, numeric ranges, boolean composition, a raw query-string
// escape hatch, and a match-all identity node.
type FilterNode interface {
	toJSON() map[string]any
	isFilterNode()
}

// Term matches documents whose field equals value exactly. Used against
// FieldFacet and FieldBool fields.
type Term struct {
	Field string
	Value string
}

func (Term) isFilterNode() {}
func (t Term) toJSON() map[string]any {
	return map[string]any{"type": "term", "field": t.Field, "value": t.Value}
}

// TermSet matches documents whose field equals any of Values (logical OR).
type TermSet struct {
	Field  string
	Values []string
}

func (TermSet) isFilterNode() {}
func (t TermSet) toJSON() map[string]any {
	return map[string]any{"type": "term_set", "field": t.Field, "values": t.Values}
}

// Range matches documents whose numeric (or date) field falls within
// [Min, Max]. A nil bound is unbounded on that side.
type Range struct {
	Field string
	Min   *int64
	Max   *int64
}

func (Range) isFilterNode() {}
func (r Range) toJSON() map[string]any {
	return map[string]any{"type": "range", "field": r.Field, "min": r.Min, "max": r.Max}
}

// RangeFloat is Range with float64 bounds, converted internally with the
// same fixed-point scaling FieldValue.asInt64Range applies to FieldF64.
func RangeFloat(field string, min, max *float64) Range {
	scale := func(f *float64) *int64 {
		if f == nil {
			return nil
		}
		v := int64(*f * 1e6)
		return &v
	}
	return Range{Field: field, Min: scale(min), Max: scale(max)}
}

// BooleanClauses groups sub-filters the way a boolean query combines them:
// every Must clause has to match, at least one Should clause must match if
// any are given, and no MustNot clause may match.
type BooleanClauses struct {
	Must    []FilterNode
	Should  []FilterNode
	MustNot []FilterNode
}

// Boolean composes clauses into a single FilterNode.
type Boolean struct {
	Clauses BooleanClauses
}

func (Boolean) isFilterNode() {}
func (b Boolean) toJSON() map[string]any {
	render := func(nodes []FilterNode) []map[string]any {
		out := make([]map[string]any, len(nodes))
		for i, n := range nodes {
			out[i] = n.toJSON()
		}
		return out
	}
	return map[string]any{
		"type":     "boolean",
		"must":     render(b.Clauses.Must),
		"should":   render(b.Clauses.Should),
		"must_not": render(b.Clauses.MustNot),
	}
}

// QueryString is an escape hatch for filters the closed node set can't
// express directly; it's interpreted as a raw "field:value" expression
// against categorical fields, matching exactly one term.
type QueryString struct {
	Expression string
}

func (QueryString) isFilterNode() {}
func (q QueryString) toJSON() map[string]any {
	return map[string]any{"type": "query_string", "expression": q.Expression}
}

// All matches every document; it's the identity filter, useful as a default
// or as a Boolean Must clause placeholder.
type All struct{}

func (All) isFilterNode() {}
func (All) toJSON() map[string]any { return map[string]any{"type": "all"} }

// validateFilterNode recursively checks that every field a filter references
// exists in schema and is of a filterable kind.
func validateFilterNode(n FilterNode, schema Schema) error {
	switch f := n.(type) {
	case Term:
		return requireFilterableField(schema, f.Field)
	case TermSet:
		return requireFilterableField(schema, f.Field)
	case Range:
		return requireFilterableField(schema, f.Field)
	case Boolean:
		for _, c := range append(append(append([]FilterNode{}, f.Clauses.Must...), f.Clauses.Should...), f.Clauses.MustNot...) {
			if err := validateFilterNode(c, schema); err != nil {
				return err
			}
		}
		return nil
	case QueryString, All:
		return nil
	default:
		return fmt.Errorf("hybridsearch: unknown filter node type %T", n)
	}
}

func requireFilterableField(schema Schema, field string) error {
	spec, ok := schema.Get(field)
	if !ok {
		return fmt.Errorf("hybridsearch: filter references unknown field %q", field)
	}
	if spec.Kind == FieldText || spec.Kind == FieldBytes {
		return fmt.Errorf("hybridsearch: field %q of kind %s is not filterable", field, spec.Kind)
	}
	return nil
}
