package hybridsearch

import "testing"

func filterTestSchema() Schema {
	return Schema{
		{Name: "id", Kind: FieldID},
		{Name: "title", Kind: FieldText},
		{Name: "category", Kind: FieldFacet},
		{Name: "is_published", Kind: FieldBool},
		{Name: "views", Kind: FieldU64},
	}
}

func TestValidateFilterNodeAcceptsFilterableFields(t *testing.T) {
	schema := filterTestSchema()
	nodes := []FilterNode{
		Term{Field: "category", Value: "go"},
		TermSet{Field: "category", Values: []string{"go", "rust"}},
		Range{Field: "views"},
		All{},
		QueryString{Expression: "category:go"},
		Boolean{Clauses: BooleanClauses{Must: []FilterNode{Term{Field: "is_published", Value: "true"}}}},
	}
	for _, n := range nodes {
		if err := validateFilterNode(n, schema); err != nil {
			t.Errorf("validateFilterNode(%#v) = %v, want nil", n, err)
		}
	}
}

func TestValidateFilterNodeRejectsTextField(t *testing.T) {
	err := validateFilterNode(Term{Field: "title", Value: "swift"}, filterTestSchema())
	if err == nil {
		t.Fatal("validateFilterNode should reject a filter on a FieldText field")
	}
}

func TestValidateFilterNodeRejectsUnknownField(t *testing.T) {
	err := validateFilterNode(Term{Field: "nonexistent", Value: "x"}, filterTestSchema())
	if err == nil {
		t.Fatal("validateFilterNode should reject a filter on an undeclared field")
	}
}

func TestValidateFilterNodeRecursesIntoBoolean(t *testing.T) {
	filter := Boolean{Clauses: BooleanClauses{
		Should: []FilterNode{Term{Field: "title", Value: "swift"}},
	}}
	if err := validateFilterNode(filter, filterTestSchema()); err == nil {
		t.Fatal("validateFilterNode should reject an invalid field nested in a Boolean clause")
	}
}

func TestRangeFloatScalesToFixedPoint(t *testing.T) {
	min := 1.5
	max := 3.25
	r := RangeFloat("score", &min, &max)
	if r.Field != "score" {
		t.Fatalf("RangeFloat field = %q, want %q", r.Field, "score")
	}
	if *r.Min != 1500000 {
		t.Fatalf("RangeFloat min = %d, want 1500000", *r.Min)
	}
	if *r.Max != 3250000 {
		t.Fatalf("RangeFloat max = %d, want 3250000", *r.Max)
	}
}

func TestRangeFloatNilBoundsStayNil(t *testing.T) {
	r := RangeFloat("score", nil, nil)
	if r.Min != nil || r.Max != nil {
		t.Fatalf("RangeFloat(nil, nil) = %+v, want both bounds nil", r)
	}
}
