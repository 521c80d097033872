package hybridsearch

import "testing"

func translatorTestSchema() Schema {
	return Schema{
		{Name: "id", Kind: FieldID},
		{Name: "title", Kind: FieldText},
		{Name: "body", Kind: FieldText},
		{Name: "is_published", Kind: FieldBool},
	}
}

func TestTranslateTextQueryEmptyIsMatchAll(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		got := translateTextQuery(HybridTextQuery{Query: q}, translatorTestSchema())
		if !got.matchAll {
			t.Fatalf("translateTextQuery(%q).matchAll = false, want true", q)
		}
	}
}

func TestTranslateTextQueryDefaultsToAllTextFields(t *testing.T) {
	got := translateTextQuery(HybridTextQuery{Query: "swift"}, translatorTestSchema())
	if got.matchAll {
		t.Fatal("translateTextQuery with non-empty query should not be matchAll")
	}
	if len(got.fields) != 2 {
		t.Fatalf("translateTextQuery field count = %d, want 2 (title, body)", len(got.fields))
	}
	names := map[string]bool{}
	for _, f := range got.fields {
		names[f.Field] = true
		if f.Weight != 1.0 {
			t.Fatalf("translateTextQuery default weight = %v, want 1.0", f.Weight)
		}
	}
	if !names["title"] || !names["body"] {
		t.Fatalf("translateTextQuery fields = %v, want title and body", got.fields)
	}
}

func TestTranslateTextQueryHonorsDefaultFields(t *testing.T) {
	got := translateTextQuery(HybridTextQuery{
		Query:         "swift",
		DefaultFields: []string{"title"},
	}, translatorTestSchema())
	if len(got.fields) != 1 || got.fields[0].Field != "title" {
		t.Fatalf("translateTextQuery fields = %v, want [title]", got.fields)
	}
}

func TestTranslateTextQueryTrimsQuery(t *testing.T) {
	got := translateTextQuery(HybridTextQuery{Query: "  swift concurrency  "}, translatorTestSchema())
	if got.query != "swift concurrency" {
		t.Fatalf("translateTextQuery.query = %q, want trimmed %q", got.query, "swift concurrency")
	}
}
