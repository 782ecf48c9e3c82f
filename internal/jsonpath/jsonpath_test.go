package jsonpath

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decode(t *testing.T, s string) interface{} {
	t.Helper()
	var doc interface{}
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("invalid test document: %v", err)
	}
	return doc
}

func TestLookup_TopLevelField(t *testing.T) {
	doc := decode(t, `{"status":"ok"}`)
	v, err := Lookup(doc, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Errorf("expected \"ok\", got %v", v)
	}
}

func TestLookup_NestedField(t *testing.T) {
	doc := decode(t, `{"data":{"id":42}}`)
	v, err := Lookup(doc, "data.id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != float64(42) {
		t.Errorf("expected 42, got %v", v)
	}
}

func TestLookup_RootPrefix(t *testing.T) {
	doc := decode(t, `{"data":{"token":"abc"}}`)
	v, err := Lookup(doc, "$.data.token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "abc" {
		t.Errorf("expected \"abc\", got %v", v)
	}
}

func TestLookup_ArrayIndex(t *testing.T) {
	doc := decode(t, `{"items":["a","b","c"]}`)
	v, err := Lookup(doc, "items[1]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "b" {
		t.Errorf("expected \"b\", got %v", v)
	}
}

func TestLookup_IndexThenField(t *testing.T) {
	doc := decode(t, `{"users":[{"name":"alice"},{"name":"bob"}]}`)
	v, err := Lookup(doc, "users[1].name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "bob" {
		t.Errorf("expected \"bob\", got %v", v)
	}
}

func TestLookup_WildcardOverArray(t *testing.T) {
	doc := decode(t, `{"users":[{"id":1},{"id":2}]}`)
	v, err := Lookup(doc, "users[*].id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []interface{}{float64(1), float64(2)}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("expected %v, got %v", want, v)
	}
}

func TestLookup_WildcardDotForm(t *testing.T) {
	doc := decode(t, `{"items":[10,20,30]}`)
	v, err := Lookup(doc, "items.*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 3 {
		t.Errorf("expected 3 wildcard matches, got %v", v)
	}
}

func TestLookup_MissingFieldIsNotFound(t *testing.T) {
	doc := decode(t, `{"a":1}`)
	if _, err := Lookup(doc, "b.c"); err == nil {
		t.Error("expected not-found error")
	}
}

func TestLookup_IndexOutOfRange(t *testing.T) {
	doc := decode(t, `{"items":[1]}`)
	if _, err := Lookup(doc, "items[5]"); err == nil {
		t.Error("expected not-found error")
	}
}

func TestLookup_JMESPathFallback(t *testing.T) {
	// length() is not part of the native subset; it must reach JMESPath.
	doc := decode(t, `{"items":[1,2,3]}`)
	v, err := Lookup(doc, "length(items)")
	if err != nil {
		t.Fatalf("unexpected fallback error: %v", err)
	}
	if v != float64(3) {
		t.Errorf("expected 3 from JMESPath, got %v", v)
	}
}

func TestLookup_InvalidExpression(t *testing.T) {
	doc := decode(t, `{}`)
	if _, err := Lookup(doc, "a[[["); err == nil {
		t.Error("expected error for malformed expression")
	}
}

func TestIsScalar(t *testing.T) {
	cases := []struct {
		value interface{}
		want  bool
	}{
		{"s", true},
		{float64(1.5), true},
		{true, true},
		{[]interface{}{}, false},
		{map[string]interface{}{}, false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsScalar(c.value); got != c.want {
			t.Errorf("IsScalar(%v) = %v, want %v", c.value, got, c.want)
		}
	}
}

func TestScalarString(t *testing.T) {
	cases := []struct {
		value interface{}
		want  string
	}{
		{"abc", "abc"},
		{float64(42), "42"},
		{float64(1.5), "1.5"},
		{true, "true"},
	}
	for _, c := range cases {
		if got := ScalarString(c.value); got != c.want {
			t.Errorf("ScalarString(%v) = %q, want %q", c.value, got, c.want)
		}
	}
}
