package jsonpath

import (
	"reflect"
	"testing"
)

// mustParse decodes a JSON text or fails the test
func mustParse(t *testing.T, s string) any {
	t.Helper()
	v, err := Parse([]byte(s))
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", s, err)
	}
	return v
}

// TestTokenize tests path tokenization and caching
func TestTokenize(t *testing.T) {
	tests := []struct {
		path     string
		expected []string
	}{
		{"a", []string{"a"}},
		{"a.b.c", []string{"a", "b", "c"}},
		{"a[0].b", []string{"a", "0", "b"}},
		{"list[12][3]", []string{"list", "12", "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			tokens, err := Tokenize(tt.path)
			if err != nil {
				t.Fatalf("Tokenize() error = %v", err)
			}
			if !reflect.DeepEqual(tokens, tt.expected) {
				t.Errorf("Tokenize() = %v, want %v", tokens, tt.expected)
			}

			// second call is served from the cache
			again, _ := Tokenize(tt.path)
			if &again[0] != &tokens[0] {
				t.Errorf("Tokenize() did not return cached tokens for %s", tt.path)
			}
		})
	}

	for _, invalid := range []string{".", "[]", " . "} {
		if _, err := Tokenize(invalid); err == nil {
			t.Errorf("Tokenize(%q) should fail", invalid)
		}
	}
}

// TestGet tests reading values by path
func TestGet(t *testing.T) {
	data := mustParse(t, `{"a":{"b":[1,{"c":"x"}]},"n":null}`)

	tests := []struct {
		path  string
		value any
		found bool
	}{
		{"a.b[0]", 1.0, true},
		{"a.b[1].c", "x", true},
		{"a.b[2]", nil, false},
		{"a.x", nil, false},
		{"a.b[1].c.d", nil, false},
		{"n", nil, true},
		{"n.x", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, found := Get(data, tt.path)
			if found != tt.found {
				t.Fatalf("Get() found = %v, want %v", found, tt.found)
			}
			if !reflect.DeepEqual(v, tt.value) {
				t.Errorf("Get() = %v, want %v", v, tt.value)
			}
		})
	}

	if v, _ := Get(nil, ""); !Same(v, Empty) {
		t.Errorf("Get(nil) should return the shared empty object")
	}
}

// TestSetRoundTrip tests that a written value can be read back at the same path
func TestSetRoundTrip(t *testing.T) {
	base := mustParse(t, `{"a":{"b":1},"list":[1,2,3]}`)

	tests := []struct {
		name  string
		path  string
		value any
	}{
		{"replace leaf", "a.b", 2.0},
		{"new key", "a.c", "x"},
		{"deep new path", "x.y.z", true},
		{"array element", "list[1]", 9.0},
		{"array append", "list[3]", 4.0},
		{"intermediate array", "fresh[1].name", "n"},
		{"object value", "a", map[string]any{"k": []any{1.0, 2.0}}},
		{"null value", "a.b", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := Set(base, tt.path, tt.value, false)
			got, found := Get(next, tt.path)
			if !found {
				t.Fatalf("value not found at %s after Set()", tt.path)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("Get(Set()) = %v, want %v", got, tt.value)
			}
		})
	}
}

// TestSetIntermediateContainers tests the container type created for missing parents
func TestSetIntermediateContainers(t *testing.T) {
	next := Set(nil, "a[1].b", 1.0, true)

	arr, ok := next.(map[string]any)["a"].([]any)
	if !ok {
		t.Fatalf("expected intermediate array, got %T", next.(map[string]any)["a"])
	}
	if len(arr) != 2 || arr[0] != nil {
		t.Errorf("expected [null, {b:1}], got %v", arr)
	}

	next = Set(nil, "a.b.c", 1.0, true)
	if _, ok := next.(map[string]any)["a"].(map[string]any); !ok {
		t.Errorf("expected intermediate object")
	}
}

// TestValidate tests that write paths reject indices above MaxIndex
func TestValidate(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"a.b", false},
		{"a[3].b", false},
		{"a[65535]", false},
		{"a[65536]", true},
		{"a[100000000000000]", true},
		{"a[99999999999999999999999]", true},
		{"[ ]", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := Validate(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

// TestSetLargeIndex tests that an index above MaxIndex is never allocated
func TestSetLargeIndex(t *testing.T) {
	got := Set(Empty, "a[100000000000000]", 1.0, true)
	want := map[string]any{"a": map[string]any{"100000000000000": 1.0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Set() = %v, want %v", got, want)
	}

	if _, ok := Get(mustParse(t, `{"a":[1,2]}`), "a[100000000000000]"); ok {
		t.Errorf("Get() found an element beyond MaxIndex")
	}
}

// TestSetStructuralSharing tests that unchanged writes return the same root and
// that untouched subtrees keep their identity
func TestSetStructuralSharing(t *testing.T) {
	base := mustParse(t, `{"a":{"b":{"c":1}},"other":{"x":[1,2]}}`)

	// deep-equal value -> same root
	if next := Set(base, "a", mustParse(t, `{"b":{"c":1}}`), true); !Same(next, base) {
		t.Errorf("Set() with an equal value must return the same root")
	}
	if next := Set(base, "", mustParse(t, `{"a":{"b":{"c":1}},"other":{"x":[1,2]}}`), true); !Same(next, base) {
		t.Errorf("Set() without path and an equal value must return the same root")
	}

	next := Set(base, "a.b.c", 2.0, true)
	if Same(next, base) {
		t.Fatalf("Set() with a changed value must return a new root")
	}

	oldOther, _ := Get(base, "other")
	newOther, _ := Get(next, "other")
	if !Same(oldOther, newOther) {
		t.Errorf("untouched subtree must keep its identity")
	}

	oldA, _ := Get(base, "a")
	newA, _ := Get(next, "a")
	if Same(oldA, newA) {
		t.Errorf("modified spine must be copied")
	}

	// base itself is unchanged
	if v, _ := Get(base, "a.b.c"); v != 1.0 {
		t.Errorf("Set() mutated the original tree")
	}
}

// TestPatchArrays tests element-wise array patching
func TestPatchArrays(t *testing.T) {
	old := mustParse(t, `[{"a":1},{"b":2},{"c":3}]`).([]any)

	same := Patch(old, mustParse(t, `[{"a":1},{"b":2},{"c":3}]`), true)
	if !Same(same, old) {
		t.Errorf("equal arrays must patch to the old array")
	}

	changed := Patch(old, mustParse(t, `[{"a":1},{"b":5},{"c":3}]`), true).([]any)
	if !Same(changed[0], old[0]) || !Same(changed[2], old[2]) {
		t.Errorf("unchanged elements must be reused")
	}
	if Same(changed[1], old[1]) {
		t.Errorf("changed element must be replaced")
	}

	longer := Patch(old, mustParse(t, `[{"a":1},{"b":2},{"c":3},4]`), true).([]any)
	if len(longer) != 4 || !Same(longer[0], old[0]) {
		t.Errorf("grown array must reuse the unchanged prefix, got %v", longer)
	}

	withUndefined := Patch(old, []any{Undefined}, true).([]any)
	if len(withUndefined) != 1 || withUndefined[0] != nil {
		t.Errorf("undefined array elements must become null, got %v", withUndefined)
	}
}

// TestPatchObjects tests key-wise object patching
func TestPatchObjects(t *testing.T) {
	old := mustParse(t, `{"a":{"x":1},"b":2}`).(map[string]any)

	removed := Patch(old, map[string]any{"a": map[string]any{"x": 1.0}, "b": Undefined}, true).(map[string]any)
	if _, ok := removed["b"]; ok {
		t.Errorf("undefined key must be removed")
	}
	if !Same(removed["a"], old["a"]) {
		t.Errorf("unchanged key must be reused")
	}

	empty := Patch(old, map[string]any{"a": Undefined}, true)
	if !Same(empty, Empty) {
		t.Errorf("object without keys must be the shared empty object")
	}

	replaced := Patch(old, map[string]any{"c": 1.0}, true).(map[string]any)
	if !reflect.DeepEqual(replaced, map[string]any{"c": 1.0}) {
		t.Errorf("keys missing from the new object must be dropped, got %v", replaced)
	}

	typeChange := Patch(old, []any{1.0}, true)
	if !reflect.DeepEqual(typeChange, []any{1.0}) {
		t.Errorf("type mismatch must replace the old value, got %v", typeChange)
	}
}

// TestPatchClonesUnlessIsolated tests that non-isolated values are copied
func TestPatchClonesUnlessIsolated(t *testing.T) {
	value := map[string]any{"a": []any{1.0}}

	cloned := Set(nil, "v", value, false)
	v, _ := Get(cloned, "v")
	if Same(v, value) {
		t.Errorf("non-isolated value must be cloned")
	}

	shared := Set(nil, "v", value, true)
	v, _ = Get(shared, "v")
	if !Same(v, value) {
		t.Errorf("isolated value must be stored as is")
	}
}

// TestNormalize tests conversion of Go values into JSON trees
func TestNormalize(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}

	tests := []struct {
		name     string
		in       any
		expected any
	}{
		{"int", 3, 3.0},
		{"nested", map[string]any{"a": []any{int64(1), "s"}}, map[string]any{"a": []any{1.0, "s"}}},
		{"struct", point{X: 2}, map[string]any{"x": 2.0}},
		{"typed map", map[string]int{"a": 1}, map[string]any{"a": 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Normalize() = %v, want %v", got, tt.expected)
			}
		})
	}

	if _, err := Normalize(make(chan int)); err == nil {
		t.Errorf("Normalize() must fail for values that are not json")
	}
}
