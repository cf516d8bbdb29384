package jsonpath

import (
	"reflect"
)

// undefined marks a missing value. It differs from nil, which is JSON null.
type undefined struct{}

var (
	// Undefined is returned for missing values and, when used as a value in
	// Set or Patch, removes the addressed key.
	Undefined any = undefined{}

	// Empty is the shared empty object. It must never be mutated.
	Empty = map[string]any{}

	// EmptyArr is the shared empty array. It must never be mutated.
	EmptyArr = []any{}
)

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// --------------------------------------------------------------------------
// Get
// --------------------------------------------------------------------------

// Get returns the value at path. The boolean is false if traversal hit a
// missing key, an out-of-range index or a non-container value.
// A nil tree is treated as Empty. Get panics with a *PathError if the path is invalid.
func Get(data any, path string) (any, bool) {
	if data == nil {
		data = Empty
	}
	if path == "" {
		return data, true
	}

	v := lookup(data, MustTokenize(path))
	if IsUndefined(v) {
		return nil, false
	}
	return v, true
}

func lookup(data any, tokens []string) any {
	for _, token := range tokens {
		switch node := data.(type) {
		case map[string]any:
			v, ok := node[token]
			if !ok {
				return Undefined
			}
			data = v
		case []any:
			i, ok := index(token)
			if !ok || i >= len(node) {
				return Undefined
			}
			data = node[i]
		default:
			return Undefined
		}
	}
	return data
}

// --------------------------------------------------------------------------
// Set
// --------------------------------------------------------------------------

// Set writes value at path and returns the new root. Without a path it is
// equivalent to Patch(data, value, isolated).
//
// If the merged value is reference-identical to the existing one the original
// root is returned and nothing is allocated. Otherwise the spine from the root
// to the parent of the leaf is shallow-copied; missing intermediate containers
// are created as arrays when the next token is numeric and as objects otherwise.
//
// isolated asserts that value is already a private JSON tree that may be
// shared; when false the written value is deep-cloned.
func Set(data any, path string, value any, isolated bool) any {
	if data == nil {
		data = Empty
	}

	if path == "" {
		return Patch(data, value, isolated)
	}

	tokens := MustTokenize(path)

	oldValue := lookup(data, tokens)
	newValue := Patch(oldValue, value, isolated)

	if same(newValue, oldValue) {
		return data
	}

	return assign(data, tokens, newValue)
}

// assign returns a copy of node with value placed at tokens
func assign(node any, tokens []string, value any) any {
	if len(tokens) == 0 {
		return value
	}

	token := tokens[0]
	rest := tokens[1:]

	if arr, ok := node.([]any); ok {
		if i, ok := index(token); ok {
			size := len(arr)
			if i >= size {
				size = i + 1
			}
			next := make([]any, size)
			copy(next, arr)

			var child any = Undefined
			if i < len(arr) {
				child = arr[i]
			}

			v := assign(child, rest, value)
			if IsUndefined(v) {
				v = nil
			}
			next[i] = v
			return next
		}
	}

	obj, ok := node.(map[string]any)
	if !ok {
		// create the missing container
		if i, ok := index(token); ok {
			return assign(make([]any, 0, i+1), tokens, value)
		}
		obj = Empty
	}

	next := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		next[k] = v
	}

	child, exists := obj[token]
	if !exists {
		child = Undefined
	}

	v := assign(child, rest, value)
	if IsUndefined(v) {
		delete(next, token)
	} else {
		next[token] = v
	}
	return next
}

// --------------------------------------------------------------------------
// Patch
// --------------------------------------------------------------------------

// Patch replaces oldValue by newValue while reusing every subtree of oldValue
// that is unchanged. If nothing changed, oldValue itself is returned.
//
//   - arrays are patched element-wise; Undefined elements become null
//   - objects keep only the keys defined in newValue; a key set to Undefined is removed
//   - an object that ends up without keys is the shared Empty sentinel
//   - on type mismatch or for primitives newValue wins
func Patch(oldValue, newValue any, isolated bool) any {
	if same(oldValue, newValue) {
		return oldValue
	}

	switch n := newValue.(type) {
	case []any:
		if o, ok := oldValue.([]any); ok {
			return patchArray(o, n, isolated)
		}
	case map[string]any:
		if o, ok := oldValue.(map[string]any); ok {
			return patchObject(o, n, isolated)
		}
	}

	if isolated {
		return newValue
	}
	return Clone(newValue)
}

func patchArray(o, n []any, isolated bool) any {
	if len(n) == 0 {
		return EmptyArr
	}

	var arr []any
	if len(n) != len(o) {
		arr = make([]any, len(n))
	}

	for i, nv := range n {
		var ov any = Undefined
		if i < len(o) {
			ov = o[i]
		}

		v := Patch(ov, nv, isolated)

		if arr == nil {
			if same(v, ov) {
				continue
			}
			arr = make([]any, len(n))
			copy(arr, o[:i])
		}

		// array slots cannot be missing
		if IsUndefined(v) {
			v = nil
		}
		arr[i] = v
	}

	if arr == nil {
		return o
	}
	return arr
}

func patchObject(o, n map[string]any, isolated bool) any {
	defined := 0
	for _, nv := range n {
		if !IsUndefined(nv) {
			defined++
		}
	}

	if defined == 0 {
		if len(o) == 0 {
			return o
		}
		return Empty
	}

	var obj map[string]any
	if defined != len(o) {
		obj = make(map[string]any, defined)
	}

	for k, nv := range n {
		if IsUndefined(nv) {
			continue
		}

		ov, exists := o[k]
		if !exists {
			ov = Undefined
		}

		v := Patch(ov, nv, isolated)

		if obj == nil {
			if exists && same(v, ov) {
				continue
			}
			// keys visited so far are unchanged, start from a copy of o
			obj = make(map[string]any, defined)
			for key, val := range o {
				obj[key] = val
			}
		}
		obj[k] = v
	}

	if obj == nil {
		return o
	}

	// drop keys of o that are not part of n
	for k := range obj {
		if nv, ok := n[k]; !ok || IsUndefined(nv) {
			delete(obj, k)
		}
	}
	return obj
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// Same reports whether a and b are the same value: reference identity for
// objects and arrays, equality for primitives.
func Same(a, b any) bool {
	return same(a, b)
}

func same(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		return ok && reflect.ValueOf(x).UnsafePointer() == reflect.ValueOf(y).UnsafePointer()
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		return len(x) == 0 || &x[0] == &y[0]
	}

	switch b.(type) {
	case map[string]any, []any:
		return false
	}

	if a == nil || b == nil {
		return a == b
	}

	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
