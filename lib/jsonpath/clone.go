package jsonpath

import (
	"encoding/json"
	"fmt"
)

// Clone returns a deep copy of a JSON tree. Primitives are returned as is.
func Clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 0 {
			return Empty
		}
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = Clone(val)
		}
		return m
	case []any:
		if len(x) == 0 {
			return EmptyArr
		}
		a := make([]any, len(x))
		for i, val := range x {
			a[i] = Clone(val)
		}
		return a
	default:
		return v
	}
}

// Normalize converts an arbitrary Go value into a private JSON tree made of
// map[string]any, []any, string, float64, bool and nil. Values that are not
// plain JSON types are converted through a json round trip, so structs,
// typed maps and json.RawMessage are accepted. The Undefined marker is kept.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, float64, undefined:
		return v, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case map[string]any:
		if len(x) == 0 {
			return Empty, nil
		}
		m := make(map[string]any, len(x))
		for k, val := range x {
			n, err := Normalize(val)
			if err != nil {
				return nil, err
			}
			m[k] = n
		}
		return m, nil
	case []any:
		if len(x) == 0 {
			return EmptyArr, nil
		}
		a := make([]any, len(x))
		for i, val := range x {
			n, err := Normalize(val)
			if err != nil {
				return nil, err
			}
			if IsUndefined(n) {
				n = nil
			}
			a[i] = n
		}
		return a, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not representable as json: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a JSON text into a tree. The texts "{}" and "[]" decode to
// the shared sentinels.
func Parse(raw []byte) (any, error) {
	switch string(raw) {
	case "{}":
		return Empty, nil
	case "[]":
		return EmptyArr, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Stringify encodes a tree as JSON text. Undefined is encoded as null.
func Stringify(v any) (string, error) {
	if IsUndefined(v) {
		return "null", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
