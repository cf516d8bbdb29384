// Package jsonpath implements the structural get/set/patch algorithm used by
// records to merge JSON-like trees.
//
// Trees are the values produced by encoding/json when decoding into an `any`:
// map[string]any, []any, string, float64, bool and nil. Trees are treated as
// immutable. Every write returns a new root that shares all untouched subtrees
// with the previous root, so callers can detect changes in O(depth) by comparing
// references along a path instead of comparing values.
//
// Key Components:
//
//   - Get: walks a dotted/bracketed path ("a.b[0].c") and returns the value found.
//
//   - Set: writes a value at a path, copying only the spine from the root to the
//     modified leaf. If the written value is structurally equal to the existing one
//     the original root is returned unchanged.
//
//   - Patch: replaces an old tree by a new one while reusing every subtree of the
//     old tree that did not change.
//
//   - Tokenize: splits a path into tokens. Results are cached per path string.
//
// The shared sentinels Empty and EmptyArr must never be mutated.
package jsonpath
