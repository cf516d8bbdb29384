package jsonpath

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/puzpuzpuz/xsync/v3"
)

// MaxIndex is the largest array index a path may address
const MaxIndex = 1<<16 - 1

var (
	partsRegExp = regexp.MustCompile(`[^.\[\]\s]+`)

	// tokenCache caches the tokens of every path seen so far
	tokenCache = xsync.NewMapOf[string, []string]()
)

// PathError is returned (or raised by the Must* helpers) for paths that
// contain no addressable token.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("invalid path %q", e.Path)
}

// Tokenize splits a path into its tokens. Object keys and array indices are
// both returned as strings, e.g. "a.b[2]" -> ["a", "b", "2"].
// An empty path yields no tokens.
func Tokenize(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	if parts, ok := tokenCache.Load(path); ok {
		return parts, nil
	}

	parts := partsRegExp.FindAllString(path, -1)
	if len(parts) == 0 {
		return nil, &PathError{Path: path}
	}

	tokenCache.Store(path, parts)
	return parts, nil
}

// Validate checks that path can be written to: it must tokenize and every
// numeric token must be an index of at most MaxIndex.
func Validate(path string) error {
	tokens, err := Tokenize(path)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if !isDigits(token) {
			continue
		}
		if _, ok := index(token); !ok {
			return &PathError{Path: path, Reason: fmt.Sprintf("index %s exceeds %d", token, MaxIndex)}
		}
	}
	return nil
}

// MustTokenize is like Tokenize but panics with a *PathError on invalid paths.
func MustTokenize(path string) []string {
	tokens, err := Tokenize(path)
	if err != nil {
		panic(err)
	}
	return tokens
}

// index converts a token to an array index. Tokens above MaxIndex are not
// indices.
func index(token string) (int, bool) {
	if token == "" || token[0] < '0' || token[0] > '9' {
		return 0, false
	}
	i, err := strconv.Atoi(token)
	if err != nil || i < 0 || i > MaxIndex {
		return 0, false
	}
	return i, true
}

func isDigits(token string) bool {
	for i := 0; i < len(token); i++ {
		if token[i] < '0' || token[i] > '9' {
			return false
		}
	}
	return token != ""
}
