package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"
)

// Kind classifies a version
type Kind uint8

const (
	KindVoid     Kind = iota // No version, the record never had a baseline
	KindStale                // "I" prefix, reconstructed by upstream
	KindNumeric              // "<seq>-<suffix>", ordered by seq
	KindProvider             // "INF" prefix, authored by a provider
)

// String returns the name of a Kind.
func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindStale:
		return "stale"
	case KindNumeric:
		return "numeric"
	case KindProvider:
		return "provider"
	default:
		return "unknown"
	}
}

// Version is a parsed version string. The wire form "<seq>-<suffix>" is kept
// verbatim and returned by String.
type Version struct {
	raw    string
	kind   Kind
	seq    uint64
	suffix string
}

// ParseVersion parses a version string. The empty string is the void version.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, nil
	}

	prefix, suffix, _ := strings.Cut(s, "-")
	v := Version{raw: s, suffix: suffix}

	switch {
	case prefix == "INF":
		v.kind = KindProvider
	case strings.HasPrefix(prefix, "I"):
		v.kind = KindStale
		// the sequence of a stale version is informational only
		v.seq, _ = strconv.ParseUint(prefix[1:], 10, 64)
	default:
		seq, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
		v.kind = KindNumeric
		v.seq = seq
	}
	return v, nil
}

// MustParseVersion is like ParseVersion but panics on malformed input.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// NewVersion mints a numeric version with a unique, time ordered suffix.
// A non empty user is appended to the suffix.
func NewVersion(seq uint64, user string) Version {
	suffix := ulid.Make().String()
	if user != "" {
		suffix += "-" + user
	}
	return Version{
		raw:    strconv.FormatUint(seq, 10) + "-" + suffix,
		kind:   KindNumeric,
		seq:    seq,
		suffix: suffix,
	}
}

// ProviderVersion returns the content addressed version of a provider value
func ProviderVersion(body string) Version {
	suffix := strconv.FormatUint(xxhash.Sum64String(body), 16)
	return Version{
		raw:    "INF-" + suffix,
		kind:   KindProvider,
		suffix: suffix,
	}
}

func (v Version) String() string { return v.raw }
func (v Version) Kind() Kind     { return v.kind }
func (v Version) Seq() uint64    { return v.seq }
func (v Version) IsVoid() bool   { return v.kind == KindVoid }

// IsStale reports whether the version carries the "I" marker. Provider
// versions carry it as well.
func (v Version) IsStale() bool {
	return v.kind == KindStale || v.kind == KindProvider
}

// Compare orders versions: void < stale < numeric < provider. Versions of the
// same kind are ordered by sequence number and then by suffix.
func (v Version) Compare(o Version) int {
	switch {
	case v.kind != o.kind:
		if v.kind < o.kind {
			return -1
		}
		return 1
	case v.seq != o.seq:
		if v.seq < o.seq {
			return -1
		}
		return 1
	default:
		return strings.Compare(v.suffix, o.suffix)
	}
}
