package record

import (
	"strings"
	"testing"
)

// TestParseVersion tests the classification of version strings
func TestParseVersion(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		seq  uint64
	}{
		{"", KindVoid, 0},
		{"0-00000000000000", KindNumeric, 0},
		{"12-abc", KindNumeric, 12},
		{"I-abc", KindStale, 0},
		{"I7-abc", KindStale, 7},
		{"INF-abc", KindProvider, 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := ParseVersion(tt.raw)
			if err != nil {
				t.Fatalf("ParseVersion() error = %v", err)
			}
			if v.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", v.Kind(), tt.kind)
			}
			if v.Seq() != tt.seq {
				t.Errorf("Seq() = %d, want %d", v.Seq(), tt.seq)
			}
			if v.String() != tt.raw {
				t.Errorf("String() = %q, want %q", v.String(), tt.raw)
			}
		})
	}

	if _, err := ParseVersion("abc-1"); err == nil {
		t.Errorf("ParseVersion() should fail for a non numeric sequence")
	}
}

// TestCompareVersion tests the total order of versions
func TestCompareVersion(t *testing.T) {
	ordered := []string{"", "I-x", "I3-a", "1-b", "2-a", "2-b", "10-a", "INF-a", "INF-b"}

	for i := range ordered {
		for j := range ordered {
			a, b := MustParseVersion(ordered[i]), MustParseVersion(ordered[j])
			got := a.Compare(b)

			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			if got != want {
				t.Errorf("Compare(%q, %q) = %d, want %d", ordered[i], ordered[j], got, want)
			}
		}
	}
}

// TestNewVersion tests minting of local and provider versions
func TestNewVersion(t *testing.T) {
	v := NewVersion(4, "alice")
	if !strings.HasPrefix(v.String(), "4-") || !strings.HasSuffix(v.String(), "-alice") {
		t.Errorf("NewVersion() = %s", v)
	}
	if parsed := MustParseVersion(v.String()); parsed.Compare(v) != 0 {
		t.Errorf("minted version does not survive parsing")
	}
	if NewVersion(4, "").String() == NewVersion(4, "").String() {
		t.Errorf("NewVersion() must be unique")
	}

	p := ProviderVersion(`{"a":1}`)
	if !strings.HasPrefix(p.String(), "INF-") || p.Kind() != KindProvider {
		t.Errorf("ProviderVersion() = %s", p)
	}
	if ProviderVersion(`{"a":1}`) != p {
		t.Errorf("ProviderVersion() must be deterministic")
	}
	if ProviderVersion(`{"a":2}`) == p {
		t.Errorf("ProviderVersion() must depend on the body")
	}
}
