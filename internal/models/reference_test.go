package models

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestParseRef(t *testing.T) {
	suffix := NewSuffix(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))

	tests := []struct {
		name     string
		ref      string
		wantLine string
		wantErr  bool
	}{
		{"simple branch", "refs/rewind/main/" + suffix, "main", false},
		{"slashed branch", "refs/rewind/feature/login/" + suffix, "feature/login", false},
		{"detached", "refs/rewind/HEAD/" + suffix, DetachedLineOfWork, false},
		{"other namespace", "refs/heads/main", "", true},
		{"missing line", "refs/rewind/" + suffix, "", true},
		{"bad suffix", "refs/rewind/main/123", "", true},
		{"trailing slash", "refs/rewind/main/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseRef(DefaultNamespace, tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s", tt.ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.LineOfWork != tt.wantLine || ref.Suffix != suffix {
				t.Errorf("got line %q suffix %q", ref.LineOfWork, ref.Suffix)
			}
		})
	}
}

func TestSuffixOrdering(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	earlier := NewSuffix(base)
	later := NewSuffix(base.Add(time.Millisecond))
	same := NewSuffix(base.Add(time.Millisecond))

	if !(earlier < later) {
		t.Errorf("suffixes should sort by time: %s >= %s", earlier, later)
	}
	if later == same {
		t.Error("suffixes taken in the same millisecond must differ")
	}

	got, err := SuffixTime(earlier)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(base) {
		t.Errorf("expected %v, got %v", base, got)
	}
}

func TestRefNameRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	segment := gen.Identifier()
	lines := gen.SliceOfN(3, segment).Map(func(parts []string) string {
		return strings.Join(parts, "/")
	})

	properties.Property("ParseRef inverts RefName", prop.ForAll(
		func(line string, offset int64) bool {
			at := time.Unix(1700000000, 0).Add(time.Duration(offset) * time.Millisecond)
			suffix := NewSuffix(at)
			ref, err := ParseRef(DefaultNamespace, RefName(DefaultNamespace, line, suffix))
			return err == nil && ref.LineOfWork == line && ref.Suffix == suffix
		},
		lines,
		gen.Int64Range(0, 1<<32),
	))

	properties.Property("line prefix matches only its own refs", prop.ForAll(
		func(line string) bool {
			name := RefName(DefaultNamespace, line, NewSuffix(time.Now()))
			return strings.HasPrefix(name, LinePrefix(DefaultNamespace, line))
		},
		lines,
	))

	properties.TestingRun(t)
}
