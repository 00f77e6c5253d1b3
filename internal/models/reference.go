package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultNamespace is the ref prefix snapshots live under.
	DefaultNamespace = "refs/rewind"
	// DefaultNotesRef holds the metadata notes.
	DefaultNotesRef = "refs/notes/rewind"
	// DetachedLineOfWork is used when HEAD does not point at a branch.
	DetachedLineOfWork = "HEAD"
)

// Reference identifies one snapshot ref.
// Format: <namespace>/<line-of-work>/<suffix>
type Reference struct {
	Name       string
	LineOfWork string
	Suffix     string
}

// NewSuffix returns a unique, lexically time-ordered ref suffix.
func NewSuffix(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// SuffixTime extracts the capture instant encoded in a suffix.
func SuffixTime(suffix string) (time.Time, error) {
	id, err := ulid.ParseStrict(suffix)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid snapshot suffix %q: %w", suffix, err)
	}
	return ulid.Time(id.Time()), nil
}

// RefName builds the full ref name for a snapshot.
func RefName(namespace, lineOfWork, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(namespace, "/"), lineOfWork, suffix)
}

// LinePrefix is the for-each-ref prefix enumerating one line of work.
func LinePrefix(namespace, lineOfWork string) string {
	return fmt.Sprintf("%s/%s/", strings.TrimSuffix(namespace, "/"), lineOfWork)
}

// ParseRef splits a full ref name into its line of work and suffix.
// Line-of-work tokens may contain slashes (feature/x); the suffix is always
// the last path element.
func ParseRef(namespace, name string) (Reference, error) {
	prefix := strings.TrimSuffix(namespace, "/") + "/"
	if !strings.HasPrefix(name, prefix) {
		return Reference{}, fmt.Errorf("ref %s is outside namespace %s", name, namespace)
	}

	rest := strings.TrimPrefix(name, prefix)
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return Reference{}, fmt.Errorf("invalid snapshot ref format: %s", name)
	}

	suffix := rest[idx+1:]
	if _, err := SuffixTime(suffix); err != nil {
		return Reference{}, err
	}

	return Reference{
		Name:       name,
		LineOfWork: rest[:idx],
		Suffix:     suffix,
	}, nil
}
