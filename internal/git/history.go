package git

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/pders01/git-rewind/internal/models"
)

// DiffNumstat summarises per-file changes between two tree-ish revisions.
// Both sides are objects, so the index is not involved.
func (r *Repository) DiffNumstat(ctx context.Context, from, to string) ([]models.FileStat, error) {
	out, err := r.Run(ctx, "diff", "--numstat", "--no-renames", "-z", from, to, "--")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to diff %s..%s", from, to)
	}

	var stats []models.FileStat
	for _, rec := range strings.Split(out, "\x00") {
		if rec == "" {
			continue
		}
		fields := strings.SplitN(rec, "\t", 3)
		if len(fields) != 3 {
			return nil, errors.Errorf("unexpected numstat record %q", rec)
		}
		stat := models.FileStat{Path: fields[2]}
		if fields[0] == "-" && fields[1] == "-" {
			stat.Binary = true
		} else {
			stat.Added, _ = strconv.Atoi(fields[0])
			stat.Deleted, _ = strconv.Atoi(fields[1])
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

// GrepOptions tune Grep.
type GrepOptions struct {
	IgnoreCase bool
	Fixed      bool
}

// GrepMatch is a single matching line inside a revision.
type GrepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Grep searches the contents of rev for pattern. No match is not an error.
func (r *Repository) Grep(ctx context.Context, rev, pattern string, opts GrepOptions) ([]GrepMatch, error) {
	args := []string{"grep", "-I", "-n", "-z", "--full-name"}
	if opts.IgnoreCase {
		args = append(args, "-i")
	}
	if opts.Fixed {
		args = append(args, "-F")
	} else {
		args = append(args, "-E")
	}
	args = append(args, "-e", pattern, rev, "--")

	out, err := r.Run(ctx, args...)
	if err != nil {
		if ExitCode(err) == 1 {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to grep %s", rev)
	}

	// -z output: <rev>:<path>\0<line>\0<text>\n
	revPrefix := rev + ":"
	var matches []GrepMatch
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\x00", 3)
		if len(parts) != 3 {
			continue
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		matches = append(matches, GrepMatch{
			Path: strings.TrimPrefix(parts[0], revPrefix),
			Line: n,
			Text: parts[2],
		})
	}
	return matches, nil
}
