// Package search finds snapshots whose contents or file names match a
// pattern, optionally re-ranked by semantic similarity.
package search

import (
	"context"
	"regexp"
	"regexp/syntax"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/embeddings"
	"github.com/pders01/git-rewind/internal/git"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/timeline"
)

// ErrEmptyPattern is returned for a blank query.
var ErrEmptyPattern = errors.New("search pattern cannot be empty")

// maxEmbedText bounds the text sent to the embedder per snapshot.
const maxEmbedText = 4096

// Query selects what to match.
type Query struct {
	Pattern    string
	IgnoreCase bool
	// Fixed matches Pattern literally instead of as an extended regexp.
	Fixed    bool
	Semantic bool
}

// Result holds the matches found in one snapshot.
type Result struct {
	Snapshot models.SnapshotInfo `json:"snapshot"`
	Matches  []git.GrepMatch     `json:"matches,omitempty"`
	Files    []string            `json:"files,omitempty"`
	Score    float64             `json:"score,omitempty"`
}

// Engine searches the snapshots of one repository.
type Engine struct {
	repo     *git.Repository
	index    *timeline.Index
	embedder Embedder
	cache    *embeddings.Cache
}

// New returns a search Engine without semantic ranking.
func New(repo *git.Repository, index *timeline.Index) *Engine {
	return &Engine{repo: repo, index: index}
}

// WithEmbedder enables semantic re-ranking. cache may be nil.
func (e *Engine) WithEmbedder(embedder Embedder, cache *embeddings.Cache) *Engine {
	e.embedder = embedder
	e.cache = cache
	return e
}

// Search returns one Result per snapshot of lineOfWork with at least one
// content or file name match, newest first unless semantically re-ranked.
func (e *Engine) Search(ctx context.Context, lineOfWork string, q Query) ([]Result, error) {
	if strings.TrimSpace(q.Pattern) == "" {
		return nil, ErrEmptyPattern
	}
	matchName, err := nameMatcher(q)
	if err != nil {
		return nil, err
	}

	infos, err := e.index.List(ctx, lineOfWork)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matches, err := e.repo.Grep(ctx, info.ID, q.Pattern, git.GrepOptions{IgnoreCase: q.IgnoreCase, Fixed: q.Fixed})
		if err != nil {
			return nil, err
		}
		entries, err := e.repo.LsTree(ctx, info.ID)
		if err != nil {
			return nil, err
		}
		var files []string
		for _, entry := range entries {
			if matchName(entry.Path) {
				files = append(files, entry.Path)
			}
		}

		if len(matches) == 0 && len(files) == 0 {
			continue
		}
		results = append(results, Result{Snapshot: info, Matches: matches, Files: files})
	}

	if q.Semantic && len(results) > 0 {
		e.rank(ctx, q.Pattern, results)
	}
	return results, nil
}

// nameMatcher matches file names the way git grep -E matches contents:
// POSIX extended syntax, so Perl classes such as \d and backreferences are
// rejected up front instead of meaning different things on each side.
func nameMatcher(q Query) (func(string) bool, error) {
	if q.Fixed {
		needle := q.Pattern
		if q.IgnoreCase {
			needle = strings.ToLower(needle)
			return func(p string) bool { return strings.Contains(strings.ToLower(p), needle) }, nil
		}
		return func(p string) bool { return strings.Contains(p, needle) }, nil
	}

	flags := syntax.POSIX
	if q.IgnoreCase {
		flags |= syntax.FoldCase
	}
	parsed, err := syntax.Parse(q.Pattern, flags)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid extended regular expression %q", q.Pattern)
	}
	re, err := regexp.Compile(parsed.String())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid extended regular expression %q", q.Pattern)
	}
	return re.MatchString, nil
}

// rank sorts results by similarity to the query. Without a working embedder
// the timeline order is kept.
func (e *Engine) rank(ctx context.Context, query string, results []Result) {
	if e.embedder == nil {
		log.Warn("semantic search requested but no embedder is configured")
		return
	}
	qvec, err := e.embed(ctx, query)
	if err != nil {
		log.WithError(err).Warn("semantic ranking unavailable, keeping timeline order")
		return
	}

	for i := range results {
		vec, err := e.embed(ctx, matchText(results[i]))
		if err != nil {
			log.WithError(err).WithField("ref", results[i].Snapshot.Ref).Debug("could not embed result")
			continue
		}
		score, err := embeddings.CosineSimilarity(qvec, vec)
		if err != nil {
			continue
		}
		results[i].Score = score
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func (e *Engine) embed(ctx context.Context, text string) ([]float64, error) {
	var key string
	if e.cache != nil {
		key = embeddings.Key(e.embedder.Model(), text)
		if vec, err := e.cache.Get(key); err == nil && vec != nil {
			return vec, nil
		}
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := embeddings.Validate(vec); err != nil {
		return nil, err
	}
	if e.cache != nil {
		if err := e.cache.Put(key, vec); err != nil {
			log.WithError(err).Debug("failed to cache embedding")
		}
	}
	return vec, nil
}

// matchText is the text a result is judged by: its matched lines, then the
// names of matching files.
func matchText(r Result) string {
	var b strings.Builder
	for _, m := range r.Matches {
		b.WriteString(m.Text)
		b.WriteByte('\n')
		if b.Len() >= maxEmbedText {
			break
		}
	}
	for _, f := range r.Files {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	s := b.String()
	if len(s) > maxEmbedText {
		s = s[:maxEmbedText]
	}
	return s
}
