// Package travel restores the work tree to an earlier snapshot, saving the
// current state first.
package travel

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/git"
	"github.com/pders01/git-rewind/internal/lockguard"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/snapshot"
	"github.com/pders01/git-rewind/internal/timeline"
)

// Guard waits for the index to be free.
type Guard interface {
	Await(ctx context.Context, maxWait time.Duration) lockguard.Result
}

// Engine travels within one repository.
type Engine struct {
	repo    *git.Repository
	index   *timeline.Index
	writer  *snapshot.Writer
	guard   Guard
	maxWait time.Duration
}

// New returns a travel Engine.
func New(repo *git.Repository, index *timeline.Index, writer *snapshot.Writer, guard Guard, maxWait time.Duration) *Engine {
	return &Engine{repo: repo, index: index, writer: writer, guard: guard, maxWait: maxWait}
}

// Result describes a completed travel.
type Result struct {
	Target   models.SnapshotInfo `json:"target"`
	Safety   snapshot.Result     `json:"safety"`
	Restored int                 `json:"restored"`
	Removed  int                 `json:"removed"`
}

// Travel restores the snapshot named by target on the current line of work.
// The target is resolved before the safety capture, so ordinals refer to the
// timeline as the user last saw it.
func (e *Engine) Travel(ctx context.Context, target string) (Result, error) {
	line, err := e.repo.CurrentBranch(ctx)
	if err != nil {
		return Result{}, err
	}
	info, err := e.index.Resolve(ctx, line, target)
	if err != nil {
		return Result{}, err
	}

	if e.guard.Await(ctx, e.maxWait) == lockguard.Deferred {
		return Result{}, errors.Wrap(models.ErrContention, "cannot take a safety snapshot before travel")
	}
	safety, err := e.writer.Capture(ctx, snapshot.Request{
		LineOfWork: line,
		Message:    "before travel to " + info.ShortID(),
		Metadata:   models.Metadata{Trigger: models.TriggerTravel},
		Force:      true,
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "safety snapshot failed, work tree left untouched")
	}

	res := Result{Target: info, Safety: safety}
	fields := log.Fields{"line": line, "target": info.Ref, "safety": safety.Ref.Name}

	current, err := e.repo.TreePaths(ctx, safety.Tree)
	if err != nil {
		return res, err
	}
	wanted, err := e.repo.TreePaths(ctx, info.Tree)
	if err != nil {
		return res, err
	}

	// stale files go first so a path can switch between file and directory
	removed, err := e.removeStale(current, wanted)
	res.Removed = removed
	if err != nil {
		return res, err
	}

	if err := e.repo.RestoreTree(ctx, info.Tree); err != nil {
		return res, err
	}
	res.Restored = len(wanted)

	log.WithFields(fields).WithFields(log.Fields{
		"restored": res.Restored,
		"removed":  res.Removed,
	}).Info("travelled to snapshot")
	return res, nil
}

// removeStale deletes files tracked in current but absent from wanted, then
// prunes directories left empty. Untracked and ignored files are never
// touched because they never appear in current.
func (e *Engine) removeStale(current, wanted map[string]bool) (int, error) {
	var stale []string
	for p := range current {
		if !wanted[p] {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)

	root := e.repo.Dir()
	removed := 0
	dirs := make(map[string]bool)
	for _, p := range stale {
		full := filepath.Join(root, filepath.FromSlash(p))
		// a submodule checkout stays put, like git leaves it
		if info, err := os.Lstat(full); err == nil && info.IsDir() {
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "failed to remove %s", p)
		}
		removed++
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			dirs[dir] = true
		}
	}

	// deepest first so parents see their children gone
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })
	for _, d := range ordered {
		full := filepath.Join(root, filepath.FromSlash(d))
		entries, err := os.ReadDir(full)
		if err != nil || len(entries) > 0 {
			continue
		}
		os.Remove(full)
	}
	return removed, nil
}
