// Package snapshot captures the work tree as an immutable commit without
// ever touching the shared index.
//
// A capture hashes work tree files straight into the object store, builds
// trees from explicit entries, commits the result on top of HEAD and points
// a uniquely named ref at it. Concurrent captures therefore cannot block or
// corrupt each other: object writes are idempotent and every ref name is new.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/git"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/timeline"
)

// Request describes one capture.
type Request struct {
	// LineOfWork defaults to the current branch.
	LineOfWork string
	Message    string
	Metadata   models.Metadata
	// Force skips the "same as newest snapshot" check. The HEAD check
	// still applies.
	Force bool
}

// Result of a capture. Tree is set even for no-ops.
type Result struct {
	ID     string
	Tree   string
	Parent string
	Ref    models.Reference
	Files  int
	NoOp   bool
}

// Writer creates snapshots in one repository.
type Writer struct {
	repo  *git.Repository
	index *timeline.Index
	now   func() time.Time
}

// NewWriter returns a Writer storing refs and notes where index reads them.
func NewWriter(repo *git.Repository, index *timeline.Index) *Writer {
	return &Writer{repo: repo, index: index, now: time.Now}
}

// Capture snapshots the work tree. It returns a NoOp result when the tree
// matches HEAD, or the newest snapshot of the line unless Force is set.
// Backend failures are returned as-is; retry policy belongs to the caller.
func (w *Writer) Capture(ctx context.Context, req Request) (Result, error) {
	line := req.LineOfWork
	if line == "" {
		var err error
		if line, err = w.repo.CurrentBranch(ctx); err != nil {
			return Result{}, err
		}
	}

	head, err := w.repo.HeadCommit(ctx)
	if err != nil {
		return Result{}, err
	}
	var headTree string
	if head != "" {
		if headTree, err = w.repo.TreeOf(ctx, head); err != nil {
			return Result{}, err
		}
	} else if headTree, err = w.repo.EmptyTree(ctx); err != nil {
		return Result{}, err
	}

	tracked, gitlinks, err := w.headPaths(ctx, head)
	if err != nil {
		return Result{}, err
	}
	files, err := enumerate(ctx, w.repo, tracked, gitlinks)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to enumerate work tree")
	}
	ids, err := hashFiles(ctx, w.repo, files)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to hash work tree")
	}
	tree, count, err := buildTree(ctx, w.repo, files, ids)
	if err != nil {
		return Result{}, err
	}

	res := Result{Tree: tree, Parent: head, Files: count}
	fields := log.Fields{"line": line, "tree": tree, "files": count}

	if tree == headTree {
		log.WithFields(fields).Debug("work tree matches HEAD, nothing to capture")
		res.NoOp = true
		return res, nil
	}
	if !req.Force {
		latest, err := w.index.Latest(ctx, line)
		if err != nil {
			return Result{}, err
		}
		if latest != nil && latest.Tree == tree {
			log.WithFields(fields).Debug("work tree matches newest snapshot, nothing to capture")
			res.NoOp = true
			return res, nil
		}
	}

	now := w.now()
	suffix := models.NewSuffix(now)
	commit, err := w.repo.CommitTree(ctx, tree, head, commitMessage(req.Message, suffix))
	if err != nil {
		return Result{}, err
	}

	ref := models.Reference{
		Name:       models.RefName(w.index.Namespace(), line, suffix),
		LineOfWork: line,
		Suffix:     suffix,
	}
	if err := w.repo.CreateRef(ctx, ref.Name, commit); err != nil {
		if errors.Is(err, models.ErrReferenceConflict) {
			log.WithFields(fields).WithField("ref", ref.Name).Error("snapshot ref collided, suffixes should be unique")
		}
		return Result{}, err
	}

	meta := req.Metadata
	meta.LineOfWork = line
	meta.CreatedAt = now
	if meta.Workspace == "" {
		meta.Workspace = w.repo.Dir()
	}
	if meta.Message == "" {
		meta.Message = req.Message
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to marshal metadata")
	}
	if err := w.repo.AddNote(ctx, w.index.NotesRef(), commit, data); err != nil {
		return Result{}, err
	}

	res.ID = commit
	res.Ref = ref
	log.WithFields(fields).WithField("ref", ref.Name).Info("snapshot captured")
	return res, nil
}

// headPaths returns the paths tracked at head and the submodule commits it
// records, keyed by path.
func (w *Writer) headPaths(ctx context.Context, head string) (map[string]bool, map[string]string, error) {
	tracked := make(map[string]bool)
	gitlinks := make(map[string]string)
	if head == "" {
		return tracked, gitlinks, nil
	}
	entries, err := w.repo.LsTree(ctx, head)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		tracked[e.Path] = true
		if e.Mode == git.ModeSubmodule {
			gitlinks[e.Path] = e.ID
		}
	}
	return tracked, gitlinks, nil
}

// commitMessage embeds the suffix so two captures of the same tree in the
// same second still produce distinct commit objects.
func commitMessage(message, suffix string) string {
	subject := strings.TrimSpace(message)
	if subject == "" {
		subject = "snapshot"
	}
	subject = strings.SplitN(subject, "\n", 2)[0]
	return fmt.Sprintf("rewind: %s\n\nRewind-Snapshot: %s\n", subject, suffix)
}
