// Package timeline enumerates snapshot refs and decorates them with their
// metadata notes.
package timeline

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/git"
	"github.com/pders01/git-rewind/internal/models"
)

// Index reads snapshots stored under one ref namespace.
type Index struct {
	repo      *git.Repository
	namespace string
	notesRef  string
}

// New returns an Index. Empty namespace or notesRef fall back to the defaults.
func New(repo *git.Repository, namespace, notesRef string) *Index {
	if namespace == "" {
		namespace = models.DefaultNamespace
	}
	if notesRef == "" {
		notesRef = models.DefaultNotesRef
	}
	return &Index{
		repo:      repo,
		namespace: strings.TrimSuffix(namespace, "/"),
		notesRef:  notesRef,
	}
}

// Namespace is the ref prefix snapshots live under.
func (x *Index) Namespace() string { return x.namespace }

// NotesRef holds snapshot metadata.
func (x *Index) NotesRef() string { return x.notesRef }

// Filter narrows a listing.
type Filter struct {
	Since   time.Time
	Session string
}

// List returns the snapshots of one line of work, newest first, numbered
// from 1. Order comes from the ref suffix rather than commit dates, which
// only have second resolution.
func (x *Index) List(ctx context.Context, lineOfWork string) ([]models.SnapshotInfo, error) {
	infos, err := x.refs(ctx, models.LinePrefix(x.namespace, lineOfWork), lineOfWork)
	if err != nil {
		return nil, err
	}
	if err := x.decorate(ctx, infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// ListAll returns snapshots of every line of work, newest first.
func (x *Index) ListAll(ctx context.Context) ([]models.SnapshotInfo, error) {
	infos, err := x.refs(ctx, x.namespace+"/", "")
	if err != nil {
		return nil, err
	}
	if err := x.decorate(ctx, infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Latest returns the newest snapshot of a line without reading notes, or
// nil when the line has none.
func (x *Index) Latest(ctx context.Context, lineOfWork string) (*models.SnapshotInfo, error) {
	infos, err := x.refs(ctx, models.LinePrefix(x.namespace, lineOfWork), lineOfWork)
	if err != nil || len(infos) == 0 {
		return nil, err
	}
	return &infos[0], nil
}

// refs enumerates refs under prefix. When line is set only direct children
// are kept, so "a" does not pick up the snapshots of "a/b".
func (x *Index) refs(ctx context.Context, prefix, line string) ([]models.SnapshotInfo, error) {
	records, err := x.repo.RefsUnder(ctx, prefix)
	if err != nil {
		return nil, err
	}

	infos := make([]models.SnapshotInfo, 0, len(records))
	for _, rec := range records {
		ref, err := models.ParseRef(x.namespace, rec.Name)
		if err != nil {
			log.WithField("ref", rec.Name).Warn("ignoring malformed snapshot ref")
			continue
		}
		if line != "" && ref.LineOfWork != line {
			continue
		}
		created, _ := models.SuffixTime(ref.Suffix)
		infos = append(infos, models.SnapshotInfo{
			Ref:       rec.Name,
			Line:      ref.LineOfWork,
			Suffix:    ref.Suffix,
			ID:        rec.ID,
			Tree:      rec.Tree,
			Parent:    rec.Parent,
			CreatedAt: created,
			Message:   strings.TrimPrefix(rec.Subject, "rewind: "),
		})
	}

	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Suffix > infos[j].Suffix })
	for i := range infos {
		infos[i].Ordinal = i + 1
	}
	return infos, nil
}

func (x *Index) decorate(ctx context.Context, infos []models.SnapshotInfo) error {
	if len(infos) == 0 {
		return nil
	}
	notes, err := x.repo.Notes(ctx, x.notesRef)
	if err != nil {
		return err
	}
	for i := range infos {
		data, ok := notes[infos[i].ID]
		if !ok {
			continue
		}
		var meta models.Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			log.WithField("ref", infos[i].Ref).Warn("ignoring unreadable snapshot metadata")
			continue
		}
		infos[i].Metadata = &meta
	}
	return nil
}

// Detail adds per-file change stats against the current HEAD. It is only
// computed on request so bulk listing stays cheap.
func (x *Index) Detail(ctx context.Context, info models.SnapshotInfo) (models.SnapshotInfo, error) {
	base, err := x.repo.HeadCommit(ctx)
	if err != nil {
		return info, err
	}
	if base == "" {
		if base, err = x.repo.EmptyTree(ctx); err != nil {
			return info, err
		}
	}

	stats, err := x.repo.DiffNumstat(ctx, base, info.ID)
	if err != nil {
		return info, err
	}
	info.Changes = stats

	if info.Metadata == nil {
		data, err := x.repo.ShowNote(ctx, x.notesRef, info.ID)
		if err != nil {
			return info, err
		}
		if data != nil {
			var meta models.Metadata
			if json.Unmarshal(data, &meta) == nil {
				info.Metadata = &meta
			}
		}
	}
	return info, nil
}

// Resolve turns a user supplied target into a snapshot of lineOfWork. A
// target may be a 1-based ordinal, a full ref name, a ref suffix, or an
// abbreviated commit id that is unique among the line's snapshots.
func (x *Index) Resolve(ctx context.Context, lineOfWork, target string) (models.SnapshotInfo, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return models.SnapshotInfo{}, errors.Wrap(models.ErrInvalidTarget, "empty target")
	}

	infos, err := x.List(ctx, lineOfWork)
	if err != nil {
		return models.SnapshotInfo{}, err
	}

	n, numErr := strconv.Atoi(target)
	if numErr == nil {
		if n >= 1 && n <= len(infos) {
			return infos[n-1], nil
		}
		// long digit strings may still be an abbreviated id
		if !git.IsHexPrefix(target) {
			return models.SnapshotInfo{}, outOfRange(n, len(infos))
		}
	}

	for _, info := range infos {
		if info.Ref == target || info.Suffix == strings.ToUpper(target) {
			return info, nil
		}
	}

	if git.IsHexPrefix(target) {
		prefix := strings.ToLower(target)
		var found []models.SnapshotInfo
		for _, info := range infos {
			if strings.HasPrefix(info.ID, prefix) {
				found = append(found, info)
			}
		}
		switch len(found) {
		case 1:
			return found[0], nil
		case 0:
		default:
			return models.SnapshotInfo{}, errors.Wrapf(models.ErrInvalidTarget,
				"id prefix %s is ambiguous (%d snapshots)", target, len(found))
		}
	}

	if numErr == nil {
		return models.SnapshotInfo{}, outOfRange(n, len(infos))
	}
	return models.SnapshotInfo{}, errors.Wrapf(models.ErrInvalidTarget, "no snapshot matches %q", target)
}

func outOfRange(n, count int) error {
	if count == 0 {
		return errors.Wrapf(models.ErrInvalidTarget, "ordinal %d out of range (no snapshots)", n)
	}
	return errors.Wrapf(models.ErrInvalidTarget, "ordinal %d out of range (1-%d)", n, count)
}

// Apply keeps the snapshots matching f, preserving order and ordinals.
func (f Filter) Apply(infos []models.SnapshotInfo) []models.SnapshotInfo {
	if f.Since.IsZero() && f.Session == "" {
		return infos
	}
	var out []models.SnapshotInfo
	for _, info := range infos {
		if !f.Since.IsZero() && info.CreatedAt.Before(f.Since) {
			continue
		}
		if f.Session != "" && (info.Metadata == nil || info.Metadata.SessionID != f.Session) {
			continue
		}
		out = append(out, info)
	}
	return out
}
