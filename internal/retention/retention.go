// Package retention removes snapshots, either because their line of work no
// longer exists or because the user asked for it.
package retention

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/git"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/timeline"
)

// Manager deletes snapshot refs and their notes in one repository.
type Manager struct {
	repo  *git.Repository
	index *timeline.Index
}

// New returns a Manager.
func New(repo *git.Repository, index *timeline.Index) *Manager {
	return &Manager{repo: repo, index: index}
}

// Report describes a cleanup run.
type Report struct {
	DryRun   bool                  `json:"dry_run"`
	Orphaned []models.SnapshotInfo `json:"orphaned"`
	Deleted  []models.SnapshotInfo `json:"deleted,omitempty"`
	// Failed lists refs that changed or vanished under us and were skipped.
	Failed []string `json:"failed,omitempty"`
	Kept   int      `json:"kept"`
}

// FindOrphaned returns snapshots whose line of work is not an existing local
// branch. Detached HEAD snapshots are never orphaned.
func (m *Manager) FindOrphaned(ctx context.Context) ([]models.SnapshotInfo, error) {
	all, err := m.index.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	branches, err := m.repo.Branches(ctx)
	if err != nil {
		return nil, err
	}
	live := map[string]bool{models.DetachedLineOfWork: true}
	for _, b := range branches {
		live[b] = true
	}

	var orphaned []models.SnapshotInfo
	for _, info := range all {
		if !live[info.Line] {
			orphaned = append(orphaned, info)
		}
	}
	return orphaned, nil
}

// Cleanup reports the orphaned set, and deletes exactly that set when
// confirmed.
func (m *Manager) Cleanup(ctx context.Context, confirmed bool) (Report, error) {
	all, err := m.index.ListAll(ctx)
	if err != nil {
		return Report{}, err
	}
	orphaned, err := m.FindOrphaned(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{DryRun: !confirmed, Orphaned: orphaned, Kept: len(all) - len(orphaned)}
	if !confirmed || len(orphaned) == 0 {
		return report, nil
	}

	report.Deleted, report.Failed, err = m.remove(ctx, orphaned)
	return report, err
}

// Delete removes the snapshots named by targets on lineOfWork. Targets are
// resolved like travel targets, all before anything is deleted, so ordinals
// refer to one consistent listing.
func (m *Manager) Delete(ctx context.Context, lineOfWork string, targets ...string) ([]models.SnapshotInfo, error) {
	var chosen []models.SnapshotInfo
	seen := make(map[string]bool)
	for _, target := range targets {
		info, err := m.index.Resolve(ctx, lineOfWork, target)
		if err != nil {
			return nil, err
		}
		if !seen[info.Ref] {
			seen[info.Ref] = true
			chosen = append(chosen, info)
		}
	}
	return m.removeListed(ctx, chosen)
}

// DeleteAll removes every snapshot of lineOfWork.
func (m *Manager) DeleteAll(ctx context.Context, lineOfWork string) ([]models.SnapshotInfo, error) {
	infos, err := m.index.List(ctx, lineOfWork)
	if err != nil {
		return nil, err
	}
	return m.removeListed(ctx, infos)
}

// removeListed removes snapshots the caller asked for by name. Unlike
// cleanup, a ref that moved since listing is reported as ErrSnapshotMoved
// alongside whatever was deleted.
func (m *Manager) removeListed(ctx context.Context, infos []models.SnapshotInfo) ([]models.SnapshotInfo, error) {
	deleted, failed, err := m.remove(ctx, infos)
	if err != nil {
		return deleted, err
	}
	if len(failed) > 0 {
		return deleted, errors.Wrapf(models.ErrSnapshotMoved, "kept %s", strings.Join(failed, ", "))
	}
	return deleted, nil
}

// remove deletes each ref only if it still points at the listed commit, then
// drops the notes of everything deleted.
func (m *Manager) remove(ctx context.Context, infos []models.SnapshotInfo) (deleted []models.SnapshotInfo, failed []string, err error) {
	var ids []string
	for _, info := range infos {
		if err := m.repo.DeleteRef(ctx, info.Ref, info.ID); err != nil {
			log.WithField("ref", info.Ref).WithError(err).Warn("snapshot ref changed, not deleting")
			failed = append(failed, info.Ref)
			continue
		}
		deleted = append(deleted, info)
		ids = append(ids, info.ID)
	}

	if err := m.repo.RemoveNotes(ctx, m.index.NotesRef(), ids...); err != nil {
		return deleted, failed, err
	}
	if len(deleted) > 0 {
		log.WithField("count", len(deleted)).Info("snapshots deleted")
	}
	return deleted, failed, nil
}
