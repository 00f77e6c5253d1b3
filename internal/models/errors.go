package models

import "github.com/pkg/errors"

// Error taxonomy shared by the engine packages. Callers match with errors.Is.
var (
	// ErrContention means the shared index is held by another git process.
	// It is expected and leads to deferral, never to a user-visible failure.
	ErrContention = errors.New("git index is locked by another process")

	// ErrNotRepository is returned when the workspace is not inside a git work tree.
	ErrNotRepository = errors.New("not a git repository")

	// ErrReferenceConflict means a snapshot ref name already existed. Names are
	// unique by construction, so seeing this is a bug.
	ErrReferenceConflict = errors.New("snapshot reference already exists")

	// ErrSnapshotMoved means a snapshot ref no longer points where it did
	// when it was listed, so it was kept rather than deleted.
	ErrSnapshotMoved = errors.New("snapshot reference moved since it was listed")

	// ErrInvalidTarget is returned when a travel/show/delete target does not
	// resolve to a snapshot.
	ErrInvalidTarget = errors.New("invalid snapshot target")

	// ErrQueueCorruption marks a malformed record in the deferred queue log.
	ErrQueueCorruption = errors.New("malformed queue record")

	// ErrDrainInProgress means another process holds a fresh drain lock.
	ErrDrainInProgress = errors.New("queue drain already in progress")
)
