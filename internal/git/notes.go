package git

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrNoteExists is returned when an object already carries a note.
var ErrNoteExists = errors.New("note already exists")

// noteRetry bounds how long AddNote keeps retrying a contended notes ref.
func noteRetry(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithContext(b, ctx)
}

// AddNote attaches data to id under notesRef. Notes are never overwritten.
// Concurrent writers race on the notes ref itself, so a lock failure there is
// retried with a short backoff; anything else is permanent.
func (r *Repository) AddNote(ctx context.Context, notesRef, id string, data []byte) error {
	op := func() error {
		cmd := r.withIdentity(ctx, r.Command(ctx, "notes", "--ref="+notesRef, "add", "-F", "-", id))
		_, err := r.RunCmd(withInput(cmd, data))
		if err == nil {
			return nil
		}

		var cerr *CommandError
		if errors.As(err, &cerr) {
			if strings.Contains(cerr.Stderr, "existing notes") {
				return backoff.Permanent(errors.Wrapf(ErrNoteExists, "%s", id))
			}
			if strings.Contains(cerr.Stderr, "cannot lock ref") || strings.Contains(cerr.Stderr, "Unable to create") {
				log.WithFields(log.Fields{
					"ref":    notesRef,
					"object": id,
				}).Debug("notes ref contended, retrying")
				return err
			}
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, noteRetry(ctx)); err != nil {
		return errors.Wrapf(err, "failed to attach note to %s", id)
	}
	return nil
}

// Notes maps annotated object ids to note contents for every note under notesRef.
func (r *Repository) Notes(ctx context.Context, notesRef string) (map[string][]byte, error) {
	if _, err := r.Run(ctx, "rev-parse", "-q", "--verify", notesRef); err != nil {
		// no notes written yet
		return map[string][]byte{}, nil
	}

	out, err := r.Run(ctx, "notes", "--ref="+notesRef, "list")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notes")
	}

	blobFor := make(map[string]string)
	var blobs []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		blobFor[fields[1]] = fields[0]
		blobs = append(blobs, fields[0])
	}

	contents, err := r.CatBlobs(ctx, blobs)
	if err != nil {
		return nil, err
	}

	notes := make(map[string][]byte, len(blobFor))
	for object, blob := range blobFor {
		if data, ok := contents[blob]; ok {
			notes[object] = data
		}
	}
	return notes, nil
}

// ShowNote returns the note attached to id, or nil when there is none.
func (r *Repository) ShowNote(ctx context.Context, notesRef, id string) ([]byte, error) {
	out, err := r.Run(ctx, "notes", "--ref="+notesRef, "show", id)
	if err != nil {
		if ExitCode(err) == 1 {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read note for %s", id)
	}
	return []byte(out), nil
}

// RemoveNotes drops the notes of the given objects, ignoring missing ones.
func (r *Repository) RemoveNotes(ctx context.Context, notesRef string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]string{"notes", "--ref=" + notesRef, "remove", "--ignore-missing"}, ids...)
	op := func() error {
		_, err := r.RunCmd(r.withIdentity(ctx, r.Command(ctx, args...)))
		return err
	}
	if err := backoff.Retry(op, noteRetry(ctx)); err != nil {
		return errors.Wrap(err, "failed to remove notes")
	}
	return nil
}
