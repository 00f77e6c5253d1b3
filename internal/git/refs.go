package git

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pders01/git-rewind/internal/models"
)

// RefRecord is one for-each-ref row describing a commit ref.
type RefRecord struct {
	Name      string
	ID        string
	Tree      string
	Parent    string
	Committed time.Time
	Subject   string
}

const refFormat = "%(refname)%00%(objectname)%00%(tree)%00%(parent)%00%(committerdate:unix)%00%(subject)"

// RefsUnder lists commit refs whose names start with prefix.
func (r *Repository) RefsUnder(ctx context.Context, prefix string) ([]RefRecord, error) {
	out, err := r.Run(ctx, "for-each-ref", "--format="+refFormat, prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list refs under %s", prefix)
	}

	var records []RefRecord
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\x00", 6)
		if len(fields) != 6 {
			return nil, errors.Errorf("unexpected for-each-ref line %q", line)
		}
		rec := RefRecord{
			Name:    fields[0],
			ID:      fields[1],
			Tree:    fields[2],
			Parent:  fields[3],
			Subject: fields[5],
		}
		// merge commits are never created here, keep only the first parent
		if i := strings.IndexByte(rec.Parent, ' '); i >= 0 {
			rec.Parent = rec.Parent[:i]
		}
		if secs, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
			rec.Committed = time.Unix(secs, 0)
		}
		records = append(records, rec)
	}
	return records, nil
}

// CreateRef points a new ref at id. It fails with ErrReferenceConflict if the
// ref already exists, it never overwrites.
func (r *Repository) CreateRef(ctx context.Context, name, id string) error {
	zero := strings.Repeat("0", len(id))
	_, err := r.Run(ctx, "update-ref", "-m", "rewind: snapshot", name, id, zero)
	if err != nil {
		var cerr *CommandError
		if errors.As(err, &cerr) && strings.Contains(cerr.Stderr, "already exists") {
			return errors.Wrapf(models.ErrReferenceConflict, "%s", name)
		}
		return errors.Wrapf(err, "failed to create ref %s", name)
	}
	return nil
}

// DeleteRef deletes name only if it still points at expected.
func (r *Repository) DeleteRef(ctx context.Context, name, expected string) error {
	args := []string{"update-ref", "-d", name}
	if expected != "" {
		args = append(args, expected)
	}
	if _, err := r.Run(ctx, args...); err != nil {
		return errors.Wrapf(err, "failed to delete ref %s", name)
	}
	return nil
}
