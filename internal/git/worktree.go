package git

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// restoreBatch bounds how many blobs are held in memory at once.
const restoreBatch = 256

// RestoreTree overwrites work tree files with the contents of tree. Blobs are
// written byte for byte, the same bytes capture hashed, so no eol, filter or
// ident conversion applies. The index is neither read nor written, submodule
// checkouts are left as they are and files absent from tree are left alone.
func (r *Repository) RestoreTree(ctx context.Context, tree string) error {
	entries, err := r.LsTree(ctx, tree)
	if err != nil {
		return err
	}

	var blobs []TreeEntry
	for _, e := range entries {
		if e.Type == "blob" {
			blobs = append(blobs, e)
		}
	}

	for start := 0; start < len(blobs); start += restoreBatch {
		batch := blobs[start:min(start+restoreBatch, len(blobs))]
		seen := make(map[string]bool, len(batch))
		var ids []string
		for _, e := range batch {
			if !seen[e.ID] {
				seen[e.ID] = true
				ids = append(ids, e.ID)
			}
		}
		contents, err := r.CatBlobs(ctx, ids)
		if err != nil {
			return errors.Wrapf(err, "failed to read tree %s", tree)
		}
		for _, e := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, ok := contents[e.ID]
			if !ok {
				return errors.Errorf("blob %s for %s is missing", e.ID, e.Path)
			}
			if err := r.writeEntry(e, data); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repository) writeEntry(e TreeEntry, data []byte) error {
	full := filepath.Join(r.dir, filepath.FromSlash(e.Path))
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", e.Path)
	}
	// an empty directory may sit where the file goes
	if info, err := os.Lstat(full); err == nil && info.IsDir() {
		if err := os.Remove(full); err != nil {
			return errors.Wrapf(err, "cannot replace directory %s with a file", e.Path)
		}
	}

	if e.Mode == ModeSymlink {
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to replace %s", e.Path)
		}
		if err := os.Symlink(filepath.FromSlash(string(data)), full); err != nil {
			return errors.Wrapf(err, "failed to create symlink %s", e.Path)
		}
		return nil
	}

	perm := os.FileMode(0644)
	if e.Mode == ModeExecutable {
		perm = 0755
	}

	// write beside the target and rename so a symlink in the way is replaced,
	// not followed
	tmp, err := os.CreateTemp(dir, ".rewind-restore-*")
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", e.Path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", e.Path)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to set mode of %s", e.Path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to write %s", e.Path)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return errors.Wrapf(err, "failed to write %s", e.Path)
	}
	return nil
}
