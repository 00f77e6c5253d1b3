package snapshot

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/git"
)

// workFile is one path that will become a tree entry.
type workFile struct {
	Path string // slash separated, relative to the work tree root
	Mode string
	ID   string // commit of a submodule; blobs are hashed later
}

// enumerate walks the work tree breadth first, one directory level at a time,
// and returns every file that is tracked at head or not ignored. Each level is
// filtered with a single check-ignore call so ignored directories are never
// descended into. Submodules recorded at head become gitlink entries; other
// nested repositories are skipped.
func enumerate(ctx context.Context, repo *git.Repository, tracked map[string]bool, gitlinks map[string]string) ([]workFile, error) {
	trackedDirs := make(map[string]bool)
	for p := range tracked {
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			trackedDirs[dir] = true
		}
	}

	root := repo.Dir()
	var files []workFile
	level := []string{""}

	for len(level) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		type candidate struct {
			rel   string
			isDir bool
			mode  string
		}
		var candidates []candidate
		var names []string

		for _, dir := range level {
			entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(dir)))
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, err
			}
			for _, e := range entries {
				if e.Name() == ".git" {
					continue
				}
				rel := e.Name()
				if dir != "" {
					rel = dir + "/" + e.Name()
				}

				c := candidate{rel: rel}
				switch t := e.Type(); {
				case t.IsDir():
					if recorded, ok := gitlinks[rel]; ok {
						files = append(files, gitlinkEntry(ctx, repo, rel, recorded))
						continue
					}
					if isNestedRepo(filepath.Join(root, filepath.FromSlash(rel))) {
						log.WithField("path", rel).Debug("skipping nested repository")
						continue
					}
					c.isDir = true
				case t&fs.ModeSymlink != 0:
					c.mode = git.ModeSymlink
				case t.IsRegular():
					info, err := e.Info()
					if err != nil {
						// removed between ReadDir and now
						continue
					}
					c.mode = git.ModeFile
					if info.Mode().Perm()&0111 != 0 {
						c.mode = git.ModeExecutable
					}
				default:
					continue
				}
				candidates = append(candidates, c)
				names = append(names, rel)
			}
		}

		ignored, err := repo.CheckIgnore(ctx, names)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, c := range candidates {
			if c.isDir {
				if !ignored[c.rel] || trackedDirs[c.rel] {
					next = append(next, c.rel)
				}
				continue
			}
			if ignored[c.rel] && !tracked[c.rel] {
				continue
			}
			files = append(files, workFile{Path: c.rel, Mode: c.mode})
		}
		sort.Strings(next)
		level = next
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// gitlinkEntry records the submodule at rel on the commit its checkout is
// at. An uninitialised submodule keeps the commit recorded at head.
func gitlinkEntry(ctx context.Context, repo *git.Repository, rel, recorded string) workFile {
	wf := workFile{Path: rel, Mode: git.ModeSubmodule, ID: recorded}
	if !isNestedRepo(filepath.Join(repo.Dir(), filepath.FromSlash(rel))) {
		return wf
	}
	id, err := repo.SubmoduleHead(ctx, rel)
	if err != nil {
		log.WithFields(log.Fields{"path": rel, "err": err}).Debug("cannot read submodule HEAD, keeping recorded commit")
		return wf
	}
	if id != "" {
		wf.ID = id
	}
	return wf
}

func isNestedRepo(dir string) bool {
	_, err := os.Lstat(filepath.Join(dir, ".git"))
	return err == nil
}

// hashFiles writes a blob for every work file and returns the ids by path.
// Submodules carry their commit id through unchanged.
// Regular files go through one batched hash-object; symlinks hash their
// target. If the batch fails, typically because an editor removed a temp
// file mid-walk, files are hashed one by one and vanished ones are skipped.
func hashFiles(ctx context.Context, repo *git.Repository, files []workFile) (map[string]string, error) {
	ids := make(map[string]string, len(files))
	root := repo.Dir()

	var regular []string
	for _, f := range files {
		if f.Mode == git.ModeSubmodule {
			ids[f.Path] = f.ID
			continue
		}
		if f.Mode != git.ModeSymlink && !strings.Contains(f.Path, "\n") {
			regular = append(regular, f.Path)
			continue
		}
		data, err := readForHash(root, f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		id, err := repo.HashBlob(ctx, data)
		if err != nil {
			return nil, err
		}
		ids[f.Path] = id
	}

	batch, err := repo.HashFiles(ctx, regular)
	if err == nil {
		for i, p := range regular {
			ids[p] = batch[i]
		}
		return ids, nil
	}

	log.WithField("err", err).Debug("batched hash failed, hashing files individually")
	for _, p := range regular {
		full := filepath.Join(root, filepath.FromSlash(p))
		if _, statErr := os.Lstat(full); os.IsNotExist(statErr) {
			continue
		}
		one, err := repo.HashFiles(ctx, []string{p})
		if err != nil {
			if _, statErr := os.Lstat(full); os.IsNotExist(statErr) {
				continue
			}
			return nil, err
		}
		ids[p] = one[0]
	}
	return ids, nil
}

func readForHash(root string, f workFile) ([]byte, error) {
	full := filepath.Join(root, filepath.FromSlash(f.Path))
	if f.Mode == git.ModeSymlink {
		target, err := os.Readlink(full)
		if err != nil {
			return nil, err
		}
		return []byte(filepath.ToSlash(target)), nil
	}
	return os.ReadFile(full)
}
