package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Tree entry modes understood by mktree.
const (
	ModeFile       = "100644"
	ModeExecutable = "100755"
	ModeSymlink    = "120000"
	ModeTree       = "040000"
	ModeSubmodule  = "160000"
)

// TreeEntry is one (mode, id, path) triple.
type TreeEntry struct {
	Mode string
	Type string
	ID   string
	Path string
}

// HashFiles writes each work tree file as a blob and returns their ids in
// order. Bytes are hashed as-is (--no-filters), straight from the work tree.
func (r *Repository) HashFiles(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	var input bytes.Buffer
	for _, p := range paths {
		if strings.ContainsAny(p, "\n") {
			return nil, errors.Errorf("path contains a newline: %q", p)
		}
		input.WriteString(p)
		input.WriteByte('\n')
	}

	out, err := r.RunInput(ctx, input.Bytes(), "hash-object", "-w", "--no-filters", "--stdin-paths")
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash files")
	}

	ids := strings.Fields(out)
	if len(ids) != len(paths) {
		return nil, errors.Errorf("hash-object returned %d ids for %d paths", len(ids), len(paths))
	}
	return ids, nil
}

// HashBlob writes data as a blob object.
func (r *Repository) HashBlob(ctx context.Context, data []byte) (string, error) {
	cmd := r.Command(ctx, "hash-object", "-w", "--no-filters", "--stdin")
	sha, err := r.RunCmdSha(withInput(cmd, data))
	if err != nil {
		return "", errors.Wrap(err, "failed to hash blob")
	}
	return sha, nil
}

// MkTree writes a single-level tree from explicit entries. Entry paths must
// be plain names without slashes.
func (r *Repository) MkTree(ctx context.Context, entries []TreeEntry) (string, error) {
	var input bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&input, "%s %s %s\t%s\x00", e.Mode, e.Type, e.ID, e.Path)
	}

	sha, err := r.RunCmdSha(withInput(r.Command(ctx, "mktree", "-z"), input.Bytes()))
	if err != nil {
		return "", errors.Wrap(err, "failed to build tree")
	}
	return sha, nil
}

// EmptyTree returns the id of the empty tree for this repository's hash.
func (r *Repository) EmptyTree(ctx context.Context) (string, error) {
	return r.MkTree(ctx, nil)
}

// CommitTree creates a commit for tree with an optional single parent.
func (r *Repository) CommitTree(ctx context.Context, tree, parent, message string) (string, error) {
	args := []string{"commit-tree", tree}
	if parent != "" {
		args = append(args, "-p", parent)
	}
	args = append(args, "-F", "-")

	cmd := r.withIdentity(ctx, r.Command(ctx, args...))
	sha, err := r.RunCmdSha(withInput(cmd, []byte(message)))
	if err != nil {
		return "", errors.Wrap(err, "failed to create commit")
	}
	return sha, nil
}

// LsTree lists every blob reachable from rev, recursively.
func (r *Repository) LsTree(ctx context.Context, rev string) ([]TreeEntry, error) {
	out, err := r.Run(ctx, "ls-tree", "-r", "-z", "--full-tree", rev)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list tree %s", rev)
	}

	var entries []TreeEntry
	for _, rec := range strings.Split(out, "\x00") {
		if rec == "" {
			continue
		}
		tab := strings.IndexByte(rec, '\t')
		if tab < 0 {
			return nil, errors.Errorf("unexpected ls-tree record %q", rec)
		}
		fields := strings.Fields(rec[:tab])
		if len(fields) != 3 {
			return nil, errors.Errorf("unexpected ls-tree record %q", rec)
		}
		entries = append(entries, TreeEntry{
			Mode: fields[0],
			Type: fields[1],
			ID:   fields[2],
			Path: rec[tab+1:],
		})
	}
	return entries, nil
}

// TreePaths returns the set of paths tracked in rev. An empty rev yields an
// empty set.
func (r *Repository) TreePaths(ctx context.Context, rev string) (map[string]bool, error) {
	paths := make(map[string]bool)
	if rev == "" {
		return paths, nil
	}
	entries, err := r.LsTree(ctx, rev)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		paths[e.Path] = true
	}
	return paths, nil
}

// CheckIgnore returns the subset of paths matched by ignore rules. It runs
// with --no-index so the shared index is never consulted.
func (r *Repository) CheckIgnore(ctx context.Context, paths []string) (map[string]bool, error) {
	ignored := make(map[string]bool)
	if len(paths) == 0 {
		return ignored, nil
	}

	var input bytes.Buffer
	for _, p := range paths {
		input.WriteString(p)
		input.WriteByte(0)
	}

	out, err := r.RunInput(ctx, input.Bytes(), "check-ignore", "--no-index", "-z", "--stdin")
	if err != nil {
		// exit 1: nothing is ignored
		if ExitCode(err) == 1 {
			return ignored, nil
		}
		return nil, errors.Wrap(err, "failed to check ignore rules")
	}

	for _, p := range strings.Split(out, "\x00") {
		if p != "" {
			ignored[p] = true
		}
	}
	return ignored, nil
}

// CatBlobs reads several blobs through one cat-file --batch process.
func (r *Repository) CatBlobs(ctx context.Context, ids []string) (map[string][]byte, error) {
	blobs := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return blobs, nil
	}

	input := strings.Join(ids, "\n") + "\n"
	out, err := r.RunInput(ctx, []byte(input), "cat-file", "--batch")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read objects")
	}

	rd := bufio.NewReader(strings.NewReader(out))
	for _, want := range ids {
		header, err := rd.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "truncated cat-file output")
		}
		fields := strings.Fields(header)
		if len(fields) == 2 && fields[1] == "missing" {
			continue
		}
		if len(fields) != 3 {
			return nil, errors.Errorf("unexpected cat-file header %q", header)
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "bad object size in %q", header)
		}
		buf := make([]byte, size+1)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return nil, errors.Wrap(err, "truncated cat-file output")
		}
		blobs[want] = buf[:size]
	}
	return blobs, nil
}

func withInput(cmd *exec.Cmd, input []byte) *exec.Cmd {
	cmd.Stdin = bytes.NewReader(input)
	return cmd
}
