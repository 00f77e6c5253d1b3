package snapshot

import (
	"context"
	"sort"
	"strings"

	"github.com/pders01/git-rewind/internal/git"
)

// treeNode is one directory of the tree being assembled.
type treeNode struct {
	blobs map[string]git.TreeEntry
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{
		blobs: make(map[string]git.TreeEntry),
		dirs:  make(map[string]*treeNode),
	}
}

func (n *treeNode) insert(p, mode, id string) {
	parts := strings.Split(p, "/")
	cur := n
	for _, dir := range parts[:len(parts)-1] {
		child, ok := cur.dirs[dir]
		if !ok {
			child = newTreeNode()
			cur.dirs[dir] = child
		}
		cur = child
	}
	name := parts[len(parts)-1]
	typ := "blob"
	if mode == git.ModeSubmodule {
		typ = "commit"
	}
	cur.blobs[name] = git.TreeEntry{Mode: mode, Type: typ, ID: id, Path: name}
}

// write stores the subtree bottom-up and returns the root tree id.
func (n *treeNode) write(ctx context.Context, repo *git.Repository) (string, error) {
	entries := make([]git.TreeEntry, 0, len(n.blobs)+len(n.dirs))
	for name, child := range n.dirs {
		id, err := child.write(ctx, repo)
		if err != nil {
			return "", err
		}
		entries = append(entries, git.TreeEntry{Mode: git.ModeTree, Type: "tree", ID: id, Path: name})
	}
	for _, e := range n.blobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return repo.MkTree(ctx, entries)
}

// buildTree assembles (mode, id, path) triples into a tree object.
func buildTree(ctx context.Context, repo *git.Repository, files []workFile, ids map[string]string) (string, int, error) {
	root := newTreeNode()
	count := 0
	for _, f := range files {
		id, ok := ids[f.Path]
		if !ok {
			continue
		}
		root.insert(f.Path, f.Mode, id)
		count++
	}
	tree, err := root.write(ctx, repo)
	return tree, count, err
}
