package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pders01/git-rewind/internal/git"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/testutil"
	"github.com/pders01/git-rewind/internal/timeline"
)

func newWriter(t *testing.T) (*testutil.TempGitRepo, *Writer) {
	t.Helper()
	tmp := testutil.NewTempGitRepo(t)
	repo, err := git.Open(tmp.Path)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	return tmp, NewWriter(repo, timeline.New(repo, "", ""))
}

func capture(t *testing.T, w *Writer, req Request) Result {
	t.Helper()
	res, err := w.Capture(context.Background(), req)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	return res
}

func changedPaths(tmp *testutil.TempGitRepo, from, to string) []string {
	out := tmp.Git("diff", "--name-only", from, to)
	if out == "" {
		return nil
	}
	paths := strings.Split(out, "\n")
	sort.Strings(paths)
	return paths
}

func TestCaptureChangedFile(t *testing.T) {
	tmp, w := newWriter(t)
	head := tmp.Git("rev-parse", "HEAD")
	tmp.CreateFile("README.md", "# Changed\n")

	res := capture(t, w, Request{Message: "edit readme"})
	if res.NoOp {
		t.Fatal("expected a snapshot, got no-op")
	}

	refs := tmp.Refs("refs/rewind/")
	if len(refs) != 1 || refs[0] != res.Ref.Name {
		t.Fatalf("expected exactly ref %s, got %v", res.Ref.Name, refs)
	}
	if !strings.HasPrefix(res.Ref.Name, "refs/rewind/main/") {
		t.Errorf("ref not scoped to line of work: %s", res.Ref.Name)
	}
	if parent := tmp.Git("rev-parse", res.ID+"^"); parent != head {
		t.Errorf("expected parent %s, got %s", head, parent)
	}
	if got := changedPaths(tmp, head, res.ID); len(got) != 1 || got[0] != "README.md" {
		t.Errorf("expected only README.md to differ, got %v", got)
	}
	if got := tmp.GetFileContent(res.ID, "README.md"); got != "# Changed\n" {
		t.Errorf("unexpected snapshot content %q", got)
	}
	if subject := tmp.Git("log", "-1", "--format=%s", res.ID); subject != "rewind: edit readme" {
		t.Errorf("unexpected subject %q", subject)
	}
}

func TestCaptureCleanWorkspaceIsNoOp(t *testing.T) {
	tmp, w := newWriter(t)

	res := capture(t, w, Request{})
	if !res.NoOp {
		t.Fatal("expected no-op on clean workspace")
	}
	if refs := tmp.Refs("refs/rewind/"); len(refs) != 0 {
		t.Errorf("no-op must not create refs, got %v", refs)
	}
	if res.Tree != tmp.Git("rev-parse", "HEAD^{tree}") {
		t.Error("no-op result should still report the computed tree")
	}
}

func TestCaptureRepeatedIsNoOpUnlessForced(t *testing.T) {
	tmp, w := newWriter(t)
	tmp.CreateFile("a.txt", "v2")

	first := capture(t, w, Request{})
	second := capture(t, w, Request{})
	if first.NoOp || !second.NoOp {
		t.Fatalf("expected capture then no-op, got %v then %v", first.NoOp, second.NoOp)
	}

	forced := capture(t, w, Request{Force: true})
	if forced.NoOp {
		t.Fatal("forced capture should not dedupe against the newest snapshot")
	}
	if forced.Tree != first.Tree || forced.ID == first.ID {
		t.Error("forced capture should have the same tree but a distinct commit")
	}
	if refs := tmp.Refs("refs/rewind/"); len(refs) != 2 {
		t.Errorf("expected 2 refs, got %v", refs)
	}
}

func TestCaptureRespectsIgnoreRules(t *testing.T) {
	tmp, w := newWriter(t)
	tmp.CreateFile(".gitignore", "*.log\nbuild/\n")
	tmp.CreateFile("tracked.log", "tracked despite pattern")
	tmp.Git("add", "-f", "tracked.log", ".gitignore")
	tmp.Git("commit", "-q", "-m", "tracked log")

	tmp.CreateFile("tracked.log", "changed")
	tmp.CreateFile("debug.log", "noise")
	tmp.CreateFile("build/out.bin", "artifact")
	tmp.CreateFile("src/new.go", "package src\n")

	res := capture(t, w, Request{})
	if res.NoOp {
		t.Fatal("expected a snapshot")
	}
	if !tmp.FileExists(res.ID, "tracked.log") {
		t.Error("tracked file matching an ignore rule must be captured")
	}
	if !tmp.FileExists(res.ID, "src/new.go") {
		t.Error("untracked file must be captured")
	}
	if tmp.FileExists(res.ID, "debug.log") || tmp.FileExists(res.ID, "build/out.bin") {
		t.Error("ignored files must not be captured")
	}
}

func TestCaptureDeletedFileAndModes(t *testing.T) {
	tmp, w := newWriter(t)
	tmp.CreateFile("gone.txt", "bye")
	tmp.Commit("add gone")
	tmp.RemoveFile("gone.txt")

	tmp.CreateFile("run.sh", "#!/bin/sh\n")
	if err := os.Chmod(filepath.Join(tmp.Path, "run.sh"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("README.md", filepath.Join(tmp.Path, "link")); err != nil {
		t.Fatal(err)
	}

	res := capture(t, w, Request{})
	if tmp.FileExists(res.ID, "gone.txt") {
		t.Error("deleted file should be absent from the snapshot")
	}

	modes := map[string]string{}
	for _, line := range strings.Split(tmp.Git("ls-tree", "-r", res.ID), "\n") {
		fields := strings.Fields(line)
		modes[fields[3]] = fields[0]
	}
	if modes["run.sh"] != git.ModeExecutable {
		t.Errorf("expected executable mode, got %s", modes["run.sh"])
	}
	if modes["link"] != git.ModeSymlink {
		t.Errorf("expected symlink mode, got %s", modes["link"])
	}
	if got := tmp.GetFileContent(res.ID, "link"); got != "README.md" {
		t.Errorf("symlink blob should hold the target, got %q", got)
	}
}

func TestCaptureNeverTouchesIndex(t *testing.T) {
	tmp, w := newWriter(t)
	tmp.CreateFile("a.txt", "change")
	before := tmp.IndexChecksum()

	tmp.LockIndex()
	defer tmp.UnlockIndex()

	res := capture(t, w, Request{})
	if res.NoOp {
		t.Fatal("expected a snapshot while index.lock is held")
	}
	if after := tmp.IndexChecksum(); after != before {
		t.Error("capture modified .git/index")
	}
}

func TestCaptureAttachesMetadataOnce(t *testing.T) {
	tmp, w := newWriter(t)
	tmp.CreateFile("a.txt", "x")

	res := capture(t, w, Request{
		Message:  "hook save",
		Metadata: models.Metadata{SessionID: "sess-1", Tool: "Edit", File: "a.txt", Trigger: models.TriggerHook},
	})

	raw := tmp.Git("notes", "--ref="+models.DefaultNotesRef, "show", res.ID)
	var meta models.Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		t.Fatalf("note is not JSON: %v", err)
	}
	if meta.SessionID != "sess-1" || meta.Tool != "Edit" || meta.File != "a.txt" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.LineOfWork != "main" || meta.Workspace != tmp.Path || meta.Message != "hook save" {
		t.Errorf("writer-filled fields wrong: %+v", meta)
	}
}

func TestConcurrentCapturesSameInstant(t *testing.T) {
	tmp, w := newWriter(t)
	tmp.CreateFile("a.txt", "shared state")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = w.Capture(context.Background(), Request{Force: true})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("capture %d failed: %v", i, err)
		}
	}
	if results[0].Ref.Name == results[1].Ref.Name {
		t.Fatalf("concurrent captures collided on %s", results[0].Ref.Name)
	}
	if results[0].ID == results[1].ID {
		t.Error("concurrent captures should produce distinct commits")
	}
	if refs := tmp.Refs("refs/rewind/"); len(refs) != 2 {
		t.Errorf("expected 2 refs, got %v", refs)
	}
}

func TestCaptureOnUnbornBranch(t *testing.T) {
	tmp, w := newWriter(t)
	tmp.Git("checkout", "-q", "--orphan", "fresh")
	tmp.Git("rm", "-q", "-r", "--cached", ".")
	tmp.CreateFile("first.txt", "hello")

	res := capture(t, w, Request{})
	if res.NoOp || res.Parent != "" {
		t.Fatalf("expected a root snapshot, got %+v", res)
	}
	if !strings.HasPrefix(res.Ref.Name, "refs/rewind/fresh/") {
		t.Errorf("unexpected ref %s", res.Ref.Name)
	}
}

func addSubmodule(t *testing.T, tmp *testutil.TempGitRepo) {
	t.Helper()
	tmp.CreateFile("sub/lib.txt", "lib\n")
	tmp.Git("-C", "sub", "init", "-q", "-b", "main")
	commitSub(tmp, "lib")
	tmp.Commit("add submodule")
	if entry := tmp.Git("ls-tree", "HEAD", "sub"); !strings.HasPrefix(entry, git.ModeSubmodule+" commit ") {
		t.Fatalf("expected sub recorded as a gitlink, got %q", entry)
	}
}

func commitSub(tmp *testutil.TempGitRepo, message string) {
	tmp.Git("-C", "sub", "add", "-A")
	tmp.Git("-C", "sub", "-c", "user.name=Test User", "-c", "user.email=test@example.com",
		"-c", "commit.gpgsign=false", "commit", "-q", "-m", message)
}

func TestCaptureCleanWorkspaceWithSubmoduleIsNoOp(t *testing.T) {
	tmp, w := newWriter(t)
	addSubmodule(t, tmp)
	if status := tmp.Git("status", "--porcelain"); status != "" {
		t.Fatalf("expected a clean work tree, got:\n%s", status)
	}

	res := capture(t, w, Request{})
	if !res.NoOp {
		t.Fatalf("clean work tree with a submodule must be a no-op, got %s", res.Ref.Name)
	}
	if refs := tmp.Refs("refs/rewind/"); len(refs) != 0 {
		t.Errorf("expected no refs, got %v", refs)
	}
}

func TestCaptureKeepsSubmoduleGitlink(t *testing.T) {
	tmp, w := newWriter(t)
	addSubmodule(t, tmp)
	head := tmp.Git("rev-parse", "HEAD")
	recorded := tmp.Git("rev-parse", "HEAD:sub")

	tmp.CreateFile("top.txt", "x")
	res := capture(t, w, Request{})
	if got := changedPaths(tmp, head, res.ID); len(got) != 1 || got[0] != "top.txt" {
		t.Errorf("expected only top.txt to differ, got %v", got)
	}
	if got := tmp.Git("rev-parse", res.ID+":sub"); got != recorded {
		t.Errorf("gitlink should stay at %s, got %s", recorded, got)
	}

	tmp.CreateFile("sub/lib.txt", "lib v2\n")
	commitSub(tmp, "lib v2")
	moved := tmp.Git("-C", "sub", "rev-parse", "HEAD")
	res = capture(t, w, Request{})
	if got := tmp.Git("rev-parse", res.ID+":sub"); got != moved {
		t.Errorf("gitlink should follow the submodule checkout to %s, got %s", moved, got)
	}
	if tmp.FileExists(res.ID, "sub/lib.txt") {
		t.Error("submodule contents must not be captured as blobs")
	}
}

func TestCaptureSkipsNestedRepository(t *testing.T) {
	tmp, w := newWriter(t)
	tmp.CreateFile("vendor/lib/.git/HEAD", "ref: refs/heads/main\n")
	tmp.CreateFile("vendor/lib/code.go", "package lib\n")
	tmp.CreateFile("top.txt", "x")

	res := capture(t, w, Request{})
	if tmp.FileExists(res.ID, "vendor/lib/code.go") {
		t.Error("nested repository contents must not be captured")
	}
	if !tmp.FileExists(res.ID, "top.txt") {
		t.Error("top.txt missing")
	}
}
