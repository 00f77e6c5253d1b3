package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TempGitRepo creates a temporary git repository for testing
type TempGitRepo struct {
	Path string
	T    *testing.T
}

// NewTempGitRepo creates a new temporary git repository with one commit on main.
// The directory is removed automatically when the test ends.
func NewTempGitRepo(t *testing.T) *TempGitRepo {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "rewind-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	// macOS hands out /var paths that resolve to /private/var
	if resolved, err := filepath.EvalSymlinks(tmpDir); err == nil {
		tmpDir = resolved
	}

	r := &TempGitRepo{Path: tmpDir, T: t}
	t.Cleanup(r.Cleanup)

	r.Git("init", "-q", "-b", "main")
	r.Git("config", "user.name", "Test User")
	r.Git("config", "user.email", "test@example.com")
	r.Git("config", "commit.gpgsign", "false")

	r.CreateFile("README.md", "# Test Repository\n")
	r.Commit("Initial commit")

	return r
}

// Cleanup removes the temporary git repository
func (r *TempGitRepo) Cleanup() {
	if err := os.RemoveAll(r.Path); err != nil {
		r.T.Errorf("failed to cleanup temp repo: %v", err)
	}
}

// Git runs a git command in the repository and returns trimmed stdout
func (r *TempGitRepo) Git(args ...string) string {
	r.T.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = r.Path
	output, err := cmd.CombinedOutput()
	if err != nil {
		r.T.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

// CreateFile creates a file in the repository
func (r *TempGitRepo) CreateFile(name, content string) {
	r.T.Helper()
	path := filepath.Join(r.Path, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.T.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		r.T.Fatalf("failed to create file: %v", err)
	}
}

// RemoveFile deletes a file from the work tree
func (r *TempGitRepo) RemoveFile(name string) {
	r.T.Helper()
	if err := os.Remove(filepath.Join(r.Path, name)); err != nil {
		r.T.Fatalf("failed to remove file: %v", err)
	}
}

// ReadFile returns the work tree content of name
func (r *TempGitRepo) ReadFile(name string) string {
	r.T.Helper()
	data, err := os.ReadFile(filepath.Join(r.Path, name))
	if err != nil {
		r.T.Fatalf("failed to read file: %v", err)
	}
	return string(data)
}

// FileExistsOnDisk checks the work tree, not a revision
func (r *TempGitRepo) FileExistsOnDisk(name string) bool {
	_, err := os.Lstat(filepath.Join(r.Path, name))
	return err == nil
}

// Commit stages and commits all changes
func (r *TempGitRepo) Commit(message string) {
	r.T.Helper()
	r.Git("add", "-A")
	r.Git("commit", "-q", "-m", message)
}

// Refs returns all refs under prefix
func (r *TempGitRepo) Refs(prefix string) []string {
	r.T.Helper()
	return parseLines(r.Git("for-each-ref", "--format=%(refname)", prefix))
}

// BranchExists checks if a branch exists
func (r *TempGitRepo) BranchExists(branch string) bool {
	r.T.Helper()

	cmd := exec.Command("git", "rev-parse", "--verify", "refs/heads/"+branch)
	cmd.Dir = r.Path
	return cmd.Run() == nil
}

// FileExists checks if a file exists in a revision
func (r *TempGitRepo) FileExists(rev, file string) bool {
	r.T.Helper()

	cmd := exec.Command("git", "ls-tree", "-r", "--name-only", rev)
	cmd.Dir = r.Path
	output, err := cmd.Output()
	if err != nil {
		return false
	}

	for _, line := range parseLines(string(output)) {
		if line == file {
			return true
		}
	}

	return false
}

// GetFileContent retrieves file content from a revision
func (r *TempGitRepo) GetFileContent(rev, file string) string {
	r.T.Helper()

	cmd := exec.Command("git", "show", rev+":"+file)
	cmd.Dir = r.Path
	output, err := cmd.Output()
	if err != nil {
		r.T.Fatalf("failed to read %s from %s: %v", file, rev, err)
	}

	return string(output)
}

// IndexLockPath is where git keeps its index lock marker
func (r *TempGitRepo) IndexLockPath() string {
	return filepath.Join(r.Path, ".git", "index.lock")
}

// LockIndex simulates another git process holding the index
func (r *TempGitRepo) LockIndex() {
	r.T.Helper()
	if err := os.WriteFile(r.IndexLockPath(), nil, 0644); err != nil {
		r.T.Fatalf("failed to create index.lock: %v", err)
	}
}

// UnlockIndex removes the simulated index lock
func (r *TempGitRepo) UnlockIndex() {
	r.T.Helper()
	if err := os.Remove(r.IndexLockPath()); err != nil && !os.IsNotExist(err) {
		r.T.Fatalf("failed to remove index.lock: %v", err)
	}
}

// IndexChecksum fingerprints .git/index so tests can prove it was untouched
func (r *TempGitRepo) IndexChecksum() string {
	r.T.Helper()
	info, err := os.Stat(filepath.Join(r.Path, ".git", "index"))
	if err != nil {
		r.T.Fatalf("failed to stat index: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(r.Path, ".git", "index"))
	if err != nil {
		r.T.Fatalf("failed to read index: %v", err)
	}
	return info.ModTime().String() + ":" + string(data)
}

// parseLines splits output into non-empty trimmed lines
func parseLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
