// Package git wraps the git plumbing commands the snapshot engine is built on.
//
// Every mutating operation here writes objects, refs or notes directly. None of
// them read or write the repository index, so they are safe to run while an
// editor or the user holds .git/index.lock.
package git

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/models"
)

const (
	fallbackName  = "rewind"
	fallbackEmail = "rewind@localhost"
)

// Repository is a git work tree rooted at Dir.
type Repository struct {
	dir string

	identityOnce sync.Once
	identityEnv  []string
}

// CommandError carries the stderr and exit status of a failed git invocation.
type CommandError struct {
	Args     []string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return "git " + strings.Join(e.Args, " ") + ": " + msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns the git exit status carried by err, or -1.
func ExitCode(err error) int {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return cerr.ExitCode
	}
	return -1
}

// Open returns the Repository whose work tree contains dir.
func Open(dir string) (*Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", dir)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, errors.Wrapf(models.ErrNotRepository, "%s: %v", abs, err)
	}

	r := &Repository{dir: abs}
	topLevel, err := r.Run(context.Background(), "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, errors.Wrapf(models.ErrNotRepository, "%s", abs)
	}
	r.dir = strings.TrimSpace(topLevel)
	log.WithField("dir", r.dir).Debug("git.Open")
	return r, nil
}

// Dir is the top level of the work tree.
func (r *Repository) Dir() string {
	return r.dir
}

// Command creates an exec.Cmd running git inside the work tree.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	cmd.Env = os.Environ()
	return cmd
}

// Run runs a git command and returns its stdout.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	return r.RunCmd(r.Command(ctx, args...))
}

// RunInput runs a git command with stdin fed from input.
func (r *Repository) RunInput(ctx context.Context, input []byte, args ...string) (string, error) {
	cmd := r.Command(ctx, args...)
	cmd.Stdin = bytes.NewReader(input)
	return r.RunCmd(cmd)
}

// RunCmd runs a command created by Command, returning stdout.
func (r *Repository) RunCmd(cmd *exec.Cmd) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.WithField("args", cmd.Args[1:]).Debug("git.Run")
	err := cmd.Run()
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return stdout.String(), &CommandError{
			Args:     cmd.Args[1:],
			Stderr:   stderr.String(),
			ExitCode: code,
			Err:      err,
		}
	}
	return stdout.String(), nil
}

// RunSha runs a git command whose output is a single object id.
func (r *Repository) RunSha(ctx context.Context, args ...string) (string, error) {
	out, err := r.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return validateSha(out)
}

// RunCmdSha runs cmd expecting a single object id on stdout.
func (r *Repository) RunCmdSha(cmd *exec.Cmd) (string, error) {
	out, err := r.RunCmd(cmd)
	if err != nil {
		return "", err
	}
	return validateSha(out)
}

// validateSha accepts sha1 and sha256 object ids, with or without a trailing newline.
func validateSha(out string) (string, error) {
	sha := strings.TrimSpace(out)
	if len(sha) != 40 && len(sha) != 64 {
		return "", errors.Errorf("expected an object id, got %q", out)
	}
	for _, c := range sha {
		if !isHex(c) {
			return "", errors.Errorf("expected an object id, got %q", out)
		}
	}
	return sha, nil
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// IsHexPrefix reports whether s could be an abbreviated object id.
func IsHexPrefix(s string) bool {
	if len(s) < 4 || len(s) > 64 {
		return false
	}
	for _, c := range strings.ToLower(s) {
		if !isHex(c) {
			return false
		}
	}
	return true
}

// withIdentity returns a command env that guarantees commit-tree and notes
// can create commits even when no user identity is configured.
func (r *Repository) withIdentity(ctx context.Context, cmd *exec.Cmd) *exec.Cmd {
	r.identityOnce.Do(func() {
		if _, err := r.Run(ctx, "var", "GIT_COMMITTER_IDENT"); err != nil {
			log.WithField("dir", r.dir).Debug("no git identity configured, using fallback")
			r.identityEnv = []string{
				"GIT_AUTHOR_NAME=" + fallbackName,
				"GIT_AUTHOR_EMAIL=" + fallbackEmail,
				"GIT_COMMITTER_NAME=" + fallbackName,
				"GIT_COMMITTER_EMAIL=" + fallbackEmail,
			}
		}
	})
	cmd.Env = append(cmd.Env, r.identityEnv...)
	return cmd
}

// CurrentBranch returns the checked-out branch name, or HEAD when detached.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		if ExitCode(err) == 1 {
			return models.DetachedLineOfWork, nil
		}
		return "", errors.Wrap(err, "failed to get current branch")
	}
	return strings.TrimSpace(out), nil
}

// HeadCommit returns the HEAD commit id, or "" on an unborn branch.
func (r *Repository) HeadCommit(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "-q", "--verify", "HEAD^{commit}")
	if err != nil {
		if ExitCode(err) == 1 {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to get current commit")
	}
	return validateSha(out)
}

// SubmoduleHead returns the commit checked out in the nested repository at
// path, or "" when it has none yet. The caller must make sure path holds a
// repository, otherwise git resolves the enclosing one.
func (r *Repository) SubmoduleHead(ctx context.Context, path string) (string, error) {
	cmd := r.Command(ctx, "rev-parse", "-q", "--verify", "HEAD^{commit}")
	cmd.Dir = filepath.Join(r.dir, filepath.FromSlash(path))
	out, err := r.RunCmd(cmd)
	if err != nil {
		if ExitCode(err) == 1 {
			return "", nil
		}
		return "", errors.Wrapf(err, "failed to get commit of submodule %s", path)
	}
	return validateSha(out)
}

// TreeOf returns the tree id of a commit-ish.
func (r *Repository) TreeOf(ctx context.Context, rev string) (string, error) {
	sha, err := r.RunSha(ctx, "rev-parse", "--verify", rev+"^{tree}")
	if err != nil {
		return "", errors.Wrapf(err, "failed to get tree of %s", rev)
	}
	return sha, nil
}

// GitPath resolves a path inside the git directory (e.g. index.lock).
func (r *Repository) GitPath(ctx context.Context, name string) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--git-path", name)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve git path %s", name)
	}
	p := strings.TrimSpace(out)
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.dir, p)
	}
	return p, nil
}

// Branches returns all local branch names.
func (r *Repository) Branches(ctx context.Context) ([]string, error) {
	out, err := r.Run(ctx, "for-each-ref", "--format=%(refname)", "refs/heads/")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list branches")
	}

	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, strings.TrimPrefix(line, "refs/heads/"))
		}
	}
	return branches, nil
}
