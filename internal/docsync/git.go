package docsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Command is one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// SSHKeyPath, when set, is injected as the key git uses for SSH remotes.
	SSHKeyPath string
}

// CommandRunner runs external processes and returns their stdout.
// A failed command is reported as a *CommandError.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// Remote describes the repository a working copy tracks.
type Remote struct {
	URL        string
	Branch     string
	SSHKeyPath string
	// Dir is the local working copy path.
	Dir string
}

// Author is the identity used for backup commits when the repository has none.
type Author struct {
	Name  string
	Email string
}

// DefaultAuthor is used when no author is configured.
var DefaultAuthor = Author{Name: "docsync", Email: "docsync@localhost"}

// ConnectionResult is the outcome of a connection test.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GitRepository drives git against a local working copy.
type GitRepository struct {
	runner CommandRunner
	logger Logger
	clock  Clock
	author Author
}

// NewGitRepository creates a GitRepository. A zero author falls back to DefaultAuthor.
func NewGitRepository(runner CommandRunner, logger Logger, clock Clock, author Author) *GitRepository {
	if author.Name == "" {
		author.Name = DefaultAuthor.Name
	}
	if author.Email == "" {
		author.Email = DefaultAuthor.Email
	}
	return &GitRepository{
		runner: runner,
		logger: logger,
		clock:  clock,
		author: author,
	}
}

// CheckSSHKey verifies the key file exists, is a regular file with the owner
// read bit set, and can be opened. An empty path is valid (non-SSH remotes).
func CheckSSHKey(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return &SSHKeyError{Path: path, Reason: "not accessible", Err: err}
	}
	if info.IsDir() {
		return &SSHKeyError{Path: path, Reason: "is a directory"}
	}
	if info.Mode().Perm()&0o400 == 0 {
		return &SSHKeyError{Path: path, Reason: "owner read permission is not set"}
	}
	f, err := os.Open(path)
	if err != nil {
		return &SSHKeyError{Path: path, Reason: "not readable", Err: err}
	}
	f.Close()
	return nil
}

func (g *GitRepository) git(ctx context.Context, r Remote, dir string, args ...string) (string, error) {
	return g.runner.Run(ctx, Command{
		Name:       "git",
		Args:       args,
		Dir:        dir,
		SSHKeyPath: r.SSHKeyPath,
	})
}

// Acquire makes r.Dir an up-to-date working copy of r on r.Branch. An
// existing checkout is pulled; anything else at the path is replaced by a
// fresh clone.
func (g *GitRepository) Acquire(ctx context.Context, r Remote) error {
	if err := CheckSSHKey(r.SSHKeyPath); err != nil {
		return err
	}
	if r.Dir == "" {
		return fmt.Errorf("working copy path is empty")
	}

	dir, err := filepath.Abs(r.Dir)
	if err != nil {
		return fmt.Errorf("resolving working copy path: %w", err)
	}
	r.Dir = dir

	if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
		g.logger.Debug("working copy exists, pulling", "dir", dir)
		return g.Pull(ctx, r)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing stale working copy: %w", err)
	}
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating working copy parent: %w", err)
	}

	g.logger.Info("cloning repository", "url", r.URL, "dir", dir)
	if _, err := g.git(ctx, r, parent, "clone", r.URL, dir); err != nil {
		return fmt.Errorf("cloning repository: %w", err)
	}

	return g.resolveBranch(ctx, r)
}

// resolveBranch puts a fresh clone on r.Branch, tracking the remote branch
// when there is one and creating it locally otherwise.
func (g *GitRepository) resolveBranch(ctx context.Context, r Remote) error {
	current, err := g.currentBranch(ctx, r)
	if err != nil {
		return err
	}
	if current == r.Branch {
		return nil
	}

	if _, err := g.git(ctx, r, r.Dir, "fetch", "origin"); err != nil {
		return fmt.Errorf("fetching: %w", err)
	}
	return g.switchBranch(ctx, r)
}

func (g *GitRepository) switchBranch(ctx context.Context, r Remote) error {
	b := r.Branch

	local, err := g.refExists(ctx, r, "refs/heads/"+b)
	if err != nil {
		return err
	}
	if local {
		if _, err := g.git(ctx, r, r.Dir, "checkout", b); err != nil {
			return fmt.Errorf("checking out %s: %w", b, err)
		}
		return nil
	}

	remote, err := g.refExists(ctx, r, "refs/remotes/origin/"+b)
	if err != nil {
		return err
	}
	if remote {
		g.logger.Debug("tracking remote branch", "branch", b)
		if _, err := g.git(ctx, r, r.Dir, "checkout", "-b", b, "--track", "origin/"+b); err != nil {
			return fmt.Errorf("tracking origin/%s: %w", b, err)
		}
		return nil
	}

	hasHead, err := g.refExists(ctx, r, "HEAD")
	if err != nil {
		return err
	}
	if hasHead {
		g.logger.Info("remote branch does not exist, creating locally", "branch", b)
		if _, err := g.git(ctx, r, r.Dir, "checkout", "-b", b); err != nil {
			return fmt.Errorf("creating branch %s: %w", b, err)
		}
		return nil
	}

	// Empty repository: point the unborn HEAD at the branch so the first
	// commit lands on it.
	g.logger.Info("repository is empty, starting branch", "branch", b)
	if _, err := g.git(ctx, r, r.Dir, "symbolic-ref", "HEAD", "refs/heads/"+b); err != nil {
		return fmt.Errorf("starting branch %s: %w", b, err)
	}
	return nil
}

// Pull fetches and merges the remote branch. A missing remote branch is not
// an error: there is nothing to merge yet.
func (g *GitRepository) Pull(ctx context.Context, r Remote) error {
	if _, err := g.git(ctx, r, r.Dir, "remote", "set-url", "origin", r.URL); err != nil {
		return fmt.Errorf("setting remote url: %w", err)
	}
	if _, err := g.git(ctx, r, r.Dir, "fetch", "origin"); err != nil {
		return fmt.Errorf("fetching: %w", err)
	}

	current, err := g.currentBranch(ctx, r)
	if err != nil {
		return err
	}
	if current != r.Branch {
		if err := g.switchBranch(ctx, r); err != nil {
			return err
		}
	}

	remote, err := g.refExists(ctx, r, "refs/remotes/origin/"+r.Branch)
	if err != nil {
		return err
	}
	if !remote {
		g.logger.Debug("remote branch does not exist yet, skipping pull", "branch", r.Branch)
		return nil
	}

	if err := g.ensureIdentity(ctx, r); err != nil {
		return err
	}
	if _, err := g.git(ctx, r, r.Dir, "pull", "--no-rebase", "--no-edit", "origin", r.Branch); err != nil {
		return fmt.Errorf("pulling %s: %w", r.Branch, err)
	}
	return nil
}

// CommitIfChanged stages everything and commits when the index differs from
// HEAD. It returns the new commit SHA, or NoChangesCommit.
func (g *GitRepository) CommitIfChanged(ctx context.Context, r Remote) (string, error) {
	if err := g.ensureIdentity(ctx, r); err != nil {
		return "", err
	}
	if _, err := g.git(ctx, r, r.Dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}

	_, err := g.git(ctx, r, r.Dir, "diff", "--cached", "--quiet")
	if err == nil {
		return NoChangesCommit, nil
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.ExitCode != 1 {
		return "", fmt.Errorf("checking staged changes: %w", err)
	}

	msg := "Backup " + g.clock.Now().UTC().Format(time.RFC3339)
	if _, err := g.git(ctx, r, r.Dir, "commit", "-m", msg); err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}

	sha, err := g.git(ctx, r, r.Dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("reading commit hash: %w", err)
	}
	return strings.TrimSpace(sha), nil
}

// Push pushes the current branch. When the branch has no upstream yet, the
// push is retried with --set-upstream.
func (g *GitRepository) Push(ctx context.Context, r Remote) error {
	_, err := g.git(ctx, r, r.Dir, "push")
	if err == nil {
		return nil
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || !cmdErr.StderrContains("no upstream", "--set-upstream", "remote branch") {
		return fmt.Errorf("pushing: %w", err)
	}

	g.logger.Info("branch has no upstream, pushing with --set-upstream", "branch", r.Branch)
	if _, err := g.git(ctx, r, r.Dir, "push", "--set-upstream", "origin", r.Branch); err != nil {
		return fmt.Errorf("pushing with upstream: %w", err)
	}
	return nil
}

// HasUnpushedCommits reports whether the local branch is ahead of origin.
func (g *GitRepository) HasUnpushedCommits(ctx context.Context, r Remote) (bool, error) {
	hasHead, err := g.refExists(ctx, r, "HEAD")
	if err != nil || !hasHead {
		return false, err
	}

	remote, err := g.refExists(ctx, r, "refs/remotes/origin/"+r.Branch)
	if err != nil {
		return false, err
	}
	if !remote {
		return true, nil
	}

	out, err := g.git(ctx, r, r.Dir, "rev-list", "--count", "origin/"+r.Branch+"..HEAD")
	if err != nil {
		return false, fmt.Errorf("counting unpushed commits: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return false, fmt.Errorf("parsing commit count %q: %w", out, err)
	}
	return n > 0, nil
}

// TestConnection clones r into a throwaway directory to validate the URL and
// credentials. The directory is always removed.
func (g *GitRepository) TestConnection(ctx context.Context, r Remote) ConnectionResult {
	if strings.TrimSpace(r.URL) == "" {
		return ConnectionResult{Message: ErrNotConfigured.Error()}
	}
	if err := CheckSSHKey(r.SSHKeyPath); err != nil {
		return ConnectionResult{Message: err.Error()}
	}

	tmp, err := os.MkdirTemp("", "docsync-test-")
	if err != nil {
		return ConnectionResult{Message: fmt.Sprintf("creating temp dir: %v", err)}
	}
	defer os.RemoveAll(tmp)

	if _, err := g.git(ctx, r, tmp, "clone", "--depth", "1", r.URL, filepath.Join(tmp, "repo")); err != nil {
		g.logger.Warn("connection test failed", "url", r.URL, "error", err)
		return ConnectionResult{Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	return ConnectionResult{Success: true, Message: fmt.Sprintf("Successfully connected to %s", r.URL)}
}

func (g *GitRepository) ensureIdentity(ctx context.Context, r Remote) error {
	for _, kv := range [][2]string{{"user.name", g.author.Name}, {"user.email", g.author.Email}} {
		_, err := g.git(ctx, r, r.Dir, "config", kv[0])
		if err == nil {
			continue
		}
		if !exitedNonZero(err) {
			return fmt.Errorf("reading %s: %w", kv[0], err)
		}
		if _, err := g.git(ctx, r, r.Dir, "config", kv[0], kv[1]); err != nil {
			return fmt.Errorf("setting %s: %w", kv[0], err)
		}
	}
	return nil
}

// currentBranch returns the checked-out branch name, or "" when HEAD is detached.
func (g *GitRepository) currentBranch(ctx context.Context, r Remote) (string, error) {
	out, err := g.git(ctx, r, r.Dir, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		if exitedNonZero(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (g *GitRepository) refExists(ctx context.Context, r Remote, ref string) (bool, error) {
	_, err := g.git(ctx, r, r.Dir, "rev-parse", "--verify", "--quiet", ref)
	if err == nil {
		return true, nil
	}
	if exitedNonZero(err) {
		return false, nil
	}
	return false, fmt.Errorf("resolving %s: %w", ref, err)
}
