package testutil

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"docsync-go/internal/docsync"
)

// FakeRule scripts the response to commands whose arguments start with a
// given prefix.
type FakeRule struct {
	prefix    []string
	stdout    string
	exitCode  int
	stderr    string
	remaining int // 0 = unlimited
}

// Return makes matching commands succeed with stdout.
func (r *FakeRule) Return(stdout string) *FakeRule {
	r.stdout = stdout
	r.exitCode = 0
	return r
}

// Fail makes matching commands exit with code and stderr.
func (r *FakeRule) Fail(code int, stderr string) *FakeRule {
	r.exitCode = code
	r.stderr = stderr
	return r
}

// Once limits the rule to a single match.
func (r *FakeRule) Once() *FakeRule {
	r.remaining = 1
	return r
}

// FakeRunner is a scripted docsync.CommandRunner. Rules are tried in the
// order they were added; the first unexhausted rule whose prefix matches
// wins. Unmatched commands succeed with empty output. A "clone" creates
// <dest>/.git so later steps see a working copy.
type FakeRunner struct {
	mu    sync.Mutex
	rules []*FakeRule
	calls []docsync.Command
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On adds a rule for commands whose arguments start with args.
func (f *FakeRunner) On(args ...string) *FakeRule {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &FakeRule{prefix: args}
	f.rules = append(f.rules, r)
	return r
}

func (f *FakeRunner) Run(_ context.Context, cmd docsync.Command) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, docsync.Command{
		Name:       cmd.Name,
		Args:       slices.Clone(cmd.Args),
		Dir:        cmd.Dir,
		SSHKeyPath: cmd.SSHKeyPath,
	})
	rule := f.match(cmd.Args)
	f.mu.Unlock()

	if rule != nil && rule.exitCode != 0 {
		return "", &docsync.CommandError{
			Command:  cmd.Name,
			Args:     cmd.Args,
			ExitCode: rule.exitCode,
			Stderr:   rule.stderr,
		}
	}

	if len(cmd.Args) > 0 && cmd.Args[0] == "clone" {
		dest := cmd.Args[len(cmd.Args)-1]
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(cmd.Dir, dest)
		}
		if err := os.MkdirAll(filepath.Join(dest, ".git"), 0o755); err != nil {
			return "", err
		}
	}

	if rule != nil {
		return rule.stdout, nil
	}
	return "", nil
}

func (f *FakeRunner) match(args []string) *FakeRule {
	for _, r := range f.rules {
		if len(args) < len(r.prefix) || !slices.Equal(args[:len(r.prefix)], r.prefix) {
			continue
		}
		if r.remaining < 0 {
			continue
		}
		if r.remaining == 1 {
			r.remaining = -1
		}
		return r
	}
	return nil
}

// Calls returns every command run so far.
func (f *FakeRunner) Calls() []docsync.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CommandLines returns the argument lists of every command joined by spaces.
func (f *FakeRunner) CommandLines() []string {
	var lines []string
	for _, c := range f.Calls() {
		lines = append(lines, strings.Join(c.Args, " "))
	}
	return lines
}

// Ran reports whether a command with exactly these arguments was run.
func (f *FakeRunner) Ran(args ...string) bool {
	want := strings.Join(args, " ")
	return slices.Contains(f.CommandLines(), want)
}
