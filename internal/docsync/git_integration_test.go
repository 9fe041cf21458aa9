package docsync_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docsync-go/internal/docsync"
	"docsync-go/internal/gitexec"
	"docsync-go/internal/testutil"
)

// newBareRemote creates a bare repository to act as the backup remote.
func newBareRemote(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := filepath.Join(t.TempDir(), "remote.git")
	out, err := exec.Command("git", "init", "--bare", dir).CombinedOutput()
	if err != nil {
		t.Fatalf("git init --bare: %v: %s", err, out)
	}
	return dir
}

func remoteLog(t *testing.T, bare, branch string) []string {
	t.Helper()
	out, err := exec.Command("git", "--git-dir", bare, "log", "--format=%s", branch).CombinedOutput()
	if err != nil {
		t.Fatalf("git log: %v: %s", err, out)
	}
	return strings.Split(strings.TrimSpace(string(out)), "\n")
}

func TestGitRepository_RealGit(t *testing.T) {
	bare := newBareRemote(t)
	runner := gitexec.NewExecRunner(30*time.Second, docsync.NewNopLogger())
	git := newTestGit(runner)
	ctx := context.Background()

	r := docsync.Remote{
		URL:    bare,
		Branch: "wiki-backup",
		Dir:    filepath.Join(t.TempDir(), "work"),
	}

	if err := git.Acquire(ctx, r); err != nil {
		t.Fatalf("Acquire on empty remote failed: %v", err)
	}
	sha, err := git.CommitIfChanged(ctx, r)
	if err != nil {
		t.Fatalf("CommitIfChanged failed: %v", err)
	}
	if sha != docsync.NoChangesCommit {
		t.Fatalf("expected no changes in an empty tree, got %q", sha)
	}

	if err := os.WriteFile(filepath.Join(r.Dir, "page.html"), []byte("<p>one</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	sha, err = git.CommitIfChanged(ctx, r)
	if err != nil {
		t.Fatalf("CommitIfChanged failed: %v", err)
	}
	if len(sha) != 40 {
		t.Fatalf("expected a full sha, got %q", sha)
	}

	unpushed, err := git.HasUnpushedCommits(ctx, r)
	if err != nil || !unpushed {
		t.Fatalf("expected unpushed commits, got %v (%v)", unpushed, err)
	}
	if err := git.Push(ctx, r); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if got := remoteLog(t, bare, r.Branch); len(got) != 1 || !strings.HasPrefix(got[0], "Backup ") {
		t.Errorf("expected the backup commit on the remote, got %v", got)
	}
	unpushed, err = git.HasUnpushedCommits(ctx, r)
	if err != nil || unpushed {
		t.Errorf("expected nothing unpushed, got %v (%v)", unpushed, err)
	}

	// A second working copy clones the now non-empty remote and tracks the branch.
	other := r
	other.Dir = filepath.Join(t.TempDir(), "other")
	if err := git.Acquire(ctx, other); err != nil {
		t.Fatalf("Acquire on populated remote failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(other.Dir, "page.html"))
	if err != nil || string(data) != "<p>one</p>" {
		t.Fatalf("expected the pushed file in the second clone, got %q (%v)", data, err)
	}

	// Changes pushed from the second copy arrive in the first via Acquire.
	if err := os.WriteFile(filepath.Join(other.Dir, "page.html"), []byte("<p>two</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := git.CommitIfChanged(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := git.Push(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := git.Acquire(ctx, r); err != nil {
		t.Fatalf("pulling existing working copy failed: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(r.Dir, "page.html"))
	if string(data) != "<p>two</p>" {
		t.Errorf("expected pulled content, got %q", data)
	}

	res := git.TestConnection(ctx, r)
	if !res.Success {
		t.Errorf("TestConnection failed: %s", res.Message)
	}
	res = git.TestConnection(ctx, docsync.Remote{URL: filepath.Join(t.TempDir(), "nope.git"), Branch: "main"})
	if res.Success {
		t.Error("expected TestConnection to fail for a missing remote")
	}
}

func TestExportCommitPush_RealGit(t *testing.T) {
	bare := newBareRemote(t)
	db := testutil.NewTestDatabase(t)
	testutil.SeedDocument(t, db, "guides/intro", "Intro", "<p>hi</p>")

	runner := gitexec.NewExecRunner(30*time.Second, docsync.NewNopLogger())
	git := newTestGit(runner)
	exporter := docsync.NewExporter(db, db, db, docsync.NewNopLogger(), testutil.FixedClock())
	ctx := context.Background()
	r := docsync.Remote{URL: bare, Branch: "main", Dir: filepath.Join(t.TempDir(), "work")}

	if err := git.Acquire(ctx, r); err != nil {
		t.Fatal(err)
	}
	if _, err := exporter.Export(ctx, r.Dir, docsync.ExportOptions{}); err != nil {
		t.Fatal(err)
	}
	first, err := git.CommitIfChanged(ctx, r)
	if err != nil || first == docsync.NoChangesCommit {
		t.Fatalf("expected a commit, got %q (%v)", first, err)
	}
	if err := git.Push(ctx, r); err != nil {
		t.Fatal(err)
	}

	// Re-exporting unchanged content leaves the tree byte-identical.
	if _, err := exporter.Export(ctx, r.Dir, docsync.ExportOptions{}); err != nil {
		t.Fatal(err)
	}
	second, err := git.CommitIfChanged(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if second != docsync.NoChangesCommit {
		t.Errorf("expected no changes on re-export, got commit %q", second)
	}
}
