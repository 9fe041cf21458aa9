package docsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docsync-go/internal/database"
	"docsync-go/internal/docsync"
	"docsync-go/internal/testutil"
)

// committingFakeRunner scripts git so a backup stages changes and commits
// "c0ffee".
func committingFakeRunner() *testutil.FakeRunner {
	r := testutil.NewFakeRunner()
	r.On("symbolic-ref", "--short", "HEAD").Return("main\n")
	r.On("diff", "--cached", "--quiet").Fail(1, "")
	r.On("rev-parse", "HEAD").Return("c0ffee\n")
	r.On("rev-list", "--count").Return("0\n")
	return r
}

// cleanFakeRunner scripts git so a backup finds nothing to commit or push.
func cleanFakeRunner() *testutil.FakeRunner {
	r := testutil.NewFakeRunner()
	r.On("symbolic-ref", "--short", "HEAD").Return("main\n")
	r.On("rev-list", "--count").Return("0\n")
	return r
}

type managerFixture struct {
	db      *database.SQLiteDatabase
	manager *docsync.JobManager
	dir     string
}

func newManagerFixture(t *testing.T, runner docsync.CommandRunner, opts docsync.ManagerOptions) *managerFixture {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	return newManagerFixtureWithStores(t, db, db, runner, opts)
}

func newManagerFixtureWithStores(t *testing.T, db *database.SQLiteDatabase, content docsync.ContentStore, runner docsync.CommandRunner, opts docsync.ManagerOptions) *managerFixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	if err := db.SaveSettings(context.Background(), docsync.Settings{
		GitRepoURL: testRepoURL,
		BackupPath: dir,
		Enabled:    true,
	}); err != nil {
		t.Fatal(err)
	}
	logger := docsync.NewNopLogger()
	clock := testutil.FixedClock()
	m := docsync.NewJobManager(db, db, newTestGit(runner),
		docsync.NewExporter(content, db, db, logger, clock),
		docsync.NewImporter(content, db, db, logger, clock),
		logger, clock, testutil.NewStubIDGenerator(), opts)
	t.Cleanup(m.Wait)
	return &managerFixture{db: db, manager: m, dir: dir}
}

func (f *managerFixture) runBackup(t *testing.T) *docsync.BackupJob {
	t.Helper()
	job, err := f.manager.StartBackup(context.Background(), docsync.JobManual, "tester")
	if err != nil {
		t.Fatalf("StartBackup failed: %v", err)
	}
	f.manager.Wait()
	got, err := f.manager.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	return got
}

func TestJobManager_Backup(t *testing.T) {
	t.Run("runs a backup to completion", func(t *testing.T) {
		runner := committingFakeRunner()
		f := newManagerFixture(t, runner, docsync.ManagerOptions{})
		testutil.SeedDocument(t, f.db, "home", "Home", "<p>hi</p>")

		job, err := f.manager.StartBackup(context.Background(), docsync.JobManual, "tester")
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != docsync.JobPending || job.TriggeredBy != "tester" || job.JobType != docsync.JobManual {
			t.Errorf("unexpected initial job %+v", job)
		}
		f.manager.Wait()

		got, err := f.manager.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != docsync.JobCompleted || got.CompletedAt == nil {
			t.Fatalf("expected completed job, got %+v", got)
		}
		if got.CommitHash != "c0ffee" || got.ExportPath != f.dir {
			t.Errorf("unexpected commit/path %q %q", got.CommitHash, got.ExportPath)
		}
		var res docsync.ExportResult
		if err := json.Unmarshal([]byte(got.Result), &res); err != nil || res.Documents != 1 {
			t.Errorf("unexpected result %q (%v)", got.Result, err)
		}
		if !runner.Ran("push") {
			t.Error("expected a push")
		}
		if f.manager.InFlight() != 0 {
			t.Errorf("expected no jobs in flight, got %d", f.manager.InFlight())
		}
	})

	t.Run("skips the push when nothing changed", func(t *testing.T) {
		runner := cleanFakeRunner()
		f := newManagerFixture(t, runner, docsync.ManagerOptions{})

		got := f.runBackup(t)
		if got.Status != docsync.JobCompleted || got.CommitHash != docsync.NoChangesCommit {
			t.Fatalf("unexpected job %+v", got)
		}
		if runner.Ran("push") {
			t.Error("unexpected push")
		}
	})

	t.Run("pushes commits left over from an earlier run", func(t *testing.T) {
		runner := testutil.NewFakeRunner()
		runner.On("symbolic-ref", "--short", "HEAD").Return("main\n")
		runner.On("rev-list", "--count").Return("1\n")
		f := newManagerFixture(t, runner, docsync.ManagerOptions{})

		got := f.runBackup(t)
		if got.Status != docsync.JobCompleted {
			t.Fatalf("unexpected job %+v", got)
		}
		if !runner.Ran("push") {
			t.Error("expected leftover commits to be pushed")
		}
	})

	t.Run("push failure fails the job", func(t *testing.T) {
		runner := committingFakeRunner()
		runner.On("push").Fail(1, "! [rejected] main -> main (non-fast-forward)")
		f := newManagerFixture(t, runner, docsync.ManagerOptions{})

		got := f.runBackup(t)
		if got.Status != docsync.JobFailed || !strings.Contains(got.Error, "non-fast-forward") {
			t.Errorf("unexpected job %+v", got)
		}
	})

	t.Run("an export where every item fails is not committed", func(t *testing.T) {
		runner := committingFakeRunner()
		f := newManagerFixture(t, runner, docsync.ManagerOptions{})
		testutil.SeedDocument(t, f.db, "images/bad", "Bad", "x")

		got := f.runBackup(t)
		if got.Status != docsync.JobFailed || !strings.Contains(got.Error, "export failed for all 1 items") {
			t.Fatalf("unexpected job %+v", got)
		}
		if got.Result == "" {
			t.Error("expected the export result to be kept")
		}
		for _, line := range runner.CommandLines() {
			if strings.HasPrefix(line, "commit") {
				t.Error("must not commit a failed export")
			}
		}
	})

	t.Run("rejects unknown job types", func(t *testing.T) {
		f := newManagerFixture(t, cleanFakeRunner(), docsync.ManagerOptions{})
		if _, err := f.manager.StartBackup(context.Background(), docsync.JobImport, "tester"); err == nil {
			t.Error("expected error for an import type backup")
		}
		if _, err := f.manager.StartImport(context.Background(), "merge", "tester"); err == nil {
			t.Error("expected error for an unknown import mode")
		}
		jobs, _ := f.manager.RecentJobs(context.Background(), 0)
		if len(jobs) != 0 {
			t.Errorf("rejected requests must not create jobs, got %d", len(jobs))
		}
	})
}

func TestJobManager_SettingsGate(t *testing.T) {
	tests := []struct {
		name     string
		settings docsync.Settings
		want     error
	}{
		{"no repository", docsync.Settings{Enabled: true}, docsync.ErrNotConfigured},
		{"disabled", docsync.Settings{GitRepoURL: testRepoURL}, docsync.ErrDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := cleanFakeRunner()
			f := newManagerFixture(t, runner, docsync.ManagerOptions{})
			if err := f.db.SaveSettings(context.Background(), tt.settings); err != nil {
				t.Fatal(err)
			}

			got := f.runBackup(t)
			if got.Status != docsync.JobFailed || got.Error != tt.want.Error() {
				t.Errorf("expected failure %q, got %+v", tt.want, got)
			}
			if len(runner.Calls()) != 0 {
				t.Errorf("expected no git commands, got %v", runner.CommandLines())
			}
		})
	}
}

func TestJobManager_Import(t *testing.T) {
	runner := cleanFakeRunner()
	f := newManagerFixture(t, runner, docsync.ManagerOptions{})
	ctx := context.Background()

	job, err := f.manager.StartImport(ctx, docsync.ImportForce, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if job.JobType != docsync.JobImport {
		t.Errorf("expected import job, got %s", job.JobType)
	}
	f.manager.Wait()

	got, err := f.manager.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != docsync.JobCompleted {
		t.Fatalf("unexpected job %+v", got)
	}
	var res docsync.ImportResult
	if err := json.Unmarshal([]byte(got.Result), &res); err != nil {
		t.Errorf("unexpected result %q: %v", got.Result, err)
	}
	for _, line := range runner.CommandLines() {
		if strings.HasPrefix(line, "commit") || strings.HasPrefix(line, "push") {
			t.Errorf("import must not write to git, ran %q", line)
		}
	}
}

func TestJobManager_ImportPartialFailure(t *testing.T) {
	f := newManagerFixture(t, cleanFakeRunner(), docsync.ManagerOptions{})
	ctx := context.Background()
	if err := os.MkdirAll(filepath.Join(f.dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	for i := range 9 {
		writeTreeFile(t, f.dir, fmt.Sprintf("doc%d.html", i),
			docsync.EncodeDocument(docsync.Header{Title: fmt.Sprintf("Doc %d", i), Path: fmt.Sprintf("doc%d", i)}, "ok"))
	}
	writeTreeFile(t, f.dir, "broken.html", []byte("<!--\ntitle: Broken\ndate: not-a-date\n-->\n\nbody"))

	job, err := f.manager.StartImport(ctx, docsync.ImportSmart, "tester")
	if err != nil {
		t.Fatal(err)
	}
	f.manager.Wait()

	got, err := f.manager.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != docsync.JobCompleted {
		t.Fatalf("expected completed job, got %+v", got)
	}
	var res docsync.ImportResult
	if err := json.Unmarshal([]byte(got.Result), &res); err != nil {
		t.Fatalf("unexpected result %q: %v", got.Result, err)
	}
	if res.Imported != 9 || len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "broken.html") {
		t.Errorf("expected 9 imported and an error for broken.html, got %+v", res)
	}
	docs, err := f.db.ListDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 9 {
		t.Errorf("expected 9 documents, got %d", len(docs))
	}
}

// gatedRunner holds every command until release is closed, then delegates.
type gatedRunner struct {
	release chan struct{}
	inner   docsync.CommandRunner
}

func (g *gatedRunner) Run(ctx context.Context, cmd docsync.Command) (string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.inner.Run(ctx, cmd)
}

// countingSettings counts GetSettings calls.
type countingSettings struct {
	docsync.SettingsStore
	reads atomic.Int32
}

func (c *countingSettings) GetSettings(ctx context.Context) (docsync.Settings, error) {
	c.reads.Add(1)
	return c.SettingsStore.GetSettings(ctx)
}

func TestJobManager_QueuedJobSeesSettingsSavedWhileWaiting(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	settings := docsync.Settings{GitRepoURL: testRepoURL, BackupPath: filepath.Join(t.TempDir(), "repo"), Enabled: true}
	if err := db.SaveSettings(ctx, settings); err != nil {
		t.Fatal(err)
	}
	store := &countingSettings{SettingsStore: db}
	gate := &gatedRunner{release: make(chan struct{}), inner: cleanFakeRunner()}
	logger := docsync.NewNopLogger()
	clock := testutil.FixedClock()
	m := docsync.NewJobManager(db, store, newTestGit(gate),
		docsync.NewExporter(db, db, db, logger, clock),
		docsync.NewImporter(db, db, db, logger, clock),
		logger, clock, testutil.NewStubIDGenerator(), docsync.ManagerOptions{})
	t.Cleanup(m.Wait)

	var ids []string
	for range 2 {
		job, err := m.StartBackup(ctx, docsync.JobManual, "tester")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, job.ID)
	}

	// Two reads by the job holding the lock, one by the job queued behind it.
	deadline := time.Now().Add(5 * time.Second)
	for store.reads.Load() < 3 {
		if time.Now().After(deadline) {
			close(gate.release)
			t.Fatalf("jobs never reached the lock, %d settings reads", store.reads.Load())
		}
		time.Sleep(time.Millisecond)
	}

	settings.Enabled = false
	if err := db.SaveSettings(ctx, settings); err != nil {
		t.Fatal(err)
	}
	close(gate.release)
	m.Wait()

	var completed, disabled int
	for _, id := range ids {
		got, err := m.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		switch {
		case got.Status == docsync.JobCompleted:
			completed++
		case got.Status == docsync.JobFailed && got.Error == docsync.ErrDisabled.Error():
			disabled++
		default:
			t.Errorf("unexpected job %+v", got)
		}
	}
	if completed != 1 || disabled != 1 {
		t.Errorf("expected one completed and one disabled job, got %d and %d", completed, disabled)
	}
}

// overlapRunner records the highest number of commands running at once.
type overlapRunner struct {
	inner  docsync.CommandRunner
	active atomic.Int32
	peak   atomic.Int32
}

func (r *overlapRunner) Run(ctx context.Context, cmd docsync.Command) (string, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return r.inner.Run(ctx, cmd)
}

func TestJobManager_SerializesJobsOnOneWorkingCopy(t *testing.T) {
	runner := &overlapRunner{inner: cleanFakeRunner()}
	f := newManagerFixture(t, runner, docsync.ManagerOptions{})
	ctx := context.Background()

	var ids []string
	for range 3 {
		job, err := f.manager.StartBackup(ctx, docsync.JobManual, "tester")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, job.ID)
	}
	job, err := f.manager.StartImport(ctx, docsync.ImportSmart, "tester")
	if err != nil {
		t.Fatal(err)
	}
	ids = append(ids, job.ID)
	f.manager.Wait()

	if peak := runner.peak.Load(); peak != 1 {
		t.Errorf("expected jobs to run one at a time, saw %d concurrent git commands", peak)
	}
	for _, id := range ids {
		got, err := f.manager.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != docsync.JobCompleted {
			t.Errorf("job %s: expected completed, got %+v", id, got)
		}
	}
}

// blockingRunner blocks every command until its context ends.
type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, cmd docsync.Command) (string, error) {
	<-ctx.Done()
	return "", &docsync.CommandError{Command: cmd.Name, Args: cmd.Args, ExitCode: -1, Err: ctx.Err()}
}

func TestJobManager_Timeout(t *testing.T) {
	f := newManagerFixture(t, blockingRunner{}, docsync.ManagerOptions{JobTimeout: 50 * time.Millisecond})

	got := f.runBackup(t)
	if got.Status != docsync.JobFailed || !strings.Contains(got.Error, "job timed out after 50ms") {
		t.Errorf("unexpected job %+v", got)
	}
}

type panickingContent struct {
	*database.SQLiteDatabase
}

func (panickingContent) ListDocuments(context.Context) ([]*docsync.Document, error) {
	panic("boom")
}

func TestJobManager_RecoversFromPanics(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	f := newManagerFixtureWithStores(t, db, panickingContent{db}, cleanFakeRunner(), docsync.ManagerOptions{})

	got := f.runBackup(t)
	if got.Status != docsync.JobFailed || got.Error != "panic: boom" {
		t.Errorf("unexpected job %+v", got)
	}
	if f.manager.InFlight() != 0 {
		t.Error("a panicking job must still leave the in-flight count")
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []docsync.JobType
	finished []*docsync.BackupJob
}

func (o *recordingObserver) JobStarted(jobType docsync.JobType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, jobType)
}

func (o *recordingObserver) JobFinished(job *docsync.BackupJob, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, job)
}

func TestJobManager_Observer(t *testing.T) {
	obs := &recordingObserver{}
	f := newManagerFixture(t, cleanFakeRunner(), docsync.ManagerOptions{Observer: obs})
	f.runBackup(t)

	if err := f.db.SaveSettings(context.Background(), docsync.Settings{}); err != nil {
		t.Fatal(err)
	}
	f.runBackup(t)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.started) != 2 || len(obs.finished) != 2 {
		t.Fatalf("expected 2 start/finish pairs, got %d/%d", len(obs.started), len(obs.finished))
	}
	if obs.finished[0].Status != docsync.JobCompleted || obs.finished[1].Status != docsync.JobFailed {
		t.Errorf("unexpected finished statuses %s, %s", obs.finished[0].Status, obs.finished[1].Status)
	}
}

type fakeSnapshotter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *fakeSnapshotter) Snapshot(_ context.Context, dir, commit string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, dir+"@"+commit)
	if s.err != nil {
		return "", s.err
	}
	return commit + ".tar.gz", nil
}

func TestJobManager_Snapshots(t *testing.T) {
	t.Run("snapshots each new commit", func(t *testing.T) {
		snap := &fakeSnapshotter{}
		f := newManagerFixture(t, committingFakeRunner(), docsync.ManagerOptions{Snapshotter: snap})

		got := f.runBackup(t)
		if got.SnapshotKey != "c0ffee.tar.gz" {
			t.Errorf("expected snapshot key, got %+v", got)
		}
		if len(snap.calls) != 1 || snap.calls[0] != f.dir+"@c0ffee" {
			t.Errorf("unexpected snapshot calls %v", snap.calls)
		}
	})

	t.Run("no snapshot without a new commit", func(t *testing.T) {
		snap := &fakeSnapshotter{}
		f := newManagerFixture(t, cleanFakeRunner(), docsync.ManagerOptions{Snapshotter: snap})

		got := f.runBackup(t)
		if got.SnapshotKey != "" || len(snap.calls) != 0 {
			t.Errorf("unexpected snapshot %+v %v", got, snap.calls)
		}
	})

	t.Run("snapshot failure does not fail the backup", func(t *testing.T) {
		snap := &fakeSnapshotter{err: errors.New("vault offline")}
		f := newManagerFixture(t, committingFakeRunner(), docsync.ManagerOptions{Snapshotter: snap})

		got := f.runBackup(t)
		if got.Status != docsync.JobCompleted || got.SnapshotKey != "" {
			t.Errorf("unexpected job %+v", got)
		}
	})
}

func TestJobManager_Queries(t *testing.T) {
	f := newManagerFixture(t, cleanFakeRunner(), docsync.ManagerOptions{})
	ctx := context.Background()

	if _, err := f.manager.GetJob(ctx, "missing"); !errors.Is(err, docsync.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	for range 3 {
		f.runBackup(t)
	}
	jobs, err := f.manager.RecentJobs(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(jobs))
	}
	jobs, err = f.manager.RecentJobs(ctx, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Errorf("expected the default limit to cover 3 jobs, got %d", len(jobs))
	}
}

func TestJobManager_Settings(t *testing.T) {
	f := newManagerFixture(t, cleanFakeRunner(), docsync.ManagerOptions{})
	ctx := context.Background()

	branch := "  wiki  "
	off := false
	got, err := f.manager.UpdateSettings(ctx, docsync.SettingsPatch{BranchName: &branch, Enabled: &off})
	if err != nil {
		t.Fatal(err)
	}
	if got.BranchName != "wiki" || got.Enabled || got.GitRepoURL != testRepoURL {
		t.Errorf("unexpected settings %+v", got)
	}

	stored, err := f.manager.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stored != got {
		t.Errorf("expected stored settings %+v, got %+v", got, stored)
	}

	if res := f.manager.TestConnection(ctx, stored); !res.Success {
		t.Errorf("expected connection success, got %q", res.Message)
	}
}
