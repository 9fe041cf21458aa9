package docsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Job listing bounds.
const (
	DefaultJobLimit = 20
	MaxJobLimit     = 200
)

// Snapshotter stores an off-site copy of a committed working copy and
// returns the key it was stored under.
type Snapshotter interface {
	Snapshot(ctx context.Context, dir, commit string) (string, error)
}

// JobObserver is notified of job lifecycle events (metrics). Every
// JobStarted is paired with exactly one JobFinished.
type JobObserver interface {
	JobStarted(jobType JobType)
	JobFinished(job *BackupJob, duration time.Duration)
}

// ManagerOptions holds the optional collaborators and limits of a JobManager.
type ManagerOptions struct {
	// JobTimeout bounds a job's run time once it holds the repository lock.
	// Zero means no limit.
	JobTimeout  time.Duration
	Observer    JobObserver
	Snapshotter Snapshotter
}

// JobManager owns the BackupJob lifecycle. Jobs are created synchronously in
// the pending state and processed in background goroutines; jobs that target
// the same working copy wait for each other and run one at a time.
type JobManager struct {
	jobs     JobStore
	settings SettingsStore
	git      *GitRepository
	exporter *Exporter
	importer *Importer
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	opts     ManagerOptions

	locks    *keyedMutex
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewJobManager creates a JobManager.
func NewJobManager(jobs JobStore, settings SettingsStore, git *GitRepository, exporter *Exporter, importer *Importer, logger Logger, clock Clock, idgen IDGenerator, opts ManagerOptions) *JobManager {
	return &JobManager{
		jobs:     jobs,
		settings: settings,
		git:      git,
		exporter: exporter,
		importer: importer,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts,
		locks:    newKeyedMutex(),
	}
}

// StartBackup records a pending backup job and runs it in the background.
func (m *JobManager) StartBackup(ctx context.Context, jobType JobType, triggeredBy string) (*BackupJob, error) {
	if jobType != JobManual && jobType != JobAuto {
		return nil, fmt.Errorf("invalid backup job type: %q", jobType)
	}
	job, err := m.createJob(ctx, jobType, triggeredBy)
	if err != nil {
		return nil, err
	}
	m.dispatch(job, m.runBackup)
	return job, nil
}

// StartImport records a pending import job and runs it in the background.
func (m *JobManager) StartImport(ctx context.Context, mode ImportMode, triggeredBy string) (*BackupJob, error) {
	if mode != ImportSmart && mode != ImportForce {
		return nil, fmt.Errorf("invalid import mode: %q", mode)
	}
	job, err := m.createJob(ctx, JobImport, triggeredBy)
	if err != nil {
		return nil, err
	}
	m.dispatch(job, func(ctx context.Context, s Settings, job *BackupJob) error {
		return m.runImport(ctx, s, job, mode)
	})
	return job, nil
}

func (m *JobManager) createJob(ctx context.Context, jobType JobType, triggeredBy string) (*BackupJob, error) {
	job := &BackupJob{
		ID:          m.idgen.New(),
		Status:      JobPending,
		JobType:     jobType,
		TriggeredBy: triggeredBy,
		StartedAt:   m.clock.Now().UTC(),
	}
	if err := m.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	m.logger.Info("job created", "job_id", job.ID, "type", jobType, "triggered_by", triggeredBy)
	return copyJob(job), nil
}

type jobFunc func(ctx context.Context, s Settings, job *BackupJob) error

func (m *JobManager) dispatch(job *BackupJob, work jobFunc) {
	m.wg.Add(1)
	m.inFlight.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.inFlight.Add(-1)
		m.process(job, work)
	}()
}

// process drives one job from pending to a terminal state. It never returns
// an error: every failure ends up on the job record.
func (m *JobManager) process(job *BackupJob, work jobFunc) {
	ctx := context.Background()
	start := time.Now()
	if m.opts.Observer != nil {
		m.opts.Observer.JobStarted(job.JobType)
	}

	settings, unlock, err := m.lockWorkingCopy(ctx)
	if err != nil {
		m.finish(job, fmt.Errorf("loading settings: %w", err), start)
		return
	}
	defer unlock()

	job.Status = JobRunning
	if err := m.jobs.UpdateJob(ctx, job); err != nil {
		m.logger.Error("marking job running", "job_id", job.ID, "error", err)
	}
	m.logger.Info("job running", "job_id", job.ID, "type", job.JobType)

	runCtx := ctx
	if m.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.opts.JobTimeout)
		defer cancel()
	}

	err = m.safeRun(runCtx, settings, job, work)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job timed out after %s: %w", m.opts.JobTimeout, err)
	}
	m.finish(job, err, start)
}

// lockWorkingCopy takes the lock of the working copy the current settings
// point at and returns the settings as read under that lock. A job that
// waited behind another one sees any settings saved meanwhile; when those
// moved it to another working copy, it locks that one instead.
func (m *JobManager) lockWorkingCopy(ctx context.Context) (Settings, func(), error) {
	settings, err := m.settings.GetSettings(ctx)
	if err != nil {
		return Settings{}, nil, err
	}
	for {
		key := settings.RepoKey()
		unlock := m.locks.Lock(key)
		current, err := m.settings.GetSettings(ctx)
		if err != nil {
			unlock()
			return Settings{}, nil, err
		}
		if current.RepoKey() == key {
			return current, unlock, nil
		}
		unlock()
		settings = current
	}
}

func (m *JobManager) safeRun(ctx context.Context, s Settings, job *BackupJob, work jobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := s.Validate(); err != nil {
		return err
	}
	return work(ctx, s, job)
}

func (m *JobManager) finish(job *BackupJob, err error, start time.Time) {
	completed := m.clock.Now().UTC()
	job.CompletedAt = &completed
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		m.logger.Error("job failed", "job_id", job.ID, "type", job.JobType, "error", err)
	} else {
		job.Status = JobCompleted
		m.logger.Info("job completed", "job_id", job.ID, "type", job.JobType, "commit", job.CommitHash)
	}

	// The job context may have expired; the final record must still land.
	if err := m.jobs.UpdateJob(context.Background(), job); err != nil {
		m.logger.Error("recording job result", "job_id", job.ID, "error", err)
	}
	if m.opts.Observer != nil {
		m.opts.Observer.JobFinished(copyJob(job), time.Since(start))
	}
}

func (m *JobManager) workingCopy(s Settings, job *BackupJob) (Remote, error) {
	r := s.Remote()
	dir, err := filepath.Abs(r.Dir)
	if err != nil {
		return r, fmt.Errorf("resolving backup path: %w", err)
	}
	r.Dir = dir
	job.ExportPath = dir
	return r, nil
}

func (m *JobManager) runBackup(ctx context.Context, s Settings, job *BackupJob) error {
	r, err := m.workingCopy(s, job)
	if err != nil {
		return err
	}
	if err := m.git.Acquire(ctx, r); err != nil {
		return err
	}

	res, err := m.exporter.Export(ctx, r.Dir, ExportOptions{IncludeVersions: s.IncludeVersions})
	if err != nil {
		return fmt.Errorf("exporting: %w", err)
	}
	job.Result = marshalResult(res)
	if res.AllFailed() {
		return fmt.Errorf("export failed for all %d items: %s", len(res.Errors), res.Errors[0])
	}

	commit, err := m.git.CommitIfChanged(ctx, r)
	if err != nil {
		return err
	}
	job.CommitHash = commit

	push := commit != NoChangesCommit
	if !push {
		if push, err = m.git.HasUnpushedCommits(ctx, r); err != nil {
			return err
		}
		if push {
			m.logger.Info("pushing commits left over from an earlier run", "job_id", job.ID)
		}
	}
	if push {
		if err := m.git.Push(ctx, r); err != nil {
			return err
		}
	}

	if commit != NoChangesCommit && m.opts.Snapshotter != nil {
		key, err := m.opts.Snapshotter.Snapshot(ctx, r.Dir, commit)
		if err != nil {
			m.logger.Warn("snapshot failed", "job_id", job.ID, "commit", commit, "error", err)
		} else {
			job.SnapshotKey = key
		}
	}
	return nil
}

func (m *JobManager) runImport(ctx context.Context, s Settings, job *BackupJob, mode ImportMode) error {
	r, err := m.workingCopy(s, job)
	if err != nil {
		return err
	}
	if err := m.git.Acquire(ctx, r); err != nil {
		return err
	}

	res, err := m.importer.Import(ctx, r.Dir, mode)
	if err != nil {
		return fmt.Errorf("importing: %w", err)
	}
	job.Result = marshalResult(res)
	if res.AllFailed() {
		return fmt.Errorf("import failed for all %d items: %s", len(res.Errors), res.Errors[0])
	}
	return nil
}

func marshalResult(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// GetJob returns a job by id, or ErrJobNotFound.
func (m *JobManager) GetJob(ctx context.Context, id string) (*BackupJob, error) {
	job, err := m.jobs.FindJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// RecentJobs returns up to limit jobs, newest first. Non-positive limits use
// DefaultJobLimit; limits above MaxJobLimit are clamped.
func (m *JobManager) RecentJobs(ctx context.Context, limit int) ([]*BackupJob, error) {
	if limit <= 0 {
		limit = DefaultJobLimit
	}
	limit = min(limit, MaxJobLimit)
	jobs, err := m.jobs.ListRecentJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// InFlight returns the number of jobs that have been dispatched and have not
// reached a terminal state.
func (m *JobManager) InFlight() int {
	return int(m.inFlight.Load())
}

// Wait blocks until every dispatched job has finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// Settings returns the stored backup settings.
func (m *JobManager) Settings(ctx context.Context) (Settings, error) {
	s, err := m.settings.GetSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	return s, nil
}

// UpdateSettings applies a partial update and returns the result.
func (m *JobManager) UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	current, err := m.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	updated := patch.Apply(current)
	if err := m.settings.SaveSettings(ctx, updated); err != nil {
		return Settings{}, fmt.Errorf("saving settings: %w", err)
	}
	m.logger.Info("settings updated", "enabled", updated.Enabled, "branch", updated.Branch())
	return updated, nil
}

// TestConnection validates s by cloning into a throwaway directory.
func (m *JobManager) TestConnection(ctx context.Context, s Settings) ConnectionResult {
	return m.git.TestConnection(ctx, s.Remote())
}

func copyJob(job *BackupJob) *BackupJob {
	c := *job
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
