package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"docsync-go/internal/api"
	"docsync-go/internal/config"
	"docsync-go/internal/database"
	"docsync-go/internal/docsync"
	"docsync-go/internal/encryption"
	"docsync-go/internal/gitexec"
	"docsync-go/internal/metrics"
	"docsync-go/internal/snapshot"
	"docsync-go/internal/vault"
)

// Option customizes NewDocsyncApp.
type Option func(*options)

type options struct {
	runner   docsync.CommandRunner
	clock    docsync.Clock
	logLevel slog.Level
}

// WithRunner replaces the git process runner.
func WithRunner(r docsync.CommandRunner) Option {
	return func(o *options) { o.runner = r }
}

// WithClock replaces the wall clock.
func WithClock(c docsync.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogLevel sets the minimum logged level. The default is info.
func WithLogLevel(l slog.Level) Option {
	return func(o *options) { o.logLevel = l }
}

// DocsyncApp is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, exposes the operations the
// CLI and HTTP API need, and owns the database and log file until Close.
type DocsyncApp struct {
	cfg      *config.Config
	db       *database.SQLiteDatabase
	manager  *docsync.JobManager
	registry *prometheus.Registry
	logger   docsync.Logger
	clock    docsync.Clock
	op       *Operation
	logFile  *os.File

	snapOnce sync.Once
	archiver *snapshot.Archiver
	enc      snapshot.Encryptor
	snapErr  error
}

// NewDocsyncApp creates a fully wired DocsyncApp from cfg. operation names
// the CLI command being run (e.g. "backup", "serve"). The caller must call
// Close when done.
func NewDocsyncApp(cfg *config.Config, operation string, opts ...Option) (*DocsyncApp, error) {
	o := options{clock: docsync.RealClock{}, logLevel: slog.LevelInfo}
	for _, opt := range opts {
		opt(&o)
	}

	op := NewOperation(operation, o.clock)
	sl, logFile, err := newLogger(cfg.LogDir, op.ID, o.logLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	db, err := database.NewDatabaseFromConfig(cfg.Database, database.WithClock(o.clock))
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}
	if err := db.SeedSettings(context.Background(), defaultSettings(cfg.Defaults)); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("seeding settings: %w", err)
	}

	a := &DocsyncApp{
		cfg:      cfg,
		db:       db,
		registry: prometheus.NewRegistry(),
		logger:   logger,
		clock:    o.clock,
		op:       op,
		logFile:  logFile,
	}

	runner := o.runner
	if runner == nil {
		runner = gitexec.NewExecRunner(cfg.GitCommandTimeout(), logger)
	}
	git := docsync.NewGitRepository(runner, logger, o.clock, docsync.Author{
		Name:  cfg.Git.AuthorName,
		Email: cfg.Git.AuthorEmail,
	})

	managerOpts := docsync.ManagerOptions{
		JobTimeout: cfg.JobTimeout(),
		Observer:   metrics.NewJobMetrics(a.registry),
	}
	if cfg.Snapshot.Enabled {
		archiver, _, err := a.snapshots(context.Background())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("configuring snapshots: %w", err)
		}
		managerOpts.Snapshotter = archiver
	}

	a.manager = docsync.NewJobManager(db, db, git,
		docsync.NewExporter(db, db, db, logger, o.clock),
		docsync.NewImporter(db, db, db, logger, o.clock),
		logger, o.clock, docsync.UUIDGenerator{}, managerOpts)

	return a, nil
}

func defaultSettings(d config.DefaultsConfig) docsync.Settings {
	return docsync.Settings{
		GitRepoURL:      d.GitRepoURL,
		SSHKeyPath:      d.SSHKeyPath,
		BackupPath:      d.BackupPath,
		BranchName:      d.BranchName,
		Enabled:         d.Enabled,
		IncludeVersions: d.IncludeVersions,
	}
}

// snapshots builds the vault, encryptor and archiver on first use.
func (a *DocsyncApp) snapshots(ctx context.Context) (*snapshot.Archiver, snapshot.Encryptor, error) {
	a.snapOnce.Do(func() {
		v, err := vault.NewVaultFromConfig(ctx, a.cfg.Snapshot.Vault)
		if err != nil {
			a.snapErr = fmt.Errorf("creating vault: %w", err)
			return
		}
		enc, err := encryption.NewEncryptorFromConfig(a.cfg.Snapshot.Encryption)
		if err != nil {
			a.snapErr = fmt.Errorf("creating encryptor: %w", err)
			return
		}
		a.enc = enc
		a.archiver = snapshot.NewArchiver(v, enc, a.logger)
	})
	return a.archiver, a.enc, a.snapErr
}

// RunBackup starts a backup job and waits for it to finish. The returned job
// is in a terminal state; a failed job is not an error here.
func (a *DocsyncApp) RunBackup(ctx context.Context, jobType docsync.JobType) (*docsync.BackupJob, error) {
	job, err := a.manager.StartBackup(ctx, jobType, a.op.TriggeredBy())
	if err != nil {
		return nil, err
	}
	a.manager.Wait()
	return a.manager.GetJob(ctx, job.ID)
}

// RunImport starts an import job and waits for it to finish.
func (a *DocsyncApp) RunImport(ctx context.Context, mode docsync.ImportMode) (*docsync.BackupJob, error) {
	job, err := a.manager.StartImport(ctx, mode, a.op.TriggeredBy())
	if err != nil {
		return nil, err
	}
	a.manager.Wait()
	return a.manager.GetJob(ctx, job.ID)
}

// History returns up to limit jobs, newest first.
func (a *DocsyncApp) History(ctx context.Context, limit int) ([]*docsync.BackupJob, error) {
	return a.manager.RecentJobs(ctx, limit)
}

func (a *DocsyncApp) Settings(ctx context.Context) (docsync.Settings, error) {
	return a.manager.Settings(ctx)
}

func (a *DocsyncApp) UpdateSettings(ctx context.Context, patch docsync.SettingsPatch) (docsync.Settings, error) {
	return a.manager.UpdateSettings(ctx, patch)
}

// TestConnection checks the stored settings against the remote.
func (a *DocsyncApp) TestConnection(ctx context.Context) (docsync.ConnectionResult, error) {
	s, err := a.manager.Settings(ctx)
	if err != nil {
		return docsync.ConnectionResult{}, err
	}
	return a.manager.TestConnection(ctx, s), nil
}

// ListDocuments returns every document ordered by path.
func (a *DocsyncApp) ListDocuments(ctx context.Context) ([]*docsync.Document, error) {
	return a.db.ListDocuments(ctx)
}

// DocumentInput is the content of PutDocument.
type DocumentInput struct {
	Path       string
	Title      string
	Content    string
	ViewGroups []string
	EditGroups []string
	Summary    string
}

// PutDocument creates the document at in.Path or appends a new version to
// it. It reports whether the document was created.
func (a *DocsyncApp) PutDocument(ctx context.Context, in DocumentInput) (*docsync.Document, bool, error) {
	docPath := docsync.CleanPath(in.Path)
	if docPath == "" || in.Title == "" {
		return nil, false, errors.New("document path and title are required")
	}
	now := a.clock.Now().UTC()

	doc, err := a.db.FindDocumentByPath(ctx, docPath)
	if err != nil {
		return nil, false, fmt.Errorf("finding document: %w", err)
	}
	created := doc == nil
	if created {
		doc = &docsync.Document{Path: docPath, CreatedAt: now}
	}
	doc.Title = in.Title
	doc.Content = in.Content
	doc.ViewGroups = in.ViewGroups
	doc.EditGroups = in.EditGroups
	doc.UpdatedAt = now

	v := &docsync.Version{
		Title:         doc.Title,
		Content:       doc.Content,
		Path:          doc.Path,
		ViewGroups:    doc.ViewGroups,
		EditGroups:    doc.EditGroups,
		EditedBy:      a.op.TriggeredBy(),
		EditedAt:      now,
		ChangeSummary: in.Summary,
		ContentHash:   docsync.ContentHash(doc.HashInput()),
	}
	if created {
		err = a.db.CreateDocument(ctx, doc, v)
	} else {
		err = a.db.UpdateDocument(ctx, doc, v)
	}
	if err != nil {
		return nil, false, fmt.Errorf("saving document %s: %w", docPath, err)
	}
	a.logger.Info("document saved", "path", doc.Path, "version", v.Version)
	return doc, created, nil
}

// InitKeys generates the snapshot key pair.
func (a *DocsyncApp) InitKeys(passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Snapshot.Encryption)
	if err != nil {
		return err
	}
	if enc == nil {
		return errors.New("snapshot encryption is disabled (type \"none\")")
	}
	if enc.IsConfigured() {
		return errors.New("snapshot keys already exist")
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating snapshot keys: %w", err)
	}
	return nil
}

// SnapshotEncrypted reports whether restoring needs a passphrase.
func (a *DocsyncApp) SnapshotEncrypted() bool {
	return a.cfg.Snapshot.Encryption.Type != "none"
}

// RestoreSnapshot unpacks the snapshot stored under key into dest.
func (a *DocsyncApp) RestoreSnapshot(ctx context.Context, key, dest, passphrase string) error {
	archiver, enc, err := a.snapshots(ctx)
	if err != nil {
		return err
	}
	var dc snapshot.DecryptionContext
	if enc != nil {
		if dc, err = enc.Unlock(passphrase); err != nil {
			return fmt.Errorf("unlocking snapshot key: %w", err)
		}
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolving destination: %w", err)
	}
	return archiver.Restore(ctx, key, abs, dc)
}

// BackupDatabase writes a consistent copy of the database to dest.
func (a *DocsyncApp) BackupDatabase(ctx context.Context, dest string) error {
	return a.db.BackupTo(ctx, dest)
}

// Handler returns the HTTP API handler.
func (a *DocsyncApp) Handler() *api.Server {
	return api.NewServer(a.logger, a.manager, a.cfg.Server, a.registry)
}

// Serve runs the HTTP API and the backup scheduler until ctx is done, then
// waits for in-flight jobs.
func (a *DocsyncApp) Serve(ctx context.Context) error {
	if len(a.cfg.Server.APIKeys) == 0 {
		a.logger.Warn("no API keys configured; every API request will be rejected")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scheduler := docsync.NewScheduler(a.manager, a.cfg.AutoBackupInterval(), a.logger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	err := a.Handler().ListenAndServe(ctx)
	cancel()
	wg.Wait()
	a.manager.Wait()
	return err
}

// Close waits for in-flight jobs and releases the database and log file.
func (a *DocsyncApp) Close() error {
	if a.manager != nil {
		a.manager.Wait()
	}
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
