package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"docsync-go/internal/database/migrations"
	"docsync-go/internal/docsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements docsync.Database on SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock docsync.Clock
}

// Option configures a SQLiteDatabase.
type Option func(*SQLiteDatabase)

// WithClock sets the clock used for timestamps the store assigns itself.
func WithClock(clock docsync.Clock) Option {
	return func(s *SQLiteDatabase) {
		s.clock = clock
	}
}

func newSQLiteDatabase(db *sql.DB, path string, opts []Option) *SQLiteDatabase {
	s := &SQLiteDatabase{db: db, path: path, clock: docsync.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSQLiteDatabase opens the database at path (or ":memory:") and applies
// pending migrations.
func NewSQLiteDatabase(path string, opts ...Option) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return newSQLiteDatabase(db, path, opts), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, opts ...Option) *SQLiteDatabase {
	return newSQLiteDatabase(db, "", opts)
}

// OpenConnection opens and configures a SQLite connection.
// The pool is limited to one connection: SQLite serializes writers anyway,
// and an in-memory database exists only on the connection that created it.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure database (%s): %w", pragma, err)
		}
	}
	return db, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func encodeGroups(groups []string) string {
	if len(groups) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(groups)
	return string(data)
}

func decodeGroups(s string) ([]string, error) {
	var groups []string
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &groups); err != nil {
		return nil, fmt.Errorf("decoding groups: %w", err)
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return groups, nil
}

// Document operations

const documentColumns = `id, path, title, content, view_groups, edit_groups, created_at, updated_at`

func scanDocument(row rowScanner) (*docsync.Document, error) {
	var d docsync.Document
	var view, edit string
	if err := row.Scan(&d.ID, &d.Path, &d.Title, &d.Content, &view, &edit, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if d.ViewGroups, err = decodeGroups(view); err != nil {
		return nil, err
	}
	if d.EditGroups, err = decodeGroups(edit); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteDatabase) ListDocuments(ctx context.Context) ([]*docsync.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*docsync.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteDatabase) FindDocumentByPath(ctx context.Context, path string) (*docsync.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, docsync.CleanPath(path))
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding document by path: %w", err)
	}
	return d, nil
}

const versionColumns = `id, document_id, version, title, content, path, view_groups, edit_groups,
	edited_by, edited_at, change_summary, content_hash, is_draft`

func scanVersion(row rowScanner) (*docsync.Version, error) {
	var v docsync.Version
	var view, edit string
	err := row.Scan(&v.ID, &v.DocumentID, &v.Version, &v.Title, &v.Content, &v.Path, &view, &edit,
		&v.EditedBy, &v.EditedAt, &v.ChangeSummary, &v.ContentHash, &v.IsDraft)
	if err != nil {
		return nil, err
	}
	if v.ViewGroups, err = decodeGroups(view); err != nil {
		return nil, err
	}
	if v.EditGroups, err = decodeGroups(edit); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteDatabase) ListVersions(ctx context.Context, documentID int64) ([]*docsync.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions WHERE document_id = ? ORDER BY version`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var versions []*docsync.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *SQLiteDatabase) LatestVersion(ctx context.Context, documentID int64) (*docsync.Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions WHERE document_id = ? ORDER BY version DESC LIMIT 1`, documentID)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding latest version: %w", err)
	}
	return v, nil
}

// canonicalize rewrites the document and version paths to their stored form.
func canonicalize(doc *docsync.Document, v *docsync.Version) error {
	doc.Path = docsync.CleanPath(doc.Path)
	if doc.Path == "" {
		return errors.New("document path is empty")
	}
	if v.Path == "" {
		v.Path = doc.Path
	}
	v.Path = docsync.CleanPath(v.Path)
	return nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, v *docsync.Version) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, title, content, path, view_groups, edit_groups,
			edited_by, edited_at, change_summary, content_hash, is_draft)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.DocumentID, v.Version, v.Title, v.Content, v.Path, encodeGroups(v.ViewGroups), encodeGroups(v.EditGroups),
		v.EditedBy, v.EditedAt.UTC(), v.ChangeSummary, v.ContentHash, v.IsDraft)
	if err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}
	v.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteDatabase) CreateDocument(ctx context.Context, doc *docsync.Document, first *docsync.Version) error {
	if err := canonicalize(doc, first); err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (path, title, content, view_groups, edit_groups, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.Path, doc.Title, doc.Content, encodeGroups(doc.ViewGroups), encodeGroups(doc.EditGroups),
		doc.CreatedAt.UTC(), doc.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading document id: %w", err)
	}

	first.DocumentID = id
	first.Version = 1
	if err := insertVersion(ctx, tx, first); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	doc.ID = id
	return nil
}

func (s *SQLiteDatabase) UpdateDocument(ctx context.Context, doc *docsync.Document, next *docsync.Version) error {
	if err := canonicalize(doc, next); err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET path = ?, title = ?, content = ?, view_groups = ?, edit_groups = ?, updated_at = ?
		WHERE id = ?`,
		doc.Path, doc.Title, doc.Content, encodeGroups(doc.ViewGroups), encodeGroups(doc.EditGroups),
		doc.UpdatedAt.UTC(), doc.ID)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating document: document %d not found", doc.ID)
	}

	var latest int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM document_versions WHERE document_id = ?`, doc.ID).Scan(&latest); err != nil {
		return fmt.Errorf("reading latest version: %w", err)
	}

	next.DocumentID = doc.ID
	next.Version = latest + 1
	if err := insertVersion(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) SetVersionHash(ctx context.Context, versionID int64, hash string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE document_versions SET content_hash = ? WHERE id = ?`, hash, versionID); err != nil {
		return fmt.Errorf("setting version hash: %w", err)
	}
	return nil
}

// Asset operations

const assetColumns = `id, filename, mimetype, data, user_id, created_at`

func scanAsset(row rowScanner) (*docsync.Asset, error) {
	var a docsync.Asset
	if err := row.Scan(&a.ID, &a.Filename, &a.Mimetype, &a.Data, &a.UserID, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteDatabase) ListAssets(ctx context.Context) ([]*docsync.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()

	var assets []*docsync.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *SQLiteDatabase) FindAssetByFilename(ctx context.Context, filename string) (*docsync.Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE filename = ?`, filename))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding asset by filename: %w", err)
	}
	return a, nil
}

func (s *SQLiteDatabase) CreateAsset(ctx context.Context, asset *docsync.Asset) error {
	data := asset.Data
	if data == nil {
		data = []byte{}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (filename, mimetype, data, user_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		asset.Filename, asset.Mimetype, data, asset.UserID, asset.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating asset: %w", err)
	}
	asset.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteDatabase) UpdateAssetContent(ctx context.Context, id int64, data []byte, mimetype string) error {
	if data == nil {
		data = []byte{}
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE assets SET data = ?, mimetype = ? WHERE id = ?`, data, mimetype, id); err != nil {
		return fmt.Errorf("updating asset: %w", err)
	}
	return nil
}

// User operations

func (s *SQLiteDatabase) findUser(ctx context.Context, where string, arg any) (*docsync.User, error) {
	var u docsync.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteDatabase) FindUserByID(ctx context.Context, id int64) (*docsync.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *SQLiteDatabase) FindUserByName(ctx context.Context, name string) (*docsync.User, error) {
	return s.findUser(ctx, "name = ?", name)
}

func (s *SQLiteDatabase) CreateUser(ctx context.Context, name string) (*docsync.User, error) {
	u := &docsync.User{Name: name, CreatedAt: s.clock.Now().UTC()}
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (name, created_at) VALUES (?, ?)`, u.Name, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading user id: %w", err)
	}
	return u, nil
}

// Job operations

const jobColumns = `id, status, job_type, triggered_by, started_at, completed_at, error,
	commit_hash, result, export_path, snapshot_key`

func scanJob(row rowScanner) (*docsync.BackupJob, error) {
	var j docsync.BackupJob
	var completed sql.NullTime
	err := row.Scan(&j.ID, &j.Status, &j.JobType, &j.TriggeredBy, &j.StartedAt, &completed, &j.Error,
		&j.CommitHash, &j.Result, &j.ExportPath, &j.SnapshotKey)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *SQLiteDatabase) CreateJob(ctx context.Context, job *docsync.BackupJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_jobs (id, status, job_type, triggered_by, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.JobType, job.TriggeredBy, job.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpdateJob(ctx context.Context, job *docsync.BackupJob) error {
	var completed sql.NullTime
	if job.CompletedAt != nil {
		completed = sql.NullTime{Time: job.CompletedAt.UTC(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_jobs
		SET status = ?, completed_at = ?, error = ?, commit_hash = ?, result = ?, export_path = ?, snapshot_key = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		job.Status, completed, job.Error, job.CommitHash, job.Result, job.ExportPath, job.SnapshotKey, job.ID)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Nothing changed: either the job is terminal (ignored) or it does not exist.
	existing, err := s.FindJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("updating job: %w: %s", docsync.ErrJobNotFound, job.ID)
	}
	return nil
}

func (s *SQLiteDatabase) FindJob(ctx context.Context, id string) (*docsync.BackupJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM backup_jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding job: %w", err)
	}
	return j, nil
}

func (s *SQLiteDatabase) ListRecentJobs(ctx context.Context, limit int) ([]*docsync.BackupJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM backup_jobs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*docsync.BackupJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Settings operations

// Settings keys in the key-value table.
const (
	keyRepoURL         = "git_backup.repo_url"
	keySSHKeyPath      = "git_backup.ssh_key_path"
	keyBackupPath      = "git_backup.backup_path"
	keyBranchName      = "git_backup.branch_name"
	keyEnabled         = "git_backup.enabled"
	keyIncludeVersions = "git_backup.include_versions"
)

func settingsRows(s docsync.Settings) map[string]string {
	return map[string]string{
		keyRepoURL:         s.GitRepoURL,
		keySSHKeyPath:      s.SSHKeyPath,
		keyBackupPath:      s.BackupPath,
		keyBranchName:      s.BranchName,
		keyEnabled:         strconv.FormatBool(s.Enabled),
		keyIncludeVersions: strconv.FormatBool(s.IncludeVersions),
	}
}

func (s *SQLiteDatabase) GetSettings(ctx context.Context) (docsync.Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE key LIKE 'git_backup.%'`)
	if err != nil {
		return docsync.Settings{}, fmt.Errorf("reading settings: %w", err)
	}
	defer rows.Close()

	var out docsync.Settings
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return docsync.Settings{}, fmt.Errorf("scanning setting: %w", err)
		}
		switch key {
		case keyRepoURL:
			out.GitRepoURL = value
		case keySSHKeyPath:
			out.SSHKeyPath = value
		case keyBackupPath:
			out.BackupPath = value
		case keyBranchName:
			out.BranchName = value
		case keyEnabled:
			out.Enabled, _ = strconv.ParseBool(value)
		case keyIncludeVersions:
			out.IncludeVersions, _ = strconv.ParseBool(value)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) SaveSettings(ctx context.Context, settings docsync.Settings) error {
	return s.writeSettings(ctx, settings, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
}

// SeedSettings stores settings for keys that have never been written.
// Existing values are left alone.
func (s *SQLiteDatabase) SeedSettings(ctx context.Context, settings docsync.Settings) error {
	return s.writeSettings(ctx, settings, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO NOTHING`)
}

func (s *SQLiteDatabase) writeSettings(ctx context.Context, settings docsync.Settings, stmt string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for key, value := range settingsRows(settings) {
		if _, err := tx.ExecContext(ctx, stmt, key, value); err != nil {
			return fmt.Errorf("writing setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements docsync.Database interface
var _ docsync.Database = (*SQLiteDatabase)(nil)
