package docsync

import "context"

// ContentStore provides documents and their version history.
// Lookups return nil, nil when the record does not exist.
type ContentStore interface {
	// ListDocuments returns every document ordered by path.
	ListDocuments(ctx context.Context) ([]*Document, error)

	// FindDocumentByPath returns the document with an exact path match.
	FindDocumentByPath(ctx context.Context, path string) (*Document, error)

	// ListVersions returns the versions of a document in ascending order.
	ListVersions(ctx context.Context, documentID int64) ([]*Version, error)

	// LatestVersion returns the highest-numbered version of a document.
	LatestVersion(ctx context.Context, documentID int64) (*Version, error)

	// CreateDocument inserts doc together with its first version in one
	// transaction. doc.ID, first.DocumentID and first.Version (1) are set.
	CreateDocument(ctx context.Context, doc *Document, first *Version) error

	// UpdateDocument writes the live fields of doc and appends next as the
	// version after the current latest, in one transaction. next.Version is set.
	UpdateDocument(ctx context.Context, doc *Document, next *Version) error

	// SetVersionHash stores a content hash on an existing version.
	SetVersionHash(ctx context.Context, versionID int64, hash string) error
}

// AssetStore provides binary uploads.
type AssetStore interface {
	// ListAssets returns every asset ordered by id, including its bytes.
	ListAssets(ctx context.Context) ([]*Asset, error)

	// FindAssetByFilename returns the asset with the given filename.
	FindAssetByFilename(ctx context.Context, filename string) (*Asset, error)

	// CreateAsset inserts a new asset and sets its ID.
	CreateAsset(ctx context.Context, asset *Asset) error

	// UpdateAssetContent replaces an asset's bytes and mimetype.
	UpdateAssetContent(ctx context.Context, id int64, data []byte, mimetype string) error
}

// UserStore resolves asset owners.
type UserStore interface {
	FindUserByID(ctx context.Context, id int64) (*User, error)
	FindUserByName(ctx context.Context, name string) (*User, error)
	CreateUser(ctx context.Context, name string) (*User, error)
}

// JobStore persists BackupJob records.
type JobStore interface {
	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, job *BackupJob) error

	// UpdateJob writes the mutable fields of a job. Updates to a job that is
	// already terminal are ignored.
	UpdateJob(ctx context.Context, job *BackupJob) error

	// FindJob returns a job by id.
	FindJob(ctx context.Context, id string) (*BackupJob, error)

	// ListRecentJobs returns up to limit jobs, newest first.
	ListRecentJobs(ctx context.Context, limit int) ([]*BackupJob, error)
}

// SettingsStore is the key-value settings collaborator.
type SettingsStore interface {
	// GetSettings returns the stored backup settings. Missing keys take
	// their zero value.
	GetSettings(ctx context.Context) (Settings, error)

	// SaveSettings writes every backup setting.
	SaveSettings(ctx context.Context, settings Settings) error
}

// Database is the full persistence surface used by the sync engine.
type Database interface {
	ContentStore
	AssetStore
	UserStore
	JobStore
	SettingsStore

	// Close closes the database connection.
	Close() error
}
