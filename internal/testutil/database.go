package testutil

import (
	"context"
	"testing"

	"docsync-go/internal/database"
	"docsync-go/internal/docsync"
)

// NewTestDatabase creates a migrated in-memory SQLite database.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// DocOption customizes a document created by SeedDocument.
type DocOption func(*docsync.Document)

// WithGroups sets the view and edit groups of a seeded document.
func WithGroups(view, edit []string) DocOption {
	return func(d *docsync.Document) {
		d.ViewGroups = view
		d.EditGroups = edit
	}
}

// SeedDocument creates a document with a first version authored by "author"
// at the FixedClock time. The version carries no content hash, like rows
// written before hashing existed.
func SeedDocument(t *testing.T, db docsync.ContentStore, path, title, content string, opts ...DocOption) *docsync.Document {
	t.Helper()

	now := FixedClock().Now()
	doc := &docsync.Document{
		Path:      path,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(doc)
	}
	first := &docsync.Version{
		Title:      doc.Title,
		Content:    doc.Content,
		Path:       doc.Path,
		ViewGroups: doc.ViewGroups,
		EditGroups: doc.EditGroups,
		EditedBy:   "author",
		EditedAt:   now,
	}
	if err := db.CreateDocument(context.Background(), doc, first); err != nil {
		t.Fatalf("seeding document %s: %v", path, err)
	}
	return doc
}

// SeedAsset creates an asset owned by a user with the given name, creating
// the user if needed.
func SeedAsset(t *testing.T, db interface {
	docsync.AssetStore
	docsync.UserStore
}, owner, filename, mimetype string, data []byte) *docsync.Asset {
	t.Helper()
	ctx := context.Background()

	user, err := db.FindUserByName(ctx, owner)
	if err != nil {
		t.Fatalf("finding user: %v", err)
	}
	if user == nil {
		if user, err = db.CreateUser(ctx, owner); err != nil {
			t.Fatalf("creating user: %v", err)
		}
	}
	asset := &docsync.Asset{
		Filename:  filename,
		Mimetype:  mimetype,
		Data:      data,
		UserID:    user.ID,
		CreatedAt: FixedClock().Now(),
	}
	if err := db.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("seeding asset %s: %v", filename, err)
	}
	return asset
}
