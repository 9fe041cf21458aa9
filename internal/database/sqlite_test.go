package database

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"docsync-go/internal/docsync"
)

// newTestDB creates a new migrated in-memory database.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func createDoc(t *testing.T, db *SQLiteDatabase, path, title, content string) *docsync.Document {
	t.Helper()
	doc := &docsync.Document{
		Path:       path,
		Title:      title,
		Content:    content,
		ViewGroups: []string{"staff", "public"},
		CreatedAt:  testTime,
		UpdatedAt:  testTime,
	}
	first := &docsync.Version{
		Title:      title,
		Content:    content,
		ViewGroups: doc.ViewGroups,
		EditedBy:   "alice",
		EditedAt:   testTime,
	}
	if err := db.CreateDocument(context.Background(), doc, first); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	return doc
}

func TestSQLiteDatabase_Documents(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when document not found", func(t *testing.T) {
		db := newTestDB(t)
		doc, err := db.FindDocumentByPath(ctx, "missing")
		if err != nil {
			t.Fatalf("FindDocumentByPath() error = %v", err)
		}
		if doc != nil {
			t.Errorf("FindDocumentByPath() = %v, want nil", doc)
		}
	})

	t.Run("create stores document and version 1", func(t *testing.T) {
		db := newTestDB(t)
		created := createDoc(t, db, "guides/setup", "Setup", "<p>hi</p>")
		if created.ID == 0 {
			t.Fatal("expected document ID to be set")
		}

		found, err := db.FindDocumentByPath(ctx, "guides/setup")
		if err != nil || found == nil {
			t.Fatalf("FindDocumentByPath() = %v, %v", found, err)
		}
		if found.Title != "Setup" || found.Content != "<p>hi</p>" {
			t.Errorf("found = %+v", found)
		}
		if !slices.Equal(found.ViewGroups, []string{"staff", "public"}) {
			t.Errorf("ViewGroups = %v", found.ViewGroups)
		}
		if found.EditGroups != nil {
			t.Errorf("EditGroups = %v, want nil", found.EditGroups)
		}
		if !found.CreatedAt.Equal(testTime) {
			t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, testTime)
		}

		latest, err := db.LatestVersion(ctx, found.ID)
		if err != nil || latest == nil {
			t.Fatalf("LatestVersion() = %v, %v", latest, err)
		}
		if latest.Version != 1 || latest.EditedBy != "alice" || latest.Path != "guides/setup" {
			t.Errorf("latest = %+v", latest)
		}
	})

	t.Run("duplicate path is rejected", func(t *testing.T) {
		db := newTestDB(t)
		createDoc(t, db, "a", "A", "")
		err := db.CreateDocument(ctx, &docsync.Document{Path: "a", CreatedAt: testTime, UpdatedAt: testTime},
			&docsync.Version{EditedBy: "x", EditedAt: testTime})
		if err == nil {
			t.Error("expected error for duplicate path")
		}
	})

	t.Run("update appends next version", func(t *testing.T) {
		db := newTestDB(t)
		doc := createDoc(t, db, "a", "A", "one")

		for i, content := range []string{"two", "three"} {
			doc.Content = content
			doc.UpdatedAt = testTime.Add(time.Hour)
			next := &docsync.Version{Title: doc.Title, Content: content, EditedBy: "bob", EditedAt: doc.UpdatedAt, ContentHash: "h"}
			if err := db.UpdateDocument(ctx, doc, next); err != nil {
				t.Fatalf("UpdateDocument() error = %v", err)
			}
			if next.Version != i+2 {
				t.Errorf("next.Version = %d, want %d", next.Version, i+2)
			}
		}

		versions, err := db.ListVersions(ctx, doc.ID)
		if err != nil {
			t.Fatalf("ListVersions() error = %v", err)
		}
		if len(versions) != 3 {
			t.Fatalf("len(versions) = %d, want 3", len(versions))
		}
		for i, v := range versions {
			if v.Version != i+1 {
				t.Errorf("versions[%d].Version = %d", i, v.Version)
			}
		}
		found, _ := db.FindDocumentByPath(ctx, "a")
		if found.Content != "three" {
			t.Errorf("Content = %q, want three", found.Content)
		}
	})

	t.Run("update of missing document fails", func(t *testing.T) {
		db := newTestDB(t)
		err := db.UpdateDocument(ctx, &docsync.Document{ID: 42, Path: "x"}, &docsync.Version{EditedAt: testTime})
		if err == nil {
			t.Error("expected error for missing document")
		}
	})

	t.Run("set version hash", func(t *testing.T) {
		db := newTestDB(t)
		doc := createDoc(t, db, "a", "A", "")
		latest, _ := db.LatestVersion(ctx, doc.ID)
		if err := db.SetVersionHash(ctx, latest.ID, "abc"); err != nil {
			t.Fatalf("SetVersionHash() error = %v", err)
		}
		latest, _ = db.LatestVersion(ctx, doc.ID)
		if latest.ContentHash != "abc" {
			t.Errorf("ContentHash = %q, want abc", latest.ContentHash)
		}
	})

	t.Run("list is ordered by path", func(t *testing.T) {
		db := newTestDB(t)
		createDoc(t, db, "b", "B", "")
		createDoc(t, db, "a", "A", "")
		docs, err := db.ListDocuments(ctx)
		if err != nil {
			t.Fatalf("ListDocuments() error = %v", err)
		}
		if len(docs) != 2 || docs[0].Path != "a" || docs[1].Path != "b" {
			t.Errorf("ListDocuments() = %v", docs)
		}
	})
}

func TestSQLiteDatabase_AssetsAndUsers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if u, err := db.FindUserByName(ctx, "alice"); err != nil || u != nil {
		t.Fatalf("FindUserByName() = %v, %v; want nil, nil", u, err)
	}
	user, err := db.CreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	byID, err := db.FindUserByID(ctx, user.ID)
	if err != nil || byID == nil || byID.Name != "alice" {
		t.Fatalf("FindUserByID() = %v, %v", byID, err)
	}

	asset := &docsync.Asset{Filename: "logo.png", Mimetype: "image/png", Data: []byte{1, 2, 3}, UserID: user.ID, CreatedAt: testTime}
	if err := db.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("CreateAsset() error = %v", err)
	}
	if asset.ID == 0 {
		t.Fatal("expected asset ID to be set")
	}

	if err := db.UpdateAssetContent(ctx, asset.ID, []byte{9}, "image/gif"); err != nil {
		t.Fatalf("UpdateAssetContent() error = %v", err)
	}
	found, err := db.FindAssetByFilename(ctx, "logo.png")
	if err != nil || found == nil {
		t.Fatalf("FindAssetByFilename() = %v, %v", found, err)
	}
	if found.Mimetype != "image/gif" || !slices.Equal(found.Data, []byte{9}) {
		t.Errorf("found = %+v", found)
	}

	assets, err := db.ListAssets(ctx)
	if err != nil || len(assets) != 1 {
		t.Fatalf("ListAssets() = %v, %v", assets, err)
	}

	bad := &docsync.Asset{Filename: "x.png", Mimetype: "image/png", UserID: 999, CreatedAt: testTime}
	if err := db.CreateAsset(ctx, bad); err == nil {
		t.Error("expected foreign key error for unknown owner")
	}
}

func TestSQLiteDatabase_Jobs(t *testing.T) {
	ctx := context.Background()

	t.Run("update is ignored once terminal", func(t *testing.T) {
		db := newTestDB(t)
		job := &docsync.BackupJob{ID: "job-1", Status: docsync.JobPending, JobType: docsync.JobManual, TriggeredBy: "admin", StartedAt: testTime}
		if err := db.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}

		done := testTime.Add(time.Minute)
		job.Status = docsync.JobCompleted
		job.CompletedAt = &done
		job.CommitHash = "abc123"
		if err := db.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob() error = %v", err)
		}

		job.Status = docsync.JobFailed
		job.Error = "late failure"
		if err := db.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob() on terminal job error = %v", err)
		}

		found, err := db.FindJob(ctx, "job-1")
		if err != nil || found == nil {
			t.Fatalf("FindJob() = %v, %v", found, err)
		}
		if found.Status != docsync.JobCompleted || found.Error != "" || found.CommitHash != "abc123" {
			t.Errorf("found = %+v", found)
		}
		if found.CompletedAt == nil || !found.CompletedAt.Equal(done) {
			t.Errorf("CompletedAt = %v, want %v", found.CompletedAt, done)
		}
	})

	t.Run("update of unknown job fails", func(t *testing.T) {
		db := newTestDB(t)
		err := db.UpdateJob(ctx, &docsync.BackupJob{ID: "nope", Status: docsync.JobRunning})
		if err == nil {
			t.Error("expected error for unknown job")
		}
	})

	t.Run("recent jobs newest first with limit", func(t *testing.T) {
		db := newTestDB(t)
		for i := range 5 {
			job := &docsync.BackupJob{
				ID:        string(rune('a' + i)),
				Status:    docsync.JobPending,
				JobType:   docsync.JobAuto,
				StartedAt: testTime.Add(time.Duration(i) * time.Minute),
			}
			if err := db.CreateJob(ctx, job); err != nil {
				t.Fatalf("CreateJob() error = %v", err)
			}
		}

		jobs, err := db.ListRecentJobs(ctx, 3)
		if err != nil {
			t.Fatalf("ListRecentJobs() error = %v", err)
		}
		var ids []string
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		if !slices.Equal(ids, []string{"e", "d", "c"}) {
			t.Errorf("ListRecentJobs() ids = %v, want [e d c]", ids)
		}
	})

	t.Run("empty history is an empty slice", func(t *testing.T) {
		db := newTestDB(t)
		jobs, err := db.ListRecentJobs(ctx, 10)
		if err != nil {
			t.Fatalf("ListRecentJobs() error = %v", err)
		}
		if jobs == nil || len(jobs) != 0 {
			t.Errorf("ListRecentJobs() = %v, want empty slice", jobs)
		}
	})
}

func TestSQLiteDatabase_Settings(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	empty, err := db.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if empty != (docsync.Settings{}) {
		t.Errorf("GetSettings() on empty store = %+v", empty)
	}

	seed := docsync.Settings{BackupPath: "/var/lib/docsync/repo", BranchName: "main"}
	if err := db.SeedSettings(ctx, seed); err != nil {
		t.Fatalf("SeedSettings() error = %v", err)
	}

	want := docsync.Settings{
		GitRepoURL:      "git@example.com:docs.git",
		SSHKeyPath:      "/keys/id_ed25519",
		BackupPath:      "/srv/backup",
		BranchName:      "docs",
		Enabled:         true,
		IncludeVersions: true,
	}
	if err := db.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	// Seeding again must not clobber saved values.
	if err := db.SeedSettings(ctx, seed); err != nil {
		t.Fatalf("SeedSettings() error = %v", err)
	}

	got, err := db.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if got != want {
		t.Errorf("GetSettings() = %+v, want %+v", got, want)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := newTestDB(t)
	createDoc(t, db, "a", "A", "content")

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := db.BackupTo(context.Background(), dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copyDB, err := NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer copyDB.Close()

	doc, err := copyDB.FindDocumentByPath(context.Background(), "a")
	if err != nil || doc == nil || doc.Content != "content" {
		t.Errorf("backup document = %v, %v", doc, err)
	}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestSQLiteDatabase_CreateUserUsesClock(t *testing.T) {
	ctx := context.Background()
	db, err := NewSQLiteDatabase(":memory:", WithClock(fixedClock{t: testTime}))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	user, err := db.CreateUser(ctx, "git-import")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if !user.CreatedAt.Equal(testTime) {
		t.Errorf("CreatedAt = %v, want %v", user.CreatedAt, testTime)
	}

	stored, err := db.FindUserByID(ctx, user.ID)
	if err != nil || stored == nil {
		t.Fatalf("FindUserByID() = %v, %v", stored, err)
	}
	if !stored.CreatedAt.Equal(testTime) {
		t.Errorf("stored CreatedAt = %v, want %v", stored.CreatedAt, testTime)
	}
}

func TestSQLiteDatabase_CanonicalDocumentPaths(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	doc := createDoc(t, db, "/guides//intro/", "Intro", "x")
	if doc.Path != "guides/intro" {
		t.Errorf("stored path = %q, want guides/intro", doc.Path)
	}
	for _, lookup := range []string{"guides/intro", "/guides/intro", "guides//intro/"} {
		got, err := db.FindDocumentByPath(ctx, lookup)
		if err != nil || got == nil || got.ID != doc.ID {
			t.Errorf("FindDocumentByPath(%q) = %v, %v", lookup, got, err)
		}
	}
	latest, err := db.LatestVersion(ctx, doc.ID)
	if err != nil || latest == nil {
		t.Fatalf("LatestVersion() = %v, %v", latest, err)
	}
	if latest.Path != "guides/intro" {
		t.Errorf("version path = %q, want guides/intro", latest.Path)
	}

	empty := &docsync.Document{Path: "/", Title: "Root", CreatedAt: testTime, UpdatedAt: testTime}
	if err := db.CreateDocument(ctx, empty, &docsync.Version{Title: "Root", EditedBy: "x", EditedAt: testTime}); err == nil {
		t.Error("expected an error for an empty path")
	}
}
