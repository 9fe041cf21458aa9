package docsync

import (
	"strings"
	"time"
)

// Document is a path-addressed content record. Its history lives in Version rows.
type Document struct {
	ID         int64
	Path       string
	Title      string
	Content    string
	ViewGroups []string
	EditGroups []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CleanPath returns the canonical form of a document path: slash-separated
// segments without leading, trailing or repeated slashes. Backslashes are
// treated as separators. Stores and the importer key documents by this form.
func CleanPath(p string) string {
	segments := strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
	return strings.Join(segments, "/")
}

// Version is one entry of a document's append-only history. It snapshots the
// fields that feed the content hash at the time of the edit.
type Version struct {
	ID            int64
	DocumentID    int64
	Version       int
	Title         string
	Content       string
	Path          string
	ViewGroups    []string
	EditGroups    []string
	EditedBy      string
	EditedAt      time.Time
	ChangeSummary string
	ContentHash   string
	IsDraft       bool
}

// Asset is a binary upload (usually an image) owned by a user.
type Asset struct {
	ID        int64
	Filename  string
	Mimetype  string
	Data      []byte
	UserID    int64
	CreatedAt time.Time
}

// User is the minimal identity needed to attribute assets and edits.
type User struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// HashInput returns the hashed fields of a document.
func (d *Document) HashInput() HashInput {
	return HashInput{
		Title:      d.Title,
		Content:    d.Content,
		Path:       d.Path,
		ViewGroups: d.ViewGroups,
		EditGroups: d.EditGroups,
	}
}

// HashInput returns the hashed fields of a version.
func (v *Version) HashInput() HashInput {
	return HashInput{
		Title:      v.Title,
		Content:    v.Content,
		Path:       v.Path,
		ViewGroups: v.ViewGroups,
		EditGroups: v.EditGroups,
	}
}
