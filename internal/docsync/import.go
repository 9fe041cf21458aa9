package docsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"docsync-go/internal/fs"
)

// ImportIdentity is recorded as the editor of versions created by an import
// and is the name of the fallback asset owner.
const ImportIdentity = "git-import"

const initialImportSummary = "Initial import from git backup"

// ImportMode selects how existing documents are reconciled.
type ImportMode string

const (
	// ImportSmart skips documents whose content hash matches the latest version.
	ImportSmart ImportMode = "smart"
	// ImportForce always appends a new version.
	ImportForce ImportMode = "force"
)

// ParseImportMode accepts "smart" and "force". An empty string means smart.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(s) {
	case "", ImportSmart:
		return ImportSmart, nil
	case ImportForce:
		return ImportForce, nil
	default:
		return "", fmt.Errorf("unknown import mode: %q", s)
	}
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Imported         int      `json:"imported"`
	Updated          int      `json:"updated"`
	Skipped          int      `json:"skipped"`
	VersionsImported int      `json:"versionsImported"`
	ImagesImported   int      `json:"imagesImported"`
	Errors           []string `json:"errors"`
}

// AllFailed reports whether there was work and none of it succeeded.
func (r *ImportResult) AllFailed() bool {
	succeeded := r.Imported + r.Updated + r.Skipped + r.VersionsImported + r.ImagesImported
	return len(r.Errors) > 0 && succeeded == 0
}

func (r *ImportResult) fail(item string, err error, logger Logger) {
	logger.Warn("import item failed", "item", item, "error", err)
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", item, err))
}

// Importer reconciles an export tree with the content and asset stores.
type Importer struct {
	content ContentStore
	assets  AssetStore
	users   UserStore
	logger  Logger
	clock   Clock
}

// NewImporter creates an Importer.
func NewImporter(content ContentStore, assets AssetStore, users UserStore, logger Logger, clock Clock) *Importer {
	return &Importer{
		content: content,
		assets:  assets,
		users:   users,
		logger:  logger,
		clock:   clock,
	}
}

// Import walks root and reconciles every document file and asset. Per-item
// failures are recorded in the result and the walk continues. Version history
// under versions/ is replayed only for documents absent from the store.
func (im *Importer) Import(ctx context.Context, root string, mode ImportMode) (*ImportResult, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("import root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("import root is not a directory: %s", root)
	}

	ignore, err := fs.LoadIgnoreFile(root)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Errors: []string{}}

	if err := im.importVersions(ctx, root, ignore, result); err != nil {
		return nil, err
	}

	files, err := fs.Walk(root, fs.WalkOptions{
		SkipDirs: []string{ImagesDir, VersionsDir},
		Ext:      DocumentExt,
		Ignore:   ignore,
	})
	if err != nil {
		return nil, fmt.Errorf("walking import root: %w", err)
	}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := im.importFile(ctx, root, rel, mode, result); err != nil {
			result.fail(rel, err, im.logger)
		}
	}

	if err := im.importAssets(ctx, root, mode, ignore, result); err != nil {
		return nil, err
	}

	im.logger.Info("import finished",
		"mode", mode,
		"imported", result.Imported,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"versions", result.VersionsImported,
		"images", result.ImagesImported,
		"errors", len(result.Errors))
	return result, nil
}

// parsedFile is a document file decoded into the fields the store needs.
type parsedFile struct {
	header Header
	body   string
	path   string
	title  string
}

func (p *parsedFile) hashInput() HashInput {
	return HashInput{
		Title:      p.title,
		Content:    p.body,
		Path:       p.path,
		ViewGroups: p.header.ViewGroups,
		EditGroups: p.header.EditGroups,
	}
}

// parseFile reads and decodes one document file. rel is relative to base and
// used to derive the path and title when the header omits them.
func parseFile(base, rel string) (*parsedFile, error) {
	data, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	h, body, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}

	p := &parsedFile{header: h, body: body, path: CleanPath(h.Path), title: h.Title}
	if p.path == "" {
		p.path = PathFromFile(rel)
	}
	if p.title == "" {
		p.title = path.Base(PathFromFile(rel))
	}
	return p, nil
}

func (im *Importer) importFile(ctx context.Context, root, rel string, mode ImportMode, result *ImportResult) error {
	p, err := parseFile(root, rel)
	if errors.Is(err, ErrNoHeader) {
		im.logger.Debug("skipping file without metadata header", "file", rel)
		result.Skipped++
		return nil
	}
	if err != nil {
		return err
	}

	hash := ContentHash(p.hashInput())
	now := im.clock.Now().UTC()

	existing, err := im.content.FindDocumentByPath(ctx, p.path)
	if err != nil {
		return fmt.Errorf("looking up document: %w", err)
	}

	if existing == nil {
		doc := &Document{
			Path:       p.path,
			Title:      p.title,
			Content:    p.body,
			ViewGroups: p.header.ViewGroups,
			EditGroups: p.header.EditGroups,
			CreatedAt:  orTime(p.header.Created, now),
			UpdatedAt:  orTime(p.header.Date, now),
		}
		first := p.version(ImportIdentity, now, initialImportSummary, hash)
		if err := im.content.CreateDocument(ctx, doc, first); err != nil {
			return fmt.Errorf("creating document: %w", err)
		}
		im.logger.Debug("imported document", "path", p.path)
		result.Imported++
		return nil
	}

	if mode == ImportSmart {
		same, err := im.matchesLatest(ctx, existing, hash)
		if err != nil {
			return err
		}
		if same {
			result.Skipped++
			return nil
		}
		im.warnOnRevert(ctx, existing, hash)
	}

	existing.Title = p.title
	existing.Content = p.body
	existing.ViewGroups = p.header.ViewGroups
	existing.EditGroups = p.header.EditGroups
	existing.UpdatedAt = now

	summary := fmt.Sprintf("Updated from git backup (%s mode)", mode)
	next := p.version(ImportIdentity, now, summary, hash)
	if err := im.content.UpdateDocument(ctx, existing, next); err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	im.logger.Debug("updated document", "path", p.path, "version", next.Version)
	result.Updated++
	return nil
}

func (p *parsedFile) version(editedBy string, editedAt time.Time, summary, hash string) *Version {
	return &Version{
		Title:         p.title,
		Content:       p.body,
		Path:          p.path,
		ViewGroups:    p.header.ViewGroups,
		EditGroups:    p.header.EditGroups,
		EditedBy:      editedBy,
		EditedAt:      editedAt,
		ChangeSummary: summary,
		ContentHash:   hash,
		IsDraft:       p.header.IsDraft,
	}
}

// matchesLatest compares hash with the latest version's stored hash, computing
// it from the version when it was never stored.
func (im *Importer) matchesLatest(ctx context.Context, doc *Document, hash string) (bool, error) {
	latest, err := im.content.LatestVersion(ctx, doc.ID)
	if err != nil {
		return false, fmt.Errorf("loading latest version: %w", err)
	}
	if latest == nil {
		return ContentHash(doc.HashInput()) == hash, nil
	}
	stored := latest.ContentHash
	if stored == "" {
		if latest.Path == "" {
			latest.Path = doc.Path
		}
		stored = ContentHash(latest.HashInput())
	}
	return stored == hash, nil
}

// warnOnRevert logs when the incoming content equals an older version: the
// import is about to roll the document back.
func (im *Importer) warnOnRevert(ctx context.Context, doc *Document, hash string) {
	versions, err := im.content.ListVersions(ctx, doc.ID)
	if err != nil {
		im.logger.Warn("listing versions for revert check", "path", doc.Path, "error", err)
		return
	}
	for _, v := range versions[:max(len(versions)-1, 0)] {
		if v.ContentHash == hash {
			im.logger.Warn("import reverts document to an older version",
				"path", doc.Path, "matching_version", v.Version)
			return
		}
	}
}

// importVersions replays exported history for documents the store does not
// have yet, oldest version first.
func (im *Importer) importVersions(ctx context.Context, root string, ignore *fs.IgnoreMatcher, result *ImportResult) error {
	versionsRoot := filepath.Join(root, VersionsDir)
	if info, err := os.Stat(versionsRoot); err != nil || !info.IsDir() {
		return nil
	}

	files, err := fs.Walk(versionsRoot, fs.WalkOptions{Ext: DocumentExt, Ignore: ignore})
	if err != nil {
		return fmt.Errorf("walking versions: %w", err)
	}

	byPath := make(map[string][]*parsedFile)
	for _, rel := range files {
		p, err := parseFile(versionsRoot, rel)
		if err != nil {
			result.fail(VersionsDir+"/"+rel, err, im.logger)
			continue
		}
		if p.header.Version < 1 {
			result.fail(VersionsDir+"/"+rel, errors.New("version file has no version number"), im.logger)
			continue
		}
		byPath[p.path] = append(byPath[p.path], p)
	}

	paths := make([]string, 0, len(byPath))
	for docPath := range byPath {
		paths = append(paths, docPath)
	}
	slices.Sort(paths)

	for _, docPath := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := im.replayHistory(ctx, docPath, byPath[docPath])
		result.VersionsImported += n
		if err != nil {
			result.fail(VersionsDir+"/"+docPath, err, im.logger)
		}
	}
	return nil
}

func (im *Importer) replayHistory(ctx context.Context, docPath string, history []*parsedFile) (int, error) {
	existing, err := im.content.FindDocumentByPath(ctx, docPath)
	if err != nil {
		return 0, fmt.Errorf("looking up document: %w", err)
	}
	if existing != nil {
		return 0, nil
	}

	slices.SortFunc(history, func(a, b *parsedFile) int {
		return a.header.Version - b.header.Version
	})

	now := im.clock.Now().UTC()
	var doc *Document
	for i, p := range history {
		if i > 0 && p.header.Version == history[i-1].header.Version {
			return i, fmt.Errorf("duplicate version %d", p.header.Version)
		}
		editedBy := p.header.EditedBy
		if editedBy == "" {
			editedBy = ImportIdentity
		}
		editedAt := orTime(p.header.Date, now)
		v := p.version(editedBy, editedAt, p.header.ChangeSummary, ContentHash(p.hashInput()))

		if doc == nil {
			doc = &Document{
				Path:       docPath,
				Title:      p.title,
				Content:    p.body,
				ViewGroups: p.header.ViewGroups,
				EditGroups: p.header.EditGroups,
				CreatedAt:  orTime(p.header.Created, editedAt),
				UpdatedAt:  editedAt,
			}
			if err := im.content.CreateDocument(ctx, doc, v); err != nil {
				return i, fmt.Errorf("creating document from version %d: %w", p.header.Version, err)
			}
			continue
		}

		doc.Title = p.title
		doc.Content = p.body
		doc.ViewGroups = p.header.ViewGroups
		doc.EditGroups = p.header.EditGroups
		doc.UpdatedAt = editedAt
		if err := im.content.UpdateDocument(ctx, doc, v); err != nil {
			return i, fmt.Errorf("replaying version %d: %w", p.header.Version, err)
		}
	}
	im.logger.Debug("replayed document history", "path", docPath, "versions", len(history))
	return len(history), nil
}

// importAssets reconciles images/<name> files that have a .meta sidecar.
func (im *Importer) importAssets(ctx context.Context, root string, mode ImportMode, ignore *fs.IgnoreMatcher, result *ImportResult) error {
	dir := filepath.Join(root, ImagesDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading images directory: %w", err)
	}

	owners := &assetOwners{im: im}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, MetaExt) {
			continue
		}
		if ignore.Match(ImagesDir+"/"+name, false) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		written, err := im.importAsset(ctx, dir, name, mode, owners)
		if err != nil {
			result.fail(ImagesDir+"/"+name, err, im.logger)
			continue
		}
		if written {
			result.ImagesImported++
		}
	}
	return nil
}

// importAsset creates or rewrites one asset. It reports whether the store
// was written.
func (im *Importer) importAsset(ctx context.Context, dir, name string, mode ImportMode, owners *assetOwners) (bool, error) {
	metaData, err := os.ReadFile(filepath.Join(dir, name+MetaExt))
	if os.IsNotExist(err) {
		im.logger.Debug("skipping asset without metadata sidecar", "file", name)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading metadata: %w", err)
	}
	var meta AssetMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return false, fmt.Errorf("parsing metadata: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return false, fmt.Errorf("reading asset: %w", err)
	}

	filename := meta.Filename
	if filename == "" {
		filename = name
	}
	mimetype := meta.Mimetype
	if mimetype == "" {
		mimetype = mime.TypeByExtension(filepath.Ext(name))
	}
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}

	existing, err := im.assets.FindAssetByFilename(ctx, filename)
	if err != nil {
		return false, fmt.Errorf("looking up asset: %w", err)
	}

	if existing != nil {
		if mode == ImportSmart && existing.Mimetype == mimetype && bytes.Equal(existing.Data, data) {
			return false, nil
		}
		if err := im.assets.UpdateAssetContent(ctx, existing.ID, data, mimetype); err != nil {
			return false, fmt.Errorf("updating asset: %w", err)
		}
		return true, nil
	}

	ownerID, err := owners.resolve(ctx, meta.UserName)
	if err != nil {
		return false, err
	}
	createdAt := im.clock.Now().UTC()
	if t, err := parseHeaderTime(meta.CreatedAt); err == nil && !t.IsZero() {
		createdAt = t
	}
	asset := &Asset{
		Filename:  filename,
		Mimetype:  mimetype,
		Data:      data,
		UserID:    ownerID,
		CreatedAt: createdAt,
	}
	if err := im.assets.CreateAsset(ctx, asset); err != nil {
		return false, fmt.Errorf("creating asset: %w", err)
	}
	return true, nil
}

// assetOwners maps sidecar owner names to user ids. Owners that do not exist
// locally are attributed to the import user, created on first use.
type assetOwners struct {
	im         *Importer
	importUser *User
}

func (o *assetOwners) resolve(ctx context.Context, name string) (int64, error) {
	if name != "" && name != "unknown" {
		user, err := o.im.users.FindUserByName(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("looking up owner: %w", err)
		}
		if user != nil {
			return user.ID, nil
		}
	}

	if o.importUser == nil {
		user, err := o.im.users.FindUserByName(ctx, ImportIdentity)
		if err != nil {
			return 0, fmt.Errorf("looking up import user: %w", err)
		}
		if user == nil {
			if user, err = o.im.users.CreateUser(ctx, ImportIdentity); err != nil {
				return 0, fmt.Errorf("creating import user: %w", err)
			}
			o.im.logger.Info("created import user", "name", ImportIdentity)
		}
		o.importUser = user
	}
	return o.importUser.ID, nil
}

func orTime(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
