package docsync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"docsync-go/internal/fs"
)

// Reserved names in the export tree.
const (
	ImagesDir    = "images"
	VersionsDir  = "versions"
	MetaExt      = ".meta"
	ManifestFile = "manifest.json"

	// ManifestVersion is the export format version recorded in the manifest.
	ManifestVersion = "1.0"
)

// Manifest documents the layout of an export tree. The importer does not read it.
type Manifest struct {
	ExportedAt string            `json:"exportedAt"`
	Version    string            `json:"version"`
	Structure  map[string]string `json:"structure"`
}

var manifestStructure = map[string]string{
	"<path>/<title>.html":             "one file per document; directories mirror all but the last path segment; metadata header in a leading HTML comment",
	"images/<filename>":               "binary assets",
	"images/<filename>.meta":          "JSON sidecar: id, filename, mimetype, createdAt, userId, userName",
	"versions/<path>/<title>.vN.html": "historical versions, present when version export is enabled",
	ManifestFile:                      "this file",
}

// AssetMeta is the JSON sidecar written next to each exported asset.
type AssetMeta struct {
	ID        int64  `json:"id"`
	Filename  string `json:"filename"`
	Mimetype  string `json:"mimetype"`
	CreatedAt string `json:"createdAt"`
	UserID    int64  `json:"userId"`
	UserName  string `json:"userName"`
}

// ExportOptions controls an export run.
type ExportOptions struct {
	IncludeVersions bool
}

// ExportResult summarizes an export run.
type ExportResult struct {
	Documents int      `json:"documents"`
	Versions  int      `json:"versions"`
	Assets    int      `json:"assets"`
	Removed   int      `json:"removed"`
	Errors    []string `json:"errors,omitempty"`
	// Changed reports whether any file in the tree was written or removed.
	Changed bool `json:"changed"`
}

// AllFailed reports whether there was work and none of it succeeded.
func (r *ExportResult) AllFailed() bool {
	return len(r.Errors) > 0 && r.Documents+r.Versions+r.Assets == 0
}

// Exporter renders the content and asset stores into a file tree.
type Exporter struct {
	content ContentStore
	assets  AssetStore
	users   UserStore
	logger  Logger
	clock   Clock
}

// NewExporter creates an Exporter.
func NewExporter(content ContentStore, assets AssetStore, users UserStore, logger Logger, clock Clock) *Exporter {
	return &Exporter{
		content: content,
		assets:  assets,
		users:   users,
		logger:  logger,
		clock:   clock,
	}
}

// exportRun carries per-run bookkeeping.
type exportRun struct {
	root    string
	opts    ExportOptions
	result  *ExportResult
	written map[string]bool // relative paths produced by this run
	owners  map[int64]string

	// Files of items that failed this run keep their previous export.
	held        map[string]bool
	heldHistory map[string]bool // document bases under VersionsDir
}

// hold protects the previously exported files of a failed item from pruning.
func (r *exportRun) hold(rels ...string) {
	for _, rel := range rels {
		r.held[rel] = true
	}
}

func (r *exportRun) holdDocument(base string) {
	r.hold(base + DocumentExt)
	r.heldHistory[base] = true
}

func (r *exportRun) claimed(rel string) bool {
	return r.written[rel] || r.held[rel]
}

// keep reports whether pruning must leave rel alone: it was written or held
// this run, or it is not a file the exporter manages.
func (r *exportRun) keep(rel string) bool {
	if r.claimed(rel) || !managedFile(rel) {
		return true
	}
	stem, ok := strings.CutPrefix(rel, VersionsDir+"/")
	if !ok {
		return false
	}
	stem = strings.TrimSuffix(stem, DocumentExt)
	if loc := versionSuffix.FindStringIndex(stem); loc != nil {
		return r.heldHistory[stem[:loc[0]]]
	}
	return false
}

// managedFile reports whether rel is a path the exporter produces: document
// files and everything under the asset and history directories.
func managedFile(rel string) bool {
	return strings.HasSuffix(rel, DocumentExt) ||
		strings.HasPrefix(rel, ImagesDir+"/") ||
		strings.HasPrefix(rel, VersionsDir+"/")
}

// Export writes every document and asset under root and removes files that
// no longer correspond to anything in the stores. Files whose bytes are
// unchanged are not rewritten. Per-item failures are recorded in the result
// and leave that item's previous files in place; only store listing and tree
// maintenance failures abort the export. Files the exporter does not produce
// and paths matched by the ignore file are never removed.
func (e *Exporter) Export(ctx context.Context, root string, opts ExportOptions) (*ExportResult, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating export root: %w", err)
	}

	run := &exportRun{
		root:    root,
		opts:    opts,
		result:  &ExportResult{},
		written: map[string]bool{ManifestFile: true},
		owners:  make(map[int64]string),

		held:        make(map[string]bool),
		heldHistory: make(map[string]bool),
	}

	ignore, err := fs.LoadIgnoreFile(root)
	if err != nil {
		return nil, fmt.Errorf("loading ignore file: %w", err)
	}

	docs, err := e.content.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	for _, doc := range docs {
		if err := e.exportDocument(ctx, run, doc); err != nil {
			run.fail("document "+doc.Path, err, e.logger)
		}
	}

	assets, err := e.assets.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	for _, asset := range assets {
		if err := e.exportAsset(ctx, run, asset); err != nil {
			run.fail("asset "+asset.Filename, err, e.logger)
		}
	}

	removed, err := fs.Prune(root, fs.PruneOptions{Keep: run.keep, Ignore: ignore})
	if err != nil {
		return nil, fmt.Errorf("pruning stale files: %w", err)
	}
	for _, rel := range removed {
		e.logger.Debug("removed stale file", "file", rel)
	}
	run.result.Removed = len(removed)
	if len(removed) > 0 {
		run.result.Changed = true
	}

	wrote, err := e.writeManifest(root, run.result.Changed)
	if err != nil {
		return nil, err
	}
	if wrote {
		run.result.Changed = true
	}

	e.logger.Info("export finished",
		"documents", run.result.Documents,
		"versions", run.result.Versions,
		"assets", run.result.Assets,
		"removed", run.result.Removed,
		"errors", len(run.result.Errors),
		"changed", run.result.Changed)
	return run.result, nil
}

func (r *exportRun) fail(item string, err error, logger Logger) {
	logger.Warn("export item failed", "item", item, "error", err)
	r.result.Errors = append(r.result.Errors, fmt.Sprintf("%s: %v", item, err))
}

func (r *exportRun) write(rel string, data []byte) error {
	if r.written[rel] {
		return fmt.Errorf("%s already written by another item", rel)
	}
	changed, err := fs.WriteFileIfChanged(filepath.Join(r.root, filepath.FromSlash(rel)), data, 0o644)
	if err != nil {
		return err
	}
	r.written[rel] = true
	if changed {
		r.result.Changed = true
	}
	return nil
}

// documentFile returns the tree-relative file path of a document without the
// extension. Two documents with the same directory and title are told apart
// by the document id.
func (r *exportRun) documentFile(doc *Document) (string, error) {
	clean := CleanPath(doc.Path)
	if clean == "" {
		return "", fmt.Errorf("empty path")
	}
	segments := strings.Split(clean, "/")
	for _, seg := range segments {
		if strings.HasPrefix(seg, ".") {
			return "", fmt.Errorf("unsafe path segment %q", seg)
		}
	}
	dirs := segments[:len(segments)-1]
	if len(dirs) > 0 && (dirs[0] == ImagesDir || dirs[0] == VersionsDir) {
		return "", fmt.Errorf("path collides with reserved directory %q", dirs[0])
	}

	base := path.Join(append(dirs, SanitizeFilename(doc.Title))...)
	if r.claimed(base + DocumentExt) {
		base += "-" + strconv.FormatInt(doc.ID, 10)
	}
	return base, nil
}

func (e *Exporter) exportDocument(ctx context.Context, run *exportRun, doc *Document) (err error) {
	e.backfillHash(ctx, doc)

	base, err := run.documentFile(doc)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			run.holdDocument(base)
		}
	}()

	h := Header{
		Title:      doc.Title,
		Path:       CleanPath(doc.Path),
		Published:  true,
		Date:       doc.UpdatedAt,
		Created:    doc.CreatedAt,
		EditGroups: doc.EditGroups,
		ViewGroups: doc.ViewGroups,
	}
	if err := run.write(base+DocumentExt, EncodeDocument(h, doc.Content)); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	run.result.Documents++

	if !run.opts.IncludeVersions {
		return nil
	}

	versions, err := e.content.ListVersions(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("listing versions: %w", err)
	}
	for _, v := range versions {
		vh := Header{
			Title:         v.Title,
			Path:          CleanPath(doc.Path),
			Published:     true,
			Date:          v.EditedAt,
			Created:       doc.CreatedAt,
			EditGroups:    v.EditGroups,
			ViewGroups:    v.ViewGroups,
			Version:       v.Version,
			EditedBy:      v.EditedBy,
			ChangeSummary: v.ChangeSummary,
			IsDraft:       v.IsDraft,
		}
		rel := fmt.Sprintf("%s/%s.v%d%s", VersionsDir, base, v.Version, DocumentExt)
		if err := run.write(rel, EncodeDocument(vh, v.Content)); err != nil {
			return fmt.Errorf("writing version %d: %w", v.Version, err)
		}
		run.result.Versions++
	}
	return nil
}

// backfillHash stores the content hash on the latest version when it is
// missing. Failures are logged; they do not affect the export.
func (e *Exporter) backfillHash(ctx context.Context, doc *Document) {
	latest, err := e.content.LatestVersion(ctx, doc.ID)
	if err != nil {
		e.logger.Warn("loading latest version for hash backfill", "path", doc.Path, "error", err)
		return
	}
	if latest == nil || latest.ContentHash != "" {
		return
	}
	if latest.Path == "" {
		latest.Path = doc.Path
	}
	hash := ContentHash(latest.HashInput())
	if err := e.content.SetVersionHash(ctx, latest.ID, hash); err != nil {
		e.logger.Warn("backfilling content hash", "path", doc.Path, "version", latest.Version, "error", err)
		return
	}
	e.logger.Debug("backfilled content hash", "path", doc.Path, "version", latest.Version)
}

func (e *Exporter) exportAsset(ctx context.Context, run *exportRun, asset *Asset) (err error) {
	name := path.Base(strings.ReplaceAll(asset.Filename, "\\", "/"))
	if name == "" || name == "." || name == "/" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, MetaExt) {
		return fmt.Errorf("unsafe filename %q", asset.Filename)
	}
	rel := ImagesDir + "/" + name
	defer func() {
		if err != nil {
			run.hold(rel, rel+MetaExt)
		}
	}()

	meta := AssetMeta{
		ID:        asset.ID,
		Filename:  asset.Filename,
		Mimetype:  asset.Mimetype,
		CreatedAt: formatHeaderTime(asset.CreatedAt),
		UserID:    asset.UserID,
		UserName:  e.ownerName(ctx, run, asset.UserID),
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	if err := run.write(rel, asset.Data); err != nil {
		return fmt.Errorf("writing asset: %w", err)
	}
	if err := run.write(rel+MetaExt, append(metaData, '\n')); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	run.result.Assets++
	return nil
}

func (e *Exporter) ownerName(ctx context.Context, run *exportRun, userID int64) string {
	if name, ok := run.owners[userID]; ok {
		return name
	}
	name := "unknown"
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		e.logger.Warn("resolving asset owner", "user_id", userID, "error", err)
	} else if user != nil {
		name = user.Name
	}
	run.owners[userID] = name
	return name
}

// writeManifest rewrites the manifest when the tree changed or the existing
// manifest is missing or from another format version. Otherwise the old
// timestamp is kept so an unchanged tree stays byte-identical.
func (e *Exporter) writeManifest(root string, changed bool) (bool, error) {
	manifestPath := filepath.Join(root, ManifestFile)
	if !changed {
		if data, err := os.ReadFile(manifestPath); err == nil {
			var existing Manifest
			if json.Unmarshal(data, &existing) == nil && existing.Version == ManifestVersion {
				return false, nil
			}
		}
	}

	m := Manifest{
		ExportedAt: formatHeaderTime(e.clock.Now()),
		Version:    ManifestVersion,
		Structure:  manifestStructure,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := fs.WriteFileAtomic(manifestPath, append(data, '\n'), 0o644); err != nil {
		return false, fmt.Errorf("writing manifest: %w", err)
	}
	return true, nil
}
