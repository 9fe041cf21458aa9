package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"docsync-go/internal/docsync"
)

// ArchiveExt is the key suffix of every snapshot before encryption.
const ArchiveExt = ".tar.gz"

// Archiver implements docsync.Snapshotter. It archives a working copy
// (without .git), encrypts it when an Encryptor is set, and stores it in a
// Vault under "<commit>.tar.gz[<encryptor extension>]".
type Archiver struct {
	vault     Vault
	encryptor Encryptor
	logger    docsync.Logger
}

var _ docsync.Snapshotter = (*Archiver)(nil)

// NewArchiver creates an Archiver. encryptor may be nil.
func NewArchiver(vault Vault, encryptor Encryptor, logger docsync.Logger) *Archiver {
	if logger == nil {
		logger = docsync.NewNopLogger()
	}
	return &Archiver{vault: vault, encryptor: encryptor, logger: logger}
}

// Key returns the vault key for a commit.
func (a *Archiver) Key(commit string) string {
	key := commit + ArchiveExt
	if a.encryptor != nil {
		key += a.encryptor.Extension()
	}
	return key
}

func (a *Archiver) Snapshot(ctx context.Context, dir, commit string) (string, error) {
	if commit == "" || commit == docsync.NoChangesCommit {
		return "", fmt.Errorf("snapshot needs a commit hash, got %q", commit)
	}

	spool, err := os.CreateTemp("", "docsync-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("creating spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	if a.encryptor == nil {
		if err := writeArchive(ctx, dir, spool); err != nil {
			return "", err
		}
	} else {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(writeArchive(ctx, dir, pw))
		}()
		err := a.encryptor.Encrypt(pr, spool)
		pr.CloseWithError(err)
		if err != nil {
			return "", fmt.Errorf("encrypting snapshot: %w", err)
		}
	}

	size, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", fmt.Errorf("sizing snapshot: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding snapshot: %w", err)
	}

	key := a.Key(commit)
	if err := a.vault.Put(ctx, key, spool, size); err != nil {
		return "", fmt.Errorf("storing snapshot %s: %w", key, err)
	}
	a.logger.Info("stored snapshot", "key", key, "bytes", size)
	return key, nil
}

// Restore fetches the snapshot stored under key and unpacks it into dest,
// which must be empty or absent. dc decrypts the archive and may be nil for
// plaintext snapshots.
func (a *Archiver) Restore(ctx context.Context, key, dest string, dc DecryptionContext) error {
	if entries, err := os.ReadDir(dest); err == nil && len(entries) > 0 {
		return fmt.Errorf("restore destination %s is not empty", dest)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating restore destination: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.vault.Get(ctx, key, pw))
	}()
	defer pr.Close()

	var archive io.Reader = pr
	if dc != nil {
		dr, dw := io.Pipe()
		go func() {
			dw.CloseWithError(dc.Decrypt(pr, dw))
		}()
		defer dr.Close()
		archive = dr
	}

	if err := extractArchive(ctx, archive, dest); err != nil {
		return fmt.Errorf("restoring %s: %w", key, err)
	}
	a.logger.Info("restored snapshot", "key", key, "dest", dest)
	return nil
}

// writeArchive writes dir as a gzip-compressed tar stream. Paths are
// slash-separated and relative to dir; .git is left out.
func writeArchive(ctx context.Context, dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("archiving %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip stream: %w", err)
	}
	return nil
}

func extractArchive(ctx context.Context, r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := entryPath(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported tar entry %s (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
}

// entryPath resolves a tar entry name under dest, rejecting names that
// would land outside it.
func entryPath(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("tar entry %q escapes destination", name)
	}
	return filepath.Join(dest, clean), nil
}

func writeEntry(path string, r io.Reader, perm fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
