package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// WalkOptions controls Walk.
type WalkOptions struct {
	// SkipDirs are directory basenames that are never entered.
	SkipDirs []string
	// Ext keeps only files with this extension. Empty keeps every file.
	Ext string
	// Ignore, when set, drops matching files and directories.
	Ignore *IgnoreMatcher
}

// Walk returns the slash-separated paths, relative to root, of the regular
// files under root. Dot directories are skipped. The traversal uses an
// explicit stack so depth is bounded only by memory. Results are sorted.
func Walk(root string, opts WalkOptions) ([]string, error) {
	var files []string
	stack := []string{""}

	for len(stack) > 0 {
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("reading directory %q: %w", rel, err)
		}

		for _, entry := range entries {
			name := entry.Name()
			childRel := name
			if rel != "" {
				childRel = rel + "/" + name
			}

			if entry.IsDir() {
				if strings.HasPrefix(name, ".") || slices.Contains(opts.SkipDirs, name) {
					continue
				}
				if opts.Ignore.Match(childRel, true) {
					continue
				}
				stack = append(stack, childRel)
				continue
			}

			if !entry.Type().IsRegular() {
				continue
			}
			if opts.Ext != "" && !strings.HasSuffix(name, opts.Ext) {
				continue
			}
			if opts.Ignore.Match(childRel, false) {
				continue
			}
			files = append(files, childRel)
		}
	}

	slices.Sort(files)
	return files, nil
}

// PruneOptions controls Prune.
type PruneOptions struct {
	// Keep reports whether the file at a slash-separated relative path must
	// survive. A nil Keep keeps nothing.
	Keep func(rel string) bool
	// Ignore, when set, protects matching files and everything under
	// matching directories.
	Ignore *IgnoreMatcher
}

// Prune removes every regular file under root that opts does not keep, then
// removes directories left empty. Dot entries at any level (.git,
// .docsyncignore) are left alone. It returns the removed file paths.
func Prune(root string, opts PruneOptions) ([]string, error) {
	var removed []string
	var dirs []string
	stack := []string{""}

	for len(stack) > 0 {
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return removed, fmt.Errorf("reading directory %q: %w", rel, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			childRel := name
			if rel != "" {
				childRel = rel + "/" + name
			}
			if entry.IsDir() {
				if opts.Ignore.Match(childRel, true) {
					continue
				}
				stack = append(stack, childRel)
				dirs = append(dirs, childRel)
				continue
			}
			if opts.Ignore.Match(childRel, false) || (opts.Keep != nil && opts.Keep(childRel)) {
				continue
			}
			if err := os.Remove(filepath.Join(root, filepath.FromSlash(childRel))); err != nil {
				return removed, fmt.Errorf("removing %q: %w", childRel, err)
			}
			removed = append(removed, childRel)
		}
	}

	// Deepest first so parents empty out after their children.
	slices.SortFunc(dirs, func(a, b string) int {
		return strings.Count(b, "/") - strings.Count(a, "/")
	})
	for _, d := range dirs {
		full := filepath.Join(root, filepath.FromSlash(d))
		entries, err := os.ReadDir(full)
		if err != nil {
			return removed, fmt.Errorf("reading directory %q: %w", d, err)
		}
		if len(entries) == 0 {
			if err := os.Remove(full); err != nil {
				return removed, fmt.Errorf("removing directory %q: %w", d, err)
			}
		}
	}

	slices.Sort(removed)
	return removed, nil
}
