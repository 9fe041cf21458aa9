package fs

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"home.html":                     "x",
		"guides/setup.html":             "x",
		"guides/deep/a/b/c/d.html":      "x",
		"guides/notes.txt":              "x",
		"images/logo.png":               "x",
		"versions/guides/setup.v1.html": "x",
		".git/HEAD":                     "x",
		"drafts/wip.html":               "x",
		IgnoreFileName:                  "drafts/\n",
	})

	ignore, err := LoadIgnoreFile(root)
	if err != nil {
		t.Fatalf("LoadIgnoreFile() error = %v", err)
	}

	got, err := Walk(root, WalkOptions{
		SkipDirs: []string{"images", "versions"},
		Ext:      ".html",
		Ignore:   ignore,
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []string{"guides/deep/a/b/c/d.html", "guides/setup.html", "home.html"}
	if !slices.Equal(got, want) {
		t.Errorf("Walk() = %v, want %v", got, want)
	}
}

func TestWalk_DeepTree(t *testing.T) {
	root := t.TempDir()
	rel := strings.Repeat("d/", 200) + "leaf.html"
	writeTree(t, root, map[string]string{rel: "x"})

	got, err := Walk(root, WalkOptions{Ext: ".html"})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(got) != 1 || got[0] != rel {
		t.Errorf("Walk() = %v, want [%s]", got, rel)
	}
}

func TestWalk_MissingRoot(t *testing.T) {
	if _, err := Walk(filepath.Join(t.TempDir(), "missing"), WalkOptions{}); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestPrune(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.html":         "x",
		"old/gone.html":     "x",
		"guides/keep.html":  "x",
		"guides/stale.html": "x",
		".git/HEAD":         "x",
		IgnoreFileName:      "x",
	})

	keep := map[string]bool{"keep.html": true, "guides/keep.html": true}
	removed, err := Prune(root, PruneOptions{Keep: func(rel string) bool { return keep[rel] }})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	want := []string{"guides/stale.html", "old/gone.html"}
	if !slices.Equal(removed, want) {
		t.Errorf("Prune() removed %v, want %v", removed, want)
	}
	if _, err := os.Stat(filepath.Join(root, "old")); !os.IsNotExist(err) {
		t.Error("expected empty directory old/ to be removed")
	}
	for _, kept := range []string{"keep.html", "guides/keep.html", ".git/HEAD", IgnoreFileName} {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(kept))); err != nil {
			t.Errorf("expected %s to survive: %v", kept, err)
		}
	}
}

func TestPrune_Ignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"README.md":          "x",
		"drafts/wip.html":    "x",
		"drafts/nested/a.md": "x",
		"stale.html":         "x",
	})

	ignore := NewIgnoreMatcher([]string{"README.md", "drafts/"})
	removed, err := Prune(root, PruneOptions{Ignore: ignore})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if !slices.Equal(removed, []string{"stale.html"}) {
		t.Errorf("Prune() removed %v, want [stale.html]", removed)
	}
	for _, kept := range []string{"README.md", "drafts/wip.html", "drafts/nested/a.md"} {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(kept))); err != nil {
			t.Errorf("expected %s to survive: %v", kept, err)
		}
	}
}
