package docsync_test

import (
	"testing"

	"docsync-go/internal/docsync"
)

func TestContentHash(t *testing.T) {
	base := docsync.HashInput{
		Title:      "Runbook",
		Content:    "<p>restart it</p>",
		Path:       "ops/runbook",
		ViewGroups: []string{"ops", "admins"},
		EditGroups: []string{"admins"},
	}
	want := docsync.ContentHash(base)

	if len(want) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(want))
	}

	t.Run("is stable", func(t *testing.T) {
		if got := docsync.ContentHash(base); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("ignores group order", func(t *testing.T) {
		in := base
		in.ViewGroups = []string{"admins", "ops"}
		if got := docsync.ContentHash(in); got != want {
			t.Error("reordered groups changed the hash")
		}
	})

	t.Run("does not sort the caller's slice", func(t *testing.T) {
		groups := []string{"b", "a"}
		docsync.ContentHash(docsync.HashInput{ViewGroups: groups})
		if groups[0] != "b" {
			t.Error("input slice was modified")
		}
	})

	t.Run("nil and empty groups match", func(t *testing.T) {
		a := docsync.ContentHash(docsync.HashInput{Title: "x"})
		b := docsync.ContentHash(docsync.HashInput{Title: "x", ViewGroups: []string{}, EditGroups: []string{}})
		if a != b {
			t.Error("nil and empty group lists hash differently")
		}
	})

	tests := []struct {
		name   string
		mutate func(*docsync.HashInput)
	}{
		{"title", func(in *docsync.HashInput) { in.Title = "Runbook 2" }},
		{"content", func(in *docsync.HashInput) { in.Content = "<p>reboot it</p>" }},
		{"path", func(in *docsync.HashInput) { in.Path = "ops/old-runbook" }},
		{"view groups", func(in *docsync.HashInput) { in.ViewGroups = []string{"ops"} }},
		{"edit groups", func(in *docsync.HashInput) { in.EditGroups = nil }},
	}
	for _, tt := range tests {
		t.Run("changes with "+tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			if docsync.ContentHash(in) == want {
				t.Errorf("changing %s did not change the hash", tt.name)
			}
		})
	}
}

func TestDocumentAndVersionHashInputAgree(t *testing.T) {
	doc := &docsync.Document{Title: "T", Content: "C", Path: "p", ViewGroups: []string{"v"}}
	v := &docsync.Version{Title: "T", Content: "C", Path: "p", ViewGroups: []string{"v"}, EditedBy: "someone"}
	if docsync.ContentHash(doc.HashInput()) != docsync.ContentHash(v.HashInput()) {
		t.Error("document and matching version hash differently")
	}
}
