package docsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
)

// HashInput is the normalized set of fields that identify a document's content.
type HashInput struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Path       string   `json:"path"`
	ViewGroups []string `json:"viewGroups"`
	EditGroups []string `json:"editGroups"`
}

// ContentHash returns the hex SHA-256 of the JSON encoding of in, with the
// group lists sorted. Nil and empty group lists hash the same.
func ContentHash(in HashInput) string {
	in.ViewGroups = sortedGroups(in.ViewGroups)
	in.EditGroups = sortedGroups(in.EditGroups)

	// Marshalling a struct of strings and string slices cannot fail.
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	out = append(out, groups...)
	slices.Sort(out)
	return out
}
