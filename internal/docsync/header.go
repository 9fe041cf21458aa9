package docsync

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The export file format is a metadata block inside an HTML comment followed
// by a blank line and the raw HTML body:
//
//	<!--
//	title: Getting started
//	path: guides/getting-started
//	...
//	-->
//
//	<p>body</p>
const (
	headerOpen  = "<!--"
	headerClose = "-->"

	// DocumentExt is the extension of exported document files.
	DocumentExt = ".html"
)

// Header is the metadata block of an exported document. Version is zero for
// live documents and set for files under the versions directory.
type Header struct {
	Title         string
	Path          string
	Published     bool
	Date          time.Time
	Created       time.Time
	EditGroups    []string
	ViewGroups    []string
	Version       int
	EditedBy      string
	ChangeSummary string
	IsDraft       bool
}

// EncodeDocument renders a header and body in the export file format.
func EncodeDocument(h Header, body string) []byte {
	var b bytes.Buffer
	b.WriteString(headerOpen + "\n")
	writeField(&b, "title", h.Title)
	writeField(&b, "path", h.Path)
	writeField(&b, "published", strconv.FormatBool(h.Published))
	writeField(&b, "date", formatHeaderTime(h.Date))
	writeField(&b, "created", formatHeaderTime(h.Created))
	writeField(&b, "edit_groups", joinGroups(h.EditGroups))
	writeField(&b, "view_groups", joinGroups(h.ViewGroups))
	if h.Version > 0 {
		writeField(&b, "version", strconv.Itoa(h.Version))
		writeField(&b, "edited_by", h.EditedBy)
		writeField(&b, "change_summary", h.ChangeSummary)
		writeField(&b, "is_draft", strconv.FormatBool(h.IsDraft))
	}
	b.WriteString(headerClose + "\n\n")
	b.WriteString(body)
	return b.Bytes()
}

func writeField(b *bytes.Buffer, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(sanitizeHeaderValue(value))
	b.WriteByte('\n')
}

// A value must stay on one line and must not close the comment.
func sanitizeHeaderValue(v string) string {
	v = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(v)
	return strings.ReplaceAll(v, headerClose, "--&gt;")
}

func formatHeaderTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func joinGroups(groups []string) string {
	return strings.Join(groups, ", ")
}

func splitGroups(v string) []string {
	var groups []string
	for _, g := range strings.Split(v, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// ParseDocument splits an exported file into its header and body.
// It returns ErrNoHeader when the file does not begin with a header block and
// a *MalformedHeaderError when the block cannot be parsed. Unknown keys are
// ignored.
func ParseDocument(data []byte) (Header, string, error) {
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(text, headerOpen) {
		return Header{}, "", ErrNoHeader
	}
	text = text[len(headerOpen):]

	end := strings.Index(text, headerClose)
	if end < 0 {
		return Header{}, "", &MalformedHeaderError{Reason: "header is not closed"}
	}
	block, body := text[:end], text[end+len(headerClose):]

	var h Header
	for i, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Header{}, "", &MalformedHeaderError{Line: i + 1, Reason: fmt.Sprintf("expected key: value, got %q", line)}
		}
		// Only the separator space is dropped; text values keep their edges.
		value, _ = strings.CutPrefix(value, " ")
		if err := h.set(strings.TrimSpace(key), value); err != nil {
			return Header{}, "", &MalformedHeaderError{Line: i + 1, Reason: err.Error()}
		}
	}

	return h, trimBodyPrefix(body), nil
}

func (h *Header) set(key, value string) error {
	var err error
	scalar := strings.TrimSpace(value)
	switch key {
	case "title":
		h.Title = value
	case "path":
		h.Path = value
	case "published":
		h.Published, err = parseHeaderBool(scalar)
	case "date":
		h.Date, err = parseHeaderTime(scalar)
	case "created":
		h.Created, err = parseHeaderTime(scalar)
	case "edit_groups":
		h.EditGroups = splitGroups(value)
	case "view_groups":
		h.ViewGroups = splitGroups(value)
	case "version":
		h.Version, err = strconv.Atoi(scalar)
		if err == nil && h.Version < 1 {
			err = fmt.Errorf("version must be positive")
		}
	case "edited_by":
		h.EditedBy = value
	case "change_summary":
		h.ChangeSummary = value
	case "is_draft":
		h.IsDraft, err = parseHeaderBool(scalar)
	}
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return nil
}

func parseHeaderBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func parseHeaderTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// The encoder writes exactly two newlines after the header; anything beyond
// that belongs to the body.
func trimBodyPrefix(body string) string {
	for range 2 {
		switch {
		case strings.HasPrefix(body, "\r\n"):
			body = body[2:]
		case strings.HasPrefix(body, "\n"):
			body = body[1:]
		}
	}
	return body
}

var (
	reservedChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	dashRun       = regexp.MustCompile(`-{2,}`)
)

// SanitizeFilename turns a document title into a filesystem-safe base name.
func SanitizeFilename(title string) string {
	name := reservedChars.ReplaceAllString(title, "-")
	name = whitespaceRun.ReplaceAllString(name, "-")
	name = dashRun.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		return "untitled"
	}
	return name
}

var versionSuffix = regexp.MustCompile(`\.v\d+$`)

// PathFromFile derives a document path from a file path relative to the
// import root by dropping the extension and any version suffix.
func PathFromFile(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimSuffix(rel, DocumentExt)
	return CleanPath(versionSuffix.ReplaceAllString(rel, ""))
}
