package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"docsync-go/internal/docsync"
)

var validate = validator.New()

// maxBodyBytes caps request bodies; every payload here is a few hundred bytes.
const maxBodyBytes = 1 << 20

// Decode reads a JSON body into v and validates it. An empty body decodes
// as an empty object so every field takes its default.
func Decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// StartBackup is the body of POST /jobs/backup.
type StartBackup struct {
	Type string `json:"type" validate:"omitempty,oneof=manual auto"`
}

// StartImport is the body of POST /jobs/import.
type StartImport struct {
	Mode string `json:"mode" validate:"omitempty,oneof=smart force"`
}

// UpdateSettings is the body of PUT /settings. Absent fields are unchanged.
type UpdateSettings struct {
	GitRepoURL      *string `json:"gitRepoUrl" validate:"omitempty,max=2048"`
	SSHKeyPath      *string `json:"sshKeyPath" validate:"omitempty,max=4096"`
	BackupPath      *string `json:"backupPath" validate:"omitempty,max=4096"`
	BranchName      *string `json:"branchName" validate:"omitempty,max=255,excludesall= ~^:?*[\\"`
	Enabled         *bool   `json:"enabled"`
	IncludeVersions *bool   `json:"includeVersions"`
}

// Patch converts the request to a docsync.SettingsPatch.
func (u UpdateSettings) Patch() docsync.SettingsPatch {
	return docsync.SettingsPatch{
		GitRepoURL:      u.GitRepoURL,
		SSHKeyPath:      u.SSHKeyPath,
		BackupPath:      u.BackupPath,
		BranchName:      u.BranchName,
		Enabled:         u.Enabled,
		IncludeVersions: u.IncludeVersions,
	}
}

// TestConnection is the body of POST /settings/test.
type TestConnection struct {
	GitRepoURL string `json:"gitRepoUrl" validate:"required,max=2048"`
	SSHKeyPath string `json:"sshKeyPath" validate:"max=4096"`
	BackupPath string `json:"backupPath" validate:"max=4096"`
	BranchName string `json:"branchName" validate:"max=255"`
	Enabled    bool   `json:"enabled"`
}

// Settings converts the request to docsync.Settings.
func (c TestConnection) Settings() docsync.Settings {
	return docsync.Settings{
		GitRepoURL: c.GitRepoURL,
		SSHKeyPath: c.SSHKeyPath,
		BackupPath: c.BackupPath,
		BranchName: c.BranchName,
		Enabled:    c.Enabled,
	}
}

// ParseLimit reads the "limit" query parameter. Absent means zero, which
// the job manager treats as its default.
func ParseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q: must be a positive integer", raw)
	}
	return n, nil
}
