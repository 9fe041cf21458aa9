package docsync

import (
	"path/filepath"
	"strings"
)

// DefaultBranch is used when no branch name is configured.
const DefaultBranch = "main"

// Settings is the runtime backup configuration held in the settings store.
type Settings struct {
	GitRepoURL      string `json:"gitRepoUrl"`
	SSHKeyPath      string `json:"sshKeyPath"`
	BackupPath      string `json:"backupPath"`
	BranchName      string `json:"branchName"`
	Enabled         bool   `json:"enabled"`
	IncludeVersions bool   `json:"includeVersions"`
}

// SettingsPatch is a partial update. Nil fields are left unchanged.
type SettingsPatch struct {
	GitRepoURL      *string `json:"gitRepoUrl,omitempty"`
	SSHKeyPath      *string `json:"sshKeyPath,omitempty"`
	BackupPath      *string `json:"backupPath,omitempty"`
	BranchName      *string `json:"branchName,omitempty"`
	Enabled         *bool   `json:"enabled,omitempty"`
	IncludeVersions *bool   `json:"includeVersions,omitempty"`
}

// Apply returns a copy of s with the non-nil fields of p applied.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.GitRepoURL != nil {
		s.GitRepoURL = strings.TrimSpace(*p.GitRepoURL)
	}
	if p.SSHKeyPath != nil {
		s.SSHKeyPath = strings.TrimSpace(*p.SSHKeyPath)
	}
	if p.BackupPath != nil {
		s.BackupPath = strings.TrimSpace(*p.BackupPath)
	}
	if p.BranchName != nil {
		s.BranchName = strings.TrimSpace(*p.BranchName)
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.IncludeVersions != nil {
		s.IncludeVersions = *p.IncludeVersions
	}
	return s
}

// Validate checks the settings are usable for a job.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.GitRepoURL) == "" {
		return ErrNotConfigured
	}
	if !s.Enabled {
		return ErrDisabled
	}
	return nil
}

// Branch returns the configured branch or DefaultBranch.
func (s Settings) Branch() string {
	if b := strings.TrimSpace(s.BranchName); b != "" {
		return b
	}
	return DefaultBranch
}

// RepoKey identifies the working copy a job mutates. Jobs with the same key
// never run at the same time.
func (s Settings) RepoKey() string {
	return s.GitRepoURL + "\x00" + s.Branch() + "\x00" + filepath.Clean(s.BackupPath)
}

// Remote returns the git coordinates described by the settings.
func (s Settings) Remote() Remote {
	return Remote{
		URL:        s.GitRepoURL,
		Branch:     s.Branch(),
		SSHKeyPath: s.SSHKeyPath,
		Dir:        s.BackupPath,
	}
}
