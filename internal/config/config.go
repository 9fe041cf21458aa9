package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for docsync.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Git      GitConfig      `toml:"git"`
	Jobs     JobsConfig     `toml:"jobs"`
	Defaults DefaultsConfig `toml:"defaults"`
	Snapshot SnapshotConfig `toml:"snapshot"`
}

// DatabaseConfig represents configuration for the content database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Listen  string         `toml:"listen"`
	APIKeys []APIKeyConfig `toml:"api_keys"`
}

// APIKeyConfig is one accepted API key. Only the SHA-256 hex digest of the
// key is stored.
type APIKeyConfig struct {
	Name      string `toml:"name"`
	KeySHA256 string `toml:"key_sha256"`
}

// GitConfig controls how git is invoked.
type GitConfig struct {
	CommandTimeoutSeconds int    `toml:"command_timeout_seconds"`
	AuthorName            string `toml:"author_name"`
	AuthorEmail           string `toml:"author_email"`
}

// JobsConfig controls job execution and scheduling.
type JobsConfig struct {
	TimeoutMinutes            int `toml:"timeout_minutes"`              // 0 = no limit
	AutoBackupIntervalMinutes int `toml:"auto_backup_interval_minutes"` // 0 = no scheduled backups
}

// DefaultsConfig seeds the runtime backup settings the first time the
// database is opened. Later changes go through the settings API.
type DefaultsConfig struct {
	GitRepoURL      string `toml:"git_repo_url"`
	SSHKeyPath      string `toml:"ssh_key_path"`
	BackupPath      string `toml:"backup_path"`
	BranchName      string `toml:"branch_name"`
	Enabled         bool   `toml:"enabled"`
	IncludeVersions bool   `toml:"include_versions"`
}

// SnapshotConfig configures encrypted off-site copies of each backup commit.
type SnapshotConfig struct {
	Enabled    bool             `toml:"enabled"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// VaultConfig represents configuration for a snapshot store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
	S3UsePathStyle    bool   `toml:"s3_use_path_style,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test", or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a Config rooted at baseDir with default values.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Server: ServerConfig{Listen: "127.0.0.1:8080"},
		Git:    GitConfig{CommandTimeoutSeconds: 120},
		Jobs:   JobsConfig{TimeoutMinutes: 30},
		Defaults: DefaultsConfig{
			BackupPath: filepath.Join(baseDir, "repo"),
			BranchName: "main",
		},
		Snapshot: SnapshotConfig{
			Vault: VaultConfig{
				Type:        "filesystem",
				Name:        "local",
				FSVaultRoot: filepath.Join(baseDir, "snapshots"),
			},
			Encryption: EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "docsync.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "docsync.key"),
			},
		},
	}
}

// GitCommandTimeout returns the per-command git timeout. Zero means none.
func (c *Config) GitCommandTimeout() time.Duration {
	return time.Duration(c.Git.CommandTimeoutSeconds) * time.Second
}

// JobTimeout returns the overall job timeout. Zero means none.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutMinutes) * time.Minute
}

// AutoBackupInterval returns the scheduled backup interval. Zero disables it.
func (c *Config) AutoBackupInterval() time.Duration {
	return time.Duration(c.Jobs.AutoBackupIntervalMinutes) * time.Minute
}

// Validate rejects values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Git.CommandTimeoutSeconds < 0 {
		return fmt.Errorf("git.command_timeout_seconds must not be negative")
	}
	if c.Jobs.TimeoutMinutes < 0 || c.Jobs.AutoBackupIntervalMinutes < 0 {
		return fmt.Errorf("jobs timeouts and intervals must not be negative")
	}
	for i, k := range c.Server.APIKeys {
		if len(k.KeySHA256) != 64 {
			return fmt.Errorf("server.api_keys[%d] (%s): key_sha256 must be a 64-character hex digest", i, k.Name)
		}
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to path. The file may hold API key digests
// and S3 credentials, so it is created owner-only.
func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
