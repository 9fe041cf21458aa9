package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DOCSYNC_CONFIG_PATH: config file location (default: ~/.config/docsync.toml)
//   - DOCSYNC_HOME: base directory for docsync data (default: ~/.local/share/docsync)
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome("DOCSYNC_CONFIG_PATH", ".config", "docsync.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := envOrHome("DOCSYNC_HOME", ".local", "share", "docsync")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns the value of env, or the path under the user's home
// directory when it is unset.
func envOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
