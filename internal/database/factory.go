package database

import (
	"fmt"
	"os"
	"path/filepath"

	"docsync-go/internal/config"
)

// DatabaseFileName is the SQLite file created under data_dir.
const DatabaseFileName = "docsync.db"

// NewDatabaseFromConfig opens the database selected by the database config.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, opts ...Option) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFileName), opts...)
	case "memory":
		return NewSQLiteDatabase(":memory:", opts...)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
