package database

import (
	"fmt"
	"os"
	"path/filepath"

	"amber-go/internal/config"
)

// NewDatabaseFromConfig opens the database named by the config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, models ModelDescriber) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, "amber.db"), models)
	case "memory":
		return NewSQLiteDatabase(":memory:", models)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
