package database

import (
	"fmt"
	"os"
	"path/filepath"

	"kin-go/internal/config"
	"kin-go/internal/kin"
)

// NewDatabaseFromConfig creates a database based on the database config type.
// A sqlite database lives at <data_dir>/<host_id>.db.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string, logger kin.Logger) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, hostID+".db"), logger)
	case "memory":
		return NewSQLiteDatabase(":memory:", logger)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
