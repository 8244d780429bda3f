package database

import (
	"fmt"
	"os"
	"path/filepath"

	"ib-go/internal/config"
	"ib-go/internal/ib"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
// The file is named after the instance so several instances can share a data directory.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, instanceID string) (ib.Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return openSQLite(filepath.Join(cfg.DataDir, instanceID+".db"))
	case "bolt":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for bolt database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		db, err := NewBoltDatabase(filepath.Join(cfg.DataDir, instanceID+".bolt"))
		if err != nil {
			return nil, err
		}
		return db, nil
	case "memory":
		return openSQLite(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// openSQLite avoids returning a typed nil inside a non-nil ib.Database.
func openSQLite(path string) (ib.Database, error) {
	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}
