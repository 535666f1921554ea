// Package storage is the relational persistence layer over Doc, Pic, and
// Cbz rows, backed by gorm and a pure-Go sqlite driver, covering the
// comic-archive domain's relational needs (ApplyManifest's
// single-transaction insert, GetPicsByDocId's ORDER BY seq).
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage wraps the gorm handle and implements the Repository contract.
type Storage struct {
	db *gorm.DB
}

// Open creates (or reuses) a sqlite database file at path, migrating the
// schema on startup.
func Open(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	if err := db.AutoMigrate(&Doc{}, &Pic{}, &Cbz{}, &AppSetting{}, &DailyStat{}); err != nil {
		return nil, fmt.Errorf("storage: migrate schema: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
