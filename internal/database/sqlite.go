package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/waypoint/internal/records"
	"github.com/MarcoPoloResearchLab/waypoint/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite opens the local store at path, creating its directory when needed,
// and brings the schema and named migrations up to date.
func OpenSQLite(path string, log *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows one writer; a single connection avoids busy errors.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrateSchema(db); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	if err := applyMigrations(db, log); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	log.Info("database initialized", zap.String("path", path))
	return db, nil
}

func migrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(
		&records.Task{},
		&records.Note{},
		&records.LocationWatch{},
		&users.Identity{},
		&migrationRecord{},
	)
}

// ensureParentDir creates the directory holding a file-backed database. In-memory DSNs are left alone.
func ensureParentDir(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	file, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	dir := filepath.Dir(file)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}
