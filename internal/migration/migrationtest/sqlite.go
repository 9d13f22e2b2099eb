// Package migrationtest opens throwaway sqlite databases carrying the real schema.
package migrationtest

import (
	"path/filepath"
	"testing"

	"github.com/luisterslim/billing/internal/migration"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite returns a migrated database backed by a file in t.TempDir().
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "billing.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.RunMigrations(sqlDB, "sqlite"); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return conn
}
