// Package repo implements the data persistence layer for the site. This file
// contains database bootstrapping helpers for SQLite (pure Go driver), schema
// migrations, and the full-text search shadow table for posts.
//
// Schema management uses GORM; runtime statement execution goes through the
// dbclient middleware, which operates on the raw *sql.DB handle of the same
// database.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/mwestcott/skyfolio/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// The database is treated as a single logical writer: one connection,
	// statement execution serialized through it. Contention shows up as
	// lock/busy errors which the recovery layer absorbs.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for every domain model, then the
// FTS index.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Post{},
		&domain.Tag{},
		&domain.PostTag{},
		&domain.Project{},
		&domain.Flight{},
		&domain.Media{},
		&domain.Session{},
		&domain.SiteEvent{},
		&domain.QueryMetric{},
	); err != nil {
		return err
	}
	return migrateFTS(db)
}

// migrateFTS creates the external-content FTS5 table over posts plus the
// triggers that keep it synchronized. The weekly maintenance tier issues a
// full 'rebuild' as a safety net on top of the triggers.
func migrateFTS(db *gorm.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS posts_fts USING fts5(
			title, summary, body,
			content='posts', content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS posts_fts_ai AFTER INSERT ON posts BEGIN
			INSERT INTO posts_fts(rowid, title, summary, body)
			VALUES (new.rowid, new.title, new.summary, new.body);
		END`,
		`CREATE TRIGGER IF NOT EXISTS posts_fts_ad AFTER DELETE ON posts BEGIN
			INSERT INTO posts_fts(posts_fts, rowid, title, summary, body)
			VALUES ('delete', old.rowid, old.title, old.summary, old.body);
		END`,
		`CREATE TRIGGER IF NOT EXISTS posts_fts_au AFTER UPDATE ON posts BEGIN
			INSERT INTO posts_fts(posts_fts, rowid, title, summary, body)
			VALUES ('delete', old.rowid, old.title, old.summary, old.body);
			INSERT INTO posts_fts(rowid, title, summary, body)
			VALUES (new.rowid, new.title, new.summary, new.body);
		END`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}
