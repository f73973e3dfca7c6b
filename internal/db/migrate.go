package db

import (
	"fmt"

	"github.com/zulandar/sessionyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model sessionyard persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Project{},
		&models.Session{},
		&models.Message{},
		&models.ScanCheckpoint{},
		&models.WriterLease{},
	}
}

// ftsSchema keeps messages_fts in sync with messages through triggers.
// Every statement is idempotent.
var ftsSchema = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content,
		content='messages',
		content_rowid='id',
		tokenize='unicode61'
	)`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE OF content ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
	END`,
}

// AutoMigrate creates or updates all tables and the full-text index.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	for _, stmt := range ftsSchema {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("db: create fts schema: %w", err)
		}
	}
	return nil
}

// RebuildFTS repopulates messages_fts from the messages table.
func RebuildFTS(db *gorm.DB) error {
	if err := db.Exec(`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`).Error; err != nil {
		return fmt.Errorf("db: rebuild fts: %w", err)
	}
	return nil
}
