package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// New opens a SQLite database connection at the given path.
// It enables WAL journaling and foreign keys and sets a busy timeout so
// concurrent workers block briefly instead of failing immediately.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			mtime REAL NOT NULL,
			size INTEGER NOT NULL,
			width INTEGER,
			height INTEGER,
			seed TEXT,
			model TEXT,
			sampler TEXT,
			scheduler TEXT,
			generator TEXT,
			steps REAL,
			cfg_scale REAL,
			description TEXT,
			metadata_json TEXT,
			rating TEXT,
			rating_confidence REAL,
			rating_updated REAL
		);`,
		`CREATE TABLE IF NOT EXISTS tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			image_id INTEGER NOT NULL,
			tag TEXT NOT NULL,
			norm TEXT NOT NULL,
			kind TEXT NOT NULL,
			emphasis TEXT NOT NULL,
			weight REAL NOT NULL,
			raw TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'embedded',
			FOREIGN KEY (image_id) REFERENCES images(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS tags_kind_norm_idx ON tags(kind, norm);`,
		`CREATE INDEX IF NOT EXISTS tags_image_idx ON tags(image_id);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS tag_index USING fts5(
			norm,
			tag,
			kind UNINDEXED,
			image_id UNINDEXED,
			tokenize="unicode61 tokenchars '_.:-'"
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			image_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			model TEXT NOT NULL,
			error TEXT,
			queued_at REAL NOT NULL,
			updated_at REAL NOT NULL,
			vector BLOB,
			rating TEXT,
			confidence REAL,
			scores_json TEXT,
			PRIMARY KEY (image_id, kind),
			FOREIGN KEY (image_id) REFERENCES images(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS jobs_kind_status_idx ON jobs(kind, status, queued_at);`,
		`CREATE TRIGGER IF NOT EXISTS tags_ai AFTER INSERT ON tags BEGIN
			INSERT INTO tag_index(rowid, norm, tag, kind, image_id)
			VALUES (new.id, new.norm, new.tag, new.kind, new.image_id);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS tags_ad AFTER DELETE ON tags BEGIN
			INSERT INTO tag_index(tag_index, rowid, norm, tag, kind, image_id)
			VALUES ('delete', old.id, old.norm, old.tag, old.kind, old.image_id);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS tags_au AFTER UPDATE ON tags BEGIN
			INSERT INTO tag_index(tag_index, rowid, norm, tag, kind, image_id)
			VALUES ('delete', old.id, old.norm, old.tag, old.kind, old.image_id);
			INSERT INTO tag_index(rowid, norm, tag, kind, image_id)
			VALUES (new.id, new.norm, new.tag, new.kind, new.image_id);
		END;`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
