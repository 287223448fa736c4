package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"tubesync/internal/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metadata (
	identity TEXT PRIMARY KEY,
	artist TEXT NOT NULL DEFAULT '',
	track TEXT NOT NULL DEFAULT '',
	album TEXT NOT NULL DEFAULT '',
	original_title TEXT NOT NULL DEFAULT '',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteCache stores metadata in a SQLite database, for libraries too large to rewrite a JSON file per entry.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens (creating if needed) the database at dsn and applies the schema.
func OpenSQLiteCache(dsn string) (*SQLiteCache, error) {
	if dsn == "" {
		return nil, errors.New("cache path is required")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Get(identity string) (core.TrackMetadata, bool) {
	var meta core.TrackMetadata
	err := c.db.QueryRow(
		"SELECT artist, track, album, original_title FROM metadata WHERE identity = ?", identity,
	).Scan(&meta.Artist, &meta.Track, &meta.Album, &meta.OriginalTitle)
	if err != nil {
		// sql.ErrNoRows and read errors both mean a miss; the caller re-resolves.
		return core.TrackMetadata{}, false
	}
	return meta, true
}

func (c *SQLiteCache) Put(identity string, meta core.TrackMetadata) error {
	if identity == "" {
		return nil
	}
	_, err := c.db.Exec(`
		INSERT INTO metadata (identity, artist, track, album, original_title, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(identity) DO UPDATE SET
			artist = excluded.artist,
			track = excluded.track,
			album = excluded.album,
			original_title = excluded.original_title,
			updated_at = excluded.updated_at
	`, identity, meta.Artist, meta.Track, meta.Album, meta.OriginalTitle)
	if err != nil {
		return fmt.Errorf("failed to store metadata for %s: %w", identity, err)
	}
	return nil
}

func (c *SQLiteCache) Len() int {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM metadata").Scan(&n); err != nil {
		return 0
	}
	return n
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
