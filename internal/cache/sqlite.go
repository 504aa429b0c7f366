package cache

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStorage persists cache entries in a single-file SQLite database so
// cached boot payloads survive process restarts.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite %s: %w", path, err)
	}
	// Single writer; the cache serializes nothing above this layer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS boot_cache (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: create boot_cache table: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Load(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM boot_cache WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: load %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) Store(key string, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO boot_cache (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("cache: store %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM boot_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM boot_cache`); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM boot_cache`)
	if err != nil {
		return nil, fmt.Errorf("cache: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("cache: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
