package storage

import (
	"database/sql"
	"fmt"

	// SQLite database driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// A SQLiteStore is a durable key/value store backed by a single SQLite
// table. The connection is closed automatically at process exit.
type SQLiteStore struct {
	*sql.DB

	path string
}

// NewSQLiteStore opens (or creates) the database at path. An empty path
// creates a uniquely named file in the working directory.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "ladder_state_" + xid.New().String() + ".sqlite3"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS block_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state table: %w", err)
	}

	s := &SQLiteStore{DB: db, path: path}
	atexit.Register(func() { s.Close() })

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value string

	err := s.QueryRow(
		"SELECT value FROM block_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (s *SQLiteStore) Put(key, value string) error {
	_, err := s.Exec(`INSERT INTO block_state (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)

	return err
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *SQLiteStore) Delete(key string) error {
	_, err := s.Exec("DELETE FROM block_state WHERE key = ?", key)
	return err
}

// Keys returns all stored keys in sorted order.
func (s *SQLiteStore) Keys() ([]string, error) {
	rows, err := s.Query("SELECT key FROM block_state ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}

		keys = append(keys, key)
	}

	return keys, rows.Err()
}
