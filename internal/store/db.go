package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the session's campus.db. It holds the push outbox and, with the
// sqlite store backend, the key-tree leaves.
type DB struct {
	*sql.DB
	path string
}

// dsn enables WAL and foreign keys. Tree writes start their transaction
// with the write lock (_txlock=immediate) so two writers never deadlock
// upgrading from a read lock.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path is the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}
