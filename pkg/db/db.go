// Package db is the entity store of the pipeline: sequences, proteins,
// clusters, the structural alignment queue and its results, all on a single
// sqlite database.
package db

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the pipeline database.
type Store struct {
	sql *sql.DB

	// now is swappable so queue staleness can be tested without sleeping.
	now func() time.Time
}

// Open opens (or creates) the sqlite database at path. WAL mode plus a busy
// timeout lets the dispatcher workers share the writer without immediate
// SQLITE_BUSY failures.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	return NewStore(conn), nil
}

// NewStore wraps an already opened connection.
func NewStore(conn *sql.DB) *Store {
	return &Store{
		sql: conn,
		now: time.Now,
	}
}

func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) timestamp() int64 {
	return s.now().UnixNano()
}
