// Package sqlite provides an embedded SQLite record store for development and
// single-node deployments.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ratedesk/internal/infra/persistence/sqlstore"
	"ratedesk/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.RecordStore = (*Store)(nil)

const defaultPath = "ratedesk.db"

// Store is a sqlstore.Store bound to a SQLite database file.
type Store struct {
	*sqlstore.Store
	path string
}

// Dialect returns the SQLite SQL dialect. SQLite serializes write
// transactions, so no per-key lock is needed for InsertIfAbsent.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:        "sqlite",
		Placeholder: func(n int) string { return "?" + strconv.Itoa(n) },
		RealType:    "REAL",
		BoolType:    "BOOLEAN",
		TimeType:    "TEXT",
		EncodeTime: func(t time.Time) any {
			return t.UTC().Format(sqlstore.TimeLayout)
		},
	}
}

// NewStore opens (creating if needed) the SQLite file at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps writers serialized and lets ":memory:" databases
	// survive across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return &Store{Store: sqlstore.New(db, Dialect()), path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
