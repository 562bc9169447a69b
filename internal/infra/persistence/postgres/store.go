// Package postgres provides the warehouse-backed record store. It talks to
// Postgres through pgx registered as a database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ratedesk/internal/infra/persistence/sqlstore"
	"ratedesk/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.RecordStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenRecordStore defaults while allowing overrides via config.
	defaultDSN = "postgres://localhost/ratedesk?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a sqlstore.Store bound to a Postgres database.
type Store struct {
	*sqlstore.Store
}

// Dialect returns the Postgres SQL dialect. InsertIfAbsent takes a
// transaction-scoped advisory lock per natural key, so two sessions
// submitting the same key serialize on the check.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:        "postgres",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		RealType:    "DOUBLE PRECISION",
		BoolType:    "BOOLEAN",
		TimeType:    "TIMESTAMPTZ",
		EncodeTime:  func(t time.Time) any { return t.UTC() },
		LockKey:     lockKey,
	}
}

func lockKey(ctx context.Context, tx *sql.Tx, table string, key domain.NaturalKey) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, table+"|"+key.String())
	return err
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN)
// and verifies connectivity.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{Store: sqlstore.New(db, Dialect())}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
