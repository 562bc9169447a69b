// Package sqlstore implements domain.RecordStore over database/sql. The
// postgres and sqlite packages supply a Dialect and own driver registration.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ratedesk/pkg/domain"
)

var (
	_ domain.RecordStore   = (*Store)(nil)
	_ domain.Migrator      = (*Store)(nil)
	_ domain.MappingWriter = (*Store)(nil)
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	RealType    string
	BoolType    string
	TimeType    string
	// EncodeTime converts a timestamp into a driver value.
	EncodeTime func(time.Time) any
	// LockKey serializes writers of one natural key inside tx. Nil when the
	// backend already serializes write transactions.
	LockKey func(ctx context.Context, tx *sql.Tx, table string, key domain.NaturalKey) error
}

// Store is a RecordStore over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ph(n int) string { return s.dialect.Placeholder(n) }

func (s *Store) keyWhere(v domain.Variant, first int) string {
	return fmt.Sprintf("%s = %s AND %s = %s AND %s = %s",
		v.Columns.Organization, s.ph(first),
		v.Columns.Program, s.ph(first+1),
		v.Columns.Product, s.ph(first+2))
}

func keyArgs(key domain.NaturalKey) []any {
	return []any{key.Organization, key.Program, key.Product}
}

func indexName(table string) string {
	return "idx_" + strings.ReplaceAll(table, ".", "_") + "_key"
}

// Migrate creates the record and mapping tables of every variant. Natural key
// uniqueness is not declared at the storage level; InsertIfAbsent guards it.
func (s *Store) Migrate(ctx context.Context, variants []domain.Variant) error {
	for _, v := range variants {
		if err := v.Validate(); err != nil {
			return err
		}
		c := v.Columns
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s %s NOT NULL,
	%s %s NOT NULL,
	%s %s NOT NULL,
	%s TEXT NOT NULL
)`, v.RecordTable, c.Organization, c.Program, c.Product, c.Measure, s.dialect.RealType,
				c.Active, s.dialect.BoolType, c.UpdatedLast, s.dialect.TimeType, c.Username),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s, %s)`,
				indexName(v.RecordTable), v.RecordTable, c.Organization, c.Program, c.Product),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL
)`, v.MappingTable, c.Organization, c.Program, c.Product),
		}
		for _, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return domain.NewStoreError("migrate", fmt.Errorf("execute ddl for %s: %w", v.Name, err))
			}
		}
	}
	return nil
}

// AddMappings inserts mapping rows in one transaction.
func (s *Store) AddMappings(ctx context.Context, v domain.Variant, rows []domain.MappingRow) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("add_mappings", fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s)`,
		v.MappingTable, v.Columns.Organization, v.Columns.Program, v.Columns.Product, s.ph(1), s.ph(2), s.ph(3))
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, stmt, row.Organization, row.Program, row.Product); err != nil {
			return domain.NewStoreError("add_mappings", fmt.Errorf("insert mapping: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.NewStoreError("add_mappings", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// ListDistinct selects distinct mapping values in ascending order.
func (s *Store) ListDistinct(ctx context.Context, v domain.Variant, field domain.Field, filter *domain.KeyFilter) ([]string, error) {
	column := v.Column(field)
	if column == "" {
		return nil, &domain.ValidationError{Field: string(field), Message: "unknown field"}
	}
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s`, column, v.MappingTable)
	var args []any
	if filter != nil {
		filterColumn := v.Column(filter.Field)
		if filterColumn == "" {
			return nil, &domain.ValidationError{Field: string(filter.Field), Message: "unknown field"}
		}
		query += fmt.Sprintf(` WHERE %s = %s`, filterColumn, s.ph(1))
		args = append(args, filter.Value)
	}
	query += fmt.Sprintf(` ORDER BY %s ASC`, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStoreError("list_distinct", fmt.Errorf("select %s: %w", column, err))
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var value sql.NullString
		if err := rows.Scan(&value); err != nil {
			return nil, domain.NewStoreError("list_distinct", fmt.Errorf("scan %s: %w", column, err))
		}
		if !value.Valid || strings.TrimSpace(value.String) == "" {
			continue
		}
		out = append(out, value.String)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("list_distinct", fmt.Errorf("iterate %s: %w", column, err))
	}
	return out, nil
}

// FetchAll reads the full record table.
func (s *Store) FetchAll(ctx context.Context, v domain.Variant) ([]domain.Record, error) {
	c := v.Columns
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s, %s, %s FROM %s`,
		c.Organization, c.Program, c.Product, c.Measure, c.Active, c.UpdatedLast, c.Username, v.RecordTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.NewStoreError("fetch_all", fmt.Errorf("select %s: %w", v.RecordTable, err))
	}
	defer func() { _ = rows.Close() }()
	out := []domain.Record{}
	for rows.Next() {
		var (
			rec      domain.Record
			measure  sql.NullFloat64
			active   sql.NullBool
			updated  any
			username sql.NullString
		)
		if err := rows.Scan(&rec.Organization, &rec.Program, &rec.Product, &measure, &active, &updated, &username); err != nil {
			return nil, domain.NewStoreError("fetch_all", fmt.Errorf("scan %s: %w", v.RecordTable, err))
		}
		rec.Measure = measure.Float64
		rec.Active = active.Bool
		rec.Username = username.String
		ts, err := DecodeTime(updated)
		if err != nil {
			return nil, domain.NewStoreError("fetch_all", err)
		}
		rec.UpdatedLast = ts
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("fetch_all", fmt.Errorf("iterate %s: %w", v.RecordTable, err))
	}
	return out, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) count(ctx context.Context, q queryer, v domain.Variant, key domain.NaturalKey) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, v.RecordTable, s.keyWhere(v, 1))
	var n int64
	if err := q.QueryRowContext(ctx, query, keyArgs(key)...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", key, err)
	}
	return n, nil
}

// Exists counts rows carrying key.
func (s *Store) Exists(ctx context.Context, v domain.Variant, key domain.NaturalKey) (bool, error) {
	n, err := s.count(ctx, s.db, v, key)
	if err != nil {
		return false, domain.NewStoreError("exists", err)
	}
	return n > 0, nil
}

func (s *Store) insertStmt(v domain.Variant) string {
	c := v.Columns
	return fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		v.RecordTable, c.Organization, c.Program, c.Product, c.Measure, c.Active, c.UpdatedLast, c.Username,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
}

func (s *Store) insertArgs(r domain.Record) []any {
	return []any{r.Organization, r.Program, r.Product, r.Measure, r.Active, s.dialect.EncodeTime(r.UpdatedLast), r.Username}
}

// InsertBatch writes all records in one transaction.
func (s *Store) InsertBatch(ctx context.Context, v domain.Variant, records []domain.Record) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("insert", fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt := s.insertStmt(v)
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, stmt, s.insertArgs(r)...); err != nil {
			return domain.NewStoreError("insert", fmt.Errorf("insert %s: %w", r.Key(), err))
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.NewStoreError("insert", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// InsertIfAbsent checks and inserts each record inside one transaction,
// taking the dialect's per-key lock first when it has one.
func (s *Store) InsertIfAbsent(ctx context.Context, v domain.Variant, records []domain.Record) (inserted []domain.Record, duplicates []domain.NaturalKey, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, domain.NewStoreError("insert", fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
			inserted, duplicates = nil, nil
		}
	}()
	stmt := s.insertStmt(v)
	for _, r := range records {
		key := r.Key()
		if s.dialect.LockKey != nil {
			if err := s.dialect.LockKey(ctx, tx, v.RecordTable, key); err != nil {
				return nil, nil, domain.NewStoreError("insert", fmt.Errorf("lock %s: %w", key, err))
			}
		}
		n, err := s.count(ctx, tx, v, key)
		if err != nil {
			return nil, nil, domain.NewStoreError("insert", err)
		}
		if n > 0 {
			duplicates = append(duplicates, key)
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt, s.insertArgs(r)...); err != nil {
			return nil, nil, domain.NewStoreError("insert", fmt.Errorf("insert %s: %w", key, err))
		}
		inserted = append(inserted, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, domain.NewStoreError("insert", fmt.Errorf("commit: %w", err))
	}
	return inserted, duplicates, nil
}

// UpdateByKey rewrites the writable columns of the rows carrying key.
func (s *Store) UpdateByKey(ctx context.Context, v domain.Variant, key domain.NaturalKey, change domain.RecordChange) error {
	c := v.Columns
	query := fmt.Sprintf(`UPDATE %s SET %s = %s, %s = %s, %s = %s, %s = %s WHERE %s`,
		v.RecordTable, c.Measure, s.ph(1), c.Active, s.ph(2), c.UpdatedLast, s.ph(3), c.Username, s.ph(4),
		s.keyWhere(v, 5))
	args := append([]any{change.Measure, change.Active, s.dialect.EncodeTime(change.UpdatedLast), change.Username}, keyArgs(key)...)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.NewStoreError("update", fmt.Errorf("update %s: %w", key, err))
	}
	return affected(res, "update", key)
}

// DeleteByKey removes the rows carrying key.
func (s *Store) DeleteByKey(ctx context.Context, v domain.Variant, key domain.NaturalKey) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s`, v.RecordTable, s.keyWhere(v, 1))
	res, err := s.db.ExecContext(ctx, query, keyArgs(key)...)
	if err != nil {
		return domain.NewStoreError("delete", fmt.Errorf("delete %s: %w", key, err))
	}
	return affected(res, "delete", key)
}

func affected(res sql.Result, op string, key domain.NaturalKey) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewStoreError(op, fmt.Errorf("rows affected %s: %w", key, err))
	}
	if n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// TimeLayout is the text encoding used by backends without a native
// timestamp type. It sorts lexically in time order.
const TimeLayout = "2006-01-02 15:04:05.000000"

var decodeLayouts = []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

// DecodeTime converts a scanned timestamp column into a UTC time.
func DecodeTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case []byte:
		return DecodeTime(string(v))
	case string:
		for _, layout := range decodeLayouts {
			if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("decode timestamp %q", v)
	default:
		return time.Time{}, fmt.Errorf("decode timestamp: unsupported type %T", value)
	}
}
