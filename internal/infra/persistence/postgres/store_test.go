package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ratedesk/internal/infra/persistence/postgres/testutil"
	"ratedesk/pkg/domain"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return db, nil
	})
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.Equal(t, defaultDriver, gotDriver)
	require.Equal(t, defaultDSN, gotDSN)
	return store, conn
}

func commission() domain.Variant {
	return domain.DefaultVariants()[domain.VariantCommission]
}

func TestNewStorePingFailureClosesDB(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = errors.New("connection refused")
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()

	_, err := NewStore(context.Background(), "postgres://warehouse/db")
	if err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestMigrateUsesPostgresTypes(t *testing.T) {
	store, conn := newStubStore(t)
	require.NoError(t, store.Migrate(context.Background(), []domain.Variant{commission()}))
	ddl := conn.ExecsContaining("CREATE TABLE IF NOT EXISTS commissions")
	require.Len(t, ddl, 1)
	for _, want := range []string{"commission_amount DOUBLE PRECISION", "is_active BOOLEAN", "updated_last TIMESTAMPTZ"} {
		if !strings.Contains(ddl[0].Query, want) {
			t.Fatalf("expected %q in DDL:\n%s", want, ddl[0].Query)
		}
	}
	require.Len(t, conn.ExecsContaining("CREATE TABLE IF NOT EXISTS customer_mapping"), 1)
}

func TestInsertIfAbsentLocksEachKey(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Results = []testutil.Result{{Match: "SELECT COUNT(*)", Columns: []string{"count"}, Rows: [][]driver.Value{{int64(0)}}}}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []domain.Record{
		{Organization: "Acme", Program: "P1", Product: "A", Measure: 10, Active: true, UpdatedLast: at, Username: "alice"},
	}

	inserted, dups, err := store.InsertIfAbsent(context.Background(), commission(), records)
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	require.Empty(t, dups)

	locks := conn.ExecsContaining("pg_advisory_xact_lock")
	require.Len(t, locks, 1)
	require.Equal(t, []any{"commissions|Acme/P1/A"}, locks[0].Args)

	inserts := conn.ExecsContaining("INSERT INTO commissions")
	require.Len(t, inserts, 1)
	require.Contains(t, inserts[0].Query, "VALUES ($1, $2, $3, $4, $5, $6, $7)")
	require.Equal(t, 1, conn.Commits)
}

func TestInsertIfAbsentReportsDuplicates(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Results = []testutil.Result{{Match: "SELECT COUNT(*)", Columns: []string{"count"}, Rows: [][]driver.Value{{int64(1)}}}}
	rec := domain.Record{Organization: "Acme", Program: "P1", Product: "A", Measure: 10}

	inserted, dups, err := store.InsertIfAbsent(context.Background(), commission(), []domain.Record{rec})
	require.NoError(t, err)
	require.Empty(t, inserted)
	require.Equal(t, []domain.NaturalKey{rec.Key()}, dups)
	require.Empty(t, conn.ExecsContaining("INSERT INTO"))
}

func TestInsertIfAbsentRollsBackOnFailure(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Results = []testutil.Result{{Match: "SELECT COUNT(*)", Err: errors.New("canceling statement")}}
	_, _, err := store.InsertIfAbsent(context.Background(), commission(), []domain.Record{{Organization: "Acme", Program: "P1", Product: "A"}})
	require.True(t, domain.IsStore(err), "got %v", err)
	require.Equal(t, 1, conn.Rollbacks)
	require.Zero(t, conn.Commits)
}

func TestUpdateByKeyWithoutMatchIsNotFound(t *testing.T) {
	store, conn := newStubStore(t)
	conn.RowsAffected = 0
	err := store.UpdateByKey(context.Background(), commission(), domain.NaturalKey{Organization: "Acme", Program: "P1", Product: "A"}, domain.RecordChange{Measure: 3})
	require.True(t, errors.Is(err, domain.ErrRecordNotFound), "got %v", err)

	updates := conn.ExecsContaining("UPDATE commissions SET")
	require.Len(t, updates, 1)
	require.Contains(t, updates[0].Query, "company_name = $5 AND program_code = $6 AND product_code = $7")
}

func TestDeleteByKeyExecFailureIsStoreError(t *testing.T) {
	store, conn := newStubStore(t)
	conn.FailExec = errors.New("connection reset")
	err := store.DeleteByKey(context.Background(), commission(), domain.NaturalKey{Organization: "Acme"})
	require.True(t, domain.IsStore(err), "got %v", err)
}

func TestFetchAllDecodesRows(t *testing.T) {
	store, conn := newStubStore(t)
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.FixedZone("EST", -5*3600))
	conn.Results = []testutil.Result{{
		Match:   "FROM commissions",
		Columns: []string{"company_name", "program_code", "product_code", "commission_amount", "is_active", "updated_last", "username"},
		Rows: [][]driver.Value{
			{"Acme", "P1", "A", 12.5, true, at, "alice"},
			{"Acme", "P1", "B", nil, nil, nil, nil},
		},
	}}
	got, err := store.FetchAll(context.Background(), commission())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 12.5, got[0].Measure)
	require.True(t, got[0].UpdatedLast.Equal(at))
	require.Equal(t, time.UTC, got[0].UpdatedLast.Location())
	require.Equal(t, domain.Record{Organization: "Acme", Program: "P1", Product: "B"}, got[1])
}

func TestListDistinctFiltersWithPlaceholder(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Results = []testutil.Result{{
		Match:   "SELECT DISTINCT program_code",
		Columns: []string{"program_code"},
		Rows:    [][]driver.Value{{"P1"}, {""}, {"P2"}},
	}}
	got, err := store.ListDistinct(context.Background(), commission(), domain.FieldProgram, &domain.KeyFilter{Field: domain.FieldOrganization, Value: "Acme"})
	require.NoError(t, err)
	require.Equal(t, []string{"P1", "P2"}, got)
	require.Len(t, conn.Queries, 1)
	require.Contains(t, conn.Queries[0].Query, "WHERE company_name = $1 ORDER BY program_code ASC")
	require.Equal(t, []any{"Acme"}, conn.Queries[0].Args)
}
