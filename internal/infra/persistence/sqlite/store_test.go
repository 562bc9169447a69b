package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"ratedesk/pkg/domain"
)

func newTestStore(t *testing.T) (*Store, domain.Variant) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "ratedesk.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	v := domain.DefaultVariants()[domain.VariantULR]
	require.NoError(t, s.Migrate(context.Background(), []domain.Variant{v}))
	return s, v
}

func TestNewStoreCreatesParentDirs(t *testing.T) {
	s, _ := newTestStore(t)
	if filepath.Base(s.Path()) != "ratedesk.db" {
		t.Fatalf("unexpected path %s", s.Path())
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s, v := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background(), []domain.Variant{v}))
}

func TestMigrateRejectsUnsafeIdentifiers(t *testing.T) {
	s, v := newTestStore(t)
	v.RecordTable = "ulr; DROP TABLE x"
	err := s.Migrate(context.Background(), []domain.Variant{v})
	require.Error(t, err)
}

func TestRoundTripRecords(t *testing.T) {
	ctx := context.Background()
	s, v := newTestStore(t)
	at := time.Date(2024, 3, 9, 14, 30, 15, 123456000, time.UTC)
	records := []domain.Record{
		{Organization: "Acme", Program: "P1", Product: "A", Measure: 0.65, Active: true, UpdatedLast: at, Username: "alice"},
		{Organization: "Acme", Program: "P1", Product: "B", Measure: 0.7, Active: false, UpdatedLast: at, Username: "alice"},
	}
	inserted, dups, err := s.InsertIfAbsent(ctx, v, records)
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	require.Empty(t, dups)

	got, err := s.FetchAll(ctx, v)
	require.NoError(t, err)
	if diff := cmp.Diff(records, got); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	inserted, dups, err = s.InsertIfAbsent(ctx, v, records[:1])
	require.NoError(t, err)
	require.Empty(t, inserted)
	require.Equal(t, []domain.NaturalKey{records[0].Key()}, dups)
}

func TestUpdateDeleteReportMissingKeys(t *testing.T) {
	ctx := context.Background()
	s, v := newTestStore(t)
	rec := domain.Record{Organization: "Acme", Program: "P1", Product: "A", Measure: 1, Active: true, UpdatedLast: time.Now().UTC(), Username: "alice"}
	require.NoError(t, s.InsertBatch(ctx, v, []domain.Record{rec}))

	later := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.UpdateByKey(ctx, v, rec.Key(), domain.RecordChange{Measure: 2, Active: false, UpdatedLast: later, Username: "bob"}))
	got, err := s.FetchAll(ctx, v)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 2.0, got[0].Measure)
	require.False(t, got[0].Active)
	require.True(t, got[0].UpdatedLast.Equal(later))
	require.Equal(t, "bob", got[0].Username)

	exists, err := s.Exists(ctx, v, rec.Key())
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, s.DeleteByKey(ctx, v, rec.Key()))
	err = s.DeleteByKey(ctx, v, rec.Key())
	require.True(t, errors.Is(err, domain.ErrRecordNotFound), "got %v", err)
	err = s.UpdateByKey(ctx, v, rec.Key(), domain.RecordChange{})
	require.True(t, errors.Is(err, domain.ErrRecordNotFound), "got %v", err)
}

func TestListDistinctFromMappingTable(t *testing.T) {
	ctx := context.Background()
	s, v := newTestStore(t)
	require.NoError(t, s.AddMappings(ctx, v, []domain.MappingRow{
		{Organization: "Zeta", Program: "P9", Product: "Z"},
		{Organization: "Acme", Program: "P1", Product: "B"},
		{Organization: "Acme", Program: "P1", Product: "A"},
		{Organization: "Acme", Program: "P2", Product: ""},
	}))

	orgs, err := s.ListDistinct(ctx, v, domain.FieldOrganization, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Acme", "Zeta"}, orgs)

	programs, err := s.ListDistinct(ctx, v, domain.FieldProgram, &domain.KeyFilter{Field: domain.FieldOrganization, Value: "Acme"})
	require.NoError(t, err)
	require.Equal(t, []string{"P1", "P2"}, programs)

	products, err := s.ListDistinct(ctx, v, domain.FieldProduct, &domain.KeyFilter{Field: domain.FieldProgram, Value: "P2"})
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestQueriesAgainstMissingTableAreStoreErrors(t *testing.T) {
	s, v := newTestStore(t)
	v.RecordTable = "not_migrated"
	_, err := s.FetchAll(context.Background(), v)
	require.True(t, domain.IsStore(err), "got %v", err)
}
