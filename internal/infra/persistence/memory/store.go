// Package memory provides an in-memory record store used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"ratedesk/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.RecordStore   = (*Store)(nil)
	_ domain.Migrator      = (*Store)(nil)
	_ domain.MappingWriter = (*Store)(nil)
)

// Store keeps records per record table and mapping rows per mapping table in
// process memory. Fetch order is insertion order.
type Store struct {
	mu       sync.RWMutex
	records  map[string][]domain.Record
	mappings map[string][]domain.MappingRow
	// FailOps forces the named operations ("fetch_all", "insert", "update",
	// "delete", "exists", "list_distinct") to fail with a StoreError.
	FailOps map[string]error
}

// NewStore returns an empty memory store.
func NewStore() *Store {
	return &Store{
		records:  make(map[string][]domain.Record),
		mappings: make(map[string][]domain.MappingRow),
	}
}

// Migrate allocates empty tables for each variant.
func (s *Store) Migrate(_ context.Context, variants []domain.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range variants {
		if _, ok := s.records[v.RecordTable]; !ok {
			s.records[v.RecordTable] = nil
		}
		if _, ok := s.mappings[v.MappingTable]; !ok {
			s.mappings[v.MappingTable] = nil
		}
	}
	return nil
}

func (s *Store) fail(op string) error {
	if err, ok := s.FailOps[op]; ok {
		return &domain.StoreError{Op: op, Err: err}
	}
	return nil
}

// AddMappings appends mapping rows to the variant's mapping table.
func (s *Store) AddMappings(_ context.Context, v domain.Variant, rows []domain.MappingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[v.MappingTable] = append(s.mappings[v.MappingTable], rows...)
	return nil
}

// ListDistinct returns sorted, blank-free distinct mapping values.
func (s *Store) ListDistinct(_ context.Context, v domain.Variant, field domain.Field, filter *domain.KeyFilter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("list_distinct"); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, row := range s.mappings[v.MappingTable] {
		if filter != nil && row.Value(filter.Field) != filter.Value {
			continue
		}
		value := row.Value(field)
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out, nil
}

// FetchAll returns a copy of the variant's records.
func (s *Store) FetchAll(_ context.Context, v domain.Variant) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("fetch_all"); err != nil {
		return nil, err
	}
	out := make([]domain.Record, len(s.records[v.RecordTable]))
	copy(out, s.records[v.RecordTable])
	return out, nil
}

// Exists reports whether a record carries key.
func (s *Store) Exists(_ context.Context, v domain.Variant, key domain.NaturalKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("exists"); err != nil {
		return false, err
	}
	return s.existsLocked(v, key), nil
}

func (s *Store) existsLocked(v domain.Variant, key domain.NaturalKey) bool {
	for _, r := range s.records[v.RecordTable] {
		if r.Key() == key {
			return true
		}
	}
	return false
}

// InsertBatch appends records without checking keys.
func (s *Store) InsertBatch(_ context.Context, v domain.Variant, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("insert"); err != nil {
		return err
	}
	s.records[v.RecordTable] = append(s.records[v.RecordTable], records...)
	return nil
}

// InsertIfAbsent holds the write lock across check and insert so concurrent
// submissions cannot both insert the same key.
func (s *Store) InsertIfAbsent(_ context.Context, v domain.Variant, records []domain.Record) ([]domain.Record, []domain.NaturalKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("insert"); err != nil {
		return nil, nil, err
	}
	var inserted []domain.Record
	var duplicates []domain.NaturalKey
	for _, r := range records {
		if s.existsLocked(v, r.Key()) {
			duplicates = append(duplicates, r.Key())
			continue
		}
		s.records[v.RecordTable] = append(s.records[v.RecordTable], r)
		inserted = append(inserted, r)
	}
	return inserted, duplicates, nil
}

// UpdateByKey rewrites the writable columns of every row carrying key.
func (s *Store) UpdateByKey(_ context.Context, v domain.Variant, key domain.NaturalKey, change domain.RecordChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("update"); err != nil {
		return err
	}
	rows := s.records[v.RecordTable]
	matched := false
	for i := range rows {
		if rows[i].Key() != key {
			continue
		}
		matched = true
		rows[i].Measure = change.Measure
		rows[i].Active = change.Active
		rows[i].UpdatedLast = change.UpdatedLast.UTC()
		rows[i].Username = change.Username
	}
	if !matched {
		return domain.ErrRecordNotFound
	}
	return nil
}

// DeleteByKey removes every row carrying key.
func (s *Store) DeleteByKey(_ context.Context, v domain.Variant, key domain.NaturalKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("delete"); err != nil {
		return err
	}
	rows := s.records[v.RecordTable]
	kept := make([]domain.Record, 0, len(rows))
	removed := 0
	for _, r := range rows {
		if r.Key() == key {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records[v.RecordTable] = kept
	if removed == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
