package domain

import "context"

// KeyFilter narrows ListDistinct to mapping rows whose Field equals Value.
type KeyFilter struct {
	Field Field
	Value string
}

// RecordStore is the system of record for one or more variants. Every method
// addresses the tables described by the supplied variant. Connectivity and
// query failures are returned as *StoreError.
type RecordStore interface {
	// ListDistinct returns the distinct non-blank values of field from the
	// variant's mapping table in ascending order, optionally filtered.
	ListDistinct(ctx context.Context, v Variant, field Field, filter *KeyFilter) ([]string, error)
	// FetchAll returns a full snapshot of the variant's record table in fetch order.
	FetchAll(ctx context.Context, v Variant) ([]Record, error)
	// Exists reports whether any record carries the natural key.
	Exists(ctx context.Context, v Variant, key NaturalKey) (bool, error)
	// InsertBatch writes all records in one batch without checking keys.
	InsertBatch(ctx context.Context, v Variant, records []Record) error
	// InsertIfAbsent inserts the records whose key is not present and returns
	// the keys that were skipped. The check and insert are atomic per key.
	InsertIfAbsent(ctx context.Context, v Variant, records []Record) (inserted []Record, duplicates []NaturalKey, err error)
	// UpdateByKey applies change to the rows carrying key. ErrRecordNotFound
	// is returned when none match.
	UpdateByKey(ctx context.Context, v Variant, key NaturalKey, change RecordChange) error
	// DeleteByKey removes the rows carrying key. ErrRecordNotFound is
	// returned when none match.
	DeleteByKey(ctx context.Context, v Variant, key NaturalKey) error
	Close() error
}

// Migrator is implemented by stores that can create the variant tables.
type Migrator interface {
	Migrate(ctx context.Context, variants []Variant) error
}

// MappingWriter is implemented by stores that accept mapping rows directly,
// typically for seeding development databases and tests.
type MappingWriter interface {
	AddMappings(ctx context.Context, v Variant, rows []MappingRow) error
}
