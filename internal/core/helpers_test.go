package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"ratedesk/internal/infra/persistence/memory"
	"ratedesk/pkg/domain"
)

var baseTime = time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: baseTime} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureStore records every RecordStore call before delegating.
type captureStore struct {
	domain.RecordStore
	mu    sync.Mutex
	calls []string
}

func (c *captureStore) log(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *captureStore) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.calls...)
}

func (c *captureStore) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *captureStore) ListDistinct(ctx context.Context, v domain.Variant, field domain.Field, filter *domain.KeyFilter) ([]string, error) {
	c.log("list_distinct " + string(field))
	return c.RecordStore.ListDistinct(ctx, v, field, filter)
}

func (c *captureStore) FetchAll(ctx context.Context, v domain.Variant) ([]domain.Record, error) {
	c.log("fetch_all")
	return c.RecordStore.FetchAll(ctx, v)
}

func (c *captureStore) InsertIfAbsent(ctx context.Context, v domain.Variant, records []domain.Record) ([]domain.Record, []domain.NaturalKey, error) {
	c.log("insert_if_absent")
	return c.RecordStore.InsertIfAbsent(ctx, v, records)
}

func (c *captureStore) UpdateByKey(ctx context.Context, v domain.Variant, key domain.NaturalKey, change domain.RecordChange) error {
	c.log("update " + key.String())
	return c.RecordStore.UpdateByKey(ctx, v, key, change)
}

func (c *captureStore) DeleteByKey(ctx context.Context, v domain.Variant, key domain.NaturalKey) error {
	c.log("delete " + key.String())
	return c.RecordStore.DeleteByKey(ctx, v, key)
}

type auditCapture struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *auditCapture) Record(_ context.Context, entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

type metricsCapture struct {
	mu  sync.Mutex
	ops []string
}

func (m *metricsCapture) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := "ok"
	if !success {
		status = "err"
	}
	m.ops = append(m.ops, op+":"+status)
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type logCapture struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *logCapture) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *logCapture) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *logCapture) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *logCapture) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *logCapture) Error(msg string, args ...any) { l.add("error", msg, args) }

type fixture struct {
	svc   *Service
	mem   *memory.Store
	store *captureStore
	clock *testClock
	v     domain.Variant
}

var testMappings = []domain.MappingRow{
	{Organization: "Acme", Program: "P1", Product: "A"},
	{Organization: "Acme", Program: "P1", Product: "B"},
	{Organization: "Acme", Program: "P2", Product: "C"},
	{Organization: "Beta", Program: "P3", Product: "D"},
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	ctx := context.Background()
	variants := domain.DefaultVariants()
	all := []domain.Variant{variants[domain.VariantCommission], variants[domain.VariantULR], variants[domain.VariantProducerCommission]}
	mem := memory.NewStore()
	if err := mem.Migrate(ctx, all); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v := variants[domain.VariantCommission]
	if err := mem.AddMappings(ctx, v, testMappings); err != nil {
		t.Fatalf("seed mappings: %v", err)
	}
	clock := newTestClock()
	store := &captureStore{RecordStore: mem}
	svc := NewService(store, all, append([]ServiceOption{WithClock(clock)}, opts...)...)
	return &fixture{svc: svc, mem: mem, store: store, clock: clock, v: v}
}

func (f *fixture) seed(t *testing.T, records ...domain.Record) {
	t.Helper()
	if err := f.mem.InsertBatch(context.Background(), f.v, records); err != nil {
		t.Fatalf("seed records: %v", err)
	}
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	sess, err := f.svc.NewSession(domain.VariantCommission)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func rec(org, program, product string, measure float64, updated time.Time) domain.Record {
	return domain.Record{
		Organization: org,
		Program:      program,
		Product:      product,
		Measure:      measure,
		Active:       true,
		UpdatedLast:  updated,
		Username:     "alice",
	}
}

func ptr[T any](v T) *T { return &v }

func bannerMessages(banners []Banner) []string {
	out := make([]string, len(banners))
	for i, b := range banners {
		out[i] = b.Message
	}
	return out
}
