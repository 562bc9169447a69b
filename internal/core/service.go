package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ratedesk/pkg/domain"
)

// ErrUnknownVariant is returned for variant names the service does not serve.
var ErrUnknownVariant = errors.New("unknown variant")

// Service runs the selection, submission and table workflows of every
// configured variant over one record store.
type Service struct {
	store    domain.RecordStore
	variants map[domain.VariantName]domain.Variant
	lookups  *CachedLookups
	sessions *SessionRegistry
	clock    Clock
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
}

// NewService constructs a service for variants backed by store.
func NewService(store domain.RecordStore, variants []domain.Variant, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	byName := make(map[domain.VariantName]domain.Variant, len(variants))
	for _, v := range variants {
		byName[v.Name] = v
	}
	return &Service{
		store:    store,
		variants: byName,
		lookups:  NewCachedLookups(store, o.lookupSize, o.lookupTTL),
		sessions: NewSessionRegistry(o.sessionSize, o.sessionTTL),
		clock:    o.clock,
		logger:   o.logger,
		metrics:  o.metrics,
		tracer:   o.tracer,
		audit:    o.audit,
	}
}

// Store returns the underlying record store.
func (s *Service) Store() domain.RecordStore { return s.store }

// Lookups returns the cascade option cache.
func (s *Service) Lookups() *CachedLookups { return s.lookups }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Variants returns the served variants ordered by name.
func (s *Service) Variants() []domain.Variant {
	out := make([]domain.Variant, 0, len(s.variants))
	for _, v := range s.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Variant resolves a variant by name.
func (s *Service) Variant(name domain.VariantName) (domain.Variant, error) {
	v, ok := s.variants[name]
	if !ok {
		return domain.Variant{}, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	return v, nil
}

// NewSession starts an interaction session for a variant.
func (s *Service) NewSession(name domain.VariantName) (*Session, error) {
	if _, err := s.Variant(name); err != nil {
		return nil, err
	}
	sess := s.sessions.Create(name, s.clock.Now())
	s.logger.Info("session created", "variant", name, "session", sess.ID)
	return sess, nil
}

// WithSession runs fn while holding the session's lock so one session's
// cycles never interleave.
func (s *Service) WithSession(name domain.VariantName, id string, fn func(*Session) error) error {
	if _, err := s.Variant(name); err != nil {
		return err
	}
	sess, err := s.sessions.Get(name, id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return fn(sess)
}

// run instruments one record store call with tracing, metrics and logging.
func (s *Service) run(ctx context.Context, op string, v domain.Variant, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("store operation failed", "operation", op, "variant", v.Name, "duration", duration, "error", err)
	} else {
		s.logger.Debug("store operation", "operation", op, "variant", v.Name, "duration", duration)
	}
	return err
}

func (s *Service) record(ctx context.Context, op string, v domain.Variant, key domain.NaturalKey, username string, duration time.Duration, err error) {
	entry := AuditEntry{
		Operation: op,
		Variant:   string(v.Name),
		Key:       key.String(),
		Username:  username,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

func (s *Service) listDistinct(ctx context.Context, v domain.Variant, field domain.Field, filter *domain.KeyFilter) ([]string, error) {
	var out []string
	err := s.run(ctx, "list_distinct", v, func(ctx context.Context) error {
		var err error
		out, err = s.lookups.ListDistinct(ctx, v, field, filter)
		return err
	})
	return out, err
}

func (s *Service) fetchAll(ctx context.Context, v domain.Variant) ([]domain.Record, error) {
	var out []domain.Record
	err := s.run(ctx, "fetch_all", v, func(ctx context.Context) error {
		var err error
		out, err = s.store.FetchAll(ctx, v)
		return err
	})
	return out, err
}

func (s *Service) insertIfAbsent(ctx context.Context, v domain.Variant, records []domain.Record, username string) ([]domain.Record, []domain.NaturalKey, error) {
	var (
		inserted   []domain.Record
		duplicates []domain.NaturalKey
	)
	start := time.Now()
	err := s.run(ctx, "insert_if_absent", v, func(ctx context.Context) error {
		var err error
		inserted, duplicates, err = s.store.InsertIfAbsent(ctx, v, records)
		return err
	})
	duration := time.Since(start)
	if err != nil {
		for _, r := range records {
			s.record(ctx, "insert", v, r.Key(), username, duration, err)
		}
		return nil, nil, err
	}
	for _, r := range inserted {
		s.record(ctx, "insert", v, r.Key(), username, duration, nil)
	}
	return inserted, duplicates, nil
}

func (s *Service) updateByKey(ctx context.Context, v domain.Variant, key domain.NaturalKey, change domain.RecordChange) error {
	start := time.Now()
	err := s.run(ctx, "update_by_key", v, func(ctx context.Context) error {
		return s.store.UpdateByKey(ctx, v, key, change)
	})
	s.record(ctx, "update", v, key, change.Username, time.Since(start), err)
	return err
}

func (s *Service) deleteByKey(ctx context.Context, v domain.Variant, key domain.NaturalKey, username string) error {
	start := time.Now()
	err := s.run(ctx, "delete_by_key", v, func(ctx context.Context) error {
		return s.store.DeleteByKey(ctx, v, key)
	})
	s.record(ctx, "delete", v, key, username, time.Since(start), err)
	return err
}
