package core

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"ratedesk/pkg/domain"
)

// ErrSessionNotFound is returned when a session id is unknown, expired or
// belongs to another variant.
var ErrSessionNotFound = errors.New("session not found")

// Selection is the submission form state of one session.
type Selection struct {
	Organization string   `json:"organization"`
	Program      string   `json:"program"`
	Products     []string `json:"products"`
	Measure      float64  `json:"measure"`
	Active       bool     `json:"active"`
	// ResetFlag is set by Reset and cleared by the next selection update.
	ResetFlag bool `json:"reset_flag"`
}

// DefaultSelection returns the pristine form.
func DefaultSelection() Selection {
	return Selection{Products: []string{}, Active: true}
}

// State reports how far the form has been filled in.
func (s Selection) State() SubmitState {
	switch {
	case s.Organization == "" && s.Program == "" && len(s.Products) == 0:
		return SubmitStateEmpty
	case s.Organization != "" && s.Program != "" && len(s.Products) > 0:
		return SubmitStateReady
	default:
		return SubmitStatePartial
	}
}

// SelectionUpdate carries the fields a client changed. Nil fields are left as is.
type SelectionUpdate struct {
	Organization *string   `json:"organization,omitempty"`
	Program      *string   `json:"program,omitempty"`
	Products     *[]string `json:"products,omitempty"`
	Measure      *float64  `json:"measure,omitempty"`
	Active       *bool     `json:"active,omitempty"`
}

// apply merges u into s. Changing the organization clears program and
// products; changing the program clears products.
func (s Selection) apply(u SelectionUpdate) Selection {
	next := s
	next.Products = append([]string{}, s.Products...)
	if u.Organization != nil && *u.Organization != s.Organization {
		next.Organization = *u.Organization
		next.Program = ""
		next.Products = []string{}
	}
	if u.Program != nil && *u.Program != next.Program {
		next.Program = *u.Program
		next.Products = []string{}
	}
	if u.Products != nil {
		next.Products = dedupe(*u.Products)
	}
	if u.Measure != nil {
		next.Measure = *u.Measure
	}
	if u.Active != nil {
		next.Active = *u.Active
	}
	next.ResetFlag = false
	return next
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// BannerLevel classifies a banner.
type BannerLevel string

const (
	BannerSuccess BannerLevel = "success"
	BannerError   BannerLevel = "error"
	BannerInfo    BannerLevel = "info"
)

// Banner display durations.
const (
	SuccessBannerTTL = 3 * time.Second
	ErrorBannerTTL   = 5 * time.Second
)

// Banner is a transient message shown above the form.
type Banner struct {
	Level     BannerLevel `json:"level"`
	Message   string      `json:"message"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Session is the per-user interaction state. All fields are guarded by the
// session's mutex, which Service.WithSession holds for the callback.
type Session struct {
	mu        sync.Mutex
	ID        string
	Variant   domain.VariantName
	CreatedAt time.Time
	Selection Selection
	View      *View
	banners   []Banner
}

func newSession(variant domain.VariantName, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Variant:   variant,
		CreatedAt: now,
		Selection: DefaultSelection(),
	}
}

// Reset replaces the selection with the pristine form and raises its reset
// flag so clients clear their widgets. The rendered view and banners survive.
func (s *Session) Reset() {
	s.Selection = DefaultSelection()
	s.Selection.ResetFlag = true
}

// AddBanner queues a banner expiring after the level's display duration.
func (s *Session) AddBanner(level BannerLevel, message string, now time.Time) {
	ttl := SuccessBannerTTL
	if level == BannerError {
		ttl = ErrorBannerTTL
	}
	s.banners = append(s.banners, Banner{Level: level, Message: message, ExpiresAt: now.Add(ttl)})
}

// Banners returns the banners still visible at now and drops expired ones.
func (s *Session) Banners(now time.Time) []Banner {
	live := s.banners[:0]
	for _, b := range s.banners {
		if now.Before(b.ExpiresAt) {
			live = append(live, b)
		}
	}
	s.banners = live
	return append([]Banner{}, live...)
}

// SessionRegistry holds live sessions in an expiring LRU.
type SessionRegistry struct {
	cache *expirable.LRU[string, *Session]
}

// NewSessionRegistry builds a registry evicting beyond size or after ttl.
func NewSessionRegistry(size int, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{cache: expirable.NewLRU[string, *Session](size, nil, ttl)}
}

// Create registers a new session for variant.
func (r *SessionRegistry) Create(variant domain.VariantName, now time.Time) *Session {
	s := newSession(variant, now)
	r.cache.Add(s.ID, s)
	return s
}

// Get returns the session with id when it belongs to variant.
func (r *SessionRegistry) Get(variant domain.VariantName, id string) (*Session, error) {
	s, ok := r.cache.Get(id)
	if !ok || s.Variant != variant {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete drops a session.
func (r *SessionRegistry) Delete(id string) {
	r.cache.Remove(id)
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	return r.cache.Len()
}
