// Package entitlements records what a user has paid for and answers whether
// they may generate a given template. Payments arrive as "charge succeeded
// for entitlement X" events; X is either "template:<CODE>" for a one-time
// purchase or "subscription:<plan>" for access to every template.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/liamcoop/docforge/internal/logger"
)

var (
	// ErrInvalidEvent is returned for events missing ids or with an unknown
	// entitlement key.
	ErrInvalidEvent = errors.New("invalid entitlement event")

	// ErrNotEntitled is returned by Require when the user has no active grant.
	ErrNotEntitled = errors.New("not entitled")
)

// Kind is the kind of entitlement.
type Kind string

const (
	KindTemplate     Kind = "template"
	KindSubscription Kind = "subscription"
)

// Grant is one recorded entitlement.
type Grant struct {
	EventID     string     `json:"eventId"`
	UserID      string     `json:"userId"`
	Entitlement string     `json:"entitlement"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	GrantedAt   time.Time  `json:"grantedAt"`
}

// Active reports whether the grant is in force at now.
func (g Grant) Active(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// Event is a successful charge for an entitlement.
type Event struct {
	EventID     string     `json:"eventId"`
	UserID      string     `json:"userId"`
	Entitlement string     `json:"entitlement"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// ParseKey splits an entitlement key into kind and subject.
func ParseKey(key string) (Kind, string, error) {
	kind, subject, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok || subject == "" {
		return "", "", fmt.Errorf("%w: entitlement %q must be kind:subject", ErrInvalidEvent, key)
	}
	switch Kind(kind) {
	case KindTemplate:
		return KindTemplate, strings.ToUpper(subject), nil
	case KindSubscription:
		return KindSubscription, subject, nil
	}
	return "", "", fmt.Errorf("%w: unknown entitlement kind %q", ErrInvalidEvent, kind)
}

// TemplateKey is the entitlement key of a one-time template purchase.
func TemplateKey(code string) string {
	return string(KindTemplate) + ":" + strings.ToUpper(code)
}

// Store persists grants.
type Store interface {
	// Grant records g; recording the same event id twice is a no-op
	Grant(ctx context.Context, g Grant) error

	// ListGrants returns every grant of a user, oldest first
	ListGrants(ctx context.Context, userID string) ([]Grant, error)
}

// Service records events and checks access.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a service over store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Record stores the grant carried by a charge event.
func (s *Service) Record(ctx context.Context, e Event) (Grant, error) {
	if strings.TrimSpace(e.EventID) == "" || strings.TrimSpace(e.UserID) == "" {
		return Grant{}, fmt.Errorf("%w: event id and user id are required", ErrInvalidEvent)
	}
	kind, subject, err := ParseKey(e.Entitlement)
	if err != nil {
		return Grant{}, err
	}

	g := Grant{
		EventID:     e.EventID,
		UserID:      e.UserID,
		Entitlement: string(kind) + ":" + subject,
		ExpiresAt:   e.ExpiresAt,
		GrantedAt:   s.now().UTC(),
	}
	if err := s.store.Grant(ctx, g); err != nil {
		return Grant{}, fmt.Errorf("record entitlement: %w", err)
	}
	logger.Info("entitlement granted", "user_id", g.UserID, "entitlement", g.Entitlement, "event_id", g.EventID)
	return g, nil
}

// CanGenerate reports whether userID holds an active subscription or a
// purchase of templateCode.
func (s *Service) CanGenerate(ctx context.Context, userID, templateCode string) (bool, error) {
	grants, err := s.store.ListGrants(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("list entitlements: %w", err)
	}
	now := s.now()
	want := TemplateKey(templateCode)
	for _, g := range grants {
		if !g.Active(now) {
			continue
		}
		kind, _, err := ParseKey(g.Entitlement)
		if err != nil {
			continue
		}
		if kind == KindSubscription || g.Entitlement == want {
			return true, nil
		}
	}
	return false, nil
}

// Require returns ErrNotEntitled unless CanGenerate holds.
func (s *Service) Require(ctx context.Context, userID, templateCode string) error {
	ok, err := s.CanGenerate(ctx, userID, templateCode)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s for %s", ErrNotEntitled, userID, templateCode)
	}
	return nil
}

// InMemoryStore keeps grants in process memory.
type InMemoryStore struct {
	grants map[string][]Grant
	events map[string]bool
	mu     sync.RWMutex
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		grants: make(map[string][]Grant),
		events: make(map[string]bool),
	}
}

func (s *InMemoryStore) Grant(ctx context.Context, g Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.events[g.EventID] {
		return nil
	}
	s.events[g.EventID] = true
	s.grants[g.UserID] = append(s.grants[g.UserID], g)
	return nil
}

func (s *InMemoryStore) ListGrants(ctx context.Context, userID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Grant(nil), s.grants[userID]...), nil
}
