package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrTemplateNotFound is returned when no published template has the code.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrOverlayNotFound is returned when no overlay matches the exact key.
	ErrOverlayNotFound = errors.New("overlay not found")
)

// Store is the read side of the catalog used at generation time.
type Store interface {
	// GetTemplate returns the active version of a template
	GetTemplate(ctx context.Context, code string) (*Template, error)

	// GetOverlay returns the overlay for the exact key; language "" selects the
	// jurisdiction-only overlay
	GetOverlay(ctx context.Context, code, jurisdiction, language string) (*Overlay, error)

	// ListTemplates returns the active version of every template, ordered by code
	ListTemplates(ctx context.Context) ([]*Template, error)
}

// Publisher is the write side used by the import process.
type Publisher interface {
	// PublishTemplate stores a new version and makes it the active one
	PublishTemplate(ctx context.Context, t *Template) error

	// PutOverlay creates or replaces the overlay for its key
	PutOverlay(ctx context.Context, o *Overlay) error
}

type overlayKey struct {
	code, jurisdiction, language string
}

func keyFor(code, jurisdiction, language string) overlayKey {
	return overlayKey{code: code, jurisdiction: NormalizeJurisdiction(jurisdiction), language: NormalizeLanguage(language)}
}

type publishedTemplate struct {
	template    *Template
	publishedAt time.Time
}

// InMemoryStore implements Store and Publisher with maps guarded by a RWMutex.
// Every version ever published is retained; the last one is active.
type InMemoryStore struct {
	versions map[string][]publishedTemplate
	overlays map[overlayKey]*Overlay
	mu       sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory catalog.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		versions: make(map[string][]publishedTemplate),
		overlays: make(map[overlayKey]*Overlay),
	}
}

// PublishTemplate appends a new version. The stored copy is private to the
// store so later edits by the caller cannot leak into it.
func (s *InMemoryStore) PublishTemplate(ctx context.Context, t *Template) error {
	if t == nil || t.Code == "" {
		return fmt.Errorf("template code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.versions[t.Code] {
		if p.template.Version == t.Version {
			return fmt.Errorf("template %s version %s already published", t.Code, t.Version)
		}
	}

	s.versions[t.Code] = append(s.versions[t.Code], publishedTemplate{
		template:    t.Clone(),
		publishedAt: time.Now(),
	})
	return nil
}

// GetTemplate returns a copy of the active version.
func (s *InMemoryStore) GetTemplate(ctx context.Context, code string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[code]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, code)
	}
	return versions[len(versions)-1].template.Clone(), nil
}

// ListTemplates returns copies of all active templates ordered by code.
func (s *InMemoryStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Template, 0, len(s.versions))
	for _, versions := range s.versions {
		if len(versions) == 0 {
			continue
		}
		out = append(out, versions[len(versions)-1].template.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// PutOverlay stores a copy of the overlay under its normalized key.
func (s *InMemoryStore) PutOverlay(ctx context.Context, o *Overlay) error {
	if o == nil || o.TemplateCode == "" || o.Jurisdiction == "" {
		return fmt.Errorf("overlay template code and jurisdiction are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := o.Clone()
	c.Jurisdiction = NormalizeJurisdiction(c.Jurisdiction)
	c.Language = NormalizeLanguage(c.Language)
	s.overlays[keyFor(o.TemplateCode, o.Jurisdiction, o.Language)] = c
	return nil
}

// GetOverlay returns a copy of the overlay for the exact key.
func (s *InMemoryStore) GetOverlay(ctx context.Context, code, jurisdiction, language string) (*Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overlays[keyFor(code, jurisdiction, language)]
	if !ok {
		return nil, ErrOverlayNotFound
	}
	return o.Clone(), nil
}
