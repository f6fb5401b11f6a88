// Package artifacts keeps rendered documents in content-addressed storage.
// A reference is "sha256:" followed by the hex digest of the bytes, so storing
// the same output twice yields the same reference.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const refPrefix = "sha256:"

var (
	// ErrNotFound is returned when no artifact has the reference.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidRef is returned for references that are not sha256:<hex>.
	ErrInvalidRef = errors.New("invalid artifact reference")
)

// Artifact is a stored document.
type Artifact struct {
	Ref         string
	ContentType string
	Data        []byte
}

// Store defines content-addressed storage for rendered output.
type Store interface {
	// Put persists data and returns its reference. Idempotent.
	Put(ctx context.Context, data []byte, contentType string) (string, error)

	// Get retrieves an artifact by reference
	Get(ctx context.Context, ref string) (*Artifact, error)
}

// Ref computes the reference of data.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

// parseRef returns the hex digest of a reference.
func parseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return strings.ToLower(digest), nil
}

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Artifact
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Artifact)}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	ref := Ref(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[ref]; !ok {
		s.items[ref] = Artifact{Ref: ref, ContentType: contentType, Data: append([]byte(nil), data...)}
	}
	return ref, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) (*Artifact, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.items[refPrefix+digest]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	a.Data = append([]byte(nil), a.Data...)
	return &a, nil
}

// Len returns the number of stored artifacts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
