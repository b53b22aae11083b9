// Package secret orchestrates key derivation and the storage backend. It is
// the only layer front ends talk to.
package secret

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tagvault/tagvault/internal/domain"
	"github.com/tagvault/tagvault/internal/keyword"
)

// Service handles secret storage and fuzzy tag lookup.
type Service struct {
	backend Backend
}

// New creates a secret service over the chosen backend.
func New(backend Backend) *Service {
	return &Service{backend: backend}
}

// Keep stores a secret under a tag. The tag is lower-cased, derived keys are
// extracted from it, and the record is handed to the backend. Returns the
// effective search keys (absolute key first, then the derived originals) and
// the assigned id.
func (s *Service) Keep(ctx context.Context, key, payload, owner string) ([]string, string, error) {
	derived := keyword.Derive(key)

	sec, err := domain.New("", owner, key, payload,
		keyword.Originals(derived), keyword.Stems(derived), time.Now().UTC())
	if err != nil {
		return nil, "", fmt.Errorf("build secret: %w", err)
	}

	id, err := s.backend.Put(ctx, sec)
	if err != nil {
		return nil, "", fmt.Errorf("store secret: %w", err)
	}

	keys := append([]string{sec.Key()}, keyword.Originals(derived)...)
	return keys, id, nil
}

// Tell returns the secrets associated with the key, oldest first. Lookups
// match literal stored key strings, so the query is only lower-cased, never
// re-stemmed.
func (s *Service) Tell(ctx context.Context, key, owner string) ([]domain.Match, error) {
	matches, err := s.backend.Get(ctx, strings.ToLower(strings.TrimSpace(key)), owner)
	if err != nil {
		return nil, fmt.Errorf("lookup secrets: %w", err)
	}
	return matches, nil
}

// Forget removes a secret. Idempotent.
func (s *Service) Forget(ctx context.Context, id, owner string) error {
	if err := s.backend.Remove(ctx, id, owner); err != nil {
		return fmt.Errorf("remove secret: %w", err)
	}
	return nil
}

// Tags lists the owner's absolute keys.
func (s *Service) Tags(ctx context.Context, owner string) ([]string, error) {
	keys, err := s.backend.ListKeys(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}
