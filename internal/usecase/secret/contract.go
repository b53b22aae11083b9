package secret

import (
	"context"

	"github.com/tagvault/tagvault/internal/domain"
)

// Backend is the storage contract shared by the log, relational and document
// engines. All implementations are owner-scoped: the empty owner addresses
// the public partition and never intersects with any named owner.
type Backend interface {
	// Put persists a secret and returns its id. Backends that generate their
	// own ids (autoincrement) ignore a pre-set one.
	Put(ctx context.Context, secret domain.Secret) (string, error)
	// Get returns live matches for the key in insertion order. No match is
	// an empty slice, not an error.
	Get(ctx context.Context, key, owner string) ([]domain.Match, error)
	// Remove forgets a secret. Idempotent; unknown ids are a no-op.
	Remove(ctx context.Context, id, owner string) error
	// ListKeys returns the absolute keys of the owner's live secrets.
	ListKeys(ctx context.Context, owner string) ([]string, error)
}
