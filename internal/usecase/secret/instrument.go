package secret

import (
	"context"

	"github.com/tagvault/tagvault/internal/domain"
	"github.com/tagvault/tagvault/internal/metrics"
)

// InstrumentedBackend decorates a Backend with operation counters.
type InstrumentedBackend struct {
	inner Backend
	name  string
}

var _ Backend = (*InstrumentedBackend)(nil)

// NewInstrumentedBackend wraps a backend. name labels the metrics (log, sqlite, redis).
func NewInstrumentedBackend(inner Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{inner: inner, name: name}
}

func (b *InstrumentedBackend) Put(ctx context.Context, secret domain.Secret) (string, error) {
	id, err := b.inner.Put(ctx, secret)
	metrics.ObserveSecretOp(b.name, "put", err)
	return id, err
}

func (b *InstrumentedBackend) Get(ctx context.Context, key, owner string) ([]domain.Match, error) {
	matches, err := b.inner.Get(ctx, key, owner)
	metrics.ObserveSecretOp(b.name, "get", err)
	return matches, err
}

func (b *InstrumentedBackend) Remove(ctx context.Context, id, owner string) error {
	err := b.inner.Remove(ctx, id, owner)
	metrics.ObserveSecretOp(b.name, "remove", err)
	return err
}

func (b *InstrumentedBackend) ListKeys(ctx context.Context, owner string) ([]string, error) {
	keys, err := b.inner.ListKeys(ctx, owner)
	metrics.ObserveSecretOp(b.name, "list_keys", err)
	return keys, err
}
