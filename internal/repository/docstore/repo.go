// Package docstore persists one JSON document per secret in Redis, with an
// FT index over the owner and key fields. Unlike the log backend, matching is
// delegated to the search engine and deletion is physical and immediate.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tagvault/tagvault/internal/db"
	"github.com/tagvault/tagvault/internal/domain"
)

// maxResults bounds a single lookup. Tag stores hold personal notes, not
// corpora; a thousand hits for one key means something else went wrong.
const maxResults = 1000

// store is the consumer interface for secrets (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
}

// Repo is the document backend.
type Repo struct {
	store  store
	prefix string
	index  string
	logger *zap.Logger
}

// New creates a document repository. The prefix namespaces every Redis key
// and the index name, so multiple logical stores can share one host.
func New(s store, prefix string, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{
		store:  s,
		prefix: prefix,
		index:  prefix + "secret-idx",
		logger: logger,
	}
}

// EnsureIndex creates the FT index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.index)
	if err != nil {
		return unavailable("check index", err)
	}
	if exists {
		return nil
	}
	def := &db.IndexDefinition{
		Name:     r.index,
		Prefixes: []string{r.prefix + "secret:"},
		Fields: []db.FieldDefinition{
			{Identifier: "$.owner", Alias: "owner", Type: db.FieldTag},
			{Identifier: "$.key", Alias: "key", Type: db.FieldTag},
			{Identifier: "$.derived_keys[*]", Alias: "derived", Type: db.FieldTag},
			{Identifier: "$.stemmed_keys[*]", Alias: "stemmed", Type: db.FieldTag},
			{Identifier: "$.in_ts", Alias: "in_ts", Type: db.FieldNumeric, Sortable: true},
		},
	}
	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return unavailable("create index", err)
	}
	return nil
}

// Put stores one document per secret and returns its id.
func (r *Repo) Put(ctx context.Context, secret domain.Secret) (string, error) {
	id := secret.ID()
	if id == "" {
		id = uuid.NewString()
	}
	data, err := json.Marshal(buildDoc(&secret))
	if err != nil {
		return "", fmt.Errorf("marshal secret: %w", err)
	}
	if err := r.store.JSONSet(ctx, r.docKey(id), "$", data); err != nil {
		return "", unavailable("store secret", err)
	}
	return id, nil
}

// Get runs a single search matching the key against the absolute, derived and
// stemmed key fields, scoped to the exact owner, oldest first.
func (r *Repo) Get(ctx context.Context, key, owner string) ([]domain.Match, error) {
	k := escapeTag(key)
	query := fmt.Sprintf("@owner:{%s} (@key:{%s} | @derived:{%s} | @stemmed:{%s})",
		escapeTag(ownerTag(owner)), k, k, k)

	result, err := r.search(ctx, query)
	if err != nil {
		return nil, err
	}

	matches := make([]domain.Match, 0, len(result.Entries))
	for _, entry := range result.Entries {
		doc, err := parseEntry(entry)
		if err != nil {
			// Same policy as the log backend: a damaged document never hides
			// the rest of the result set.
			r.logger.Warn("skipping malformed document", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		matches = append(matches, domain.NewMatch(
			r.docID(entry.Key), doc.Key, doc.Secret, 0, doc.createdAt(),
		))
	}
	return matches, nil
}

// Remove physically deletes the document, but only when the stored owner
// matches: a correct id under the wrong owner deletes nothing. Idempotent.
func (r *Repo) Remove(ctx context.Context, id, owner string) error {
	key := r.docKey(id)
	raw, err := r.store.JSONGet(ctx, key, "$")
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil
		}
		return unavailable("load secret", err)
	}
	doc, err := parseJSON(raw)
	if err != nil {
		return fmt.Errorf("parse secret %s: %w", id, err)
	}
	if doc.Owner != ownerTag(owner) {
		return nil
	}
	if err := r.store.Del(ctx, key); err != nil {
		return unavailable("delete secret", err)
	}
	return nil
}

// ListKeys returns the distinct absolute keys of the owner's secrets, oldest
// first.
func (r *Repo) ListKeys(ctx context.Context, owner string) ([]string, error) {
	query := fmt.Sprintf("@owner:{%s}", escapeTag(ownerTag(owner)))

	result, err := r.search(ctx, query)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var keys []string
	for _, entry := range result.Entries {
		doc, err := parseEntry(entry)
		if err != nil {
			r.logger.Warn("skipping malformed document", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		if _, dup := seen[doc.Key]; dup {
			continue
		}
		seen[doc.Key] = struct{}{}
		keys = append(keys, doc.Key)
	}
	return keys, nil
}

func (r *Repo) search(ctx context.Context, query string) (*db.SearchResult, error) {
	result, err := r.store.SearchList(ctx, &db.ListQuery{
		Index:        r.index,
		Query:        query,
		Limit:        maxResults,
		ReturnFields: []string{"$"},
		SortBy:       "in_ts",
		SortAsc:      true,
	})
	if err != nil {
		return nil, unavailable("search secrets", err)
	}
	return result, nil
}

func (r *Repo) docKey(id string) string {
	return r.prefix + "secret:" + id
}

// docID strips the key prefix back off a search hit.
func (r *Repo) docID(key string) string {
	return strings.TrimPrefix(key, r.prefix+"secret:")
}

// unavailable maps an engine failure to the retryable-by-caller sentinel.
// No retries happen here; retry policy belongs to the client layer.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrBackendUnavailable, err)
}
