// Package db defines the storage facade consumed by the Redis-backed
// document repository. Consumers depend on the narrow sub-interfaces, not on
// the concrete client.
package db

import (
	"context"
	"time"
)

// Store is the database facade combining all sub-interfaces.
type Store interface {
	Pinger
	JSONStore
	IndexManager
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JSONStore provides JSON document operations.
type JSONStore interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// IndexManager provides FT index lifecycle operations.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Searcher provides search operations over FT indexes.
type Searcher interface {
	SearchList(ctx context.Context, q *ListQuery) (*SearchResult, error)
}

// FieldType is an FT schema field type.
type FieldType string

// Supported FT field types.
const (
	FieldTag     FieldType = "TAG"
	FieldNumeric FieldType = "NUMERIC"
)

// FieldDefinition describes one indexed field of a JSON document.
type FieldDefinition struct {
	Identifier string // JSONPath into the document, e.g. "$.owner"
	Alias      string // name used in queries
	Type       FieldType
	Sortable   bool
}

// IndexDefinition describes an FT index over JSON documents.
type IndexDefinition struct {
	Name     string
	Prefixes []string
	Fields   []FieldDefinition
}

// ListQuery is a paginated FT.SEARCH request.
type ListQuery struct {
	Index        string
	Query        string
	Offset       int
	Limit        int
	ReturnFields []string
	SortBy       string // field alias, empty for no ordering
	SortAsc      bool
}

// SearchEntry is one FT.SEARCH hit.
type SearchEntry struct {
	Key    string
	Fields map[string]string
}

// SearchResult is a parsed FT.SEARCH reply.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}
