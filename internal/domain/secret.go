package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxPayloadSize is the maximum secret payload size in bytes.
const MaxPayloadSize = 65536 // 64KB

// Secret is the stored secret aggregate (immutable value object).
// The key is the verbatim lower-cased tag supplied at write time; derived and
// stemmed keys are the searchable sub-tags extracted from it. An empty owner
// means the record belongs to the public partition, which never intersects
// with any named owner.
type Secret struct {
	id        string
	owner     string
	key       string
	payload   string
	derived   []string
	stemmed   []string
	createdAt time.Time
}

// New validates and creates a Secret.
// Key: non-empty after trimming, stored lower-cased. Payload: non-empty, max 64KB,
// may contain embedded newlines.
func New(id, owner, key, payload string, derived, stemmed []string, createdAt time.Time) (Secret, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return Secret{}, fmt.Errorf("%w: key is required", ErrInvalidSecret)
	}
	if payload == "" {
		return Secret{}, fmt.Errorf("%w: payload is required", ErrInvalidSecret)
	}
	if len(payload) > MaxPayloadSize {
		return Secret{}, fmt.Errorf("%w: payload too large (max %d bytes)", ErrInvalidSecret, MaxPayloadSize)
	}

	return Secret{
		id:        id,
		owner:     owner,
		key:       key,
		payload:   payload,
		derived:   append([]string(nil), derived...),
		stemmed:   append([]string(nil), stemmed...),
		createdAt: createdAt,
	}, nil
}

// Reconstruct creates a Secret without validation (storage hydration).
func Reconstruct(id, owner, key, payload string, derived, stemmed []string, createdAt time.Time) Secret {
	return Secret{
		id: id, owner: owner, key: key, payload: payload,
		derived: derived, stemmed: stemmed, createdAt: createdAt,
	}
}

// ID returns the secret identifier.
func (s *Secret) ID() string { return s.id }

// Owner returns the owning identity, empty for the public partition.
func (s *Secret) Owner() string { return s.owner }

// Key returns the absolute (verbatim lower-cased) tag.
func (s *Secret) Key() string { return s.key }

// Payload returns the secret content.
func (s *Secret) Payload() string { return s.payload }

// DerivedKeys returns the original-form derived tokens.
func (s *Secret) DerivedKeys() []string { return s.derived }

// StemmedKeys returns the stemmed derived tokens.
func (s *Secret) StemmedKeys() []string { return s.stemmed }

// CreatedAt returns the creation timestamp.
func (s *Secret) CreatedAt() time.Time { return s.createdAt }

// SearchKeys returns the effective lookup key set: the absolute key plus every
// derived and stemmed token. The absolute key is always present, even when
// derivation produced nothing.
func (s *Secret) SearchKeys() map[string]struct{} {
	keys := make(map[string]struct{}, 1+len(s.derived)+len(s.stemmed))
	keys[s.key] = struct{}{}
	for _, k := range s.derived {
		keys[k] = struct{}{}
	}
	for _, k := range s.stemmed {
		keys[k] = struct{}{}
	}
	return keys
}

// Match is a single lookup hit.
type Match struct {
	id        string
	key       string
	payload   string
	score     float64
	createdAt time.Time
}

// NewMatch creates a lookup hit. Score is informational: 1.0 for an absolute
// key match, a fraction below 1.0 for a derived one, 0 where the backend does
// not compute it.
func NewMatch(id, key, payload string, score float64, createdAt time.Time) Match {
	return Match{id: id, key: key, payload: payload, score: score, createdAt: createdAt}
}

// ID returns the matched secret identifier.
func (m *Match) ID() string { return m.id }

// Key returns the absolute key of the matched secret.
func (m *Match) Key() string { return m.key }

// Payload returns the secret content.
func (m *Match) Payload() string { return m.payload }

// Score returns the match strength, never used for filtering.
func (m *Match) Score() float64 { return m.score }

// CreatedAt returns the creation timestamp of the matched secret.
func (m *Match) CreatedAt() time.Time { return m.createdAt }
