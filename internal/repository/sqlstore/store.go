// Package sqlstore persists secrets in a two-table SQLite schema with scored
// key associations. Unlike the log backend it enforces payload uniqueness and
// deletes physically: removing a secret row cascades to its associations.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver for database/sql

	"github.com/tagvault/tagvault/internal/domain"
)

// timeLayout is how association timestamps are stored (UTC).
const timeLayout = "2006-01-02 15:04:05.000000"

// absoluteScore marks the association carrying the verbatim user key.
// The absolute key counts in the derived-score denominator, so a derived key
// never reaches 1.0 and score alone distinguishes listings.
const absoluteScore = 1.0

// Store is the relational backend.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens/creates a SQLite database and ensures schema and pragmas.
// Use ":memory:" for an in-memory database.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS secret (
  id          INTEGER PRIMARY KEY,
  owner       TEXT NOT NULL DEFAULT '',
  secret_text TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS key_secret (
  key       TEXT NOT NULL,
  secret_id INTEGER NOT NULL REFERENCES secret(id) ON DELETE CASCADE,
  score     REAL NOT NULL,
  map_time  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
  UNIQUE (key, secret_id)
);
CREATE INDEX IF NOT EXISTS key_secret_key_idx ON key_secret(key);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close shuts down the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts the secret row and its key associations in one transaction.
// Identical payload text fails with domain.ErrDuplicateContent and leaves no
// association rows behind. The absolute key is scored 1.0, every derived and
// stemmed key 1/(N+1) where N is the number of distinct derived key strings;
// the absolute key is part of the denominator, so even a single derived key
// scores below 1.0.
func (s *Store) Put(ctx context.Context, secret domain.Secret) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO secret (owner, secret_text) VALUES (?, ?)",
		secret.Owner(), secret.Payload(),
	)
	if err != nil {
		if isDuplicateText(err) {
			return "", domain.ErrDuplicateContent
		}
		return "", fmt.Errorf("insert secret: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("secret id: %w", err)
	}

	mapTime := secret.CreatedAt().UTC().Format(timeLayout)
	insert := func(key string, score float64) error {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO key_secret (key, secret_id, score, map_time) VALUES (?, ?, ?, ?)",
			key, id, score, mapTime,
		)
		return err
	}

	// Absolute key first: listings rely on the score-1.0 row and lookups pick
	// the earliest such row as the record's display key.
	if err := insert(secret.Key(), absoluteScore); err != nil {
		return "", fmt.Errorf("map absolute key: %w", err)
	}
	derived := derivedKeySet(secret)
	score := 1.0 / float64(len(derived)+1)
	for _, key := range derived {
		if err := insert(key, score); err != nil {
			return "", fmt.Errorf("map key %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return fmt.Sprintf("%d", id), nil
}

// Get joins secrets with their key associations, owner-filtered, in insertion
// order. The reported score distinguishes absolute from fuzzy matches and is
// never a filter.
func (s *Store) Get(ctx context.Context, key, owner string) ([]domain.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id,
       (SELECT ak.key FROM key_secret ak
         WHERE ak.secret_id = s.id AND ak.score = ? ORDER BY ak.rowid LIMIT 1),
       s.secret_text, ks.score, ks.map_time
  FROM secret s
  JOIN key_secret ks ON s.id = ks.secret_id
 WHERE ks.key = ? AND s.owner = ?
 ORDER BY s.id`,
		absoluteScore, key, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("query secrets by key: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var (
			id      int64
			absKey  sql.NullString
			payload string
			score   float64
			mapTime string
		)
		if err := rows.Scan(&id, &absKey, &payload, &score, &mapTime); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		createdAt, perr := time.Parse(timeLayout, mapTime)
		if perr != nil {
			// Rows written by the DEFAULT CURRENT_TIMESTAMP path or foreign
			// tooling carry other formats; report zero time rather than fail.
			s.logger.Warn("unparseable association timestamp",
				zap.String("map_time", mapTime), zap.Error(perr))
		}
		matches = append(matches, domain.NewMatch(
			fmt.Sprintf("%d", id), absKey.String, payload, score, createdAt.UTC(),
		))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return matches, nil
}

// Remove deletes the secret row for the owner; the cascade removes its
// associations. Deleting a missing or foreign id is a no-op.
func (s *Store) Remove(ctx context.Context, id, owner string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM secret WHERE id = ? AND owner = ?", id, owner,
	); err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

// ListKeys returns every absolute key (score 1.0 association) for the owner
// in insertion order.
func (s *Store) ListKeys(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ks.key
  FROM key_secret ks
  JOIN secret s ON s.id = ks.secret_id
 WHERE ks.score = ? AND s.owner = ?
 ORDER BY ks.rowid`,
		absoluteScore, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("query absolute keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// derivedKeySet returns the distinct derived and stemmed key strings,
// excluding the absolute key, preserving first-seen order.
func derivedKeySet(secret domain.Secret) []string {
	seen := map[string]struct{}{secret.Key(): {}}
	var keys []string
	for _, k := range append(append([]string(nil), secret.DerivedKeys()...), secret.StemmedKeys()...) {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// isDuplicateText reports whether err is the UNIQUE violation on
// secret.secret_text. The driver exposes constraint failures only through
// the error text, same as the original engine.
func isDuplicateText(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: secret.secret_text")
}
