// Package logstore persists secrets in an append-only text log with a CSV
// tombstone side file. Records are never rewritten in place; removal appends
// an (owner, id) tombstone and lookups merge the tombstone set at read time.
// Every read is a full sequential scan over the whole history, tombstoned
// records included. That linear cost is the accepted trade-off of the format;
// there is no compaction.
package logstore

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tagvault/tagvault/internal/domain"
)

// maxLineSize bounds a single record line during scans. Payloads are capped
// at domain.MaxPayloadSize per line well below this.
const maxLineSize = 1 << 20

// Store is the append-only log backend.
//
// Concurrency: a process-local RWMutex serializes writers and lets scans run
// shared, so a reader never observes a partially written record. The format
// assumes a single writing process per file pair; concurrent writers from
// separate processes can corrupt record boundaries.
type Store struct {
	mu       sync.RWMutex
	path     string
	tombPath string
	logger   *zap.Logger
}

// Open creates or opens the log file pair at path (tombstones live in
// <path>.deleted).
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, tombPath: path + ".deleted", logger: logger}
	for _, p := range []string{s.path, s.tombPath} {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("close %s: %w", p, err)
		}
	}
	return s, nil
}

// Put appends one record and returns its id. No uniqueness check: duplicate
// (key, payload) pairs simply accumulate.
func (s *Store) Put(_ context.Context, secret domain.Secret) (string, error) {
	id := secret.ID()
	if id == "" {
		id = uuid.NewString()
		secret = domain.Reconstruct(
			id, secret.Owner(), secret.Key(), secret.Payload(),
			secret.DerivedKeys(), secret.StemmedKeys(), secret.CreatedAt(),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("\n" + serialize(&secret)); err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync log: %w", err)
	}
	return id, nil
}

// Get scans the log from the start and returns live, owner-matching records
// whose search key set contains the key, oldest first.
func (s *Store) Get(ctx context.Context, key, owner string) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dead, err := s.tombstones(owner)
	if err != nil {
		return nil, err
	}

	var matches []domain.Match
	err = s.scan(ctx, func(rec *domain.Secret) {
		if _, gone := dead[rec.ID()]; gone {
			return
		}
		if rec.Owner() != owner {
			return
		}
		if _, ok := rec.SearchKeys()[key]; !ok {
			return
		}
		matches = append(matches, domain.NewMatch(rec.ID(), rec.Key(), rec.Payload(), 0, rec.CreatedAt()))
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Remove appends an (owner, id) tombstone. Idempotent: removing an already
// removed or unknown id appends another harmless row.
func (s *Store) Remove(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.tombPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open tombstone log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{owner, id}); err != nil {
		return fmt.Errorf("append tombstone: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush tombstone: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync tombstone log: %w", err)
	}
	return nil
}

// ListKeys returns the absolute key of every live, owner-matching record in
// insertion order. Duplicates are retained.
func (s *Store) ListKeys(ctx context.Context, owner string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dead, err := s.tombstones(owner)
	if err != nil {
		return nil, err
	}

	var keys []string
	err = s.scan(ctx, func(rec *domain.Secret) {
		if _, gone := dead[rec.ID()]; gone {
			return
		}
		if rec.Owner() != owner {
			return
		}
		keys = append(keys, rec.Key())
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// scan walks the log file and calls visit for every well-formed record.
// Damaged records are logged and skipped, never aborting the scan: a corrupt
// record must not hide the rest of the history.
func (s *Store) scan(ctx context.Context, visit func(*domain.Secret)) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines []string
	inRecord := false
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Text()
		if _, ok := parseBeginMarker(line); ok {
			if inRecord {
				// Previous record never reached its end marker.
				s.logger.Warn("skipping truncated record", zap.String("marker", lines[0]))
			}
			lines = lines[:0]
			inRecord = true
		}
		if !inRecord {
			continue
		}
		lines = append(lines, line)
		if line != endMarker {
			continue
		}
		inRecord = false
		rec, err := deserialize(lines)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedRecord) {
				s.logger.Warn("skipping malformed record", zap.String("marker", lines[0]), zap.Error(err))
				continue
			}
			return err
		}
		visit(&rec)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan log: %w", err)
	}
	if inRecord {
		s.logger.Warn("skipping truncated record at end of log", zap.String("marker", lines[0]))
	}
	return nil
}

// tombstones loads the set of ids removed by the given owner.
func (s *Store) tombstones(owner string) (map[string]struct{}, error) {
	f, err := os.Open(s.tombPath)
	if err != nil {
		return nil, fmt.Errorf("open tombstone log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	dead := make(map[string]struct{})
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tombstone log: %w", err)
		}
		if len(row) != 2 {
			s.logger.Warn("skipping malformed tombstone row", zap.Strings("row", row))
			continue
		}
		if row[0] == owner {
			dead[row[1]] = struct{}{}
		}
	}
	return dead, nil
}
