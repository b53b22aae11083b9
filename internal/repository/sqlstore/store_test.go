package sqlstore

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tagvault/tagvault/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s *Store, key, payload, owner string, derived, stemmed []string) string {
	t.Helper()
	sec, err := domain.New("", owner, key, payload, derived, stemmed, time.Now().UTC())
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	id, err := s.Put(context.Background(), sec)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	return id
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	put(t, s, "mobile number", "9867111111", "u1", []string{"mobile", "number"}, []string{"mobil", "number"})

	got, err := s.Get(context.Background(), "mobil", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	if got[0].Payload() != "9867111111" {
		t.Errorf("payload = %q, want %q", got[0].Payload(), "9867111111")
	}
	if got[0].Key() != "mobile number" {
		t.Errorf("key = %q, want absolute key", got[0].Key())
	}
}

func TestDuplicateContentRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "first key", "dup", "u1", []string{"first"}, []string{"first"})

	sec, _ := domain.New("", "u1", "second key", "dup", []string{"second"}, []string{"second"}, time.Now().UTC())
	if _, err := s.Put(ctx, sec); !errors.Is(err, domain.ErrDuplicateContent) {
		t.Fatalf("second put err = %v, want ErrDuplicateContent", err)
	}

	// The failed put must leave no association rows behind.
	if got, _ := s.Get(ctx, "second", "u1"); len(got) != 0 {
		t.Errorf("associations leaked from failed put: %v", got)
	}
	keys, err := s.ListKeys(ctx, "u1")
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if want := []string{"first key"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Derived set: running, run, fox (fox stems to itself) -> N = 3, and the
	// absolute key joins the denominator: 1/(3+1).
	put(t, s, "running fox", "sleeping rabbit", "u1",
		[]string{"fox", "running"}, []string{"fox", "run"})

	abs, err := s.Get(ctx, "running fox", "u1")
	if err != nil {
		t.Fatalf("get absolute: %v", err)
	}
	if len(abs) != 1 || abs[0].Score() != 1.0 {
		t.Fatalf("absolute match = %v, want score 1.0", abs)
	}

	fuzzy, err := s.Get(ctx, "run", "u1")
	if err != nil {
		t.Fatalf("get fuzzy: %v", err)
	}
	if len(fuzzy) != 1 {
		t.Fatalf("got %d fuzzy matches, want 1", len(fuzzy))
	}
	if want := 1.0 / 4.0; math.Abs(fuzzy[0].Score()-want) > 1e-9 {
		t.Errorf("fuzzy score = %v, want %v", fuzzy[0].Score(), want)
	}
}

func TestSingleTokenTagScoring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A single-word tag leaves exactly one distinct derived string (the stem).
	// It must still score below 1.0 or listings would mistake it for a
	// user-entered key.
	put(t, s, "mobile", "9867111111", "u1", []string{"mobile"}, []string{"mobil"})

	keys, err := s.ListKeys(ctx, "u1")
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if want := []string{"mobile"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v (stem must not appear)", keys, want)
	}

	fuzzy, err := s.Get(ctx, "mobil", "u1")
	if err != nil {
		t.Fatalf("get fuzzy: %v", err)
	}
	if len(fuzzy) != 1 {
		t.Fatalf("got %d fuzzy matches, want 1", len(fuzzy))
	}
	if fuzzy[0].Score() >= 1.0 {
		t.Errorf("stem score = %v, must stay below 1.0", fuzzy[0].Score())
	}
	if fuzzy[0].Key() != "mobile" {
		t.Errorf("display key = %q, want the absolute key", fuzzy[0].Key())
	}

	abs, err := s.Get(ctx, "mobile", "u1")
	if err != nil {
		t.Fatalf("get absolute: %v", err)
	}
	if len(abs) != 1 || abs[0].Score() != 1.0 {
		t.Errorf("absolute match = %v, want score 1.0", abs)
	}
}

func TestGetToleratesForeignTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Rows written without an explicit map_time fall back to the schema's
	// CURRENT_TIMESTAMP format. Reads must survive them with a zero time.
	res, err := s.db.Exec("INSERT INTO secret (owner, secret_text) VALUES ('u1', 'legacy payload')")
	if err != nil {
		t.Fatalf("insert secret: %v", err)
	}
	id, _ := res.LastInsertId()
	if _, err := s.db.Exec(
		"INSERT INTO key_secret (key, secret_id, score) VALUES ('legacy', ?, 1.0)", id,
	); err != nil {
		t.Fatalf("insert association: %v", err)
	}

	got, err := s.Get(ctx, "legacy", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	if !got[0].CreatedAt().IsZero() {
		t.Errorf("createdAt = %v, want zero for unparseable map_time", got[0].CreatedAt())
	}
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := put(t, s, "running fox", "sleeping rabbit", "u1",
		[]string{"fox", "running"}, []string{"fox", "run"})

	if err := s.Remove(ctx, id, "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Remove is idempotent.
	if err := s.Remove(ctx, id, "u1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}

	for _, key := range []string{"running fox", "fox", "run"} {
		if got, _ := s.Get(ctx, key, "u1"); len(got) != 0 {
			t.Errorf("key %q still matches after cascade delete: %v", key, got)
		}
	}
	if keys, _ := s.ListKeys(ctx, "u1"); len(keys) != 0 {
		t.Errorf("keys = %v, want none after delete", keys)
	}
}

func TestOwnerScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := put(t, s, "linux", "open source os", "u1", nil, nil)
	put(t, s, "linux", "public secret", "", nil, nil)

	if got, _ := s.Get(ctx, "linux", "hacker"); len(got) != 0 {
		t.Errorf("foreign owner sees %v", got)
	}
	pub, err := s.Get(ctx, "linux", "")
	if err != nil {
		t.Fatalf("get public: %v", err)
	}
	if len(pub) != 1 || pub[0].Payload() != "public secret" {
		t.Errorf("public partition = %v", pub)
	}

	// A correct id under the wrong owner must not delete.
	if err := s.Remove(ctx, id, "hacker"); err != nil {
		t.Fatalf("cross-owner remove: %v", err)
	}
	if got, _ := s.Get(ctx, "linux", "u1"); len(got) != 1 {
		t.Errorf("record gone after cross-owner remove attempt")
	}
}

func TestDuplicateKeysInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "knock knock joke", "sure!", "u1", []string{"joke", "knock"}, []string{"joke", "knock"})
	put(t, s, "knock knock", "who is it?", "u1", []string{"knock"}, []string{"knock"})

	got, err := s.Get(ctx, "knock", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	if got[0].Payload() != "sure!" || got[1].Payload() != "who is it?" {
		t.Errorf("matches out of insertion order: %q, %q", got[0].Payload(), got[1].Payload())
	}
}

func TestAbsoluteKeyAlwaysSearchable(t *testing.T) {
	s := newTestStore(t)

	put(t, s, "the", "needle", "u1", nil, nil)

	got, err := s.Get(context.Background(), "the", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].Score() != 1.0 {
		t.Fatalf("got %v, want single absolute match", got)
	}
}
