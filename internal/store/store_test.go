package store_test

import (
	"context"
	"testing"
	"time"

	"cseflow/internal/db"
	"cseflow/internal/migrate"
	"cseflow/internal/store"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := store.New(conn)
	s.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "form:c1", "form")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected missing record")
	}
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "form:c1", "form", []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "form:c1", "form", []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Get(ctx, "form:c1", "form")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(v) != `{"v":2}` {
		t.Errorf("value = %s", v)
	}
}

func TestRecordsAreKeyedPerActor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "form:c1", "form", []byte(`"one"`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "form:c2", "form", []byte(`"two"`)); err != nil {
		t.Fatal(err)
	}
	v1, _, _ := s.Get(ctx, "form:c1", "form")
	v2, _, _ := s.Get(ctx, "form:c2", "form")
	if string(v1) != `"one"` || string(v2) != `"two"` {
		t.Errorf("values crossed: %s / %s", v1, v2)
	}
}
