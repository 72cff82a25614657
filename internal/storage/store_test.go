package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func put(t *testing.T, s *Store, key, value string) {
	t.Helper()
	err := s.Update(context.Background(), func(tx *Tx) error {
		return tx.Put(key, []byte(value))
	})
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)
	put(t, s, "a", "one")
	got, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "one" {
		t.Fatalf("expected one, got %s", got)
	}

	put(t, s, "a", "two")
	got, _ = s.Get(context.Background(), "a")
	if string(got) != "two" {
		t.Fatalf("expected overwrite to two, got %s", got)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	put(t, s, "a", "one")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.Update(ctx, func(tx *Tx) error { return tx.Delete("a") }); err != nil {
			t.Fatalf("delete #%d: %v", i, err)
		}
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put("a", []byte("one")); err != nil {
			return err
		}
		if v, err := tx.Get("a"); err != nil || string(v) != "one" {
			t.Fatalf("read own write: %q %v", v, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestKeysByPrefix(t *testing.T) {
	s := newTestStore(t)
	put(t, s, "app/session/b", "x")
	put(t, s, "app/session/a", "x")
	put(t, s, "app/index", "x")
	put(t, s, "other/session/c", "x")

	keys, err := s.Keys(context.Background(), "app/session/")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "app/session/a" || keys[1] != "app/session/b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestFileDatabaseSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	put(t, s, "k", "v")
	s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(context.Background(), "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("expected v, got %q %v", got, err)
	}
}
