package kv

import (
	"context"
	"errors"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"badger": b,
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{"conv", "c1", "title"}

			if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get missing = %v, want ErrNotFound", err)
			}
			if err := s.Set(ctx, key, []byte("hello")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			v, err := s.Get(ctx, key)
			if err != nil || string(v) != "hello" {
				t.Fatalf("Get = %q, %v", v, err)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after delete = %v, want ErrNotFound", err)
			}
			// Deleting again is not an error.
			if err := s.Delete(ctx, key); err != nil {
				t.Errorf("second Delete: %v", err)
			}
		})
	}
}

func TestStore_ListPrefix(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Set(ctx, Key{"msg", "c1", "001"}, []byte("a"))
			s.Set(ctx, Key{"msg", "c1", "002"}, []byte("b"))
			s.Set(ctx, Key{"msg", "c2", "001"}, []byte("x"))

			var got []string
			for e, err := range s.List(ctx, Key{"msg", "c1"}) {
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				got = append(got, string(e.Value))
			}
			if len(got) != 2 || got[0] != "a" || got[1] != "b" {
				t.Errorf("List = %v, want [a b]", got)
			}
		})
	}
}

func TestStore_ListPrefixNoPartialSegmentMatch(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Set(ctx, Key{"user", "ab", "x"}, []byte("1"))
			s.Set(ctx, Key{"user", "abc", "x"}, []byte("2"))

			n := 0
			for _, err := range s.List(ctx, Key{"user", "ab"}) {
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				n++
			}
			if n != 1 {
				t.Errorf("List matched %d entries, want 1 (no partial segment match)", n)
			}
		})
	}
}

func TestStore_BatchDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Set(ctx, Key{"a", "1"}, []byte("1"))
			s.Set(ctx, Key{"a", "2"}, []byte("2"))
			s.Set(ctx, Key{"a", "3"}, []byte("3"))

			if err := s.BatchDelete(ctx, []Key{{"a", "1"}, {"a", "3"}}); err != nil {
				t.Fatalf("BatchDelete: %v", err)
			}
			if _, err := s.Get(ctx, Key{"a", "1"}); !errors.Is(err, ErrNotFound) {
				t.Errorf("a/1 should be deleted")
			}
			if _, err := s.Get(ctx, Key{"a", "2"}); err != nil {
				t.Errorf("a/2 should remain: %v", err)
			}
		})
	}
}

func TestKey_SegmentsMayContainColon(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	key := Key{"persona", "custom-a:b"}
	s.Set(ctx, key, []byte("v"))
	if _, err := s.Get(ctx, key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	for e, err := range s.List(ctx, Key{"persona"}) {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if e.Key[1] != "custom-a:b" {
			t.Errorf("decoded segment = %q, want %q", e.Key[1], "custom-a:b")
		}
	}
}
