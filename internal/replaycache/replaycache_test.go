package replaycache

import (
	"errors"
	"testing"
)

type memStore struct {
	seen map[Digest]bool
}

func newMemStore() *memStore { return &memStore{seen: map[Digest]bool{}} }

func (m *memStore) Contains(d Digest) (bool, error) { return m.seen[d], nil }
func (m *memStore) Insert(d Digest) error           { m.seen[d] = true; return nil }

func TestScreenRejectsReplay(t *testing.T) {
	store := newMemStore()
	cache := New(store, true)

	payload := []byte("some-ciphertext")

	digest, err := cache.Screen(payload)
	if err != nil {
		t.Fatalf("first screen: unexpected error %v", err)
	}
	if err := cache.Commit(digest); err != nil {
		t.Fatalf("commit: unexpected error %v", err)
	}

	_, err = cache.Screen(payload)
	if !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay on second screen, got %v", err)
	}
}

func TestScreenDisabledNeverRejects(t *testing.T) {
	store := newMemStore()
	cache := New(store, false)

	payload := []byte("some-ciphertext")

	digest, err := cache.Screen(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cache.Commit(digest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := cache.Screen(payload); err != nil {
		t.Fatalf("expected no error with persistence disabled, got %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	digest := Fingerprint([]byte("payload"))

	present, err := store.Contains(digest)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if present {
		t.Fatalf("expected digest absent before insert")
	}

	if err := store.Insert(digest); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// Idempotent re-insert.
	if err := store.Insert(digest); err != nil {
		t.Fatalf("second Insert: %v", err)
	}

	present, err = store.Contains(digest)
	if err != nil {
		t.Fatalf("Contains after insert: %v", err)
	}
	if !present {
		t.Fatalf("expected digest present after insert")
	}
}
