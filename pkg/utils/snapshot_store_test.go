package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "snapshot-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.Logf("Error removing temp dir: %v", err)
		}
	}()

	dbPath := filepath.Join(tmpDir, "state.db")
	store, err := OpenSnapshotStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to open SnapshotStore: %v", err)
	}

	testSnapshotStoreMissing(t, store)
	testSnapshotStoreReplace(t, store)

	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	testSnapshotStorePersistence(t, dbPath)
}

func testSnapshotStoreMissing(t *testing.T, store *SnapshotStore) {
	val, err := store.Get("adverts")
	if err != nil {
		t.Errorf("Get on empty store failed: %v", err)
	}
	if val != nil {
		t.Errorf("Get on empty store = %q, want nil", val)
	}
}

func testSnapshotStoreReplace(t *testing.T, store *SnapshotStore) {
	if err := store.Put("adverts", []byte(`[{"id":1}]`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put("adverts", []byte(`[{"id":2}]`)); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	val, err := store.Get("adverts")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(val, []byte(`[{"id":2}]`)) {
		t.Errorf("Get = %q, want the latest value", val)
	}
}

func testSnapshotStorePersistence(t *testing.T, dbPath string) {
	store, err := OpenSnapshotStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen SnapshotStore: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Logf("Error closing store: %v", err)
		}
	}()

	val, err := store.Get("adverts")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if !bytes.Equal(val, []byte(`[{"id":2}]`)) {
		t.Errorf("Get after reopen = %q, want persisted value", val)
	}

	if err := store.Delete("adverts"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if val, _ := store.Get("adverts"); val != nil {
		t.Errorf("Get after Delete = %q, want nil", val)
	}
}
