package geoqueue

import (
	"path/filepath"
	"testing"
)

func TestMemoryRecordStoreBasics(t *testing.T) {
	store := NewMemoryRecordStore()
	if _, ok, err := store.Get("missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Set("k", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, ok, err := store.Get("k")
	if err != nil || !ok || value != "value" {
		t.Fatalf("get mismatch: %q ok=%v err=%v", value, ok, err)
	}
	occupancy, err := store.Occupancy()
	if err != nil {
		t.Fatalf("occupancy failed: %v", err)
	}
	if occupancy != int64(len("k")+len("value")) {
		t.Fatalf("unexpected occupancy %d", occupancy)
	}
	if err := store.Remove("k"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok, _ := store.Get("k"); ok {
		t.Fatalf("expected key gone after remove")
	}
}

func TestFileRecordStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	store, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("new file record store failed: %v", err)
	}
	if err := store.Set(PendingQueueKey, "blob-contents"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	reopened, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	value, ok, err := reopened.Get(PendingQueueKey)
	if err != nil || !ok || value != "blob-contents" {
		t.Fatalf("expected persisted value, got %q ok=%v err=%v", value, ok, err)
	}
	occupancy, err := reopened.Occupancy()
	if err != nil {
		t.Fatalf("occupancy failed: %v", err)
	}
	if occupancy != int64(len(PendingQueueKey)+len("blob-contents")) {
		t.Fatalf("unexpected occupancy %d", occupancy)
	}
}

func TestFileRecordStoreRemoveMissingKeyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	store, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("new file record store failed: %v", err)
	}
	if err := store.Remove("never-set"); err != nil {
		t.Fatalf("remove of missing key should succeed: %v", err)
	}
}

func TestFileRecordStoreRejectsEmptyPath(t *testing.T) {
	if _, err := NewFileRecordStore("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
