package geoqueue

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRecordStoreFromDSNMemory(t *testing.T) {
	store, err := BuildRecordStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory dsn failed: %v", err)
	}
	if _, ok := store.(*memoryRecordStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestBuildRecordStoreFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	for _, dsn := range []string{path, "file://" + path} {
		store, err := BuildRecordStoreFromDSN(dsn)
		if err != nil {
			t.Fatalf("dsn %q failed: %v", dsn, err)
		}
		if _, ok := store.(*FileRecordStore); !ok {
			t.Fatalf("expected file store for %q, got %T", dsn, store)
		}
	}
}

func TestBuildRecordStoreFromDSNUnsupportedScheme(t *testing.T) {
	if _, err := BuildRecordStoreFromDSN("carrierpigeon://coop"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := BuildRecordStoreFromDSN("redis://localhost"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for redis, got %v", err)
	}
}

func TestBuildRecordStoreFromDSNEmpty(t *testing.T) {
	if _, err := BuildRecordStoreFromDSN("   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegisteredFactoryTakesPrecedence(t *testing.T) {
	custom := NewMemoryRecordStore()
	RegisterRecordStoreFactory("teststore", func(dsn string) (RecordStore, error) {
		if !strings.HasPrefix(dsn, "teststore://") {
			t.Fatalf("factory received unexpected dsn %q", dsn)
		}
		return custom, nil
	})
	store, err := BuildRecordStoreFromDSN("teststore://anything")
	if err != nil {
		t.Fatalf("registered factory failed: %v", err)
	}
	if store != custom {
		t.Fatalf("expected the registered factory's store")
	}
}
