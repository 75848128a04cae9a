package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("escrow/1"), []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("escrow/1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("one")) {
		t.Fatalf("unexpected value %q", got)
	}

	batch := NewBatch()
	batch.Put([]byte("escrow/2"), []byte("two"))
	batch.Put([]byte("account/a"), []byte("balance"))
	batch.Delete([]byte("escrow/1"))
	if err := db.Write(batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if ok, _ := db.Has([]byte("escrow/1")); ok {
		t.Fatalf("expected escrow/1 to be deleted by the batch")
	}
	keys, err := db.Keys([]byte("escrow/"))
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || string(keys[0]) != "escrow/2" {
		t.Fatalf("unexpected keys %q", keys)
	}
	if err := db.Delete([]byte("escrow/2")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := db.Has([]byte("escrow/2")); ok {
		t.Fatalf("expected escrow/2 to be deleted")
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'z'
	got, _ := db.Get([]byte("k"))
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}
