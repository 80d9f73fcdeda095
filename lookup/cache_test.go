package lookup

import (
	"os"
	"testing"
)

// Invariant 6: loadCache(writeCache(P)) == P for any partition P.
func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, decodeStubTable)

	a0, a1, a2 := account(0), account(1), account(2)
	tables := []Table{
		newStubTable(1, a0, a1),
		newStubTable(2, a2),
	}

	if err := cache.Write(7, tables); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok, err := cache.Read(7)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !ok {
		t.Fatal("expect the partition to be present after a write")
	}
	if len(got) != len(tables) {
		t.Fatalf("expect %d tables, got %d", len(tables), len(got))
	}
	for i, want := range tables {
		if got[i].Address() != want.Address() {
			t.Fatalf("table %d address mismatch", i)
		}
		if got[i].NumUniqueAccounts() != want.NumUniqueAccounts() {
			t.Fatalf("table %d account count mismatch", i)
		}
	}
}

func TestCacheReadMissingFileReturnsNotPresent(t *testing.T) {
	cache := NewCache(t.TempDir(), decodeStubTable)
	_, ok, err := cache.Read(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expect not-present for a missing cache file")
	}
}

func TestCacheReadDetectsLengthCorruption(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, decodeStubTable)

	tables := []Table{newStubTable(1, account(0))}
	if err := cache.Write(1, tables); err != nil {
		t.Fatalf("write: %v", err)
	}

	path := cache.path(1)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw file: %v", err)
	}
	// Corrupt the serialized-length field of the first (only) table entry.
	data[36] = 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write corrupted file: %v", err)
	}

	if _, _, err := cache.Read(1); err == nil {
		t.Fatal("expect a corruption error for a corrupted serialized-length field")
	}
}

func TestCacheWriteEmptyPartition(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, decodeStubTable)

	if err := cache.Write(0, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ok, err := cache.Read(0)
	if err != nil || !ok {
		t.Fatalf("expect present empty partition, ok=%v err=%v", ok, err)
	}
	if len(got) != 0 {
		t.Fatalf("expect 0 tables, got %d", len(got))
	}
}
