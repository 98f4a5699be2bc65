package rockbridge

// db_test.go implements tests for database handle lifecycle and the direct
// operation surface.

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// openTestDB opens a fresh database under t.TempDir.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	opts := DefaultOptions()
	opts.CreateIfMissing = true

	db, err := Open(filepath.Join(t.TempDir(), "testdb"), opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")

	_, err := Open(path, DefaultOptions())
	if err == nil {
		t.Fatal("Expected error opening missing database without CreateIfMissing")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Expected *Error, got %T: %v", err, err)
	}
}

func TestOpenErrorIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testdb")

	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}

	opts.ErrorIfExists = true
	if _, err := Open(path, opts); err == nil {
		t.Fatal("Expected error reopening with ErrorIfExists")
	}
}

func TestPutGetDelete(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := db.Put(nil, []byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	val, err := db.Get(nil, []byte("key1"))
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(val) != "value1" {
		t.Fatalf("Expected 'value1', got '%s'", val)
	}

	if err := db.Delete(nil, []byte("key1")); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := db.Get(nil, []byte("key1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error
	if err := db.Delete(nil, []byte("never-existed")); err != nil {
		t.Fatalf("Delete of missing key failed: %v", err)
	}
}

func TestRoundTripBinaryKeys(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	pairs := [][2][]byte{
		{[]byte{0x00}, []byte{0xff, 0x00, 0xfe}},
		{[]byte{0x00, 0x01, 0x02}, []byte{}},
		{bytes.Repeat([]byte{0xab}, 1024), bytes.Repeat([]byte{0xcd}, 64*1024)},
		{[]byte("plain"), []byte{0x00}},
	}

	for _, p := range pairs {
		if err := db.Put(nil, p[0], p[1]); err != nil {
			t.Fatalf("Failed to put %x: %v", p[0], err)
		}
	}
	for _, p := range pairs {
		val, err := db.Get(nil, p[0])
		if err != nil {
			t.Fatalf("Failed to get %x: %v", p[0], err)
		}
		if !bytes.Equal(val, p[1]) {
			t.Fatalf("Round trip mismatch for %x: put %d bytes, got %d bytes", p[0], len(p[1]), len(val))
		}
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testdb")

	opts := DefaultOptions()
	opts.CreateIfMissing = true

	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Put(&WriteOptions{Sync: true}, []byte("durable"), []byte("yes")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	db, err = Open(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	val, err := db.Get(nil, []byte("durable"))
	if err != nil {
		t.Fatalf("Failed to get after reopen: %v", err)
	}
	if string(val) != "yes" {
		t.Fatalf("Expected 'yes', got '%s'", val)
	}
}

func TestCloseIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Second close should be a no-op, got %v", err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	if err := db.Put(nil, []byte("k"), []byte("v")); !errors.Is(err, ErrDBClosed) {
		t.Fatalf("Expected ErrDBClosed from Put, got %v", err)
	}
	if _, err := db.Get(nil, []byte("k")); !errors.Is(err, ErrDBClosed) {
		t.Fatalf("Expected ErrDBClosed from Get, got %v", err)
	}
	if _, err := db.GetSnapshot(); !errors.Is(err, ErrDBClosed) {
		t.Fatalf("Expected ErrDBClosed from GetSnapshot, got %v", err)
	}
	if _, err := db.NewIterator(nil); !errors.Is(err, ErrDBClosed) {
		t.Fatalf("Expected ErrDBClosed from NewIterator, got %v", err)
	}
}

func TestCloseRefusedWhileChildrenLive(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// A live iterator blocks close
	iter, err := db.NewIterator(nil)
	if err != nil {
		t.Fatalf("Failed to create iterator: %v", err)
	}
	if err := db.Close(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected Busy closing with live iterator, got %v", err)
	}
	if err := iter.Close(); err != nil {
		t.Fatalf("Failed to close iterator: %v", err)
	}

	// A live snapshot blocks close
	snap, err := db.GetSnapshot()
	if err != nil {
		t.Fatalf("Failed to create snapshot: %v", err)
	}
	if err := db.Close(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected Busy closing with live snapshot, got %v", err)
	}
	if err := snap.Release(); err != nil {
		t.Fatalf("Failed to release snapshot: %v", err)
	}

	// A live transaction blocks close
	txn := db.BeginTransaction(nil)
	if err := db.Close(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected Busy closing with live transaction, got %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Failed to roll back transaction: %v", err)
	}

	// All children released: close succeeds
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close after releasing children: %v", err)
	}
}

func TestMergeOperator(t *testing.T) {
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.MergeOperator = &StringAppendOperator{Delimiter: ","}

	db, err := Open(filepath.Join(t.TempDir(), "testdb"), opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Merge(nil, []byte("tags"), []byte("red")); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}
	if err := db.Merge(nil, []byte("tags"), []byte("blue")); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	val, err := db.Get(nil, []byte("tags"))
	if err != nil {
		t.Fatalf("Failed to get merged value: %v", err)
	}
	if string(val) != "red,blue" {
		t.Fatalf("Expected 'red,blue', got '%s'", val)
	}
}

func TestFlushAndCompactRange(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	for i := 0; i < 100; i++ {
		key := []byte{byte(i)}
		if err := db.Put(nil, key, bytes.Repeat([]byte("v"), 128)); err != nil {
			t.Fatalf("Failed to put: %v", err)
		}
	}

	if err := db.Flush(nil); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}
	if err := db.CompactRange(Range{}); err != nil {
		t.Fatalf("Failed to compact full range: %v", err)
	}
	if err := db.CompactRange(Range{Start: []byte{10}, Limit: []byte{20}}); err != nil {
		t.Fatalf("Failed to compact key range: %v", err)
	}

	// Data survives flush and compaction
	val, err := db.Get(nil, []byte{42})
	if err != nil {
		t.Fatalf("Failed to get after compaction: %v", err)
	}
	if len(val) != 128 {
		t.Fatalf("Expected 128-byte value, got %d", len(val))
	}
}

func TestCheckpoint(t *testing.T) {
	dir := t.TempDir()

	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(filepath.Join(dir, "testdb"), opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Put(&WriteOptions{Sync: true}, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	ckpt := filepath.Join(dir, "checkpoint")
	if err := db.Checkpoint(ckpt); err != nil {
		t.Fatalf("Failed to checkpoint: %v", err)
	}

	// The checkpoint opens as an independent database
	cdb, err := Open(ckpt, DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to open checkpoint: %v", err)
	}
	defer cdb.Close()

	val, err := cdb.Get(nil, []byte("k"))
	if err != nil {
		t.Fatalf("Failed to get from checkpoint: %v", err)
	}
	if string(val) != "v" {
		t.Fatalf("Expected 'v', got '%s'", val)
	}
}

func TestDestroyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testdb")

	opts := DefaultOptions()
	opts.CreateIfMissing = true
	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Put(nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	if err := DestroyDatabase(path, nil); err != nil {
		t.Fatalf("Failed to destroy database: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Expected database directory removed, stat err %v", err)
	}

	// Destroying a database that is already gone is a no-op
	if err := DestroyDatabase(path, nil); err != nil {
		t.Fatalf("Destroy of missing database failed: %v", err)
	}
}

func TestUnknownEngine(t *testing.T) {
	opts := DefaultOptions()
	opts.Engine = "leveldb"

	_, err := Open(filepath.Join(t.TempDir(), "testdb"), opts)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Expected InvalidArgument for unknown engine, got %v", err)
	}
}

func TestEnginesRegistered(t *testing.T) {
	names := Engines()
	found := map[string]bool{}
	for _, name := range names {
		found[name] = true
	}
	if !found[EnginePebble] || !found[EngineRocksDB] {
		t.Fatalf("Expected pebble and rocksdb providers registered, got %v", names)
	}
}

func TestSingleDeleteAndDeleteRange(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := db.Put(nil, []byte("once"), []byte("v")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := db.SingleDelete(nil, []byte("once")); err != nil {
		t.Fatalf("Failed to single delete: %v", err)
	}
	if _, err := db.Get(nil, []byte("once")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after single delete, got %v", err)
	}

	for _, k := range []string{"r1", "r2", "r3", "s1"} {
		if err := db.Put(nil, []byte(k), []byte("v")); err != nil {
			t.Fatalf("Failed to put: %v", err)
		}
	}
	if err := db.DeleteRange(nil, []byte("r"), []byte("s")); err != nil {
		t.Fatalf("Failed to delete range: %v", err)
	}
	for _, k := range []string{"r1", "r2", "r3"} {
		if _, err := db.Get(nil, []byte(k)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected %s deleted by range, got %v", k, err)
		}
	}
	if _, err := db.Get(nil, []byte("s1")); err != nil {
		t.Fatalf("Key outside range must survive, got %v", err)
	}
}
