package rockbridge

// transaction_test.go implements tests for the transaction state machine,
// visibility rules and conflict handling.

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestTransactionBasic(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	txn := db.BeginTransaction(nil)

	if err := txn.Put([]byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Failed to put in transaction: %v", err)
	}
	if err := txn.Put([]byte("key2"), []byte("value2")); err != nil {
		t.Fatalf("Failed to put in transaction: %v", err)
	}

	// Data should be visible within the transaction
	val, err := txn.Get(nil, []byte("key1"))
	if err != nil {
		t.Fatalf("Failed to get from transaction: %v", err)
	}
	if string(val) != "value1" {
		t.Fatalf("Expected 'value1', got '%s'", val)
	}

	// Data should NOT be visible outside before commit
	if _, err := db.Get(nil, []byte("key1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before commit, got %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}
	if got := txn.State(); got != TxnCommitted {
		t.Fatalf("Expected Committed state, got %s", got)
	}

	// Now data should be visible
	val, err = db.Get(nil, []byte("key1"))
	if err != nil {
		t.Fatalf("Failed to get after commit: %v", err)
	}
	if string(val) != "value1" {
		t.Fatalf("Expected 'value1', got '%s'", val)
	}
}

// A committed sequence of put/get/delete is observed as exactly its net
// effect by reads against latest state.
func TestTransactionNetEffect(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := db.Put(nil, []byte("pre"), []byte("old")); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	txn := db.BeginTransaction(nil)
	steps := []struct {
		op  string
		key string
		val string
	}{
		{"put", "a", "1"},
		{"put", "b", "2"},
		{"del", "a", ""},
		{"put", "b", "3"},
		{"put", "a", "4"},
		{"del", "pre", ""},
		{"put", "c", "5"},
		{"del", "c", ""},
	}
	for _, s := range steps {
		var err error
		if s.op == "put" {
			err = txn.Put([]byte(s.key), []byte(s.val))
		} else {
			err = txn.Delete([]byte(s.key))
		}
		if err != nil {
			t.Fatalf("Failed to %s %s: %v", s.op, s.key, err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	want := map[string]string{"a": "4", "b": "3"}
	for key, val := range want {
		got, err := db.Get(nil, []byte(key))
		if err != nil {
			t.Fatalf("Failed to get %s: %v", key, err)
		}
		if string(got) != val {
			t.Fatalf("Key %s: expected %q, got %q", key, val, got)
		}
	}
	for _, key := range []string{"pre", "c"} {
		if _, err := db.Get(nil, []byte(key)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Key %s: expected ErrNotFound, got %v", key, err)
		}
	}
}

func TestTransactionRollback(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := db.Put(nil, []byte("stable"), []byte("before")); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	txn := db.BeginTransaction(nil)
	if err := txn.Put([]byte("stable"), []byte("changed")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := txn.Delete([]byte("stable")); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Failed to roll back: %v", err)
	}
	if got := txn.State(); got != TxnRolledBack {
		t.Fatalf("Expected RolledBack state, got %s", got)
	}

	val, err := db.Get(nil, []byte("stable"))
	if err != nil {
		t.Fatalf("Failed to get after rollback: %v", err)
	}
	if string(val) != "before" {
		t.Fatalf("Expected 'before', got '%s'", val)
	}
}

func TestTransactionTerminalStateFailsFast(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	txn := db.BeginTransaction(nil)
	if err := txn.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	// Every operation on a terminal transaction fails with
	// ErrTransactionDone and never reaches the engine
	if err := txn.Put([]byte("k2"), []byte("v2")); !errors.Is(err, ErrTransactionDone) {
		t.Fatalf("Expected ErrTransactionDone from Put, got %v", err)
	}
	if _, err := txn.Get(nil, []byte("k")); !errors.Is(err, ErrTransactionDone) {
		t.Fatalf("Expected ErrTransactionDone from Get, got %v", err)
	}
	if err := txn.Commit(); !errors.Is(err, ErrTransactionDone) {
		t.Fatalf("Expected ErrTransactionDone from second Commit, got %v", err)
	}
	if err := txn.Rollback(); !errors.Is(err, ErrTransactionDone) {
		t.Fatalf("Expected ErrTransactionDone from Rollback after Commit, got %v", err)
	}

	// Close after a terminal outcome is a no-op
	if err := txn.Close(); err != nil {
		t.Fatalf("Close after Commit should be a no-op, got %v", err)
	}
}

func TestWriteConflict(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	t1 := db.BeginTransaction(nil)
	t2 := db.BeginTransaction(nil)

	if err := t1.Put([]byte("x"), []byte("from-t1")); err != nil {
		t.Fatalf("Failed to put in t1: %v", err)
	}
	if err := t2.Put([]byte("x"), []byte("from-t2")); err != nil {
		t.Fatalf("Failed to put in t2: %v", err)
	}

	if err := t1.Commit(); err != nil {
		t.Fatalf("First committer must win, got %v", err)
	}

	// The later committer fails with a retryable kind and moves to Faulted
	err := t2.Commit()
	if err == nil {
		t.Fatal("Expected conflict error from t2 commit")
	}
	if !errors.Is(err, ErrBusy) && !errors.Is(err, ErrAborted) {
		t.Fatalf("Expected Busy or Aborted kind, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("Conflict error must be retryable, got %v", err)
	}
	if got := t2.State(); got != TxnFaulted {
		t.Fatalf("Expected Faulted state after failed commit, got %s", got)
	}

	// A faulted transaction refuses everything but Rollback
	if err := t2.Put([]byte("y"), []byte("v")); !errors.Is(err, ErrTransactionFaulted) {
		t.Fatalf("Expected ErrTransactionFaulted, got %v", err)
	}
	if err := t2.Close(); !errors.Is(err, ErrTransactionFaulted) {
		t.Fatalf("Close of faulted transaction must demand rollback, got %v", err)
	}
	if err := t2.Rollback(); err != nil {
		t.Fatalf("Failed to roll back faulted transaction: %v", err)
	}

	// Only t1's value is visible
	val, err := db.Get(nil, []byte("x"))
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(val) != "from-t1" {
		t.Fatalf("Expected 'from-t1', got '%s'", val)
	}
}

func TestSnapshotIsolationBetweenTransactions(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := db.Put(nil, []byte("k"), []byte("v0")); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	t2 := db.BeginTransaction(&TransactionOptions{SetSnapshot: true})

	// T1 commits after T2's snapshot was taken
	t1 := db.BeginTransaction(nil)
	if err := t1.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Failed to put in t1: %v", err)
	}
	if err := t1.Commit(); err != nil {
		t.Fatalf("Failed to commit t1: %v", err)
	}

	// T2 must not observe T1's write
	val, err := t2.Get(nil, []byte("k"))
	if err != nil {
		t.Fatalf("Failed to get in t2: %v", err)
	}
	if string(val) != "v0" {
		t.Fatalf("Snapshot isolation violated: expected 'v0', got '%s'", val)
	}

	if err := t2.Rollback(); err != nil {
		t.Fatalf("Failed to roll back t2: %v", err)
	}

	// Outside any snapshot the new value is visible
	val, err = db.Get(nil, []byte("k"))
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(val) != "v1" {
		t.Fatalf("Expected 'v1', got '%s'", val)
	}
}

func TestGetForUpdateConflict(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := db.Put(nil, []byte("guarded"), []byte("v0")); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	reader := db.BeginTransaction(nil)
	if _, err := reader.GetForUpdate(nil, []byte("guarded"), true); err != nil {
		t.Fatalf("Failed to get for update: %v", err)
	}

	// A concurrent commit to the guarded key invalidates the reader
	writer := db.BeginTransaction(nil)
	if err := writer.Put([]byte("guarded"), []byte("v1")); err != nil {
		t.Fatalf("Failed to put in writer: %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Failed to commit writer: %v", err)
	}

	err := reader.Commit()
	if err == nil {
		t.Fatal("Expected conflict committing after guarded key changed")
	}
	if !errors.Is(err, ErrBusy) && !errors.Is(err, ErrAborted) {
		t.Fatalf("Expected Busy or Aborted kind, got %v", err)
	}
	if err := reader.Rollback(); err != nil {
		t.Fatalf("Failed to roll back reader: %v", err)
	}
}

func TestPessimisticLockTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.TransactionMode = PessimisticTransactions

	db, err := Open(filepath.Join(t.TempDir(), "testdb"), opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	holder := db.BeginTransaction(nil)
	if err := holder.Put([]byte("locked"), []byte("mine")); err != nil {
		t.Fatalf("Failed to put in holder: %v", err)
	}

	// The second writer cannot take the lock and times out
	waiter := db.BeginTransaction(&TransactionOptions{LockTimeout: 50 * time.Millisecond})
	err = waiter.Put([]byte("locked"), []byte("theirs"))
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Expected TimedOut on contended lock, got %v", err)
	}

	if err := waiter.Rollback(); err != nil {
		t.Fatalf("Failed to roll back waiter: %v", err)
	}
	if err := holder.Commit(); err != nil {
		t.Fatalf("Failed to commit holder: %v", err)
	}

	val, err := db.Get(nil, []byte("locked"))
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(val) != "mine" {
		t.Fatalf("Expected 'mine', got '%s'", val)
	}
}

func TestSavepoints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	txn := db.BeginTransaction(nil)

	if err := txn.Put([]byte("keep"), []byte("v")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := txn.SetSavepoint(); err != nil {
		t.Fatalf("Failed to set savepoint: %v", err)
	}
	if err := txn.Put([]byte("discard"), []byte("v")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	if err := txn.RollbackToSavepoint(); err != nil {
		t.Fatalf("Failed to roll back to savepoint: %v", err)
	}

	// The write before the savepoint survives, the one after is gone
	if _, err := txn.Get(nil, []byte("keep")); err != nil {
		t.Fatalf("Write before savepoint must survive, got %v", err)
	}
	if _, err := txn.Get(nil, []byte("discard")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Write after savepoint must be gone, got %v", err)
	}

	// No savepoint left
	if err := txn.RollbackToSavepoint(); !errors.Is(err, ErrNoSavepoint) {
		t.Fatalf("Expected ErrNoSavepoint, got %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	if _, err := db.Get(nil, []byte("keep")); err != nil {
		t.Fatalf("Committed write missing: %v", err)
	}
	if _, err := db.Get(nil, []byte("discard")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Discarded write leaked into commit: %v", err)
	}
}

func TestBeginTransactionOnClosedDB(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	// Begin never fails; the transaction is born Faulted and reports the
	// reason on first use
	txn := db.BeginTransaction(nil)
	if got := txn.State(); got != TxnFaulted {
		t.Fatalf("Expected Faulted state, got %s", got)
	}
	if err := txn.Put([]byte("k"), []byte("v")); !errors.Is(err, ErrDBClosed) {
		t.Fatalf("Expected ErrDBClosed, got %v", err)
	}
	if err := txn.Close(); err != nil {
		t.Fatalf("Close of born-faulted transaction failed: %v", err)
	}
}

func TestTransactionCloseRollsBackActive(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	txn := db.BeginTransaction(nil)
	if err := txn.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := txn.Close(); err != nil {
		t.Fatalf("Failed to close active transaction: %v", err)
	}
	if got := txn.State(); got != TxnRolledBack {
		t.Fatalf("Expected RolledBack after Close, got %s", got)
	}
	if _, err := db.Get(nil, []byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Closed transaction's writes leaked: %v", err)
	}
}

func TestTransactionMergeAndCF(t *testing.T) {
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.MergeOperator = &UInt64AddOperator{}

	db, err := Open(filepath.Join(t.TempDir(), "testdb"), opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	cf, err := db.CreateColumnFamily("counters", nil)
	if err != nil {
		t.Fatalf("Failed to create column family: %v", err)
	}

	txn := db.BeginTransaction(nil)
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	if err := txn.MergeCF(cf, []byte("hits"), one); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}
	if err := txn.MergeCF(cf, []byte("hits"), one); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	// The transaction's own read resolves its buffered operands
	val, err := txn.GetCF(nil, cf, []byte("hits"))
	if err != nil {
		t.Fatalf("Failed to get merged value in txn: %v", err)
	}
	if val[0] != 2 {
		t.Fatalf("Expected counter 2, got %d", val[0])
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	val, err = db.GetCF(nil, cf, []byte("hits"))
	if err != nil {
		t.Fatalf("Failed to get merged value: %v", err)
	}
	if val[0] != 2 {
		t.Fatalf("Expected counter 2 after commit, got %d", val[0])
	}
}

func TestConcurrentTransactionsDistinctKeys(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Transactions touching disjoint keys all commit
	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			txn := db.BeginTransaction(nil)
			key := fmt.Appendf(nil, "worker-%d", i)
			if err := txn.Put(key, []byte("done")); err != nil {
				errs <- err
				return
			}
			errs <- txn.Commit()
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Concurrent commit failed: %v", err)
		}
	}

	for i := 0; i < n; i++ {
		key := fmt.Appendf(nil, "worker-%d", i)
		if _, err := db.Get(nil, key); err != nil {
			t.Fatalf("Missing key %s: %v", key, err)
		}
	}
}
