package rockbridge

// transaction.go implements the public transaction API.
//
// A Transaction moves through exactly one lifecycle: Active until Commit or
// Rollback succeeds, then terminal. A failed Commit moves it to Faulted,
// where only Rollback is accepted; the handle cannot be released while
// Faulted. Every operation checks the state first, so a terminated
// transaction fails fast instead of touching freed engine state.
//
// Reads through a transaction observe the transaction's own uncommitted
// writes first, then the snapshot fixed at begin (when requested via
// TransactionOptions.SetSnapshot), else the latest committed state.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/utilities/transaction.h
//   - utilities/transactions/optimistic_transaction.cc
//   - utilities/transactions/pessimistic_transaction.cc

import (
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockbridge/internal/engine"
)

// TransactionState is the lifecycle state of a Transaction.
type TransactionState int

const (
	// TxnActive accepts reads, writes and a single outcome transition.
	TxnActive TransactionState = iota

	// TxnCommitted is terminal: the transaction's writes are applied.
	TxnCommitted

	// TxnRolledBack is terminal: the transaction's writes are discarded.
	TxnRolledBack

	// TxnFaulted is entered when Commit fails. The transaction's writes
	// are not applied; only Rollback is accepted before release.
	TxnFaulted
)

// String returns the state name.
func (s TransactionState) String() string {
	switch s {
	case TxnActive:
		return "Active"
	case TxnCommitted:
		return "Committed"
	case TxnRolledBack:
		return "RolledBack"
	case TxnFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Transaction is an atomic unit of reads and writes against a DB.
//
// Writes buffered in the transaction are visible to its own reads
// immediately and to nobody else until Commit. Commit applies everything or
// nothing: under write-conflict detection the later committer of a
// contended key fails with a Busy or Aborted kind and the transaction moves
// to Faulted.
//
// A Transaction is not safe for concurrent use.
type Transaction struct {
	mu sync.Mutex
	db *DB
	et engine.Txn

	state      TransactionState
	faultErr   error // reason a transaction was born Faulted
	snap       *Snapshot
	savepoints int
	writes     int

	iterators atomic.Int64
	released  releaseFlag
}

// BeginTransaction starts a new transaction. A nil opts uses
// DefaultTransactionOptions.
//
// BeginTransaction never fails: when the database is closed or the engine
// refuses, the returned transaction is born Faulted and every operation on
// it reports the reason. Rollback releases it.
func (db *DB) BeginTransaction(opts *TransactionOptions) *Transaction {
	db.mu.RLock()
	defer db.mu.RUnlock()

	txn := &Transaction{db: db, state: TxnActive}
	if db.closed {
		txn.state = TxnFaulted
		txn.faultErr = ErrDBClosed
		txn.released.release()
		return txn
	}

	et, err := db.eng.BeginTxn(opts.engineTxnConfig())
	if err != nil {
		db.logger.Warnf("[txn] begin failed: %v", err)
		txn.state = TxnFaulted
		txn.faultErr = translate(err)
		txn.released.release()
		return txn
	}

	txn.et = et
	db.children.transactions.Add(1)
	return txn
}

// State returns the transaction's lifecycle state.
func (txn *Transaction) State() TransactionState {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	return txn.state
}

// usableLocked reports whether the transaction accepts operations.
func (txn *Transaction) usableLocked() error {
	switch txn.state {
	case TxnActive:
		return nil
	case TxnFaulted:
		if txn.faultErr != nil {
			return txn.faultErr
		}
		return ErrTransactionFaulted
	default:
		return ErrTransactionDone
	}
}

// Get retrieves the value for key from the default column family, observing
// the transaction's own writes first. A missing key reports ErrNotFound.
func (txn *Transaction) Get(ro *ReadOptions, key []byte) ([]byte, error) {
	return txn.GetCF(ro, nil, key)
}

// GetCF retrieves the value for key from the given column family.
func (txn *Transaction) GetCF(ro *ReadOptions, cf *ColumnFamily, key []byte) ([]byte, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.usableLocked(); err != nil {
		return nil, err
	}
	h, ero, err := txn.db.resolveRead(cf, ro)
	if err != nil {
		return nil, err
	}
	val, err := txn.et.Get(h, ero, key)
	if err != nil {
		return nil, translate(err)
	}
	return val, nil
}

// GetForUpdate reads key from the default column family and registers the
// read for conflict detection: optimistic transactions validate it at
// commit, pessimistic transactions take the lock now. exclusive requests a
// write lock instead of a shared one.
func (txn *Transaction) GetForUpdate(ro *ReadOptions, key []byte, exclusive bool) ([]byte, error) {
	return txn.GetForUpdateCF(ro, nil, key, exclusive)
}

// GetForUpdateCF is GetForUpdate against the given column family.
func (txn *Transaction) GetForUpdateCF(ro *ReadOptions, cf *ColumnFamily, key []byte, exclusive bool) ([]byte, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.usableLocked(); err != nil {
		return nil, err
	}
	h, ero, err := txn.db.resolveRead(cf, ro)
	if err != nil {
		return nil, err
	}
	val, err := txn.et.GetForUpdate(h, ero, key, exclusive)
	if err != nil {
		return nil, translate(err)
	}
	return val, nil
}

// Put buffers a write of key to the default column family.
func (txn *Transaction) Put(key, value []byte) error {
	return txn.PutCF(nil, key, value)
}

// PutCF buffers a write of key to the given column family.
func (txn *Transaction) PutCF(cf *ColumnFamily, key, value []byte) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.usableLocked(); err != nil {
		return err
	}
	h, err := txn.db.resolveCF(cf)
	if err != nil {
		return err
	}
	if err := txn.et.Put(h, key, value); err != nil {
		return translate(err)
	}
	txn.writes++
	return nil
}

// Delete buffers a deletion of key from the default column family.
func (txn *Transaction) Delete(key []byte) error {
	return txn.DeleteCF(nil, key)
}

// DeleteCF buffers a deletion of key from the given column family.
func (txn *Transaction) DeleteCF(cf *ColumnFamily, key []byte) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.usableLocked(); err != nil {
		return err
	}
	h, err := txn.db.resolveCF(cf)
	if err != nil {
		return err
	}
	if err := txn.et.Delete(h, key); err != nil {
		return translate(err)
	}
	txn.writes++
	return nil
}

// Merge buffers a merge operand for key in the default column family.
func (txn *Transaction) Merge(key, operand []byte) error {
	return txn.MergeCF(nil, key, operand)
}

// MergeCF buffers a merge operand for key in the given column family.
func (txn *Transaction) MergeCF(cf *ColumnFamily, key, operand []byte) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.usableLocked(); err != nil {
		return err
	}
	h, err := txn.db.resolveCF(cf)
	if err != nil {
		return err
	}
	if err := txn.et.Merge(h, key, operand); err != nil {
		return translate(err)
	}
	txn.writes++
	return nil
}

// NewIterator returns a cursor over the default column family that observes
// the transaction's uncommitted writes merged with its read view. The
// iterator must be closed before the transaction commits or rolls back.
func (txn *Transaction) NewIterator(ro *ReadOptions) (*Iterator, error) {
	return txn.NewIteratorCF(ro, nil)
}

// NewIteratorCF returns a transaction cursor over the given column family.
func (txn *Transaction) NewIteratorCF(ro *ReadOptions, cf *ColumnFamily) (*Iterator, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.usableLocked(); err != nil {
		return nil, err
	}
	h, ero, err := txn.db.resolveRead(cf, ro)
	if err != nil {
		return nil, err
	}
	ei, err := txn.et.NewIterator(h, ero)
	if err != nil {
		return nil, translate(err)
	}
	txn.iterators.Add(1)
	return newIterator(txn.db, txn, ei), nil
}

// SetSavepoint marks the current point in the transaction. A later
// RollbackToSavepoint discards everything buffered after the most recent
// mark. Savepoints nest.
func (txn *Transaction) SetSavepoint() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.usableLocked(); err != nil {
		return err
	}
	txn.et.SetSavepoint()
	txn.savepoints++
	return nil
}

// RollbackToSavepoint discards the writes buffered since the most recent
// SetSavepoint and removes that savepoint. Without one it fails with
// ErrNoSavepoint.
func (txn *Transaction) RollbackToSavepoint() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.usableLocked(); err != nil {
		return err
	}
	if txn.savepoints == 0 {
		return ErrNoSavepoint
	}
	if err := txn.et.RollbackToSavepoint(); err != nil {
		return translate(err)
	}
	txn.savepoints--
	return nil
}

// GetSnapshot returns the read view fixed when the transaction began, or
// nil when the transaction was started without SetSnapshot. The snapshot is
// owned by the transaction and becomes unusable once the transaction
// terminates.
func (txn *Transaction) GetSnapshot() *Snapshot {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.snap != nil {
		return txn.snap
	}
	if txn.state != TxnActive {
		return nil
	}
	es := txn.et.Snapshot()
	if es == nil {
		return nil
	}
	txn.snap = &Snapshot{db: txn.db, es: es}
	return txn.snap
}

// Commit validates and applies the transaction atomically. On success every
// buffered write becomes visible at once and the transaction is Committed.
// On failure nothing is applied and the transaction moves to Faulted; a
// write conflict surfaces as a Busy or Aborted kind. A Faulted transaction
// must be rolled back before its handle can be released.
func (txn *Transaction) Commit() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.usableLocked(); err != nil {
		return err
	}
	if n := txn.iterators.Load(); n > 0 {
		return &Error{Kind: KindBusy, Message: "rockbridge: transaction has open iterators"}
	}

	if err := txn.et.Commit(); err != nil {
		txn.state = TxnFaulted
		txn.db.logger.Debugf("[txn] commit failed: %v", err)
		return translate(err)
	}

	txn.state = TxnCommitted
	txn.finishLocked()
	txn.db.logger.Debugf("[txn] committed txn (%d writes)", txn.writes)
	return nil
}

// Rollback discards the transaction's buffered writes and releases its
// engine resources. Rollback is the required exit from the Faulted state.
func (txn *Transaction) Rollback() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	switch txn.state {
	case TxnCommitted, TxnRolledBack:
		return ErrTransactionDone
	}
	if n := txn.iterators.Load(); n > 0 {
		return &Error{Kind: KindBusy, Message: "rockbridge: transaction has open iterators"}
	}

	if txn.et != nil {
		if err := txn.et.Rollback(); err != nil {
			return translate(err)
		}
	}

	txn.state = TxnRolledBack
	txn.finishLocked()
	txn.db.logger.Debugf("[txn] rolled back txn")
	return nil
}

// Close releases the transaction handle. An Active transaction is rolled
// back; a terminal one is left as is, so Close is safe to defer alongside
// explicit Commit or Rollback calls. A Faulted transaction refuses Close
// and demands Rollback.
func (txn *Transaction) Close() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	switch txn.state {
	case TxnCommitted, TxnRolledBack:
		return nil
	case TxnFaulted:
		if txn.faultErr != nil {
			// Born Faulted: there is nothing to roll back.
			txn.state = TxnRolledBack
			return nil
		}
		return ErrTransactionFaulted
	}
	if n := txn.iterators.Load(); n > 0 {
		return &Error{Kind: KindBusy, Message: "rockbridge: transaction has open iterators"}
	}

	if err := txn.et.Rollback(); err != nil {
		return translate(err)
	}
	txn.state = TxnRolledBack
	txn.finishLocked()
	return nil
}

// finishLocked releases what the transaction holds exactly once: the
// snapshot wrapper handed out by GetSnapshot and the parent's child count.
func (txn *Transaction) finishLocked() {
	if !txn.released.release() {
		return
	}
	if txn.snap != nil {
		txn.snap.flag.release()
	}
	txn.db.children.transactions.Add(-1)
}
