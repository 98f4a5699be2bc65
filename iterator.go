package rockbridge

// iterator.go implements the public cursor over database keys.
//
// An Iterator starts unpositioned: no entry is current until one of the
// seek methods runs. From a valid position, Next and Prev move in key
// order until the range is exhausted or the engine reports a read error;
// both end states look the same through Valid, and Error tells them apart.
// Key and Value on an iterator that is not valid fail with a usage error
// rather than touching freed engine memory.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/iterator.h
//   - include/rocksdb/c.h (rocksdb_iter_*)

import (
	"sync"

	"github.com/aalhour/rockbridge/internal/engine"
)

// Iterator is a cursor over the keys of one column family, in ascending key
// order. Iterators are not safe for concurrent use.
//
// The iteration protocol:
//
//	it, err := db.NewIterator(nil)
//	defer it.Close()
//	for it.SeekToFirst(); it.Valid(); it.Next() {
//		k, _ := it.Key()
//		v, _ := it.Value()
//		// ...
//	}
//	if err := it.Error(); err != nil {
//		// the scan stopped on a read error, not on exhaustion
//	}
type Iterator struct {
	mu  sync.Mutex
	db  *DB
	txn *Transaction // non-nil when the iterator reads through a transaction

	ei         engine.Iterator
	positioned bool
	closed     bool
	finalErr   error // engine status captured at Close
}

func newIterator(db *DB, txn *Transaction, ei engine.Iterator) *Iterator {
	return &Iterator{db: db, txn: txn, ei: ei}
}

// Valid reports whether the iterator is positioned at an entry. A fresh
// iterator is not valid until a seek method positions it.
func (it *Iterator) Valid() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.usable() && it.ei.Valid()
}

func (it *Iterator) usable() bool {
	return !it.closed && it.positioned
}

// SeekToFirst positions the iterator at the first key.
func (it *Iterator) SeekToFirst() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return
	}
	it.positioned = true
	it.ei.SeekToFirst()
}

// SeekToLast positions the iterator at the last key.
func (it *Iterator) SeekToLast() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return
	}
	it.positioned = true
	it.ei.SeekToLast()
}

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return
	}
	it.positioned = true
	it.ei.Seek(target)
}

// SeekForPrev positions the iterator at the last key <= target.
func (it *Iterator) SeekForPrev(target []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return
	}
	it.positioned = true
	it.ei.SeekForPrev(target)
}

// Next moves to the next key. Calling Next on an iterator that is not valid
// is a no-op; the iterator must be positioned by a seek first.
func (it *Iterator) Next() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.usable() || !it.ei.Valid() {
		return
	}
	it.ei.Next()
}

// Prev moves to the previous key. Calling Prev on an iterator that is not
// valid is a no-op.
func (it *Iterator) Prev() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.usable() || !it.ei.Valid() {
		return
	}
	it.ei.Prev()
}

// Key returns a copy of the key at the current position. It fails with
// ErrIteratorNotValid when the iterator is unpositioned or exhausted, and
// with ErrIteratorClosed after Close.
func (it *Iterator) Key() ([]byte, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil, ErrIteratorClosed
	}
	if !it.positioned || !it.ei.Valid() {
		return nil, ErrIteratorNotValid
	}
	return append([]byte(nil), it.ei.Key()...), nil
}

// Value returns a copy of the value at the current position. It fails with
// ErrIteratorNotValid when the iterator is unpositioned or exhausted, and
// with ErrIteratorClosed after Close.
func (it *Iterator) Value() ([]byte, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil, ErrIteratorClosed
	}
	if !it.positioned || !it.ei.Valid() {
		return nil, ErrIteratorNotValid
	}
	return append([]byte(nil), it.ei.Value()...), nil
}

// Error returns the read error that stopped the iterator, or nil when every
// position so far was reached cleanly. An iterator that ran off the end of
// its range reports Valid() == false and Error() == nil; that is exhaustion,
// not failure.
func (it *Iterator) Error() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return it.finalErr
	}
	return translate(it.ei.Status())
}

// Close releases the engine cursor. Close is idempotent; the iterator's
// final Error remains readable afterwards.
func (it *Iterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	it.finalErr = translate(it.ei.Status())

	err := it.ei.Close()
	if it.txn != nil {
		it.txn.iterators.Add(-1)
	} else {
		it.db.children.iterators.Add(-1)
	}
	return translate(err)
}
