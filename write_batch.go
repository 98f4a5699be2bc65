package rockbridge

// write_batch.go implements the public WriteBatch API for atomic writes.
//
// A batch is an ordered list of operations assembled independently of any
// database. Nothing is validated or applied until the batch is handed to
// (*DB).Write, which applies all operations atomically in insertion order.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/write_batch.h
//   - include/rocksdb/c.h (rocksdb_writebatch_*)

import (
	"sync"

	"github.com/aalhour/rockbridge/internal/batchrep"
)

// WriteBatch holds a collection of writes to be applied atomically.
// Keys and values are copied, so callers may reuse their buffers after the
// call returns. Later operations on the same key override earlier ones when
// the batch is applied.
//
// A WriteBatch can be reused by calling Clear after Write; a failed Write
// leaves the batch contents intact so it can be retried.
//
// Example:
//
//	wb := rockbridge.NewWriteBatch()
//	wb.Put([]byte("key1"), []byte("value1"))
//	wb.Put([]byte("key2"), []byte("value2"))
//	wb.Delete([]byte("key3"))
//	err := db.Write(nil, wb)
//	wb.Clear() // Reuse the batch
type WriteBatch struct {
	mu  sync.Mutex
	rep []byte
}

// NewWriteBatch creates a new empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{rep: batchrep.New()}
}

func cfID(cf *ColumnFamily) uint32 {
	if cf == nil {
		return 0
	}
	return cf.ID()
}

// Put adds a key-value pair to the batch.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.PutCF(nil, key, value)
}

// PutCF adds a key-value pair to the batch for the given column family.
// A nil cf selects the default column family. The handle is resolved when
// the batch is applied, not when the operation is recorded.
func (wb *WriteBatch) PutCF(cf *ColumnFamily, key, value []byte) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.rep = batchrep.AppendPut(wb.rep, cfID(cf), key, value)
}

// Delete adds a deletion for the key to the batch.
func (wb *WriteBatch) Delete(key []byte) {
	wb.DeleteCF(nil, key)
}

// DeleteCF adds a deletion for the key to the batch for the given column
// family.
func (wb *WriteBatch) DeleteCF(cf *ColumnFamily, key []byte) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.rep = batchrep.AppendDelete(wb.rep, cfID(cf), key)
}

// SingleDelete adds a single deletion for the key to the batch. It is more
// efficient than Delete when the key was written at most once since the
// last deletion.
func (wb *WriteBatch) SingleDelete(key []byte) {
	wb.SingleDeleteCF(nil, key)
}

// SingleDeleteCF adds a single deletion to the batch for the given column
// family.
func (wb *WriteBatch) SingleDeleteCF(cf *ColumnFamily, key []byte) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.rep = batchrep.AppendSingleDelete(wb.rep, cfID(cf), key)
}

// DeleteRange adds a range deletion [startKey, endKey) to the batch.
func (wb *WriteBatch) DeleteRange(startKey, endKey []byte) {
	wb.DeleteRangeCF(nil, startKey, endKey)
}

// DeleteRangeCF adds a range deletion to the batch for the given column
// family.
func (wb *WriteBatch) DeleteRangeCF(cf *ColumnFamily, startKey, endKey []byte) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.rep = batchrep.AppendDeleteRange(wb.rep, cfID(cf), startKey, endKey)
}

// Merge adds a merge operand for the key to the batch.
func (wb *WriteBatch) Merge(key, operand []byte) {
	wb.MergeCF(nil, key, operand)
}

// MergeCF adds a merge operand to the batch for the given column family.
func (wb *WriteBatch) MergeCF(cf *ColumnFamily, key, operand []byte) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.rep = batchrep.AppendMerge(wb.rep, cfID(cf), key, operand)
}

// Clear resets the batch to empty, allowing it to be reused.
func (wb *WriteBatch) Clear() {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.rep = batchrep.Reset(wb.rep)
}

// Count returns the number of operations in the batch.
func (wb *WriteBatch) Count() uint32 {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return uint32(batchrep.Count(wb.rep))
}

// Data returns the serialized batch in the engine's write-batch format. The
// returned slice aliases the batch's buffer and is invalidated by further
// operations on the batch.
func (wb *WriteBatch) Data() []byte {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return wb.rep
}
