package rockbridge

// db.go implements opening and closing databases and the direct
// (non-transactional) operations on them.
//
// A DB owns one engine instance and hands out child handles: snapshots,
// iterators, transactions and column families. Children are counted, and
// Close refuses with a Busy kind while any remain, so the engine is torn
// down exactly once and never underneath a live handle.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/c.h (rocksdb_open, rocksdb_close, rocksdb_put, ...)
//   - include/rocksdb/utilities/optimistic_transaction_db.h
//   - include/rocksdb/utilities/transaction_db.h

import (
	"fmt"
	"sync"

	"github.com/aalhour/rockbridge/internal/batchrep"
	"github.com/aalhour/rockbridge/internal/engine"
	"github.com/aalhour/rockbridge/internal/logging"
)

// DB is an open database handle.
//
// All methods are safe for concurrent use. The handle stays usable until
// Close succeeds; operations on a closed handle fail with ErrDBClosed
// instead of reaching freed engine state.
type DB struct {
	mu     sync.RWMutex
	closed bool

	eng        engine.DB
	engineName string
	path       string
	logger     logging.Logger

	cfs       map[string]*ColumnFamily
	defaultCF *ColumnFamily

	children childCounts
}

// Range is a half-open key interval [Start, Limit). A nil Start means the
// first key; a nil Limit means past the last key.
type Range struct {
	Start []byte
	Limit []byte
}

// Open opens the database at path. A nil opts uses DefaultOptions, which
// does not create a missing database.
//
// A database whose non-default column families were created earlier must be
// opened with OpenColumnFamilies naming all of them.
func Open(path string, opts *Options) (*DB, error) {
	return openDatabase(path, opts, nil, nil)
}

// OpenColumnFamilies opens the database at path together with the named
// column families. Every column family the database contains must be
// listed, including DefaultColumnFamilyName; names that do not exist yet
// are created when opts.CreateMissingColumnFamilies is set. The returned
// handles align with cfNames.
//
// cfOpts configures each column family positionally; nil applies
// DefaultColumnFamilyOptions to all of them.
func OpenColumnFamilies(path string, opts *Options, cfNames []string, cfOpts []*ColumnFamilyOptions) (*DB, []*ColumnFamily, error) {
	if len(cfNames) == 0 {
		return nil, nil, &Error{Kind: KindInvalidArgument, Message: "rockbridge: no column families named"}
	}
	if cfOpts != nil && len(cfOpts) != len(cfNames) {
		return nil, nil, &Error{Kind: KindInvalidArgument, Message: "rockbridge: column family names and options differ in length"}
	}
	hasDefault := false
	for _, name := range cfNames {
		if name == DefaultColumnFamilyName {
			hasDefault = true
			break
		}
	}
	if !hasDefault {
		return nil, nil, &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("rockbridge: column family list must include %q", DefaultColumnFamilyName),
		}
	}

	db, err := openDatabase(path, opts, cfNames, cfOpts)
	if err != nil {
		return nil, nil, err
	}

	handles := make([]*ColumnFamily, len(cfNames))
	for i, name := range cfNames {
		cf := db.ColumnFamily(name)
		if cf == nil {
			_ = db.eng.Close()
			return nil, nil, &Error{
				Kind:    KindInvalidArgument,
				Message: fmt.Sprintf("rockbridge: engine did not open column family %q", name),
			}
		}
		handles[i] = cf
	}
	return db, handles, nil
}

// lookupEngine resolves the provider named in Options.Engine; empty selects
// the pure-Go default.
func lookupEngine(name string) (engine.Engine, error) {
	if name == "" {
		name = EnginePebble
	}
	return engine.Lookup(name)
}

func openDatabase(path string, opts *Options, cfNames []string, cfOpts []*ColumnFamilyOptions) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	eng, err := lookupEngine(opts.Engine)
	if err != nil {
		return nil, translate(err)
	}

	cfg := opts.engineConfig()
	for i, name := range cfNames {
		if name == DefaultColumnFamilyName {
			continue
		}
		var co *ColumnFamilyOptions
		if cfOpts != nil {
			co = cfOpts[i]
		}
		cfg.ColumnFamilies = append(cfg.ColumnFamilies, co.engineCFConfig(name))
	}

	edb, err := eng.Open(path, cfg)
	if err != nil {
		return nil, translate(err)
	}

	db := &DB{
		eng:        edb,
		engineName: eng.Name(),
		path:       path,
		logger:     logging.OrDefault(opts.Logger),
		cfs:        make(map[string]*ColumnFamily),
	}
	for _, h := range edb.ColumnFamilies() {
		cf := &ColumnFamily{db: db, handle: h, name: h.Name()}
		db.cfs[h.Name()] = cf
	}
	db.defaultCF = db.cfs[DefaultColumnFamilyName]
	if db.defaultCF == nil {
		h := edb.DefaultColumnFamily()
		db.defaultCF = &ColumnFamily{db: db, handle: h, name: h.Name()}
		db.cfs[h.Name()] = db.defaultCF
	}

	db.logger.Infof("[db] opened %s (engine %s, %d column families)", path, db.engineName, len(db.cfs))
	return db, nil
}

// ListColumnFamilies reports the column family names of the database at
// path without opening it.
func ListColumnFamilies(path string, opts *Options) ([]string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	eng, err := lookupEngine(opts.Engine)
	if err != nil {
		return nil, translate(err)
	}
	names, err := eng.ListColumnFamilies(path, opts.engineConfig())
	if err != nil {
		return nil, translate(err)
	}
	return names, nil
}

// DestroyDatabase deletes the database at path: its files are removed and
// its contents are unrecoverable. The database must not be open.
func DestroyDatabase(path string, opts *Options) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	eng, err := lookupEngine(opts.Engine)
	if err != nil {
		return translate(err)
	}
	return translate(eng.Destroy(path, opts.engineConfig()))
}

// Close releases the database handle and the engine behind it. Close fails
// with a Busy kind while snapshots, iterators or transactions derived from
// this handle are still live; release them first. Closing an already closed
// handle is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	if n := db.children.total(); n > 0 {
		return &Error{
			Kind: KindBusy,
			Message: fmt.Sprintf(
				"rockbridge: database has %d live child handles (snapshots %d, iterators %d, transactions %d)",
				n,
				db.children.snapshots.Load(),
				db.children.iterators.Load(),
				db.children.transactions.Load(),
			),
		}
	}

	if err := db.eng.Close(); err != nil {
		return translate(err)
	}
	db.closed = true
	db.logger.Infof("[db] closed %s", db.path)
	return nil
}

// isClosed reports whether Close has completed.
func (db *DB) isClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Path returns the filesystem path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// Engine returns the name of the engine provider backing the database.
func (db *DB) Engine() string {
	return db.engineName
}

// resolveRead resolves a column family handle and read options together.
func (db *DB) resolveRead(cf *ColumnFamily, ro *ReadOptions) (engine.CFHandle, *engine.ReadOptions, error) {
	h, err := db.resolveCF(cf)
	if err != nil {
		return nil, nil, err
	}
	if ro != nil && ro.Snapshot != nil && ro.Snapshot.db != db {
		return nil, nil, &Error{Kind: KindInvalidArgument, Message: "rockbridge: snapshot belongs to a different database"}
	}
	ero, err := ro.engineReadOptions()
	if err != nil {
		return nil, nil, err
	}
	return h, ero, nil
}

// Get retrieves the value for key from the default column family. A missing
// key reports ErrNotFound.
func (db *DB) Get(ro *ReadOptions, key []byte) ([]byte, error) {
	return db.GetCF(ro, nil, key)
}

// GetCF retrieves the value for key from the given column family.
func (db *DB) GetCF(ro *ReadOptions, cf *ColumnFamily, key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDBClosed
	}
	h, ero, err := db.resolveRead(cf, ro)
	if err != nil {
		return nil, err
	}
	val, err := db.eng.Get(h, ero, key)
	if err != nil {
		return nil, translate(err)
	}
	return val, nil
}

// Put writes key to the default column family.
func (db *DB) Put(wo *WriteOptions, key, value []byte) error {
	return db.PutCF(wo, nil, key, value)
}

// PutCF writes key to the given column family.
func (db *DB) PutCF(wo *WriteOptions, cf *ColumnFamily, key, value []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	h, err := db.resolveCF(cf)
	if err != nil {
		return err
	}
	return translate(db.eng.Put(h, wo.engineWriteOptions(), key, value))
}

// Delete removes key from the default column family. Deleting a missing key
// is not an error.
func (db *DB) Delete(wo *WriteOptions, key []byte) error {
	return db.DeleteCF(wo, nil, key)
}

// DeleteCF removes key from the given column family.
func (db *DB) DeleteCF(wo *WriteOptions, cf *ColumnFamily, key []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	h, err := db.resolveCF(cf)
	if err != nil {
		return err
	}
	return translate(db.eng.Delete(h, wo.engineWriteOptions(), key))
}

// SingleDelete removes key from the default column family. It is more
// efficient than Delete when the key was written at most once since the
// last deletion.
func (db *DB) SingleDelete(wo *WriteOptions, key []byte) error {
	return db.SingleDeleteCF(wo, nil, key)
}

// SingleDeleteCF removes key from the given column family.
func (db *DB) SingleDeleteCF(wo *WriteOptions, cf *ColumnFamily, key []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	h, err := db.resolveCF(cf)
	if err != nil {
		return err
	}
	rep := batchrep.AppendSingleDelete(batchrep.New(), h.ID(), key)
	return translate(db.eng.Write(wo.engineWriteOptions(), rep))
}

// DeleteRange removes every key in [startKey, endKey) from the default
// column family.
func (db *DB) DeleteRange(wo *WriteOptions, startKey, endKey []byte) error {
	return db.DeleteRangeCF(wo, nil, startKey, endKey)
}

// DeleteRangeCF removes every key in [startKey, endKey) from the given
// column family.
func (db *DB) DeleteRangeCF(wo *WriteOptions, cf *ColumnFamily, startKey, endKey []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	h, err := db.resolveCF(cf)
	if err != nil {
		return err
	}
	rep := batchrep.AppendDeleteRange(batchrep.New(), h.ID(), startKey, endKey)
	return translate(db.eng.Write(wo.engineWriteOptions(), rep))
}

// Merge applies a merge operand to key in the default column family using
// the merge operator configured at open time.
func (db *DB) Merge(wo *WriteOptions, key, operand []byte) error {
	return db.MergeCF(wo, nil, key, operand)
}

// MergeCF applies a merge operand to key in the given column family.
func (db *DB) MergeCF(wo *WriteOptions, cf *ColumnFamily, key, operand []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	h, err := db.resolveCF(cf)
	if err != nil {
		return err
	}
	return translate(db.eng.Merge(h, wo.engineWriteOptions(), key, operand))
}

// Write applies the batch atomically: either every operation in it becomes
// visible or none does. The batch is not consumed; a failed Write leaves it
// intact for retry and a successful one can be reused after Clear.
func (db *DB) Write(wo *WriteOptions, wb *WriteBatch) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	if wb == nil {
		return &Error{Kind: KindInvalidArgument, Message: "rockbridge: nil write batch"}
	}

	wb.mu.Lock()
	defer wb.mu.Unlock()
	return translate(db.eng.Write(wo.engineWriteOptions(), wb.rep))
}

// NewIterator returns a cursor over the default column family. The iterator
// starts unpositioned; call a seek method before reading from it, and close
// it before closing the database.
func (db *DB) NewIterator(ro *ReadOptions) (*Iterator, error) {
	return db.NewIteratorCF(ro, nil)
}

// NewIteratorCF returns a cursor over the given column family.
func (db *DB) NewIteratorCF(ro *ReadOptions, cf *ColumnFamily) (*Iterator, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDBClosed
	}
	h, ero, err := db.resolveRead(cf, ro)
	if err != nil {
		return nil, err
	}
	ei, err := db.eng.NewIterator(h, ero)
	if err != nil {
		return nil, translate(err)
	}
	db.children.iterators.Add(1)
	return newIterator(db, nil, ei), nil
}

// Flush persists the default column family's in-memory writes to stable
// storage. A nil opts uses DefaultFlushOptions, which waits for completion.
func (db *DB) Flush(opts *FlushOptions) error {
	return db.FlushCF(opts, nil)
}

// FlushCF persists the given column family's in-memory writes.
func (db *DB) FlushCF(opts *FlushOptions, cf *ColumnFamily) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	h, err := db.resolveCF(cf)
	if err != nil {
		return err
	}
	if opts == nil {
		opts = DefaultFlushOptions()
	}
	return translate(db.eng.Flush(h, opts.Wait))
}

// CompactRange compacts the key range r in the default column family. A
// zero Range compacts everything.
func (db *DB) CompactRange(r Range) error {
	return db.CompactRangeCF(nil, r)
}

// CompactRangeCF compacts the key range r in the given column family.
func (db *DB) CompactRangeCF(cf *ColumnFamily, r Range) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	h, err := db.resolveCF(cf)
	if err != nil {
		return err
	}
	return translate(db.eng.CompactRange(h, r.Start, r.Limit))
}

// Checkpoint writes a consistent, openable copy of the database to dir,
// which must not exist yet.
func (db *DB) Checkpoint(dir string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDBClosed
	}
	db.logger.Infof("[db] creating checkpoint at %s", dir)
	return translate(db.eng.Checkpoint(dir))
}
