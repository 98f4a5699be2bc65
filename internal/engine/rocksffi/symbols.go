//go:build darwin || linux || freebsd

package rocksffi

// symbols.go binds the RocksDB C API (rocksdb/c.h) to Go function values
// with purego. Every symbol in the required table must resolve or the
// library is rejected; symbols in the probed table were added to the C API
// after v8 (or vary across builds) and the operations behind them degrade
// to NotSupported when absent.

import (
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/aalhour/rockbridge/internal/engine"
)

type lib struct {
	handle uintptr

	// Probed feature flags.
	hasSnapshotSeq   bool
	hasCFHandleID    bool
	hasSingleDelete  bool
	hasTxnMergeCF    bool
	hasTdbDropCF     bool
	hasTdbFlushCF    bool
	hasTdbCheckpoint bool
	hasTdbBaseDB     bool

	free func(ptr uintptr)

	// Database options.
	optionsCreate                    func() uintptr
	optionsDestroy                   func(opts uintptr)
	optionsSetCreateIfMissing        func(opts uintptr, v bool)
	optionsSetErrorIfExists          func(opts uintptr, v bool)
	optionsSetCreateMissingCFs       func(opts uintptr, v bool)
	optionsSetParanoidChecks         func(opts uintptr, v bool)
	optionsSetWriteBufferSize        func(opts uintptr, n uintptr)
	optionsSetMaxOpenFiles           func(opts uintptr, n int32)
	optionsSetCompression            func(opts uintptr, kind int32)
	optionsSetBlockBasedTableFactory func(opts, bbto uintptr)
	blockBasedOptionsCreate          func() uintptr
	blockBasedOptionsDestroy         func(bbto uintptr)
	blockBasedOptionsSetBlockCache   func(bbto, cache uintptr)
	cacheCreateLRU                   func(capacity uintptr) uintptr
	cacheDestroy                     func(cache uintptr)

	// Read, write, and flush options.
	readoptionsCreate               func() uintptr
	readoptionsDestroy              func(ro uintptr)
	readoptionsSetSnapshot          func(ro, snap uintptr)
	readoptionsSetIterateLowerBound func(ro uintptr, key []byte, n uintptr)
	readoptionsSetIterateUpperBound func(ro uintptr, key []byte, n uintptr)
	readoptionsSetFillCache         func(ro uintptr, v bool)
	readoptionsSetTotalOrderSeek    func(ro uintptr, v bool)
	writeoptionsCreate              func() uintptr
	writeoptionsDestroy             func(wo uintptr)
	writeoptionsSetSync             func(wo uintptr, v bool)
	writeoptionsDisableWAL          func(wo uintptr, v int32)
	flushoptionsCreate              func() uintptr
	flushoptionsDestroy             func(fo uintptr)
	flushoptionsSetWait             func(fo uintptr, v bool)

	// Plain database surface, used through the optimistic wrapper's base
	// handle and for maintenance on both wrappers.
	getCF                  func(db, ro, cf uintptr, key []byte, klen uintptr, vlen *uintptr, errptr *uintptr) uintptr
	write                  func(db, wo, wb uintptr, errptr *uintptr)
	createSnapshot         func(db uintptr) uintptr
	releaseSnapshot        func(db, snap uintptr)
	createIteratorCF       func(db, ro, cf uintptr) uintptr
	createColumnFamily     func(db, opts uintptr, name string, errptr *uintptr) uintptr
	dropColumnFamily       func(db, cf uintptr, errptr *uintptr)
	cfHandleDestroy        func(cf uintptr)
	flushCF                func(db, fo, cf uintptr, errptr *uintptr)
	compactRangeCF         func(db, cf uintptr, start []byte, slen uintptr, limit []byte, llen uintptr)
	checkpointCreate       func(db uintptr, errptr *uintptr) uintptr
	checkpointBuild        func(cp uintptr, dir string, logSizeForFlush uint64, errptr *uintptr)
	checkpointDestroy      func(cp uintptr)
	listColumnFamilies     func(opts uintptr, path string, n *uintptr, errptr *uintptr) uintptr
	listColumnFamiliesFree func(list uintptr, n uintptr)
	destroyDB              func(opts uintptr, path string, errptr *uintptr)

	// Write batches.
	writebatchCreate         func() uintptr
	writebatchDestroy        func(wb uintptr)
	writebatchPutCF          func(wb, cf uintptr, key []byte, klen uintptr, val []byte, vlen uintptr)
	writebatchDeleteCF       func(wb, cf uintptr, key []byte, klen uintptr)
	writebatchMergeCF        func(wb, cf uintptr, key []byte, klen uintptr, val []byte, vlen uintptr)
	writebatchDeleteRangeCF  func(wb, cf uintptr, start []byte, slen uintptr, end []byte, elen uintptr)
	writebatchSingleDeleteCF func(wb, cf uintptr, key []byte, klen uintptr)

	// Pessimistic transaction database.
	tdbOptionsCreate            func() uintptr
	tdbOptionsDestroy           func(topts uintptr)
	tdbOptionsSetLockTimeout    func(topts uintptr, ms int64)
	tdbOpen                     func(opts, topts uintptr, path string, errptr *uintptr) uintptr
	tdbOpenColumnFamilies       func(opts, topts uintptr, path string, n int32, names []uintptr, cfOpts []uintptr, handles []uintptr, errptr *uintptr) uintptr
	tdbClose                    func(tdb uintptr)
	tdbGetCF                    func(tdb, ro, cf uintptr, key []byte, klen uintptr, vlen *uintptr, errptr *uintptr) uintptr
	tdbWrite                    func(tdb, wo, wb uintptr, errptr *uintptr)
	tdbCreateSnapshot           func(tdb uintptr) uintptr
	tdbReleaseSnapshot          func(tdb, snap uintptr)
	tdbCreateIteratorCF         func(tdb, ro, cf uintptr) uintptr
	tdbCreateColumnFamily       func(tdb, opts uintptr, name string, errptr *uintptr) uintptr
	tdbDropColumnFamily         func(tdb, cf uintptr, errptr *uintptr)
	tdbFlushCF                  func(tdb, fo, cf uintptr, errptr *uintptr)
	tdbCheckpointCreate         func(tdb uintptr, errptr *uintptr) uintptr
	tdbGetBaseDB                func(tdb uintptr) uintptr
	tdbCloseBaseDB              func(base uintptr)
	txnBegin                    func(tdb, wo, topts, old uintptr) uintptr
	txnOptionsCreate            func() uintptr
	txnOptionsDestroy           func(topts uintptr)
	txnOptionsSetSetSnapshot    func(topts uintptr, v bool)
	txnOptionsSetLockTimeout    func(topts uintptr, ms int64)
	txnOptionsSetDeadlockDetect func(topts uintptr, v bool)

	// Optimistic transaction database.
	odbOpen                   func(opts uintptr, path string, errptr *uintptr) uintptr
	odbOpenColumnFamilies     func(opts uintptr, path string, n int32, names []uintptr, cfOpts []uintptr, handles []uintptr, errptr *uintptr) uintptr
	odbClose                  func(odb uintptr)
	odbGetBaseDB              func(odb uintptr) uintptr
	odbCloseBaseDB            func(base uintptr)
	otxnBegin                 func(odb, wo, otopts, old uintptr) uintptr
	otxnOptionsCreate         func() uintptr
	otxnOptionsDestroy        func(otopts uintptr)
	otxnOptionsSetSetSnapshot func(otopts uintptr, v bool)

	// Transactions, shared by both wrappers.
	txnCommit              func(txn uintptr, errptr *uintptr)
	txnRollback            func(txn uintptr, errptr *uintptr)
	txnDestroy             func(txn uintptr)
	txnSetSavepoint        func(txn uintptr)
	txnRollbackToSavepoint func(txn uintptr, errptr *uintptr)
	txnGetCF               func(txn, ro, cf uintptr, key []byte, klen uintptr, vlen *uintptr, errptr *uintptr) uintptr
	txnGetForUpdateCF      func(txn, ro, cf uintptr, key []byte, klen uintptr, vlen *uintptr, exclusive bool, errptr *uintptr) uintptr
	txnPutCF               func(txn, cf uintptr, key []byte, klen uintptr, val []byte, vlen uintptr, errptr *uintptr)
	txnDeleteCF            func(txn, cf uintptr, key []byte, klen uintptr, errptr *uintptr)
	txnMerge               func(txn uintptr, key []byte, klen uintptr, val []byte, vlen uintptr, errptr *uintptr)
	txnMergeCF             func(txn, cf uintptr, key []byte, klen uintptr, val []byte, vlen uintptr, errptr *uintptr)
	txnCreateIteratorCF    func(txn, ro, cf uintptr) uintptr
	txnGetSnapshot         func(txn uintptr) uintptr

	// Iterators.
	iterDestroy     func(it uintptr)
	iterValid       func(it uintptr) bool
	iterSeekToFirst func(it uintptr)
	iterSeekToLast  func(it uintptr)
	iterSeek        func(it uintptr, key []byte, klen uintptr)
	iterSeekForPrev func(it uintptr, key []byte, klen uintptr)
	iterNext        func(it uintptr)
	iterPrev        func(it uintptr)
	iterKey         func(it uintptr, klen *uintptr) uintptr
	iterValue       func(it uintptr, vlen *uintptr) uintptr
	iterGetError    func(it uintptr, errptr *uintptr)

	// Probed extras.
	snapshotSequenceNumber func(snap uintptr) uint64
	cfHandleID             func(cf uintptr) uint32
}

func bindSymbols(handle uintptr) (*lib, error) {
	L := &lib{handle: handle}

	required := []struct {
		name string
		fn   any
	}{
		{"rocksdb_free", &L.free},

		{"rocksdb_options_create", &L.optionsCreate},
		{"rocksdb_options_destroy", &L.optionsDestroy},
		{"rocksdb_options_set_create_if_missing", &L.optionsSetCreateIfMissing},
		{"rocksdb_options_set_error_if_exists", &L.optionsSetErrorIfExists},
		{"rocksdb_options_set_create_missing_column_families", &L.optionsSetCreateMissingCFs},
		{"rocksdb_options_set_paranoid_checks", &L.optionsSetParanoidChecks},
		{"rocksdb_options_set_write_buffer_size", &L.optionsSetWriteBufferSize},
		{"rocksdb_options_set_max_open_files", &L.optionsSetMaxOpenFiles},
		{"rocksdb_options_set_compression", &L.optionsSetCompression},
		{"rocksdb_options_set_block_based_table_factory", &L.optionsSetBlockBasedTableFactory},
		{"rocksdb_block_based_options_create", &L.blockBasedOptionsCreate},
		{"rocksdb_block_based_options_destroy", &L.blockBasedOptionsDestroy},
		{"rocksdb_block_based_options_set_block_cache", &L.blockBasedOptionsSetBlockCache},
		{"rocksdb_cache_create_lru", &L.cacheCreateLRU},
		{"rocksdb_cache_destroy", &L.cacheDestroy},

		{"rocksdb_readoptions_create", &L.readoptionsCreate},
		{"rocksdb_readoptions_destroy", &L.readoptionsDestroy},
		{"rocksdb_readoptions_set_snapshot", &L.readoptionsSetSnapshot},
		{"rocksdb_readoptions_set_iterate_lower_bound", &L.readoptionsSetIterateLowerBound},
		{"rocksdb_readoptions_set_iterate_upper_bound", &L.readoptionsSetIterateUpperBound},
		{"rocksdb_readoptions_set_fill_cache", &L.readoptionsSetFillCache},
		{"rocksdb_readoptions_set_total_order_seek", &L.readoptionsSetTotalOrderSeek},
		{"rocksdb_writeoptions_create", &L.writeoptionsCreate},
		{"rocksdb_writeoptions_destroy", &L.writeoptionsDestroy},
		{"rocksdb_writeoptions_set_sync", &L.writeoptionsSetSync},
		{"rocksdb_writeoptions_disable_WAL", &L.writeoptionsDisableWAL},
		{"rocksdb_flushoptions_create", &L.flushoptionsCreate},
		{"rocksdb_flushoptions_destroy", &L.flushoptionsDestroy},
		{"rocksdb_flushoptions_set_wait", &L.flushoptionsSetWait},

		{"rocksdb_get_cf", &L.getCF},
		{"rocksdb_write", &L.write},
		{"rocksdb_create_snapshot", &L.createSnapshot},
		{"rocksdb_release_snapshot", &L.releaseSnapshot},
		{"rocksdb_create_iterator_cf", &L.createIteratorCF},
		{"rocksdb_create_column_family", &L.createColumnFamily},
		{"rocksdb_drop_column_family", &L.dropColumnFamily},
		{"rocksdb_column_family_handle_destroy", &L.cfHandleDestroy},
		{"rocksdb_flush_cf", &L.flushCF},
		{"rocksdb_compact_range_cf", &L.compactRangeCF},
		{"rocksdb_checkpoint_object_create", &L.checkpointCreate},
		{"rocksdb_checkpoint_create", &L.checkpointBuild},
		{"rocksdb_checkpoint_object_destroy", &L.checkpointDestroy},
		{"rocksdb_list_column_families", &L.listColumnFamilies},
		{"rocksdb_list_column_families_destroy", &L.listColumnFamiliesFree},
		{"rocksdb_destroy_db", &L.destroyDB},

		{"rocksdb_writebatch_create", &L.writebatchCreate},
		{"rocksdb_writebatch_destroy", &L.writebatchDestroy},
		{"rocksdb_writebatch_put_cf", &L.writebatchPutCF},
		{"rocksdb_writebatch_delete_cf", &L.writebatchDeleteCF},
		{"rocksdb_writebatch_merge_cf", &L.writebatchMergeCF},
		{"rocksdb_writebatch_delete_range_cf", &L.writebatchDeleteRangeCF},

		{"rocksdb_transactiondb_options_create", &L.tdbOptionsCreate},
		{"rocksdb_transactiondb_options_destroy", &L.tdbOptionsDestroy},
		{"rocksdb_transactiondb_options_set_transaction_lock_timeout", &L.tdbOptionsSetLockTimeout},
		{"rocksdb_transactiondb_open", &L.tdbOpen},
		{"rocksdb_transactiondb_open_column_families", &L.tdbOpenColumnFamilies},
		{"rocksdb_transactiondb_close", &L.tdbClose},
		{"rocksdb_transactiondb_get_cf", &L.tdbGetCF},
		{"rocksdb_transactiondb_write", &L.tdbWrite},
		{"rocksdb_transactiondb_create_snapshot", &L.tdbCreateSnapshot},
		{"rocksdb_transactiondb_release_snapshot", &L.tdbReleaseSnapshot},
		{"rocksdb_transactiondb_create_iterator_cf", &L.tdbCreateIteratorCF},
		{"rocksdb_transactiondb_create_column_family", &L.tdbCreateColumnFamily},
		{"rocksdb_transaction_begin", &L.txnBegin},
		{"rocksdb_transaction_options_create", &L.txnOptionsCreate},
		{"rocksdb_transaction_options_destroy", &L.txnOptionsDestroy},
		{"rocksdb_transaction_options_set_set_snapshot", &L.txnOptionsSetSetSnapshot},
		{"rocksdb_transaction_options_set_lock_timeout", &L.txnOptionsSetLockTimeout},
		{"rocksdb_transaction_options_set_deadlock_detect", &L.txnOptionsSetDeadlockDetect},

		{"rocksdb_optimistictransactiondb_open", &L.odbOpen},
		{"rocksdb_optimistictransactiondb_open_column_families", &L.odbOpenColumnFamilies},
		{"rocksdb_optimistictransactiondb_close", &L.odbClose},
		{"rocksdb_optimistictransactiondb_get_base_db", &L.odbGetBaseDB},
		{"rocksdb_optimistictransactiondb_close_base_db", &L.odbCloseBaseDB},
		{"rocksdb_optimistictransaction_begin", &L.otxnBegin},
		{"rocksdb_optimistictransaction_options_create", &L.otxnOptionsCreate},
		{"rocksdb_optimistictransaction_options_destroy", &L.otxnOptionsDestroy},
		{"rocksdb_optimistictransaction_options_set_set_snapshot", &L.otxnOptionsSetSetSnapshot},

		{"rocksdb_transaction_commit", &L.txnCommit},
		{"rocksdb_transaction_rollback", &L.txnRollback},
		{"rocksdb_transaction_destroy", &L.txnDestroy},
		{"rocksdb_transaction_set_savepoint", &L.txnSetSavepoint},
		{"rocksdb_transaction_rollback_to_savepoint", &L.txnRollbackToSavepoint},
		{"rocksdb_transaction_get_cf", &L.txnGetCF},
		{"rocksdb_transaction_get_for_update_cf", &L.txnGetForUpdateCF},
		{"rocksdb_transaction_put_cf", &L.txnPutCF},
		{"rocksdb_transaction_delete_cf", &L.txnDeleteCF},
		{"rocksdb_transaction_merge", &L.txnMerge},
		{"rocksdb_transaction_create_iterator_cf", &L.txnCreateIteratorCF},
		{"rocksdb_transaction_get_snapshot", &L.txnGetSnapshot},

		{"rocksdb_iter_destroy", &L.iterDestroy},
		{"rocksdb_iter_valid", &L.iterValid},
		{"rocksdb_iter_seek_to_first", &L.iterSeekToFirst},
		{"rocksdb_iter_seek_to_last", &L.iterSeekToLast},
		{"rocksdb_iter_seek", &L.iterSeek},
		{"rocksdb_iter_seek_for_prev", &L.iterSeekForPrev},
		{"rocksdb_iter_next", &L.iterNext},
		{"rocksdb_iter_prev", &L.iterPrev},
		{"rocksdb_iter_key", &L.iterKey},
		{"rocksdb_iter_value", &L.iterValue},
		{"rocksdb_iter_get_error", &L.iterGetError},
	}
	for _, s := range required {
		if _, err := purego.Dlsym(handle, s.name); err != nil {
			return nil, engine.Statusf(engine.CodeNotSupported, "rocksdb library does not export %s", s.name)
		}
		purego.RegisterLibFunc(s.fn, handle, s.name)
	}

	probed := []struct {
		name string
		fn   any
		ok   *bool
	}{
		{"rocksdb_snapshot_get_sequence_number", &L.snapshotSequenceNumber, &L.hasSnapshotSeq},
		{"rocksdb_column_family_handle_get_id", &L.cfHandleID, &L.hasCFHandleID},
		{"rocksdb_writebatch_singledelete_cf", &L.writebatchSingleDeleteCF, &L.hasSingleDelete},
		{"rocksdb_transaction_merge_cf", &L.txnMergeCF, &L.hasTxnMergeCF},
		{"rocksdb_transactiondb_drop_column_family", &L.tdbDropColumnFamily, &L.hasTdbDropCF},
		{"rocksdb_transactiondb_flush_cf", &L.tdbFlushCF, &L.hasTdbFlushCF},
		{"rocksdb_transactiondb_checkpoint_object_create", &L.tdbCheckpointCreate, &L.hasTdbCheckpoint},
	}
	for _, s := range probed {
		if _, err := purego.Dlsym(handle, s.name); err != nil {
			continue
		}
		purego.RegisterLibFunc(s.fn, handle, s.name)
		*s.ok = true
	}

	// The base-db accessor pair is useful only together.
	if _, err := purego.Dlsym(handle, "rocksdb_transactiondb_get_base_db"); err == nil {
		if _, err := purego.Dlsym(handle, "rocksdb_transactiondb_close_base_db"); err == nil {
			purego.RegisterLibFunc(&L.tdbGetBaseDB, handle, "rocksdb_transactiondb_get_base_db")
			purego.RegisterLibFunc(&L.tdbCloseBaseDB, handle, "rocksdb_transactiondb_close_base_db")
			L.hasTdbBaseDB = true
		}
	}

	return L, nil
}

// errStatus consumes an errptr produced by a C call: nil on success,
// otherwise the parsed status. The C side allocates the message; it is
// freed here.
func (L *lib) errStatus(errptr uintptr) *engine.Status {
	if errptr == 0 {
		return nil
	}
	msg := goString(errptr)
	L.free(errptr)
	return statusFromMessage(msg)
}

// copyAndFree copies n bytes from a malloc'd buffer into Go memory and
// releases the native buffer.
func (L *lib) copyAndFree(p uintptr, n uintptr) []byte {
	if p == 0 {
		return nil
	}
	out := make([]byte, n)
	if n > 0 {
		copy(out, unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
	}
	L.free(p)
	return out
}

// goString reads a NUL-terminated C string.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}
