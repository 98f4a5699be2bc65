//go:build darwin || linux || freebsd

package rocksffi

// txn.go implements transactions over rocksdb_transaction_t, the type both
// wrapper kinds hand out. The native side owns all transaction state; this
// layer only tracks the handle, the lazily materialized snapshot wrapper,
// and whether the transaction already ended.

import (
	"time"

	"github.com/aalhour/rockbridge/internal/engine"
)

func (d *rdb) BeginTxn(cfg *engine.TxnConfig) (engine.Txn, error) {
	wo := d.L.writeoptionsCreate()
	defer d.L.writeoptionsDestroy(wo)

	var ptr uintptr
	if d.pessimistic {
		to := d.L.txnOptionsCreate()
		if cfg != nil {
			d.L.txnOptionsSetSetSnapshot(to, cfg.SetSnapshot)
			if cfg.LockTimeout != 0 {
				d.L.txnOptionsSetLockTimeout(to, lockTimeoutMillis(cfg.LockTimeout))
			}
			d.L.txnOptionsSetDeadlockDetect(to, cfg.DeadlockDetect)
		}
		ptr = d.L.txnBegin(d.tdb, wo, to, 0)
		d.L.txnOptionsDestroy(to)
	} else {
		oo := d.L.otxnOptionsCreate()
		if cfg != nil {
			d.L.otxnOptionsSetSetSnapshot(oo, cfg.SetSnapshot)
		}
		ptr = d.L.otxnBegin(d.odb, wo, oo, 0)
		d.L.otxnOptionsDestroy(oo)
	}

	t := &rtxn{d: d, L: d.L, ptr: ptr}
	if cfg != nil && cfg.SetSnapshot {
		t.wantSnapshot = true
	}
	return t, nil
}

// lockTimeoutMillis renders the contract's timeout semantics in native
// milliseconds. The native side has no true forever, so a year stands in;
// sub-millisecond waits round up rather than degrade to no-wait, which is
// what zero means natively.
func lockTimeoutMillis(d time.Duration) int64 {
	if d < 0 {
		return int64(365 * 24 * time.Hour / time.Millisecond)
	}
	ms := int64(d / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

type rtxn struct {
	d   *rdb
	L   *lib
	ptr uintptr

	wantSnapshot bool
	snap         *snapshot // wrapper shell, freed when the transaction ends
	done         bool
}

func (t *rtxn) Get(cf engine.CFHandle, ro *engine.ReadOptions, key []byte) ([]byte, error) {
	h, err := t.d.resolve(cf)
	if err != nil {
		return nil, err
	}
	rop, err := t.L.buildReadOptions(ro)
	if err != nil {
		return nil, err
	}
	defer t.L.readoptionsDestroy(rop)

	var vlen, errp uintptr
	val := t.L.txnGetCF(t.ptr, rop, h.ptr, key, uintptr(len(key)), &vlen, &errp)
	if st := t.L.errStatus(errp); st != nil {
		return nil, st
	}
	if val == 0 {
		return nil, engine.NotFound
	}
	return t.L.copyAndFree(val, vlen), nil
}

func (t *rtxn) GetForUpdate(cf engine.CFHandle, ro *engine.ReadOptions, key []byte, exclusive bool) ([]byte, error) {
	h, err := t.d.resolve(cf)
	if err != nil {
		return nil, err
	}
	rop, err := t.L.buildReadOptions(ro)
	if err != nil {
		return nil, err
	}
	defer t.L.readoptionsDestroy(rop)

	var vlen, errp uintptr
	val := t.L.txnGetForUpdateCF(t.ptr, rop, h.ptr, key, uintptr(len(key)), &vlen, exclusive, &errp)
	if st := t.L.errStatus(errp); st != nil {
		return nil, st
	}
	if val == 0 {
		return nil, engine.NotFound
	}
	return t.L.copyAndFree(val, vlen), nil
}

func (t *rtxn) Put(cf engine.CFHandle, key, value []byte) error {
	h, err := t.d.resolve(cf)
	if err != nil {
		return err
	}
	var errp uintptr
	t.L.txnPutCF(t.ptr, h.ptr, key, uintptr(len(key)), value, uintptr(len(value)), &errp)
	if st := t.L.errStatus(errp); st != nil {
		return st
	}
	return nil
}

func (t *rtxn) Delete(cf engine.CFHandle, key []byte) error {
	h, err := t.d.resolve(cf)
	if err != nil {
		return err
	}
	var errp uintptr
	t.L.txnDeleteCF(t.ptr, h.ptr, key, uintptr(len(key)), &errp)
	if st := t.L.errStatus(errp); st != nil {
		return st
	}
	return nil
}

func (t *rtxn) Merge(cf engine.CFHandle, key, operand []byte) error {
	h, err := t.d.resolve(cf)
	if err != nil {
		return err
	}
	var errp uintptr
	switch {
	case t.L.hasTxnMergeCF:
		t.L.txnMergeCF(t.ptr, h.ptr, key, uintptr(len(key)), operand, uintptr(len(operand)), &errp)
	case h == t.d.defaultCF():
		t.L.txnMerge(t.ptr, key, uintptr(len(key)), operand, uintptr(len(operand)), &errp)
	default:
		return engine.Statusf(engine.CodeNotSupported, "rocksdb library does not export rocksdb_transaction_merge_cf")
	}
	if st := t.L.errStatus(errp); st != nil {
		return st
	}
	return nil
}

func (t *rtxn) NewIterator(cf engine.CFHandle, ro *engine.ReadOptions) (engine.Iterator, error) {
	h, err := t.d.resolve(cf)
	if err != nil {
		return nil, err
	}
	rop, err := t.L.buildReadOptions(ro)
	if err != nil {
		return nil, err
	}
	it := t.L.txnCreateIteratorCF(t.ptr, rop, h.ptr)
	return &iterator{L: t.L, it: it, ro: rop}, nil
}

// Commit applies the transaction. On failure the native transaction is
// still live: the caller decides between retry-able rollback and release.
func (t *rtxn) Commit() error {
	if t.done {
		return engine.Statusf(engine.CodeInvalidArgument, "transaction has ended")
	}
	var errp uintptr
	t.L.txnCommit(t.ptr, &errp)
	if st := t.L.errStatus(errp); st != nil {
		return st
	}
	t.finish()
	return nil
}

func (t *rtxn) Rollback() error {
	if t.done {
		return nil
	}
	var errp uintptr
	t.L.txnRollback(t.ptr, &errp)
	st := t.L.errStatus(errp)
	t.finish()
	if st != nil {
		return st
	}
	return nil
}

func (t *rtxn) SetSavepoint() {
	t.L.txnSetSavepoint(t.ptr)
}

func (t *rtxn) RollbackToSavepoint() error {
	var errp uintptr
	t.L.txnRollbackToSavepoint(t.ptr, &errp)
	if st := t.L.errStatus(errp); st != nil {
		return st
	}
	return nil
}

func (t *rtxn) Snapshot() engine.Snapshot {
	if !t.wantSnapshot || t.done {
		return nil
	}
	if t.snap == nil {
		p := t.L.txnGetSnapshot(t.ptr)
		if p == 0 {
			return nil
		}
		t.snap = &snapshot{ptr: p, seq: t.d.snapSeq(p)}
	}
	return t.snap
}

func (t *rtxn) finish() {
	if t.done {
		return
	}
	t.done = true
	if t.snap != nil {
		// The snapshot wrapper is malloc'd by the C API; the snapshot
		// itself belongs to the transaction.
		t.L.free(t.snap.ptr)
		t.snap.ptr = 0
		t.snap = nil
	}
	t.L.txnDestroy(t.ptr)
	t.ptr = 0
}
