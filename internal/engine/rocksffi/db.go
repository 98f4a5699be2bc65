//go:build darwin || linux || freebsd

package rocksffi

// db.go implements the DB contract over an open native handle. All writes
// go through native write batches so both wrapper kinds share one path:
// the TransactionDB takes its locks inside rocksdb_transactiondb_write,
// the optimistic wrapper writes through its base handle.
//
// Maintenance operations need a plain rocksdb_t*. The optimistic wrapper
// always exposes one; the TransactionDB only does on libraries that export
// the base-db accessors, so maintenance degrades to NotSupported on older
// builds unless a dedicated transactiondb_* symbol was probed.

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockbridge/internal/batchrep"
	"github.com/aalhour/rockbridge/internal/engine"
	"github.com/aalhour/rockbridge/internal/logging"
)

var _ engine.DB = (*rdb)(nil)

type rdb struct {
	L      *lib
	logger logging.Logger
	path   string

	pessimistic bool
	tdb         uintptr // rocksdb_transactiondb_t when pessimistic
	odb         uintptr // rocksdb_optimistictransactiondb_t otherwise
	base        uintptr // plain rocksdb_t view, 0 when unavailable

	mu     sync.RWMutex
	closed bool
	cfs    []*cfHandle // creation order; holds dropped entries until Close
	byName map[string]*cfHandle
	byID   map[uint32]*cfHandle
	nextID uint32
}

type cfHandle struct {
	ptr     uintptr
	id      uint32
	name    string
	dropped atomic.Bool
}

func (h *cfHandle) ID() uint32   { return h.id }
func (h *cfHandle) Name() string { return h.name }

func (d *rdb) addCF(h *cfHandle) {
	d.cfs = append(d.cfs, h)
	d.byName[h.name] = h
	d.byID[h.id] = h
	if h.id >= d.nextID {
		d.nextID = h.id + 1
	}
}

// resolve maps a caller handle onto ours. A nil handle means the default
// column family.
func (d *rdb) resolve(cf engine.CFHandle) (*cfHandle, error) {
	if cf == nil {
		d.mu.RLock()
		h := d.cfs[0]
		d.mu.RUnlock()
		return h, nil
	}
	h, ok := cf.(*cfHandle)
	if !ok {
		return nil, engine.Statusf(engine.CodeInvalidArgument, "column family handle belongs to another engine")
	}
	if h.dropped.Load() {
		return nil, engine.Statusf(engine.CodeColumnFamilyDropped, "%s", h.name)
	}
	return h, nil
}

func (d *rdb) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, h := range d.cfs {
		d.L.cfHandleDestroy(h.ptr)
	}
	if d.pessimistic {
		if d.base != 0 {
			d.L.tdbCloseBaseDB(d.base)
		}
		d.L.tdbClose(d.tdb)
	} else {
		d.L.odbCloseBaseDB(d.base)
		d.L.odbClose(d.odb)
	}
	d.logger.Debugf(logging.NSFFI+"closed %s", d.path)
	return nil
}

func (d *rdb) defaultCF() *cfHandle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfs[0]
}

func (d *rdb) DefaultColumnFamily() engine.CFHandle {
	return d.defaultCF()
}

func (d *rdb) ColumnFamilies() []engine.CFHandle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]engine.CFHandle, 0, len(d.cfs))
	for _, h := range d.cfs {
		if !h.dropped.Load() {
			out = append(out, h)
		}
	}
	return out
}

func (d *rdb) CreateColumnFamily(cfg *engine.CFConfig) (engine.CFHandle, error) {
	if cfg == nil || cfg.Name == "" {
		return nil, engine.Statusf(engine.CodeInvalidArgument, "column family name is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byName[cfg.Name]; ok {
		return nil, engine.Statusf(engine.CodeInvalidArgument, "Column family already exists")
	}

	o := d.L.optionsCreate()
	defer d.L.optionsDestroy(o)
	d.L.optionsSetCompression(o, int32(cfg.Compression))
	if cfg.WriteBufferSize > 0 {
		d.L.optionsSetWriteBufferSize(o, uintptr(cfg.WriteBufferSize))
	}

	var ptr, errp uintptr
	if d.pessimistic {
		ptr = d.L.tdbCreateColumnFamily(d.tdb, o, cfg.Name, &errp)
	} else {
		ptr = d.L.createColumnFamily(d.base, o, cfg.Name, &errp)
	}
	if st := d.L.errStatus(errp); st != nil {
		return nil, st
	}

	id := d.nextID
	if d.L.hasCFHandleID {
		id = d.L.cfHandleID(ptr)
	}
	h := &cfHandle{ptr: ptr, id: id, name: cfg.Name}
	d.addCF(h)
	d.logger.Debugf(logging.NSFFI+"created column family %q (id %d)", h.name, h.id)
	return h, nil
}

func (d *rdb) DropColumnFamily(cf engine.CFHandle) error {
	h, err := d.resolve(cf)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == d.cfs[0] {
		return engine.Statusf(engine.CodeInvalidArgument, "cannot drop the default column family")
	}
	if d.byName[h.name] != h {
		return engine.Statusf(engine.CodeInvalidArgument, "unknown column family %s", h.name)
	}

	var errp uintptr
	switch {
	case d.pessimistic && d.L.hasTdbDropCF:
		d.L.tdbDropColumnFamily(d.tdb, h.ptr, &errp)
	case d.pessimistic && d.base != 0:
		d.L.dropColumnFamily(d.base, h.ptr, &errp)
	case d.pessimistic:
		return engine.Statusf(engine.CodeNotSupported, "rocksdb library does not export rocksdb_transactiondb_drop_column_family")
	default:
		d.L.dropColumnFamily(d.base, h.ptr, &errp)
	}
	if st := d.L.errStatus(errp); st != nil {
		return st
	}

	// The native handle stays destroyable until Close; only the lookup
	// tables forget the family.
	h.dropped.Store(true)
	delete(d.byName, h.name)
	delete(d.byID, h.id)
	d.logger.Debugf(logging.NSFFI+"dropped column family %q (id %d)", h.name, h.id)
	return nil
}

func (d *rdb) Get(cf engine.CFHandle, ro *engine.ReadOptions, key []byte) ([]byte, error) {
	h, err := d.resolve(cf)
	if err != nil {
		return nil, err
	}
	rop, err := d.L.buildReadOptions(ro)
	if err != nil {
		return nil, err
	}
	defer d.L.readoptionsDestroy(rop)

	var vlen, errp uintptr
	var val uintptr
	if d.pessimistic {
		val = d.L.tdbGetCF(d.tdb, rop, h.ptr, key, uintptr(len(key)), &vlen, &errp)
	} else {
		val = d.L.getCF(d.base, rop, h.ptr, key, uintptr(len(key)), &vlen, &errp)
	}
	if st := d.L.errStatus(errp); st != nil {
		return nil, st
	}
	if val == 0 {
		return nil, engine.NotFound
	}
	return d.L.copyAndFree(val, vlen), nil
}

func (d *rdb) Put(cf engine.CFHandle, wo *engine.WriteOptions, key, value []byte) error {
	h, err := d.resolve(cf)
	if err != nil {
		return err
	}
	wb := d.L.writebatchCreate()
	defer d.L.writebatchDestroy(wb)
	d.L.writebatchPutCF(wb, h.ptr, key, uintptr(len(key)), value, uintptr(len(value)))
	return d.applyBatch(wo, wb)
}

func (d *rdb) Delete(cf engine.CFHandle, wo *engine.WriteOptions, key []byte) error {
	h, err := d.resolve(cf)
	if err != nil {
		return err
	}
	wb := d.L.writebatchCreate()
	defer d.L.writebatchDestroy(wb)
	d.L.writebatchDeleteCF(wb, h.ptr, key, uintptr(len(key)))
	return d.applyBatch(wo, wb)
}

func (d *rdb) Merge(cf engine.CFHandle, wo *engine.WriteOptions, key, operand []byte) error {
	h, err := d.resolve(cf)
	if err != nil {
		return err
	}
	wb := d.L.writebatchCreate()
	defer d.L.writebatchDestroy(wb)
	d.L.writebatchMergeCF(wb, h.ptr, key, uintptr(len(key)), operand, uintptr(len(operand)))
	return d.applyBatch(wo, wb)
}

// Write rebuilds the wire-format batch as a native write batch, translating
// column family ids into handles, then applies it atomically.
func (d *rdb) Write(wo *engine.WriteOptions, rep []byte) error {
	wb := d.L.writebatchCreate()
	defer d.L.writebatchDestroy(wb)

	if err := batchrep.Iterate(rep, &repRebuilder{d: d, wb: wb}); err != nil {
		var st *engine.Status
		if errors.As(err, &st) {
			return st
		}
		return engine.Statusf(engine.CodeCorruption, "malformed write batch: %v", err)
	}
	return d.applyBatch(wo, wb)
}

func (d *rdb) applyBatch(wo *engine.WriteOptions, wb uintptr) error {
	wop := d.L.buildWriteOptions(wo)
	defer d.L.writeoptionsDestroy(wop)
	var errp uintptr
	if d.pessimistic {
		d.L.tdbWrite(d.tdb, wop, wb, &errp)
	} else {
		d.L.write(d.base, wop, wb, &errp)
	}
	if st := d.L.errStatus(errp); st != nil {
		return st
	}
	return nil
}

// repRebuilder replays decoded batch records into a native write batch.
type repRebuilder struct {
	d  *rdb
	wb uintptr
}

func (r *repRebuilder) handle(cfID uint32) (uintptr, error) {
	r.d.mu.RLock()
	h, ok := r.d.byID[cfID]
	r.d.mu.RUnlock()
	if !ok || h.dropped.Load() {
		return 0, engine.Statusf(engine.CodeInvalidArgument, "Invalid column family specified in write batch")
	}
	return h.ptr, nil
}

func (r *repRebuilder) Put(cfID uint32, key, value []byte) error {
	h, err := r.handle(cfID)
	if err != nil {
		return err
	}
	r.d.L.writebatchPutCF(r.wb, h, key, uintptr(len(key)), value, uintptr(len(value)))
	return nil
}

func (r *repRebuilder) Delete(cfID uint32, key []byte) error {
	h, err := r.handle(cfID)
	if err != nil {
		return err
	}
	r.d.L.writebatchDeleteCF(r.wb, h, key, uintptr(len(key)))
	return nil
}

func (r *repRebuilder) SingleDelete(cfID uint32, key []byte) error {
	h, err := r.handle(cfID)
	if err != nil {
		return err
	}
	if !r.d.L.hasSingleDelete {
		return engine.Statusf(engine.CodeNotSupported, "rocksdb library does not export rocksdb_writebatch_singledelete_cf")
	}
	r.d.L.writebatchSingleDeleteCF(r.wb, h, key, uintptr(len(key)))
	return nil
}

func (r *repRebuilder) Merge(cfID uint32, key, operand []byte) error {
	h, err := r.handle(cfID)
	if err != nil {
		return err
	}
	r.d.L.writebatchMergeCF(r.wb, h, key, uintptr(len(key)), operand, uintptr(len(operand)))
	return nil
}

func (r *repRebuilder) DeleteRange(cfID uint32, start, end []byte) error {
	h, err := r.handle(cfID)
	if err != nil {
		return err
	}
	r.d.L.writebatchDeleteRangeCF(r.wb, h, start, uintptr(len(start)), end, uintptr(len(end)))
	return nil
}

// snapshot wraps a native snapshot pointer. Snapshots from transactions are
// owned by the transaction; the DB never releases those.
type snapshot struct {
	ptr uintptr
	seq uint64
}

func (s *snapshot) Seq() uint64 { return s.seq }

func (d *rdb) NewSnapshot() (engine.Snapshot, error) {
	var p uintptr
	if d.pessimistic {
		p = d.L.tdbCreateSnapshot(d.tdb)
	} else {
		p = d.L.createSnapshot(d.base)
	}
	return &snapshot{ptr: p, seq: d.snapSeq(p)}, nil
}

func (d *rdb) snapSeq(p uintptr) uint64 {
	if p != 0 && d.L.hasSnapshotSeq {
		return d.L.snapshotSequenceNumber(p)
	}
	return 0
}

func (d *rdb) ReleaseSnapshot(s engine.Snapshot) {
	snap, ok := s.(*snapshot)
	if !ok || snap.ptr == 0 {
		return
	}
	if d.pessimistic {
		d.L.tdbReleaseSnapshot(d.tdb, snap.ptr)
	} else {
		d.L.releaseSnapshot(d.base, snap.ptr)
	}
	snap.ptr = 0
}

func (d *rdb) NewIterator(cf engine.CFHandle, ro *engine.ReadOptions) (engine.Iterator, error) {
	h, err := d.resolve(cf)
	if err != nil {
		return nil, err
	}
	rop, err := d.L.buildReadOptions(ro)
	if err != nil {
		return nil, err
	}
	var it uintptr
	if d.pessimistic {
		it = d.L.tdbCreateIteratorCF(d.tdb, rop, h.ptr)
	} else {
		it = d.L.createIteratorCF(d.base, rop, h.ptr)
	}
	return &iterator{L: d.L, it: it, ro: rop}, nil
}

func (d *rdb) Flush(cf engine.CFHandle, wait bool) error {
	h, err := d.resolve(cf)
	if err != nil {
		return err
	}
	fo := d.L.flushoptionsCreate()
	defer d.L.flushoptionsDestroy(fo)
	d.L.flushoptionsSetWait(fo, wait)

	var errp uintptr
	switch {
	case d.pessimistic && d.L.hasTdbFlushCF:
		d.L.tdbFlushCF(d.tdb, fo, h.ptr, &errp)
	case d.pessimistic && d.base != 0:
		d.L.flushCF(d.base, fo, h.ptr, &errp)
	case d.pessimistic:
		return engine.Statusf(engine.CodeNotSupported, "rocksdb library does not export rocksdb_transactiondb_flush_cf")
	default:
		d.L.flushCF(d.base, fo, h.ptr, &errp)
	}
	if st := d.L.errStatus(errp); st != nil {
		return st
	}
	return nil
}

func (d *rdb) CompactRange(cf engine.CFHandle, start, end []byte) error {
	h, err := d.resolve(cf)
	if err != nil {
		return err
	}
	if d.base == 0 {
		return engine.Statusf(engine.CodeNotSupported, "rocksdb library does not export rocksdb_transactiondb_get_base_db")
	}
	d.L.compactRangeCF(d.base, h.ptr, start, uintptr(len(start)), end, uintptr(len(end)))
	return nil
}

func (d *rdb) Checkpoint(dir string) error {
	var cp, errp uintptr
	switch {
	case d.pessimistic && d.L.hasTdbCheckpoint:
		cp = d.L.tdbCheckpointCreate(d.tdb, &errp)
	case d.pessimistic && d.base != 0:
		cp = d.L.checkpointCreate(d.base, &errp)
	case d.pessimistic:
		return engine.Statusf(engine.CodeNotSupported, "rocksdb library does not export rocksdb_transactiondb_checkpoint_object_create")
	default:
		cp = d.L.checkpointCreate(d.base, &errp)
	}
	if st := d.L.errStatus(errp); st != nil {
		return st
	}
	defer d.L.checkpointDestroy(cp)

	d.L.checkpointBuild(cp, dir, 0, &errp)
	if st := d.L.errStatus(errp); st != nil {
		return st
	}
	return nil
}

func (L *lib) buildReadOptions(ro *engine.ReadOptions) (uintptr, error) {
	p := L.readoptionsCreate()
	if ro == nil {
		return p, nil
	}
	if ro.Snapshot != nil {
		snap, ok := ro.Snapshot.(*snapshot)
		if !ok {
			L.readoptionsDestroy(p)
			return 0, engine.Statusf(engine.CodeInvalidArgument, "snapshot belongs to another engine")
		}
		L.readoptionsSetSnapshot(p, snap.ptr)
	}
	if len(ro.LowerBound) > 0 {
		L.readoptionsSetIterateLowerBound(p, ro.LowerBound, uintptr(len(ro.LowerBound)))
	}
	if len(ro.UpperBound) > 0 {
		L.readoptionsSetIterateUpperBound(p, ro.UpperBound, uintptr(len(ro.UpperBound)))
	}
	if !ro.FillCache {
		L.readoptionsSetFillCache(p, false)
	}
	if ro.TotalOrderSeek {
		L.readoptionsSetTotalOrderSeek(p, true)
	}
	return p, nil
}

func (L *lib) buildWriteOptions(wo *engine.WriteOptions) uintptr {
	p := L.writeoptionsCreate()
	if wo == nil {
		return p
	}
	if wo.Sync {
		L.writeoptionsSetSync(p, true)
	}
	if wo.DisableWAL {
		L.writeoptionsDisableWAL(p, 1)
	}
	return p
}
