package pebbleng

// store.go implements the engine.DB contract on a single pebble store.
// Column families share the keyspace through fixed-width prefixes. The
// commit clock, the recent-write index and the lock table sit above pebble
// and give transactions their conflict semantics.

import (
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/aalhour/rockbridge/internal/batchrep"
	"github.com/aalhour/rockbridge/internal/engine"
	"github.com/aalhour/rockbridge/internal/logging"
)

type store struct {
	pdb         *pebble.DB
	logger      logging.Logger
	mop         engine.MergeOperator
	pessimistic bool

	mu        sync.RWMutex
	closed    bool
	cfsByID   map[uint32]*cfHandle
	cfsByName map[string]*cfHandle
	nextCFID  uint32

	// commitMu serializes committed writes so the commit clock, the
	// conflict index and the pebble apply advance together.
	commitMu   sync.Mutex
	commitSeq  atomic.Uint64
	activeTxns atomic.Int64
	recent     recentWrites
	locks      *lockTable
	txnIDs     atomic.Uint64
}

type cfHandle struct {
	id      uint32
	name    string
	dropped atomic.Bool
}

func (h *cfHandle) ID() uint32   { return h.id }
func (h *cfHandle) Name() string { return h.name }

func newStore(pdb *pebble.DB, cfg *engine.Config, logger logging.Logger) *store {
	s := &store{
		pdb:         pdb,
		logger:      logger,
		mop:         cfg.MergeOperator,
		pessimistic: cfg.Pessimistic,
		cfsByID:     make(map[uint32]*cfHandle),
		cfsByName:   make(map[string]*cfHandle),
	}
	s.recent.seqs = make(map[string]uint64)
	if cfg.Pessimistic {
		s.locks = newLockTable()
	}
	return s
}

func (s *store) addCF(id uint32, name string) {
	h := &cfHandle{id: id, name: name}
	s.cfsByID[id] = h
	s.cfsByName[name] = h
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.pdb.Close(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *store) DefaultColumnFamily() engine.CFHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfsByName[defaultCFName]
}

func (s *store) ColumnFamilies() []engine.CFHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs := make([]*cfHandle, 0, len(s.cfsByID))
	for _, h := range s.cfsByID {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].id < hs[j].id })
	out := make([]engine.CFHandle, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}

func (s *store) CreateColumnFamily(cfg *engine.CFConfig) (engine.CFHandle, error) {
	if cfg == nil || cfg.Name == "" {
		return nil, engine.Statusf(engine.CodeInvalidArgument, "column family name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cfsByName[cfg.Name]; ok {
		return nil, engine.Statusf(engine.CodeInvalidArgument, "Column family already exists")
	}
	id := s.nextCFID
	if id >= maxCFID {
		return nil, engine.Statusf(engine.CodeInvalidArgument, "too many column families")
	}
	if err := persistCFMeta(s.pdb, cfg.Name, id, id+1); err != nil {
		return nil, err
	}
	s.nextCFID = id + 1
	s.addCF(id, cfg.Name)
	s.logger.Debugf("[pebble] created column family %q (id %d)", cfg.Name, id)
	return s.cfsByID[id], nil
}

func (s *store) DropColumnFamily(cf engine.CFHandle) error {
	h, err := s.resolve(cf)
	if err != nil {
		return err
	}
	if h.id == defaultCFID {
		return engine.Statusf(engine.CodeInvalidArgument, "cannot drop the default column family")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfsByID[h.id] != h {
		return engine.Statusf(engine.CodeInvalidArgument, "unknown column family %s", h.name)
	}
	b := s.pdb.NewBatch()
	defer b.Close()
	_ = b.DeleteRange(cfLower(h.id), cfUpper(h.id), nil)
	_ = b.Delete(metaCFKey(h.name), nil)
	if err := s.pdb.Apply(b, pebble.Sync); err != nil {
		return classify(err)
	}
	h.dropped.Store(true)
	delete(s.cfsByID, h.id)
	delete(s.cfsByName, h.name)
	s.logger.Debugf("[pebble] dropped column family %q (id %d)", h.name, h.id)
	return nil
}

// resolve maps a public handle onto ours. A nil handle addresses the
// default column family.
func (s *store) resolve(cf engine.CFHandle) (*cfHandle, error) {
	if cf == nil {
		s.mu.RLock()
		h := s.cfsByName[defaultCFName]
		s.mu.RUnlock()
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

// pebbleReader is the read surface shared by the live store and its
// snapshots.
type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func (s *store) readerFor(ro *engine.ReadOptions) (pebbleReader, error) {
	if ro != nil && ro.Snapshot != nil {
		sn, ok := ro.Snapshot.(*snapshot)
		if !ok {
			return nil, engine.Statusf(engine.CodeInvalidArgument, "snapshot belongs to another engine")
		}
		return sn.ps, nil
	}
	return s.pdb, nil
}

func (s *store) Get(cf engine.CFHandle, ro *engine.ReadOptions, key []byte) ([]byte, error) {
	h, err := s.resolve(cf)
	if err != nil {
		return nil, err
	}
	r, err := s.readerFor(ro)
	if err != nil {
		return nil, err
	}
	return getStored(r, cfKey(h.id, key))
}

func getStored(r pebbleReader, stored []byte) ([]byte, error) {
	v, closer, err := r.Get(stored)
	if err == pebble.ErrNotFound {
		return nil, engine.NotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

func (s *store) Put(cf engine.CFHandle, wo *engine.WriteOptions, key, value []byte) error {
	h, err := s.resolve(cf)
	if err != nil {
		return err
	}
	stored := cfKey(h.id, key)
	b := s.pdb.NewBatch()
	defer b.Close()
	_ = b.Set(stored, value, nil)
	return s.applyDirect(wo, b, [][]byte{stored})
}

func (s *store) Delete(cf engine.CFHandle, wo *engine.WriteOptions, key []byte) error {
	h, err := s.resolve(cf)
	if err != nil {
		return err
	}
	stored := cfKey(h.id, key)
	b := s.pdb.NewBatch()
	defer b.Close()
	_ = b.Delete(stored, nil)
	return s.applyDirect(wo, b, [][]byte{stored})
}

func (s *store) Merge(cf engine.CFHandle, wo *engine.WriteOptions, key, operand []byte) error {
	if s.mop == nil {
		return engine.Statusf(engine.CodeInvalidArgument, "merge_operator is not properly initialized.")
	}
	h, err := s.resolve(cf)
	if err != nil {
		return err
	}
	stored := cfKey(h.id, key)
	b := s.pdb.NewBatch()
	defer b.Close()
	_ = b.Merge(stored, operand, nil)
	return s.applyDirect(wo, b, [][]byte{stored})
}

func (s *store) Write(wo *engine.WriteOptions, rep []byte) error {
	b := s.pdb.NewBatch()
	defer b.Close()
	a := &repApplier{s: s, b: b}
	if err := batchrep.Iterate(rep, a); err != nil {
		var st *engine.Status
		if errors.As(err, &st) {
			return st
		}
		return engine.Statusf(engine.CodeCorruption, "malformed write batch: %v", err)
	}
	return s.applyDirect(wo, b, a.keys)
}

// repApplier rebuilds a wire-format batch as a pebble batch and remembers
// the point keys it touches for conflict accounting.
type repApplier struct {
	s    *store
	b    *pebble.Batch
	keys [][]byte
}

func (a *repApplier) check(cfID uint32) error {
	a.s.mu.RLock()
	_, ok := a.s.cfsByID[cfID]
	a.s.mu.RUnlock()
	if !ok {
		return engine.Statusf(engine.CodeInvalidArgument, "Invalid column family specified in write batch")
	}
	return nil
}

func (a *repApplier) Put(cfID uint32, key, value []byte) error {
	if err := a.check(cfID); err != nil {
		return err
	}
	k := cfKey(cfID, key)
	a.keys = append(a.keys, k)
	return a.b.Set(k, value, nil)
}

func (a *repApplier) Delete(cfID uint32, key []byte) error {
	if err := a.check(cfID); err != nil {
		return err
	}
	k := cfKey(cfID, key)
	a.keys = append(a.keys, k)
	return a.b.Delete(k, nil)
}

func (a *repApplier) SingleDelete(cfID uint32, key []byte) error {
	if err := a.check(cfID); err != nil {
		return err
	}
	k := cfKey(cfID, key)
	a.keys = append(a.keys, k)
	return a.b.SingleDelete(k, nil)
}

func (a *repApplier) Merge(cfID uint32, key, operand []byte) error {
	if a.s.mop == nil {
		return engine.Statusf(engine.CodeInvalidArgument, "merge_operator is not properly initialized.")
	}
	if err := a.check(cfID); err != nil {
		return err
	}
	k := cfKey(cfID, key)
	a.keys = append(a.keys, k)
	return a.b.Merge(k, operand, nil)
}

func (a *repApplier) DeleteRange(cfID uint32, start, end []byte) error {
	if err := a.check(cfID); err != nil {
		return err
	}
	// Range tombstones are not indexed for conflicts; validation is
	// point-based, as in the native engine's optimistic path.
	return a.b.DeleteRange(cfKey(cfID, start), cfKey(cfID, end), nil)
}

// applyDirect commits a non-transactional batch. Under pessimistic
// locking it takes the row locks first, the way the native engine wraps
// plain writes in an implicit transaction.
func (s *store) applyDirect(wo *engine.WriteOptions, b *pebble.Batch, keys [][]byte) error {
	if s.locks != nil && len(keys) > 0 {
		owner := s.txnIDs.Add(1)
		if err := s.locks.LockAll(owner, keys, 0); err != nil {
			s.locks.UnlockAll(owner)
			return err
		}
		defer s.locks.UnlockAll(owner)
	}
	return s.commitBatch(wo, b, keys)
}

// commitBatch applies b under the commit clock and records the written
// keys while transactions are running.
func (s *store) commitBatch(wo *engine.WriteOptions, b *pebble.Batch, keys [][]byte) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if err := s.pdb.Apply(b, writeOpt(wo)); err != nil {
		return classify(err)
	}
	seq := s.commitSeq.Add(1)
	if s.activeTxns.Load() > 0 {
		s.recent.note(keys, seq)
	}
	return nil
}

type snapshot struct {
	ps  *pebble.Snapshot
	seq uint64
}

func (sn *snapshot) Seq() uint64 { return sn.seq }

func (s *store) NewSnapshot() (engine.Snapshot, error) {
	// Pair the pebble snapshot with the commit clock; commits are shut
	// out so the two cannot drift.
	s.commitMu.Lock()
	ps := s.pdb.NewSnapshot()
	seq := s.commitSeq.Load()
	s.commitMu.Unlock()
	return &snapshot{ps: ps, seq: seq}, nil
}

func (s *store) ReleaseSnapshot(es engine.Snapshot) {
	if sn, ok := es.(*snapshot); ok {
		_ = sn.ps.Close()
	}
}

func (s *store) NewIterator(cf engine.CFHandle, ro *engine.ReadOptions) (engine.Iterator, error) {
	h, err := s.resolve(cf)
	if err != nil {
		return nil, err
	}
	r, err := s.readerFor(ro)
	if err != nil {
		return nil, err
	}
	return newCFIterator(r, h.id, ro)
}

func (s *store) Flush(cf engine.CFHandle, wait bool) error {
	if _, err := s.resolve(cf); err != nil {
		return err
	}
	if wait {
		if err := s.pdb.Flush(); err != nil {
			return classify(err)
		}
		return nil
	}
	if _, err := s.pdb.AsyncFlush(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *store) CompactRange(cf engine.CFHandle, start, end []byte) error {
	h, err := s.resolve(cf)
	if err != nil {
		return err
	}
	lower := cfLower(h.id)
	if len(start) > 0 {
		lower = cfKey(h.id, start)
	}
	upper := cfUpper(h.id)
	if len(end) > 0 {
		upper = cfKey(h.id, end)
	}
	if err := s.pdb.Compact(lower, upper, true); err != nil {
		return classify(err)
	}
	return nil
}

func (s *store) Checkpoint(dir string) error {
	if err := s.pdb.Checkpoint(dir); err != nil {
		return classify(err)
	}
	return nil
}

// txnFinished retires one transaction and drops the conflict index once
// no transaction could still validate against it.
func (s *store) txnFinished() {
	if s.activeTxns.Add(-1) == 0 {
		s.recent.reset()
	}
}

func writeOpt(wo *engine.WriteOptions) *pebble.WriteOptions {
	// DisableWAL has no per-write form here; skipping the sync is the
	// closest economy.
	if wo != nil && wo.Sync && !wo.DisableWAL {
		return pebble.Sync
	}
	return pebble.NoSync
}

// recentWrites indexes the commit sequence of recently written keys while
// transactions are active. Optimistic commits validate their read and
// write sets against it.
type recentWrites struct {
	mu   sync.Mutex
	seqs map[string]uint64
}

func (r *recentWrites) note(keys [][]byte, seq uint64) {
	r.mu.Lock()
	for _, k := range keys {
		r.seqs[string(k)] = seq
	}
	r.mu.Unlock()
}

func (r *recentWrites) newerThan(key []byte, seq uint64) bool {
	r.mu.Lock()
	s, ok := r.seqs[string(key)]
	r.mu.Unlock()
	return ok && s > seq
}

func (r *recentWrites) reset() {
	r.mu.Lock()
	r.seqs = make(map[string]uint64)
	r.mu.Unlock()
}
