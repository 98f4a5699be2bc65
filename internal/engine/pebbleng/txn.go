package pebbleng

// txn.go implements transactions as a write overlay above the store. Reads
// resolve through the overlay first, then the transaction's snapshot or the
// live store. Optimistic transactions validate their tracked keys against
// the recent-write index at commit; pessimistic ones take row locks as they
// touch keys. The binding layer serializes calls on one transaction, so the
// overlay itself carries no lock.

import (
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/aalhour/rockbridge/internal/engine"
)

type txn struct {
	s              *store
	id             uint64
	pessimistic    bool
	lockTimeout    time.Duration
	deadlockDetect bool

	snap *snapshot // fixed read view, nil without SetSnapshot

	writes  map[string]*writeEntry // stored key -> pending effect
	tracked map[string]uint64      // stored key -> commit clock floor
	saves   []*txnSavepoint

	done bool
}

// writeEntry is the pending effect on one key. A put sets the base and
// clears operands, a delete marks a tombstone, merges stack operands on
// whatever is below them.
type writeEntry struct {
	deleted bool
	hasBase bool
	base    []byte
	ops     [][]byte
}

type txnSavepoint struct {
	writes  map[string]*writeEntry
	tracked map[string]uint64
}

func (s *store) BeginTxn(cfg *engine.TxnConfig) (engine.Txn, error) {
	if cfg == nil {
		cfg = &engine.TxnConfig{}
	}
	t := &txn{
		s:              s,
		id:             s.txnIDs.Add(1),
		pessimistic:    s.pessimistic,
		lockTimeout:    cfg.LockTimeout,
		deadlockDetect: cfg.DeadlockDetect,
		writes:         make(map[string]*writeEntry),
		tracked:        make(map[string]uint64),
	}
	// Register before fixing the read view so concurrent committers
	// cannot slip between the two unrecorded.
	s.activeTxns.Add(1)
	if cfg.SetSnapshot {
		sn, err := s.NewSnapshot()
		if err != nil {
			s.txnFinished()
			return nil, err
		}
		t.snap = sn.(*snapshot)
	}
	return t, nil
}

func (t *txn) readerFor(ro *engine.ReadOptions) (pebbleReader, error) {
	if ro != nil && ro.Snapshot != nil {
		return t.s.readerFor(ro)
	}
	if t.snap != nil {
		return t.snap.ps, nil
	}
	return t.s.pdb, nil
}

func (t *txn) Get(cf engine.CFHandle, ro *engine.ReadOptions, key []byte) ([]byte, error) {
	h, err := t.s.resolve(cf)
	if err != nil {
		return nil, err
	}
	stored := cfKey(h.id, key)
	if e, ok := t.writes[string(stored)]; ok {
		return t.resolveEntry(ro, stored, key, e)
	}
	r, err := t.readerFor(ro)
	if err != nil {
		return nil, err
	}
	return getStored(r, stored)
}

func (t *txn) GetForUpdate(cf engine.CFHandle, ro *engine.ReadOptions, key []byte, exclusive bool) ([]byte, error) {
	h, err := t.s.resolve(cf)
	if err != nil {
		return nil, err
	}
	stored := cfKey(h.id, key)
	if err := t.lockKey(stored, exclusive); err != nil {
		return nil, err
	}
	if e, ok := t.writes[string(stored)]; ok {
		return t.resolveEntry(ro, stored, key, e)
	}
	r, err := t.readerFor(ro)
	if err != nil {
		return nil, err
	}
	return getStored(r, stored)
}

// resolveEntry reads a key through its pending effect.
func (t *txn) resolveEntry(ro *engine.ReadOptions, stored, key []byte, e *writeEntry) ([]byte, error) {
	if len(e.ops) == 0 {
		if e.deleted {
			return nil, engine.NotFound
		}
		return append([]byte(nil), e.base...), nil
	}
	var existing []byte
	switch {
	case e.deleted:
	case e.hasBase:
		existing = e.base
	default:
		r, err := t.readerFor(ro)
		if err != nil {
			return nil, err
		}
		v, err := getStored(r, stored)
		if err != nil && err != engine.NotFound {
			return nil, err
		}
		existing = v
	}
	if t.s.mop == nil {
		return nil, engine.Statusf(engine.CodeInvalidArgument, "merge_operator is not properly initialized.")
	}
	out, ok := t.s.mop.FullMerge(key, existing, e.ops)
	if !ok {
		return nil, engine.Statusf(engine.CodeCorruption, "merge operands for key could not be combined")
	}
	return out, nil
}

// lockKey claims a key before an access that must win conflicts: a row lock
// under pessimistic locking, a tracked floor otherwise.
func (t *txn) lockKey(stored []byte, exclusive bool) error {
	if t.pessimistic {
		if err := t.s.locks.Lock(t.id, stored, exclusive, t.lockTimeout, t.deadlockDetect); err != nil {
			return err
		}
		if t.snap != nil && t.s.recent.newerThan(stored, t.snap.seq) {
			return engine.Statusf(engine.CodeBusy, "key was written after the transaction snapshot")
		}
		return nil
	}
	k := string(stored)
	if _, ok := t.tracked[k]; ok {
		return nil
	}
	if t.snap != nil {
		t.tracked[k] = t.snap.seq
	} else {
		t.tracked[k] = t.s.commitSeq.Load()
	}
	return nil
}

func (t *txn) entry(stored []byte) *writeEntry {
	k := string(stored)
	e, ok := t.writes[k]
	if !ok {
		e = &writeEntry{}
		t.writes[k] = e
	}
	return e
}

func (t *txn) Put(cf engine.CFHandle, key, value []byte) error {
	h, err := t.s.resolve(cf)
	if err != nil {
		return err
	}
	stored := cfKey(h.id, key)
	if err := t.lockKey(stored, true); err != nil {
		return err
	}
	e := t.entry(stored)
	e.deleted = false
	e.hasBase = true
	e.base = append([]byte(nil), value...)
	e.ops = nil
	return nil
}

func (t *txn) Delete(cf engine.CFHandle, key []byte) error {
	h, err := t.s.resolve(cf)
	if err != nil {
		return err
	}
	stored := cfKey(h.id, key)
	if err := t.lockKey(stored, true); err != nil {
		return err
	}
	e := t.entry(stored)
	e.deleted = true
	e.hasBase = false
	e.base = nil
	e.ops = nil
	return nil
}

func (t *txn) Merge(cf engine.CFHandle, key, operand []byte) error {
	if t.s.mop == nil {
		return engine.Statusf(engine.CodeInvalidArgument, "merge_operator is not properly initialized.")
	}
	h, err := t.s.resolve(cf)
	if err != nil {
		return err
	}
	stored := cfKey(h.id, key)
	if err := t.lockKey(stored, true); err != nil {
		return err
	}
	e := t.entry(stored)
	e.ops = append(e.ops, append([]byte(nil), operand...))
	return nil
}

func (t *txn) NewIterator(cf engine.CFHandle, ro *engine.ReadOptions) (engine.Iterator, error) {
	h, err := t.s.resolve(cf)
	if err != nil {
		return nil, err
	}
	r, err := t.readerFor(ro)
	if err != nil {
		return nil, err
	}
	return newTxnIterator(t, r, h.id, ro)
}

func (t *txn) SetSavepoint() {
	t.saves = append(t.saves, &txnSavepoint{
		writes:  copyWrites(t.writes),
		tracked: copyTracked(t.tracked),
	})
}

func (t *txn) RollbackToSavepoint() error {
	if len(t.saves) == 0 {
		return engine.Statusf(engine.CodeNotFound, "no savepoint")
	}
	sp := t.saves[len(t.saves)-1]
	t.saves = t.saves[:len(t.saves)-1]
	t.writes = sp.writes
	t.tracked = sp.tracked
	return nil
}

func (t *txn) Snapshot() engine.Snapshot {
	if t.snap == nil {
		return nil
	}
	return t.snap
}

func (t *txn) Commit() error {
	if t.done {
		return engine.Statusf(engine.CodeInvalidArgument, "transaction has ended")
	}

	b := t.s.pdb.NewBatch()
	defer b.Close()
	stored := make([]string, 0, len(t.writes))
	for k := range t.writes {
		stored = append(stored, k)
	}
	sort.Strings(stored)
	keys := make([][]byte, 0, len(stored))
	for _, k := range stored {
		e := t.writes[k]
		sk := []byte(k)
		keys = append(keys, sk)
		switch {
		case e.deleted:
			_ = b.Delete(sk, nil)
		case e.hasBase:
			_ = b.Set(sk, e.base, nil)
		}
		for _, op := range e.ops {
			_ = b.Merge(sk, op, nil)
		}
	}

	s := t.s
	s.commitMu.Lock()
	if !t.pessimistic {
		for k, floor := range t.tracked {
			if s.recent.newerThan([]byte(k), floor) {
				s.commitMu.Unlock()
				return engine.Statusf(engine.CodeBusy, "write conflict on key")
			}
		}
	}
	if len(stored) > 0 {
		if err := s.pdb.Apply(b, pebble.NoSync); err != nil {
			s.commitMu.Unlock()
			return classify(err)
		}
		seq := s.commitSeq.Add(1)
		if s.activeTxns.Load() > 1 {
			s.recent.note(keys, seq)
		}
	}
	s.commitMu.Unlock()

	t.finish()
	return nil
}

func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *txn) finish() {
	if t.done {
		return
	}
	t.done = true
	t.writes = nil
	t.tracked = nil
	t.saves = nil
	if t.pessimistic {
		t.s.locks.UnlockAll(t.id)
	}
	if t.snap != nil {
		_ = t.snap.ps.Close()
	}
	t.s.txnFinished()
}

func copyWrites(src map[string]*writeEntry) map[string]*writeEntry {
	dst := make(map[string]*writeEntry, len(src))
	for k, e := range src {
		c := *e
		c.ops = append([][]byte(nil), e.ops...)
		dst[k] = &c
	}
	return dst
}

func copyTracked(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
