package rockbridge

// snapshot.go implements point-in-time read views.
//
// A Snapshot pins the database state at creation time. Reads that carry the
// snapshot in their ReadOptions see exactly that state regardless of later
// writes. Snapshots hold engine resources until released; the owning DB
// refuses to close while any remain.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/c.h (rocksdb_create_snapshot, rocksdb_release_snapshot)
//   - db/snapshot_impl.h

import "github.com/aalhour/rockbridge/internal/engine"

// Snapshot is a consistent read view of a DB at a fixed point in time.
//
// A Snapshot must be released exactly once with Release (extra calls are
// no-ops). Using a released snapshot in ReadOptions fails with
// ErrSnapshotReleased.
type Snapshot struct {
	db   *DB
	es   engine.Snapshot
	flag releaseFlag

	// owned marks snapshots created by GetSnapshot, which hold engine
	// resources of their own. Snapshots handed out by a transaction are
	// views into the transaction and release nothing.
	owned bool
}

// GetSnapshot creates a snapshot of the current database state.
func (db *DB) GetSnapshot() (*Snapshot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDBClosed
	}

	es, err := db.eng.NewSnapshot()
	if err != nil {
		return nil, translate(err)
	}

	db.children.snapshots.Add(1)
	return &Snapshot{db: db, es: es, owned: true}, nil
}

// ReleaseSnapshot releases a snapshot created by this DB. It is equivalent
// to s.Release and exists for symmetry with GetSnapshot.
func (db *DB) ReleaseSnapshot(s *Snapshot) error {
	if s == nil {
		return nil
	}
	if s.db != db {
		return &Error{Kind: KindInvalidArgument, Message: "rockbridge: snapshot belongs to a different database"}
	}
	return s.Release()
}

// Release frees the engine resources behind the snapshot. Only the first
// call releases; later calls return nil. Releasing a snapshot owned by a
// transaction only marks the handle unusable; the transaction frees it.
func (s *Snapshot) Release() error {
	if !s.flag.release() {
		return nil
	}
	if !s.owned {
		return nil
	}

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	if !s.db.closed {
		s.db.eng.ReleaseSnapshot(s.es)
	}
	s.db.children.snapshots.Add(-1)
	return nil
}

// engineSnapshot returns the engine-level snapshot, or ErrSnapshotReleased
// once Release has run.
func (s *Snapshot) engineSnapshot() (engine.Snapshot, error) {
	if s.flag.isReleased() {
		return nil, ErrSnapshotReleased
	}
	return s.es, nil
}
