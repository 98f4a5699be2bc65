package rockbridge

// column_family.go implements column family handles.
//
// A ColumnFamily names one keyspace partition of an open DB. Handles are
// created at open time or by CreateColumnFamily and stay bound to the DB
// that issued them; passing a handle to another DB is an error, not a silent
// misroute. Dropping a family invalidates its handle for every later call.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/c.h (rocksdb_create_column_family, rocksdb_drop_column_family)
//   - db/column_family.h

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/aalhour/rockbridge/internal/engine"
)

// DefaultColumnFamilyName is the name of the column family every database
// has. It cannot be dropped.
const DefaultColumnFamilyName = "default"

// ErrCannotDropDefaultColumnFamily is returned when dropping the default
// column family is attempted.
var ErrCannotDropDefaultColumnFamily = &Error{
	Kind:    KindInvalidArgument,
	Message: "rockbridge: cannot drop the default column family",
}

// ColumnFamily is a handle to one column family of an open DB.
//
// The zero value is not usable; handles come from Open, OpenColumnFamilies,
// CreateColumnFamily or (*DB).ColumnFamily.
type ColumnFamily struct {
	db      *DB
	handle  engine.CFHandle
	name    string
	dropped atomic.Bool
}

// ID returns the numeric id the engine assigned to the column family.
func (cf *ColumnFamily) ID() uint32 {
	return cf.handle.ID()
}

// Name returns the column family name.
func (cf *ColumnFamily) Name() string {
	return cf.name
}

// IsValid reports whether the handle can still be used: the family has not
// been dropped and the owning DB is open.
func (cf *ColumnFamily) IsValid() bool {
	return !cf.dropped.Load() && !cf.db.isClosed()
}

// resolveCF maps a public handle to the engine handle behind it. A nil cf
// selects the default column family.
func (db *DB) resolveCF(cf *ColumnFamily) (engine.CFHandle, error) {
	if cf == nil {
		return db.defaultCF.handle, nil
	}
	if cf.db != db {
		return nil, ErrInvalidColumnFamily
	}
	if cf.dropped.Load() {
		return nil, &Error{
			Kind:    KindColumnFamilyDropped,
			Message: fmt.Sprintf("rockbridge: column family %q has been dropped", cf.name),
		}
	}
	return cf.handle, nil
}

// CreateColumnFamily creates a new column family and returns its handle.
// A nil opts uses DefaultColumnFamilyOptions.
func (db *DB) CreateColumnFamily(name string, opts *ColumnFamilyOptions) (*ColumnFamily, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrDBClosed
	}
	if name == "" {
		return nil, &Error{Kind: KindInvalidArgument, Message: "rockbridge: empty column family name"}
	}
	if _, exists := db.cfs[name]; exists {
		return nil, &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("rockbridge: column family %q already exists", name),
		}
	}

	cfg := opts.engineCFConfig(name)
	h, err := db.eng.CreateColumnFamily(&cfg)
	if err != nil {
		return nil, translate(err)
	}

	cf := &ColumnFamily{db: db, handle: h, name: name}
	db.cfs[name] = cf
	db.logger.Infof("[db] created column family %q (id %d)", name, h.ID())
	return cf, nil
}

// DropColumnFamily drops the column family and invalidates its handle. Data
// already written to the family becomes unreachable; the space is reclaimed
// by the engine. The default column family cannot be dropped.
func (db *DB) DropColumnFamily(cf *ColumnFamily) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDBClosed
	}
	if cf == nil || cf.db != db {
		return ErrInvalidColumnFamily
	}
	if cf.name == DefaultColumnFamilyName {
		return ErrCannotDropDefaultColumnFamily
	}
	if cf.dropped.Load() {
		return &Error{
			Kind:    KindColumnFamilyDropped,
			Message: fmt.Sprintf("rockbridge: column family %q has been dropped", cf.name),
		}
	}

	if err := db.eng.DropColumnFamily(cf.handle); err != nil {
		return translate(err)
	}

	cf.dropped.Store(true)
	delete(db.cfs, cf.name)
	db.logger.Infof("[db] dropped column family %q", cf.name)
	return nil
}

// ColumnFamily returns the handle for the named column family, or nil when
// no such family is open.
func (db *DB) ColumnFamily(name string) *ColumnFamily {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.cfs[name]
}

// DefaultColumnFamily returns the handle for the default column family.
func (db *DB) DefaultColumnFamily() *ColumnFamily {
	return db.defaultCF
}

// ColumnFamilyNames returns the names of the open column families, sorted.
func (db *DB) ColumnFamilyNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.cfs))
	for name := range db.cfs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
