// Package engine defines the contract between the rockbridge binding layer
// and the storage engines behind it.
//
// An Engine provider owns everything below the handle boundary: files,
// memtables, compaction, transactions, snapshots and cursors. The binding
// layer never reaches around this contract; every fallible call reports a
// *Status whose Code mirrors the native engine's status vocabulary.
//
// Providers register themselves by name in an init function and are selected
// through Options at open time. Two providers ship with the module:
//
//   - "pebble"  — pure Go, backed by github.com/cockroachdb/pebble (default)
//   - "rocksdb" — the native librocksdb loaded at runtime via purego
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/c.h (the surface this contract abstracts)
package engine

import (
	"time"

	"github.com/aalhour/rockbridge/internal/logging"
)

// Engine opens databases for one provider.
type Engine interface {
	// Name returns the registry name of the provider.
	Name() string

	// Open opens or creates the database rooted at path. The column
	// families named in cfg.ColumnFamilies are opened alongside the
	// default one; a name that does not exist yet is created only when
	// cfg.CreateMissingColumnFamilies is set.
	Open(path string, cfg *Config) (DB, error)

	// ListColumnFamilies reports the column family names of a database
	// that is not currently open.
	ListColumnFamilies(path string, cfg *Config) ([]string, error)

	// Destroy removes the database rooted at path. The database must not
	// be open.
	Destroy(path string, cfg *Config) error
}

// DB is one open database instance.
//
// Implementations must be safe for concurrent use. Get returns a
// CodeNotFound status when the key is absent; the returned value is owned by
// the caller.
type DB interface {
	Close() error

	DefaultColumnFamily() CFHandle
	ColumnFamilies() []CFHandle
	CreateColumnFamily(cfg *CFConfig) (CFHandle, error)
	DropColumnFamily(cf CFHandle) error

	Get(cf CFHandle, ro *ReadOptions, key []byte) ([]byte, error)
	Put(cf CFHandle, wo *WriteOptions, key, value []byte) error
	Delete(cf CFHandle, wo *WriteOptions, key []byte) error
	Merge(cf CFHandle, wo *WriteOptions, key, operand []byte) error

	// Write applies a batch in the RocksDB write-batch wire format
	// atomically. Column family ids inside the rep refer to handles
	// previously returned by this DB.
	Write(wo *WriteOptions, rep []byte) error

	NewSnapshot() (Snapshot, error)
	ReleaseSnapshot(s Snapshot)

	NewIterator(cf CFHandle, ro *ReadOptions) (Iterator, error)

	BeginTxn(cfg *TxnConfig) (Txn, error)

	Flush(cf CFHandle, wait bool) error
	CompactRange(cf CFHandle, start, end []byte) error
	Checkpoint(dir string) error
}

// CFHandle names one column family of an open DB.
type CFHandle interface {
	ID() uint32
	Name() string
}

// Snapshot is an opaque point-in-time read view. Snapshots are created and
// released through the DB that owns them.
type Snapshot interface {
	// Seq reports the engine's ordering point for the snapshot: writes
	// committed at or before it are visible, later ones are not.
	Seq() uint64
}

// Txn is one native transaction. A Txn is not safe for concurrent use.
//
// Commit validates and applies the transaction's writes atomically. After
// Commit or Rollback returns, the Txn must not be used again; the binding
// layer enforces this above the contract.
type Txn interface {
	Get(cf CFHandle, ro *ReadOptions, key []byte) ([]byte, error)
	GetForUpdate(cf CFHandle, ro *ReadOptions, key []byte, exclusive bool) ([]byte, error)
	Put(cf CFHandle, key, value []byte) error
	Delete(cf CFHandle, key []byte) error
	Merge(cf CFHandle, key, operand []byte) error

	NewIterator(cf CFHandle, ro *ReadOptions) (Iterator, error)

	Commit() error
	Rollback() error

	SetSavepoint()
	RollbackToSavepoint() error

	// Snapshot returns the read view fixed at begin when the transaction
	// was started with SetSnapshot, else nil.
	Snapshot() Snapshot
}

// Iterator is a native cursor. Key and Value are valid only while Valid
// reports true and only until the cursor moves; the binding layer copies.
type Iterator interface {
	SeekToFirst()
	SeekToLast()
	Seek(key []byte)
	SeekForPrev(key []byte)
	Next()
	Prev()
	Valid() bool
	Key() []byte
	Value() []byte

	// Status reports the error that stopped the cursor, or nil when every
	// position so far was read cleanly (exhaustion included).
	Status() error

	Close() error
}

// MergeOperator combines a stack of merge operands with an existing value.
// It mirrors the native engine's associative merge contract; the binding
// passes it through to providers that can host it.
type MergeOperator interface {
	Name() string

	// FullMerge combines existingValue (nil when the key had none) with
	// operands, oldest first. ok=false marks the merge as corrupted.
	FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool)

	// PartialMerge combines two adjacent operands, older left. ok=false
	// defers the pair to FullMerge.
	PartialMerge(key, leftOperand, rightOperand []byte) ([]byte, bool)
}

// Compression identifies the codec the engine compresses blocks with. The
// numbering follows the native engine; the binding performs no codec work.
type Compression int

// Compression codecs.
// Reference: include/rocksdb/compression_type.h
const (
	NoCompression     Compression = 0
	SnappyCompression Compression = 1
	ZlibCompression   Compression = 2
	BZip2Compression  Compression = 3
	LZ4Compression    Compression = 4
	LZ4HCCompression  Compression = 5
	XpressCompression Compression = 6
	ZSTDCompression   Compression = 7
)

// Config carries the open-time options a provider consumes. The binding
// layer builds it from the public Options and never mutates it afterwards.
type Config struct {
	CreateIfMissing             bool
	ErrorIfExists               bool
	CreateMissingColumnFamilies bool
	ParanoidChecks              bool

	WriteBufferSize int
	MaxOpenFiles    int
	BlockCacheSize  int64
	Compression     Compression

	// ColumnFamilies are the non-default families to open together with
	// the database. The default family is always opened.
	ColumnFamilies []CFConfig

	// Pessimistic selects write-time locking instead of commit-time
	// validation for transactions.
	Pessimistic bool

	// MergeOperator, when non-nil, is installed into providers that can
	// host host-language operators.
	MergeOperator MergeOperator

	// LibraryPath overrides shared library discovery for providers that
	// load native code.
	LibraryPath string

	Logger logging.Logger
}

// CFConfig describes one column family.
type CFConfig struct {
	Name            string
	Compression     Compression
	WriteBufferSize int
}

// ReadOptions scope a single read or cursor.
type ReadOptions struct {
	Snapshot       Snapshot
	LowerBound     []byte
	UpperBound     []byte
	FillCache      bool
	TotalOrderSeek bool
}

// WriteOptions scope a single write.
type WriteOptions struct {
	Sync       bool
	DisableWAL bool
}

// TxnConfig carries per-transaction options.
type TxnConfig struct {
	// SetSnapshot fixes the transaction's read view at begin.
	SetSnapshot bool

	// LockTimeout bounds lock waits in pessimistic mode. Zero means the
	// provider default; negative means wait forever.
	LockTimeout time.Duration

	// DeadlockDetect enables cycle detection on lock waits.
	DeadlockDetect bool
}
