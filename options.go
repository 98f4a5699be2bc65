package rockbridge

// options.go implements the option structs passed through to the engine.
//
// The binding validates nothing it can pass through: options travel to the
// engine provider as-is and come back as InvalidArgument status when the
// engine rejects them.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/options.h
//   - include/rocksdb/utilities/transaction_db.h

import (
	"time"

	"github.com/aalhour/rockbridge/internal/engine"
	"github.com/aalhour/rockbridge/internal/logging"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// CompressionType identifies the codec the engine compresses blocks with.
// The binding passes the identifier through and performs no codec work.
type CompressionType int

// Compression codecs, numbered like the native engine.
const (
	NoCompression     CompressionType = 0
	SnappyCompression CompressionType = 1
	ZlibCompression   CompressionType = 2
	BZip2Compression  CompressionType = 3
	LZ4Compression    CompressionType = 4
	LZ4HCCompression  CompressionType = 5
	XpressCompression CompressionType = 6
	ZSTDCompression   CompressionType = 7
)

// String returns a string representation of the compression type.
func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case ZlibCompression:
		return "zlib"
	case BZip2Compression:
		return "bzip2"
	case LZ4Compression:
		return "lz4"
	case LZ4HCCompression:
		return "lz4hc"
	case XpressCompression:
		return "xpress"
	case ZSTDCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

// TransactionMode selects how write conflicts between concurrent
// transactions are handled.
type TransactionMode int

const (
	// OptimisticTransactions validate at commit time: the later committer
	// of a conflicting key fails with a Busy-kind error.
	OptimisticTransactions TransactionMode = iota

	// PessimisticTransactions lock keys at write time: a conflicting
	// writer blocks until the lock frees or LockTimeout expires with a
	// TimedOut-kind error.
	PessimisticTransactions
)

// String returns a string representation of the transaction mode.
func (m TransactionMode) String() string {
	switch m {
	case OptimisticTransactions:
		return "optimistic"
	case PessimisticTransactions:
		return "pessimistic"
	default:
		return "unknown"
	}
}

// Options control how a database is opened.
type Options struct {
	// Engine names the storage engine provider. Empty selects "pebble",
	// the pure-Go engine. "rocksdb" loads the native library through the
	// foreign-function bridge.
	Engine string

	// CreateIfMissing causes Open to create the database if it does not
	// exist.
	CreateIfMissing bool

	// ErrorIfExists causes Open to fail if the database already exists.
	ErrorIfExists bool

	// CreateMissingColumnFamilies causes OpenColumnFamilies to create
	// the column families that do not exist yet.
	CreateMissingColumnFamilies bool

	// ParanoidChecks makes the engine verify checksums aggressively.
	ParanoidChecks bool

	// WriteBufferSize is the amount of data buffered in memory before
	// flushing, in bytes. Zero keeps the engine default.
	WriteBufferSize int

	// MaxOpenFiles caps the engine's open file descriptors. Zero keeps
	// the engine default.
	MaxOpenFiles int

	// BlockCacheSize is the block cache capacity in bytes. Zero keeps
	// the engine default.
	BlockCacheSize int64

	// Compression selects the block codec identifier passed to the
	// engine.
	Compression CompressionType

	// TransactionMode selects optimistic (default) or pessimistic
	// conflict handling for this database's transactions.
	TransactionMode TransactionMode

	// MergeOperator resolves Merge operations. Providers that cannot
	// host host-language operators reject a non-nil value at open.
	MergeOperator MergeOperator

	// LibraryPath overrides shared library discovery for the native
	// provider. Empty falls back to $ROCKBRIDGE_LIBROCKSDB and then the
	// platform default names.
	LibraryPath string

	// Logger receives the binding's log output. Nil uses a WARN-level
	// default writing to stderr.
	Logger Logger
}

// DefaultOptions returns Options matching the native engine's defaults.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing: false,
		Compression:     SnappyCompression,
		TransactionMode: OptimisticTransactions,
	}
}

// ColumnFamilyOptions control a single column family.
type ColumnFamilyOptions struct {
	// Compression selects the block codec for this family.
	Compression CompressionType

	// WriteBufferSize overrides the database-wide write buffer for this
	// family. Zero keeps the database setting.
	WriteBufferSize int
}

// DefaultColumnFamilyOptions returns the default per-family options.
func DefaultColumnFamilyOptions() *ColumnFamilyOptions {
	return &ColumnFamilyOptions{
		Compression: SnappyCompression,
	}
}

// ReadOptions scope a single read or iterator.
type ReadOptions struct {
	// Snapshot pins the read to a point-in-time view. Nil reads the
	// latest committed state.
	Snapshot *Snapshot

	// IterateLowerBound bounds iterators to keys >= the bound.
	IterateLowerBound []byte

	// IterateUpperBound bounds iterators to keys < the bound.
	IterateUpperBound []byte

	// FillCache controls whether blocks read are admitted to the block
	// cache.
	FillCache bool

	// TotalOrderSeek forces iterators into total key order even when the
	// engine is configured with prefix-based seeks.
	TotalOrderSeek bool
}

// DefaultReadOptions returns the default read options.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{
		FillCache: true,
	}
}

// WriteOptions scope a single write.
type WriteOptions struct {
	// Sync makes the write wait for durable storage before returning.
	Sync bool

	// DisableWAL skips the write-ahead log. Unflushed writes may be lost
	// on crash.
	DisableWAL bool
}

// DefaultWriteOptions returns the default write options.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{}
}

// FlushOptions control manual memtable flushes.
type FlushOptions struct {
	// Wait blocks until the flush completes.
	Wait bool
}

// DefaultFlushOptions returns the default flush options.
func DefaultFlushOptions() *FlushOptions {
	return &FlushOptions{
		Wait: true,
	}
}

// TransactionOptions control a single transaction.
type TransactionOptions struct {
	// SetSnapshot fixes the transaction's read view at begin, giving
	// repeatable reads for the transaction's lifetime.
	SetSnapshot bool

	// LockTimeout bounds lock waits in pessimistic mode. Zero uses the
	// engine default; negative waits forever.
	LockTimeout time.Duration

	// DeadlockDetect enables cycle detection on lock waits in
	// pessimistic mode.
	DeadlockDetect bool
}

// DefaultTransactionOptions returns the default transaction options.
func DefaultTransactionOptions() *TransactionOptions {
	return &TransactionOptions{}
}

func (o *Options) engineConfig() *engine.Config {
	return &engine.Config{
		CreateIfMissing:             o.CreateIfMissing,
		ErrorIfExists:               o.ErrorIfExists,
		CreateMissingColumnFamilies: o.CreateMissingColumnFamilies,
		ParanoidChecks:              o.ParanoidChecks,
		WriteBufferSize:             o.WriteBufferSize,
		MaxOpenFiles:                o.MaxOpenFiles,
		BlockCacheSize:              o.BlockCacheSize,
		Compression:                 engine.Compression(o.Compression),
		Pessimistic:                 o.TransactionMode == PessimisticTransactions,
		MergeOperator:               o.MergeOperator,
		LibraryPath:                 o.LibraryPath,
		Logger:                      logging.OrDefault(o.Logger),
	}
}

func (cfo *ColumnFamilyOptions) engineCFConfig(name string) engine.CFConfig {
	if cfo == nil {
		cfo = DefaultColumnFamilyOptions()
	}
	return engine.CFConfig{
		Name:            name,
		Compression:     engine.Compression(cfo.Compression),
		WriteBufferSize: cfo.WriteBufferSize,
	}
}

// engineReadOptions converts public read options, verifying any snapshot
// reference is still live.
func (ro *ReadOptions) engineReadOptions() (*engine.ReadOptions, error) {
	if ro == nil {
		ro = DefaultReadOptions()
	}
	ero := &engine.ReadOptions{
		LowerBound:     ro.IterateLowerBound,
		UpperBound:     ro.IterateUpperBound,
		FillCache:      ro.FillCache,
		TotalOrderSeek: ro.TotalOrderSeek,
	}
	if ro.Snapshot != nil {
		es, err := ro.Snapshot.engineSnapshot()
		if err != nil {
			return nil, err
		}
		ero.Snapshot = es
	}
	return ero, nil
}

func (wo *WriteOptions) engineWriteOptions() *engine.WriteOptions {
	if wo == nil {
		wo = DefaultWriteOptions()
	}
	return &engine.WriteOptions{
		Sync:       wo.Sync,
		DisableWAL: wo.DisableWAL,
	}
}

func (to *TransactionOptions) engineTxnConfig() *engine.TxnConfig {
	if to == nil {
		to = DefaultTransactionOptions()
	}
	return &engine.TxnConfig{
		SetSnapshot:    to.SetSnapshot,
		LockTimeout:    to.LockTimeout,
		DeadlockDetect: to.DeadlockDetect,
	}
}
