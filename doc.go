/*
Package rockbridge provides a memory-safe Go binding to an embedded
transactional key/value storage engine with RocksDB semantics.

The binding wraps engine resources in Go handles that enforce the native
lifecycle rules: every native object is destroyed exactly once, parents
refuse to close while derived handles are live, and a handle used after its
resource is gone fails with an error instead of invoking undefined native
behavior. Engine status codes surface as structured errors with a stable
Kind, so callers dispatch on error kind rather than message text.

Two engine providers ship with the module and are selected through
Options.Engine:

  - "pebble" (default) runs on github.com/cockroachdb/pebble with no cgo
    and no native library.
  - "rocksdb" loads librocksdb's C API at runtime and drives the native
    engine.

# Usage

	db, err := rockbridge.Open(path, &rockbridge.Options{CreateIfMissing: true})
	if err != nil {
		// ...
	}
	defer db.Close()

	txn := db.BeginTransaction(&rockbridge.TransactionOptions{SetSnapshot: true})
	if err := txn.Put([]byte("key"), []byte("value")); err != nil {
		// ...
	}
	if err := txn.Commit(); err != nil {
		// a Busy or Aborted kind means a concurrent writer won; roll back
		// and retry
	}

For runnable examples, see the repository's examples directory.

# Concurrency

A DB instance is safe for concurrent use by multiple goroutines. Individual
Transaction, Iterator and WriteBatch instances are not; each goroutine
should use its own.

Reference: RocksDB v10.7.5 include/rocksdb/c.h
*/
package rockbridge
