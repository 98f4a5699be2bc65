//go:build darwin || linux || freebsd

// Package rocksffi provides the "rocksdb" engine: the production RocksDB
// shared library loaded at runtime through its C API (rocksdb/c.h) with
// purego, no cgo involved.
//
// The library is resolved from Config.LibraryPath, then the
// ROCKBRIDGE_LIBROCKSDB environment variable, then the platform's
// conventional sonames. Databases open as a TransactionDB (pessimistic) or
// an OptimisticTransactionDB, so every handle supports transactions.
//
// Host merge operators cannot cross the FFI boundary; opening with one
// configured fails with NotSupported. Merge still works against operators
// compiled into the native library.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/c.h
//   - utilities/transactions/transaction_db.h
package rocksffi

import (
	"runtime"
	"unsafe"

	"github.com/aalhour/rockbridge/internal/engine"
	"github.com/aalhour/rockbridge/internal/logging"
)

// EngineName is the registry name of this provider.
const EngineName = "rocksdb"

const defaultCFName = "default"

func init() {
	engine.Register(provider{})
}

type provider struct{}

func (provider) Name() string { return EngineName }

func (provider) Open(path string, cfg *engine.Config) (engine.DB, error) {
	logger := logging.OrDefault(cfg.Logger)
	if cfg.MergeOperator != nil {
		return nil, engine.Statusf(engine.CodeNotSupported,
			"host merge operators cannot cross the FFI boundary; use the pebble engine")
	}
	L, err := loadLibrary(cfg.LibraryPath, logger)
	if err != nil {
		return nil, err
	}

	set := L.buildOptions(cfg)
	defer set.destroy()

	names := make([]string, 0, len(cfg.ColumnFamilies)+1)
	names = append(names, defaultCFName)
	cfOpts := make([]uintptr, 0, len(cfg.ColumnFamilies)+1)
	cfOpts = append(cfOpts, set.opts)
	for _, cf := range cfg.ColumnFamilies {
		names = append(names, cf.Name)
		cfOpts = append(cfOpts, set.cfOptions(cfg, cf))
	}

	handles := make([]uintptr, len(names))
	bufs, ptrs := cStrings(names)

	var dbh, errp uintptr
	if cfg.Pessimistic {
		tdbo := L.tdbOptionsCreate()
		dbh = L.tdbOpenColumnFamilies(set.opts, tdbo, path, int32(len(names)), ptrs, cfOpts, handles, &errp)
		L.tdbOptionsDestroy(tdbo)
	} else {
		dbh = L.odbOpenColumnFamilies(set.opts, path, int32(len(names)), ptrs, cfOpts, handles, &errp)
	}
	runtime.KeepAlive(bufs)
	if st := L.errStatus(errp); st != nil {
		return nil, st
	}

	d := &rdb{
		L:           L,
		logger:      logger,
		path:        path,
		pessimistic: cfg.Pessimistic,
		byName:      make(map[string]*cfHandle, len(names)),
		byID:        make(map[uint32]*cfHandle, len(names)),
	}
	if cfg.Pessimistic {
		d.tdb = dbh
		if L.hasTdbBaseDB {
			d.base = L.tdbGetBaseDB(dbh)
		}
	} else {
		d.odb = dbh
		d.base = L.odbGetBaseDB(dbh)
	}
	for i, name := range names {
		id := uint32(i)
		if L.hasCFHandleID {
			id = L.cfHandleID(handles[i])
		}
		d.addCF(&cfHandle{ptr: handles[i], id: id, name: name})
	}
	logger.Debugf(logging.NSFFI+"opened %s (%d column families)", path, len(names))
	return d, nil
}

func (provider) ListColumnFamilies(path string, cfg *engine.Config) ([]string, error) {
	L, err := loadLibrary(cfg.LibraryPath, logging.OrDefault(cfg.Logger))
	if err != nil {
		return nil, err
	}
	opts := L.optionsCreate()
	defer L.optionsDestroy(opts)

	var n, errp uintptr
	list := L.listColumnFamilies(opts, path, &n, &errp)
	if st := L.errStatus(errp); st != nil {
		return nil, st
	}
	names := make([]string, 0, n)
	for i := uintptr(0); i < n; i++ {
		p := *(*uintptr)(unsafe.Pointer(list + i*unsafe.Sizeof(uintptr(0))))
		names = append(names, goString(p))
	}
	L.listColumnFamiliesFree(list, n)
	return names, nil
}

func (provider) Destroy(path string, cfg *engine.Config) error {
	L, err := loadLibrary(cfg.LibraryPath, logging.OrDefault(cfg.Logger))
	if err != nil {
		return err
	}
	opts := L.optionsCreate()
	defer L.optionsDestroy(opts)

	var errp uintptr
	L.destroyDB(opts, path, &errp)
	if st := L.errStatus(errp); st != nil {
		return st
	}
	return nil
}

// optSet tracks the native option objects built for one Open call. All of
// them can be destroyed once the database is open; the native side copies
// what it keeps.
type optSet struct {
	L     *lib
	opts  uintptr
	bbto  uintptr
	cache uintptr
	extra []uintptr
}

func (L *lib) buildOptions(cfg *engine.Config) *optSet {
	s := &optSet{L: L, opts: L.optionsCreate()}
	L.optionsSetCreateIfMissing(s.opts, cfg.CreateIfMissing)
	L.optionsSetErrorIfExists(s.opts, cfg.ErrorIfExists)
	L.optionsSetCreateMissingCFs(s.opts, cfg.CreateMissingColumnFamilies)
	L.optionsSetParanoidChecks(s.opts, cfg.ParanoidChecks)
	L.optionsSetCompression(s.opts, int32(cfg.Compression))
	if cfg.WriteBufferSize > 0 {
		L.optionsSetWriteBufferSize(s.opts, uintptr(cfg.WriteBufferSize))
	}
	if cfg.MaxOpenFiles > 0 {
		L.optionsSetMaxOpenFiles(s.opts, int32(cfg.MaxOpenFiles))
	}
	if cfg.BlockCacheSize > 0 {
		s.cache = L.cacheCreateLRU(uintptr(cfg.BlockCacheSize))
		s.bbto = L.blockBasedOptionsCreate()
		L.blockBasedOptionsSetBlockCache(s.bbto, s.cache)
		L.optionsSetBlockBasedTableFactory(s.opts, s.bbto)
	}
	return s
}

// cfOptions builds the per-family options object for one requested column
// family, inheriting the database-wide knobs it does not override.
func (s *optSet) cfOptions(cfg *engine.Config, cf engine.CFConfig) uintptr {
	o := s.L.optionsCreate()
	s.L.optionsSetCompression(o, int32(cf.Compression))
	switch {
	case cf.WriteBufferSize > 0:
		s.L.optionsSetWriteBufferSize(o, uintptr(cf.WriteBufferSize))
	case cfg.WriteBufferSize > 0:
		s.L.optionsSetWriteBufferSize(o, uintptr(cfg.WriteBufferSize))
	}
	if s.bbto != 0 {
		s.L.optionsSetBlockBasedTableFactory(o, s.bbto)
	}
	s.extra = append(s.extra, o)
	return o
}

func (s *optSet) destroy() {
	for _, o := range s.extra {
		s.L.optionsDestroy(o)
	}
	if s.bbto != 0 {
		s.L.blockBasedOptionsDestroy(s.bbto)
	}
	if s.cache != 0 {
		s.L.cacheDestroy(s.cache)
	}
	s.L.optionsDestroy(s.opts)
}

// cStrings builds NUL-terminated copies of names and the pointer array a
// char** parameter expects. The returned buffers must be kept alive across
// the native call.
func cStrings(names []string) (bufs [][]byte, ptrs []uintptr) {
	bufs = make([][]byte, len(names))
	ptrs = make([]uintptr, len(names))
	for i, s := range names {
		b := append([]byte(s), 0)
		bufs[i] = b
		ptrs[i] = uintptr(unsafe.Pointer(&b[0]))
	}
	return bufs, ptrs
}
