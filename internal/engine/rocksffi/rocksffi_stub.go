//go:build !(darwin || linux || freebsd)

// Package rocksffi provides the "rocksdb" engine. On platforms without
// dynamic library loading the provider still registers, so engine listings
// stay uniform, but every operation fails with NotSupported.
package rocksffi

import (
	"runtime"

	"github.com/aalhour/rockbridge/internal/engine"
)

// EngineName is the registry name of this provider.
const EngineName = "rocksdb"

// EnvLibrary names the environment variable that overrides shared library
// discovery when Config.LibraryPath is empty.
const EnvLibrary = "ROCKBRIDGE_LIBROCKSDB"

func init() {
	engine.Register(provider{})
}

type provider struct{}

func (provider) Name() string { return EngineName }

func (provider) Open(string, *engine.Config) (engine.DB, error) {
	return nil, errUnsupported()
}

func (provider) ListColumnFamilies(string, *engine.Config) ([]string, error) {
	return nil, errUnsupported()
}

func (provider) Destroy(string, *engine.Config) error {
	return errUnsupported()
}

func errUnsupported() error {
	return engine.Statusf(engine.CodeNotSupported,
		"the rocksdb engine needs dynamic library loading, unavailable on %s", runtime.GOOS)
}
