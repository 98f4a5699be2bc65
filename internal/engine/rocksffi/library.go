//go:build darwin || linux || freebsd

package rocksffi

// library.go locates and loads the RocksDB shared library. Successful loads
// are cached by name; once mapped, a library stays mapped for the life of
// the process, as dlclose on a library with registered callbacks is not
// safe.

import (
	"os"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/aalhour/rockbridge/internal/engine"
	"github.com/aalhour/rockbridge/internal/logging"
)

// EnvLibrary names the environment variable that overrides shared library
// discovery when Config.LibraryPath is empty.
const EnvLibrary = "ROCKBRIDGE_LIBROCKSDB"

var loaded struct {
	mu   sync.Mutex
	libs map[string]*lib
}

// loadLibrary resolves the shared library, trying the explicit override
// first, then the environment, then the platform's conventional names.
func loadLibrary(override string, logger logging.Logger) (*lib, error) {
	names := candidates(override)

	loaded.mu.Lock()
	defer loaded.mu.Unlock()
	if loaded.libs == nil {
		loaded.libs = make(map[string]*lib)
	}

	var firstErr error
	for _, name := range names {
		if L, ok := loaded.libs[name]; ok {
			return L, nil
		}
		handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			logger.Debugf(logging.NSFFI+"dlopen %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		L, err := bindSymbols(handle)
		if err != nil {
			return nil, err
		}
		logger.Infof(logging.NSFFI+"loaded %s", name)
		loaded.libs[name] = L
		return L, nil
	}
	return nil, engine.Statusf(engine.CodeIOError, "load rocksdb library: %v", firstErr)
}

func candidates(override string) []string {
	if override != "" {
		return []string{override}
	}
	if env := os.Getenv(EnvLibrary); env != "" {
		return []string{env}
	}
	if runtime.GOOS == "darwin" {
		return []string{"librocksdb.dylib"}
	}
	return []string{
		"librocksdb.so",
		"librocksdb.so.10",
		"librocksdb.so.9",
		"librocksdb.so.8",
	}
}
