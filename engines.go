package rockbridge

// engines.go links in the engine providers shipped with the module. Each
// provider registers itself by name in an init function; Options.Engine
// selects one at open time.

import (
	"github.com/aalhour/rockbridge/internal/engine"
	_ "github.com/aalhour/rockbridge/internal/engine/pebbleng"
	_ "github.com/aalhour/rockbridge/internal/engine/rocksffi"
)

// Engine provider names accepted in Options.Engine.
const (
	// EnginePebble is the pure-Go engine backed by cockroachdb/pebble.
	EnginePebble = "pebble"

	// EngineRocksDB drives a native librocksdb loaded at runtime.
	EngineRocksDB = "rocksdb"
)

// Engines returns the names of the registered engine providers, sorted.
func Engines() []string {
	return engine.Names()
}
