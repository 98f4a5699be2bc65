// registry.go holds the provider registry. Providers register themselves
// from init functions; the binding layer looks them up by the name given in
// the public Options.

package engine

import (
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Engine)
)

// Register makes a provider selectable by name. Registering two providers
// under one name is a wiring bug and panics, matching database/sql.
func Register(e Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := e.Name()
	if _, dup := registry[name]; dup {
		panic("engine: Register called twice for " + name)
	}
	registry[name] = e
}

// Lookup returns the provider registered under name.
func Lookup(name string) (Engine, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[name]
	if !ok {
		return nil, Statusf(CodeInvalidArgument, "unknown engine %q (registered: %v)", name, names())
	}
	return e, nil
}

// Names lists the registered providers in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return names()
}

func names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
