package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// LoaderFactory is a function that creates a new Loader instance.
//
// Factory functions are registered with RegisterLoader and are called when
// a policy of that kind needs to be loaded.
type LoaderFactory func() (Loader, error)

var (
	// loaderRegistry stores loader factories by policy kind
	loaderRegistry = make(map[string]LoaderFactory)
	// loaderRegistryMu protects concurrent access to the registry
	loaderRegistryMu sync.RWMutex
)

// RegisterLoader registers a loader factory for a policy kind.
//
// This should be called from init() functions in loader implementations.
// The kind is the name used in the witness policy configuration,
// such as "wasm". Registering a kind twice replaces the earlier factory.
//
// Example:
//
//	func init() {
//	    RegisterLoader("rego", func() (Loader, error) {
//	        return NewRegoLoader()
//	    })
//	}
func RegisterLoader(kind string, factory LoaderFactory) {
	loaderRegistryMu.Lock()
	defer loaderRegistryMu.Unlock()
	loaderRegistry[kind] = factory
}

// GetLoaderFactory retrieves the loader factory for a policy kind.
//
// Returns an error if no factory is registered for the kind.
// LoadPolicy uses it to find the appropriate loader.
func GetLoaderFactory(kind string) (LoaderFactory, error) {
	loaderRegistryMu.RLock()
	defer loaderRegistryMu.RUnlock()
	factory, ok := loaderRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("no loader registered for policy kind: %s", kind)
	}
	return factory, nil
}

// ListRegisteredKinds returns the registered policy kinds in sorted
// order. Configuration validation uses it to reject unknown kinds.
func ListRegisteredKinds() []string {
	loaderRegistryMu.RLock()
	defer loaderRegistryMu.RUnlock()
	kinds := make([]string, 0, len(loaderRegistry))
	for kind := range loaderRegistry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

