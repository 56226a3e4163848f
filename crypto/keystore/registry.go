package keystore

import (
	"fmt"
	"sort"
	"sync"
)

// StoreFactory is a function that creates a new SecretStore instance.
//
// Factory functions are registered with RegisterStore and are called when a
// store of that kind is configured.
type StoreFactory func(opts Options) (SecretStore, error)

var (
	// registry stores factories by store kind
	registry = make(map[string]StoreFactory)
	// registryMu protects concurrent access to the registry
	registryMu sync.RWMutex
)

// RegisterStore registers a store factory for a given kind identifier.
//
// This should be called from init() functions in backend implementations.
// The kind is the value operators put in the "kind" field of a configured
// store (e.g., "keyring", "proxy").
//
// Example:
//
//	func init() {
//	    RegisterStore("keyring", NewKeyringStoreFromOptions)
//	}
func RegisterStore(kind string, factory StoreFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// GetStoreFactory retrieves the store factory registered for kind.
//
// Returns an error if no factory is registered for the kind.
func GetStoreFactory(kind string) (StoreFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("no store factory registered for kind: %s", kind)
	}
	return factory, nil
}

// ListRegisteredKinds returns all registered store kinds, sorted.
func ListRegisteredKinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
