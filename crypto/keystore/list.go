package keystore

import "sync"

// StoreList holds stores in registration order.
//
// Registration order is the tie-break when several stores hold a secret with
// the same public key: the first match wins.
type StoreList struct {
	mu     sync.RWMutex
	stores []SecretStore
}

// NewStoreList returns a StoreList containing stores in the given order.
func NewStoreList(stores ...SecretStore) *StoreList {
	l := &StoreList{}
	for _, s := range stores {
		l.Add(s)
	}
	return l
}

// Add appends a store. Nil stores are ignored.
func (l *StoreList) Add(store SecretStore) {
	if store == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stores = append(l.stores, store)
}

// Stores returns a snapshot of the registered stores.
func (l *StoreList) Stores() []SecretStore {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]SecretStore, len(l.stores))
	copy(out, l.stores)
	return out
}

// Lookup returns the store with the given ID.
func (l *StoreList) Lookup(id string) (SecretStore, bool) {
	for _, s := range l.Stores() {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// StoredSecret pairs a secret with the store that owns it.
type StoredSecret struct {
	Store  SecretStore
	Secret Secret
}

// AllSecrets enumerates every secret in store order, then each store's
// natural secret order.
func (l *StoreList) AllSecrets() []StoredSecret {
	var out []StoredSecret
	for _, store := range l.Stores() {
		for _, secret := range store.Secrets() {
			out = append(out, StoredSecret{Store: store, Secret: secret})
		}
	}
	return out
}
