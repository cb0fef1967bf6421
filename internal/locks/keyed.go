// Package locks provides per-key mutexes for single-writer discipline:
// one writer per wallet in the Ledger, one writer per event across matching,
// cancellation, and settlement. Single-instance scope; for horizontal scaling,
// replace with distributed locking or database-level serializable transactions.
package locks

import "sync"

// KeyedMutex provides an independent mutex per string key. Locks are created
// on first use and retained for the life of the process; the key space
// (wallets, events) is small enough that this never needs eviction.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, blocking until it is available.
func (k *KeyedMutex) Lock(key string) {
	k.get(key).Lock()
}

// Unlock releases the mutex for key.
func (k *KeyedMutex) Unlock(key string) {
	k.get(key).Unlock()
}

func (k *KeyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
