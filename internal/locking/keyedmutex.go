package locking

import "sync"

// KeyedMutex serializes work per string key. Locks are created on demand so
// unrelated keys never contend; the registry lock is only held during lookup.
// It backs the at-most-one-in-flight rules: one reconciliation per
// (device, employee) and one submission per (employee, shift date).
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
