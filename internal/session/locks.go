// ABOUTME: Keyed mutex map serializing all operations on one owner's session
// ABOUTME: Locks are created on demand and reclaimed when the last holder releases

package session

import "sync"

// ownerLock is one owner's mutex plus a count of goroutines holding or
// waiting on it, so the entry can be dropped once nobody needs it.
type ownerLock struct {
	mu   sync.Mutex
	refs int
}

// KeyedLocks provides per-owner mutual exclusion. Operations for the same
// owner are strictly serialized; different owners never contend.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

// NewKeyedLocks creates an empty lock map.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*ownerLock)}
}

// Acquire blocks until the caller holds the lock for key and returns the
// release function. The release function must be called exactly once.
func (k *KeyedLocks) Acquire(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &ownerLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len reports how many owners currently have a live lock entry.
func (k *KeyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
