// Package services – keyed mutex
//
// The card-set repository's upsert is read-then-write, so two workers saving
// the same (chat_id, set_name) concurrently could lose an update. Every
// weight- or membership-changing path in this package therefore runs under a
// per-key lock from a shared KeyMutex. Locks are created on demand and idle
// entries are evicted opportunistically to bound memory, the same discipline
// the HTTP rate limiter applies to its per-identity buckets.
package services

import (
	"sync"
	"time"
)

// keyLock holds one mutex and the last time it was acquired.
type keyLock struct {
	mu       sync.Mutex
	lastSeen time.Time
}

// KeyMutex provides named mutual exclusion. It is safe for concurrent use;
// the zero value is not usable, construct with NewKeyMutex.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock

	ttl        time.Duration
	sweepN     uint64
	sweepEvery uint64
}

// NewKeyMutex returns a KeyMutex that evicts lock entries idle for longer
// than one hour, sweeping at most once every 256 acquisitions.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{
		locks:      make(map[string]*keyLock),
		ttl:        time.Hour,
		sweepEvery: 256,
	}
}

// Lock acquires the mutex for key, creating it if needed, and returns the
// matching unlock function.
func (k *KeyMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.lastSeen = time.Now()
	k.sweepN++
	if k.sweepN%k.sweepEvery == 0 {
		k.sweepLocked()
	}
	k.mu.Unlock()

	l.mu.Lock()
	return l.mu.Unlock
}

// sweepLocked drops idle entries. Caller holds k.mu. An entry whose mutex is
// currently held also has a fresh lastSeen, so held locks are never evicted.
func (k *KeyMutex) sweepLocked() {
	cutoff := time.Now().Add(-k.ttl)
	for key, l := range k.locks {
		if l.lastSeen.Before(cutoff) {
			delete(k.locks, key)
		}
	}
}
