package app

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes work per transaction id inside one process.
// Entries are dropped once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key uuid.UUID) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
