package dispatch

import "sync"

// keyedMutex hands out one mutex per key and forgets it once nobody holds or
// waits on it
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// agencyLocks hands out one RWMutex per agency. Agencies are few and long
// lived, so entries are never dropped.
type agencyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newAgencyLocks() *agencyLocks {
	return &agencyLocks{locks: make(map[string]*sync.RWMutex)}
}

func (a *agencyLocks) get(agencyID string) *sync.RWMutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[agencyID]
	if !ok {
		l = &sync.RWMutex{}
		a.locks[agencyID] = l
	}
	return l
}
