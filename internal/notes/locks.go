package notes

import "sync"

// noteLocks hands out one mutex per (user, path) so conflicting writes to
// the same note serialize. Entries are created on demand and kept; the
// working set is bounded by the per-user note quota.
type noteLocks struct {
	mu sync.Mutex
	m  map[noteKey]*sync.Mutex
}

type noteKey struct {
	userID   string
	notePath string
}

func newNoteLocks() *noteLocks {
	return &noteLocks{m: map[noteKey]*sync.Mutex{}}
}

func (nl *noteLocks) get(userID, notePath string) *sync.Mutex {
	key := noteKey{userID, notePath}
	nl.mu.Lock()
	defer nl.mu.Unlock()
	l, ok := nl.m[key]
	if !ok {
		l = &sync.Mutex{}
		nl.m[key] = l
	}
	return l
}

// lockPair acquires both note locks in a stable order so concurrent moves
// touching the same two paths cannot deadlock.
func (nl *noteLocks) lockPair(userID, a, b string) func() {
	la, lb := nl.get(userID, a), nl.get(userID, b)
	if la == lb {
		la.Lock()
		return la.Unlock
	}
	if b < a {
		la, lb = lb, la
	}
	la.Lock()
	lb.Lock()
	return func() {
		lb.Unlock()
		la.Unlock()
	}
}

// rebuildLocks holds one RWMutex per user. A full rebuild takes the write
// side; incremental index updates take the read side, so they wait for a
// rebuild in flight and rebuilds wait for in-flight writes.
type rebuildLocks struct {
	mu sync.Mutex
	m  map[string]*sync.RWMutex
}

func newRebuildLocks() *rebuildLocks {
	return &rebuildLocks{m: map[string]*sync.RWMutex{}}
}

func (rl *rebuildLocks) get(userID string) *sync.RWMutex {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.m[userID]
	if !ok {
		l = &sync.RWMutex{}
		rl.m[userID] = l
	}
	return l
}
