package sync

import gosync "sync"

// locker hands out one mutex per mirror id so that at most one
// create/sync/delete is in flight per mirror while different mirrors
// proceed fully in parallel. Entries are evicted when the mirror is
// deleted, so the registry doesn't grow without bound.
type locker struct {
	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

func newLocker() *locker {
	return &locker{locks: map[string]*gosync.Mutex{}}
}

// lock blocks until the mirror's mutex is held and returns the unlock
// function.
func (l *locker) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &gosync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// evict drops the mirror's mutex from the registry. The caller may still
// hold it; unlocking an evicted mutex is fine, it's just no longer
// shared with future operations.
func (l *locker) evict(id string) {
	l.mu.Lock()
	delete(l.locks, id)
	l.mu.Unlock()
}
