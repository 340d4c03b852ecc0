package session

import "sync"

// lockRegistry hands out per-session mutexes so a query's user and
// assistant appends commit as an adjacent pair even under concurrent
// requests for the same session. Entries are refcounted and removed
// when the last holder releases, keeping the map bounded.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session lock is held and returns the
// release function.
func (r *lockRegistry) acquire(sessionID string) func() {
	r.mu.Lock()
	lock, ok := r.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		r.locks[sessionID] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, sessionID)
		}
		r.mu.Unlock()
	}
}
