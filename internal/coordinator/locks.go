package coordinator

import "sync"

// lockTable hands out one mutex per fingerprint so unrelated searches never
// serialize against each other. Entries are reference-counted and reclaimed
// as soon as the last holder or waiter releases.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*fpLock
}

type fpLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*fpLock)}
}

// acquire blocks until the fingerprint's lock is held and returns the
// release function.
func (t *lockTable) acquire(fingerprint string) func() {
	t.mu.Lock()
	l, ok := t.locks[fingerprint]
	if !ok {
		l = &fpLock{}
		t.locks[fingerprint] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, fingerprint)
		}
		t.mu.Unlock()
	}
}

// locked reports whether any fetch currently holds (or waits on) the
// fingerprint's lock. The sweeper uses this to skip in-flight fingerprints.
func (t *lockTable) locked(fingerprint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.locks[fingerprint]
	return ok
}
