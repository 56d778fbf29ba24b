package engine

import "sync"

// instanceLocks serializes graph walks per instance id. A walk reads the
// current node pointer and writes it back non-atomically, so two
// concurrent walks over the same instance would race; different instances
// proceed in parallel.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{locks: make(map[string]*refLock)}
}

// acquire blocks until the instance lock is held and returns the release
// function. The entry is dropped from the map once the last holder
// releases, keeping the map bounded by the number of in-flight walks.
func (l *instanceLocks) acquire(instanceID string) func() {
	l.mu.Lock()

	lock, ok := l.locks[instanceID]
	if !ok {
		lock = &refLock{}
		l.locks[instanceID] = lock
	}

	lock.refs++
	l.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		l.mu.Lock()
		defer l.mu.Unlock()

		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, instanceID)
		}
	}
}
