package workflow

import "sync"

// entityLocks hands out one mutex per content id and forgets it once no
// caller holds or waits for it.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*entityLock)}
}

// lock blocks until contentID is free and returns its unlock function.
func (l *entityLocks) lock(contentID string) func() {
	l.mu.Lock()
	el, ok := l.locks[contentID]
	if !ok {
		el = &entityLock{}
		l.locks[contentID] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, contentID)
		}
		l.mu.Unlock()
	}
}
