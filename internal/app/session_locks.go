package app

import "sync"

// sessionLocks serializes transitions on the same session code within this
// process. The store's compare-and-swap still arbitrates between processes.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*codeLock
}

type codeLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*codeLock)}
}

// lock blocks until code is free and returns the matching unlock.
func (l *sessionLocks) lock(code string) func() {
	l.mu.Lock()
	cl, ok := l.locks[code]
	if !ok {
		cl = &codeLock{}
		l.locks[code] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, code)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
