package orchestrator

import "sync"

// sessionLocks hands out one mutex per session and forgets it once no
// turn holds or waits on it.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*lockEntry)}
}

func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	e, ok := l.entries[sessionID]
	if !ok {
		e = &lockEntry{}
		l.entries[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, sessionID)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
