package detector

import (
	"sync"

	"stockwatch/internal/inventory"
)

// keyLocks serializes read-classify-write cycles per item key within the
// process, entries are dropped once nobody holds or waits on them.
type keyLocks struct {
	mu      sync.Mutex
	entries map[inventory.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{entries: map[inventory.Key]*keyLock{}}
}

func (l *keyLocks) lock(key inventory.Key) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyLock{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
