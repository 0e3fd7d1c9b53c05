package jobs

import "sync"

// PrefixLocker serializes work per artifact prefix within one process.
// Different prefixes proceed in parallel.
type PrefixLocker struct {
	mu    sync.Mutex
	locks map[string]*prefixLock
}

type prefixLock struct {
	mu   sync.Mutex
	refs int
}

func NewPrefixLocker() *PrefixLocker {
	return &PrefixLocker{locks: make(map[string]*prefixLock)}
}

// Lock blocks until prefix is free and returns the function that releases it.
func (l *PrefixLocker) Lock(prefix string) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.locks[prefix]
	if !ok {
		pl = &prefixLock{}
		l.locks[prefix] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, prefix)
		}
		l.mu.Unlock()
	}
}
